// Package tacplus implements the client side of the TACACS+ protocol:
// the wire codec, the MD5 obfuscation stream and the blocking session
// engine that drives authentication, authorization and accounting
// exchanges over a TCP connection.
package tacplus

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"
)

const (
	verMajor    = 0xc               // protocol major version
	verDefault  = verMajor<<4 | 0x0 // minor version zero
	verMinorOne = verMajor<<4 | 0x1 // minor version one

	hdrLen     = 12
	maxBodyLen = 64 << 10 // implementation bound on packet bodies

	// header field offsets
	hdrVer     = 0
	hdrType    = 1
	hdrSeqNo   = 2
	hdrFlags   = 3
	hdrID      = 4
	hdrBodyLen = 8

	// header flags
	hdrFlagUnencrypted = 0x01
)

// DefaultTimeout is the per-I/O deadline used when a session config
// does not set one.
const DefaultTimeout = 5 * time.Second

var (
	// ErrShortHeader is returned when the connection delivers fewer
	// than the 12 header bytes.
	ErrShortHeader = errors.New("tacplus: short packet header")

	// ErrShortBody is returned when the connection closes before the
	// advertised body length arrives.
	ErrShortBody = errors.New("tacplus: short packet body")

	// ErrReadTimeout is returned when a read deadline expires.
	ErrReadTimeout = errors.New("tacplus: read timeout")

	// ErrWrite is returned when a packet cannot be written in full.
	ErrWrite = errors.New("tacplus: write failed")

	// ErrSessionOverflow is returned when a session would exceed 255
	// packets. Sequence numbers never wrap.
	ErrSessionOverflow = errors.New("tacplus: session sequence number overflow")

	// ErrAssembly is returned when the local encoder produces a packet
	// that violates the protocol bounds. It is fatal to the call and
	// never retried against another server.
	ErrAssembly = errors.New("tacplus: assembled packet exceeds protocol bounds")
)

// SessionConfig carries the per-server parameters of a session.
type SessionConfig struct {
	Secret  []byte        // shared secret; empty selects the unencrypted-body flag
	Timeout time.Duration // deadline covering connect and each read or write

	// Optional function to log wire-level diagnostics.
	Log func(v ...interface{})
}

func (c *SessionConfig) log(v ...interface{}) {
	if c.Log != nil {
		c.Log(v...)
	}
}

func (c *SessionConfig) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// A session owns one TACACS+ exchange on one TCP connection. The
// session id is drawn at construction and stamped into every packet;
// the sequence number starts at one and advances by one for every
// packet sent or received. A session is single-threaded.
type session struct {
	nc    net.Conn
	cfg   SessionConfig
	ptype uint8  // packet type for every packet of this session
	ver   uint8  // version byte for every packet of this session
	id    uint32 // session id
	seq   uint8  // sequence number of the next packet in either direction
}

func dialer(cfg SessionConfig) net.Dialer {
	return net.Dialer{Timeout: cfg.timeout()}
}

// dialSession connects to addr and prepares a session of the given
// packet type and version. The configured timeout bounds the
// connection attempt.
func dialSession(ctx context.Context, addr string, ptype, ver uint8, cfg SessionConfig) (*session, error) {
	d := dialer(cfg)
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		nc.Close()
		return nil, err
	}
	return &session{
		nc:    nc,
		cfg:   cfg,
		ptype: ptype,
		ver:   ver,
		id:    binary.BigEndian.Uint32(b[:]),
		seq:   1,
	}, nil
}

func (s *session) close() {
	s.nc.Close()
}

// send marshals the body into a packet carrying the current sequence
// number, obfuscates it and writes it to the connection.
func (s *session) send(b body) error {
	if s.seq == 0 {
		return ErrSessionOverflow
	}
	p := make([]byte, hdrLen, 256)
	p[hdrVer] = s.ver
	p[hdrType] = s.ptype
	p[hdrSeqNo] = s.seq
	binary.BigEndian.PutUint32(p[hdrID:], s.id)

	p, err := b.marshal(p)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAssembly, err)
	}
	if len(p)-hdrLen > maxBodyLen {
		return ErrAssembly
	}
	binary.BigEndian.PutUint32(p[hdrBodyLen:], uint32(len(p)-hdrLen))
	if len(s.cfg.Secret) > 0 {
		crypt(p, s.cfg.Secret)
	} else {
		p[hdrFlags] |= hdrFlagUnencrypted
	}

	if err := s.nc.SetWriteDeadline(time.Now().Add(s.cfg.timeout())); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if _, err := s.nc.Write(p); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	s.seq++ // wraps to 0 after 255, making further sends fail
	return nil
}

// recv reads the next packet, validates its header against the session
// state, recovers the plaintext body and unmarshals it into b.
func (s *session) recv(b body) error {
	if s.seq == 0 {
		return ErrSessionOverflow
	}
	h := make([]byte, hdrLen)
	if err := s.readFull(h, ErrShortHeader); err != nil {
		return err
	}
	if h[hdrVer]>>4 != verMajor {
		return fmt.Errorf("%w: unsupported major version %d", ErrProtocol, h[hdrVer]>>4)
	}
	if h[hdrType] != s.ptype {
		return fmt.Errorf("%w: unexpected packet type %d", ErrProtocol, h[hdrType])
	}
	if id := binary.BigEndian.Uint32(h[hdrID:]); id != s.id {
		return fmt.Errorf("%w: session id mismatch", ErrProtocol)
	}
	if h[hdrSeqNo] != s.seq {
		return fmt.Errorf("%w: expected sequence %d, got %d", ErrProtocol, s.seq, h[hdrSeqNo])
	}
	if h[hdrSeqNo]&0x1 != 0 {
		// server packets carry even sequence numbers
		return fmt.Errorf("%w: sequence parity", ErrProtocol)
	}
	bodyLen := binary.BigEndian.Uint32(h[hdrBodyLen:])
	if bodyLen > maxBodyLen {
		return fmt.Errorf("%w: body length %d exceeds limit", ErrProtocol, bodyLen)
	}

	p := append(h, make([]byte, bodyLen)...)
	if err := s.readFull(p[hdrLen:], ErrShortBody); err != nil {
		return err
	}
	if len(s.cfg.Secret) > 0 && h[hdrFlags]&hdrFlagUnencrypted == 0 {
		crypt(p, s.cfg.Secret)
	}
	if err := b.unmarshal(p[hdrLen:]); err != nil {
		return err
	}
	s.seq++
	return nil
}

// readFull reads exactly len(buf) bytes under the configured deadline,
// retrying partial reads across TCP segments. A connection that closes
// early fails with short; an expired deadline with ErrReadTimeout.
func (s *session) readFull(buf []byte, short error) error {
	if err := s.nc.SetReadDeadline(time.Now().Add(s.cfg.timeout())); err != nil {
		return fmt.Errorf("%w: %v", short, err)
	}
	n := 0
	for n < len(buf) {
		nn, err := s.nc.Read(buf[n:])
		n += nn
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return ErrReadTimeout
			}
			return fmt.Errorf("%w: %d of %d bytes", short, n, len(buf))
		}
	}
	return nil
}
