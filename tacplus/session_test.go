package tacplus

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/tacpam/tacpam/internal/tactest"
)

func acctStop(user string) *AcctRequest {
	return &AcctRequest{
		Flags:         AcctFlagStop,
		AuthenMethod:  AuthenMethodTACACSPlus,
		AuthenType:    AuthenTypeASCII,
		AuthenService: AuthenServiceLogin,
		User:          user,
		Port:          "tty0",
		RemAddr:       "10.0.0.1",
		Arg:           []string{"task_id=1", "stop_time=2"},
	}
}

func testClient(addr, secret string) *Client {
	return &Client{
		Addr: addr,
		SessionConfig: SessionConfig{
			Secret:  []byte(secret),
			Timeout: 2 * time.Second,
		},
	}
}

func TestSessionHeaderInvariants(t *testing.T) {
	headers := make(chan tactest.Header, 2)
	srv, err := tactest.Serve("cisco", func(c *tactest.Conn) {
		h, body, err := c.Read()
		if err != nil {
			t.Error(err)
			return
		}
		headers <- h
		if _, err := tactest.ParseRequest(body, true); err != nil {
			t.Error(err)
			return
		}
		c.Reply(tactest.AcctReply(AcctStatusSuccess))
	})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	cl := testClient(srv.Addr(), "cisco")
	rep, err := cl.Account(context.Background(), acctStop("alice"))
	if err != nil {
		t.Fatal(err)
	}
	if rep.Status != AcctStatusSuccess {
		t.Fatalf("status = %d, want success", rep.Status)
	}

	h := <-headers
	if h.Seq != 1 {
		t.Errorf("first packet sequence = %d, want 1", h.Seq)
	}
	if h.Ver>>4 != verMajor {
		t.Errorf("major version = %d, want %d", h.Ver>>4, verMajor)
	}
	if h.ID == 0 {
		t.Error("session id not drawn")
	}
	if h.Flags&hdrFlagUnencrypted != 0 {
		t.Error("unencrypted flag set with a non-empty secret")
	}
}

func TestSessionEmptySecret(t *testing.T) {
	srv, err := tactest.Serve("", func(c *tactest.Conn) {
		h, body, err := c.Read()
		if err != nil {
			t.Error(err)
			return
		}
		if h.Flags&hdrFlagUnencrypted == 0 {
			t.Error("unencrypted flag not set for empty secret")
		}
		// the body must be readable without any deobfuscation
		req, err := tactest.ParseRequest(body, true)
		if err != nil {
			t.Errorf("cleartext body not parseable: %v", err)
			return
		}
		if req.User != "alice" {
			t.Errorf("user = %q, want alice", req.User)
		}
		c.Reply(tactest.AcctReply(AcctStatusSuccess))
	})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	if _, err := testClient(srv.Addr(), "").Account(context.Background(), acctStop("alice")); err != nil {
		t.Fatal(err)
	}
}

func TestSessionWrongSecret(t *testing.T) {
	srv, err := tactest.Serve("not-cisco", func(c *tactest.Conn) {
		if _, _, err := c.Read(); err != nil {
			return
		}
		c.Reply(tactest.AcctReply(AcctStatusSuccess))
	})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	_, err = testClient(srv.Addr(), "cisco").Account(context.Background(), acctStop("alice"))
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("got %v, want ErrProtocol", err)
	}
}

func TestSessionBadSequence(t *testing.T) {
	srv, err := tactest.Serve("cisco", func(c *tactest.Conn) {
		if _, _, err := c.Read(); err != nil {
			return
		}
		c.ReplySeq(4, tactest.AcctReply(AcctStatusSuccess))
	})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	_, err = testClient(srv.Addr(), "cisco").Account(context.Background(), acctStop("alice"))
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("got %v, want ErrProtocol", err)
	}
}

func TestSessionShortHeader(t *testing.T) {
	srv, err := tactest.Serve("cisco", func(c *tactest.Conn) {
		if _, _, err := c.Read(); err != nil {
			return
		}
		c.WriteRaw([]byte{0xc0, 0x03, 0x02})
		c.Close()
	})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	_, err = testClient(srv.Addr(), "cisco").Account(context.Background(), acctStop("alice"))
	if !errors.Is(err, ErrShortHeader) {
		t.Fatalf("got %v, want ErrShortHeader", err)
	}
}

func TestSessionShortBody(t *testing.T) {
	srv, err := tactest.Serve("cisco", func(c *tactest.Conn) {
		h, _, err := c.Read()
		if err != nil {
			return
		}
		// a full header promising a body that never arrives in full
		raw := make([]byte, hdrLen+2)
		raw[hdrVer] = h.Ver
		raw[hdrType] = h.Type
		raw[hdrSeqNo] = h.Seq + 1
		binary.BigEndian.PutUint32(raw[hdrID:], h.ID)
		binary.BigEndian.PutUint32(raw[hdrBodyLen:], 5)
		c.WriteRaw(raw)
		c.Close()
	})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	_, err = testClient(srv.Addr(), "cisco").Account(context.Background(), acctStop("alice"))
	if !errors.Is(err, ErrShortBody) {
		t.Fatalf("got %v, want ErrShortBody", err)
	}
}

func TestSessionBodyTooLarge(t *testing.T) {
	srv, err := tactest.Serve("cisco", func(c *tactest.Conn) {
		h, _, err := c.Read()
		if err != nil {
			return
		}
		raw := make([]byte, hdrLen)
		raw[hdrVer] = h.Ver
		raw[hdrType] = h.Type
		raw[hdrSeqNo] = h.Seq + 1
		binary.BigEndian.PutUint32(raw[hdrID:], h.ID)
		binary.BigEndian.PutUint32(raw[hdrBodyLen:], maxBodyLen+1)
		c.WriteRaw(raw)
		c.Close()
	})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	_, err = testClient(srv.Addr(), "cisco").Account(context.Background(), acctStop("alice"))
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("got %v, want ErrProtocol", err)
	}
}

func TestSessionReadTimeout(t *testing.T) {
	block := make(chan struct{})
	srv, err := tactest.Serve("cisco", func(c *tactest.Conn) {
		if _, _, err := c.Read(); err != nil {
			return
		}
		<-block // never reply
	})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()
	defer close(block) // unblock the handler before Close waits for it

	cl := testClient(srv.Addr(), "cisco")
	cl.Timeout = 50 * time.Millisecond
	_, err = cl.Account(context.Background(), acctStop("alice"))
	if !errors.Is(err, ErrReadTimeout) {
		t.Fatalf("got %v, want ErrReadTimeout", err)
	}
}
