// Package tacpam is a TACACS+ client for pluggable-authentication
// hosts. A Module handle drives authentication, authorization and
// accounting exchanges against an ordered list of TACACS+ servers and
// maps the protocol's answers onto the host framework's status codes.
package tacpam

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tacpam/tacpam/config"
	"github.com/tacpam/tacpam/tacplus"
)

// ChangeFlags modify a ChangeAuthTok call.
type ChangeFlags uint

// PrelimCheck asks ChangeAuthTok to only probe server reachability.
const PrelimCheck ChangeFlags = 1 << 0

// Module is the host-facing handle. It is built once from parsed
// configuration and carries the server list, the shared secrets and
// the server binding established by a successful Authenticate. The
// configuration is read-only after New; the binding and the
// accounting task id are the only mutable state and are guarded for
// hosts that call from several threads.
type Module struct {
	cfg     *config.Config
	clients []tacplus.Client
	host    Host
	log     *logrus.Logger

	mu     sync.Mutex
	bound  *tacplus.Client // server that accepted the last Authenticate
	taskID uint16          // accounting task id tying STOP to its START
}

// New builds a Module from parsed configuration. host may be nil for
// callers that never need interactive prompts or attribute export;
// log may be nil to use a default logger.
func New(cfg *config.Config, host Host, log *logrus.Logger) (*Module, error) {
	if cfg == nil {
		return nil, errors.New("tacpam: nil configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.New()
	}
	if cfg.Debug {
		log.SetLevel(logrus.DebugLevel)
	}

	m := &Module{cfg: cfg, host: host, log: log}
	m.clients = make([]tacplus.Client, len(cfg.Servers))
	for i, s := range cfg.Servers {
		m.clients[i] = tacplus.Client{
			Addr: s.Addr,
			SessionConfig: tacplus.SessionConfig{
				Secret:  []byte(s.Secret),
				Timeout: cfg.Timeout(),
				Log: func(v ...interface{}) {
					log.Debug(v...)
				},
			},
		}
	}
	return m, nil
}

// Authenticate verifies user and password against the configured
// servers with an ASCII login exchange. An empty password is obtained
// through the host's prompt unless use_first_pass forbids it; with
// try_first_pass a supplied password that the servers reject is
// prompted for again and retried once. On success the accepting
// server is bound for the next AcctMgmt call.
//
// The returned Status is the authoritative outcome; the error adds
// detail and is non-nil for every status except Success.
func (m *Module) Authenticate(ctx context.Context, user, password, tty, rhost string) (Status, error) {
	// a binding only outlives the Authenticate call that made it
	m.bind(nil)

	if user == "" {
		return UserUnknown, errors.New("tacpam: no username")
	}
	pass, st, err := m.getPassword(password)
	if err != nil {
		return st, err
	}
	defer wipe(pass)

	authenType := uint8(tacplus.AuthenTypeASCII)
	switch m.cfg.Login {
	case config.LoginPAP:
		authenType = tacplus.AuthenTypePAP
	case config.LoginCHAP:
		return AuthErr, errors.New("tacpam: chap login needs a challenge the host callbacks cannot supply")
	}

	m.log.WithFields(logrus.Fields{"user": user, "tty": cleanTerminal(tty)}).Debug("authenticating")

	st, err = m.login(ctx, user, tty, rhost, authenType, pass)
	if st == AuthErr && password != "" && m.cfg.TryFirstPass && m.host != nil {
		// the supplied password was rejected; try_first_pass falls
		// back to asking the user for a fresh one
		resp, perr := m.host.Prompt("Password: ", true)
		if perr != nil {
			return ConvErr, fmt.Errorf("tacpam: unable to obtain password: %w", perr)
		}
		if resp == "" {
			return st, err
		}
		retry := []byte(resp)
		defer wipe(retry)
		st, err = m.login(ctx, user, tty, rhost, authenType, retry)
	}
	m.log.WithField("user", user).Debugf("authentication result: %v", st)
	return st, err
}

// login runs one authentication pass over the server list with the
// given password.
func (m *Module) login(ctx context.Context, user, tty, rhost string, authenType uint8, pass []byte) (Status, error) {
	start := &tacplus.AuthenStart{
		Action:        tacplus.AuthenActionLogin,
		AuthenType:    authenType,
		AuthenService: tacplus.AuthenServiceLogin,
		User:          user,
		Port:          cleanTerminal(tty),
		RemAddr:       rhost,
		Data:          append([]byte(nil), pass...),
	}
	defer wipe(start.Data)

	return m.firstResponder(AuthInfoUnavail, func(c *tacplus.Client) (Status, bool, error) {
		rep, err := c.Authen(ctx, start, string(pass), m.prompt())
		if err != nil {
			switch {
			case errors.Is(err, tacplus.ErrConversation):
				return ConvErr, true, err
			case errors.Is(err, tacplus.ErrAssembly):
				return AuthErr, true, err
			}
			// connection, transport and protocol failures fail over
			return AuthInfoUnavail, false, err
		}
		switch rep.Status {
		case tacplus.AuthenStatusPass:
			m.bind(c)
			return Success, true, nil
		case tacplus.AuthenStatusFail:
			return AuthErr, true, fmt.Errorf("tacpam: server %s denied authentication", c.Addr)
		case tacplus.AuthenStatusGetData:
			// non-interactive terminal; password expiry is handled out of band
			return NewAuthTokReqd, true, fmt.Errorf("tacpam: server %s requires a new authentication token", c.Addr)
		case tacplus.AuthenStatusRestart:
			return AuthErr, true, fmt.Errorf("tacpam: server %s requested a restart with another authentication type", c.Addr)
		case tacplus.AuthenStatusFollow:
			return AuthErr, true, fmt.Errorf("tacpam: server %s requested a redirect; not followed", c.Addr)
		default: // AuthenStatusError
			return AuthInfoUnavail, false, fmt.Errorf("tacpam: server %s reported an error", c.Addr)
		}
	})
}

// SetCred is a no-op; TACACS+ carries no credentials to establish.
func (m *Module) SetCred(ctx context.Context) (Status, error) {
	return Success, nil
}

// AcctMgmt authorizes the configured service and protocol for user
// against the server bound by the last successful Authenticate.
// Attributes returned by the server are exported to the host
// environment, uppercased and with '-' rewritten to '_'.
func (m *Module) AcctMgmt(ctx context.Context, user, tty, rhost string) (Status, error) {
	if user == "" {
		return UserUnknown, errors.New("tacpam: no username")
	}
	c := m.boundServer()
	if c == nil {
		return AuthErr, ErrNotAuthenticated
	}
	if m.cfg.Service == "" || m.cfg.Protocol == "" {
		return AuthErr, ErrNotConfigured
	}

	var args tacplus.ArgList
	if err := args.Add("service", m.cfg.Service); err != nil {
		return AuthErr, err
	}
	if err := args.Add("protocol", m.cfg.Protocol); err != nil {
		return AuthErr, err
	}
	req := &tacplus.AuthorRequest{
		AuthenMethod:  tacplus.AuthenMethodTACACSPlus,
		AuthenType:    tacplus.AuthenTypeASCII,
		AuthenService: tacplus.AuthenServiceLogin,
		User:          user,
		Port:          cleanTerminal(tty),
		RemAddr:       rhost,
		Arg:           args.Args(),
	}

	resp, err := c.Authorize(ctx, req)
	if err != nil {
		return AuthErr, err
	}
	switch resp.Status {
	case tacplus.AuthorStatusPassAdd:
	case tacplus.AuthorStatusPassRepl:
		m.log.Debug("server replaced the requested attributes")
	case tacplus.AuthorStatusFail, tacplus.AuthorStatusFollow:
		return PermDenied, fmt.Errorf("tacpam: authorization denied for %s", user)
	case tacplus.AuthorStatusError:
		return AuthErr, fmt.Errorf("tacpam: server %s reported an authorization error", c.Addr)
	default:
		return AuthErr, fmt.Errorf("%w: unknown authorization status %d", tacplus.ErrProtocol, resp.Status)
	}

	m.exportArgs(resp.Arg)
	return Success, nil
}

// exportArgs publishes returned authorization attributes to the host
// environment. Attributes without a separator are logged and skipped.
func (m *Module) exportArgs(raw []string) {
	for _, s := range raw {
		attr, ok := tacplus.SplitAttr(s)
		if !ok {
			m.log.Warnf("ignoring attribute %q with no separator", s)
			continue
		}
		if m.host == nil {
			continue
		}
		name := envName(attr.Name)
		if err := m.host.Putenv(name, attr.Value); err != nil {
			m.log.Warnf("unable to export %s to host environment: %v", name, err)
		}
	}
}

// OpenSession records session start with an accounting START carrying
// a fresh random task id.
func (m *Module) OpenSession(ctx context.Context, user, tty, rhost string) (Status, error) {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return SessionErr, err
	}
	id := binary.BigEndian.Uint16(b[:])
	m.mu.Lock()
	m.taskID = id
	m.mu.Unlock()

	return m.account(ctx, tacplus.AcctFlagStart, user, tty, rhost, "start_time", "")
}

// CloseSession records session end with an accounting STOP tied to the
// matching START by task id. The signals a modem hang-up raises are
// suppressed while the request is on the wire. An empty cmd falls back
// to the host environment's "cmd" variable when the host exposes one.
func (m *Module) CloseSession(ctx context.Context, user, tty, rhost, cmd string) (Status, error) {
	if cmd == "" {
		if g, ok := m.host.(EnvGetter); ok {
			cmd = g.Getenv("cmd")
		}
	}
	guard := suppressHangup()
	defer guard.release()

	return m.account(ctx, tacplus.AcctFlagStop, user, tty, rhost, "stop_time", cmd)
}

// account builds and sends one accounting request. Broadcast mode
// (acct_all) sends to every server; the default tries servers in order
// until one accepts.
func (m *Module) account(ctx context.Context, flags uint8, user, tty, rhost, timeAttr, cmd string) (Status, error) {
	if m.cfg.Service == "" || m.cfg.Protocol == "" {
		return SessionErr, ErrNotConfigured
	}
	m.mu.Lock()
	taskID := m.taskID
	m.mu.Unlock()

	var args tacplus.ArgList
	if err := args.Add("task_id", strconv.FormatUint(uint64(taskID), 10)); err != nil {
		return SessionErr, err
	}
	if err := args.Add(timeAttr, strconv.FormatInt(time.Now().Unix(), 10)); err != nil {
		return SessionErr, err
	}
	if err := args.Add("service", m.cfg.Service); err != nil {
		return SessionErr, err
	}
	if err := args.Add("protocol", m.cfg.Protocol); err != nil {
		return SessionErr, err
	}
	if cmd != "" {
		if err := args.Add("cmd", cmd); err != nil {
			return SessionErr, err
		}
	}

	req := &tacplus.AcctRequest{
		Flags:         flags,
		AuthenMethod:  tacplus.AuthenMethodTACACSPlus,
		AuthenType:    tacplus.AuthenTypeASCII,
		AuthenService: tacplus.AuthenServiceLogin,
		User:          user,
		Port:          cleanTerminal(tty),
		RemAddr:       rhost,
		Arg:           args.Args(),
	}

	if m.cfg.AcctAll {
		return m.broadcastAcct(ctx, req)
	}
	return m.firstResponder(SessionErr, func(c *tacplus.Client) (Status, bool, error) {
		rep, err := c.Account(ctx, req)
		if err != nil {
			if errors.Is(err, tacplus.ErrAssembly) {
				return SessionErr, true, err
			}
			return SessionErr, false, err
		}
		if rep.Status == tacplus.AcctStatusSuccess {
			return Success, true, nil
		}
		return SessionErr, false, fmt.Errorf("tacpam: server %s refused accounting, status %d", c.Addr, rep.Status)
	})
}

// ChangeAuthTok changes the user's password through a CHPASS exchange.
// The server prompts for the old and new passwords with GETDATA
// replies, each answered through the host's conversation. With
// PrelimCheck set the call only probes that a server is reachable.
func (m *Module) ChangeAuthTok(ctx context.Context, user, tty, rhost string, flags ChangeFlags) (Status, error) {
	if flags&PrelimCheck != 0 {
		for i := range m.clients {
			if err := m.clients[i].Ping(ctx); err != nil {
				m.log.WithField("server", m.clients[i].Addr).Warnf("unreachable: %v", err)
				continue
			}
			return Success, nil
		}
		return TryAgain, ErrNoServers
	}
	if user == "" {
		return UserUnknown, errors.New("tacpam: no username")
	}

	// CHPASS carries no password in the start packet; the server
	// prompts for old and new passwords itself.
	const placeholder = "null"
	start := &tacplus.AuthenStart{
		Action:        tacplus.AuthenActionChangePass,
		AuthenType:    tacplus.AuthenTypeASCII,
		AuthenService: tacplus.AuthenServiceLogin,
		User:          user,
		Port:          cleanTerminal(tty),
		RemAddr:       rhost,
		Data:          []byte(placeholder),
	}

	return m.firstResponder(AuthInfoUnavail, func(c *tacplus.Client) (Status, bool, error) {
		rep, err := c.Authen(ctx, start, placeholder, m.prompt())
		if err != nil {
			if errors.Is(err, tacplus.ErrConversation) {
				return ConvErr, true, err
			}
			if errors.Is(err, tacplus.ErrAssembly) {
				return AuthErr, true, err
			}
			return AuthInfoUnavail, false, err
		}
		switch rep.Status {
		case tacplus.AuthenStatusPass:
			return Success, true, nil
		case tacplus.AuthenStatusFail:
			return AuthErr, true, fmt.Errorf("tacpam: server %s refused the password change", c.Addr)
		case tacplus.AuthenStatusGetData:
			// the exchange answers every change-password prompt through
			// the conversation, whatever the terminal; a GETDATA
			// surfacing here means the prompt went unanswered
			return ConvErr, true, fmt.Errorf("tacpam: server %s prompt left unanswered", c.Addr)
		default:
			return AuthInfoUnavail, false, fmt.Errorf("tacpam: server %s reported an error", c.Addr)
		}
	})
}

// prompt adapts the host's conversation to the protocol package.
func (m *Module) prompt() tacplus.Prompt {
	if m.host == nil {
		return nil
	}
	return m.host.Prompt
}

// getPassword applies the password-acquisition hints: an empty
// password is prompted for unless use_first_pass requires a stacked
// one. The try_first_pass fallback after a rejected supplied password
// is Authenticate's, since it needs the servers' verdict first.
func (m *Module) getPassword(password string) ([]byte, Status, error) {
	if password != "" {
		return []byte(password), Success, nil
	}
	if m.cfg.UseFirstPass {
		return nil, CredInsufficient, errors.New("tacpam: use_first_pass set but no password provided")
	}
	if m.host == nil {
		return nil, CredInsufficient, errors.New("tacpam: no password and no conversation to ask for one")
	}
	resp, err := m.host.Prompt("Password: ", true)
	if err != nil {
		return nil, ConvErr, fmt.Errorf("tacpam: unable to obtain password: %w", err)
	}
	if resp == "" {
		return nil, CredInsufficient, errors.New("tacpam: empty password")
	}
	return []byte(resp), Success, nil
}

// EnvGetter is implemented by hosts that expose their environment to
// the module. CloseSession uses it to recover the command name when
// the caller passes none.
type EnvGetter interface {
	Getenv(name string) string
}
