package tacpam

import (
	"context"
	"errors"
	"fmt"

	"github.com/tacpam/tacpam/tacplus"
)

var (
	// ErrNoServers is returned when every configured server has been
	// tried without an authoritative answer.
	ErrNoServers = errors.New("tacpam: no TACACS+ server available")

	// ErrNotAuthenticated is returned by AcctMgmt when no prior
	// Authenticate on this handle succeeded.
	ErrNotAuthenticated = errors.New("tacpam: user not authenticated by TACACS+")

	// ErrNotConfigured is returned when an operation needs the service
	// and protocol options and either one is not configured.
	ErrNotConfigured = errors.New("tacpam: service and protocol not configured")
)

// firstResponder tries each configured server in order. fn reports an
// authoritative decision with final=true; otherwise the selector
// advances past connection failures, transport stalls, protocol
// mismatches and server-side errors. An exhausted list yields the
// operation's exhausted status.
func (m *Module) firstResponder(exhausted Status, fn func(c *tacplus.Client) (Status, bool, error)) (Status, error) {
	var lastErr error
	for i := range m.clients {
		c := &m.clients[i]
		st, final, err := fn(c)
		if final {
			return st, err
		}
		if err != nil {
			m.log.WithField("server", c.Addr).Warnf("advancing to next server: %v", err)
			lastErr = err
		}
	}
	if lastErr == nil {
		return exhausted, ErrNoServers
	}
	return exhausted, fmt.Errorf("%w: last error: %v", ErrNoServers, lastErr)
}

// broadcastAcct sends one accounting request to every configured
// server. The aggregate result is success if any server accepted,
// otherwise the last error. The request, task id and timestamps
// included, is identical across sends.
func (m *Module) broadcastAcct(ctx context.Context, req *tacplus.AcctRequest) (Status, error) {
	accepted := false
	var lastErr error
	for i := range m.clients {
		c := &m.clients[i]
		rep, err := c.Account(ctx, req)
		if err != nil {
			m.log.WithField("server", c.Addr).Warnf("accounting send failed: %v", err)
			lastErr = err
			continue
		}
		if rep.Status == tacplus.AcctStatusSuccess {
			accepted = true
		} else {
			lastErr = fmt.Errorf("tacpam: server %s refused accounting, status %d", c.Addr, rep.Status)
		}
	}
	if accepted {
		return Success, nil
	}
	if lastErr == nil {
		lastErr = ErrNoServers
	}
	return SessionErr, lastErr
}

// bind records the server that produced a successful authentication so
// the next authorization reuses it. The binding lasts until the next
// Authenticate call on this handle.
func (m *Module) bind(c *tacplus.Client) {
	m.mu.Lock()
	m.bound = c
	m.mu.Unlock()
}

func (m *Module) boundServer() *tacplus.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bound
}
