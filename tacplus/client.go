package tacplus

import "context"

// Client sends TACACS+ requests to a single server. Each request runs
// on its own TCP connection and session; the protocol's
// single-connection extension is not used.
type Client struct {
	Addr          string // TCP address of the server, host:port
	SessionConfig        // per-server session parameters
}

// Authorize sends an authorization request and returns the server's
// response.
func (c *Client) Authorize(ctx context.Context, req *AuthorRequest) (*AuthorResponse, error) {
	s, err := dialSession(ctx, c.Addr, packetTypeAuthor, verDefault, c.SessionConfig)
	if err != nil {
		return nil, err
	}
	defer s.close()

	if err := s.send(req); err != nil {
		return nil, err
	}
	resp := new(AuthorResponse)
	if err := s.recv(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Account sends an accounting request and returns the server's reply.
func (c *Client) Account(ctx context.Context, req *AcctRequest) (*AcctReply, error) {
	s, err := dialSession(ctx, c.Addr, packetTypeAcct, verDefault, c.SessionConfig)
	if err != nil {
		return nil, err
	}
	defer s.close()

	if err := s.send(req); err != nil {
		return nil, err
	}
	rep := new(AcctReply)
	if err := s.recv(rep); err != nil {
		return nil, err
	}
	return rep, nil
}

// Ping verifies that the server accepts TCP connections. It is used by
// the password-change preliminary check, which only probes
// reachability.
func (c *Client) Ping(ctx context.Context) error {
	d := dialer(c.SessionConfig)
	nc, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return err
	}
	return nc.Close()
}
