package tacplus

import (
	"context"
	"errors"
	"fmt"
)

// maxPromptLen bounds the server message forwarded to the host as a
// conversation prompt. Longer messages are rejected as a protocol
// error rather than handed to the host unchecked.
const maxPromptLen = 4 << 10

// ErrConversation is returned when the host cannot supply a response
// the server asked for: no prompt callback was given, the callback
// failed, or the user entered nothing.
var ErrConversation = errors.New("tacplus: conversation failed")

// Prompt asks the interactive user a question and returns the typed
// response. With noEcho set the input must not be echoed back.
type Prompt func(msg string, noEcho bool) (string, error)

// Authen drives an authentication exchange to a terminal status: it
// sends the START packet and answers GETDATA, GETUSER and GETPASS
// replies until the server decides. The username and the cached
// password answer GETUSER and GETPASS; GETDATA prompts go to conv
// with echoing off.
//
// The returned reply normally carries a terminal status (PASS, FAIL,
// RESTART, ERROR or FOLLOW). The one exception: during a LOGIN
// exchange a GETDATA reply is returned as-is when the session's
// terminal is "http", because a web front-end handles password expiry
// out of band and has no user to prompt. A password change always
// answers GETDATA through conv; the old and new passwords are
// prompted for that way.
//
// On any transport or conversation failure the session is abandoned
// and no partial state is exposed.
func (c *Client) Authen(ctx context.Context, start *AuthenStart, password string, conv Prompt) (*AuthenReply, error) {
	s, err := dialSession(ctx, c.Addr, packetTypeAuthen, start.version(), c.SessionConfig)
	if err != nil {
		return nil, err
	}
	defer s.close()

	if err := s.send(start); err != nil {
		return nil, err
	}
	for {
		rep := new(AuthenReply)
		if err := s.recv(rep); err != nil {
			return nil, err
		}

		var msg string
		switch rep.Status {
		case AuthenStatusGetUser:
			msg = start.User
		case AuthenStatusGetPass:
			msg = password
		case AuthenStatusGetData:
			if start.Action == AuthenActionLogin && start.Port == "http" {
				return rep, nil
			}
			if len(rep.ServerMsg) > maxPromptLen {
				s.abort("prompt too long")
				return nil, fmt.Errorf("%w: server message exceeds prompt limit", ErrProtocol)
			}
			if conv == nil {
				s.abort("no conversation")
				return nil, ErrConversation
			}
			resp, err := conv(rep.ServerMsg, true)
			if err != nil {
				s.abort("conversation failed")
				return nil, fmt.Errorf("%w: %v", ErrConversation, err)
			}
			if resp == "" {
				s.abort("empty response")
				return nil, fmt.Errorf("%w: empty response", ErrConversation)
			}
			msg = resp
		case AuthenStatusPass, AuthenStatusFail, AuthenStatusRestart,
			AuthenStatusError, AuthenStatusFollow:
			return rep, nil
		default:
			return nil, fmt.Errorf("%w: unknown authentication status %d", ErrProtocol, rep.Status)
		}

		if err := s.send(&AuthenContinue{Message: msg}); err != nil {
			return nil, err
		}
	}
}

// abort tells the server the client is giving up on the session. It is
// best effort; the session is being abandoned either way.
func (s *session) abort(reason string) {
	if err := s.send(&AuthenContinue{Abort: true, Message: reason}); err != nil {
		s.cfg.log("abort:", err)
	}
}
