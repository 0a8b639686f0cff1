package tacplus

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

var roundTripTests = []body{
	&AuthenStart{
		Action:        AuthenActionLogin,
		PrivLvl:       1,
		AuthenType:    AuthenTypeASCII,
		AuthenService: AuthenServiceLogin,
		User:          "alice",
		Port:          "tty0",
		RemAddr:       "10.0.0.1",
		Data:          []byte("p@ss"),
	},
	&AuthenStart{
		Action:        AuthenActionChangePass,
		AuthenType:    AuthenTypeASCII,
		AuthenService: AuthenServiceLogin,
		User:          "bob",
		Data:          []byte("null"),
	},
	&AuthenReply{
		Status:    AuthenStatusGetData,
		NoEcho:    true,
		ServerMsg: "Old password: ",
		Data:      []byte{0x1},
	},
	&AuthenContinue{Message: "secret123"},
	&AuthenContinue{Abort: true, Message: "user gave up"},
	&AuthorRequest{
		AuthenMethod:  AuthenMethodTACACSPlus,
		PrivLvl:       1,
		AuthenType:    AuthenTypeASCII,
		AuthenService: AuthenServiceLogin,
		User:          "alice",
		Port:          "tty0",
		RemAddr:       "10.0.0.1",
		Arg:           []string{"service=ppp", "protocol=ip"},
	},
	&AuthorResponse{
		Status:    AuthorStatusPassAdd,
		Arg:       []string{"priv-lvl=15", "shell:roles*netadmin"},
		ServerMsg: "welcome",
		Data:      "detail",
	},
	&AcctRequest{
		Flags:         AcctFlagStop,
		AuthenMethod:  AuthenMethodTACACSPlus,
		PrivLvl:       1,
		AuthenType:    AuthenTypeASCII,
		AuthenService: AuthenServiceLogin,
		User:          "alice",
		Port:          "tty0",
		RemAddr:       "10.0.0.1",
		Arg:           []string{"task_id=123", "stop_time=1700000000"},
	},
	&AcctReply{Status: AcctStatusSuccess, ServerMsg: "ok", Data: ""},
}

func TestBodyRoundTrip(t *testing.T) {
	for _, p := range roundTripTests {
		tp := reflect.Indirect(reflect.ValueOf(p)).Type()
		b, err := p.marshal(nil)
		if err != nil {
			t.Errorf("marshal of %s %v failed: %v", tp.Name(), p, err)
			continue
		}
		p2, _ := reflect.New(tp).Interface().(body)
		if err := p2.unmarshal(b); err != nil {
			t.Errorf("unmarshal of %s %v failed: %v", tp.Name(), p, err)
		} else if !reflect.DeepEqual(p, p2) {
			t.Errorf("%s: %v != %v", tp.Name(), p2, p)
		}
	}
}

func TestAuthorRequestArgOrder(t *testing.T) {
	args := []string{"service=ppp", "protocol=ip", "priv-lvl=15", "idletime*30"}
	req := &AuthorRequest{User: "alice", Arg: args}
	b, err := req.marshal(nil)
	if err != nil {
		t.Fatal(err)
	}
	got := new(AuthorRequest)
	if err := got.unmarshal(b); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got.Arg, args) {
		t.Fatalf("attribute order not preserved: %v != %v", got.Arg, args)
	}
}

func TestAuthenReplyLengthConsistency(t *testing.T) {
	rep := &AuthenReply{Status: AuthenStatusPass, ServerMsg: "hello", Data: []byte{1, 2}}
	b, err := rep.marshal(nil)
	if err != nil {
		t.Fatal(err)
	}
	if want := 6 + len(rep.ServerMsg) + len(rep.Data); len(b) != want {
		t.Fatalf("encoded reply length %d, want %d", len(b), want)
	}

	// a trailing byte means the length fields disagree with the header
	if err := new(AuthenReply).unmarshal(append(b, 0)); !errors.Is(err, ErrProtocol) {
		t.Fatalf("trailing byte: got %v, want ErrProtocol", err)
	}
	// so does a truncated body
	if err := new(AuthenReply).unmarshal(b[:len(b)-1]); !errors.Is(err, ErrProtocol) {
		t.Fatalf("truncated body: got %v, want ErrProtocol", err)
	}
}

func TestMarshalBounds(t *testing.T) {
	long := strings.Repeat("x", 256)

	if _, err := (&AuthenStart{User: long}).marshal(nil); err == nil {
		t.Error("oversized user accepted")
	}
	if _, err := (&AuthorRequest{Arg: []string{long}}).marshal(nil); err == nil {
		t.Error("oversized attribute accepted")
	}

	many := make([]string, 256)
	for i := range many {
		many[i] = "a=b"
	}
	if _, err := (&AcctRequest{Arg: many}).marshal(nil); err == nil {
		t.Error("256 attributes accepted")
	}
	if _, err := (&AcctRequest{Arg: many[:255]}).marshal(nil); err != nil {
		t.Errorf("255 attributes rejected: %v", err)
	}
}

func TestAuthenStartVersion(t *testing.T) {
	tests := []struct {
		start AuthenStart
		want  uint8
	}{
		{AuthenStart{Action: AuthenActionLogin, AuthenType: AuthenTypeASCII}, verDefault},
		{AuthenStart{Action: AuthenActionLogin, AuthenType: AuthenTypePAP}, verMinorOne},
		{AuthenStart{Action: AuthenActionLogin, AuthenType: AuthenTypeCHAP}, verMinorOne},
		{AuthenStart{Action: AuthenActionChangePass, AuthenType: AuthenTypeASCII}, verMinorOne},
		{AuthenStart{Action: AuthenActionSendPass, AuthenType: AuthenTypeASCII}, verMinorOne},
	}
	for _, tt := range tests {
		if got := tt.start.version(); got != tt.want {
			t.Errorf("version(action=%d type=%d) = %#x, want %#x",
				tt.start.Action, tt.start.AuthenType, got, tt.want)
		}
	}
}
