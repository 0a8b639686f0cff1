package tacpam

// Status is the authentication-framework result of a facade call,
// mirroring the PAM return codes the host understands.
type Status int

const (
	Success Status = iota
	UserUnknown
	CredInsufficient
	AuthErr
	PermDenied
	AuthInfoUnavail
	TryAgain
	NewAuthTokReqd
	SessionErr
	ConvErr
)

var statusNames = map[Status]string{
	Success:          "success",
	UserUnknown:      "user unknown",
	CredInsufficient: "credentials insufficient",
	AuthErr:          "authentication error",
	PermDenied:       "permission denied",
	AuthInfoUnavail:  "authentication information unavailable",
	TryAgain:         "try again",
	NewAuthTokReqd:   "new authentication token required",
	SessionErr:       "session error",
	ConvErr:          "conversation error",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown status"
}
