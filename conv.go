package tacpam

import "strings"

// Host is the narrow view of the authentication framework the module
// runs under. Prompt carries server-driven questions to the user,
// Putenv publishes authorization attributes to the host environment.
type Host interface {
	// Prompt asks the user a question. With noEcho set the response
	// must not be echoed as it is typed.
	Prompt(msg string, noEcho bool) (string, error)

	// Putenv exports a name/value pair to the host environment.
	Putenv(name, value string) error
}

// cleanTerminal strips the /dev/ prefix host frameworks hand back for
// local terminals. TACACS+ servers expect the bare port name.
func cleanTerminal(tty string) string {
	return strings.TrimPrefix(tty, "/dev/")
}

// envName rewrites an attribute name for the host environment:
// uppercased, with '-' rewritten to '_'.
func envName(name string) string {
	n := strings.ToUpper(name)
	return strings.ReplaceAll(n, "-", "_")
}

// wipe zeroes a password buffer before it is released.
func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
