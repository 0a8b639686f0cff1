package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// terminalHost answers server prompts from the controlling terminal
// and prints exported attributes instead of mutating an environment.
type terminalHost struct{}

func (terminalHost) Prompt(msg string, noEcho bool) (string, error) {
	fmt.Fprint(os.Stderr, msg)
	if noEcho && term.IsTerminal(int(os.Stdin.Fd())) {
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (terminalHost) Putenv(name, value string) error {
	fmt.Printf("%s=%s\n", name, value)
	return nil
}
