// Command tacverify exercises a tacpam configuration against live
// TACACS+ servers: authenticate a user, authorize a service, or send
// accounting records, from the command line instead of a host
// framework.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tacpam/tacpam"
	"github.com/tacpam/tacpam/config"
)

var (
	cfgFile string
	options []string

	user  string
	tty   string
	rhost string

	log = logrus.New()
)

func main() {
	root := &cobra.Command{
		Use:           "tacverify",
		Short:         "Exercise a tacpam configuration against TACACS+ servers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML configuration file")
	root.PersistentFlags().StringArrayVarP(&options, "option", "o", nil, "module option (key=value), repeatable")
	root.PersistentFlags().StringVarP(&user, "user", "u", "", "username")
	root.PersistentFlags().StringVar(&tty, "tty", "tty0", "terminal name")
	root.PersistentFlags().StringVar(&rhost, "rhost", "", "remote host")

	root.AddCommand(authenticateCmd(), authorizeCmd(), accountCmd())

	if err := root.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

// module builds the handle from --config or the repeated --option
// pairs, the same surface the host framework would pass.
func module() (*tacpam.Module, error) {
	var (
		cfg *config.Config
		err error
	)
	if cfgFile != "" {
		cfg, err = config.LoadFile(cfgFile)
	} else {
		cfg, err = config.Parse(options)
	}
	if err != nil {
		return nil, err
	}
	return tacpam.New(cfg, terminalHost{}, log)
}

func authenticateCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "authenticate",
		Short: "Run an ASCII login exchange",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := module()
			if err != nil {
				return err
			}
			st, err := m.Authenticate(context.Background(), user, password, tty, rhost)
			return report("authenticate", st, err)
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (prompted when empty)")
	return cmd
}

func authorizeCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "authorize",
		Short: "Authenticate, then authorize the configured service",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := module()
			if err != nil {
				return err
			}
			ctx := context.Background()
			if st, err := m.Authenticate(ctx, user, password, tty, rhost); st != tacpam.Success {
				return report("authenticate", st, err)
			}
			st, err := m.AcctMgmt(ctx, user, tty, rhost)
			return report("authorize", st, err)
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (prompted when empty)")
	return cmd
}

func accountCmd() *cobra.Command {
	var stop bool
	var command string
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Send an accounting START, or STOP with --stop",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := module()
			if err != nil {
				return err
			}
			ctx := context.Background()
			if stop {
				st, err := m.CloseSession(ctx, user, tty, rhost, command)
				return report("accounting stop", st, err)
			}
			st, err := m.OpenSession(ctx, user, tty, rhost)
			return report("accounting start", st, err)
		},
	}
	cmd.Flags().BoolVar(&stop, "stop", false, "send STOP instead of START")
	cmd.Flags().StringVar(&command, "cmd", "", "cmd attribute for STOP records")
	return cmd
}

func report(op string, st tacpam.Status, err error) error {
	if st == tacpam.Success {
		fmt.Printf("%s: %v\n", op, st)
		return nil
	}
	return fmt.Errorf("%s: %v: %v", op, st, err)
}
