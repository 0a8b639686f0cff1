// Package config parses the tacpam option surface.
//
// The host framework hands the module an argv-style list of key=value
// options; the diagnostic CLI reads the same surface from a YAML file
// and TACPAM_ environment variables. Both paths load through koanf/v2.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// MaxServers bounds the configured server list.
const MaxServers = 16

// DefaultPort is the TACACS+ TCP port.
const DefaultPort = "49"

// DefaultTimeoutSec is the per-I/O deadline when no timeout option is
// given.
const DefaultTimeoutSec = 5

// Login method names accepted by the login option.
const (
	LoginASCII = "ascii"
	LoginPAP   = "pap"
	LoginCHAP  = "chap"
)

// Server is one configured TACACS+ server.
type Server struct {
	Addr   string `koanf:"addr"`
	Secret string `koanf:"secret"`
}

// Config is the parsed option surface.
type Config struct {
	Servers      []Server `koanf:"servers"`
	Service      string   `koanf:"service"`
	Protocol     string   `koanf:"protocol"`
	Login        string   `koanf:"login"`
	TimeoutSec   int      `koanf:"timeout"`
	AcctAll      bool     `koanf:"acct_all"`
	TryFirstPass bool     `koanf:"try_first_pass"`
	UseFirstPass bool     `koanf:"use_first_pass"`
	Debug        bool     `koanf:"debug"`
}

// Timeout returns the per-I/O deadline.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// Parse builds a Config from argv-style options, e.g.
//
//	server=192.0.2.1 secret=cisco service=ppp protocol=ip debug
//
// A secret option pairs with the most recently named server, so the
// server/secret sequence is walked in order before the remaining
// scalar options are loaded through koanf.
func Parse(args []string) (*Config, error) {
	scalars := map[string]interface{}{}
	var servers []Server

	for _, arg := range args {
		key, val, hasVal := strings.Cut(arg, "=")
		switch key {
		case "server":
			if !hasVal || val == "" {
				return nil, errors.New("config: server option needs an address")
			}
			servers = append(servers, Server{Addr: withDefaultPort(val)})
		case "secret":
			if len(servers) == 0 {
				return nil, errors.New("config: secret option before any server")
			}
			servers[len(servers)-1].Secret = val
		case "acct_all", "try_first_pass", "use_first_pass", "debug":
			if hasVal {
				return nil, fmt.Errorf("config: option %s takes no value", key)
			}
			scalars[key] = true
		case "service", "protocol", "login", "timeout":
			if !hasVal {
				return nil, fmt.Errorf("config: option %s needs a value", key)
			}
			scalars[key] = val
		default:
			return nil, fmt.Errorf("config: unknown option %q", arg)
		}
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(scalars, "."), nil); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg := &Config{Servers: servers}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return finish(cfg)
}

// LoadFile reads a YAML config file, overlays TACPAM_ environment
// variables and returns the result. Used by the diagnostic CLI, which
// has a filesystem where the host framework only has argv.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("config: loading %s: %w", path, err)
	}
	if err := k.Load(env.Provider("TACPAM_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "TACPAM_"))
	}), nil); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	for i, s := range cfg.Servers {
		cfg.Servers[i].Addr = withDefaultPort(s.Addr)
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	if cfg.TimeoutSec <= 0 {
		cfg.TimeoutSec = DefaultTimeoutSec
	}
	if cfg.Login == "" {
		cfg.Login = LoginASCII
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the cross-option invariants.
func (c *Config) Validate() error {
	if len(c.Servers) > MaxServers {
		return fmt.Errorf("config: %d servers configured, limit is %d", len(c.Servers), MaxServers)
	}
	for _, s := range c.Servers {
		if s.Addr == "" {
			return errors.New("config: server with empty address")
		}
	}
	switch c.Login {
	case LoginASCII, LoginPAP, LoginCHAP:
	default:
		return fmt.Errorf("config: unknown login method %q", c.Login)
	}
	return nil
}

// withDefaultPort appends the TACACS+ port to a bare host. IPv6
// literals without a port are bracketed first.
func withDefaultPort(addr string) string {
	if addr == "" {
		return addr
	}
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	if strings.Count(addr, ":") > 1 && !strings.HasPrefix(addr, "[") {
		return "[" + addr + "]:" + DefaultPort
	}
	return addr + ":" + DefaultPort
}
