/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package config loads cmd/mactux's runtime configuration: the default
// server socket path, the invalid-syscall policy, and log verbosity,
// following the Global-section gcfg layout SimpleRelay/config.go uses,
// with environment variable overrides in the LoadEnvVar convention.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/sisungo/mactux/log"
	"github.com/sisungo/mactux/trap"
)

const (
	envSockPath  string = `MACTUX_SOCK_PATH`
	envLogLevel  string = `MACTUX_LOG`
	envPolicy    string = `MACTUX_INVALID_SYSCALL_POLICY`
	defaultLevel string = `WARN`
)

var (
	ErrInvalidLogLevel = errors.New("invalid log level")
	ErrInvalidPolicy   = errors.New("invalid invalid-syscall policy")
)

// cfgType is the on-disk shape, gcfg-decoded the way SimpleRelay's cfgType
// is: a single Global section, no per-item subsections since a MacTux
// instance governs exactly one guest process.
type cfgType struct {
	Global struct {
		Server_Sock_Path       string
		Invalid_Syscall_Policy string
		Log_Level              string
	}
}

// Config is the resolved, validated configuration cmd/mactux runs with:
// defaults, then an optional config file, then environment overrides, in
// that order, matching the precedence GetConfig/LoadEnvVar apply elsewhere
// in the ingesters.
type Config struct {
	SockPath             string
	InvalidSyscallPolicy trap.InvalidPolicy
	LogLevel             string

	// SessionID is generated fresh per process and never persisted; it is
	// logged once at startup so the Unix-domain server's own log lines for
	// this connection can be correlated with this client's, the way a
	// handshake nonce would without actually widening the wire protocol.
	SessionID uuid.UUID
}

// defaultSockPath mirrors the original runtime's well-known per-user
// socket location under $HOME, used when neither a config file nor
// MACTUX_SOCK_PATH names one.
func defaultSockPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/tmp"
	}
	return filepath.Join(home, ".mactux", "mactux.sock")
}

// Default returns the configuration a guest gets when no config file and
// no environment overrides are present at all.
func Default() Config {
	return Config{
		SockPath:             defaultSockPath(),
		InvalidSyscallPolicy: trap.PolicyLogAndENOSYS,
		LogLevel:             defaultLevel,
		SessionID:            uuid.New(),
	}
}

// Load resolves a Config from defaults, an optional gcfg file at path (skipped
// entirely if path is empty or does not exist), and finally environment
// variable overrides, then validates the result.
func Load(path string) (Config, error) {
	c := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			var raw cfgType
			if err := LoadConfigFile(&raw, path); err != nil {
				return Config{}, fmt.Errorf("config: %w", err)
			}
			c.applyFile(raw)
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: stat %q: %w", path, err)
		}
	}

	if err := c.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := c.Verify(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyFile(raw cfgType) {
	if raw.Global.Server_Sock_Path != "" {
		c.SockPath = raw.Global.Server_Sock_Path
	}
	if raw.Global.Invalid_Syscall_Policy != "" {
		if p, err := parsePolicy(raw.Global.Invalid_Syscall_Policy); err == nil {
			c.InvalidSyscallPolicy = p
		}
	}
	if raw.Global.Log_Level != "" {
		c.LogLevel = raw.Global.Log_Level
	}
}

func (c *Config) applyEnv() error {
	var sockPath, levelStr, policyStr string
	if err := LoadEnvVar(&sockPath, envSockPath, c.SockPath); err != nil {
		return fmt.Errorf("config: %s: %w", envSockPath, err)
	}
	c.SockPath = sockPath

	if err := LoadEnvVar(&levelStr, envLogLevel, c.LogLevel); err != nil {
		return fmt.Errorf("config: %s: %w", envLogLevel, err)
	}
	c.LogLevel = levelStr

	policyDefault := policyString(c.InvalidSyscallPolicy)
	if err := LoadEnvVar(&policyStr, envPolicy, policyDefault); err != nil {
		return fmt.Errorf("config: %s: %w", envPolicy, err)
	}
	p, err := parsePolicy(policyStr)
	if err != nil {
		return fmt.Errorf("config: %s: %w", envPolicy, err)
	}
	c.InvalidSyscallPolicy = p
	return nil
}

// Verify validates field values and checks the log level is one logging
// package actually recognizes (checkLogLevel's role in the ingest config).
func (c *Config) Verify() error {
	if c.SockPath == "" {
		return errors.New("config: server socket path is empty")
	}
	if _, err := log.LevelFromString(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}
	return nil
}

func parsePolicy(s string) (trap.InvalidPolicy, error) {
	switch s {
	case "log-and-enosys", "LogAndENOSYS", "":
		return trap.PolicyLogAndENOSYS, nil
	case "fast-fail", "FastFail":
		return trap.PolicyFastFail, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}

func policyString(p trap.InvalidPolicy) string {
	switch p {
	case trap.PolicyFastFail:
		return "fast-fail"
	default:
		return "log-and-enosys"
	}
}

// Apply installs this Config's invalid-syscall policy and log level as the
// process-wide defaults, the way main() wires a freshly-loaded Config into
// the packages it governs before loading the guest image.
func (c Config) Apply(lgr *log.Logger) error {
	trap.SetInvalidPolicy(c.InvalidSyscallPolicy)
	if lgr != nil {
		return lgr.SetLevelString(c.LogLevel)
	}
	return nil
}
