// Package config loads the client-side configuration shared by the
// slurmc tools: where the controller's REST endpoint lives, how to
// authenticate, and the handful of cluster parameters the tools need
// locally (exit-code overrides, readiness timeouts, default units).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the client configuration.
type Config struct {
	// BaseURL of the controller REST endpoint, e.g.
	// "http://slurmctl:6820".
	BaseURL string `yaml:"base_url"`

	// AuthToken is sent as X-SLURM-USER-TOKEN on every request.
	AuthToken string `yaml:"auth_token"`

	ClusterName string `yaml:"cluster_name"`

	// DefaultGBytes makes unsuffixed memory values gigabytes rather
	// than megabytes.
	DefaultGBytes bool `yaml:"default_gbytes"`

	// SuspendTimeout and ResumeTimeout (seconds) bound the node
	// readiness wait: min(5*(suspend+resume), 300).
	SuspendTimeout int `yaml:"suspend_timeout"`
	ResumeTimeout  int `yaml:"resume_timeout"`

	// InteractiveStepCmd is the controller-configured default command
	// for an allocation given no command and no --no-shell; it is run
	// as "/bin/sh -c <cmd>".
	InteractiveStepCmd string `yaml:"interactive_step_cmd"`

	// Exit-code overrides, also settable via SLURM_EXIT_ERROR and
	// SLURM_EXIT_IMMEDIATE.
	ExitError     int `yaml:"exit_error"`
	ExitImmediate int `yaml:"exit_immediate"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BaseURL:        "http://localhost:6820",
		SuspendTimeout: 30,
		ResumeTimeout:  60,
		ExitError:      1,
		ExitImmediate:  1,
	}
}

// Path returns the config file location: $SLURMC_CONF if set, else
// ~/.config/slurmc/client.yaml.
func Path() string {
	if p := os.Getenv("SLURMC_CONF"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "slurmc", "client.yaml")
}

// Load reads the config file (missing file is not an error) and
// applies environment overrides.
func Load() (*Config, error) {
	cfg := Default()
	if p := Path(); p != "" {
		data, err := os.ReadFile(p)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", p, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SLURMC_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("SLURMC_AUTH_TOKEN"); v != "" {
		c.AuthToken = v
	}
	if v := os.Getenv("SLURM_EXIT_ERROR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ExitError = n
		}
	}
	if v := os.Getenv("SLURM_EXIT_IMMEDIATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ExitImmediate = n
		}
	}
}

// ReadinessBoundSeconds is the cap on the node readiness wait.
func (c *Config) ReadinessBoundSeconds() int {
	bound := 5 * (c.SuspendTimeout + c.ResumeTimeout)
	if bound > 300 || bound <= 0 {
		bound = 300
	}
	return bound
}
