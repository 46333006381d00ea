// Package config loads and validates the optional .warden YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/deixis/warden/internal/policy"
)

// FileName is the config file looked up in the base directory.
const FileName = ".warden"

// Config holds the parsed .warden configuration. All fields are
// optional; zero values represent defaults.
type Config struct {
	Version int `yaml:"version"`

	BaseDir string   `yaml:"base_dir"` // defaults to the directory the file was loaded from
	Allow   []string `yaml:"allow"`    // allow-listed program names

	RawTimeout       string  `yaml:"timeout"`       // e.g. "30s", "5m"
	RawMaxTimeout    string  `yaml:"max_timeout"`   // ceiling for per-request timeouts
	RawMaxOutputMB   float64 `yaml:"max_output_mb"` // per-stream output cap
	RawGrace         string  `yaml:"grace_period"`  // SIGTERM-to-SIGKILL delay
	RawStreamTimeout string  `yaml:"streaming_timeout"`
	RawStreamKB      int     `yaml:"streaming_buffer_kb"`

	// Baseline environment knobs.
	LoginShell *bool             `yaml:"login_shell"` // capture login shell env at startup (default true)
	EnvFile    string            `yaml:"env_file"`    // optional dotenv file merged over the capture
	Env        map[string]string `yaml:"env"`         // literal overrides, highest precedence
}

// Timeout returns the configured default timeout or the policy default.
func (c *Config) Timeout() time.Duration {
	return c.duration(c.RawTimeout, policy.DefaultTimeout)
}

// MaxTimeout returns the configured timeout ceiling or the policy default.
func (c *Config) MaxTimeout() time.Duration {
	return c.duration(c.RawMaxTimeout, policy.DefaultMaxTimeout)
}

// GracePeriod returns the configured kill-escalation grace or 1s.
func (c *Config) GracePeriod() time.Duration {
	return c.duration(c.RawGrace, time.Second)
}

// StreamTimeout returns the configured streaming timer or the policy default.
func (c *Config) StreamTimeout() time.Duration {
	return c.duration(c.RawStreamTimeout, policy.DefaultStreamTimeout)
}

// MaxOutputBytes returns the per-stream output cap in bytes.
func (c *Config) MaxOutputBytes() int {
	if c.RawMaxOutputMB > 0 {
		return int(c.RawMaxOutputMB * 1024 * 1024)
	}
	return policy.DefaultMaxOutput
}

// StreamBufferBytes returns the streaming size threshold in bytes.
func (c *Config) StreamBufferBytes() int {
	if c.RawStreamKB > 0 {
		return c.RawStreamKB * 1024
	}
	return policy.DefaultStreamBufferSize
}

// CaptureLoginShell reports whether the login shell environment capture
// should run at startup.
func (c *Config) CaptureLoginShell() bool {
	if c.LoginShell != nil {
		return *c.LoginShell
	}
	return true
}

func (c *Config) duration(raw string, def time.Duration) time.Duration {
	if raw != "" {
		d, err := time.ParseDuration(raw)
		if err == nil && d > 0 {
			return d
		}
	}
	return def
}

// Load reads the .warden file from dir. If the file does not exist, a
// default Config rooted at dir is returned.
func Load(dir string) (*Config, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dir, err)
	}

	cfg := &Config{}

	data, err := os.ReadFile(filepath.Join(abs, FileName))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.BaseDir = abs
			return cfg, nil
		}
		return nil, fmt.Errorf("reading %s: %w", FileName, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", FileName, err)
	}
	if cfg.BaseDir == "" {
		cfg.BaseDir = abs
	}
	return cfg, nil
}
