// Package policy holds the process-wide execution policy: the base
// directory, the command allow-list, the baseline environment, and the
// default limits applied to every execution.
package policy

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Default limits applied when the config leaves them unset.
const (
	DefaultTimeout          = 30 * time.Second
	DefaultMaxTimeout       = 10 * time.Minute
	DefaultMaxOutput        = 1 << 20 // 1 MiB per stream
	DefaultStreamTimeout    = 10 * time.Second
	DefaultStreamBufferSize = 100 * 1024
)

// DefaultAllowList is the allow-list used when none is configured:
// read-only inspection tools and the common build toolchains.
var DefaultAllowList = []string{
	"cat", "echo", "env", "find", "git", "go", "grep", "head", "ls",
	"make", "node", "npm", "pwd", "sed", "sort", "tail", "tr", "uniq",
	"wc", "which",
}

// Config carries the inputs for a Policy. BaseDir is required.
type Config struct {
	BaseDir          string
	Allow            []string
	BaselineEnv      map[string]string
	Timeout          time.Duration
	MaxTimeout       time.Duration
	MaxOutput        int
	StreamTimeout    time.Duration
	StreamBufferSize int
}

func (c *Config) defaults() error {
	if c.BaseDir == "" {
		return fmt.Errorf("base directory is required")
	}
	abs, err := filepath.Abs(c.BaseDir)
	if err != nil {
		return fmt.Errorf("resolving base directory: %w", err)
	}
	c.BaseDir = filepath.Clean(abs)

	if len(c.Allow) == 0 {
		c.Allow = DefaultAllowList
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxTimeout <= 0 {
		c.MaxTimeout = DefaultMaxTimeout
	}
	if c.Timeout > c.MaxTimeout {
		c.Timeout = c.MaxTimeout
	}
	if c.MaxOutput <= 0 {
		c.MaxOutput = DefaultMaxOutput
	}
	if c.StreamTimeout <= 0 {
		c.StreamTimeout = DefaultStreamTimeout
	}
	if c.StreamBufferSize <= 0 {
		c.StreamBufferSize = DefaultStreamBufferSize
	}
	return nil
}

// Policy is read-only during execution; the allow-list may be changed
// through Allow and Disallow, which are administrative calls and safe
// for concurrent readers.
type Policy struct {
	baseDir          string
	baselineEnv      map[string]string
	timeout          time.Duration
	maxTimeout       time.Duration
	maxOutput        int
	streamTimeout    time.Duration
	streamBufferSize int

	mu      sync.RWMutex
	allowed map[string]struct{}
}

// New builds a Policy from the config, applying defaults.
func New(cfg Config) (*Policy, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}

	allowed := make(map[string]struct{}, len(cfg.Allow))
	for _, name := range cfg.Allow {
		allowed[name] = struct{}{}
	}

	env := make(map[string]string, len(cfg.BaselineEnv))
	for k, v := range cfg.BaselineEnv {
		env[k] = v
	}

	return &Policy{
		baseDir:          cfg.BaseDir,
		baselineEnv:      env,
		timeout:          cfg.Timeout,
		maxTimeout:       cfg.MaxTimeout,
		maxOutput:        cfg.MaxOutput,
		streamTimeout:    cfg.StreamTimeout,
		streamBufferSize: cfg.StreamBufferSize,
		allowed:          allowed,
	}, nil
}

// BaseDir returns the canonicalized base directory.
func (p *Policy) BaseDir() string { return p.baseDir }

// BaselineEnv returns the baseline environment mapping. Callers must
// not mutate it.
func (p *Policy) BaselineEnv() map[string]string { return p.baselineEnv }

// Timeout returns the default wall-clock limit.
func (p *Policy) Timeout() time.Duration { return p.timeout }

// MaxTimeout returns the wall-clock ceiling requests are clamped to.
func (p *Policy) MaxTimeout() time.Duration { return p.maxTimeout }

// MaxOutput returns the default per-stream output cap in bytes.
func (p *Policy) MaxOutput() int { return p.maxOutput }

// StreamTimeout returns the default streaming early-return timer.
func (p *Policy) StreamTimeout() time.Duration { return p.streamTimeout }

// StreamBufferSize returns the default combined-size streaming
// threshold in bytes.
func (p *Policy) StreamBufferSize() int { return p.streamBufferSize }

// IsAllowed reports whether the program base name is on the allow-list.
func (p *Policy) IsAllowed(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.allowed[name]
	return ok
}

// Allowed returns the allow-list sorted for deterministic output.
func (p *Policy) Allowed() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.allowed))
	for name := range p.allowed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Allow adds a program name to the allow-list.
func (p *Policy) Allow(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowed[name] = struct{}{}
}

// Disallow removes a program name from the allow-list.
func (p *Policy) Disallow(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.allowed, name)
}
