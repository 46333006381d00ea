// Package shellenv supplies the baseline environment for executions.
// The real baseline comes from sourcing the user's login shell profile
// once at startup; tests and embedders inject fixed mappings instead.
package shellenv

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Provider yields an environment variable mapping.
type Provider interface {
	Environ(ctx context.Context) (map[string]string, error)
}

// Static is a fixed mapping, used in tests and for config-level
// overrides.
type Static map[string]string

func (s Static) Environ(context.Context) (map[string]string, error) {
	env := make(map[string]string, len(s))
	for k, v := range s {
		env[k] = v
	}
	return env, nil
}

// System captures the host process environment.
type System struct{}

func (System) Environ(context.Context) (map[string]string, error) {
	return ParseEnviron(os.Environ()), nil
}

// File reads a dotenv file. A missing file yields an empty mapping
// rather than an error, so the file stays optional.
type File struct {
	Path string
}

func (f File) Environ(context.Context) (map[string]string, error) {
	env, err := godotenv.Read(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading env file %s: %w", f.Path, err)
	}
	return env, nil
}

// LoginShell launches the user's login shell to source its profile and
// captures the resulting variable set. This is a one-time startup step;
// failures should be treated as "fall back to the process environment".
type LoginShell struct {
	// Shell is the shell binary. Defaults to $SHELL, then /bin/sh.
	Shell string

	// Timeout bounds the capture. Defaults to 10 seconds; profile
	// files that hang must not block startup forever.
	Timeout time.Duration
}

func (l LoginShell) Environ(ctx context.Context) (map[string]string, error) {
	shell := l.Shell
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/sh"
	}
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, shell, "-l", "-c", "env").Output()
	if err != nil {
		return nil, fmt.Errorf("capturing %s login environment: %w", shell, err)
	}
	return ParseEnviron(strings.Split(string(out), "\n")), nil
}

// Merge runs the providers in order and overlays their mappings; later
// providers win on key conflicts.
func Merge(ctx context.Context, providers ...Provider) (map[string]string, error) {
	merged := map[string]string{}
	for _, p := range providers {
		env, err := p.Environ(ctx)
		if err != nil {
			return nil, err
		}
		for k, v := range env {
			merged[k] = v
		}
	}
	return merged, nil
}

// ParseEnviron converts KEY=VALUE lines into a mapping, skipping lines
// without a separator (continuation lines of multi-line values are
// dropped rather than misparsed).
func ParseEnviron(lines []string) map[string]string {
	env := make(map[string]string, len(lines))
	for _, line := range lines {
		k, v, ok := strings.Cut(line, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = v
	}
	return env
}
