package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deixis/warden/internal/policy"
)

func newValidateTestEngine(t *testing.T, allow ...string) *Engine {
	t.Helper()
	p, err := policy.New(policy.Config{BaseDir: t.TempDir(), Allow: allow})
	require.NoError(t, err)
	return New(p, nil)
}

func TestValidateProgram_Allowed(t *testing.T) {
	e := newValidateTestEngine(t, "ls", "git")

	assert.NoError(t, e.validateProgram("ls"))
	assert.NoError(t, e.validateProgram("git"))
	// Path prefixes are stripped before the allow-list check.
	assert.NoError(t, e.validateProgram("/usr/bin/ls"))
}

func TestValidateProgram_NotAllowed(t *testing.T) {
	e := newValidateTestEngine(t, "ls", "git", "cat")

	err := e.validateProgram("rm")
	var notAllowed *CommandNotAllowedError
	require.ErrorAs(t, err, &notAllowed)
	assert.Equal(t, "rm", notAllowed.Command)
	// Error enumerates the full allow-list, sorted.
	assert.Equal(t, []string{"cat", "git", "ls"}, notAllowed.Allowed)
	assert.Contains(t, err.Error(), "cat, git, ls")
}

func TestValidateProgram_CdRejected(t *testing.T) {
	// Rejected regardless of allow-list membership, case, or path.
	e := newValidateTestEngine(t, "cd", "CD", "ls")

	for _, name := range []string{"cd", "CD", "Cd", "/usr/bin/cd"} {
		err := e.validateProgram(name)
		var cd *CdNotSupportedError
		require.ErrorAs(t, err, &cd, "program %q", name)
		assert.Contains(t, err.Error(), "cwd field")
	}
}

func TestValidateProgram_CdPrefixNamesAllowed(t *testing.T) {
	e := newValidateTestEngine(t, "cdk")
	assert.NoError(t, e.validateProgram("cdk"))
}
