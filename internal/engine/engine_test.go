package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deixis/warden/internal/policy"
)

func newTestEngine(t *testing.T, mutate func(*policy.Config)) *Engine {
	t.Helper()
	cfg := policy.Config{
		BaseDir: t.TempDir(),
		Allow:   []string{"echo", "ls", "pwd", "sh", "sleep", "true", "false", "env", "cat"},
		BaselineEnv: map[string]string{
			"PATH": os.Getenv("PATH"),
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := policy.New(cfg)
	require.NoError(t, err)

	e := New(p, nil)
	e.GracePeriod = 200 * time.Millisecond
	return e
}

func TestRun_Success(t *testing.T) {
	e := newTestEngine(t, nil)

	res, err := e.Run(context.Background(), Request{Command: "echo", Args: []string{"hello"}})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.True(t, res.Success)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Empty(t, res.Err)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, e.Policy().BaseDir(), res.Dir)
}

func TestRun_TokenizesCommandLine(t *testing.T) {
	e := newTestEngine(t, nil)

	res, err := e.Run(context.Background(), Request{Command: "echo hello world"})
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", res.Stdout)
}

func TestRun_ArgsSkipTokenization(t *testing.T) {
	e := newTestEngine(t, nil)

	// With args present the command is the literal program name, so a
	// command string with whitespace is not re-split.
	_, err := e.Run(context.Background(), Request{Command: "echo hello", Args: []string{"x"}})
	var notAllowed *CommandNotAllowedError
	require.ErrorAs(t, err, &notAllowed)
	assert.Equal(t, "echo hello", notAllowed.Command)
}

func TestRun_NoCommand(t *testing.T) {
	e := newTestEngine(t, nil)

	_, err := e.Run(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNoCommand)
}

func TestRun_NonZeroExit(t *testing.T) {
	e := newTestEngine(t, nil)

	res, err := e.Run(context.Background(), Request{Command: "sh", Args: []string{"-c", "exit 3"}})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.Success)
	assert.Contains(t, res.Err, "exited with code 3")
}

func TestRun_CommandNotFound(t *testing.T) {
	e := newTestEngine(t, func(cfg *policy.Config) {
		cfg.Allow = append(cfg.Allow, "no-such-binary-xyz")
	})

	res, err := e.Run(context.Background(), Request{Command: "no-such-binary-xyz"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 127, res.ExitCode)
	assert.Contains(t, res.Err, "command not found")
	assert.Contains(t, res.Err, "no-such-binary-xyz")
}

func TestRun_CwdWithinBase(t *testing.T) {
	e := newTestEngine(t, nil)
	sub := filepath.Join(e.Policy().BaseDir(), "subdir")
	require.NoError(t, os.Mkdir(sub, 0o755))

	res, err := e.Run(context.Background(), Request{Command: "pwd", Dir: "subdir"})
	require.NoError(t, err)
	assert.Contains(t, res.Stdout, "subdir")
	assert.Equal(t, sub, res.Dir)
}

func TestRun_CwdOutsideBase_NoSpawn(t *testing.T) {
	e := newTestEngine(t, nil)

	_, err := e.Run(context.Background(), Request{Command: "echo", Dir: "../outside"})
	var outside *DirOutsideBaseError
	assert.ErrorAs(t, err, &outside)
}

func TestRun_EnvOverride(t *testing.T) {
	e := newTestEngine(t, nil)

	res, err := e.Run(context.Background(), Request{
		Command: "sh",
		Args:    []string{"-c", "echo $WARDEN_TEST_VAR"},
		Env:     map[string]string{"WARDEN_TEST_VAR": "override"},
	})
	require.NoError(t, err)
	assert.Equal(t, "override\n", res.Stdout)
}

func TestRun_StderrCaptured(t *testing.T) {
	e := newTestEngine(t, nil)

	res, err := e.Run(context.Background(), Request{Command: "sh", Args: []string{"-c", "echo oops >&2"}})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "oops\n", res.Stderr)
}

func TestRun_Timeout(t *testing.T) {
	e := newTestEngine(t, nil)

	start := time.Now()
	res, err := e.Run(context.Background(), Request{
		Command: "sleep",
		Args:    []string{"10"},
		Timeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second, "must return well before the sleep finishes")
	assert.Equal(t, ExitCodeTimeout, res.ExitCode)
	assert.False(t, res.Success)
	assert.Contains(t, res.Err, "timed out")
	assert.Contains(t, res.Err, "bytes buffered")
}

func TestRun_TimeoutKeepsPartialOutput(t *testing.T) {
	e := newTestEngine(t, nil)

	res, err := e.Run(context.Background(), Request{
		Command: "sh",
		Args:    []string{"-c", "echo before; sleep 10"},
		Timeout: 300 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, ExitCodeTimeout, res.ExitCode)
	assert.Contains(t, res.Stdout, "before")
}

func TestRun_TimeoutClampedToPolicyMax(t *testing.T) {
	e := newTestEngine(t, func(cfg *policy.Config) {
		cfg.MaxTimeout = 200 * time.Millisecond
	})

	start := time.Now()
	res, err := e.Run(context.Background(), Request{
		Command: "sleep",
		Args:    []string{"10"},
		Timeout: time.Hour,
	})
	require.NoError(t, err)
	assert.Equal(t, ExitCodeTimeout, res.ExitCode)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRun_OutputTruncation(t *testing.T) {
	e := newTestEngine(t, nil)

	res, err := e.Run(context.Background(), Request{
		Command:   "sh",
		Args:      []string{"-c", "i=0; while [ $i -lt 200 ]; do echo 0123456789abcdef; i=$((i+1)); done"},
		MaxOutput: 1000,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.StdoutTruncated)
	assert.Contains(t, res.Stdout, truncationMarker)
	assert.True(t, strings.HasPrefix(res.Stdout, "0123456789abcdef"))
	assert.LessOrEqual(t, len(res.Stdout), 1000+len(truncationMarker))
}

func TestRun_StreamingBufferThreshold(t *testing.T) {
	e := newTestEngine(t, nil)

	start := time.Now()
	res, err := e.Run(context.Background(), Request{
		Command:          "sh",
		Args:             []string{"-c", "while :; do echo 0123456789; done"},
		Streaming:        true,
		StreamTimeout:    10 * time.Second,
		StreamBufferSize: 2048,
		Timeout:          30 * time.Second,
	})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, ExitCodeStreaming, res.ExitCode)
	assert.False(t, res.Success)
	assert.True(t, res.Partial)
	assert.False(t, res.Running, "killed by default")
	assert.GreaterOrEqual(t, len(res.Stdout), 2048)
}

func TestRun_StreamingTimeout(t *testing.T) {
	e := newTestEngine(t, nil)

	start := time.Now()
	res, err := e.Run(context.Background(), Request{
		Command:       "sh",
		Args:          []string{"-c", "echo started; sleep 10"},
		Streaming:     true,
		StreamTimeout: 200 * time.Millisecond,
		Timeout:       30 * time.Second,
	})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, res.Partial)
	assert.Equal(t, ExitCodeStreaming, res.ExitCode)
	assert.Contains(t, res.Stdout, "started")
	assert.False(t, res.Running)
}

func TestRun_StreamingLeaveRunning(t *testing.T) {
	e := newTestEngine(t, nil)

	res, err := e.Run(context.Background(), Request{
		Command:       "sh",
		Args:          []string{"-c", "echo started; sleep 1"},
		Streaming:     true,
		StreamTimeout: 200 * time.Millisecond,
		LeaveRunning:  true,
		Timeout:       30 * time.Second,
	})
	require.NoError(t, err)

	assert.True(t, res.Partial)
	assert.True(t, res.Running, "process reported as still running")
	assert.Contains(t, res.Stdout, "started")

	// Give the reaper time to collect the process before the test ends.
	time.Sleep(1200 * time.Millisecond)
}

func TestRun_ExactlyOneResult(t *testing.T) {
	// Race process exit against the streaming size threshold; whichever
	// side wins, Run must return a single coherent result.
	e := newTestEngine(t, nil)

	for i := 0; i < 10; i++ {
		res, err := e.Run(context.Background(), Request{
			Command:          "echo",
			Args:             []string{"hi"},
			Streaming:        true,
			StreamBufferSize: 1,
			StreamTimeout:    10 * time.Second,
		})
		require.NoError(t, err)
		require.NotNil(t, res)
		if res.Partial {
			assert.Equal(t, ExitCodeStreaming, res.ExitCode)
		} else {
			assert.Equal(t, 0, res.ExitCode)
		}
		assert.Contains(t, res.Stdout, "hi")
	}
}

func TestRun_ContextCanceled(t *testing.T) {
	e := newTestEngine(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	res, err := e.Run(ctx, Request{Command: "sleep", Args: []string{"10"}})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Err, "canceled")
}

func TestShellLine_Quoting(t *testing.T) {
	tests := []struct {
		program string
		args    []string
		want    string
	}{
		{"ls", []string{"-la"}, "ls -la"},
		{"echo", []string{"hello world"}, "echo 'hello world'"},
		{"echo", []string{""}, "echo ''"},
		{"grep", []string{"it's"}, `grep 'it'\''s'`},
		// Bare metacharacters pass through to the shell untouched.
		{"echo", []string{"$HOME"}, "echo $HOME"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, shellLine(tc.program, tc.args))
	}
}

func TestRun_QuotedArgStaysOneWord(t *testing.T) {
	e := newTestEngine(t, nil)

	res, err := e.Run(context.Background(), Request{
		Command: "sh",
		Args:    []string{"-c", `echo "$#"`, "argv0", "a b"},
	})
	require.NoError(t, err)
	assert.Equal(t, "1\n", res.Stdout, "quoted argument must reach the shell as one word")
}
