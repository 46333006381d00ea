// Package engine executes shell commands under an execution policy:
// allow-listed programs only, working directories confined to a base
// directory, output captured under per-stream size caps, and wall-clock
// limits enforced with a two-stage kill escalation. Long-running
// commands can return a partial result early via streaming without the
// engine losing track of the process.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/deixis/warden/internal/policy"
)

// DefaultGracePeriod is the delay between the graceful and forceful
// termination signals.
const DefaultGracePeriod = time.Second

// Engine runs commands under a Policy. Engines are safe for concurrent
// use; each call owns its own process and buffers.
type Engine struct {
	// Shell interprets the composed command line. Defaults to /bin/sh.
	Shell string

	// GracePeriod is the SIGTERM-to-SIGKILL delay. Defaults to
	// DefaultGracePeriod.
	GracePeriod time.Duration

	policy *policy.Policy
	log    logrus.FieldLogger
}

// New creates an Engine bound to the given policy.
func New(p *policy.Policy, log logrus.FieldLogger) *Engine {
	if log == nil {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		log = logger
	}
	return &Engine{policy: p, log: log}
}

// Policy returns the engine's execution policy.
func (e *Engine) Policy() *policy.Policy { return e.policy }

// Run executes one request and produces exactly one Result. A non-nil
// error is returned only for validation failures (unknown command,
// directory escape, and so on), before any process is spawned; every
// outcome after spawn, including timeouts and spawn-level OS errors, is
// reported through the Result.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	program := strings.TrimSpace(req.Command)
	if program == "" {
		return nil, ErrNoCommand
	}

	args := req.Args
	if len(args) == 0 && strings.ContainsAny(program, " \t") {
		tokens := SplitCommand(program)
		if len(tokens) == 0 {
			return nil, ErrNoCommand
		}
		program, args = tokens[0], tokens[1:]
	}

	if err := e.validateProgram(program); err != nil {
		return nil, err
	}

	dir, err := e.resolveDir(req.Dir)
	if err != nil {
		return nil, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.policy.Timeout()
	}
	if max := e.policy.MaxTimeout(); timeout > max {
		timeout = max
	}

	maxOutput := req.MaxOutput
	if maxOutput <= 0 {
		maxOutput = e.policy.MaxOutput()
	}

	streamTimeout := req.StreamTimeout
	if streamTimeout <= 0 {
		streamTimeout = e.policy.StreamTimeout()
	}
	streamBuf := req.StreamBufferSize
	if streamBuf <= 0 {
		streamBuf = e.policy.StreamBufferSize()
	}

	return e.spawn(ctx, req, program, args, dir, timeout, streamTimeout, maxOutput, streamBuf), nil
}

// spawn launches the process and owns its lifecycle. The select loop is
// the single consumer of every completion source (exit, hard timeout,
// streaming timer, output threshold, context cancellation), so exactly
// one Result is produced no matter how the sources race; late events
// are absorbed by the buffered wait channel and the reaper.
func (e *Engine) spawn(ctx context.Context, req Request, program string, args []string, dir string, timeout, streamTimeout time.Duration, maxOutput, streamBuf int) *Result {
	runID := uuid.New().String()
	line := shellLine(program, args)

	log := e.log.WithFields(logrus.Fields{
		"run_id":  runID,
		"command": line,
		"dir":     dir,
	})

	stdout := newOutputBuffer(maxOutput)
	stderr := newOutputBuffer(maxOutput)

	// Coalesced output event channel: the streaming controller only
	// needs to re-check sizes, not observe every write.
	output := make(chan struct{}, 1)
	notify := func() {
		select {
		case output <- struct{}{}:
		default:
		}
	}

	env := composeEnv(e.policy.BaselineEnv(), req.Env)

	cmd := exec.Command(e.shell(), "-c", line)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdout = &notifyWriter{w: stdout, notify: notify}
	cmd.Stderr = &notifyWriter{w: stderr, notify: notify}

	start := time.Now()

	finalize := func(exitCode int, errText string) *Result {
		return &Result{
			RunID:           runID,
			Line:            line,
			Dir:             dir,
			ExitCode:        exitCode,
			Success:         exitCode == 0,
			Stdout:          stdout.Snapshot(),
			Stderr:          stderr.Snapshot(),
			StdoutTruncated: stdout.Truncated(),
			StderrTruncated: stderr.Truncated(),
			Err:             errText,
			Duration:        time.Since(start),
		}
	}

	if err := cmd.Start(); err != nil {
		log.WithError(err).Error("spawn failed")
		return finalize(1, classifySpawnError(program, env, err))
	}
	log.Debug("process started")

	waitErr := make(chan error, 1)
	exited := make(chan struct{})
	go func() {
		err := cmd.Wait()
		waitErr <- err
		close(exited)
	}()

	hardTimer := time.NewTimer(timeout)
	defer hardTimer.Stop()

	var streamTimerC <-chan time.Time
	if req.Streaming {
		streamTimer := time.NewTimer(streamTimeout)
		defer streamTimer.Stop()
		streamTimerC = streamTimer.C
	}

	streaming := func() *Result {
		kill := !req.LeaveRunning
		if kill {
			go e.terminate(cmd.Process, exited, log)
		} else {
			go func() {
				<-exited
				log.WithField("elapsed", time.Since(start).Round(time.Millisecond)).
					Info("background process exited")
			}()
		}
		res := finalize(ExitCodeStreaming, "")
		res.Success = false
		res.Partial = true
		res.Running = !kill
		log.WithField("running", res.Running).Debug("streaming early-return")
		return res
	}

	for {
		select {
		case werr := <-waitErr:
			return e.exitResult(finalize, log, program, env, werr)

		case <-hardTimer.C:
			go e.terminate(cmd.Process, exited, log)
			res := finalize(ExitCodeTimeout, fmt.Sprintf(
				"timed out after %v (stdout %d bytes, stderr %d bytes buffered); raise the timeout for longer commands",
				timeout, stdout.Len(), stderr.Len()))
			res.Success = false
			log.WithField("timeout", timeout).Warn("command timed out")
			return res

		case <-streamTimerC:
			return streaming()

		case <-output:
			if req.Streaming && stdout.Len()+stderr.Len() >= streamBuf {
				return streaming()
			}

		case <-ctx.Done():
			go e.terminate(cmd.Process, exited, log)
			res := finalize(ExitCodeTimeout, fmt.Sprintf("canceled: %v", ctx.Err()))
			res.Success = false
			return res
		}
	}
}

// exitResult classifies a completed cmd.Wait. The shell reports an
// unresolvable command as exit 127 and a non-executable one as 126;
// both are surfaced with the same classification as start-time errors.
func (e *Engine) exitResult(finalize func(int, string) *Result, log logrus.FieldLogger, program string, env []string, werr error) *Result {
	exitCode := 0
	errText := ""
	if werr != nil {
		var exitErr *exec.ExitError
		if errors.As(werr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = 1
			errText = fmt.Sprintf("waiting for %s: %v", program, werr)
		}
	}

	switch {
	case errText != "":
	case exitCode == 127:
		errText = fmt.Sprintf("command not found: %s (PATH=%s)", program, envValue(env, "PATH"))
	case exitCode == 126:
		errText = fmt.Sprintf("permission denied running %s", program)
	case exitCode != 0:
		errText = fmt.Sprintf("exited with code %d", exitCode)
	}

	res := finalize(exitCode, errText)
	log.WithFields(logrus.Fields{
		"exit_code": exitCode,
		"elapsed":   res.Duration.Round(time.Millisecond),
	}).Debug("process exited")
	return res
}

// terminate escalates in two stages: SIGTERM, then SIGKILL if the
// process has not confirmed exit within the grace period.
func (e *Engine) terminate(proc *os.Process, exited <-chan struct{}, log logrus.FieldLogger) {
	if proc == nil {
		return
	}
	_ = proc.Signal(syscall.SIGTERM)

	grace := time.NewTimer(e.gracePeriod())
	defer grace.Stop()
	select {
	case <-exited:
	case <-grace.C:
		log.Warn("process ignored SIGTERM, sending SIGKILL")
		_ = proc.Kill()
	}
}

func (e *Engine) shell() string {
	if e.Shell != "" {
		return e.Shell
	}
	return "/bin/sh"
}

func (e *Engine) gracePeriod() time.Duration {
	if e.GracePeriod > 0 {
		return e.GracePeriod
	}
	return DefaultGracePeriod
}

// classifySpawnError maps a start-time OS error onto the engine's error
// taxonomy with enough context to act on.
func classifySpawnError(program string, env []string, err error) string {
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return fmt.Sprintf("executable not found: %s (PATH=%s)", program, envValue(env, "PATH"))
	case errors.Is(err, os.ErrPermission):
		return fmt.Sprintf("permission denied running %s", program)
	default:
		return fmt.Sprintf("starting %s: %v", program, err)
	}
}

func envValue(env []string, key string) string {
	prefix := key + "="
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			return kv[len(prefix):]
		}
	}
	return ""
}

// shellLine joins the program and arguments into the line handed to the
// shell. Arguments containing whitespace or quote characters are
// single-quoted; everything else reaches the shell verbatim, so shell
// metacharacters in arguments keep their meaning. That exposure is
// accepted and bounded by the allow-list.
func shellLine(program string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, program)
	for _, a := range args {
		parts = append(parts, quoteArg(a))
	}
	return strings.Join(parts, " ")
}

func quoteArg(a string) string {
	if a == "" {
		return "''"
	}
	if !strings.ContainsAny(a, " \t\n'\"") {
		return a
	}
	return "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
}

// notifyWriter wraps a buffer and signals the spawn loop after every
// write so the streaming controller can re-check the size threshold.
type notifyWriter struct {
	w      io.Writer
	notify func()
}

func (nw *notifyWriter) Write(p []byte) (int, error) {
	n, err := nw.w.Write(p)
	nw.notify()
	return n, err
}
