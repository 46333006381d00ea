package mcp

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/warden/internal/engine"
)

type execParams struct {
	Command string            `json:"command" jsonschema:"Program to run. When args is empty and this contains whitespace it is parsed as a full command line."`
	Args    []string          `json:"args,omitempty" jsonschema:"Program arguments. When set, command is the literal program name."`
	Cwd     string            `json:"cwd,omitempty" jsonschema:"Working directory, resolved inside the base directory. Defaults to the base directory."`
	Env     map[string]string `json:"env,omitempty" jsonschema:"Environment variable overrides merged over the captured baseline."`
	Timeout int               `json:"timeout,omitempty" jsonschema:"Wall-clock limit in milliseconds. Clamped to the policy maximum."`

	MaxOutputSizeMB float64 `json:"maxOutputSizeMB,omitempty" jsonschema:"Per-stream output cap in megabytes. Default: 1."`

	Streaming              bool  `json:"streaming,omitempty" jsonschema:"Return a partial result early once a time or size threshold is hit."`
	StreamingTimeout       int   `json:"streamingTimeout,omitempty" jsonschema:"Streaming time threshold in milliseconds. Default: 10000."`
	StreamingBufferSizeKB  int   `json:"streamingBufferSizeKB,omitempty" jsonschema:"Streaming combined-output size threshold in KB. Default: 100."`
	KillOnStreamingTimeout *bool `json:"killOnStreamingTimeout,omitempty" jsonschema:"Terminate the process when the streaming result is returned. Default: true. Set false to leave it running."`
}

func (h *handler) execHandler(ctx context.Context, req *mcp.CallToolRequest, params execParams) (res *mcp.CallToolResult, out any, err error) {
	// Internal failures must reach the caller as diagnostic text, not
	// as a dropped session.
	defer func() {
		if r := recover(); r != nil {
			h.log.WithField("panic", r).Error("exec handler panicked")
			res, out, err = errorResult(fmt.Sprintf(
				"Internal error.\n\nCommand: %s\nArgs: %v\nDirectory: %s\n\n%v\n\n%s",
				params.Command, params.Args, params.Cwd, r, debug.Stack()))
		}
	}()

	request := engine.Request{
		Command:          params.Command,
		Args:             params.Args,
		Dir:              params.Cwd,
		Env:              params.Env,
		Timeout:          time.Duration(params.Timeout) * time.Millisecond,
		MaxOutput:        int(params.MaxOutputSizeMB * 1024 * 1024),
		Streaming:        params.Streaming,
		StreamTimeout:    time.Duration(params.StreamingTimeout) * time.Millisecond,
		StreamBufferSize: params.StreamingBufferSizeKB * 1024,
	}
	if params.KillOnStreamingTimeout != nil && !*params.KillOnStreamingTimeout {
		request.LeaveRunning = true
	}

	result, runErr := h.engine.Run(ctx, request)
	if runErr != nil {
		return errorResult(formatValidationError(params, runErr))
	}
	if result.Partial {
		return textResult(formatStreaming(result))
	}
	if result.Success {
		return textResult(formatSuccess(result))
	}
	return errorResult(formatFailure(result))
}

// formatValidationError renders pre-spawn failures with enough context
// to correct the request.
func formatValidationError(params execParams, err error) string {
	var b strings.Builder

	var notAllowed *engine.CommandNotAllowedError
	var cd *engine.CdNotSupportedError
	var outside *engine.DirOutsideBaseError
	var notFound *engine.DirNotFoundError

	switch {
	case errors.As(err, &notAllowed):
		fmt.Fprintf(&b, "Command not allowed: %s\n\n", notAllowed.Command)
		writeRequest(&b, params)
		fmt.Fprintln(&b, "Allowed commands:")
		for _, name := range notAllowed.Allowed {
			fmt.Fprintf(&b, "  %s\n", name)
		}

	case errors.As(err, &cd):
		fmt.Fprintf(&b, "Directory changes are not supported: %s\n\n", cd.Command)
		writeRequest(&b, params)
		fmt.Fprintln(&b, "Set the cwd field to run the command in another directory inside the base directory.")

	case errors.As(err, &outside):
		fmt.Fprintln(&b, "Working directory outside base directory.")
		fmt.Fprintln(&b)
		writeRequest(&b, params)
		fmt.Fprintf(&b, "Base directory: %s\n", outside.Base)
		fmt.Fprintf(&b, "Resolved path:  %s\n", outside.Resolved)

	case errors.As(err, &notFound):
		fmt.Fprintln(&b, "Working directory not found.")
		fmt.Fprintln(&b)
		writeRequest(&b, params)
		fmt.Fprintf(&b, "Base directory: %s\n", notFound.Base)
		fmt.Fprintf(&b, "Resolved path:  %s\n", notFound.Resolved)

	default:
		fmt.Fprintf(&b, "Invalid request: %v\n\n", err)
		writeRequest(&b, params)
	}

	return b.String()
}

func writeRequest(b *strings.Builder, params execParams) {
	fmt.Fprintf(b, "Command: %s\n", params.Command)
	if len(params.Args) > 0 {
		fmt.Fprintf(b, "Args: %s\n", strings.Join(params.Args, " "))
	}
	if params.Cwd != "" {
		fmt.Fprintf(b, "Cwd: %s\n", params.Cwd)
	}
	fmt.Fprintln(b)
}

func formatSuccess(r *engine.Result) string {
	var b strings.Builder

	if r.Stdout == "" {
		fmt.Fprintln(&b, "(no output)")
	} else {
		b.WriteString(r.Stdout)
		if !strings.HasSuffix(r.Stdout, "\n") {
			b.WriteByte('\n')
		}
	}
	if r.Stderr != "" {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "stderr:")
		fmt.Fprintln(&b, r.Stderr)
	}
	writeTruncationHint(&b, r)
	return b.String()
}

func formatFailure(r *engine.Result) string {
	var b strings.Builder

	switch r.ExitCode {
	case engine.ExitCodeTimeout:
		fmt.Fprintln(&b, "Command timed out.")
	default:
		fmt.Fprintf(&b, "Command failed (exit code %d).\n", r.ExitCode)
	}
	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "Command: %s\n", r.Line)
	fmt.Fprintf(&b, "Directory: %s\n", r.Dir)
	fmt.Fprintf(&b, "Exit code: %d\n", r.ExitCode)
	if r.Err != "" {
		fmt.Fprintf(&b, "Error: %s\n", r.Err)
	}
	writeOutput(&b, r)
	writeTruncationHint(&b, r)
	return b.String()
}

// formatStreaming renders a streaming early-return. It is partial data,
// not a failure: the process was interrupted (or left running) because
// a streaming threshold was hit.
func formatStreaming(r *engine.Result) string {
	var b strings.Builder

	if r.Running {
		fmt.Fprintln(&b, "Partial result; the process is still running in the background.")
	} else {
		fmt.Fprintln(&b, "Partial result; the process was terminated at the streaming threshold.")
	}
	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "Command: %s\n", r.Line)
	fmt.Fprintf(&b, "Directory: %s\n", r.Dir)
	fmt.Fprintf(&b, "Elapsed: %v\n", r.Duration.Round(time.Millisecond))
	writeOutput(&b, r)
	writeTruncationHint(&b, r)
	return b.String()
}

func writeOutput(b *strings.Builder, r *engine.Result) {
	fmt.Fprintln(b)
	if r.Stdout != "" {
		fmt.Fprintln(b, "stdout:")
		fmt.Fprintln(b, r.Stdout)
	}
	if r.Stderr != "" {
		fmt.Fprintln(b, "stderr:")
		fmt.Fprintln(b, r.Stderr)
	}
	if r.Stdout == "" && r.Stderr == "" {
		fmt.Fprintln(b, "(no output)")
	}
}

func writeTruncationHint(b *strings.Builder, r *engine.Result) {
	if !r.StdoutTruncated && !r.StderrTruncated {
		return
	}
	fmt.Fprintln(b)
	fmt.Fprintln(b, "Output was truncated. Increase maxOutputSizeMB, redirect output to a file, or filter it (grep, head, tail).")
}
