package engine

import "time"

// Request describes one command execution. A zero value for any limit
// means "use the policy default". Requests are built per call and not
// reused.
type Request struct {
	// Command is the program name. When Args is empty and Command
	// contains whitespace it is treated as a full command line and
	// tokenized; otherwise it is the literal program name.
	Command string

	// Args are the program arguments.
	Args []string

	// Dir is the working directory, resolved against the policy base
	// directory. Empty means the base directory itself.
	Dir string

	// Env holds per-call environment overrides, merged over the policy
	// baseline.
	Env map[string]string

	// Timeout is the hard wall-clock limit. Clamped to the policy
	// maximum.
	Timeout time.Duration

	// MaxOutput caps each output stream, in bytes.
	MaxOutput int

	// Streaming enables early return of a partial result once
	// StreamTimeout elapses or the combined buffered output reaches
	// StreamBufferSize, whichever happens first.
	Streaming        bool
	StreamTimeout    time.Duration
	StreamBufferSize int

	// LeaveRunning keeps the process alive when a streaming result is
	// returned instead of terminating it. The zero value kills.
	LeaveRunning bool
}
