package engine

import "time"

// Sentinel exit codes for results that do not carry a real process exit
// status.
const (
	// ExitCodeTimeout marks a result produced by the hard timeout.
	ExitCodeTimeout = -1
	// ExitCodeStreaming marks a partial result returned early by the
	// streaming controller.
	ExitCodeStreaming = -2
)

// Result holds the outcome of a command execution. Exactly one Result
// is produced per Request, whichever completion path fires first.
type Result struct {
	RunID string // unique identifier for this run

	Line string // command line handed to the shell
	Dir  string // resolved working directory

	ExitCode int  // process exit code, or a sentinel
	Success  bool // true only for a real zero exit

	Stdout string // captured stdout, possibly truncated
	Stderr string // captured stderr, possibly truncated

	StdoutTruncated bool
	StderrTruncated bool

	Err string // classification and context when the run failed

	// Partial is set on streaming early-returns; Running reports
	// whether the process was left alive at that point.
	Partial bool
	Running bool

	Duration time.Duration
}
