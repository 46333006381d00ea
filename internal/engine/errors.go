package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoCommand is returned when a request carries no command at all.
var ErrNoCommand = errors.New("no command specified")

// CdNotSupportedError is returned when the requested program is a
// directory-change command. Directory changes must use the request's
// cwd field instead; a child process cannot change its parent's
// working directory.
type CdNotSupportedError struct {
	Command string
}

func (e *CdNotSupportedError) Error() string {
	return fmt.Sprintf("%s: changing directories is not supported; set the cwd field on the request instead", e.Command)
}

// CommandNotAllowedError is returned when the requested program is not
// on the policy allow-list. Allowed is sorted.
type CommandNotAllowedError struct {
	Command string
	Allowed []string
}

func (e *CommandNotAllowedError) Error() string {
	return fmt.Sprintf("command %q is not allowed; allowed commands: %s", e.Command, strings.Join(e.Allowed, ", "))
}

// DirOutsideBaseError is returned when the requested working directory
// resolves outside the policy base directory.
type DirOutsideBaseError struct {
	Base      string
	Requested string
	Resolved  string
}

func (e *DirOutsideBaseError) Error() string {
	return fmt.Sprintf("working directory %q resolves to %q, outside base directory %q", e.Requested, e.Resolved, e.Base)
}

// DirNotFoundError is returned when the resolved working directory does
// not exist or is not a directory.
type DirNotFoundError struct {
	Base     string
	Resolved string
}

func (e *DirNotFoundError) Error() string {
	return fmt.Sprintf("working directory %q does not exist (base directory %q)", e.Resolved, e.Base)
}
