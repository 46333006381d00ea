package engine

import (
	"path/filepath"
	"strings"
)

// validateProgram checks the program name against the policy. The check
// applies to the base name, so "/usr/bin/cd" and "cd" are treated alike.
func (e *Engine) validateProgram(program string) error {
	base := filepath.Base(program)

	if strings.EqualFold(base, "cd") {
		return &CdNotSupportedError{Command: program}
	}

	if !e.policy.IsAllowed(base) {
		return &CommandNotAllowedError{
			Command: program,
			Allowed: e.policy.Allowed(),
		}
	}
	return nil
}
