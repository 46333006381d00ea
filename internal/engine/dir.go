package engine

import (
	"os"
	"path/filepath"
	"strings"
)

// resolveDir resolves the requested working directory against the policy
// base directory and validates it stays within it.
//
// Containment uses filepath.Rel rather than a plain string-prefix
// comparison, so a sibling whose name shares the base as a prefix
// (base /work, requested /workspace-evil) is rejected. The resolved
// directory must also exist on disk.
func (e *Engine) resolveDir(requested string) (string, error) {
	base := e.policy.BaseDir()
	if requested == "" {
		return base, nil
	}

	var dir string
	if filepath.IsAbs(requested) {
		dir = filepath.Clean(requested)
	} else {
		dir = filepath.Clean(filepath.Join(base, requested))
	}

	rel, err := filepath.Rel(base, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &DirOutsideBaseError{Base: base, Requested: requested, Resolved: dir}
	}

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", &DirNotFoundError{Base: base, Resolved: dir}
	}
	return dir, nil
}
