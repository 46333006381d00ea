package engine

import (
	"os"
	"sort"
	"strings"
)

// composeEnv merges the baseline environment with per-call overrides.
// Override keys win. An empty baseline falls back to the host process
// environment. The result is sorted for determinism.
func composeEnv(baseline, overrides map[string]string) []string {
	merged := make(map[string]string, len(baseline)+len(overrides))
	if len(baseline) == 0 {
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok {
				merged[k] = v
			}
		}
	} else {
		for k, v := range baseline {
			merged[k] = v
		}
	}
	for k, v := range overrides {
		merged[k] = v
	}

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}
