// Package testutil holds helpers shared by tests.
package testutil

import (
	"os"
	"strings"
	"testing"
)

// Isolate unsets every environment variable whose name starts with prefix
// for the rest of the test, so configuration loaded by the test sees only
// what the test sets itself. The variables are restored by t.Cleanup.
// Tests calling Isolate must not run in parallel.
func Isolate(t *testing.T, prefix string) {
	t.Helper()

	snapshot := map[string]string{}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(k, prefix) {
			snapshot[k] = v
		}
	}
	for k := range snapshot {
		_ = os.Unsetenv(k)
	}

	t.Cleanup(func() {
		for _, kv := range os.Environ() {
			if k, _, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(k, prefix) {
				_ = os.Unsetenv(k)
			}
		}
		for k, v := range snapshot {
			_ = os.Setenv(k, v)
		}
	})
}
