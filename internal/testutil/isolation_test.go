package testutil

import (
	"os"
	"testing"
)

func TestIsolate_ClearsAndRestoresPrefixedEnv(t *testing.T) {
	t.Setenv("TESTUTIL_KEEP", "orig")
	t.Setenv("UNRELATED_TESTUTIL", "stays")

	t.Run("isolated", func(t *testing.T) {
		Isolate(t, "TESTUTIL_")
		if _, ok := os.LookupEnv("TESTUTIL_KEEP"); ok {
			t.Fatalf("TESTUTIL_KEEP should be unset inside the isolated test")
		}
		if v := os.Getenv("UNRELATED_TESTUTIL"); v != "stays" {
			t.Fatalf("expected unrelated variable untouched, got %q", v)
		}
		os.Setenv("TESTUTIL_ADDED", "x")
		os.Setenv("TESTUTIL_KEEP", "changed")
	})

	if v := os.Getenv("TESTUTIL_KEEP"); v != "orig" {
		t.Fatalf("expected TESTUTIL_KEEP=orig after restore, got %q", v)
	}
	if _, ok := os.LookupEnv("TESTUTIL_ADDED"); ok {
		t.Fatalf("TESTUTIL_ADDED should be unset after restore")
	}
}
