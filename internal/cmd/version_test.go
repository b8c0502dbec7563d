package cmd

import (
	"bytes"
	"runtime"
	"strings"
	"testing"
)

func setBuildInfo(t *testing.T, version, commit string) {
	t.Helper()
	origVersion, origCommit := Version, Commit
	t.Cleanup(func() {
		Version, Commit = origVersion, origCommit
	})
	Version, Commit = version, commit
}

func TestVersion_PrintsVersionAndCommit(t *testing.T) {
	setBuildInfo(t, "1.2.3", "abc1234")

	var buf bytes.Buffer
	cmd := NewVersionCmd()
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	output := buf.String()
	if !strings.HasPrefix(output, "memoscribe 1.2.3 (commit: abc1234, ") {
		t.Errorf("unexpected output: %q", output)
	}
	if !strings.Contains(output, runtime.Version()) {
		t.Errorf("expected Go version in output: %q", output)
	}
}

func TestVersion_CommitFallsBackWithoutLdflags(t *testing.T) {
	setBuildInfo(t, "dev", "unknown")

	if got := commitHash(); got == "" {
		t.Error("expected a non-empty commit")
	}
}

func TestVersion_RejectsArguments(t *testing.T) {
	cmd := NewVersionCmd()
	cmd.SetArgs([]string{"extra"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil {
		t.Error("expected error when an argument is provided")
	}
}
