package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/command"
)

type fakeRunner struct {
	name string
	args []string
	err  error
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) (command.Result, error) {
	r.name = name
	r.args = args
	if r.err != nil {
		return command.Result{ExitCode: 1, Stderr: "execution error"}, r.err
	}
	return command.Result{}, nil
}

func TestOSAScript_Notify(t *testing.T) {
	r := &fakeRunner{}
	n := NewOSAScript(r)

	if err := n.Notify(context.Background(), "Transcription complete", "hello world"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if r.name != "osascript" {
		t.Errorf("binary = %q", r.name)
	}
	want := []string{"-e", `display notification "hello world" with title "Transcription complete"`}
	if len(r.args) != 2 || r.args[0] != want[0] || r.args[1] != want[1] {
		t.Errorf("args = %q, want %q", r.args, want)
	}
}

func TestOSAScript_EscapesQuotes(t *testing.T) {
	r := &fakeRunner{}
	n := NewOSAScript(r)

	msg := "she said \"stop\"\nthen left C:\\tmp"
	if err := n.Notify(context.Background(), `a "b"`, msg); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	script := r.args[1]
	if !strings.Contains(script, `"she said \"stop\" then left C:\\tmp"`) {
		t.Errorf("message not escaped: %s", script)
	}
	if !strings.HasSuffix(script, `with title "a \"b\""`) {
		t.Errorf("title not escaped: %s", script)
	}
}

func TestOSAScript_ReportsFailure(t *testing.T) {
	r := &fakeRunner{err: errors.New("exit status 1")}
	err := NewOSAScript(r).Notify(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "execution error") {
		t.Errorf("err = %v", err)
	}
}

func TestForPlatform(t *testing.T) {
	tests := []struct {
		goos    string
		enabled bool
		osa     bool
	}{
		{"darwin", true, true},
		{"darwin", false, false},
		{"linux", true, false},
		{"windows", true, false},
	}
	for _, tt := range tests {
		_, isOSA := forPlatform(tt.goos, tt.enabled, &fakeRunner{}).(*OSAScript)
		if isOSA != tt.osa {
			t.Errorf("forPlatform(%q, %v): osascript = %v, want %v", tt.goos, tt.enabled, isOSA, tt.osa)
		}
	}
}

func TestNop(t *testing.T) {
	if err := (Nop{}).Notify(context.Background(), "t", "m"); err != nil {
		t.Errorf("Nop.Notify: %v", err)
	}
}
