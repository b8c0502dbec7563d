// Package notify shows desktop notifications when a transcription finishes or
// fails and when a capture is saved.
package notify

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/command"
)

// Notifier delivers one user-visible notification.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// Nop drops every notification.
type Nop struct{}

var _ Notifier = Nop{}

// Notify does nothing.
func (Nop) Notify(context.Context, string, string) error { return nil }

// DefaultOSAScriptPath is the macOS scripting tool used to post notifications.
const DefaultOSAScriptPath = "osascript"

// OSAScript posts notifications through the macOS notification center.
type OSAScript struct {
	runner command.Runner
	binary string
}

var _ Notifier = (*OSAScript)(nil)

// NewOSAScript creates an OSAScript notifier. runner may be nil.
func NewOSAScript(runner command.Runner) *OSAScript {
	if runner == nil {
		runner = command.ExecRunner{}
	}
	return &OSAScript{runner: runner, binary: DefaultOSAScriptPath}
}

// Notify runs `display notification` with the given title and message.
func (o *OSAScript) Notify(ctx context.Context, title, message string) error {
	script := fmt.Sprintf("display notification %s with title %s", quote(message), quote(title))
	res, err := o.runner.Run(ctx, o.binary, "-e", script)
	if err != nil {
		return fmt.Errorf("notify: %s", command.Describe(o.binary, res, err))
	}
	return nil
}

// New returns an OSAScript notifier on macOS when enabled, otherwise Nop.
func New(enabled bool, runner command.Runner) Notifier {
	return forPlatform(runtime.GOOS, enabled, runner)
}

func forPlatform(goos string, enabled bool, runner command.Runner) Notifier {
	if !enabled || goos != "darwin" {
		return Nop{}
	}
	return NewOSAScript(runner)
}

// quote renders s as an AppleScript string literal.
func quote(s string) string {
	s = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\r", " ", "\n", " ").Replace(s)
	return `"` + s + `"`
}
