// Package engine adapts speech-to-text backends: whisper.cpp's CLI and the
// whisper-asr-webservice HTTP API.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/TechnicallyShaun/memoscribe/internal/domain"
)

// Engine turns normalized audio into text.
type Engine interface {
	Transcribe(ctx context.Context, audioPath string, opts Options) (*Result, error)
}

// Options configures one transcription.
type Options struct {
	// Language is auto (engine detects) or a forced code.
	Language domain.LanguageMode
	Model    string
}

// Result is the engine output.
type Result struct {
	Text string
	// Language is the detected or forced code; empty when unknown.
	Language string
	Duration time.Duration
}

// ErrEmptyTranscript means the engine produced no text (silence or no speech).
var ErrEmptyTranscript = errors.New("no speech detected")

// Error is an engine failure classified for retry.
type Error struct {
	Op        string
	Status    int
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether retrying err cannot help: a 4xx rejection, an
// explicitly permanent engine error or an empty transcript. Everything else,
// including timeouts, crashes and network errors, is transient.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrEmptyTranscript) {
		return true
	}
	var ee *Error
	if errors.As(err, &ee) {
		return !ee.Transient
	}
	return false
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return !IsPermanent(err)
}

// statusTransient classifies an HTTP status: 5xx and 429 are worth retrying.
func statusTransient(status int) bool {
	return status >= 500 || status == 429 || status == 408
}
