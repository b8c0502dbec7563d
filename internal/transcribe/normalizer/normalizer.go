// Package normalizer converts source audio into the 16 kHz mono PCM WAV the
// speech engine expects.
package normalizer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/command"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/metadata"
)

const (
	sampleRate   = 16000
	bytesPerSec  = sampleRate * 2 // mono, 16-bit
	wavHeaderLen = 44
)

// FormatError means the source can never be turned into usable audio.
// It is not retried.
type FormatError struct {
	Path   string
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("unsupported audio %s: %s", e.Path, e.Reason)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err is a FormatError.
func IsPermanent(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

// Normalized is a converted audio file owned by the caller.
type Normalized struct {
	Path     string
	Duration time.Duration
}

// Cleanup removes the converted file.
func (n *Normalized) Cleanup() error {
	if n == nil || n.Path == "" {
		return nil
	}
	if err := os.Remove(n.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// FFmpeg normalizes audio by shelling out to ffmpeg.
type FFmpeg struct {
	binary  string
	workDir string
	runner  command.Runner
	sniff   func(path string) (string, error)
}

// Option configures FFmpeg.
type Option func(*FFmpeg)

// WithBinary sets the ffmpeg executable.
func WithBinary(path string) Option {
	return func(f *FFmpeg) { f.binary = path }
}

// WithWorkDir sets where converted files are written (default: os.TempDir()).
func WithWorkDir(dir string) Option {
	return func(f *FFmpeg) { f.workDir = dir }
}

// WithRunner replaces the process runner.
func WithRunner(r command.Runner) Option {
	return func(f *FFmpeg) { f.runner = r }
}

// New creates an ffmpeg normalizer.
func New(opts ...Option) *FFmpeg {
	f := &FFmpeg{
		binary: "ffmpeg",
		runner: command.ExecRunner{},
		sniff:  metadata.DetectMIME,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Normalize converts input to a temporary WAV file.
func (f *FFmpeg) Normalize(ctx context.Context, input string) (*Normalized, error) {
	st, err := os.Stat(input)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &FormatError{Path: input, Reason: "source file no longer exists", Err: err}
		}
		return nil, fmt.Errorf("stat source: %w", err)
	}
	if st.Size() == 0 {
		return nil, &FormatError{Path: input, Reason: "file is empty"}
	}

	mime, err := f.sniff(input)
	if err != nil {
		return nil, fmt.Errorf("sniff source: %w", err)
	}
	if !metadata.IsAudioMIME(mime) {
		return nil, &FormatError{Path: input, Reason: "content is " + mime}
	}

	if f.workDir != "" {
		if err := os.MkdirAll(f.workDir, 0755); err != nil {
			return nil, fmt.Errorf("create work dir: %w", err)
		}
	}
	tmp, err := os.CreateTemp(f.workDir, "memoscribe-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create work file: %w", err)
	}
	tmp.Close()
	out := &Normalized{Path: tmp.Name()}

	res, err := f.runner.Run(ctx, f.binary, buildArgs(input, out.Path)...)
	if err != nil {
		out.Cleanup()
		switch {
		case command.IsNotFound(err):
			return nil, fmt.Errorf("run ffmpeg: %w", err)
		case ctx.Err() != nil:
			return nil, fmt.Errorf("run ffmpeg: %w", ctx.Err())
		}
		return nil, &FormatError{Path: input, Reason: command.Describe("ffmpeg", res, err), Err: err}
	}

	wav, err := os.Stat(out.Path)
	if err != nil || wav.Size() <= wavHeaderLen {
		out.Cleanup()
		return nil, &FormatError{Path: input, Reason: "conversion produced no audio"}
	}
	out.Duration = time.Duration(wav.Size()-wavHeaderLen) * time.Second / bytesPerSec
	return out, nil
}

func buildArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", fmt.Sprint(sampleRate),
		"-c:a", "pcm_s16le",
		outPath,
	}
}
