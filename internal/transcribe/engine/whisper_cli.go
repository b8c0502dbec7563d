package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"

	"github.com/TechnicallyShaun/memoscribe/internal/domain"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/command"
)

// WhisperCLI runs whisper.cpp's whisper-cli binary.
type WhisperCLI struct {
	binary    string
	modelPath string
	threads   int
	runner    command.Runner
}

var _ Engine = (*WhisperCLI)(nil)

// WhisperCLIOption configures WhisperCLI.
type WhisperCLIOption func(*WhisperCLI)

// WithThreads sets the number of inference threads.
func WithThreads(n int) WhisperCLIOption {
	return func(w *WhisperCLI) {
		if n > 0 {
			w.threads = n
		}
	}
}

// WithRunner replaces the process runner.
func WithRunner(r command.Runner) WhisperCLIOption {
	return func(w *WhisperCLI) { w.runner = r }
}

// NewWhisperCLI creates an engine that runs binary with the given model file.
func NewWhisperCLI(binary, modelPath string, opts ...WhisperCLIOption) *WhisperCLI {
	w := &WhisperCLI{
		binary:    binary,
		modelPath: modelPath,
		threads:   min(runtime.NumCPU(), 8),
		runner:    command.ExecRunner{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

var detectedLanguageRe = regexp.MustCompile(`auto-detected language:\s*([a-z]{2,3})`)

// Transcribe runs whisper-cli on a 16 kHz WAV file.
func (w *WhisperCLI) Transcribe(ctx context.Context, audioPath string, opts Options) (*Result, error) {
	model := w.modelPath
	if opts.Model != "" {
		model = opts.Model
	}
	if _, err := os.Stat(model); err != nil {
		return nil, &Error{Op: "whisper-cli", Transient: true, Err: fmt.Errorf("model %s: %w", model, err)}
	}

	base := strings.TrimSuffix(audioPath, filepath.Ext(audioPath))
	textPath := base + ".txt"
	defer os.Remove(textPath)

	res, err := w.runner.Run(ctx, w.binary, buildArgs(model, audioPath, base, opts.Language, w.threads)...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Op: "whisper-cli", Transient: true, Err: ctx.Err()}
		}
		return nil, &Error{Op: "whisper-cli", Transient: true, Err: errors.New(command.Describe(w.binary, res, err))}
	}

	data, err := os.ReadFile(textPath)
	if err != nil {
		return nil, &Error{Op: "whisper-cli", Transient: true, Err: fmt.Errorf("read output: %w", err)}
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, ErrEmptyTranscript
	}

	result := &Result{Text: text}
	if opts.Language.IsAuto() {
		if m := detectedLanguageRe.FindStringSubmatch(res.Stderr); m != nil {
			result.Language = m[1]
		}
	} else {
		result.Language = opts.Language.Code()
	}
	return result, nil
}

func buildArgs(modelPath, audioPath, outBase string, lang domain.LanguageMode, threads int) []string {
	return []string{
		"-m", modelPath,
		"-t", strconv.Itoa(threads),
		"-l", lang.String(),
		"-otxt",
		"-of", outBase,
		"-f", audioPath,
	}
}
