// Package output writes transcript text files next to the database.
package output

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Format selects the transcript file layout.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
)

// ParseFormat parses a format name, defaulting to FormatText.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatText, "txt":
		return FormatText, nil
	case FormatMarkdown, "md":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("unknown transcript format %q", s)
}

// Artifact is one transcript to persist as a file.
type Artifact struct {
	SourceFile    string
	Text          string
	Language      string
	RecordedAt    time.Time
	TranscribedAt time.Time
	// ExistingPath is the file written by a previous transcription of the
	// same recording; it is overwritten rather than creating a new file.
	ExistingPath string
}

// Writer saves transcripts as files in a single directory.
type Writer struct {
	dir          string
	format       Format
	templatePath string
}

// Option configures a Writer.
type Option func(*Writer)

// WithFormat sets the file layout.
func WithFormat(f Format) Option {
	return func(w *Writer) { w.format = f }
}

// WithTemplate prepends the contents of a template file to markdown output.
func WithTemplate(path string) Option {
	return func(w *Writer) { w.templatePath = path }
}

// NewWriter creates a Writer for dir.
func NewWriter(dir string, opts ...Option) *Writer {
	w := &Writer{dir: dir, format: FormatText}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write saves the transcript and returns the path of the file.
func (w *Writer) Write(ctx context.Context, a Artifact) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if w.dir == "" {
		return "", fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	content, err := w.render(a)
	if err != nil {
		return "", fmt.Errorf("render transcript: %w", err)
	}

	target := a.ExistingPath
	if target == "" || filepath.Dir(target) != filepath.Clean(w.dir) {
		if target, err = w.freeName(a.SourceFile); err != nil {
			return "", err
		}
	}

	if err := writeAtomic(target, []byte(content)); err != nil {
		return "", err
	}
	return target, nil
}

// Remove deletes a transcript file. A missing file is not an error.
func (w *Writer) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove transcript file: %w", err)
	}
	return nil
}

func (w *Writer) ext() string {
	if w.format == FormatMarkdown {
		return ".md"
	}
	return ".txt"
}

// freeName picks <stem>.txt, adding -2, -3, ... on collision.
func (w *Writer) freeName(source string) (string, error) {
	base := filepath.Base(source)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		stem = "transcript"
	}
	ext := w.ext()

	candidate := filepath.Join(w.dir, stem+ext)
	if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
		return candidate, nil
	}
	for i := 2; i <= 1000; i++ {
		candidate = filepath.Join(w.dir, fmt.Sprintf("%s-%d%s", stem, i, ext))
		if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("too many transcripts named %s", stem)
}

func (w *Writer) render(a Artifact) (string, error) {
	if w.format != FormatMarkdown {
		return strings.TrimSpace(a.Text) + "\n", nil
	}

	var sb strings.Builder
	if w.templatePath != "" {
		tmpl, err := os.ReadFile(w.templatePath)
		if err != nil {
			return "", fmt.Errorf("read template: %w", err)
		}
		sb.Write(tmpl)
		if len(tmpl) > 0 && tmpl[len(tmpl)-1] != '\n' {
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	} else {
		recorded := a.RecordedAt
		if recorded.IsZero() {
			recorded = a.TranscribedAt
		}
		sb.WriteString("# " + strings.TrimSuffix(filepath.Base(a.SourceFile), filepath.Ext(a.SourceFile)) + "\n\n")
		sb.WriteString(fmt.Sprintf("**Recorded:** %s\n\n", recorded.Format("2006-01-02 15:04")))
		if a.Language != "" {
			sb.WriteString(fmt.Sprintf("**Language:** %s\n\n", a.Language))
		}
		sb.WriteString("## Transcript\n\n")
	}
	sb.WriteString(strings.TrimSpace(a.Text))
	sb.WriteString("\n")
	return sb.String(), nil
}

// writeAtomic writes via a temp file in the same directory so readers never
// see a partial transcript.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".transcript-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write transcript file: %w", err)
	}
	return nil
}
