// Package domain holds the types shared by the transcription pipeline.
package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// SourceKind identifies where a recording came from.
type SourceKind string

const (
	SourceVoiceMemo SourceKind = "voice_memo"
	SourceDrop      SourceKind = "drop"
	SourceCapture   SourceKind = "capture"
)

// Valid reports whether k is a known source kind.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceVoiceMemo, SourceDrop, SourceCapture:
		return true
	}
	return false
}

// Recording is one physical audio file, identified by its content fingerprint.
type Recording struct {
	ID           string        `json:"id"`
	Path         string        `json:"path"`
	Filename     string        `json:"filename"`
	Source       SourceKind    `json:"source"`
	Size         int64         `json:"size"`
	ModTime      time.Time     `json:"mod_time"`
	RecordedAt   time.Time     `json:"recorded_at"`
	Duration     time.Duration `json:"duration"`
	DiscoveredAt time.Time     `json:"discovered_at"`
}

// JobState tracks a transcription job through its lifecycle.
type JobState string

const (
	JobDiscovered JobState = "discovered"
	JobQueued     JobState = "queued"
	JobRunning    JobState = "running"
	JobSucceeded  JobState = "succeeded"
	JobFailed     JobState = "failed"
)

// ErrInvalidTransition is returned when a job state change is not allowed.
var ErrInvalidTransition = errors.New("invalid job state transition")

// ParseJobState parses a state name.
func ParseJobState(s string) (JobState, error) {
	switch st := JobState(strings.ToLower(strings.TrimSpace(s))); st {
	case JobDiscovered, JobQueued, JobRunning, JobSucceeded, JobFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown job state %q", s)
}

// Active reports whether a job in this state holds the recording's single in-flight slot.
func (s JobState) Active() bool {
	return s == JobQueued || s == JobRunning
}

// CanTransition enforces the job state machine edges.
// Failed and Succeeded only go back to Queued (retry or manual resubmit).
func CanTransition(from, to JobState) bool {
	switch from {
	case JobDiscovered:
		return to == JobQueued
	case JobQueued:
		return to == JobRunning
	case JobRunning:
		return to == JobSucceeded || to == JobFailed || to == JobQueued
	case JobFailed, JobSucceeded:
		return to == JobQueued
	default:
		return false
	}
}

// Job is the current transcription job for a recording.
type Job struct {
	ID            string       `json:"id"`
	RecordingID   string       `json:"recording_id"`
	State         JobState     `json:"state"`
	Attempts      int          `json:"attempts"`
	Language      LanguageMode `json:"language"`
	CreatedAt     time.Time    `json:"created_at"`
	StartedAt     time.Time    `json:"started_at,omitzero"`
	CompletedAt   time.Time    `json:"completed_at,omitzero"`
	NextAttemptAt time.Time    `json:"next_attempt_at,omitzero"`
	LastError     string       `json:"last_error,omitempty"`
}

// Transition moves the job to state to, or returns ErrInvalidTransition.
func (j *Job) Transition(to JobState) error {
	if !CanTransition(j.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.State, to)
	}
	j.State = to
	return nil
}

// JobView is a job joined with the recording it belongs to.
type JobView struct {
	Job
	Filename string     `json:"filename"`
	Path     string     `json:"path"`
	Source   SourceKind `json:"source"`
}

// Transcript is the text produced for a recording, with the recording's metadata.
type Transcript struct {
	RecordingID   string        `json:"id"`
	Filename      string        `json:"filename"`
	AudioPath     string        `json:"audio_path"`
	Source        SourceKind    `json:"source"`
	RecordedAt    time.Time     `json:"recorded_at"`
	Duration      time.Duration `json:"duration"`
	TranscribedAt time.Time     `json:"transcribed_at"`
	Language      string        `json:"language"`
	Text          string        `json:"text"`
	TextPath      string        `json:"text_path,omitempty"`
}

// LanguageMode is either auto-detection or a forced ISO-639-1 code.
// The zero value means auto.
type LanguageMode struct {
	code string
}

// LanguageAuto lets the engine detect the language.
var LanguageAuto = LanguageMode{}

var languageCodeRe = regexp.MustCompile(`^[a-z]{2,3}$`)

// ParseLanguageMode parses "auto", "" or a language code such as "sv".
func ParseLanguageMode(s string) (LanguageMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "auto" {
		return LanguageAuto, nil
	}
	if !languageCodeRe.MatchString(s) {
		return LanguageAuto, fmt.Errorf("invalid language code %q", s)
	}
	return LanguageMode{code: s}, nil
}

// ForcedLanguage returns a mode that forces code. Invalid codes yield auto.
func ForcedLanguage(code string) LanguageMode {
	m, err := ParseLanguageMode(code)
	if err != nil {
		return LanguageAuto
	}
	return m
}

// IsAuto reports whether the engine should detect the language.
func (m LanguageMode) IsAuto() bool { return m.code == "" }

// Code returns the forced code, or "" for auto.
func (m LanguageMode) Code() string { return m.code }

func (m LanguageMode) String() string {
	if m.IsAuto() {
		return "auto"
	}
	return m.code
}

func (m LanguageMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *LanguageMode) UnmarshalText(b []byte) error {
	parsed, err := ParseLanguageMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// DiscoveryEvent announces a settled audio file ready for transcription.
type DiscoveryEvent struct {
	Path         string
	Source       SourceKind
	Size         int64
	ModTime      time.Time
	DiscoveredAt time.Time
	// RecordedAt overrides metadata-based resolution when set (capture sessions).
	RecordedAt time.Time
}

// SubmitResult reports what a submission did.
type SubmitResult string

const (
	SubmitEnqueued           SubmitResult = "enqueued"
	SubmitDuplicate          SubmitResult = "duplicate"
	SubmitAlreadyTranscribed SubmitResult = "already_transcribed"
)

// SortKey selects the date used to order transcripts.
type SortKey string

const (
	SortByRecorded    SortKey = "recorded"
	SortByTranscribed SortKey = "transcribed"
)

// ParseSortKey parses a sort key, defaulting to SortByTranscribed.
func ParseSortKey(s string) (SortKey, error) {
	switch SortKey(strings.ToLower(strings.TrimSpace(s))) {
	case "", SortByTranscribed:
		return SortByTranscribed, nil
	case SortByRecorded:
		return SortByRecorded, nil
	}
	return "", fmt.Errorf("unknown sort key %q", s)
}

// Order is the sort direction.
type Order string

const (
	Ascending  Order = "asc"
	Descending Order = "desc"
)

// ParseOrder parses a sort direction, defaulting to Descending.
func ParseOrder(s string) (Order, error) {
	switch Order(strings.ToLower(strings.TrimSpace(s))) {
	case "", Descending:
		return Descending, nil
	case Ascending:
		return Ascending, nil
	}
	return "", fmt.Errorf("unknown order %q", s)
}
