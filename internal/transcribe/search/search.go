// Package search answers read queries over stored transcripts and jobs.
package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/TechnicallyShaun/memoscribe/internal/domain"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/logging"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/store"
)

// Store is the read side of the storage layer, plus deletion.
type Store interface {
	ListTranscripts(ctx context.Context, key domain.SortKey, order domain.Order) ([]domain.Transcript, error)
	SearchTranscripts(ctx context.Context, query string, limit int) ([]domain.Transcript, error)
	GetTranscript(ctx context.Context, id string) (domain.Transcript, error)
	GetTranscripts(ctx context.Context, ids []string) ([]domain.Transcript, error)
	DeleteTranscript(ctx context.Context, id string) (domain.Transcript, error)
	CountTranscripts(ctx context.Context) (int, error)
	ListJobs(ctx context.Context, states ...domain.JobState) ([]domain.JobView, error)
	JobCounts(ctx context.Context) (map[domain.JobState]int, error)
}

var _ Store = (*store.Store)(nil)

// FileRemover deletes transcript text files.
type FileRemover interface {
	Remove(path string) error
}

// Summary is the aggregate shown by status views.
type Summary struct {
	Transcripts int                     `json:"transcripts"`
	Jobs        map[domain.JobState]int `json:"jobs"`
}

// Service serves list, search and fetch queries.
type Service struct {
	store  Store
	files  FileRemover
	logger logging.Logger
	limit  int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithSearchLimit caps the number of search results.
func WithSearchLimit(n int) Option {
	return func(s *Service) { s.limit = n }
}

// New creates a Service. files may be nil, in which case Delete leaves text files alone.
func New(st Store, files FileRemover, opts ...Option) *Service {
	s := &Service{store: st, files: files, logger: logging.Nop(), limit: store.DefaultSearchLimit}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns all transcripts ordered by recorded or transcribed date.
func (s *Service) List(ctx context.Context, key domain.SortKey, order domain.Order) ([]domain.Transcript, error) {
	return s.store.ListTranscripts(ctx, key, order)
}

// Search finds transcripts whose filename or text contains q. An empty q lists everything.
func (s *Service) Search(ctx context.Context, q string) ([]domain.Transcript, error) {
	return s.store.SearchTranscripts(ctx, q, s.limit)
}

// Get returns one transcript.
func (s *Service) Get(ctx context.Context, id string) (domain.Transcript, error) {
	return s.store.GetTranscript(ctx, id)
}

// FetchMany returns transcripts in the order requested, skipping unknown and repeated ids.
func (s *Service) FetchMany(ctx context.Context, ids []string) ([]domain.Transcript, error) {
	return s.store.GetTranscripts(ctx, ids)
}

// Delete removes a transcript and its text file. The audio is never touched.
func (s *Service) Delete(ctx context.Context, id string) (domain.Transcript, error) {
	t, err := s.store.DeleteTranscript(ctx, id)
	if err != nil {
		return domain.Transcript{}, err
	}
	if s.files != nil {
		if err := s.files.Remove(t.TextPath); err != nil {
			s.logger.Warn("transcript deleted but file remains",
				logging.String("path", t.TextPath),
				logging.String("error", err.Error()))
		}
	}
	s.logger.Info("transcript deleted", logging.String("recording_id", id), logging.String("filename", t.Filename))
	return t, nil
}

// Pending returns jobs that have not succeeded: queued, running and failed.
func (s *Service) Pending(ctx context.Context) ([]domain.JobView, error) {
	return s.store.ListJobs(ctx, domain.JobQueued, domain.JobRunning, domain.JobFailed)
}

// Jobs returns jobs in the given states, or all jobs.
func (s *Service) Jobs(ctx context.Context, states ...domain.JobState) ([]domain.JobView, error) {
	return s.store.ListJobs(ctx, states...)
}

// Summary counts transcripts and jobs by state.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	n, err := s.store.CountTranscripts(ctx)
	if err != nil {
		return Summary{}, err
	}
	counts, err := s.store.JobCounts(ctx)
	if err != nil {
		return Summary{}, err
	}
	return Summary{Transcripts: n, Jobs: counts}, nil
}

// Join concatenates transcripts for a multi-select copy, each headed by its filename.
func Join(ts []domain.Transcript) string {
	var b strings.Builder
	for i, t := range ts {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## %s\n\n%s", t.Filename, strings.TrimSpace(t.Text))
	}
	if len(ts) > 0 {
		b.WriteString("\n")
	}
	return b.String()
}

// FormatDuration renders d as m:ss, or h:mm:ss from an hour up.
func FormatDuration(d time.Duration) string {
	secs := int(d / time.Second)
	if secs <= 0 {
		return "0:00"
	}
	h, m, sec := secs/3600, (secs%3600)/60, secs%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}

// Preview shortens text to at most n runes, marking the cut with "...".
func Preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}
