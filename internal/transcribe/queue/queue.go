// Package queue turns discovered recordings into transcription jobs and runs
// them on a bounded worker pool.
package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/TechnicallyShaun/memoscribe/internal/domain"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/engine"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/logging"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/metadata"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/normalizer"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/notify"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/output"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/search"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/store"
)

// Defaults for queue options.
const (
	DefaultConcurrency     = 2
	DefaultPollInterval    = time.Second
	DefaultJobTimeout      = 30 * time.Minute
	DefaultMaxAttempts     = 3
	DefaultRetryBase       = 5 * time.Second
	DefaultRetryMax        = 10 * time.Minute
	DefaultDefaultLanguage = "en"
)

// bookTimeout bounds the storage writes that record an attempt's outcome.
const bookTimeout = 30 * time.Second

// notifyPreviewRunes is how much transcript text a completion notification shows.
const notifyPreviewRunes = 100

// Queue errors
var (
	ErrNotAFile   = errors.New("not a regular file")
	ErrJobTimeout = errors.New("transcription timed out")
)

// Store is the persistence the queue needs.
type Store interface {
	UpsertRecording(ctx context.Context, rec domain.Recording) error
	GetRecording(ctx context.Context, id string) (domain.Recording, error)
	Enqueue(ctx context.Context, recordingID string, mode domain.LanguageMode, force bool) (domain.Job, domain.SubmitResult, error)
	Reconcile(ctx context.Context) (int, error)
	DueJobs(ctx context.Context, now time.Time, limit int) ([]domain.Job, error)
	Claim(ctx context.Context, jobID string) (domain.Job, error)
	Complete(ctx context.Context, jobID string, t domain.Transcript) error
	Retry(ctx context.Context, jobID, lastErr string, nextAt time.Time) error
	Fail(ctx context.Context, jobID, lastErr string) error
	GetTranscript(ctx context.Context, id string) (domain.Transcript, error)
	Ping(ctx context.Context) error
}

// Normalizer converts a recording into engine-ready audio.
type Normalizer interface {
	Normalize(ctx context.Context, input string) (*normalizer.Normalized, error)
}

// TextWriter persists the transcript text as a file.
type TextWriter interface {
	Write(ctx context.Context, a output.Artifact) (string, error)
}

// LanguageFunc returns the global language mode at submission time.
type LanguageFunc func() domain.LanguageMode

var (
	_ Store      = (*store.Store)(nil)
	_ Normalizer = (*normalizer.FFmpeg)(nil)
	_ TextWriter = (*output.Writer)(nil)
)

// Stats is a snapshot of the queue's runtime state.
type Stats struct {
	Running int  `json:"running"`
	Paused  bool `json:"paused"`
	Halted  bool `json:"halted"`
}

// Queue dispatches due jobs to workers.
type Queue struct {
	store      Store
	normalizer Normalizer
	engine     engine.Engine
	writer     TextWriter
	language   LanguageFunc
	logger     logging.Logger
	notifier   notify.Notifier
	now        func() time.Time

	concurrency     int
	pollInterval    time.Duration
	jobTimeout      time.Duration
	maxAttempts     int
	retryBase       time.Duration
	retryMax        time.Duration
	defaultLanguage string
	model           string

	wake chan struct{}
	wg   sync.WaitGroup

	mu       sync.Mutex
	running  map[string]string // job ID -> recording ID
	paused   bool
	halted   bool
	stranded []domain.Job
}

// Option configures a Queue.
type Option func(*Queue)

// WithConcurrency sets the number of concurrent workers.
func WithConcurrency(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.concurrency = n
		}
	}
}

// WithPollInterval sets how often the store is polled for due jobs.
func WithPollInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.pollInterval = d
		}
	}
}

// WithJobTimeout bounds one attempt.
func WithJobTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.jobTimeout = d
		}
	}
}

// WithMaxAttempts sets how many attempts a job gets before it fails.
func WithMaxAttempts(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// WithRetryBackoff sets the retry delay base and cap.
func WithRetryBackoff(base, limit time.Duration) Option {
	return func(q *Queue) {
		if base > 0 {
			q.retryBase = base
		}
		if limit >= q.retryBase {
			q.retryMax = limit
		}
	}
}

// WithDefaultLanguage sets the code recorded when auto-detection reports nothing.
func WithDefaultLanguage(code string) Option {
	return func(q *Queue) {
		if code != "" {
			q.defaultLanguage = code
		}
	}
}

// WithModel sets the engine model name.
func WithModel(model string) Option {
	return func(q *Queue) { q.model = model }
}

// WithLogger sets the queue logger.
func WithLogger(l logging.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithNotifier sets who is told about finished and failed jobs.
func WithNotifier(n notify.Notifier) Option {
	return func(q *Queue) {
		if n != nil {
			q.notifier = n
		}
	}
}

// New creates a Queue. language may be nil, meaning auto.
func New(s Store, n Normalizer, e engine.Engine, w TextWriter, language LanguageFunc, opts ...Option) *Queue {
	if language == nil {
		language = func() domain.LanguageMode { return domain.LanguageAuto }
	}
	q := &Queue{
		store:           s,
		normalizer:      n,
		engine:          e,
		writer:          w,
		language:        language,
		logger:          logging.Nop(),
		notifier:        notify.Nop{},
		now:             time.Now,
		concurrency:     DefaultConcurrency,
		pollInterval:    DefaultPollInterval,
		jobTimeout:      DefaultJobTimeout,
		maxAttempts:     DefaultMaxAttempts,
		retryBase:       DefaultRetryBase,
		retryMax:        DefaultRetryMax,
		defaultLanguage: DefaultDefaultLanguage,
		wake:            make(chan struct{}, 1),
		running:         make(map[string]string),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Submit registers a discovered recording and enqueues it with the current
// language mode. Duplicates are reported through the result, not as errors.
func (q *Queue) Submit(ctx context.Context, ev domain.DiscoveryEvent) (domain.SubmitResult, error) {
	info, err := metadata.Inspect(ev.Path)
	if err != nil {
		return "", fmt.Errorf("inspect recording: %w", err)
	}

	rec := domain.Recording{
		ID:           info.Fingerprint,
		Path:         ev.Path,
		Filename:     filepath.Base(ev.Path),
		Source:       ev.Source,
		Size:         info.Size,
		ModTime:      info.ModTime,
		RecordedAt:   info.RecordedAt,
		Duration:     info.Duration,
		DiscoveredAt: ev.DiscoveredAt,
	}
	if !ev.RecordedAt.IsZero() {
		rec.RecordedAt = ev.RecordedAt
	}
	if rec.DiscoveredAt.IsZero() {
		rec.DiscoveredAt = q.now()
	}
	if !rec.Source.Valid() {
		rec.Source = domain.SourceDrop
	}

	// A copy of known audio keeps the stored path unless it is queued again.
	known, err := q.store.GetRecording(ctx, rec.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if err := q.store.UpsertRecording(ctx, rec); err != nil {
			return "", err
		}
	case err != nil:
		return "", err
	}
	job, result, err := q.store.Enqueue(ctx, rec.ID, q.language(), false)
	if err != nil {
		return "", err
	}
	if result == domain.SubmitEnqueued && known.ID != "" && known.Path != rec.Path {
		if err := q.store.UpsertRecording(ctx, rec); err != nil {
			return "", err
		}
	}

	q.logger.Info("recording submitted",
		logging.String("path", rec.Path),
		logging.String("recording_id", rec.ID),
		logging.String("result", string(result)),
		logging.String("language", job.Language.String()),
	)
	if result == domain.SubmitEnqueued {
		q.Wake()
	}
	return result, nil
}

// SubmitPath submits a file by path, as a manual drop.
func (q *Queue) SubmitPath(ctx context.Context, path string) (domain.SubmitResult, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	st, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("stat recording: %w", err)
	}
	if st.IsDir() {
		return "", fmt.Errorf("submit %s: %w", abs, ErrNotAFile)
	}
	return q.Submit(ctx, domain.DiscoveryEvent{
		Path:         abs,
		Source:       domain.SourceDrop,
		Size:         st.Size(),
		ModTime:      st.ModTime(),
		DiscoveredAt: q.now(),
	})
}

// Resubmit re-queues a known recording, including one already transcribed.
func (q *Queue) Resubmit(ctx context.Context, recordingID string) (domain.SubmitResult, error) {
	if _, err := q.store.GetRecording(ctx, recordingID); err != nil {
		return "", err
	}
	_, result, err := q.store.Enqueue(ctx, recordingID, q.language(), true)
	if err != nil {
		return "", err
	}
	q.logger.Info("recording resubmitted",
		logging.String("recording_id", recordingID),
		logging.String("result", string(result)))
	if result == domain.SubmitEnqueued {
		q.Wake()
	}
	return result, nil
}

// Feed submits every event from events until the channel closes or ctx ends.
func (q *Queue) Feed(ctx context.Context, events <-chan domain.DiscoveryEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if _, err := q.Submit(ctx, ev); err != nil {
				q.logger.Error("submit discovered recording", err, logging.String("path", ev.Path))
			}
		}
	}
}

// Wake prompts the dispatcher to look for due jobs now.
func (q *Queue) Wake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Pause stops dispatching new jobs. Running jobs finish.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
	q.logger.Info("queue paused")
}

// Resume restarts dispatching.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.logger.Info("queue resumed")
	q.Wake()
}

// Halted reports whether dispatch is stopped on a storage failure.
func (q *Queue) Halted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.halted
}

// Stats returns the current runtime state.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Running: len(q.running), Paused: q.paused, Halted: q.halted}
}

// Backoff returns the delay before retry number attempt (1-based).
func Backoff(base, limit time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return min(d, limit)
}

// Run requeues interrupted jobs, then dispatches until ctx is cancelled.
// Jobs already running are allowed to finish before Run returns.
func (q *Queue) Run(ctx context.Context) error {
	n, err := q.store.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconcile jobs: %w", err)
	}
	q.logger.Info("queue started",
		logging.Int("concurrency", q.concurrency),
		logging.Int("requeued", n))

	defer q.wg.Wait()

	recoverDelay := q.pollInterval
	for {
		wait := q.pollInterval
		if q.Halted() {
			if err := q.recoverStorage(ctx); err != nil {
				q.logger.Warn("storage still unavailable",
					logging.String("error", err.Error()),
					logging.Duration("retry_in", recoverDelay))
				wait = recoverDelay
				recoverDelay = min(recoverDelay*2, q.retryMax)
			} else {
				recoverDelay = q.pollInterval
			}
		}
		if !q.Halted() {
			q.dispatch(ctx)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			q.logger.Info("queue stopping, waiting for running jobs")
			return nil
		case <-q.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (q *Queue) dispatch(ctx context.Context) {
	q.mu.Lock()
	free := q.concurrency - len(q.running)
	paused := q.paused
	q.mu.Unlock()
	if paused || free <= 0 {
		return
	}

	jobs, err := q.store.DueJobs(ctx, q.now(), free)
	if err != nil {
		q.halt(ctx, err)
		return
	}

	for _, due := range jobs {
		job, err := q.store.Claim(ctx, due.ID)
		if errors.Is(err, store.ErrNotClaimable) {
			continue
		}
		if err != nil {
			q.halt(ctx, err)
			return
		}

		q.mu.Lock()
		q.running[job.ID] = job.RecordingID
		q.mu.Unlock()

		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			defer func() {
				q.mu.Lock()
				delete(q.running, job.ID)
				q.mu.Unlock()
				q.Wake()
			}()
			// A started attempt outlives shutdown; only its own timeout stops it.
			q.process(context.WithoutCancel(ctx), job)
		}()
	}
}

// halt stops dispatch after a storage failure. A context error is shutdown, not an outage.
func (q *Queue) halt(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	q.markHalted(err)
}

func (q *Queue) markHalted(err error) {
	q.mu.Lock()
	already := q.halted
	q.halted = true
	q.mu.Unlock()
	if !already {
		q.logger.Error("storage unavailable, halting dispatch", err)
	}
}

// strand remembers a job whose outcome could not be recorded. The job stays
// running in storage until recoverStorage requeues it.
func (q *Queue) strand(job domain.Job, err error) {
	q.mu.Lock()
	q.stranded = append(q.stranded, job)
	q.mu.Unlock()
	q.markHalted(err)
}

// recoverStorage checks storage and, once it answers, requeues stranded jobs.
func (q *Queue) recoverStorage(ctx context.Context) error {
	if err := q.store.Ping(ctx); err != nil {
		return err
	}

	q.mu.Lock()
	stranded := q.stranded
	q.stranded = nil
	q.mu.Unlock()

	for i, job := range stranded {
		err := q.store.Retry(ctx, job.ID, "storage unavailable", q.now())
		if err != nil && !errors.Is(err, store.ErrStaleJob) {
			q.mu.Lock()
			q.stranded = append(q.stranded, stranded[i:]...)
			q.mu.Unlock()
			return err
		}
	}

	q.mu.Lock()
	q.halted = false
	q.mu.Unlock()
	q.logger.Info("storage recovered, resuming dispatch", logging.Int("requeued", len(stranded)))
	return nil
}

// process runs one attempt under the job timeout and records its outcome on
// a separate context, so an attempt that runs out of time is still booked.
func (q *Queue) process(ctx context.Context, job domain.Job) {
	start := q.now()
	log := q.logger
	log.Info("transcribing",
		logging.String("job_id", job.ID),
		logging.String("recording_id", job.RecordingID),
		logging.Int("attempt", job.Attempts),
		logging.String("language", job.Language.String()))

	jobCtx, cancelJob := context.WithTimeout(ctx, q.jobTimeout)
	transcript, err := q.transcribe(jobCtx, job)
	timedOut := errors.Is(jobCtx.Err(), context.DeadlineExceeded)
	cancelJob()

	bookCtx, cancelBook := context.WithTimeout(ctx, bookTimeout)
	defer cancelBook()

	if err != nil {
		var se *storageError
		switch {
		case timedOut:
			err = fmt.Errorf("%w after %s: %v", ErrJobTimeout, q.jobTimeout, err)
		case errors.As(err, &se):
			q.strand(job, se.err)
			return
		}
		q.finishFailed(bookCtx, job, err)
		return
	}

	if err := q.store.Complete(bookCtx, job.ID, transcript); err != nil {
		if errors.Is(err, store.ErrStaleJob) {
			log.Warn("job replaced while running, result dropped", logging.String("job_id", job.ID))
			return
		}
		q.strand(job, err)
		return
	}

	log.Info("transcription complete",
		logging.String("job_id", job.ID),
		logging.String("recording_id", job.RecordingID),
		logging.String("language", transcript.Language),
		logging.String("output", transcript.TextPath),
		logging.Duration("elapsed", q.now().Sub(start)))
	q.notify(bookCtx, "Transcription complete", search.Preview(transcript.Text, notifyPreviewRunes))
}

// notify reports to the user; a failed notification is only logged.
func (q *Queue) notify(ctx context.Context, title, message string) {
	if err := q.notifier.Notify(ctx, title, message); err != nil {
		q.logger.Warn("notification failed", logging.String("title", title), logging.String("error", err.Error()))
	}
}

// recordingName is the filename shown for a job, or its ID when unknown.
func (q *Queue) recordingName(ctx context.Context, job domain.Job) string {
	if rec, err := q.store.GetRecording(ctx, job.RecordingID); err == nil && rec.Filename != "" {
		return rec.Filename
	}
	return job.RecordingID
}

type storageError struct{ err error }

func (e *storageError) Error() string { return e.err.Error() }
func (e *storageError) Unwrap() error { return e.err }

func (q *Queue) transcribe(ctx context.Context, job domain.Job) (domain.Transcript, error) {
	rec, err := q.store.GetRecording(ctx, job.RecordingID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Transcript{}, &normalizer.FormatError{Path: job.RecordingID, Reason: "recording no longer registered", Err: err}
	}
	if err != nil {
		return domain.Transcript{}, &storageError{err}
	}

	norm, err := q.normalizer.Normalize(ctx, rec.Path)
	if err != nil {
		return domain.Transcript{}, fmt.Errorf("normalize: %w", err)
	}
	defer func() {
		if err := norm.Cleanup(); err != nil {
			q.logger.Warn("remove normalized audio", logging.String("path", norm.Path), logging.String("error", err.Error()))
		}
	}()

	result, err := q.engine.Transcribe(ctx, norm.Path, engine.Options{Language: job.Language, Model: q.model})
	if err != nil {
		return domain.Transcript{}, fmt.Errorf("transcribe: %w", err)
	}

	language := result.Language
	switch {
	case language != "":
	case !job.Language.IsAuto():
		language = job.Language.Code()
	default:
		language = q.defaultLanguage
		q.logger.Warn("language detection returned nothing, using default",
			logging.String("recording_id", rec.ID),
			logging.String("language", language))
	}

	existing := ""
	if prev, err := q.store.GetTranscript(ctx, rec.ID); err == nil {
		existing = prev.TextPath
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.Transcript{}, &storageError{err}
	}

	transcribedAt := q.now()
	textPath, err := q.writer.Write(ctx, output.Artifact{
		SourceFile:    rec.Path,
		Text:          result.Text,
		Language:      language,
		RecordedAt:    rec.RecordedAt,
		TranscribedAt: transcribedAt,
		ExistingPath:  existing,
	})
	if err != nil {
		return domain.Transcript{}, fmt.Errorf("write transcript file: %w", err)
	}

	duration := norm.Duration
	if result.Duration > 0 {
		duration = result.Duration
	}
	if rec.Duration > 0 {
		duration = rec.Duration
	}

	return domain.Transcript{
		RecordingID:   rec.ID,
		TranscribedAt: transcribedAt,
		Language:      language,
		Text:          result.Text,
		TextPath:      textPath,
		Duration:      duration,
	}, nil
}

// IsPermanent reports whether a worker error should fail the job without retry.
func IsPermanent(err error) bool {
	return normalizer.IsPermanent(err) || engine.IsPermanent(err)
}

func (q *Queue) finishFailed(ctx context.Context, job domain.Job, cause error) {
	log := q.logger
	msg := cause.Error()

	if IsPermanent(cause) || job.Attempts >= q.maxAttempts {
		err := q.store.Fail(ctx, job.ID, msg)
		switch {
		case errors.Is(err, store.ErrStaleJob):
			return
		case err != nil:
			q.strand(job, err)
			return
		}
		log.Error("transcription failed", cause,
			logging.String("job_id", job.ID),
			logging.String("recording_id", job.RecordingID),
			logging.Int("attempts", job.Attempts),
			logging.Bool("permanent", IsPermanent(cause)))
		q.notify(ctx, "Transcription failed", q.recordingName(ctx, job)+": "+msg)
		return
	}

	delay := Backoff(q.retryBase, q.retryMax, job.Attempts)
	err := q.store.Retry(ctx, job.ID, msg, q.now().Add(delay))
	switch {
	case errors.Is(err, store.ErrStaleJob):
		return
	case err != nil:
		q.strand(job, err)
		return
	}
	log.Warn("transcription failed, will retry",
		logging.String("job_id", job.ID),
		logging.String("recording_id", job.RecordingID),
		logging.Int("attempt", job.Attempts),
		logging.Int("max_attempts", q.maxAttempts),
		logging.Duration("retry_in", delay),
		logging.String("error", msg))
}
