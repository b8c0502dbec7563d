// Package capture records system audio into the capture folder and hands
// finished recordings to the transcription queue.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/TechnicallyShaun/memoscribe/internal/domain"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/logging"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/notify"
)

// Common errors
var (
	ErrAlreadyRecording  = errors.New("capture already recording")
	ErrInvalidTransition = errors.New("capture is not recording")
)

// DefaultStopGrace is how long each stop step waits for the process to exit.
const DefaultStopGrace = 5 * time.Second

// FileSuffix ends every capture file name.
const FileSuffix = "-system.m4a"

// State is the recorder state.
type State string

const (
	Idle      State = "idle"
	Recording State = "recording"
)

// Session describes the recorder's current or last capture.
type Session struct {
	State     State     `json:"state"`
	Path      string    `json:"path,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
}

// Submitter receives finished capture files.
type Submitter interface {
	Submit(ctx context.Context, ev domain.DiscoveryEvent) (domain.SubmitResult, error)
}

// Recorder owns the single capture process.
type Recorder struct {
	dir       string
	starter   Starter
	submitter Submitter
	logger    logging.Logger
	notifier  notify.Notifier
	now       func() time.Time
	grace     time.Duration

	mu       sync.Mutex
	session  Session
	proc     Process
	stopping bool
	gen      uint64
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the recorder logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// WithNotifier sets who is told when a capture is saved.
func WithNotifier(n notify.Notifier) Option {
	return func(r *Recorder) {
		if n != nil {
			r.notifier = n
		}
	}
}

// WithStopGrace sets the wait between stop escalation steps.
func WithStopGrace(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.grace = d
		}
	}
}

// New creates an idle Recorder writing into dir. submitter may be nil.
func New(dir string, starter Starter, submitter Submitter, opts ...Option) *Recorder {
	r := &Recorder{
		dir:       dir,
		starter:   starter,
		submitter: submitter,
		logger:    logging.Nop(),
		notifier:  notify.Nop{},
		now:       time.Now,
		grace:     DefaultStopGrace,
		session:   Session{State: Idle},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns a snapshot of the current session.
func (r *Recorder) State() Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// Start begins a capture. Only valid while idle.
func (r *Recorder) Start(ctx context.Context) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session.State != Idle || r.stopping {
		return r.session, ErrAlreadyRecording
	}
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return r.session, fmt.Errorf("create capture directory: %w", err)
	}

	started := r.now()
	path := r.freePath(started)
	proc, err := r.starter.Start(ctx, path)
	if err != nil {
		return r.session, fmt.Errorf("start capture: %w", err)
	}

	r.gen++
	r.proc = proc
	r.session = Session{State: Recording, Path: path, StartedAt: started}
	go r.monitor(r.gen, proc)

	r.logger.Info("capture started", logging.String("path", path))
	return r.session, nil
}

func (r *Recorder) freePath(t time.Time) string {
	stem := t.Format("20060102 150405")
	path := filepath.Join(r.dir, stem+FileSuffix)
	for i := 2; ; i++ {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path
		}
		path = filepath.Join(r.dir, fmt.Sprintf("%s-%d%s", stem, i, FileSuffix))
	}
}

// Stop ends the capture, returns to idle and submits the file.
// Only valid while recording.
func (r *Recorder) Stop(ctx context.Context) (Session, error) {
	r.mu.Lock()
	if r.session.State != Recording || r.stopping {
		s := r.session
		r.mu.Unlock()
		return s, ErrInvalidTransition
	}
	r.stopping = true
	r.gen++
	proc, sess := r.proc, r.session
	r.mu.Unlock()

	stopErr := proc.Stop(r.grace)

	r.mu.Lock()
	r.stopping = false
	r.proc = nil
	r.session = Session{State: Idle, Path: sess.Path, StartedAt: sess.StartedAt}
	r.mu.Unlock()

	if stopErr != nil {
		r.logger.Warn("capture did not stop cleanly",
			logging.String("path", sess.Path),
			logging.String("error", stopErr.Error()))
	}
	r.logger.Info("capture stopped",
		logging.String("path", sess.Path),
		logging.Duration("length", r.now().Sub(sess.StartedAt)))

	if err := r.submit(ctx, sess); err != nil {
		return r.State(), err
	}
	return r.State(), nil
}

// Close stops a running capture, for shutdown.
func (r *Recorder) Close(ctx context.Context) error {
	if _, err := r.Stop(ctx); err != nil && !errors.Is(err, ErrInvalidTransition) {
		return err
	}
	return nil
}

// monitor forces the recorder idle if the process exits on its own.
func (r *Recorder) monitor(gen uint64, proc Process) {
	<-proc.Done()

	r.mu.Lock()
	if r.gen != gen || r.session.State != Recording {
		r.mu.Unlock()
		return
	}
	sess := r.session
	r.proc = nil
	r.session = Session{State: Idle, Path: sess.Path, StartedAt: sess.StartedAt}
	r.mu.Unlock()

	r.logger.Error("capture process exited unexpectedly", proc.Err(), logging.String("path", sess.Path))
	if err := r.submit(context.Background(), sess); err != nil {
		r.logger.Error("submit partial capture", err, logging.String("path", sess.Path))
	}
}

// submit hands a finished capture file to the queue. Empty or missing files are dropped.
func (r *Recorder) submit(ctx context.Context, sess Session) error {
	st, err := os.Stat(sess.Path)
	if err != nil || st.Size() == 0 {
		r.logger.Warn("capture produced no audio", logging.String("path", sess.Path))
		return nil
	}
	if r.submitter == nil {
		return nil
	}

	res, err := r.submitter.Submit(ctx, domain.DiscoveryEvent{
		Path:         sess.Path,
		Source:       domain.SourceCapture,
		Size:         st.Size(),
		ModTime:      st.ModTime(),
		DiscoveredAt: r.now(),
		RecordedAt:   sess.StartedAt,
	})
	if err != nil {
		return fmt.Errorf("submit capture: %w", err)
	}
	r.logger.Info("capture submitted", logging.String("path", sess.Path), logging.String("result", string(res)))
	if err := r.notifier.Notify(ctx, "Recording saved", filepath.Base(sess.Path)+" will be transcribed automatically"); err != nil {
		r.logger.Warn("notification failed", logging.String("error", err.Error()))
	}
	return nil
}
