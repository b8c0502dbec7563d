package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/TechnicallyShaun/memoscribe/internal/domain"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/capture"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/command"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/engine"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/logging"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/normalizer"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/notify"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/output"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/queue"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/search"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/store"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/watcher"
)

// Service errors
var (
	ErrNotRunning      = errors.New("service is not running")
	ErrAlreadyWatching = errors.New("already watching")
	ErrNotWatching     = errors.New("not watching")
)

// ControlState is the process-wide state exposed to the control surface.
type ControlState struct {
	Watching  bool            `json:"watching"`
	Language  string          `json:"language"`
	Capture   capture.Session `json:"capture"`
	Queue     queue.Stats     `json:"queue"`
	Sources   []string        `json:"sources"`
	Pending   int             `json:"pending_files"`
	StartedAt time.Time       `json:"started_at,omitzero"`
}

// Service owns the pipeline components and the mutable watching and language state.
type Service struct {
	cfg    *Config
	home   string
	logger *logging.FileLogger

	store    *store.Store
	queue    *queue.Queue
	recorder *capture.Recorder
	search   *search.Service

	mu        sync.Mutex
	runCtx    context.Context
	startedAt time.Time
	language  domain.LanguageMode
	watch     *watchRun
}

type watchRun struct {
	w      *watcher.Watcher
	cancel context.CancelFunc
	done   chan struct{}
}

// ServiceOption overrides a pipeline component, mainly for tests.
type ServiceOption func(*serviceDeps)

type serviceDeps struct {
	engine     engine.Engine
	normalizer queue.Normalizer
	starter    capture.Starter
	notifier   notify.Notifier
	queueOpts  []queue.Option
}

// WithEngine replaces the configured transcription engine.
func WithEngine(e engine.Engine) ServiceOption {
	return func(d *serviceDeps) { d.engine = e }
}

// WithNormalizer replaces the ffmpeg normalizer.
func WithNormalizer(n queue.Normalizer) ServiceOption {
	return func(d *serviceDeps) { d.normalizer = n }
}

// WithCaptureStarter replaces the ffmpeg capture process starter.
func WithCaptureStarter(s capture.Starter) ServiceOption {
	return func(d *serviceDeps) { d.starter = s }
}

// WithNotifier replaces the desktop notifier.
func WithNotifier(n notify.Notifier) ServiceOption {
	return func(d *serviceDeps) { d.notifier = n }
}

// WithQueueOptions appends queue options after the configured ones.
func WithQueueOptions(opts ...queue.Option) ServiceOption {
	return func(d *serviceDeps) { d.queueOpts = append(d.queueOpts, opts...) }
}

// NewEngine builds the engine selected by the configuration.
func NewEngine(cfg *Config) (engine.Engine, error) {
	switch cfg.Engine {
	case EngineWhisperCLI:
		return engine.NewWhisperCLI(cfg.WhisperCLIPath, cfg.WhisperModelPath, engine.WithThreads(cfg.WhisperThreads)), nil
	case EngineWhisperASR:
		return engine.NewWhisperASRClient(cfg.APIURL, engine.WithTimeout(cfg.JobTimeout())), nil
	default:
		return nil, ErrUnknownEngine
	}
}

// NewWriter builds the transcript artifact writer from the configuration.
func NewWriter(cfg *Config) (*output.Writer, error) {
	format, err := output.ParseFormat(cfg.TranscriptFormat)
	if err != nil {
		return nil, err
	}
	opts := []output.Option{output.WithFormat(format)}
	if cfg.TemplatePath != nil && *cfg.TemplatePath != "" {
		opts = append(opts, output.WithTemplate(*cfg.TemplatePath))
	}
	return output.NewWriter(cfg.TranscriptsDir, opts...), nil
}

// NewService opens the store and builds every pipeline component. cfg must
// already have defaults applied.
func NewService(cfg *Config, home string, logger *logging.FileLogger, opts ...ServiceOption) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = logging.Nop()
	}

	deps := serviceDeps{}
	for _, opt := range opts {
		opt(&deps)
	}
	if deps.engine == nil {
		e, err := NewEngine(cfg)
		if err != nil {
			return nil, err
		}
		deps.engine = e
	}
	if deps.normalizer == nil {
		deps.normalizer = normalizer.New(normalizer.WithBinary(cfg.FFmpegPath), normalizer.WithWorkDir(cfg.WorkDir))
	}
	if deps.starter == nil {
		deps.starter = capture.NewFFmpegStarter(cfg.FFmpegPath, cfg.CaptureInputFormat, cfg.CaptureDevice)
	}
	if deps.notifier == nil {
		deps.notifier = notify.New(cfg.NotificationsEnabled(), command.ExecRunner{})
	}

	for _, dir := range []string{cfg.DropDir, cfg.TranscriptsDir, cfg.CaptureDir, cfg.WorkDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	settings, err := LoadSettings(home)
	if err != nil {
		return nil, err
	}

	writer, err := NewWriter(cfg)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DatabasePath, store.WithLogger(logger.WithComponent("store")))
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:      cfg,
		home:     home,
		logger:   logger,
		store:    st,
		language: settings.Language,
	}

	qopts := append([]queue.Option{
		queue.WithConcurrency(cfg.Concurrency),
		queue.WithJobTimeout(cfg.JobTimeout()),
		queue.WithMaxAttempts(cfg.MaxAttempts),
		queue.WithRetryBackoff(cfg.RetryBase(), queue.DefaultRetryMax),
		queue.WithDefaultLanguage(cfg.DefaultLanguage),
		queue.WithModel(cfg.Model),
		queue.WithLogger(logger.WithComponent("queue")),
		queue.WithNotifier(deps.notifier),
	}, deps.queueOpts...)
	s.queue = queue.New(st, deps.normalizer, deps.engine, writer, s.Language, qopts...)

	s.recorder = capture.New(cfg.CaptureDir, deps.starter, s.queue,
		capture.WithLogger(logger.WithComponent("capture")),
		capture.WithNotifier(deps.notifier))
	s.search = search.New(st, writer, search.WithLogger(logger.WithComponent("search")))

	return s, nil
}

// Search returns the query service.
func (s *Service) Search() *search.Service {
	return s.search
}

// Store returns the storage layer.
func (s *Service) Store() *store.Store {
	return s.store
}

// Close releases the store. Call after Run has returned.
func (s *Service) Close() error {
	return s.store.Close()
}

// Run starts the queue and, unless configured paused, the watcher. It blocks
// until ctx is cancelled; running jobs are allowed to finish.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	s.runCtx = ctx
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("service starting",
		logging.String("engine", s.cfg.Engine),
		logging.String("transcripts_dir", s.cfg.TranscriptsDir),
		logging.String("language", s.Language().String()))

	scheduler := cronlib.New()
	if _, err := scheduler.AddFunc(s.cfg.RescanSchedule, func() { s.rescan(ctx) }); err != nil {
		return fmt.Errorf("schedule rescan: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.queue.Run(gctx)
	})

	if s.cfg.StartPaused {
		s.queue.Pause()
		s.logger.Info("watching paused at startup")
	} else if err := s.StartWatching(ctx); err != nil {
		s.logger.Error("start watching", err)
	}

	scheduler.Start()
	g.Go(func() error {
		<-gctx.Done()
		<-scheduler.Stop().Done()
		if err := s.StopWatching(context.Background()); err != nil && !errors.Is(err, ErrNotWatching) {
			s.logger.Error("stop watching", err)
		}
		if err := s.recorder.Close(context.Background()); err != nil {
			s.logger.Error("stop capture", err)
		}
		return nil
	})

	err := g.Wait()
	s.mu.Lock()
	s.runCtx = nil
	s.mu.Unlock()
	s.logger.Info("service stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Service) sources() []watcher.Source {
	var out []watcher.Source
	if s.cfg.VoiceMemosDir != "" {
		out = append(out, watcher.Source{Dir: s.cfg.VoiceMemosDir, Kind: domain.SourceVoiceMemo, MaxAge: s.cfg.VoiceMemoMaxAge()})
	}
	if s.cfg.DropDir != "" {
		out = append(out, watcher.Source{Dir: s.cfg.DropDir, Kind: domain.SourceDrop})
	}
	return out
}

// StartWatching attaches the watcher to the source folders and resumes the queue.
func (s *Service) StartWatching(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx == nil {
		return ErrNotRunning
	}
	if s.watch != nil {
		return ErrAlreadyWatching
	}

	w, err := watcher.New(watcher.Config{
		Sources:        s.sources(),
		Extensions:     s.cfg.Extensions,
		SettleInterval: s.cfg.SettleInterval(),
		SettleChecks:   s.cfg.SettleChecks,
		MinSize:        s.cfg.MinFileSize,
	}, s.store, s.logger.WithComponent("watcher"))
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	wctx, cancel := context.WithCancel(s.runCtx)
	run := &watchRun{w: w, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(run.done)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.queue.Feed(wctx, w.Events())
		}()
		if err := w.Run(wctx); err != nil {
			s.logger.Error("watcher stopped", err)
		}
		wg.Wait()
	}()

	s.watch = run
	s.queue.Resume()
	s.logger.Info("watching started", logging.Int("sources", len(s.sources())))
	return nil
}

// StopWatching detaches the watcher and pauses the queue. Running jobs finish;
// queued jobs wait until watching starts again.
func (s *Service) StopWatching(ctx context.Context) error {
	s.mu.Lock()
	run := s.watch
	s.watch = nil
	s.mu.Unlock()
	if run == nil {
		return ErrNotWatching
	}

	s.queue.Pause()
	run.cancel()
	select {
	case <-run.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.logger.Info("watching stopped")
	return nil
}

// Watching reports whether the watcher is attached.
func (s *Service) Watching() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watch != nil
}

func (s *Service) rescan(ctx context.Context) {
	s.mu.Lock()
	run := s.watch
	s.mu.Unlock()
	if run == nil {
		return
	}
	s.logger.Debug("scheduled rescan")
	run.w.Rescan(ctx)
}

// StartCapture begins recording system audio.
func (s *Service) StartCapture(ctx context.Context) (capture.Session, error) {
	return s.recorder.Start(ctx)
}

// StopCapture ends the recording and submits the file for transcription.
func (s *Service) StopCapture(ctx context.Context) (capture.Session, error) {
	return s.recorder.Stop(ctx)
}

// Language returns the language mode applied to new jobs.
func (s *Service) Language() domain.LanguageMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.language
}

// SetLanguage changes the language mode for new jobs and persists it.
func (s *Service) SetLanguage(ctx context.Context, mode domain.LanguageMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := SaveSettings(s.home, Settings{Language: mode}); err != nil {
		return err
	}
	s.language = mode
	s.logger.Info("language changed", logging.String("language", mode.String()))
	return nil
}

// Submit enqueues a file by path.
func (s *Service) Submit(ctx context.Context, path string) (domain.SubmitResult, error) {
	return s.queue.SubmitPath(ctx, path)
}

// Resubmit queues a known recording again, replacing its transcript when done.
func (s *Service) Resubmit(ctx context.Context, recordingID string) (domain.SubmitResult, error) {
	return s.queue.Resubmit(ctx, recordingID)
}

// State returns a snapshot of the control state.
func (s *Service) State(ctx context.Context) ControlState {
	s.mu.Lock()
	state := ControlState{
		Watching:  s.watch != nil,
		Language:  s.language.String(),
		StartedAt: s.startedAt,
	}
	if s.watch != nil {
		state.Pending = s.watch.w.Pending()
	}
	s.mu.Unlock()

	for _, src := range s.sources() {
		state.Sources = append(state.Sources, src.Dir)
	}
	state.Capture = s.recorder.State()
	state.Queue = s.queue.Stats()
	return state
}
