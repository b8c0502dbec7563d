// Package watcher discovers settled audio files in the watched folders.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/TechnicallyShaun/memoscribe/internal/domain"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/logging"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/metadata"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/stabilizer"
)

// Defaults for optional Config fields.
const (
	DefaultSettleInterval = 2 * time.Second
	DefaultSettleChecks   = 3
	DefaultRetryBase      = time.Second
	DefaultRetryMax       = 5 * time.Minute
	DefaultBuffer         = 64
)

// DefaultExtensions are the audio extensions picked up when none are configured.
var DefaultExtensions = []string{".m4a", ".mp3", ".wav", ".aac", ".ogg"}

// Source is one watched folder.
type Source struct {
	Dir  string
	Kind domain.SourceKind
	// MaxAge skips recordings older than this (by filename stamp or mtime). Zero disables.
	MaxAge time.Duration
}

// Config configures a Watcher.
type Config struct {
	Sources        []Source
	Extensions     []string
	SettleInterval time.Duration
	SettleChecks   int
	MinSize        int64
	RetryBase      time.Duration
	RetryMax       time.Duration
	Buffer         int
}

// KnownChecker reports whether an unchanged file already has a job.
type KnownChecker interface {
	IsKnown(ctx context.Context, path string, size int64, modTime time.Time) (bool, error)
}

type pendingFile struct {
	cand  *stabilizer.Candidate
	src   Source
	timer *time.Timer
}

// Watcher turns filesystem notifications into discovery events. A file is
// emitted once per (size, mtime) version, after it has settled.
type Watcher struct {
	cfg    Config
	known  KnownChecker
	logger logging.Logger
	now    func() time.Time

	fsw    *fsnotify.Watcher
	events chan domain.DiscoveryEvent
	exts   map[string]bool

	mu       sync.Mutex
	ctx      context.Context
	closed   bool
	pending  map[string]*pendingFile
	emitted  map[string]stabilizer.Snapshot
	attached map[string]bool
	inflight sync.WaitGroup
}

// New creates a Watcher. known may be nil.
func New(cfg Config, known KnownChecker, logger logging.Logger) (*Watcher, error) {
	if len(cfg.Sources) == 0 {
		return nil, errors.New("at least one source directory is required")
	}
	if cfg.SettleInterval <= 0 {
		cfg.SettleInterval = DefaultSettleInterval
	}
	if cfg.SettleChecks <= 0 {
		cfg.SettleChecks = DefaultSettleChecks
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultRetryBase
	}
	if cfg.RetryMax < cfg.RetryBase {
		cfg.RetryMax = max(DefaultRetryMax, cfg.RetryBase)
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = DefaultExtensions
	}
	if logger == nil {
		logger = logging.Nop()
	}

	exts := make(map[string]bool, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = true
	}

	seen := make(map[string]bool)
	var sources []Source
	for _, src := range cfg.Sources {
		if src.Dir == "" {
			continue
		}
		src.Dir = filepath.Clean(src.Dir)
		if seen[src.Dir] {
			continue
		}
		seen[src.Dir] = true
		sources = append(sources, src)
	}
	cfg.Sources = sources

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &Watcher{
		cfg:      cfg,
		known:    known,
		logger:   logger,
		now:      time.Now,
		fsw:      fsw,
		events:   make(chan domain.DiscoveryEvent, cfg.Buffer),
		exts:     exts,
		pending:  make(map[string]*pendingFile),
		emitted:  make(map[string]stabilizer.Snapshot),
		attached: make(map[string]bool),
	}, nil
}

// Events returns the discovery stream. It is closed when Run returns.
func (w *Watcher) Events() <-chan domain.DiscoveryEvent {
	return w.events
}

// Run watches until ctx is cancelled. Each source is attached (and scanned)
// independently; an inaccessible directory is retried with backoff.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	w.ctx = ctx
	w.mu.Unlock()

	for _, src := range w.cfg.Sources {
		go w.attach(ctx, src)
	}

	defer w.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("fsnotify event channel closed")
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("fsnotify error channel closed")
			}
			w.logger.Error("watcher error", err)
		}
	}
}

func (w *Watcher) shutdown() {
	w.mu.Lock()
	w.closed = true
	for path, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	w.inflight.Wait()
	w.fsw.Close()
	close(w.events)
}

// Rescan walks every attached source for files that were missed.
func (w *Watcher) Rescan(ctx context.Context) {
	for _, src := range w.cfg.Sources {
		w.mu.Lock()
		attached := w.attached[src.Dir]
		w.mu.Unlock()
		if attached {
			w.scan(ctx, src)
		}
	}
}

// Pending returns the number of files currently settling.
func (w *Watcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func (w *Watcher) attach(ctx context.Context, src Source) {
	delay := w.cfg.RetryBase
	for {
		err := w.fsw.Add(src.Dir)
		if err == nil {
			break
		}
		w.logger.Warn("cannot watch directory, retrying",
			logging.String("dir", src.Dir),
			logging.String("error", err.Error()),
			logging.Duration("retry_in", delay))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, w.cfg.RetryMax)
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.attached[src.Dir] = true
	w.mu.Unlock()

	w.logger.Info("watching directory", logging.String("dir", src.Dir), logging.String("source", string(src.Kind)))
	w.scan(ctx, src)
}

func (w *Watcher) sourceFor(path string) (Source, bool) {
	dir := filepath.Dir(path)
	for _, src := range w.cfg.Sources {
		if src.Dir == dir {
			return src, true
		}
	}
	return Source{}, false
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		for _, src := range w.cfg.Sources {
			if src.Dir != filepath.Clean(event.Name) {
				continue
			}
			w.mu.Lock()
			wasAttached := w.attached[src.Dir]
			w.attached[src.Dir] = false
			w.mu.Unlock()
			if wasAttached {
				w.logger.Warn("watched directory went away", logging.String("dir", src.Dir))
				w.fsw.Remove(src.Dir)
				go w.attach(ctx, src)
			}
			return
		}
	}

	if !w.matches(event.Name) {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Chmod) {
		return
	}
	src, ok := w.sourceFor(event.Name)
	if !ok {
		return
	}

	w.logger.Debug("file event", logging.String("path", event.Name), logging.String("op", event.Op.String()))
	w.track(event.Name, src)
}

func (w *Watcher) matches(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	return w.exts[strings.ToLower(filepath.Ext(name))]
}

// scan tracks every matching file in src that is not already known.
func (w *Watcher) scan(ctx context.Context, src Source) {
	entries, err := os.ReadDir(src.Dir)
	if err != nil {
		w.logger.Error("scan directory", err, logging.String("dir", src.Dir))
		return
	}

	tracked := 0
	for _, entry := range entries {
		if entry.IsDir() || !w.matches(entry.Name()) {
			continue
		}
		path := filepath.Join(src.Dir, entry.Name())
		snap, err := stabilizer.Stat(path)
		if err != nil {
			continue
		}
		if w.skip(ctx, path, src, snap) {
			continue
		}
		w.track(path, src)
		tracked++
	}

	w.logger.Debug("scanned directory", logging.String("dir", src.Dir), logging.Int("tracked", tracked))
}

// track starts settling path, or restarts the count if it is already settling.
func (w *Watcher) track(path string, src Source) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if p, ok := w.pending[path]; ok {
		p.cand.Reset()
		return
	}

	p := &pendingFile{cand: stabilizer.NewCandidate(path, w.cfg.SettleChecks), src: src}
	w.pending[path] = p
	p.timer = time.AfterFunc(w.cfg.SettleInterval, func() { w.check(path) })
}

// check runs on the candidate's own timer.
func (w *Watcher) check(path string) {
	w.mu.Lock()
	p, ok := w.pending[path]
	if w.closed || !ok {
		w.mu.Unlock()
		return
	}

	status, err := p.cand.Check()
	switch {
	case err != nil:
		w.logger.Error("stat settling file", err, logging.String("path", path))
		p.timer.Reset(w.cfg.SettleInterval)
		w.mu.Unlock()
		return
	case status == stabilizer.Gone:
		delete(w.pending, path)
		w.mu.Unlock()
		return
	case status == stabilizer.Pending:
		p.timer.Reset(w.cfg.SettleInterval)
		w.mu.Unlock()
		return
	}

	delete(w.pending, path)
	snap := p.cand.Last()
	if prev, ok := w.emitted[path]; ok && prev.Size == snap.Size && prev.ModTime.Equal(snap.ModTime) {
		w.mu.Unlock()
		return
	}
	ctx := w.ctx
	w.inflight.Add(1)
	w.mu.Unlock()
	defer w.inflight.Done()

	if w.skip(ctx, path, p.src, snap) {
		w.markEmitted(path, snap)
		return
	}

	ev := domain.DiscoveryEvent{
		Path:         path,
		Source:       p.src.Kind,
		Size:         snap.Size,
		ModTime:      snap.ModTime,
		DiscoveredAt: w.now(),
	}
	select {
	case w.events <- ev:
		w.markEmitted(path, snap)
		w.logger.Info("file settled", logging.String("path", path), logging.Int64("size", snap.Size))
	case <-ctx.Done():
	}
}

func (w *Watcher) markEmitted(path string, snap stabilizer.Snapshot) {
	w.mu.Lock()
	w.emitted[path] = snap
	w.mu.Unlock()
}

// skip applies the size, age and already-known filters.
func (w *Watcher) skip(ctx context.Context, path string, src Source, snap stabilizer.Snapshot) bool {
	if snap.Size < w.cfg.MinSize {
		w.logger.Debug("skipping small file", logging.String("path", path), logging.Int64("size", snap.Size))
		return true
	}

	if src.MaxAge > 0 {
		recorded := snap.ModTime
		if t, ok := metadata.FilenameTime(filepath.Base(path)); ok {
			recorded = t
		}
		if recorded.Before(w.now().Add(-src.MaxAge)) {
			w.logger.Debug("skipping old recording", logging.String("path", path))
			return true
		}
	}

	if w.known == nil {
		return false
	}
	known, err := w.known.IsKnown(ctx, path, snap.Size, snap.ModTime)
	if err != nil {
		// The queue dedups by content, so emitting is safe.
		w.logger.Error("check known file", err, logging.String("path", path))
		return false
	}
	return known
}
