package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/TechnicallyShaun/memoscribe/internal/domain"
)

type fakeProcess struct {
	path    string
	payload []byte
	done    chan struct{}
	once    sync.Once
	err     error
	stopped int
}

func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

func (p *fakeProcess) Stop(grace time.Duration) error {
	p.stopped++
	if p.payload != nil {
		os.WriteFile(p.path, p.payload, 0644)
	}
	p.exit(nil)
	return nil
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }
func (p *fakeProcess) Err() error            { return p.err }

type fakeStarter struct {
	mu      sync.Mutex
	procs   []*fakeProcess
	err     error
	payload []byte
}

func (s *fakeStarter) Start(ctx context.Context, outputPath string) (Process, error) {
	if s.err != nil {
		return nil, s.err
	}
	p := &fakeProcess{path: outputPath, payload: s.payload, done: make(chan struct{})}
	s.mu.Lock()
	s.procs = append(s.procs, p)
	s.mu.Unlock()
	return p, nil
}

func (s *fakeStarter) last() *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[len(s.procs)-1]
}

type fakeSubmitter struct {
	mu     sync.Mutex
	events []domain.DiscoveryEvent
}

func (f *fakeSubmitter) Submit(ctx context.Context, ev domain.DiscoveryEvent) (domain.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return domain.SubmitEnqueued, nil
}

func (f *fakeSubmitter) Events() []domain.DiscoveryEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.DiscoveryEvent(nil), f.events...)
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) Notify(ctx context.Context, title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, title+": "+message)
	return nil
}

func (f *fakeNotifier) Messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

func fixedClock() func() time.Time {
	t := time.Date(2026, 3, 14, 9, 26, 53, 0, time.Local)
	return func() time.Time { return t }
}

func TestRecorder_StartStop(t *testing.T) {
	dir := t.TempDir()
	starter := &fakeStarter{payload: []byte("aac-data")}
	sub := &fakeSubmitter{}
	r := New(dir, starter, sub, WithClock(fixedClock()))

	if got := r.State().State; got != Idle {
		t.Fatalf("initial state = %q, want idle", got)
	}

	sess, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	wantPath := filepath.Join(dir, "20260314 092653-system.m4a")
	if sess.Path != wantPath {
		t.Errorf("Path = %q, want %q", sess.Path, wantPath)
	}
	if r.State().State != Recording {
		t.Errorf("state = %q, want recording", r.State().State)
	}

	sess, err = r.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if sess.State != Idle {
		t.Errorf("state after stop = %q, want idle", sess.State)
	}
	if starter.last().stopped != 1 {
		t.Errorf("process stopped %d times, want 1", starter.last().stopped)
	}

	events := sub.Events()
	if len(events) != 1 {
		t.Fatalf("submitted %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Path != wantPath || ev.Source != domain.SourceCapture {
		t.Errorf("event = %+v", ev)
	}
	if !ev.RecordedAt.Equal(fixedClock()()) {
		t.Errorf("RecordedAt = %v, want session start", ev.RecordedAt)
	}
	if ev.Size != int64(len("aac-data")) {
		t.Errorf("Size = %d", ev.Size)
	}
}

func TestRecorder_StartWhileRecording(t *testing.T) {
	starter := &fakeStarter{}
	r := New(t.TempDir(), starter, nil)

	if _, err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Start(context.Background()); !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRecording", err)
	}
	if len(starter.procs) != 1 {
		t.Errorf("started %d processes, want 1", len(starter.procs))
	}
}

func TestRecorder_StopWhileIdle(t *testing.T) {
	r := New(t.TempDir(), &fakeStarter{}, nil)
	if _, err := r.Stop(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Stop() error = %v, want ErrInvalidTransition", err)
	}
	if err := r.Close(context.Background()); err != nil {
		t.Errorf("Close() on idle recorder = %v", err)
	}
}

func TestRecorder_StartFailureStaysIdle(t *testing.T) {
	r := New(t.TempDir(), &fakeStarter{err: errors.New("no device")}, nil)
	if _, err := r.Start(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if r.State().State != Idle {
		t.Errorf("state = %q, want idle", r.State().State)
	}
}

func TestRecorder_UnexpectedExitSubmitsPartial(t *testing.T) {
	dir := t.TempDir()
	starter := &fakeStarter{}
	sub := &fakeSubmitter{}
	r := New(dir, starter, sub)

	sess, err := r.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	os.WriteFile(sess.Path, []byte("partial"), 0644)
	starter.last().exit(errors.New("device unplugged"))

	deadline := time.Now().Add(time.Second)
	for r.State().State != Idle {
		if time.Now().After(deadline) {
			t.Fatal("recorder did not return to idle")
		}
		time.Sleep(5 * time.Millisecond)
	}
	for len(sub.Events()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("partial capture not submitted")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if sub.Events()[0].Path != sess.Path {
		t.Errorf("submitted %q, want %q", sub.Events()[0].Path, sess.Path)
	}

	// A new capture can start afterwards.
	if _, err := r.Start(context.Background()); err != nil {
		t.Errorf("Start() after crash error = %v", err)
	}
}

func TestRecorder_EmptyCaptureNotSubmitted(t *testing.T) {
	starter := &fakeStarter{}
	sub := &fakeSubmitter{}
	r := New(t.TempDir(), starter, sub)

	if _, err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(sub.Events()); n != 0 {
		t.Errorf("submitted %d events for empty capture", n)
	}
}

func TestRecorder_NotifiesWhenSaved(t *testing.T) {
	n := &fakeNotifier{}
	starter := &fakeStarter{payload: []byte("aac-data")}
	r := New(t.TempDir(), starter, &fakeSubmitter{}, WithClock(fixedClock()), WithNotifier(n))

	if _, err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := n.Messages()
	want := "Recording saved: 20260314 092653-system.m4a will be transcribed automatically"
	if len(got) != 1 || got[0] != want {
		t.Errorf("notifications = %q, want [%q]", got, want)
	}
}

func TestRecorder_EmptyCaptureNotNotified(t *testing.T) {
	n := &fakeNotifier{}
	r := New(t.TempDir(), &fakeStarter{}, &fakeSubmitter{}, WithNotifier(n))

	if _, err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := n.Messages(); len(got) != 0 {
		t.Errorf("notifications = %q, want none", got)
	}
}

func TestRecorder_SameSecondGetsUniqueName(t *testing.T) {
	dir := t.TempDir()
	starter := &fakeStarter{payload: []byte("x")}
	r := New(dir, starter, nil, WithClock(fixedClock()))

	first, _ := r.Start(context.Background())
	r.Stop(context.Background())
	second, err := r.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if first.Path == second.Path {
		t.Errorf("both captures use %q", first.Path)
	}
	if filepath.Base(second.Path) != "20260314 092653-2-system.m4a" {
		t.Errorf("second path = %q", filepath.Base(second.Path))
	}
}
