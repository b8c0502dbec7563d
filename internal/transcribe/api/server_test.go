package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/TechnicallyShaun/memoscribe/internal/domain"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/capture"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/queue"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/search"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeControl struct {
	mu        sync.Mutex
	watching  bool
	recording bool
	language  domain.LanguageMode
	submitted []string
	resubmits []string
	submitErr error
}

func (f *fakeControl) State(ctx context.Context) transcribe.ControlState {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := transcribe.ControlState{Watching: f.watching, Language: f.language.String()}
	st.Capture.State = capture.Idle
	if f.recording {
		st.Capture.State = capture.Recording
	}
	return st
}

func (f *fakeControl) StartWatching(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watching {
		return transcribe.ErrAlreadyWatching
	}
	f.watching = true
	return nil
}

func (f *fakeControl) StopWatching(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.watching {
		return transcribe.ErrNotWatching
	}
	f.watching = false
	return nil
}

func (f *fakeControl) StartCapture(ctx context.Context) (capture.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recording {
		return capture.Session{}, capture.ErrAlreadyRecording
	}
	f.recording = true
	return capture.Session{State: capture.Recording, Path: "/rec/20260101 100000-system.m4a"}, nil
}

func (f *fakeControl) StopCapture(ctx context.Context) (capture.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.recording {
		return capture.Session{}, capture.ErrInvalidTransition
	}
	f.recording = false
	return capture.Session{State: capture.Idle, Path: "/rec/20260101 100000-system.m4a"}, nil
}

func (f *fakeControl) SetLanguage(ctx context.Context, mode domain.LanguageMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.language = mode
	return nil
}

func (f *fakeControl) Submit(ctx context.Context, path string) (domain.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, path)
	return domain.SubmitEnqueued, nil
}

func (f *fakeControl) Resubmit(ctx context.Context, id string) (domain.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == "missing" {
		return "", store.ErrNotFound
	}
	f.resubmits = append(f.resubmits, id)
	return domain.SubmitEnqueued, nil
}

type testEnv struct {
	store   *store.Store
	control *fakeControl
	server  *Server
	dir     string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	control := &fakeControl{}
	return &testEnv{
		store:   s,
		control: control,
		server:  NewServer("127.0.0.1:0", search.New(s, nil), control, nil),
		dir:     dir,
	}
}

func (e *testEnv) addTranscript(t *testing.T, id, filename, text string, recorded time.Time) string {
	t.Helper()
	ctx := context.Background()
	audio := filepath.Join(e.dir, filename)
	if err := os.WriteFile(audio, []byte("ID3\x03\x00\x00\x00\x00\x00\x00audio"), 0644); err != nil {
		t.Fatal(err)
	}
	rec := domain.Recording{
		ID: id, Path: audio, Filename: filename, Source: domain.SourceDrop,
		Size: 100, ModTime: recorded, RecordedAt: recorded, DiscoveredAt: recorded,
	}
	if err := e.store.UpsertRecording(ctx, rec); err != nil {
		t.Fatal(err)
	}
	job, _, err := e.store.Enqueue(ctx, id, domain.LanguageAuto, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.store.Claim(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	if err := e.store.Complete(ctx, job.ID, domain.Transcript{Language: "en", Text: text}); err != nil {
		t.Fatal(err)
	}
	return audio
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var env struct {
		Success bool   `json:"success"`
		Data    T      `json:"data"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	if !env.Success {
		t.Fatalf("response not successful: %s", env.Error)
	}
	return env.Data
}

func ids(ts []domain.Transcript) string {
	var out []string
	for _, t := range ts {
		out = append(out, t.RecordingID)
	}
	return strings.Join(out, ",")
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestListTranscripts(t *testing.T) {
	env := newTestEnv(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	env.addTranscript(t, "a", "late.m4a", "late", base.Add(time.Hour))
	env.addTranscript(t, "b", "early.m4a", "early", base)

	rec := env.do(t, http.MethodGet, "/api/transcripts?sort=recorded&order=asc", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if got := ids(decode[[]domain.Transcript](t, rec)); got != "b,a" {
		t.Errorf("order = %s, want b,a", got)
	}

	rec = env.do(t, http.MethodGet, "/api/transcripts?sort=size", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad sort status = %d, want 400", rec.Code)
	}
}

func TestListTranscripts_EmptyIsArray(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/transcripts", nil)
	if !strings.Contains(rec.Body.String(), `"data":[]`) {
		t.Errorf("body = %s, want empty data array", rec.Body)
	}
}

func TestSearchTranscripts(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	env.addTranscript(t, "a", "one.m4a", "Quarterly budget", now)
	env.addTranscript(t, "b", "two.m4a", "Lunch order", now)

	rec := env.do(t, http.MethodGet, "/api/transcripts/search?q=BUDGET", nil)
	if got := ids(decode[[]domain.Transcript](t, rec)); got != "a" {
		t.Errorf("search = %s, want a", got)
	}
}

func TestBatchTranscripts(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	env.addTranscript(t, "a", "one.m4a", "first", now)
	env.addTranscript(t, "b", "two.m4a", "second", now)

	rec := env.do(t, http.MethodPost, "/api/transcripts/batch", BatchRequest{IDs: []string{"b", "zz", "a", "b"}})
	if got := ids(decode[[]domain.Transcript](t, rec)); got != "b,a" {
		t.Errorf("batch = %s, want b,a", got)
	}

	rec = env.do(t, http.MethodGet, "/api/transcripts/batch?ids=a,b&format=text", nil)
	want := "## one.m4a\n\nfirst\n\n## two.m4a\n\nsecond\n"
	if rec.Body.String() != want {
		t.Errorf("text batch = %q, want %q", rec.Body.String(), want)
	}

	rec = env.do(t, http.MethodGet, "/api/transcripts/batch", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty batch status = %d, want 400", rec.Code)
	}
}

func TestGetTranscript(t *testing.T) {
	env := newTestEnv(t)
	env.addTranscript(t, "a", "one.m4a", "hello", time.Now())

	rec := env.do(t, http.MethodGet, "/api/transcripts/a", nil)
	if got := decode[domain.Transcript](t, rec); got.Text != "hello" {
		t.Errorf("text = %q", got.Text)
	}

	rec = env.do(t, http.MethodGet, "/api/transcripts/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown status = %d, want 404", rec.Code)
	}
}

func TestDeleteTranscript(t *testing.T) {
	env := newTestEnv(t)
	audio := env.addTranscript(t, "a", "one.m4a", "hello", time.Now())

	rec := env.do(t, http.MethodDelete, "/api/transcripts/a", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if _, err := os.Stat(audio); err != nil {
		t.Errorf("audio removed: %v", err)
	}
	rec = env.do(t, http.MethodDelete, "/api/transcripts/a", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestTranscriptAudio(t *testing.T) {
	env := newTestEnv(t)
	audio := env.addTranscript(t, "a", "one.mp3", "hello", time.Now())

	rec := env.do(t, http.MethodGet, "/api/transcripts/a/audio", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("Content-Type = %q, want audio/mpeg", ct)
	}

	os.Remove(audio)
	rec = env.do(t, http.MethodGet, "/api/transcripts/a/audio", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing audio status = %d, want 404", rec.Code)
	}
}

func TestJobsAndStatus(t *testing.T) {
	env := newTestEnv(t)
	env.addTranscript(t, "a", "one.m4a", "hello", time.Now())

	rec := env.do(t, http.MethodGet, "/api/jobs?state=succeeded", nil)
	jobs := decode[[]domain.JobView](t, rec)
	if len(jobs) != 1 || jobs[0].Filename != "one.m4a" {
		t.Errorf("jobs = %+v", jobs)
	}

	rec = env.do(t, http.MethodGet, "/api/jobs?state=sleeping", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad state status = %d, want 400", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/status", nil)
	st := decode[StatusResponse](t, rec)
	if st.Summary.Transcripts != 1 || st.Summary.Jobs[domain.JobSucceeded] != 1 {
		t.Errorf("summary = %+v", st.Summary)
	}
}

func TestWatchingControl(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/control/watching/start", nil)
	if st := decode[transcribe.ControlState](t, rec); !st.Watching {
		t.Error("watching = false after start")
	}
	rec = env.do(t, http.MethodPost, "/api/control/watching/start", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("second start status = %d, want 409", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/control/watching/stop", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("stop status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/control/watching/stop", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("second stop status = %d, want 409", rec.Code)
	}
}

func TestCaptureControl(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/control/capture/stop", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("stop while idle status = %d, want 409", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/control/capture/start", nil)
	if sess := decode[capture.Session](t, rec); sess.State != capture.Recording {
		t.Errorf("state = %s, want recording", sess.State)
	}
	rec = env.do(t, http.MethodPost, "/api/control/capture/start", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("second start status = %d, want 409", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/control/capture/stop", nil)
	if sess := decode[capture.Session](t, rec); sess.State != capture.Idle {
		t.Errorf("state = %s, want idle", sess.State)
	}
}

func TestSetLanguage(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/api/control/language", LanguageRequest{Mode: "SV"})
	if st := decode[transcribe.ControlState](t, rec); st.Language != "sv" {
		t.Errorf("language = %q, want sv", st.Language)
	}
	rec = env.do(t, http.MethodPut, "/api/control/language", LanguageRequest{Mode: "swedish"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid mode status = %d, want 400", rec.Code)
	}
	rec = env.do(t, http.MethodPut, "/api/control/language", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing mode status = %d, want 400", rec.Code)
	}
}

func TestSubmit(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/control/submit", SubmitRequest{Path: "/tmp/a.m4a"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if res := decode[SubmitResponse](t, rec); res.Result != domain.SubmitEnqueued {
		t.Errorf("result = %s", res.Result)
	}

	rec = env.do(t, http.MethodPost, "/api/control/submit", SubmitRequest{RecordingID: "abc"})
	if rec.Code != http.StatusAccepted {
		t.Errorf("resubmit status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/control/submit", SubmitRequest{RecordingID: "missing"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown recording status = %d, want 404", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/control/submit", SubmitRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty submit status = %d, want 400", rec.Code)
	}

	env.control.submitErr = queue.ErrNotAFile
	rec = env.do(t, http.MethodPost, "/api/control/submit", SubmitRequest{Path: "/tmp"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("directory submit status = %d, want 400", rec.Code)
	}

	if len(env.control.submitted) != 1 || len(env.control.resubmits) != 1 {
		t.Errorf("submitted = %v, resubmits = %v", env.control.submitted, env.control.resubmits)
	}
}
