package search

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/TechnicallyShaun/memoscribe/internal/domain"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/output"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/store"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addTranscript(t *testing.T, s *store.Store, id, filename, text, textPath string, recorded time.Time) {
	t.Helper()
	ctx := context.Background()
	rec := domain.Recording{
		ID: id, Path: "/audio/" + filename, Filename: filename, Source: domain.SourceVoiceMemo,
		Size: 1000, ModTime: recorded, RecordedAt: recorded, DiscoveredAt: recorded,
	}
	if err := s.UpsertRecording(ctx, rec); err != nil {
		t.Fatal(err)
	}
	job, _, err := s.Enqueue(ctx, id, domain.LanguageAuto, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Claim(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.Complete(ctx, job.ID, domain.Transcript{Language: "en", Text: text, TextPath: textPath}); err != nil {
		t.Fatal(err)
	}
}

func TestService_ListAndSearch(t *testing.T) {
	s := newStore(t)
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	addTranscript(t, s, "a", "standup.m4a", "Budget review and budget plan", "", base.Add(2*time.Hour))
	addTranscript(t, s, "b", "call.m4a", "Vacation plans", "", base)
	addTranscript(t, s, "c", "idea.m4a", "Budget idea", "", base.Add(time.Hour))
	svc := New(s, nil)
	ctx := context.Background()

	list, err := svc.List(ctx, domain.SortByRecorded, domain.Ascending)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if got := ids(list); got != "b,c,a" {
		t.Errorf("List(recorded asc) = %s, want b,c,a", got)
	}

	found, err := svc.Search(ctx, "BUDGET")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if got := ids(found); got != "a,c" {
		t.Errorf("Search(BUDGET) = %s, want a,c (most matches first)", got)
	}

	all, err := svc.Search(ctx, "  ")
	if err != nil || len(all) != 3 {
		t.Errorf("Search(empty) = %d results, %v; want 3", len(all), err)
	}
}

func ids(ts []domain.Transcript) string {
	out := ""
	for i, t := range ts {
		if i > 0 {
			out += ","
		}
		out += t.RecordingID
	}
	return out
}

func TestService_FetchMany(t *testing.T) {
	s := newStore(t)
	now := time.Now()
	addTranscript(t, s, "a", "a.m4a", "first", "", now)
	addTranscript(t, s, "b", "b.m4a", "second", "", now)
	svc := New(s, nil)

	got, err := svc.FetchMany(context.Background(), []string{"b", "missing", "a", "b"})
	if err != nil {
		t.Fatalf("FetchMany() error = %v", err)
	}
	if ids(got) != "b,a" {
		t.Errorf("FetchMany() = %s, want b,a", ids(got))
	}
}

func TestService_DeleteRemovesFile(t *testing.T) {
	s := newStore(t)
	dir := t.TempDir()
	textPath := filepath.Join(dir, "memo.txt")
	os.WriteFile(textPath, []byte("hello"), 0644)
	addTranscript(t, s, "a", "memo.m4a", "hello", textPath, time.Now())

	svc := New(s, output.NewWriter(dir))
	deleted, err := svc.Delete(context.Background(), "a")
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if deleted.Filename != "memo.m4a" {
		t.Errorf("deleted = %+v", deleted)
	}
	if _, err := os.Stat(textPath); !errors.Is(err, os.ErrNotExist) {
		t.Error("text file still exists")
	}
	if _, err := svc.Get(context.Background(), "a"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
	if _, err := svc.Delete(context.Background(), "a"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestService_PendingAndSummary(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	addTranscript(t, s, "done", "done.m4a", "text", "", time.Now())

	rec := domain.Recording{ID: "wait", Path: "/audio/wait.m4a", Filename: "wait.m4a", Source: domain.SourceDrop, Size: 1, ModTime: time.Now(), RecordedAt: time.Now(), DiscoveredAt: time.Now()}
	if err := s.UpsertRecording(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Enqueue(ctx, "wait", domain.LanguageAuto, false); err != nil {
		t.Fatal(err)
	}

	svc := New(s, nil)
	pending, err := svc.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(pending) != 1 || pending[0].RecordingID != "wait" {
		t.Errorf("Pending() = %+v", pending)
	}

	sum, err := svc.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if sum.Transcripts != 1 || sum.Jobs[domain.JobQueued] != 1 || sum.Jobs[domain.JobSucceeded] != 1 {
		t.Errorf("Summary() = %+v", sum)
	}
}

func TestJoin(t *testing.T) {
	got := Join([]domain.Transcript{
		{Filename: "a.m4a", Text: "First.\n"},
		{Filename: "b.m4a", Text: "Second."},
	})
	want := "## a.m4a\n\nFirst.\n\n## b.m4a\n\nSecond.\n"
	if got != want {
		t.Errorf("Join() = %q, want %q", got, want)
	}
	if Join(nil) != "" {
		t.Error("Join(nil) should be empty")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0:00"},
		{59 * time.Second, "0:59"},
		{61 * time.Second, "1:01"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPreview(t *testing.T) {
	if got := Preview("hello   world\nagain", 11); got != "hello world..." {
		t.Errorf("Preview() = %q", got)
	}
	if got := Preview("short", 10); got != "short" {
		t.Errorf("Preview() = %q", got)
	}
}
