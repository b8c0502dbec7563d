package status

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/logging"
)

func TestParseLogFile_Empty(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "memoscribe-test.log")
	os.WriteFile(logPath, []byte(""), 0644)

	stats, err := ParseLogFile(logPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Completed != 0 || stats.Errors != 0 {
		t.Errorf("stats = %+v, want zero", stats)
	}
	if stats.LastProcessed != nil {
		t.Error("expected LastProcessed to be nil")
	}
}

func TestParseLogFile_NonExistent(t *testing.T) {
	stats, err := ParseLogFile("/nonexistent/path/memoscribe.log")
	if err != nil {
		t.Fatalf("unexpected error for nonexistent file: %v", err)
	}
	if stats.Completed != 0 {
		t.Errorf("expected 0 completed, got %d", stats.Completed)
	}
}

func TestParseLogFile_WithCompletedFiles(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "memoscribe-test.log")

	logContent := strings.Join([]string{
		"2026-01-22T10:00:00.000Z\tINFO\tservice starting\t{\"engine\": \"whisper-cli\"}",
		"2026-01-22T10:00:01.000Z\tINFO\tqueue\ttranscribing\t{\"job_id\": \"j1\", \"recording_id\": \"r1\"}",
		"2026-01-22T10:00:05.000Z\tINFO\tqueue\ttranscription complete\t{\"job_id\": \"j1\", \"recording_id\": \"r1\", \"language\": \"en\", \"output\": \"/t/meeting.txt\", \"elapsed\": \"4s\"}",
		"2026-01-22T11:00:10.250Z\tINFO\tqueue\ttranscription complete\t{\"job_id\": \"j2\", \"recording_id\": \"r2\", \"language\": \"sv\", \"output\": \"/t/notes.txt\", \"elapsed\": \"9s\"}",
		"not a log line",
		"",
	}, "\n")
	os.WriteFile(logPath, []byte(logContent), 0644)

	stats, err := ParseLogFile(logPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Completed != 2 {
		t.Errorf("expected 2 completed, got %d", stats.Completed)
	}
	if stats.LastProcessed == nil {
		t.Fatal("expected LastProcessed to be non-nil")
	}

	want := time.Date(2026, 1, 22, 11, 0, 10, 250_000_000, time.UTC)
	if !stats.LastProcessed.Timestamp.Equal(want) {
		t.Errorf("expected timestamp %v, got %v", want, stats.LastProcessed.Timestamp)
	}
	if stats.LastProcessed.RecordingID != "r2" || stats.LastProcessed.Output != "/t/notes.txt" || stats.LastProcessed.Language != "sv" {
		t.Errorf("LastProcessed = %+v", stats.LastProcessed)
	}
}

func TestParseLogFile_WithErrors(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "memoscribe-test.log")

	logContent := strings.Join([]string{
		"2026-01-22T10:00:01.000Z\tWARN\tqueue\ttranscription failed, will retry\t{\"job_id\": \"j1\", \"error\": \"engine unavailable\"}",
		"2026-01-22T10:00:02.000Z\tERROR\tqueue\ttranscription failed\t{\"job_id\": \"j1\", \"error\": \"engine unavailable\"}",
		"2026-01-22T10:01:00.000Z\tINFO\tqueue\ttranscription complete\t{\"recording_id\": \"r2\"}",
		"2026-01-22T10:02:00.000Z\tERROR\twatcher\twatch source\t{\"error\": \"permission denied\"}",
	}, "\n")
	os.WriteFile(logPath, []byte(logContent), 0644)

	stats, err := ParseLogFile(logPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Completed != 1 || stats.Failed != 1 || stats.Retried != 1 {
		t.Errorf("stats = %+v, want 1 completed, 1 failed, 1 retried", stats)
	}
	if stats.Errors != 2 {
		t.Errorf("expected 2 errors, got %d", stats.Errors)
	}
}

func TestParseLogFile_ReadsLoggerOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWriter(&buf, logging.LevelInfo).WithComponent("queue")
	logger.Info("transcription complete",
		logging.String("recording_id", "abc"),
		logging.String("output", "/t/abc.txt"),
		logging.String("language", "en"))
	logger.Error("transcription failed", errors.New("boom"))

	logPath := filepath.Join(t.TempDir(), "memoscribe-test.log")
	os.WriteFile(logPath, buf.Bytes(), 0644)

	stats, err := ParseLogFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Completed != 1 || stats.Failed != 1 || stats.Errors != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.LastProcessed == nil || stats.LastProcessed.RecordingID != "abc" {
		t.Errorf("LastProcessed = %+v", stats.LastProcessed)
	}
}

func TestTodayLogPath(t *testing.T) {
	got := TodayLogPath("/logs")
	want := filepath.Join("/logs", "memoscribe-"+time.Now().UTC().Format("2006-01-02")+".log")
	if got != want {
		t.Errorf("TodayLogPath() = %q, want %q", got, want)
	}
}

func TestBaseName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/path/to/file.m4a", "file.m4a"},
		{"/path/to/file", "file"},
		{"file.m4a", "file.m4a"},
		{"/path/to/dir/", "dir"},
	}

	for _, tc := range tests {
		if result := BaseName(tc.input); result != tc.expected {
			t.Errorf("BaseName(%q) = %q, expected %q", tc.input, result, tc.expected)
		}
	}
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2026, 1, 22, 14, 30, 0, 0, time.UTC)
	if result := FormatTimestamp(ts); result == "" {
		t.Error("expected non-empty formatted timestamp")
	}
}
