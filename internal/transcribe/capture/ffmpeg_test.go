package capture

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestFFmpegStarter_Args(t *testing.T) {
	tests := []struct {
		name    string
		starter *FFmpegStarter
		want    []string
	}{
		{
			name:    "avfoundation device index",
			starter: NewFFmpegStarter("", "", "2"),
			want:    []string{"-hide_banner", "-loglevel", "error", "-f", "avfoundation", "-i", ":2", "-c:a", "aac", "-b:a", "128k", "-y", "/out.m4a"},
		},
		{
			name:    "avfoundation explicit pair",
			starter: NewFFmpegStarter("", "avfoundation", ":BlackHole 2ch"),
			want:    []string{"-hide_banner", "-loglevel", "error", "-f", "avfoundation", "-i", ":BlackHole 2ch", "-c:a", "aac", "-b:a", "128k", "-y", "/out.m4a"},
		},
		{
			name:    "pulse monitor",
			starter: NewFFmpegStarter("", "pulse", "default.monitor"),
			want:    []string{"-hide_banner", "-loglevel", "error", "-f", "pulse", "-i", "default.monitor", "-c:a", "aac", "-b:a", "128k", "-y", "/out.m4a"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.starter.Args("/out.m4a"); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Args() = %q, want %q", got, tt.want)
			}
		})
	}
}

// fakeFFmpeg writes a script standing in for ffmpeg. The last argument is the output file.
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\nfor a; do out=\"$a\"; done\nprintf captured > \"$out\"\n" + body
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFFmpegProcess_QuitKey(t *testing.T) {
	bin := fakeFFmpeg(t, "read line\n[ \"$line\" = q ] && exit 0\nexit 3\n")
	out := filepath.Join(t.TempDir(), "cap.m4a")

	proc, err := NewFFmpegStarter(bin, "", "").Start(context.Background(), out)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := proc.Stop(2 * time.Second); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := proc.Err(); err != nil {
		t.Errorf("Err() = %v, want clean exit", err)
	}
	if data, _ := os.ReadFile(out); string(data) != "captured" {
		t.Errorf("output = %q", data)
	}
}

func TestFFmpegProcess_InterruptAfterGrace(t *testing.T) {
	bin := fakeFFmpeg(t, "trap 'exit 0' INT\nwhile :; do sleep 0.05; done\n")
	proc, err := NewFFmpegStarter(bin, "", "").Start(context.Background(), filepath.Join(t.TempDir(), "cap.m4a"))
	if err != nil {
		t.Fatal(err)
	}
	// Give the shell time to install its trap.
	time.Sleep(100 * time.Millisecond)

	if err := proc.Stop(200 * time.Millisecond); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	select {
	case <-proc.Done():
	default:
		t.Error("process still running after Stop")
	}
}

func TestFFmpegProcess_KilledWhenUnresponsive(t *testing.T) {
	bin := fakeFFmpeg(t, "trap '' INT\nwhile :; do sleep 0.05; done\n")
	proc, err := NewFFmpegStarter(bin, "", "").Start(context.Background(), filepath.Join(t.TempDir(), "cap.m4a"))
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := proc.Stop(100 * time.Millisecond); err == nil {
		t.Error("expected error reporting the kill")
	}
	select {
	case <-proc.Done():
	default:
		t.Error("process still running after Stop")
	}
}

func TestFFmpegStarter_MissingBinary(t *testing.T) {
	_, err := NewFFmpegStarter(filepath.Join(t.TempDir(), "nope"), "", "").Start(context.Background(), "/tmp/x.m4a")
	if err == nil {
		t.Error("expected error for missing binary")
	}
}
