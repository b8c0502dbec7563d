package metadata

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestReadM4A_ValidFile(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "test.m4a")
	creationTime := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)

	if err := createTestM4A(testFile, creationTime, 120); err != nil {
		t.Fatalf("failed to create test M4A: %v", err)
	}

	info, err := ReadM4A(testFile)
	if err != nil {
		t.Fatalf("ReadM4A failed: %v", err)
	}
	if !info.CreationTime.Equal(creationTime) {
		t.Errorf("creation time = %v, want %v", info.CreationTime, creationTime)
	}
	if info.Duration != 2*time.Minute {
		t.Errorf("duration = %v, want 2m", info.Duration)
	}
}

func TestReadM4A_Version1Header(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "v1.m4a")
	creationTime := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	if err := writeBoxes(testFile, ftypBox("mp42"), mp4Box("moov", mvhdV1(creationTime, 3600))); err != nil {
		t.Fatalf("write: %v", err)
	}

	info, err := ReadM4A(testFile)
	if err != nil {
		t.Fatalf("ReadM4A failed: %v", err)
	}
	if !info.CreationTime.Equal(creationTime) || info.Duration != time.Hour {
		t.Errorf("info = %+v", info)
	}
}

func TestReadM4A_MediaDataBeforeMovie(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "memo.m4a")
	creationTime := time.Date(2026, 3, 3, 7, 0, 0, 0, time.UTC)
	mdat := mp4Box("mdat", make([]byte, 4096))

	err := writeBoxes(testFile, ftypBox("M4A "), mdat, mp4Box("moov", mp4Box("trak"), mvhdV0(creationTime, 10)))
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	info, err := ReadM4A(testFile)
	if err != nil {
		t.Fatalf("ReadM4A failed: %v", err)
	}
	if info.Duration != 10*time.Second {
		t.Errorf("duration = %v, want 10s", info.Duration)
	}
}

func TestReadM4A_InvalidFormat(t *testing.T) {
	dir := t.TempDir()
	tests := map[string][][]byte{
		"bad brand": {ftypBox("XXXX"), mp4Box("moov", mvhdV0(time.Now(), 1))},
		"no moov":   {ftypBox("M4A ")},
		"no ftyp":   {mp4Box("moov", mvhdV0(time.Now(), 1))},
		"empty":     nil,
	}

	for name, boxes := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".m4a")
			if err := writeBoxes(path, boxes...); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := ReadM4A(path); !errors.Is(err, ErrInvalidFormat) {
				t.Errorf("expected ErrInvalidFormat, got %v", err)
			}
		})
	}
}

func TestReadM4A_TruncatedBox(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.m4a")
	data := ftypBox("M4A ")
	data = append(data, 0x00, 0x00, 0x00, 0x04, 'm', 'o', 'o', 'v')
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadM4A(path); err == nil {
		t.Error("expected error for undersized box")
	}
}

func TestReadM4A_NonexistentFile(t *testing.T) {
	if _, err := ReadM4A("/nonexistent/file.m4a"); err == nil {
		t.Error("expected error for nonexistent file")
	}
}
