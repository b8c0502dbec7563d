package metadata

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/crypto/blake2b"
)

// Info is everything the pipeline derives from an audio file on disk.
type Info struct {
	Fingerprint string
	Size        int64
	ModTime     time.Time
	RecordedAt  time.Time
	Duration    time.Duration
}

// Inspect fingerprints path and resolves its recording time and duration.
func Inspect(path string) (*Info, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if st.IsDir() {
		return nil, fmt.Errorf("inspect %s: is a directory", path)
	}

	sum, err := Fingerprint(path)
	if err != nil {
		return nil, err
	}

	info := &Info{
		Fingerprint: sum,
		Size:        st.Size(),
		ModTime:     st.ModTime(),
	}

	var m4a *M4AInfo
	if strings.EqualFold(filepath.Ext(path), ".m4a") {
		m4a, _ = ReadM4A(path)
	}
	if m4a != nil {
		info.Duration = m4a.Duration
	}
	info.RecordedAt = RecordedAt(filepath.Base(path), m4a, st.ModTime())
	return info, nil
}

// Fingerprint returns the hex BLAKE2b-256 digest of the file's content.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", fmt.Errorf("create hash: %w", err)
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Voice Memos and capture files start with "YYYYMMDD HHMMSS".
var filenameStampRe = regexp.MustCompile(`^(\d{8})[\s_-]*(\d{6})`)

// FilenameTime parses the leading timestamp of a recording filename in local time.
func FilenameTime(name string) (time.Time, bool) {
	m := filenameStampRe.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation("20060102150405", m[1]+m[2], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// RecordedAt picks the best recording time: filename stamp, then the M4A
// creation time, then the modification time.
func RecordedAt(name string, m4a *M4AInfo, modTime time.Time) time.Time {
	if t, ok := FilenameTime(name); ok {
		return t
	}
	if m4a != nil && !m4a.CreationTime.IsZero() && m4a.CreationTime.After(macEpoch) {
		return m4a.CreationTime
	}
	return modTime
}

// DetectMIME sniffs the content type of a file.
func DetectMIME(path string) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("detect type of %s: %w", path, err)
	}
	return mt.String(), nil
}

// IsAudioMIME reports whether a sniffed content type can carry audio.
// MP4 containers sniff as video/mp4 even when they only hold an audio track.
func IsAudioMIME(mime string) bool {
	base, _, _ := strings.Cut(mime, ";")
	base = strings.TrimSpace(base)
	return strings.HasPrefix(base, "audio/") || base == "video/mp4" || base == "video/quicktime" ||
		base == "application/ogg" || base == "video/ogg"
}
