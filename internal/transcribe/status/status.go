// Package status summarises today's service log for the status command.
package status

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Log messages counted by ParseLogFile.
const (
	msgComplete = "transcription complete"
	msgFailed   = "transcription failed"
	msgRetry    = "transcription failed, will retry"
)

// timeLayout matches zap's ISO8601 time encoder.
const timeLayout = "2006-01-02T15:04:05.000Z0700"

// Stats holds parsed statistics from the log file.
type Stats struct {
	Completed     int
	Failed        int
	Retried       int
	Errors        int
	LastProcessed *ProcessedFile
}

// ProcessedFile holds information about the last completed transcription.
type ProcessedFile struct {
	Timestamp   time.Time
	RecordingID string
	Output      string
	Language    string
}

// TodayLogPath returns the path to today's log file in logDir.
func TodayLogPath(logDir string) string {
	today := time.Now().UTC().Format("2006-01-02")
	return filepath.Join(logDir, "memoscribe-"+today+".log")
}

// ParseToday parses today's log file in logDir.
// Returns empty stats if the log file doesn't exist.
func ParseToday(logDir string) (*Stats, error) {
	return ParseLogFile(TodayLogPath(logDir))
}

// ParseLogFile parses a log file and returns statistics.
// Returns empty stats if the file doesn't exist.
func ParseLogFile(path string) (*Stats, error) {
	stats := &Stats{}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return stats, nil
		}
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		entry, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}
		if entry.level == "ERROR" {
			stats.Errors++
		}
		switch entry.msg {
		case msgComplete:
			stats.Completed++
			stats.LastProcessed = &ProcessedFile{
				Timestamp:   entry.time,
				RecordingID: entry.fields["recording_id"],
				Output:      entry.fields["output"],
				Language:    entry.fields["language"],
			}
		case msgFailed:
			stats.Failed++
		case msgRetry:
			stats.Retried++
		}
	}

	return stats, scanner.Err()
}

type entry struct {
	time   time.Time
	level  string
	msg    string
	fields map[string]string
}

// parseLine reads one console-encoded line: time, level, optional logger
// name, message and an optional JSON object of fields, separated by tabs.
func parseLine(line string) (entry, bool) {
	parts := strings.Split(line, "\t")
	if len(parts) < 3 {
		return entry{}, false
	}
	ts, err := time.Parse(timeLayout, parts[0])
	if err != nil {
		return entry{}, false
	}
	e := entry{time: ts, level: parts[1], fields: map[string]string{}}

	rest := parts[2:]
	if last := rest[len(rest)-1]; strings.HasPrefix(last, "{") {
		var raw map[string]any
		if json.Unmarshal([]byte(last), &raw) == nil {
			for k, v := range raw {
				if s, ok := v.(string); ok {
					e.fields[k] = s
				}
			}
		}
		rest = rest[:len(rest)-1]
	}
	if len(rest) == 0 {
		return entry{}, false
	}
	e.msg = rest[len(rest)-1]
	return e, true
}

// FormatTimestamp formats a timestamp for display.
func FormatTimestamp(t time.Time) string {
	return t.Local().Format("2006-01-02T15:04:05")
}

// BaseName returns just the filename from a path.
func BaseName(path string) string {
	return filepath.Base(strings.TrimSuffix(path, "/"))
}
