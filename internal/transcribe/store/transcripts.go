package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/TechnicallyShaun/memoscribe/internal/domain"
)

// DefaultSearchLimit caps search results when no limit is given.
const DefaultSearchLimit = 200

const transcriptColumns = `r.id, r.filename, r.path, r.source, r.recorded_at, r.duration_ms,
	t.transcribed_at, t.language, t.body, t.text_path`

const transcriptFrom = ` FROM transcripts t JOIN recordings r ON r.id = t.recording_id`

// foldForSearch builds the case-folded text matched by SearchTranscripts.
// Folding happens in Go because SQLite's lower() only handles ASCII.
func foldForSearch(filename, body string) string {
	return fold(filename + "\n" + body)
}

// fold lowercases s in NFC form; macOS filenames arrive decomposed.
func fold(s string) string {
	return strings.ToLower(norm.NFC.String(s))
}

func scanTranscript(row scanner) (domain.Transcript, error) {
	var (
		t                               domain.Transcript
		source                          string
		recorded, transcribed, duration int64
	)
	err := row.Scan(&t.RecordingID, &t.Filename, &t.AudioPath, &source, &recorded, &duration,
		&transcribed, &t.Language, &t.Text, &t.TextPath)
	if err != nil {
		return domain.Transcript{}, err
	}
	t.Source = domain.SourceKind(source)
	t.RecordedAt = fromUnix(recorded)
	t.Duration = time.Duration(duration) * time.Millisecond
	t.TranscribedAt = fromUnix(transcribed)
	return t, nil
}

func (s *Store) queryTranscripts(ctx context.Context, query string, args ...any) ([]domain.Transcript, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transcript
	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListTranscripts returns every transcript ordered by the given date.
func (s *Store) ListTranscripts(ctx context.Context, key domain.SortKey, order domain.Order) ([]domain.Transcript, error) {
	column := "t.transcribed_at"
	if key == domain.SortByRecorded {
		column = "r.recorded_at"
	}
	dir := "DESC"
	if order == domain.Ascending {
		dir = "ASC"
	}

	out, err := s.queryTranscripts(ctx, "SELECT "+transcriptColumns+transcriptFrom+
		" ORDER BY "+column+" "+dir+", r.filename "+dir)
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	return out, nil
}

// SearchTranscripts returns transcripts whose filename or text contains query,
// case-insensitively, ranked by match count then most recent transcription.
func (s *Store) SearchTranscripts(ctx context.Context, query string, limit int) ([]domain.Transcript, error) {
	needle := fold(strings.TrimSpace(query))
	if needle == "" {
		return s.ListTranscripts(ctx, domain.SortByTranscribed, domain.Descending)
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	out, err := s.queryTranscripts(ctx, "SELECT "+transcriptColumns+transcriptFrom+`
		WHERE instr(t.search_fold, ?1) > 0
		ORDER BY (length(t.search_fold) - length(replace(t.search_fold, ?1, ''))) / length(?1) DESC,
			t.transcribed_at DESC
		LIMIT ?2`, needle, limit)
	if err != nil {
		return nil, fmt.Errorf("search transcripts: %w", err)
	}
	return out, nil
}

// GetTranscript returns the transcript for one recording.
func (s *Store) GetTranscript(ctx context.Context, id string) (domain.Transcript, error) {
	t, err := scanTranscript(s.db.QueryRowContext(ctx, "SELECT "+transcriptColumns+transcriptFrom+" WHERE r.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Transcript{}, ErrNotFound
	}
	if err != nil {
		return domain.Transcript{}, fmt.Errorf("get transcript: %w", err)
	}
	return t, nil
}

// GetTranscripts returns the transcripts for ids in the order given.
// Unknown ids are skipped; repeated ids appear once.
func (s *Store) GetTranscripts(ctx context.Context, ids []string) ([]domain.Transcript, error) {
	seen := make(map[string]bool, len(ids))
	var unique []string
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(unique))
	args := make([]any, len(unique))
	for i, id := range unique {
		placeholders[i] = "?"
		args[i] = id
	}

	found, err := s.queryTranscripts(ctx, "SELECT "+transcriptColumns+transcriptFrom+
		" WHERE r.id IN ("+strings.Join(placeholders, ",")+")", args...)
	if err != nil {
		return nil, fmt.Errorf("get transcripts: %w", err)
	}

	byID := make(map[string]domain.Transcript, len(found))
	for _, t := range found {
		byID[t.RecordingID] = t
	}
	out := make([]domain.Transcript, 0, len(found))
	for _, id := range unique {
		if t, ok := byID[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// DeleteTranscript removes a transcript and its job, leaving the recording row.
// The deleted transcript is returned so callers can clean up its text file.
func (s *Store) DeleteTranscript(ctx context.Context, id string) (domain.Transcript, error) {
	var deleted domain.Transcript
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := scanTranscript(tx.QueryRowContext(ctx, "SELECT "+transcriptColumns+transcriptFrom+" WHERE r.id = ?", id))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read transcript: %w", err)
		}

		var state string
		err = tx.QueryRowContext(ctx, "SELECT state FROM jobs WHERE recording_id = ?", id).Scan(&state)
		if err == nil && domain.JobState(state).Active() {
			return ErrBusy
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM transcripts WHERE recording_id = ?", id); err != nil {
			return fmt.Errorf("delete transcript: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM jobs WHERE recording_id = ?", id); err != nil {
			return fmt.Errorf("delete job: %w", err)
		}
		deleted = t
		return nil
	})
	if err != nil {
		return domain.Transcript{}, fmt.Errorf("delete %s: %w", id, err)
	}
	return deleted, nil
}

// CountTranscripts returns the number of stored transcripts.
func (s *Store) CountTranscripts(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transcripts").Scan(&n); err != nil {
		return 0, fmt.Errorf("count transcripts: %w", err)
	}
	return n, nil
}
