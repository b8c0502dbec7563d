package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/logging"
)

// Migration is one schema step. Apply, when set, runs after Up in the same transaction.
type Migration struct {
	Version int
	Up      string
	Apply   func(ctx context.Context, tx *sql.Tx) error
}

var migrations = []Migration{
	{
		Version: 1,
		Up: `
CREATE TABLE IF NOT EXISTS recordings (
    id TEXT PRIMARY KEY,
    path TEXT NOT NULL,
    filename TEXT NOT NULL,
    source TEXT NOT NULL,
    size INTEGER NOT NULL,
    mod_time INTEGER NOT NULL,
    recorded_at INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    discovered_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_recordings_path ON recordings(path);
CREATE INDEX IF NOT EXISTS idx_recordings_recorded ON recordings(recorded_at DESC);

-- One row per recording: the current job.
CREATE TABLE IF NOT EXISTS jobs (
    recording_id TEXT PRIMARY KEY,
    job_id TEXT NOT NULL UNIQUE,
    state TEXT NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    language TEXT NOT NULL DEFAULT 'auto',
    created_at INTEGER NOT NULL,
    started_at INTEGER NOT NULL DEFAULT 0,
    completed_at INTEGER NOT NULL DEFAULT 0,
    next_attempt_at INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    FOREIGN KEY (recording_id) REFERENCES recordings(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_jobs_state_due ON jobs(state, next_attempt_at);

CREATE TABLE IF NOT EXISTS transcripts (
    recording_id TEXT PRIMARY KEY,
    language TEXT NOT NULL,
    body TEXT NOT NULL,
    search_fold TEXT NOT NULL,
    text_path TEXT NOT NULL DEFAULT '',
    transcribed_at INTEGER NOT NULL,
    FOREIGN KEY (recording_id) REFERENCES recordings(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_transcripts_transcribed ON transcripts(transcribed_at DESC);
`,
	},
	{
		// search_fold is now NFC-normalized.
		Version: 2,
		Apply:   refoldTranscripts,
	},
}

func refoldTranscripts(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, `SELECT t.recording_id, r.filename, t.body
		FROM transcripts t JOIN recordings r ON r.id = t.recording_id`)
	if err != nil {
		return err
	}
	folds := make(map[string]string)
	for rows.Next() {
		var id, filename, body string
		if err := rows.Scan(&id, &filename, &body); err != nil {
			rows.Close()
			return err
		}
		folds[id] = foldForSearch(filename, body)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for id, fold := range folds {
		if _, err := tx.ExecContext(ctx, "UPDATE transcripts SET search_fold = ? WHERE recording_id = ?", fold, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY, applied_at INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var current int
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			if m.Up != "" {
				if _, err := tx.ExecContext(ctx, m.Up); err != nil {
					return err
				}
			}
			if m.Apply != nil {
				if err := m.Apply(ctx, tx); err != nil {
					return err
				}
			}
			_, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version, applied_at) VALUES (?, ?)", m.Version, s.now().Unix())
			return err
		})
		if err != nil {
			return fmt.Errorf("migration v%d failed: %w", m.Version, err)
		}
		s.logger.Debug("applied migration", logging.Int("version", m.Version))
	}

	return nil
}
