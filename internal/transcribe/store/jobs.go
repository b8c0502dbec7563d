package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/TechnicallyShaun/memoscribe/internal/domain"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/logging"
)

// ReconcileMessage is recorded on jobs requeued after an unclean shutdown.
const ReconcileMessage = "interrupted by restart"

const jobColumns = `j.job_id, j.recording_id, j.state, j.attempts, j.language, j.created_at,
	j.started_at, j.completed_at, j.next_attempt_at, j.last_error`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner, extra ...any) (domain.Job, error) {
	var (
		job                                   domain.Job
		state, lang                           string
		created, started, completed, nextTime int64
	)
	dest := append([]any{&job.ID, &job.RecordingID, &state, &job.Attempts, &lang, &created,
		&started, &completed, &nextTime, &job.LastError}, extra...)
	if err := row.Scan(dest...); err != nil {
		return domain.Job{}, err
	}
	job.State = domain.JobState(state)
	job.Language = domain.ForcedLanguage(lang)
	job.CreatedAt = fromUnix(created)
	job.StartedAt = fromUnix(started)
	job.CompletedAt = fromUnix(completed)
	job.NextAttemptAt = fromUnix(nextTime)
	return job, nil
}

// UpsertRecording inserts a recording or refreshes its metadata.
func (s *Store) UpsertRecording(ctx context.Context, rec domain.Recording) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recordings (id, path, filename, source, size, mod_time, recorded_at, duration_ms, discovered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			filename = excluded.filename,
			source = excluded.source,
			size = excluded.size,
			mod_time = excluded.mod_time,
			recorded_at = excluded.recorded_at,
			duration_ms = CASE WHEN excluded.duration_ms > 0 THEN excluded.duration_ms ELSE recordings.duration_ms END`,
		rec.ID, rec.Path, rec.Filename, string(rec.Source), rec.Size, toUnix(rec.ModTime),
		toUnix(rec.RecordedAt), rec.Duration.Milliseconds(), toUnix(rec.DiscoveredAt))
	if err != nil {
		return fmt.Errorf("upsert recording: %w", err)
	}
	return nil
}

// GetRecording returns a recording by identity.
func (s *Store) GetRecording(ctx context.Context, id string) (domain.Recording, error) {
	var (
		rec                               domain.Recording
		source                            string
		modTime, recorded, discovered, ms int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, path, filename, source, size, mod_time, recorded_at, duration_ms, discovered_at
		FROM recordings WHERE id = ?`, id).
		Scan(&rec.ID, &rec.Path, &rec.Filename, &source, &rec.Size, &modTime, &recorded, &ms, &discovered)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Recording{}, ErrNotFound
	}
	if err != nil {
		return domain.Recording{}, fmt.Errorf("get recording: %w", err)
	}
	rec.Source = domain.SourceKind(source)
	rec.ModTime = fromUnix(modTime)
	rec.RecordedAt = fromUnix(recorded)
	rec.Duration = time.Duration(ms) * time.Millisecond
	rec.DiscoveredAt = fromUnix(discovered)
	return rec, nil
}

// IsKnown reports whether a recording at path with this exact size and
// modification time already has a job. Used to skip unchanged files on rescans.
func (s *Store) IsKnown(ctx context.Context, path string, size int64, modTime time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM recordings r JOIN jobs j ON j.recording_id = r.id
		WHERE r.path = ? AND r.size = ? AND r.mod_time = ?`,
		path, size, toUnix(modTime)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check known recording: %w", err)
	}
	return n > 0, nil
}

// Enqueue atomically creates or re-queues the job for a recording.
// An active job yields SubmitDuplicate; a succeeded one yields
// SubmitAlreadyTranscribed unless force is set.
func (s *Store) Enqueue(ctx context.Context, recordingID string, mode domain.LanguageMode, force bool) (domain.Job, domain.SubmitResult, error) {
	var (
		job    domain.Job
		result domain.SubmitResult
	)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanJob(tx.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs j WHERE j.recording_id = ?", recordingID))
		switch {
		case errors.Is(err, sql.ErrNoRows):
			existing = domain.Job{State: domain.JobDiscovered}
		case err != nil:
			return fmt.Errorf("read job: %w", err)
		case existing.State.Active():
			job, result = existing, domain.SubmitDuplicate
			return nil
		case existing.State == domain.JobSucceeded && !force:
			job, result = existing, domain.SubmitAlreadyTranscribed
			return nil
		}

		if err := existing.Transition(domain.JobQueued); err != nil {
			return err
		}

		now := s.now()
		job = domain.Job{
			ID:            uuid.NewString(),
			RecordingID:   recordingID,
			State:         domain.JobQueued,
			Language:      mode,
			CreatedAt:     now,
			NextAttemptAt: now,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO jobs (recording_id, job_id, state, attempts, language, created_at, started_at, completed_at, next_attempt_at, last_error)
			VALUES (?, ?, ?, 0, ?, ?, 0, 0, ?, '')
			ON CONFLICT(recording_id) DO UPDATE SET
				job_id = excluded.job_id,
				state = excluded.state,
				attempts = 0,
				language = excluded.language,
				created_at = excluded.created_at,
				started_at = 0,
				completed_at = 0,
				next_attempt_at = excluded.next_attempt_at,
				last_error = ''`,
			recordingID, job.ID, string(job.State), mode.String(), toUnix(now), toUnix(now))
		if err != nil {
			return fmt.Errorf("write job: %w", err)
		}
		result = domain.SubmitEnqueued
		return nil
	})
	if err != nil {
		return domain.Job{}, "", fmt.Errorf("enqueue %s: %w", recordingID, err)
	}
	return job, result, nil
}

// DueJobs returns queued jobs whose next attempt is at or before now, oldest first.
func (s *Store) DueJobs(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+jobColumns+` FROM jobs j
		WHERE j.state = ? AND j.next_attempt_at <= ?
		ORDER BY j.next_attempt_at, j.created_at
		LIMIT ?`, string(domain.JobQueued), toUnix(now), limit)
	if err != nil {
		return nil, fmt.Errorf("query due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Claim moves a queued job to running and counts the attempt.
// Returns ErrNotClaimable when the job is not queued (another worker won, or it was replaced).
func (s *Store) Claim(ctx context.Context, jobID string) (domain.Job, error) {
	var job domain.Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE jobs SET state = ?, attempts = attempts + 1, started_at = ?
			WHERE job_id = ? AND state = ?`,
			string(domain.JobRunning), toUnix(s.now()), jobID, string(domain.JobQueued))
		if err != nil {
			return fmt.Errorf("update job: %w", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return ErrNotClaimable
		}
		job, err = scanJob(tx.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs j WHERE j.job_id = ?", jobID))
		return err
	})
	if err != nil {
		return domain.Job{}, fmt.Errorf("claim job %s: %w", jobID, err)
	}
	return job, nil
}

// Complete stores the transcript and marks the job succeeded in one transaction.
func (s *Store) Complete(ctx context.Context, jobID string, t domain.Transcript) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var recordingID, state, filename string
		err := tx.QueryRowContext(ctx, `
			SELECT j.recording_id, j.state, r.filename FROM jobs j JOIN recordings r ON r.id = j.recording_id
			WHERE j.job_id = ?`, jobID).Scan(&recordingID, &state, &filename)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrStaleJob
		}
		if err != nil {
			return fmt.Errorf("read job: %w", err)
		}
		if domain.JobState(state) != domain.JobRunning {
			return ErrStaleJob
		}

		transcribedAt := t.TranscribedAt
		if transcribedAt.IsZero() {
			transcribedAt = s.now()
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO transcripts (recording_id, language, body, search_fold, text_path, transcribed_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(recording_id) DO UPDATE SET
				language = excluded.language,
				body = excluded.body,
				search_fold = excluded.search_fold,
				text_path = excluded.text_path,
				transcribed_at = excluded.transcribed_at`,
			recordingID, t.Language, t.Text, foldForSearch(filename, t.Text), t.TextPath, toUnix(transcribedAt))
		if err != nil {
			return fmt.Errorf("write transcript: %w", err)
		}

		if t.Duration > 0 {
			if _, err := tx.ExecContext(ctx, "UPDATE recordings SET duration_ms = ? WHERE id = ?", t.Duration.Milliseconds(), recordingID); err != nil {
				return fmt.Errorf("update duration: %w", err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE jobs SET state = ?, completed_at = ?, last_error = '' WHERE job_id = ?`,
			string(domain.JobSucceeded), toUnix(s.now()), jobID)
		if err != nil {
			return fmt.Errorf("update job: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}
	return nil
}

// Retry returns a running job to the queue, due at nextAt.
func (s *Store) Retry(ctx context.Context, jobID, lastErr string, nextAt time.Time) error {
	return s.finishAttempt(ctx, jobID, domain.JobQueued, lastErr, `next_attempt_at = ?`, toUnix(nextAt))
}

// Fail marks a running job permanently failed.
func (s *Store) Fail(ctx context.Context, jobID, lastErr string) error {
	return s.finishAttempt(ctx, jobID, domain.JobFailed, lastErr, `completed_at = ?`, toUnix(s.now()))
}

func (s *Store) finishAttempt(ctx context.Context, jobID string, to domain.JobState, lastErr, set string, arg int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET state = ?, last_error = ?, "+set+" WHERE job_id = ? AND state = ?",
		string(to), lastErr, arg, jobID, string(domain.JobRunning))
	if err != nil {
		return fmt.Errorf("move job %s to %s: %w", jobID, to, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("move job %s to %s: %w", jobID, to, ErrStaleJob)
	}
	return nil
}

// Reconcile requeues jobs left running by an unclean shutdown and returns how many.
func (s *Store) Reconcile(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, next_attempt_at = ?, last_error = ? WHERE state = ?`,
		string(domain.JobQueued), toUnix(s.now()), ReconcileMessage, string(domain.JobRunning))
	if err != nil {
		return 0, fmt.Errorf("reconcile running jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("requeued interrupted jobs", logging.Int64("count", n))
	}
	return int(n), nil
}

// GetJob returns the current job for a recording.
func (s *Store) GetJob(ctx context.Context, recordingID string) (domain.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs j WHERE j.recording_id = ?", recordingID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, ErrNotFound
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs in any of the given states (all states when none given), newest first.
func (s *Store) ListJobs(ctx context.Context, states ...domain.JobState) ([]domain.JobView, error) {
	query := "SELECT " + jobColumns + `, r.filename, r.path, r.source
		FROM jobs j JOIN recordings r ON r.id = j.recording_id`
	var args []any
	if len(states) > 0 {
		placeholders := make([]string, len(states))
		for i, st := range states {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += " WHERE j.state IN (" + strings.Join(placeholders, ",") + ")"
	}
	query += " ORDER BY j.created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var views []domain.JobView
	for rows.Next() {
		var (
			v      domain.JobView
			source string
		)
		job, err := scanJob(rows, &v.Filename, &v.Path, &source)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		v.Job = job
		v.Source = domain.SourceKind(source)
		views = append(views, v)
	}
	return views, rows.Err()
}

// JobCounts returns the number of jobs in each state.
func (s *Store) JobCounts(ctx context.Context) (map[domain.JobState]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT state, COUNT(*) FROM jobs GROUP BY state")
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.JobState]int)
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[domain.JobState(state)] = n
	}
	return counts, rows.Err()
}
