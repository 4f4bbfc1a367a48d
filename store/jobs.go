/*
Logic:       Job repository enforcing the pending -> running ->
             {completed, failed, cancelled} state machine (§4.D) and the
             idempotency-key collision rule from the source's
             content_service.create_job: a terminal duplicate returns
             the existing row, a non-terminal duplicate is a conflict.
*/

package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/pogbonna-IAL/content-gateway/apperr"
	"github.com/pogbonna-IAL/content-gateway/dbretry"
)

// ErrInvalidTransition is returned by UpdateStatus when the requested
// status does not follow the current one in the job state machine.
var ErrInvalidTransition = errors.New("invalid job status transition")

// legalTransitions lists, for each status, the statuses it may move to.
var legalTransitions = map[JobStatus][]JobStatus{
	JobPending: {JobRunning, JobCancelled, JobFailed},
	JobRunning: {JobCompleted, JobFailed, JobCancelled},
}

func canTransition(from, to JobStatus) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IdempotencyKey reproduces content_service._generate_idempotency_key:
// sha256 of user id, lower-cased trimmed topic, and sorted formats.
func IdempotencyKey(userID int64, topic string, formats []string) string {
	sorted := append([]string(nil), formats...)
	sort.Strings(sorted)

	normalized := strings.TrimSpace(strings.ToLower(topic))
	h := sha256.New()
	for i := 0; i < 8; i++ {
		h.Write([]byte{byte(userID >> (8 * (7 - i)))})
	}
	h.Write([]byte(normalized))
	for _, f := range sorted {
		h.Write([]byte(":"))
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// JobStore persists Job rows and their artifacts.
type JobStore struct {
	db  *DB
	log zerolog.Logger
}

func NewJobStore(db *DB, log zerolog.Logger) *JobStore {
	return &JobStore{db: db, log: log}
}

// CreateJob inserts a new job, or — on an idempotency-key collision —
// returns the existing job if it's terminal, or a CONFLICT apperr if
// it's still pending/running (mirrors content_service.create_job).
func (s *JobStore) CreateJob(ctx context.Context, orgID, userID int64, topic string, formats []string) (*Job, error) {
	key := IdempotencyKey(userID, topic, formats)
	formatsRaw := strings.Join(formats, ",")

	var job Job
	err := dbretry.Do(ctx, s.log, s.db, func(ctx context.Context) error {
		return s.db.WithSession(ctx, func(tx *sqlx.Tx) error {
			existing, findErr := findByIdempotencyKey(ctx, tx, orgID, key)
			if findErr == nil {
				if existing.Status.IsTerminal() {
					job = *existing
					return nil
				}
				return apperr.New(apperr.CodeConflict, "a generation job for this request is already in progress").
					WithDetails(map[string]interface{}{
						"job_id": existing.ID,
						"status": string(existing.Status),
					})
			}

			row := struct {
				OrgID          int64  `db:"org_id"`
				UserID         int64  `db:"user_id"`
				Topic          string `db:"topic"`
				FormatsRaw     string `db:"formats_requested"`
				Status         string `db:"status"`
				IdempotencyKey string `db:"idempotency_key"`
			}{orgID, userID, topic, formatsRaw, string(JobPending), key}

			rows, insErr := tx.NamedQuery(`
				INSERT INTO jobs (org_id, user_id, topic, formats_requested, status, idempotency_key, created_at)
				VALUES (:org_id, :user_id, :topic, :formats_requested, :status, :idempotency_key, now())
				RETURNING id, org_id, user_id, topic, formats_requested, status, idempotency_key, created_at, started_at, finished_at
			`, row)
			if insErr != nil {
				return insErr
			}
			defer rows.Close()

			if !rows.Next() {
				return errors.New("insert job: no row returned")
			}
			if scanErr := rows.StructScan(&job); scanErr != nil {
				return scanErr
			}
			job.FormatsRequested = formats
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func findByIdempotencyKey(ctx context.Context, tx *sqlx.Tx, orgID int64, key string) (*Job, error) {
	var job Job
	err := tx.GetContext(ctx, &job, `
		SELECT id, org_id, user_id, topic, formats_requested, status, idempotency_key, created_at, started_at, finished_at
		FROM jobs WHERE org_id = $1 AND idempotency_key = $2
	`, orgID, key)
	if err != nil {
		return nil, err
	}
	job.FormatsRequested = strings.Split(job.FormatsRaw, ",")
	return &job, nil
}

// GetJob loads a job scoped to its owning org, so callers can never
// fetch another tenant's job by guessing an ID.
func (s *JobStore) GetJob(ctx context.Context, orgID, jobID int64) (*Job, error) {
	var job Job
	err := dbretry.Do(ctx, s.log, s.db, func(ctx context.Context) error {
		return s.db.WithSession(ctx, func(tx *sqlx.Tx) error {
			return tx.GetContext(ctx, &job, `
				SELECT id, org_id, user_id, topic, formats_requested, status, idempotency_key, created_at, started_at, finished_at
				FROM jobs WHERE id = $1 AND org_id = $2
			`, jobID, orgID)
		})
	})
	if err != nil {
		return nil, err
	}
	job.FormatsRequested = strings.Split(job.FormatsRaw, ",")
	return &job, nil
}

// GetJobByID loads a job by ID with no org scoping, for internal
// callers (the runner) that already know which job they were handed
// and need its org_id before they can scope anything else.
func (s *JobStore) GetJobByID(ctx context.Context, jobID int64) (*Job, error) {
	var job Job
	err := dbretry.Do(ctx, s.log, s.db, func(ctx context.Context) error {
		return s.db.WithSession(ctx, func(tx *sqlx.Tx) error {
			return tx.GetContext(ctx, &job, `
				SELECT id, org_id, user_id, topic, formats_requested, status, idempotency_key, created_at, started_at, finished_at
				FROM jobs WHERE id = $1
			`, jobID)
		})
	})
	if err != nil {
		return nil, err
	}
	job.FormatsRequested = strings.Split(job.FormatsRaw, ",")
	return &job, nil
}

// UpdateArtifactModeration sets an artifact's moderation status
// without touching any other field or the owning job's status — the
// background moderation pass never reverses a terminal job outcome.
func (s *JobStore) UpdateArtifactModeration(ctx context.Context, artifactID int64, status ModerationStatus) error {
	return dbretry.Do(ctx, s.log, s.db, func(ctx context.Context) error {
		return s.db.WithSession(ctx, func(tx *sqlx.Tx) error {
			_, err := tx.ExecContext(ctx, `UPDATE artifacts SET moderation_status = $1 WHERE id = $2`, status, artifactID)
			return err
		})
	})
}

// ListJobs returns an org's jobs newest-first, paginated.
func (s *JobStore) ListJobs(ctx context.Context, orgID int64, limit, offset int) ([]Job, error) {
	var jobs []Job
	err := dbretry.Do(ctx, s.log, s.db, func(ctx context.Context) error {
		return s.db.WithSession(ctx, func(tx *sqlx.Tx) error {
			return tx.SelectContext(ctx, &jobs, `
				SELECT id, org_id, user_id, topic, formats_requested, status, idempotency_key, created_at, started_at, finished_at
				FROM jobs WHERE org_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
			`, orgID, limit, offset)
		})
	})
	if err != nil {
		return nil, err
	}
	for i := range jobs {
		jobs[i].FormatsRequested = strings.Split(jobs[i].FormatsRaw, ",")
	}
	return jobs, nil
}

// UpdateStatus moves a job to a new status, rejecting any transition
// not present in legalTransitions. Terminal statuses also stamp
// finished_at; running stamps started_at.
func (s *JobStore) UpdateStatus(ctx context.Context, jobID int64, to JobStatus) error {
	return dbretry.Do(ctx, s.log, s.db, func(ctx context.Context) error {
		return s.db.WithSession(ctx, func(tx *sqlx.Tx) error {
			var current JobStatus
			if err := tx.GetContext(ctx, &current, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, jobID); err != nil {
				return err
			}

			if !canTransition(current, to) {
				return ErrInvalidTransition
			}

			now := time.Now().UTC()
			switch to {
			case JobRunning:
				_, err := tx.ExecContext(ctx, `UPDATE jobs SET status = $1, started_at = $2 WHERE id = $3`, to, now, jobID)
				return err
			case JobCompleted, JobFailed, JobCancelled:
				_, err := tx.ExecContext(ctx, `UPDATE jobs SET status = $1, finished_at = $2 WHERE id = $3`, to, now, jobID)
				return err
			default:
				_, err := tx.ExecContext(ctx, `UPDATE jobs SET status = $1 WHERE id = $2`, to, jobID)
				return err
			}
		})
	})
}

// repeatingArtifactKind reports whether t may have more than one row
// per job (storyboard scenes, render clips), and so is excluded from
// the (job_id, type) uniqueness the other kinds are upserted against.
func repeatingArtifactKind(t ContentKind) bool {
	return t == KindStoryboardImage || t == KindVideoClip
}

// UpsertArtifact inserts an artifact or replaces the existing one of
// the same (job_id, type), matching content_service.create_artifact's
// upsert-by-type semantics. Repeating kinds (storyboard images, video
// clips) have no such uniqueness — each call plain-inserts a new row.
func (s *JobStore) UpsertArtifact(ctx context.Context, a *Artifact) error {
	return dbretry.Do(ctx, s.log, s.db, func(ctx context.Context) error {
		return s.db.WithSession(ctx, func(tx *sqlx.Tx) error {
			var rows *sqlx.Rows
			var err error
			if repeatingArtifactKind(a.Type) {
				rows, err = tx.NamedQuery(`
					INSERT INTO artifacts (job_id, type, content_text, content_json, prompt_version, model_used, moderation_status, created_at)
					VALUES (:job_id, :type, :content_text, :content_json, :prompt_version, :model_used, :moderation_status, now())
					RETURNING id, created_at
				`, a)
			} else {
				rows, err = tx.NamedQuery(`
					INSERT INTO artifacts (job_id, type, content_text, content_json, prompt_version, model_used, moderation_status, created_at)
					VALUES (:job_id, :type, :content_text, :content_json, :prompt_version, :model_used, :moderation_status, now())
					ON CONFLICT (job_id, type) WHERE type NOT IN ('storyboard_image', 'video_clip') DO UPDATE SET
						content_text = EXCLUDED.content_text,
						content_json = EXCLUDED.content_json,
						prompt_version = EXCLUDED.prompt_version,
						model_used = EXCLUDED.model_used,
						moderation_status = EXCLUDED.moderation_status
					RETURNING id, created_at
				`, a)
			}
			if err != nil {
				return err
			}
			defer rows.Close()
			if rows.Next() {
				return rows.Scan(&a.ID, &a.CreatedAt)
			}
			return nil
		})
	})
}

// ListArtifacts returns every artifact recorded for a job.
func (s *JobStore) ListArtifacts(ctx context.Context, jobID int64) ([]Artifact, error) {
	var artifacts []Artifact
	err := dbretry.Do(ctx, s.log, s.db, func(ctx context.Context) error {
		return s.db.WithSession(ctx, func(tx *sqlx.Tx) error {
			return tx.SelectContext(ctx, &artifacts, `
				SELECT id, job_id, type, content_text, content_json, prompt_version, model_used, moderation_status, created_at
				FROM artifacts WHERE job_id = $1 ORDER BY created_at ASC
			`, jobID)
		})
	})
	return artifacts, err
}

// CancelJob transitions a job to cancelled if it is still pending or
// running; it is a no-op (not an error) if the job already reached a
// terminal state, since the task registry's cancel is best-effort.
func (s *JobStore) CancelJob(ctx context.Context, jobID int64) error {
	err := s.UpdateStatus(ctx, jobID, JobCancelled)
	if errors.Is(err, ErrInvalidTransition) {
		return nil
	}
	return err
}
