/*
Logic:       Retention notification dedup. The unique constraint on
             (user_id, artifact_id, notification_date) means a second
             scheduler tick on the same day can safely attempt the same
             insert and just get told "already notified" back.
*/

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/pogbonna-IAL/content-gateway/dbretry"
)

type RetentionStore struct {
	db  *DB
	log zerolog.Logger
}

func NewRetentionStore(db *DB, log zerolog.Logger) *RetentionStore {
	return &RetentionStore{db: db, log: log}
}

// RecordPending inserts a not-yet-sent notification row for
// (userID, artifactID, notificationDate), returning created=false if
// one already exists for that day. id is only valid when created.
func (s *RetentionStore) RecordPending(ctx context.Context, userID, artifactID int64, notificationDate, expirationDate time.Time) (id int64, created bool, err error) {
	err = dbretry.Do(ctx, s.log, s.db, func(ctx context.Context) error {
		return s.db.WithSession(ctx, func(tx *sqlx.Tx) error {
			getErr := tx.GetContext(ctx, &id, `
				INSERT INTO retention_notifications (user_id, artifact_id, notification_date, expiration_date, email_sent, email_failed)
				VALUES ($1, $2, $3, $4, false, false)
				ON CONFLICT (user_id, artifact_id, notification_date) DO NOTHING
				RETURNING id
			`, userID, artifactID, notificationDate, expirationDate)
			if errors.Is(getErr, sql.ErrNoRows) {
				created = false
				return nil
			}
			if getErr != nil {
				return getErr
			}
			created = true
			return nil
		})
	})
	return id, created, err
}

// MarkSent flags a notification as successfully emailed.
func (s *RetentionStore) MarkSent(ctx context.Context, id int64) error {
	return dbretry.Do(ctx, s.log, s.db, func(ctx context.Context) error {
		return s.db.WithSession(ctx, func(tx *sqlx.Tx) error {
			_, err := tx.ExecContext(ctx, `UPDATE retention_notifications SET email_sent = true, email_sent_at = now() WHERE id = $1`, id)
			return err
		})
	})
}

// MarkFailed flags a notification as failed to send, recording why.
func (s *RetentionStore) MarkFailed(ctx context.Context, id int64, reason string) error {
	return dbretry.Do(ctx, s.log, s.db, func(ctx context.Context) error {
		return s.db.WithSession(ctx, func(tx *sqlx.Tx) error {
			_, err := tx.ExecContext(ctx, `UPDATE retention_notifications SET email_failed = true, failure_reason = $1 WHERE id = $2`, reason, id)
			return err
		})
	})
}

// ExpiredArtifact is one row due for retention cleanup: enough to
// locate and delete both its blob payload (if any) and its DB row.
type ExpiredArtifact struct {
	ID         int64       `db:"id"`
	Type       ContentKind `db:"type"`
	ContentJSON *string    `db:"content_json"`
}

// StorageKey pulls the blob-storage key out of ContentJSON, returning
// "" for text-only artifacts with nothing to delete from blob storage.
func (a *ExpiredArtifact) StorageKey() string {
	if a.ContentJSON == nil {
		return ""
	}
	var payload struct {
		StorageKey string `json:"storage_key"`
	}
	if err := json.Unmarshal([]byte(*a.ContentJSON), &payload); err != nil {
		return ""
	}
	return payload.StorageKey
}

// ListExpiredArtifacts returns artifacts for orgID older than cutoff,
// capped at batchSize so the cleanup job commits in bounded batches
// rather than holding one giant transaction open.
func (s *RetentionStore) ListExpiredArtifacts(ctx context.Context, orgID int64, cutoff time.Time, batchSize int) ([]ExpiredArtifact, error) {
	var rows []ExpiredArtifact
	err := dbretry.Do(ctx, s.log, s.db, func(ctx context.Context) error {
		return s.db.WithSession(ctx, func(tx *sqlx.Tx) error {
			return tx.SelectContext(ctx, &rows, `
				SELECT a.id AS id, a.type AS type, a.content_json AS content_json
				FROM artifacts a
				JOIN jobs j ON j.id = a.job_id
				WHERE j.org_id = $1 AND a.created_at < $2
				ORDER BY a.created_at ASC
				LIMIT $3
			`, orgID, cutoff, batchSize)
		})
	})
	return rows, err
}

// DeleteArtifact removes a single artifact row, called only after its
// blob payload (if any) has already been deleted.
func (s *RetentionStore) DeleteArtifact(ctx context.Context, artifactID int64) error {
	return dbretry.Do(ctx, s.log, s.db, func(ctx context.Context) error {
		return s.db.WithSession(ctx, func(tx *sqlx.Tx) error {
			_, err := tx.ExecContext(ctx, `DELETE FROM artifacts WHERE id = $1`, artifactID)
			return err
		})
	})
}

// DueNotification is one artifact whose expiry warning is due.
type DueNotification struct {
	UserID         int64     `db:"user_id"`
	ArtifactID     int64     `db:"artifact_id"`
	ExpirationDate time.Time `db:"expiration_date"`
}

// DueForNotification finds artifacts expiring within notifyDaysBefore
// that have no retention_notifications row yet for today, taking the
// retention window from each organization's retention_days column.
func (s *RetentionStore) DueForNotification(ctx context.Context, notifyDaysBefore, batchSize int) ([]DueNotification, error) {
	var rows []DueNotification
	err := dbretry.Do(ctx, s.log, s.db, func(ctx context.Context) error {
		return s.db.WithSession(ctx, func(tx *sqlx.Tx) error {
			return tx.SelectContext(ctx, &rows, `
				SELECT j.user_id AS user_id, a.id AS artifact_id,
				       a.created_at + make_interval(days => o.retention_days) AS expiration_date
				FROM artifacts a
				JOIN jobs j ON j.id = a.job_id
				JOIN organizations o ON o.id = j.org_id
				LEFT JOIN retention_notifications rn ON rn.artifact_id = a.id AND rn.notification_date = CURRENT_DATE
				WHERE rn.id IS NULL
				  AND o.retention_days >= 0
				  AND a.created_at + make_interval(days => o.retention_days - $1) <= now()
				  AND a.created_at + make_interval(days => o.retention_days) > now()
				ORDER BY a.created_at ASC
				LIMIT $2
			`, notifyDaysBefore, batchSize)
		})
	})
	return rows, err
}
