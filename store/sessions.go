/*
Logic:       Server-side session rows, swept nightly. No domain logic
             beyond "older than the GC window" — auth itself is a
             narrow external contract, not part of the core.
*/

package store

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/pogbonna-IAL/content-gateway/dbretry"
)

type SessionStore struct {
	db  *DB
	log zerolog.Logger
}

func NewSessionStore(db *DB, log zerolog.Logger) *SessionStore {
	return &SessionStore{db: db, log: log}
}

// DeleteExpired removes session rows older than olderThanDays, returning
// the number of rows removed.
func (s *SessionStore) DeleteExpired(ctx context.Context, olderThanDays int) (int64, error) {
	var affected int64
	err := dbretry.Do(ctx, s.log, s.db, func(ctx context.Context) error {
		return s.db.WithSession(ctx, func(tx *sqlx.Tx) error {
			res, err := tx.ExecContext(ctx, `
				DELETE FROM sessions WHERE created_at <= now() - make_interval(days => $1)
			`, olderThanDays)
			if err != nil {
				return err
			}
			affected, err = res.RowsAffected()
			return err
		})
	})
	return affected, err
}
