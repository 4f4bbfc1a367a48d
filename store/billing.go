/*
Logic:       Billing webhook ledger. provider_event_id carries a
             unique constraint in the migration, and RecordEvent
             inserts with ON CONFLICT DO NOTHING, so a duplicate
             delivery inserts no row and comes back as a (false, nil)
             "already processed" result instead of an error, giving
             webhook handlers at-most-once processing for free.
*/

package store

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/pogbonna-IAL/content-gateway/dbretry"
)

type BillingStore struct {
	db  *DB
	log zerolog.Logger
}

func NewBillingStore(db *DB, log zerolog.Logger) *BillingStore {
	return &BillingStore{db: db, log: log}
}

// RecordEvent inserts a billing event keyed by its provider-assigned
// event ID. It returns processed=true only if this call performed the
// insert; a duplicate delivery returns processed=false, nil so the
// caller's webhook handler can skip re-applying side effects.
func (s *BillingStore) RecordEvent(ctx context.Context, ev *BillingEvent) (processed bool, err error) {
	err = dbretry.Do(ctx, s.log, s.db, func(ctx context.Context) error {
		return s.db.WithSession(ctx, func(tx *sqlx.Tx) error {
			res, execErr := tx.NamedExecContext(ctx, `
				INSERT INTO billing_events (provider, event_type, provider_event_id, payload_json, org_id, created_at)
				VALUES (:provider, :event_type, :provider_event_id, :payload_json, :org_id, now())
				ON CONFLICT (provider_event_id) DO NOTHING
			`, ev)
			if execErr != nil {
				return execErr
			}
			inserted, rowsErr := res.RowsAffected()
			if rowsErr != nil {
				return rowsErr
			}
			processed = inserted > 0
			return nil
		})
	})
	return processed, err
}
