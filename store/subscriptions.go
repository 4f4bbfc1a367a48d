/*
Logic:       Subscription repository enforcing "at most one active
             subscription per organization" by flipping any prior
             active row to cancelled inside the same session that
             inserts the new one, instead of relying on a partial
             unique index the migration may or may not carry yet.
*/

package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/pogbonna-IAL/content-gateway/dbretry"
)

type SubscriptionStore struct {
	db  *DB
	log zerolog.Logger
}

func NewSubscriptionStore(db *DB, log zerolog.Logger) *SubscriptionStore {
	return &SubscriptionStore{db: db, log: log}
}

// ActiveForOrg returns the org's current active subscription, or
// (nil, nil) if the org has none — callers treat a nil subscription
// as the free tier.
func (s *SubscriptionStore) ActiveForOrg(ctx context.Context, orgID int64) (*Subscription, error) {
	var sub Subscription
	err := dbretry.Do(ctx, s.log, s.db, func(ctx context.Context) error {
		return s.db.WithSession(ctx, func(tx *sqlx.Tx) error {
			return tx.GetContext(ctx, &sub, `
				SELECT id, org_id, plan, status, provider, provider_subscription_id, current_period_end, created_at
				FROM subscriptions WHERE org_id = $1 AND status = 'active'
				ORDER BY created_at DESC LIMIT 1
			`, orgID)
		})
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Activate cancels any currently active subscription for the org and
// inserts the new one as active, within one transaction.
func (s *SubscriptionStore) Activate(ctx context.Context, sub *Subscription) (*Subscription, error) {
	var created Subscription
	err := dbretry.Do(ctx, s.log, s.db, func(ctx context.Context) error {
		return s.db.WithSession(ctx, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, `
				UPDATE subscriptions SET status = 'cancelled' WHERE org_id = $1 AND status = 'active'
			`, sub.OrgID); err != nil {
				return err
			}

			return tx.GetContext(ctx, &created, `
				INSERT INTO subscriptions (org_id, plan, status, provider, provider_subscription_id, current_period_end, created_at)
				VALUES ($1, $2, 'active', $3, $4, $5, now())
				RETURNING id, org_id, plan, status, provider, provider_subscription_id, current_period_end, created_at
			`, sub.OrgID, sub.Plan, sub.Provider, sub.ProviderSubscriptionID, sub.CurrentPeriodEnd)
		})
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// MarkStatus updates a subscription's status (e.g. past_due on a
// dunning failure, expired at period end) without touching plan.
func (s *SubscriptionStore) MarkStatus(ctx context.Context, subID int64, status SubscriptionStatus) error {
	return dbretry.Do(ctx, s.log, s.db, func(ctx context.Context) error {
		return s.db.WithSession(ctx, func(tx *sqlx.Tx) error {
			_, err := tx.ExecContext(ctx, `UPDATE subscriptions SET status = $1 WHERE id = $2`, status, subID)
			return err
		})
	})
}
