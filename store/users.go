/*
Logic:       Tenant graph repository: User, Organization, Membership.
             Mirrors the lazy-org-creation behavior of the source's
             PlanPolicy._get_user_org_id — a user with no owned
             organization gets one created on first access, with that
             user as owner.
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

// UserStore persists users, organizations, and memberships.
type UserStore struct {
	db  *DB
	log zerolog.Logger
}

func NewUserStore(db *DB, log zerolog.Logger) *UserStore {
	return &UserStore{db: db, log: log}
}

func (s *UserStore) GetUser(ctx context.Context, userID int64) (*User, error) {
	var u User
	err := dbretry.Do(ctx, s.log, s.db, func(ctx context.Context) error {
		return s.db.WithSession(ctx, func(tx *sqlx.Tx) error {
			return tx.GetContext(ctx, &u, `SELECT id, email, is_admin, is_active, deleted_at, created_at FROM users WHERE id = $1`, userID)
		})
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetOrCreateOwnedOrg returns the organization the user owns, creating
// one (named after the user's email) if none exists yet.
func (s *UserStore) GetOrCreateOwnedOrg(ctx context.Context, userID int64) (*Organization, error) {
	var org Organization
	err := dbretry.Do(ctx, s.log, s.db, func(ctx context.Context) error {
		return s.db.WithSession(ctx, func(tx *sqlx.Tx) error {
			err := tx.GetContext(ctx, &org, `SELECT id, name, owner_user_id, created_at FROM organizations WHERE owner_user_id = $1`, userID)
			if err == nil {
				return nil
			}

			var email string
			if getErr := tx.GetContext(ctx, &email, `SELECT email FROM users WHERE id = $1`, userID); getErr != nil {
				return getErr
			}

			if insErr := tx.GetContext(ctx, &org, `
				INSERT INTO organizations (name, owner_user_id, created_at)
				VALUES ($1, $2, now())
				RETURNING id, name, owner_user_id, created_at
			`, email+"'s workspace", userID); insErr != nil {
				return insErr
			}

			_, memErr := tx.ExecContext(ctx, `
				INSERT INTO memberships (user_id, org_id, role) VALUES ($1, $2, $3)
				ON CONFLICT (user_id, org_id) DO NOTHING
			`, userID, org.ID, RoleOwner)
			return memErr
		})
	})
	if err != nil {
		return nil, err
	}
	return &org, nil
}

// ReassignOwnership moves an organization's owner_user_id to another
// member on deletion of the current owner, keeping the org (and its
// jobs, subscriptions, usage history) alive rather than orphaning it.
func (s *UserStore) ReassignOwnership(ctx context.Context, orgID, newOwnerUserID int64) error {
	return dbretry.Do(ctx, s.log, s.db, func(ctx context.Context) error {
		return s.db.WithSession(ctx, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, `UPDATE organizations SET owner_user_id = $1 WHERE id = $2`, newOwnerUserID, orgID); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO memberships (user_id, org_id, role) VALUES ($1, $2, $3)
				ON CONFLICT (user_id, org_id) DO UPDATE SET role = $3
			`, newOwnerUserID, orgID, RoleOwner)
			return err
		})
	})
}

// ListMembers returns every membership for an organization.
func (s *UserStore) ListMembers(ctx context.Context, orgID int64) ([]Membership, error) {
	var members []Membership
	err := dbretry.Do(ctx, s.log, s.db, func(ctx context.Context) error {
		return s.db.WithSession(ctx, func(tx *sqlx.Tx) error {
			return tx.SelectContext(ctx, &members, `SELECT user_id, org_id, role FROM memberships WHERE org_id = $1`, orgID)
		})
	})
	return members, err
}

// ListOrganizations returns every organization, for jobs that sweep the
// whole tenant set (retention cleanup).
func (s *UserStore) ListOrganizations(ctx context.Context) ([]Organization, error) {
	var orgs []Organization
	err := dbretry.Do(ctx, s.log, s.db, func(ctx context.Context) error {
		return s.db.WithSession(ctx, func(tx *sqlx.Tx) error {
			return tx.SelectContext(ctx, &orgs, `SELECT id, name, owner_user_id, retention_days, created_at FROM organizations`)
		})
	})
	return orgs, err
}

// FindDeletableUsers returns soft-deleted, inactive users whose grace
// period has elapsed, for the hard-delete sweep.
func (s *UserStore) FindDeletableUsers(ctx context.Context, graceDays int) ([]User, error) {
	var users []User
	err := dbretry.Do(ctx, s.log, s.db, func(ctx context.Context) error {
		return s.db.WithSession(ctx, func(tx *sqlx.Tx) error {
			return tx.SelectContext(ctx, &users, `
				SELECT id, email, is_admin, is_active, deleted_at, created_at
				FROM users
				WHERE is_active = false
				  AND deleted_at IS NOT NULL
				  AND deleted_at <= now() - make_interval(days => $1)
			`, graceDays)
		})
	})
	return users, err
}

// HardDelete permanently removes a soft-deleted user: any organization
// they own is either handed to a remaining member or deleted outright,
// the billing trail is preserved with org_id nulled, and the user row
// itself is removed last. One transaction, so a failure partway through
// leaves the user still soft-deleted rather than half-erased.
func (s *UserStore) HardDelete(ctx context.Context, userID int64) error {
	return dbretry.Do(ctx, s.log, s.db, func(ctx context.Context) error {
		return s.db.WithSession(ctx, func(tx *sqlx.Tx) error {
			var ownedOrgs []int64
			if err := tx.SelectContext(ctx, &ownedOrgs, `SELECT id FROM organizations WHERE owner_user_id = $1`, userID); err != nil {
				return err
			}

			for _, orgID := range ownedOrgs {
				var successor sql.NullInt64
				err := tx.GetContext(ctx, &successor, `
					SELECT user_id FROM memberships
					WHERE org_id = $1 AND user_id != $2
					ORDER BY CASE role WHEN 'admin' THEN 0 ELSE 1 END
					LIMIT 1
				`, orgID, userID)
				switch {
				case err == nil && successor.Valid:
					if _, err := tx.ExecContext(ctx, `UPDATE organizations SET owner_user_id = $1 WHERE id = $2`, successor.Int64, orgID); err != nil {
						return err
					}
					if _, err := tx.ExecContext(ctx, `UPDATE memberships SET role = 'owner' WHERE org_id = $1 AND user_id = $2`, orgID, successor.Int64); err != nil {
						return err
					}
				case errors.Is(err, sql.ErrNoRows):
					if _, err := tx.ExecContext(ctx, `UPDATE billing_events SET org_id = NULL WHERE org_id = $1`, orgID); err != nil {
						return err
					}
					if _, err := tx.ExecContext(ctx, `DELETE FROM organizations WHERE id = $1`, orgID); err != nil {
						return err
					}
				default:
					return err
				}
			}

			if _, err := tx.ExecContext(ctx, `DELETE FROM memberships WHERE user_id = $1`, userID); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID)
			return err
		})
	})
}
