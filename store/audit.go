/*
Logic:       Append-only audit log. IP address and user agent are
             hashed with crypto/sha256 before they ever reach a SQL
             statement, so raw PII never lands in the audit table
             (§3, §7 data-handling invariant).
*/

package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/pogbonna-IAL/content-gateway/dbretry"
)

type AuditStore struct {
	db  *DB
	log zerolog.Logger
}

func NewAuditStore(db *DB, log zerolog.Logger) *AuditStore {
	return &AuditStore{db: db, log: log}
}

// HashIdentifier one-way-hashes an IP address or user-agent string.
func HashIdentifier(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Record appends an audit row. ip and userAgent are hashed here so
// every call site gets the same treatment without remembering to.
func (s *AuditStore) Record(ctx context.Context, actionType string, actorUserID, targetUserID *int64, ip, userAgent, detailsJSON string) error {
	entry := AuditLog{
		ActionType:    actionType,
		ActorUserID:   actorUserID,
		TargetUserID:  targetUserID,
		IPHash:        HashIdentifier(ip),
		UserAgentHash: HashIdentifier(userAgent),
		DetailsJSON:   detailsJSON,
	}
	return dbretry.Do(ctx, s.log, s.db, func(ctx context.Context) error {
		return s.db.WithSession(ctx, func(tx *sqlx.Tx) error {
			_, err := tx.NamedExecContext(ctx, `
				INSERT INTO audit_logs (action_type, actor_user_id, target_user_id, ip_hash, user_agent_hash, details_json, created_at)
				VALUES (:action_type, :actor_user_id, :target_user_id, :ip_hash, :user_agent_hash, :details_json, now())
			`, entry)
			return err
		})
	})
}
