/*
Logic:       Usage counter repository. GetOrCreate and Increment both
             use INSERT ... ON CONFLICT DO UPDATE so concurrent jobs
             for the same org/month never lose an increment to a
             read-modify-write race (mirrors plan_policy.py's
             get-or-create-then-commit, made atomic).
*/

package store

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/pogbonna-IAL/content-gateway/dbretry"
)

type UsageStore struct {
	db  *DB
	log zerolog.Logger
}

func NewUsageStore(db *DB, log zerolog.Logger) *UsageStore {
	return &UsageStore{db: db, log: log}
}

// GetOrCreate returns the usage counter for (orgID, periodMonth),
// creating a zeroed row if none exists yet.
func (s *UsageStore) GetOrCreate(ctx context.Context, orgID int64, periodMonth string) (*UsageCounter, error) {
	var counter UsageCounter
	err := dbretry.Do(ctx, s.log, s.db, func(ctx context.Context) error {
		return s.db.WithSession(ctx, func(tx *sqlx.Tx) error {
			return tx.GetContext(ctx, &counter, `
				INSERT INTO usage_counters (org_id, period_month, blog_count, social_count, audio_count, video_count, voiceover_count, video_render_count)
				VALUES ($1, $2, 0, 0, 0, 0, 0, 0)
				ON CONFLICT (org_id, period_month) DO UPDATE SET org_id = usage_counters.org_id
				RETURNING org_id, period_month, blog_count, social_count, audio_count, video_count, voiceover_count, video_render_count
			`, orgID, periodMonth)
		})
	})
	if err != nil {
		return nil, err
	}
	return &counter, nil
}

// countColumn maps a ContentKind to its usage_counters column.
func countColumn(kind ContentKind) string {
	switch kind {
	case KindBlog:
		return "blog_count"
	case KindSocial:
		return "social_count"
	case KindAudio:
		return "audio_count"
	case KindVideo:
		return "video_count"
	case KindVoiceoverAudio:
		return "voiceover_count"
	case KindVideoClip, KindFinalVideo, KindStoryboardImage, "video_render":
		return "video_render_count"
	default:
		return "blog_count"
	}
}

// Increment bumps the counter column for kind by 1, creating the row
// first if necessary, atomically.
func (s *UsageStore) Increment(ctx context.Context, orgID int64, periodMonth string, kind ContentKind) error {
	column := countColumn(kind)
	query := `
		INSERT INTO usage_counters (org_id, period_month, ` + column + `)
		VALUES ($1, $2, 1)
		ON CONFLICT (org_id, period_month) DO UPDATE SET ` + column + ` = usage_counters.` + column + ` + 1
	`
	return dbretry.Do(ctx, s.log, s.db, func(ctx context.Context) error {
		return s.db.WithSession(ctx, func(tx *sqlx.Tx) error {
			_, err := tx.ExecContext(ctx, query, orgID, periodMonth)
			return err
		})
	})
}
