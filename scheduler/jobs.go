/*
Logic:       The four jobs from spec §4.G wired against real
             repositories: retention notifications (10:00), retention
             cleanup (04:00), session GC (03:00), hard-delete sweep
             (02:00). Cron specs are standard 5-field, local time.
*/

package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pogbonna-IAL/content-gateway/dbretry"
	"github.com/pogbonna-IAL/content-gateway/external"
	"github.com/pogbonna-IAL/content-gateway/planpolicy"
	"github.com/pogbonna-IAL/content-gateway/store"
)

// Deps bundles the repositories and external collaborators the four
// scheduled jobs need.
type Deps struct {
	Users      *store.UserStore
	Retention  *store.RetentionStore
	Sessions   *store.SessionStore
	Plans      *planpolicy.PlanPolicy
	Blobs      external.BlobStorage
	Mail       external.EmailProvider
	Log        zerolog.Logger

	NotifyDaysBefore int
	NotifyBatchSize  int
	GDPRGraceDays    int
	SessionMaxAgeDays int
	DryRun           bool
}

// BuildJobs returns the four Job values ready to Register with a
// Scheduler.
func BuildJobs(d Deps) []Job {
	return []Job{
		{Name: "retention_notifications", Spec: "0 10 * * *", Run: d.retentionNotifications},
		{Name: "retention_cleanup", Spec: "0 4 * * *", Run: d.retentionCleanup},
		{Name: "session_gc", Spec: "0 3 * * *", Run: d.sessionGC},
		{Name: "hard_delete_sweep", Spec: "0 2 * * *", Run: d.hardDeleteSweep},
	}
}

// retentionNotifications warns users, once per artifact per day, that
// their content will expire within NotifyDaysBefore days.
func (d Deps) retentionNotifications(ctx context.Context) error {
	due, err := d.Retention.DueForNotification(ctx, d.NotifyDaysBefore, d.NotifyBatchSize)
	if err != nil {
		return fmt.Errorf("list due notifications: %w", err)
	}

	for _, n := range due {
		if d.DryRun {
			d.Log.Info().Int64("user_id", n.UserID).Int64("artifact_id", n.ArtifactID).
				Time("expires_at", n.ExpirationDate).Msg("retention notification (dry run)")
			continue
		}

		notificationID, created, err := d.Retention.RecordPending(ctx, n.UserID, n.ArtifactID, time.Now().UTC().Truncate(24*time.Hour), n.ExpirationDate)
		if err != nil {
			d.Log.Error().Err(err).Int64("user_id", n.UserID).Int64("artifact_id", n.ArtifactID).Msg("record retention notification failed")
			continue
		}
		if !created {
			continue // another tick already claimed this (user, artifact, day)
		}

		user, err := d.Users.GetUser(ctx, n.UserID)
		if err != nil {
			d.Log.Error().Err(err).Int64("user_id", n.UserID).Msg("load user for retention notification failed")
			continue
		}

		body := fmt.Sprintf("Content you generated will expire on %s and be permanently deleted.", n.ExpirationDate.Format("2006-01-02"))
		if err := d.Mail.Send(ctx, user.Email, "Your content is expiring soon", body); err != nil {
			if markErr := d.Retention.MarkFailed(ctx, notificationID, err.Error()); markErr != nil {
				d.Log.Error().Err(markErr).Msg("mark retention notification failed")
			}
			continue
		}
		if err := d.Retention.MarkSent(ctx, notificationID); err != nil {
			d.Log.Error().Err(err).Int64("notification_id", notificationID).Msg("mark retention notification sent failed")
		}
	}
	return nil
}

// retentionCleanup deletes artifacts past their tier's retention
// window: blob payload first, then the DB row, one artifact at a time
// so a mid-batch failure never leaves an orphaned blob with no
// tracking row (the inverse order would).
func (d Deps) retentionCleanup(ctx context.Context) error {
	orgs, err := d.Users.ListOrganizations(ctx)
	if err != nil {
		return fmt.Errorf("list organizations: %w", err)
	}

	for _, org := range orgs {
		retentionDays, err := d.Plans.RetentionDaysForOrg(ctx, org.ID)
		if err != nil {
			d.Log.Error().Err(err).Int64("org_id", org.ID).Msg("resolve retention window failed")
			continue
		}
		if retentionDays < 0 {
			continue // unlimited retention, e.g. enterprise without a GDPR override
		}

		cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
		for {
			batch, err := d.Retention.ListExpiredArtifacts(ctx, org.ID, cutoff, 100)
			if err != nil {
				d.Log.Error().Err(err).Int64("org_id", org.ID).Msg("list expired artifacts failed")
				break
			}
			if len(batch) == 0 {
				break
			}

			for _, a := range batch {
				if d.DryRun {
					d.Log.Info().Int64("org_id", org.ID).Int64("artifact_id", a.ID).Msg("retention cleanup (dry run)")
					continue
				}
				if key := a.StorageKey(); key != "" {
					if err := d.Blobs.Delete(ctx, key); err != nil {
						d.Log.Error().Err(err).Str("key", key).Msg("delete expired blob failed")
						continue
					}
				}
				if err := d.Retention.DeleteArtifact(ctx, a.ID); err != nil {
					d.Log.Error().Err(err).Int64("artifact_id", a.ID).Msg("delete expired artifact row failed")
				}
			}

			if d.DryRun {
				break // dry run never shrinks the batch, so stop after one pass
			}
		}
	}
	return nil
}

// sessionGC deletes session rows older than SessionMaxAgeDays.
func (d Deps) sessionGC(ctx context.Context) error {
	if d.DryRun {
		d.Log.Info().Msg("session GC (dry run, no rows deleted)")
		return nil
	}
	affected, err := d.Sessions.DeleteExpired(ctx, d.SessionMaxAgeDays)
	if err != nil {
		return fmt.Errorf("delete expired sessions: %w", err)
	}
	d.Log.Info().Int64("deleted", affected).Msg("session GC complete")
	return nil
}

// hardDeleteSweep finds soft-deleted, inactive users past their grace
// window and permanently erases them, retrying each user's deletion up
// to 3 times with exponential backoff before giving up and moving on —
// a stuck user should never block the rest of the sweep.
func (d Deps) hardDeleteSweep(ctx context.Context) error {
	users, err := d.Users.FindDeletableUsers(ctx, d.GDPRGraceDays)
	if err != nil {
		return fmt.Errorf("find deletable users: %w", err)
	}

	for _, u := range users {
		if d.DryRun {
			d.Log.Info().Int64("user_id", u.ID).Msg("hard delete (dry run)")
			continue
		}

		err := dbretry.RetryWithBackoff(ctx, func() error {
			return d.Users.HardDelete(ctx, u.ID)
		})
		if err != nil {
			d.Log.Error().Err(err).Int64("user_id", u.ID).Msg("hard delete failed after retries")
			continue
		}
		d.Log.Info().Int64("user_id", u.ID).Msg("user hard-deleted")
	}
	return nil
}
