package store

import (
	"encoding/json"
	"time"
)

// JobStatus is the content job state machine's sink set plus its two
// transient states (spec §3, §4.D).
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether status is an absorbing state.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// MembershipRole enumerates org membership roles.
type MembershipRole string

const (
	RoleOwner  MembershipRole = "owner"
	RoleAdmin  MembershipRole = "admin"
	RoleMember MembershipRole = "member"
)

// SubscriptionPlan is one of the four tiers from spec §4.C.
type SubscriptionPlan string

const (
	PlanFree       SubscriptionPlan = "free"
	PlanBasic      SubscriptionPlan = "basic"
	PlanPro        SubscriptionPlan = "pro"
	PlanEnterprise SubscriptionPlan = "enterprise"
)

type SubscriptionStatus string

const (
	SubActive               SubscriptionStatus = "active"
	SubCancelled             SubscriptionStatus = "cancelled"
	SubPastDue               SubscriptionStatus = "past_due"
	SubExpired                SubscriptionStatus = "expired"
	SubPendingVerification     SubscriptionStatus = "pending_verification"
)

// User mirrors the tenant-triad's User entity (§3). Password hashing
// and JWT issuance are the authentication collaborator's concern, out
// of scope for this core (spec §1) — this struct only carries the
// fields the job orchestrator needs.
type User struct {
	ID        int64      `db:"id"`
	Email     string     `db:"email"`
	IsAdmin   bool       `db:"is_admin"`
	IsActive  bool       `db:"is_active"`
	DeletedAt *time.Time `db:"deleted_at"`
	CreatedAt time.Time  `db:"created_at"`
}

// Organization is the billable unit every job, subscription, and usage
// counter is attributed to.
type Organization struct {
	ID            int64     `db:"id"`
	Name          string    `db:"name"`
	OwnerUserID   int64     `db:"owner_user_id"`
	RetentionDays int       `db:"retention_days"`
	CreatedAt     time.Time `db:"created_at"`
}

// Membership links a user to an org with a role.
type Membership struct {
	UserID int64          `db:"user_id"`
	OrgID  int64          `db:"org_id"`
	Role   MembershipRole `db:"role"`
}

// Subscription is the org's current (or historical) plan state.
type Subscription struct {
	ID                   int64              `db:"id"`
	OrgID                int64              `db:"org_id"`
	Plan                 SubscriptionPlan   `db:"plan"`
	Status               SubscriptionStatus `db:"status"`
	Provider             string             `db:"provider"`
	ProviderSubscriptionID *string          `db:"provider_subscription_id"`
	CurrentPeriodEnd     time.Time          `db:"current_period_end"`
	CreatedAt            time.Time          `db:"created_at"`
}

// UsageCounter is the atomic per-tenant, per-month usage record.
type UsageCounter struct {
	OrgID            int64  `db:"org_id"`
	PeriodMonth      string `db:"period_month"`
	BlogCount        int    `db:"blog_count"`
	SocialCount      int    `db:"social_count"`
	AudioCount       int    `db:"audio_count"`
	VideoCount       int    `db:"video_count"`
	VoiceoverCount   int    `db:"voiceover_count"`
	VideoRenderCount int    `db:"video_render_count"`
}

// ContentKind enumerates the format/content-type vocabulary used for
// requests, quota checks, and artifact types.
type ContentKind string

const (
	KindBlog             ContentKind = "blog"
	KindSocial           ContentKind = "social"
	KindAudio            ContentKind = "audio"
	KindVideo            ContentKind = "video"
	KindVoiceoverAudio   ContentKind = "voiceover_audio"
	KindStoryboardImage  ContentKind = "storyboard_image"
	KindVideoClip        ContentKind = "video_clip"
	KindFinalVideo       ContentKind = "final_video"
)

// Job is one end-to-end content generation request.
type Job struct {
	ID              int64       `db:"id"`
	OrgID           int64       `db:"org_id"`
	UserID          int64       `db:"user_id"`
	Topic           string      `db:"topic"`
	FormatsRequested []string   `db:"-"`
	FormatsRaw      string      `db:"formats_requested"`
	Status          JobStatus   `db:"status"`
	IdempotencyKey  string      `db:"idempotency_key"`
	CreatedAt       time.Time   `db:"created_at"`
	StartedAt       *time.Time  `db:"started_at"`
	FinishedAt      *time.Time  `db:"finished_at"`
}

// ModerationStatus records the background moderation outcome for an
// artifact without ever reversing the job's terminal status (§4.E.8).
type ModerationStatus string

const (
	ModerationUnchecked ModerationStatus = "unchecked"
	ModerationPassed    ModerationStatus = "passed"
	ModerationBlocked   ModerationStatus = "blocked"
)

// Artifact is a persisted output of one generation step.
type Artifact struct {
	ID               int64            `db:"id"`
	JobID            int64            `db:"job_id"`
	Type             ContentKind      `db:"type"`
	ContentText      *string          `db:"content_text"`
	ContentJSON      *string          `db:"content_json"`
	PromptVersion    *string          `db:"prompt_version"`
	ModelUsed        *string          `db:"model_used"`
	ModerationStatus ModerationStatus `db:"moderation_status"`
	CreatedAt        time.Time        `db:"created_at"`
}

// StorageKey pulls the blob-storage key out of ContentJSON for media
// artifacts, returning "" if absent.
func (a *Artifact) StorageKey() string {
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

// BillingEvent is the webhook audit row; provider_event_id is globally
// unique to enforce at-most-once processing (§3, invariant 3).
type BillingEvent struct {
	ID              int64     `db:"id"`
	Provider        string    `db:"provider"`
	EventType       string    `db:"event_type"`
	ProviderEventID string    `db:"provider_event_id"`
	PayloadJSON     string    `db:"payload_json"`
	OrgID           *int64    `db:"org_id"`
	CreatedAt       time.Time `db:"created_at"`
}

// AuditLog is the append-only security/compliance trail. IP and
// user-agent are one-way-hashed before write (§3).
type AuditLog struct {
	ID            int64     `db:"id"`
	ActionType    string    `db:"action_type"`
	ActorUserID   *int64    `db:"actor_user_id"`
	TargetUserID  *int64    `db:"target_user_id"`
	IPHash        string    `db:"ip_hash"`
	UserAgentHash string    `db:"user_agent_hash"`
	DetailsJSON   string    `db:"details_json"`
	CreatedAt     time.Time `db:"created_at"`
}

// RetentionNotification records that a user was already warned about a
// given artifact's upcoming expiration on a given date, preventing
// duplicate emails (§3, invariant 6).
type RetentionNotification struct {
	ID               int64      `db:"id"`
	UserID           int64      `db:"user_id"`
	ArtifactID       int64      `db:"artifact_id"`
	NotificationDate time.Time  `db:"notification_date"`
	ExpirationDate   time.Time  `db:"expiration_date"`
	EmailSent        bool       `db:"email_sent"`
	EmailSentAt      *time.Time `db:"email_sent_at"`
	EmailFailed      bool       `db:"email_failed"`
	FailureReason    *string    `db:"failure_reason"`
}

// Session is a server-side auth session row, swept by the session GC
// job once its created_at is older than the GC window (ExpiresAt is
// not consulted by the sweep).
type Session struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	TokenHash string    `db:"token_hash"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}
