/*
Logic:       Per-request plan policy facade: resolves the caller's
             organization, active subscription, and tier config, then
             answers GetModelName/GetParallelLimit/EnforceMonthlyLimit/
             IncrementUsage. Mirrors original_source/plan_policy.py's
             PlanPolicy(db, user) one-to-one: admin override to pro,
             lazy org creation, get-or-create usage counter, and the
             check-then-increment split that only consumes quota once
             a job has completed with its artifacts persisted.
*/

// Package planpolicy decides, for a given user and content kind,
// whether a generation is allowed this month and which model/
// parallelism the caller's tier grants.
package planpolicy

import (
	"context"
	"fmt"
	"time"

	"github.com/pogbonna-IAL/content-gateway/apperr"
	"github.com/pogbonna-IAL/content-gateway/store"
)

// PlanPolicy evaluates tier limits for one organization.
type PlanPolicy struct {
	table TierTable
	eval  *limitEvaluator

	users  *store.UserStore
	subs   *store.SubscriptionStore
	usage  *store.UsageStore
}

// New builds a PlanPolicy bound to the given repositories and tier
// table. The rego rule is compiled once here, not per request.
func New(ctx context.Context, table TierTable, users *store.UserStore, subs *store.SubscriptionStore, usage *store.UsageStore) (*PlanPolicy, error) {
	eval, err := newLimitEvaluator(ctx)
	if err != nil {
		return nil, err
	}
	return &PlanPolicy{table: table, eval: eval, users: users, subs: subs, usage: usage}, nil
}

// resolvePlan returns the effective plan for a user: admin override to
// pro, else the org's active subscription plan, else free.
func (p *PlanPolicy) resolvePlan(ctx context.Context, user *store.User, orgID int64) (store.SubscriptionPlan, error) {
	if user.IsAdmin {
		return store.PlanPro, nil
	}

	sub, err := p.subs.ActiveForOrg(ctx, orgID)
	if err != nil {
		return "", err
	}
	if sub == nil {
		return store.PlanFree, nil
	}
	return sub.Plan, nil
}

// ResolveOrg returns the user's owned organization, lazily creating
// one on first access.
func (p *PlanPolicy) ResolveOrg(ctx context.Context, userID int64) (*store.Organization, error) {
	return p.users.GetOrCreateOwnedOrg(ctx, userID)
}

func (p *PlanPolicy) tierConfig(plan store.SubscriptionPlan) TierConfig {
	cfg, ok := p.table[string(plan)]
	if !ok {
		return p.table[string(store.PlanFree)]
	}
	return cfg
}

// GetModelName returns the model to use for contentKind, honoring a
// per-content-type override before falling back to the tier default.
func (p *PlanPolicy) GetModelName(ctx context.Context, user *store.User, orgID int64, contentKind string) (string, error) {
	plan, err := p.resolvePlan(ctx, user, orgID)
	if err != nil {
		return "", err
	}
	cfg := p.tierConfig(plan)
	if override, ok := cfg.ModelOverrides[contentKind]; ok {
		return override, nil
	}
	return cfg.DefaultModel, nil
}

// GetParallelLimit returns the tier's concurrent-format ceiling.
func (p *PlanPolicy) GetParallelLimit(ctx context.Context, user *store.User, orgID int64) (int, error) {
	plan, err := p.resolvePlan(ctx, user, orgID)
	if err != nil {
		return 0, err
	}
	return p.tierConfig(plan).ParallelLimit, nil
}

// RetentionDays returns the tier's artifact retention window, -1 for
// unlimited.
func (p *PlanPolicy) RetentionDays(ctx context.Context, user *store.User, orgID int64) (int, error) {
	plan, err := p.resolvePlan(ctx, user, orgID)
	if err != nil {
		return 0, err
	}
	return p.tierConfig(plan).RetentionDays, nil
}

// RetentionDaysForOrg resolves an org's retention window directly from
// its active subscription, with no admin override — the scheduler has
// no acting user, only the org being swept.
func (p *PlanPolicy) RetentionDaysForOrg(ctx context.Context, orgID int64) (int, error) {
	sub, err := p.subs.ActiveForOrg(ctx, orgID)
	if err != nil {
		return 0, err
	}
	plan := store.PlanFree
	if sub != nil {
		plan = sub.Plan
	}
	return p.tierConfig(plan).RetentionDays, nil
}

func periodMonth(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// EnforceMonthlyLimit returns a CodePlanLimitExceeded apperr if the
// org has already used up (or never had) quota for contentKind this
// month. It does not increment usage — the runners call IncrementUsage
// separately after a job has completed and its artifacts are persisted,
// so a job that fails never consumes quota.
func (p *PlanPolicy) EnforceMonthlyLimit(ctx context.Context, user *store.User, orgID int64, contentKind string) error {
	plan, err := p.resolvePlan(ctx, user, orgID)
	if err != nil {
		return err
	}
	limit, ok := p.tierConfig(plan).MonthlyLimits[contentKind]
	if !ok {
		limit = 0
	}

	counter, err := p.usage.GetOrCreate(ctx, orgID, periodMonth(time.Now()))
	if err != nil {
		return err
	}
	used := usedCount(counter, contentKind)

	allowed, err := p.eval.allow(ctx, used, limit)
	if err != nil {
		return err
	}
	if !allowed {
		return apperr.New(apperr.CodePlanLimitExceeded, fmt.Sprintf("monthly limit reached for %s on the %s plan", contentKind, plan)).
			WithDetails(map[string]interface{}{"used": used, "limit": limit, "plan": string(plan)})
	}
	return nil
}

// IncrementUsage bumps the org's monthly counter for contentKind.
func (p *PlanPolicy) IncrementUsage(ctx context.Context, orgID int64, contentKind string) error {
	return p.usage.Increment(ctx, orgID, periodMonth(time.Now()), store.ContentKind(contentKind))
}

// UsageStats reports used/limit for every content kind in the user's
// current tier, for the usage-dashboard endpoint.
func (p *PlanPolicy) UsageStats(ctx context.Context, user *store.User, orgID int64) (map[string]UsageStat, error) {
	plan, err := p.resolvePlan(ctx, user, orgID)
	if err != nil {
		return nil, err
	}
	cfg := p.tierConfig(plan)

	counter, err := p.usage.GetOrCreate(ctx, orgID, periodMonth(time.Now()))
	if err != nil {
		return nil, err
	}

	stats := make(map[string]UsageStat, len(cfg.MonthlyLimits))
	for kind, limit := range cfg.MonthlyLimits {
		stats[kind] = UsageStat{Used: usedCount(counter, kind), Limit: limit}
	}
	return stats, nil
}

// UsageStat is one content kind's used/limit pair for a reporting period.
type UsageStat struct {
	Used  int `json:"used"`
	Limit int `json:"limit"`
}

func usedCount(c *store.UsageCounter, contentKind string) int {
	switch contentKind {
	case "blog":
		return c.BlogCount
	case "social":
		return c.SocialCount
	case "audio":
		return c.AudioCount
	case "video":
		return c.VideoCount
	case "voiceover_audio":
		return c.VoiceoverCount
	case "video_render":
		return c.VideoRenderCount
	default:
		return 0
	}
}
