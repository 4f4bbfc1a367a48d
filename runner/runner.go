/*
Logic:       Orchestrates one content job end-to-end: short DB session
             to resolve plan/model, cache lookup, agent execution under
             a circuit breaker and deadline, per-format fan-out with a
             bounded worker pool, background moderation, and
             completion/failure bookkeeping. Structured like the
             teacher's handler/stream.go (disconnect-aware loop with a
             metrics snapshot) crossed with handler/proxy.go's
             request-building, driving a multi-step pipeline instead of
             one proxied call. No *sqlx.Tx or store session is ever
             held across a call into llmruntime/ttsengine/videorenderer
             /blobstore — every persistence step opens and closes its
             own store.WithSession.
*/

// Package runner drives job execution from pending through to a
// terminal state.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/pogbonna-IAL/content-gateway/cache"
	"github.com/pogbonna-IAL/content-gateway/eventstore"
	"github.com/pogbonna-IAL/content-gateway/external"
	"github.com/pogbonna-IAL/content-gateway/planpolicy"
	"github.com/pogbonna-IAL/content-gateway/store"
	"github.com/pogbonna-IAL/content-gateway/taskregistry"
)

// Runner owns every collaborator a job execution needs.
type Runner struct {
	jobs     *store.JobStore
	users    *store.UserStore
	plans    *planpolicy.PlanPolicy
	events   eventstore.Store
	tasks    *taskregistry.Registry
	cache    *cache.Engine
	llm      external.LLMRuntime
	moderate ModerationFunc
	breaker  *gobreaker.CircuitBreaker
	log      zerolog.Logger

	agentTimeout time.Duration
}

// ModerationFunc is the external moderation contract: returns true if
// the content passed moderation.
type ModerationFunc func(ctx context.Context, text string) (passed bool, err error)

// Config carries the tunables the runner needs from the process
// configuration, kept narrow so tests can construct a Runner directly.
type Config struct {
	AgentTimeout time.Duration
}

func New(
	jobs *store.JobStore,
	users *store.UserStore,
	plans *planpolicy.PlanPolicy,
	events eventstore.Store,
	tasks *taskregistry.Registry,
	contentCache *cache.Engine,
	llm external.LLMRuntime,
	moderate ModerationFunc,
	log zerolog.Logger,
	cfg Config,
) *Runner {
	if cfg.AgentTimeout == 0 {
		cfg.AgentTimeout = 300 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "llmruntime",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Runner{
		jobs: jobs, users: users, plans: plans, events: events, tasks: tasks,
		cache: contentCache, llm: llm, moderate: moderate, breaker: breaker,
		log: log, agentTimeout: cfg.AgentTimeout,
	}
}

// Tasks exposes the runner's task registry so callers (the cancel
// endpoint) can request cancellation without reaching into runner
// internals.
func (r *Runner) Tasks() *taskregistry.Registry {
	return r.tasks
}

// Run executes job end-to-end. The caller is expected to invoke this
// on its own goroutine (the HTTP handler only kicks it off); Run
// itself never returns early on client disconnect because jobs outlive
// the request that created them.
func (r *Runner) Run(parent context.Context, jobID int64) {
	ctx, handle := r.tasks.Register(parent, jobID)
	defer r.tasks.Unregister(jobID)
	_ = handle

	job, user, model, err := r.prepare(ctx, jobID)
	if err != nil {
		if ctx.Err() == context.Canceled {
			r.cancel(context.Background(), jobID)
			return
		}
		r.fail(context.Background(), jobID, err)
		return
	}

	r.events.Append(ctx, jobID, "job_started", map[string]interface{}{"job_id": jobID})
	r.events.Append(ctx, jobID, "status_update", map[string]interface{}{"status": store.JobRunning})

	parallelLimit, err := r.plans.GetParallelLimit(ctx, user, job.OrgID)
	if err != nil || parallelLimit <= 0 {
		parallelLimit = 1
	}

	results, runErr := r.generateAll(ctx, jobID, job.OrgID, job.Topic, job.FormatsRequested, model, parallelLimit)
	if runErr != nil {
		if ctx.Err() == context.Canceled {
			r.cancel(context.Background(), jobID)
			return
		}
		r.fail(context.Background(), jobID, runErr)
		return
	}

	for _, res := range results {
		go r.moderateInBackground(jobID, res.artifactID, res.text)
	}

	r.complete(context.Background(), jobID, job.OrgID, job.FormatsRequested)
}

// cancel records a job's cancellation and emits the terminal cancelled
// event. ContentHandler.Cancel cancels this run's context and then
// transitions the job's status itself, so both sides may call
// CancelJob; whichever loses the race finds the job already terminal,
// which CancelJob treats as a no-op rather than a failure.
func (r *Runner) cancel(ctx context.Context, jobID int64) {
	r.log.Info().Int64("job_id", jobID).Msg("job cancelled")
	if err := r.jobs.CancelJob(ctx, jobID); err != nil {
		r.log.Error().Err(err).Int64("job_id", jobID).Msg("failed to transition job to cancelled")
	}
	r.events.Append(ctx, jobID, "cancelled", map[string]interface{}{
		"job_id": jobID, "timestamp": time.Now().UTC(),
	})
}

// prepare runs step 1: a short DB session that resolves the user and
// plan-derived model, then transitions the job to running. The
// session is closed before this function returns.
func (r *Runner) prepare(ctx context.Context, jobID int64) (*store.Job, *store.User, string, error) {
	job, err := r.jobs.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, nil, "", fmt.Errorf("resolve job: %w", err)
	}

	user, err := r.users.GetUser(ctx, job.UserID)
	if err != nil {
		return nil, nil, "", fmt.Errorf("resolve user: %w", err)
	}

	model, err := r.plans.GetModelName(ctx, user, job.OrgID, "blog")
	if err != nil {
		return nil, nil, "", fmt.Errorf("resolve model: %w", err)
	}

	if err := r.jobs.UpdateStatus(ctx, jobID, store.JobRunning); err != nil {
		return nil, nil, "", fmt.Errorf("transition to running: %w", err)
	}

	return job, user, model, nil
}

type formatResult struct {
	format     string
	artifactID int64
	text       string
}

// generateAll runs step 3-7: cache lookup, preflight, agent execution,
// and per-format processing. Blog is generated first and synchronously
// (other formats may depend on its output as narration source); the
// remaining formats fan out across an errgroup bounded by
// min(len(formats)-1, parallelLimit).
func (r *Runner) generateAll(ctx context.Context, jobID, orgID int64, topic string, formats []string, model string, parallelLimit int) ([]formatResult, error) {
	ordered := reorderBlogFirst(formats)

	if results, ok := r.tryFullCacheHit(ctx, jobID, orgID, topic, ordered, model); ok {
		return results, nil
	}

	if err := r.llm.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("configuration_error: %w", err)
	}

	results := make([]formatResult, len(ordered))

	first, err := r.generateOne(ctx, jobID, orgID, topic, ordered[0], model)
	if err != nil {
		return nil, r.classify(err)
	}
	results[0] = first

	if len(ordered) > 1 {
		limit := len(ordered) - 1
		if parallelLimit < limit {
			limit = parallelLimit
		}
		if limit < 1 {
			limit = 1
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(limit)
		for i, format := range ordered[1:] {
			i, format := i+1, format
			g.Go(func() error {
				res, genErr := r.generateOne(gctx, jobID, orgID, topic, format, model)
				if genErr != nil {
					return genErr
				}
				results[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, r.classify(err)
		}
	}

	return results, nil
}

// tryFullCacheHit reports whether every requested format already has
// a cache entry and, if so, persists all of them directly. Per spec
// step 3, a full cache hit bypasses preflight and agent execution
// entirely, so this runs before generateAll ever calls HealthCheck.
func (r *Runner) tryFullCacheHit(ctx context.Context, jobID, orgID int64, topic string, formats []string, model string) ([]formatResult, bool) {
	hits := make([]*cache.LookupResult, len(formats))
	for i, format := range formats {
		key := cache.Key{Topic: topic, Format: format, PromptVersion: "v1", Model: model, ModerationVersion: "v1"}
		hit, err := r.cache.Lookup(ctx, fmt.Sprintf("%d", orgID), key)
		if err != nil || !hit.Hit {
			return nil, false
		}
		hits[i] = hit
	}

	results := make([]formatResult, len(formats))
	for i, format := range formats {
		res, err := r.persistArtifact(ctx, jobID, format, string(hits[i].Entry.Content), model)
		if err != nil {
			return nil, false
		}
		results[i] = res
	}
	return results, true
}

// generateOne runs the cache lookup, agent execution, extraction, and
// fresh-session persistence for a single format.
func (r *Runner) generateOne(ctx context.Context, jobID, orgID int64, topic, format, model string) (formatResult, error) {
	key := cache.Key{Topic: topic, Format: format, PromptVersion: "v1", Model: model, ModerationVersion: "v1"}

	if hit, err := r.cache.Lookup(ctx, fmt.Sprintf("%d", orgID), key); err == nil && hit.Hit {
		return r.persistArtifact(ctx, jobID, format, string(hit.Entry.Content), model)
	}

	ctx, cancel := context.WithTimeout(ctx, r.agentTimeout)
	defer cancel()

	tickerDone := make(chan struct{})
	go r.emitAgentProgress(ctx, jobID, format, tickerDone)
	defer close(tickerDone)

	raw, err := r.breaker.Execute(func() (interface{}, error) {
		return r.llm.Generate(ctx, external.GenerationRequest{Topic: topic, Format: format, Model: model})
	})
	if err != nil {
		return formatResult{}, err
	}
	result := raw.(*external.GenerationResult)

	preview := result.Text
	if len(preview) > contentPreviewChars {
		preview = preview[:contentPreviewChars]
	}
	r.events.Append(ctx, jobID, "content_preview", map[string]interface{}{"type": format, "preview": preview})

	extracted := extractFormat(format, result.Text)

	_ = r.cache.Store(ctx, fmt.Sprintf("%d", orgID), key, []byte(extracted))

	r.streamContent(ctx, jobID, format, extracted)

	return r.persistArtifact(ctx, jobID, format, extracted, result.ModelUsed)
}

const contentPreviewChars = 500

// streamContent emits the validated text in chunks whose size adapts
// to total length, per spec step 7d. progress is cumulative and capped
// at 95% — the terminal content event in persistArtifact is the only
// one allowed to report 100.
func (r *Runner) streamContent(ctx context.Context, jobID int64, format, text string) {
	size := len(text)
	chunkSize := 1024
	switch {
	case size <= 2048:
		chunkSize = 200
	case size <= 5120:
		chunkSize = 500
	}

	total := (size + chunkSize - 1) / chunkSize
	if total == 0 {
		total = 1
	}

	for i := 0; i < size; i += chunkSize {
		end := i + chunkSize
		if end > size {
			end = size
		}
		chunkNum := i/chunkSize + 1
		progress := chunkNum * 95 / total
		if progress > 95 {
			progress = 95
		}
		r.events.Append(ctx, jobID, "content", map[string]interface{}{
			"type": format, "chunk": text[i:end], "chunk_num": chunkNum,
			"total_chunks": total, "progress": progress, "partial": true,
			"pending_save": true,
		})
	}
}

func (r *Runner) persistArtifact(ctx context.Context, jobID int64, format, text, model string) (formatResult, error) {
	artifact := &store.Artifact{
		JobID:            jobID,
		Type:             store.ContentKind(format),
		ContentText:      &text,
		ModelUsed:        &model,
		ModerationStatus: store.ModerationUnchecked,
	}
	if err := r.jobs.UpsertArtifact(ctx, artifact); err != nil {
		return formatResult{}, fmt.Errorf("persist artifact: %w", err)
	}

	r.events.Append(ctx, jobID, "content", map[string]interface{}{
		"type": format, "content": text, "progress": 100, "saved": true,
	})
	r.events.Append(ctx, jobID, "artifact_ready", map[string]interface{}{"type": format})

	return formatResult{format: format, artifactID: artifact.ID, text: text}, nil
}

// emitAgentProgress ticks agent_progress events every 3s with a
// phase-weighted percentage and an ETA in seconds, extrapolated from
// the elapsed time and that percentage, until stopped.
func (r *Runner) emitAgentProgress(ctx context.Context, jobID int64, format string, done <-chan struct{}) {
	phases := []struct {
		name    string
		weight  int
	}{{"research", 25}, {"writing", 50}, {"editing", 15}, {"extraction", 10}}

	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	elapsedTicks := 0
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			elapsedTicks++
			pct, phase := progressFor(phases, elapsedTicks)
			elapsed := elapsedTicks * 3
			eta := 0
			if pct > 0 {
				eta = elapsed * (100 - pct) / pct
			}
			r.events.Append(ctx, jobID, "agent_progress", map[string]interface{}{
				"format": format, "phase": phase, "percent": pct, "eta_seconds": eta,
			})
		}
	}
}

func progressFor(phases []struct {
	name   string
	weight int
}, ticks int) (int, string) {
	cumulative := 0
	target := ticks * 8
	if target > 95 {
		target = 95
	}
	for _, p := range phases {
		cumulative += p.weight
		if target <= cumulative {
			return target, p.name
		}
	}
	return target, phases[len(phases)-1].name
}

func reorderBlogFirst(formats []string) []string {
	ordered := make([]string, 0, len(formats))
	rest := make([]string, 0, len(formats))
	for _, f := range formats {
		if f == "blog" {
			ordered = append(ordered, f)
		} else {
			rest = append(rest, f)
		}
	}
	if len(ordered) == 0 && len(rest) > 0 {
		ordered = append(ordered, rest[0])
		rest = rest[1:]
	}
	return append(ordered, rest...)
}

// classify maps a generation error into the taxonomy (timeout,
// rate_limit, configuration_error, generic) the job failure record uses.
func (r *Runner) classify(err error) error {
	if err == nil {
		return nil
	}
	class := r.llm.ClassifyError(err)
	return fmt.Errorf("%s: %w", class, err)
}

// moderateInBackground runs off the request path, per spec step 8: a
// moderation failure only ever sets the artifact's moderation status,
// it never reverses the job's already-terminal completion. Either
// outcome is reported to the client via its own SSE event.
func (r *Runner) moderateInBackground(jobID, artifactID int64, text string) {
	if r.moderate == nil || artifactID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	passed, err := r.moderate(ctx, text)
	if err != nil {
		r.log.Warn().Err(err).Int64("artifact_id", artifactID).Msg("moderation check failed")
		return
	}

	status := store.ModerationPassed
	eventType := "moderation_passed"
	payload := map[string]interface{}{"artifact_id": artifactID}
	if !passed {
		status = store.ModerationBlocked
		eventType = "moderation_blocked"
		payload["reason"] = "content_policy_violation"
	}

	if err := r.jobs.UpdateArtifactModeration(ctx, artifactID, status); err != nil {
		r.log.Warn().Err(err).Int64("artifact_id", artifactID).Msg("failed to record moderation status")
	}
	r.events.Append(ctx, jobID, eventType, payload)
}

func (r *Runner) complete(ctx context.Context, jobID, orgID int64, formats []string) {
	if err := r.jobs.UpdateStatus(ctx, jobID, store.JobCompleted); err != nil {
		r.log.Error().Err(err).Int64("job_id", jobID).Msg("failed to transition job to completed")
		return
	}

	payload := make(map[string]interface{}, len(formats))
	artifacts, err := r.jobs.ListArtifacts(ctx, jobID)
	if err != nil {
		r.log.Warn().Err(err).Int64("job_id", jobID).Msg("artifact read failed for completion, reassembling from event store")
		for _, format := range formats {
			if text, ok := eventstore.ReassembleContent(ctx, r.events, jobID, format); ok {
				payload[format] = text
			}
		}
	} else {
		for _, a := range artifacts {
			if a.ContentText != nil {
				payload[string(a.Type)] = *a.ContentText
			}
		}
	}
	r.events.Append(ctx, jobID, "complete", map[string]interface{}{"job_id": jobID, "artifacts": payload})

	for _, format := range formats {
		if err := r.plans.IncrementUsage(ctx, orgID, format); err != nil {
			r.log.Warn().Err(err).Str("format", format).Msg("usage increment failed after job completion")
		}
	}
}

func (r *Runner) fail(ctx context.Context, jobID int64, cause error) {
	r.log.Error().Err(cause).Int64("job_id", jobID).Msg("job failed")

	class := "generic"
	if r.llm != nil {
		class = string(r.llm.ClassifyError(cause))
	}

	if err := r.jobs.UpdateStatus(ctx, jobID, store.JobFailed); err != nil {
		r.log.Error().Err(err).Int64("job_id", jobID).Msg("failed to transition job to failed")
	}
	r.events.Append(ctx, jobID, "error", map[string]interface{}{"job_id": jobID, "class": class, "message": cause.Error()})
}
