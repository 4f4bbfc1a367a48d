/*
Logic:       Voiceover sub-runner: same task-spawn shape as the main
             Runner, driving TTS synthesis instead of text generation.
             Event/persistence ordering is explicit in code, not
             inferred from timing, per the ordering invariants in
             spec testable scenario S6: tts_progress before any work,
             the blob write happens synchronously before artifact_ready
             is emitted (so a client never sees a URL that 404s), and
             both artifact_ready/tts_completed land in the event store
             before the DB commit so the streamer's next poll sees them
             together with the artifact row.
*/

package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pogbonna-IAL/content-gateway/eventstore"
	"github.com/pogbonna-IAL/content-gateway/external"
	"github.com/pogbonna-IAL/content-gateway/planpolicy"
	"github.com/pogbonna-IAL/content-gateway/store"
	"github.com/pogbonna-IAL/content-gateway/taskregistry"
)

// VoiceoverRunner synthesizes narration audio for an existing (or
// synthetic) job.
type VoiceoverRunner struct {
	jobs     *store.JobStore
	plans    *planpolicy.PlanPolicy
	events   eventstore.Store
	tasks    *taskregistry.Registry
	tts      external.TTSProvider
	moderate ModerationFunc
	log      zerolog.Logger
}

func NewVoiceoverRunner(jobs *store.JobStore, plans *planpolicy.PlanPolicy, events eventstore.Store, tasks *taskregistry.Registry, tts external.TTSProvider, moderate ModerationFunc, log zerolog.Logger) *VoiceoverRunner {
	return &VoiceoverRunner{jobs: jobs, plans: plans, events: events, tasks: tasks, tts: tts, moderate: moderate, log: log}
}

var voiceoverProgressSteps = []struct {
	percent int
	message string
}{
	{5, "preparing narration"},
	{25, "moderating input"},
	{40, "requesting synthesis"},
	{55, "synthesizing audio"},
	{70, "synthesis in progress"},
	{80, "finalizing audio"},
	{90, "uploading to storage"},
}

// Run executes the voiceover pipeline for jobID against narration text.
func (r *VoiceoverRunner) Run(parent context.Context, jobID, orgID int64, narration, voice string) {
	ctx, _ := r.tasks.Register(parent, jobID)
	defer r.tasks.Unregister(jobID)

	r.progress(ctx, jobID, 0) // 5% before any work
	r.events.Append(ctx, jobID, "tts_started", map[string]interface{}{"job_id": jobID})

	if r.moderate != nil {
		r.progress(ctx, jobID, 1)
		passed, err := r.moderate(ctx, narration)
		if err != nil || !passed {
			r.fail(ctx, jobID, fmt.Errorf("input_blocked: narration failed moderation"))
			return
		}
	}

	r.progress(ctx, jobID, 2)
	storageKey, err := r.synthesize(ctx, narration, voice)
	if err != nil {
		r.fail(ctx, jobID, err)
		return
	}
	r.progress(ctx, jobID, 4)
	r.progress(ctx, jobID, 5)
	r.progress(ctx, jobID, 6)

	// Write is already complete (synthesize waits for the blob put) —
	// only now is it safe to tell the client a URL exists.
	contentJSON := fmt.Sprintf(`{"storage_key":%q}`, storageKey)
	artifact := &store.Artifact{
		JobID:            jobID,
		Type:             store.KindVoiceoverAudio,
		ContentJSON:      &contentJSON,
		ModerationStatus: store.ModerationPassed,
	}

	r.events.Append(ctx, jobID, "artifact_ready", map[string]interface{}{"type": store.KindVoiceoverAudio, "storage_key": storageKey})
	r.events.Append(ctx, jobID, "tts_completed", map[string]interface{}{"storage_key": storageKey})

	if err := r.jobs.UpsertArtifact(ctx, artifact); err != nil {
		r.log.Error().Err(err).Int64("job_id", jobID).Msg("failed to persist voiceover artifact")
	}

	if err := r.jobs.UpdateStatus(ctx, jobID, store.JobCompleted); err != nil {
		r.log.Error().Err(err).Int64("job_id", jobID).Msg("failed to complete voiceover job")
	}
	r.events.Append(ctx, jobID, "complete", map[string]interface{}{
		"job_id": jobID, "artifacts": map[string]interface{}{"voiceover_audio": map[string]string{"storage_key": storageKey}},
	})

	if err := r.plans.IncrementUsage(ctx, orgID, "voiceover_audio"); err != nil {
		r.log.Warn().Err(err).Msg("voiceover usage increment failed")
	}
}

func (r *VoiceoverRunner) progress(ctx context.Context, jobID int64, step int) {
	if step >= len(voiceoverProgressSteps) {
		return
	}
	s := voiceoverProgressSteps[step]
	r.events.Append(ctx, jobID, "tts_progress", map[string]interface{}{"percent": s.percent, "message": s.message})
}

// synthesize runs TTS off-thread and waits synchronously for the blob
// write to complete before returning, per the ordering invariant.
func (r *VoiceoverRunner) synthesize(ctx context.Context, text, voice string) (string, error) {
	type result struct {
		key string
		err error
	}
	done := make(chan result, 1)
	go func() {
		key, err := r.tts.Synthesize(ctx, text, voice)
		done <- result{key, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-done:
		return res.key, res.err
	case <-time.After(2 * time.Minute):
		return "", fmt.Errorf("timeout: tts synthesis exceeded deadline")
	}
}

func (r *VoiceoverRunner) fail(ctx context.Context, jobID int64, cause error) {
	r.log.Error().Err(cause).Int64("job_id", jobID).Msg("voiceover job failed")
	_ = r.jobs.UpdateStatus(ctx, jobID, store.JobFailed)
	r.events.Append(ctx, jobID, "error", map[string]interface{}{"job_id": jobID, "message": cause.Error()})
}
