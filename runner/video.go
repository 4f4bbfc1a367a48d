/*
Logic:       Video sub-runner: same task-spawn shape as the voiceover
             runner, driving per-scene storyboard rendering instead of
             a single synthesis call. Emits video_render_started, one
             scene_started/scene_completed pair per scene, then
             video_render_completed, and persists a final_video
             artifact plus one video_clip artifact per scene (media
             types, unlike the primary content kinds, may have more
             than one row per job). No storyboard_image rows are
             written.
*/

package runner

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pogbonna-IAL/content-gateway/eventstore"
	"github.com/pogbonna-IAL/content-gateway/external"
	"github.com/pogbonna-IAL/content-gateway/planpolicy"
	"github.com/pogbonna-IAL/content-gateway/store"
	"github.com/pogbonna-IAL/content-gateway/taskregistry"
)

// VideoRunner renders a storyboard into a final video.
type VideoRunner struct {
	jobs     *store.JobStore
	plans    *planpolicy.PlanPolicy
	events   eventstore.Store
	tasks    *taskregistry.Registry
	renderer external.VideoRenderer
	log      zerolog.Logger
}

func NewVideoRunner(jobs *store.JobStore, plans *planpolicy.PlanPolicy, events eventstore.Store, tasks *taskregistry.Registry, renderer external.VideoRenderer, log zerolog.Logger) *VideoRunner {
	return &VideoRunner{jobs: jobs, plans: plans, events: events, tasks: tasks, renderer: renderer, log: log}
}

// Run executes the video rendering pipeline for jobID against a
// storyboard already produced by the main runner.
func (r *VideoRunner) Run(parent context.Context, jobID, orgID int64, scenes []external.StoryboardScene) {
	ctx, _ := r.tasks.Register(parent, jobID)
	defer r.tasks.Unregister(jobID)

	r.events.Append(ctx, jobID, "video_render_started", map[string]interface{}{"scene_count": len(scenes)})

	for i, scene := range scenes {
		r.events.Append(ctx, jobID, "scene_started", map[string]interface{}{"scene_index": i})

		clipContentJSON := fmt.Sprintf(`{"narration":%q,"image_prompt":%q}`, scene.Narration, scene.ImagePrompt)
		clip := &store.Artifact{
			JobID:       jobID,
			Type:        store.KindVideoClip,
			ContentJSON: &clipContentJSON,
			ModerationStatus: store.ModerationUnchecked,
		}
		if err := r.jobs.UpsertArtifact(ctx, clip); err != nil {
			r.log.Warn().Err(err).Int("scene_index", i).Msg("failed to persist scene clip artifact")
		}

		r.events.Append(ctx, jobID, "scene_completed", map[string]interface{}{"scene_index": i})
	}

	storageKey, err := r.renderer.RenderStoryboard(ctx, jobID, scenes)
	if err != nil {
		r.fail(ctx, jobID, err)
		return
	}

	finalJSON := fmt.Sprintf(`{"storage_key":%q}`, storageKey)
	final := &store.Artifact{
		JobID:            jobID,
		Type:             store.KindFinalVideo,
		ContentJSON:      &finalJSON,
		ModerationStatus: store.ModerationPassed,
	}

	r.events.Append(ctx, jobID, "artifact_ready", map[string]interface{}{"type": store.KindFinalVideo, "storage_key": storageKey})
	r.events.Append(ctx, jobID, "video_render_completed", map[string]interface{}{"storage_key": storageKey})

	if err := r.jobs.UpsertArtifact(ctx, final); err != nil {
		r.log.Error().Err(err).Int64("job_id", jobID).Msg("failed to persist final video artifact")
	}

	if err := r.jobs.UpdateStatus(ctx, jobID, store.JobCompleted); err != nil {
		r.log.Error().Err(err).Int64("job_id", jobID).Msg("failed to complete video render job")
	}

	if err := r.plans.IncrementUsage(ctx, orgID, "video_render"); err != nil {
		r.log.Warn().Err(err).Msg("video render usage increment failed")
	}
}

func (r *VideoRunner) fail(ctx context.Context, jobID int64, cause error) {
	r.log.Error().Err(cause).Int64("job_id", jobID).Msg("video render job failed")
	_ = r.jobs.UpdateStatus(ctx, jobID, store.JobFailed)
	r.events.Append(ctx, jobID, "error", map[string]interface{}{"job_id": jobID, "message": cause.Error()})
}
