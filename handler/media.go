/*
Logic:       Voiceover and video-render submission endpoints. Both
             create (or adopt) a job row, then kick the matching
             sub-runner off on its own goroutine — same submit-then-
             delegate shape as Generate, but targeting VoiceoverRunner/
             VideoRunner instead of the primary Runner.
*/

package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pogbonna-IAL/content-gateway/apperr"
	"github.com/pogbonna-IAL/content-gateway/external"
	"github.com/pogbonna-IAL/content-gateway/middleware"
	"github.com/pogbonna-IAL/content-gateway/planpolicy"
	"github.com/pogbonna-IAL/content-gateway/runner"
	"github.com/pogbonna-IAL/content-gateway/store"
)

// MediaHandler implements the voiceover and video-render endpoints.
type MediaHandler struct {
	logger   zerolog.Logger
	jobs     *store.JobStore
	plans    *planpolicy.PlanPolicy
	voiceover *runner.VoiceoverRunner
	video    *runner.VideoRunner
}

func NewMediaHandler(logger zerolog.Logger, jobs *store.JobStore, plans *planpolicy.PlanPolicy, voiceover *runner.VoiceoverRunner, video *runner.VideoRunner) *MediaHandler {
	return &MediaHandler{logger: logger, jobs: jobs, plans: plans, voiceover: voiceover, video: video}
}

type voiceoverRequest struct {
	JobID         *int64  `json:"job_id"`
	NarrationText *string `json:"narration_text"`
	VoiceID       string  `json:"voice_id" validate:"required"`
	Speed         float64 `json:"speed" validate:"required,min=0.5,max=2.0"`
	Format        string  `json:"format" validate:"required,oneof=mp3 wav"`
}

// Voiceover handles POST /v1/content/voiceover.
func (h *MediaHandler) Voiceover(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFromContext(r.Context())
	var req voiceoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.Write(w, r, apperr.New(apperr.CodeValidation, "malformed request body"))
		return
	}
	if err := validate.Struct(req); err != nil {
		apperr.Write(w, r, apperr.New(apperr.CodeValidation, "request validation failed").
			WithDetails(map[string]interface{}{"error": err.Error()}))
		return
	}
	if (req.JobID == nil) == (req.NarrationText == nil) {
		apperr.Write(w, r, apperr.New(apperr.CodeValidation, "exactly one of job_id or narration_text is required"))
		return
	}

	ctx := r.Context()
	org, err := h.plans.ResolveOrg(ctx, principal.UserID)
	if err != nil {
		apperr.Write(w, r, apperr.Wrap(apperr.CodeInternal, "resolve organization failed", err))
		return
	}

	narration := ""
	var targetJobID int64

	if req.JobID != nil {
		job, err := h.jobs.GetJob(ctx, org.ID, *req.JobID)
		if err != nil {
			apperr.Write(w, r, apperr.New(apperr.CodeNotFound, "job not found"))
			return
		}
		artifacts, err := h.jobs.ListArtifacts(ctx, job.ID)
		if err != nil {
			apperr.Write(w, r, apperr.Wrap(apperr.CodeInternal, "list artifacts failed", err))
			return
		}
		for _, a := range artifacts {
			if a.Type == store.KindBlog && a.ContentText != nil {
				narration = *a.ContentText
				break
			}
		}
		if narration == "" {
			apperr.Write(w, r, apperr.New(apperr.CodeValidation, "job has no blog content to narrate yet"))
			return
		}
		targetJobID = job.ID
	} else {
		narration = *req.NarrationText
		job, err := h.jobs.CreateJob(ctx, org.ID, principal.UserID, "voiceover: "+truncate(narration, 60), []string{"voiceover_audio"})
		if err != nil {
			apperr.Write(w, r, err)
			return
		}
		targetJobID = job.ID
	}

	if err := h.jobs.UpdateStatus(ctx, targetJobID, store.JobRunning); err != nil && err != store.ErrInvalidTransition {
		h.logger.Warn().Err(err).Int64("job_id", targetJobID).Msg("voiceover transition to running failed")
	}

	go h.voiceover.Run(context.WithoutCancel(ctx), targetJobID, org.ID, narration, req.VoiceID)

	apperr.WriteJSON(w, http.StatusAccepted, map[string]interface{}{"job_id": targetJobID, "status": "running"})
}

type videoRenderRequest struct {
	JobID            int64  `json:"job_id" validate:"required"`
	Resolution       string `json:"resolution" validate:"required"`
	FPS              int    `json:"fps" validate:"required,min=24,max=60"`
	BackgroundMusic  string `json:"background_music"`
	IncludeNarration bool   `json:"include_narration"`
	Renderer         string `json:"renderer"`
}

// VideoRender handles POST /v1/content/video/render.
func (h *MediaHandler) VideoRender(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFromContext(r.Context())
	var req videoRenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.Write(w, r, apperr.New(apperr.CodeValidation, "malformed request body"))
		return
	}
	if err := validate.Struct(req); err != nil {
		apperr.Write(w, r, apperr.New(apperr.CodeValidation, "request validation failed").
			WithDetails(map[string]interface{}{"error": err.Error()}))
		return
	}

	ctx := r.Context()
	org, err := h.plans.ResolveOrg(ctx, principal.UserID)
	if err != nil {
		apperr.Write(w, r, apperr.Wrap(apperr.CodeInternal, "resolve organization failed", err))
		return
	}

	job, err := h.jobs.GetJob(ctx, org.ID, req.JobID)
	if err != nil {
		apperr.Write(w, r, apperr.New(apperr.CodeNotFound, "job not found"))
		return
	}

	artifacts, err := h.jobs.ListArtifacts(ctx, job.ID)
	if err != nil {
		apperr.Write(w, r, apperr.Wrap(apperr.CodeInternal, "list artifacts failed", err))
		return
	}
	scenes := storyboardFromArtifacts(artifacts)
	if len(scenes) == 0 {
		apperr.Write(w, r, apperr.New(apperr.CodeValidation, "job has no storyboard content to render yet"))
		return
	}

	if err := h.jobs.UpdateStatus(ctx, job.ID, store.JobRunning); err != nil && err != store.ErrInvalidTransition {
		h.logger.Warn().Err(err).Int64("job_id", job.ID).Msg("video render transition to running failed")
	}

	go h.video.Run(context.WithoutCancel(ctx), job.ID, org.ID, scenes)

	apperr.WriteJSON(w, http.StatusAccepted, map[string]interface{}{"job_id": job.ID, "status": "running"})
}

// storyboardFromArtifacts splits the job's blog content into one scene
// per paragraph, a simple deterministic storyboard source until a
// dedicated storyboard-authoring step exists.
func storyboardFromArtifacts(artifacts []store.Artifact) []external.StoryboardScene {
	var blog string
	for _, a := range artifacts {
		if a.Type == store.KindBlog && a.ContentText != nil {
			blog = *a.ContentText
			break
		}
	}
	if blog == "" {
		return nil
	}

	var scenes []external.StoryboardScene
	for _, para := range splitNonEmpty(blog, "\n\n") {
		scenes = append(scenes, external.StoryboardScene{
			Narration:   para,
			ImagePrompt: truncate(para, 120),
		})
	}
	return scenes
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
