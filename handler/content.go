/*
Logic:       HTTP surface for job submission and lookup: POST generate
             validates the request body, resolves the caller's org,
             enforces the monthly plan limit, creates the job row, and
             kicks the runner off on its own goroutine before
             responding — mirrors the teacher's proxy handler shape
             (parse, validate, delegate, respond) but the delegate is a
             long-running job instead of a single provider call.
*/

package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/pogbonna-IAL/content-gateway/apperr"
	"github.com/pogbonna-IAL/content-gateway/middleware"
	"github.com/pogbonna-IAL/content-gateway/planpolicy"
	"github.com/pogbonna-IAL/content-gateway/runner"
	"github.com/pogbonna-IAL/content-gateway/store"
)

var validate = validator.New()

// ContentHandler implements the job lifecycle endpoints: generate,
// get, list, cancel, usage. Voiceover and video render live on
// MediaHandler.
type ContentHandler struct {
	logger zerolog.Logger
	jobs   *store.JobStore
	users  *store.UserStore
	plans  *planpolicy.PlanPolicy
	runner *runner.Runner
	audit  *store.AuditStore
}

func NewContentHandler(logger zerolog.Logger, jobs *store.JobStore, users *store.UserStore, plans *planpolicy.PlanPolicy, r *runner.Runner, audit *store.AuditStore) *ContentHandler {
	return &ContentHandler{logger: logger, jobs: jobs, users: users, plans: plans, runner: r, audit: audit}
}

// recordAudit logs a lifecycle action, best-effort: an audit write
// failure never blocks or fails the request it is recording.
func (h *ContentHandler) recordAudit(r *http.Request, actionType string, actorUserID int64, details map[string]interface{}) {
	if h.audit == nil {
		return
	}
	if details == nil {
		details = map[string]interface{}{}
	}
	details["request_id"] = chimw.GetReqID(r.Context())
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return
	}
	if err := h.audit.Record(r.Context(), actionType, &actorUserID, nil, r.RemoteAddr, r.UserAgent(), string(detailsJSON)); err != nil {
		h.logger.Warn().Err(err).Str("action", actionType).Msg("audit log write failed")
	}
}

type generateRequest struct {
	Topic   string   `json:"topic" validate:"required,min=3,max=500"`
	Formats []string `json:"formats" validate:"required,min=1,max=6,dive,oneof=blog social audio video voiceover_audio video_render"`
}

type jobResponse struct {
	ID        int64      `json:"id"`
	Status    store.JobStatus `json:"status"`
	Topic     string     `json:"topic"`
	Formats   []string   `json:"formats_requested"`
	CreatedAt string     `json:"created_at"`
}

func toJobResponse(j *store.Job) jobResponse {
	return jobResponse{
		ID:      j.ID,
		Status:  j.Status,
		Topic:   j.Topic,
		Formats: j.FormatsRequested,
		CreatedAt: j.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// Generate handles POST /v1/content/generate.
func (h *ContentHandler) Generate(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFromContext(r.Context())
	if principal == nil {
		apperr.Write(w, r, apperr.New(apperr.CodeAuth, "authentication required"))
		return
	}

	var req generateRequest
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
	user, err := h.users.GetUser(ctx, principal.UserID)
	if err != nil {
		apperr.Write(w, r, apperr.Wrap(apperr.CodeInternal, "resolve user failed", err))
		return
	}

	org, err := h.plans.ResolveOrg(ctx, principal.UserID)
	if err != nil {
		apperr.Write(w, r, apperr.Wrap(apperr.CodeInternal, "resolve organization failed", err))
		return
	}

	for _, format := range req.Formats {
		if err := h.plans.EnforceMonthlyLimit(ctx, user, org.ID, format); err != nil {
			apperr.Write(w, r, err)
			return
		}
	}

	job, err := h.jobs.CreateJob(ctx, org.ID, principal.UserID, req.Topic, req.Formats)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}

	if job.Status == store.JobPending {
		go h.runner.Run(context.WithoutCancel(ctx), job.ID)
	}

	h.recordAudit(r, "job_created", principal.UserID, map[string]interface{}{"job_id": job.ID, "formats": req.Formats})

	apperr.WriteJSON(w, http.StatusAccepted, toJobResponse(job))
}

// Get handles GET /v1/content/jobs/{id}.
func (h *ContentHandler) Get(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFromContext(r.Context())
	jobID, err := parseJobID(r)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}

	ctx := r.Context()
	org, err := h.plans.ResolveOrg(ctx, principal.UserID)
	if err != nil {
		apperr.Write(w, r, apperr.Wrap(apperr.CodeInternal, "resolve organization failed", err))
		return
	}

	job, err := h.jobs.GetJob(ctx, org.ID, jobID)
	if err != nil {
		apperr.Write(w, r, apperr.New(apperr.CodeNotFound, "job not found"))
		return
	}

	artifacts, err := h.jobs.ListArtifacts(ctx, job.ID)
	if err != nil {
		apperr.Write(w, r, apperr.Wrap(apperr.CodeInternal, "list artifacts failed", err))
		return
	}

	resp := struct {
		jobResponse
		Artifacts []store.Artifact `json:"artifacts"`
	}{toJobResponse(job), artifacts}
	apperr.WriteJSON(w, http.StatusOK, resp)
}

// List handles GET /v1/content/jobs.
func (h *ContentHandler) List(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFromContext(r.Context())
	ctx := r.Context()

	org, err := h.plans.ResolveOrg(ctx, principal.UserID)
	if err != nil {
		apperr.Write(w, r, apperr.Wrap(apperr.CodeInternal, "resolve organization failed", err))
		return
	}

	limit := queryInt(r, "limit", 20, 1, 100)
	offset := queryInt(r, "offset", 0, 0, 1<<31-1)

	jobs, err := h.jobs.ListJobs(ctx, org.ID, limit, offset)
	if err != nil {
		apperr.Write(w, r, apperr.Wrap(apperr.CodeInternal, "list jobs failed", err))
		return
	}

	out := make([]jobResponse, len(jobs))
	for i := range jobs {
		out[i] = toJobResponse(&jobs[i])
	}
	apperr.WriteJSON(w, http.StatusOK, map[string]interface{}{"jobs": out, "limit": limit, "offset": offset})
}

// Cancel handles POST /v1/content/jobs/{id}/cancel.
func (h *ContentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFromContext(r.Context())
	jobID, err := parseJobID(r)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}

	ctx := r.Context()
	org, err := h.plans.ResolveOrg(ctx, principal.UserID)
	if err != nil {
		apperr.Write(w, r, apperr.Wrap(apperr.CodeInternal, "resolve organization failed", err))
		return
	}

	if _, err := h.jobs.GetJob(ctx, org.ID, jobID); err != nil {
		apperr.Write(w, r, apperr.New(apperr.CodeNotFound, "job not found"))
		return
	}

	h.runner.Tasks().Cancel(jobID)
	if err := h.jobs.CancelJob(ctx, jobID); err != nil {
		apperr.Write(w, r, apperr.Wrap(apperr.CodeInternal, "cancel job failed", err))
		return
	}

	h.recordAudit(r, "job_cancelled", principal.UserID, map[string]interface{}{"job_id": jobID})

	apperr.WriteJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// Usage handles GET /v1/content/usage.
func (h *ContentHandler) Usage(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFromContext(r.Context())
	ctx := r.Context()

	user, err := h.users.GetUser(ctx, principal.UserID)
	if err != nil {
		apperr.Write(w, r, apperr.Wrap(apperr.CodeInternal, "resolve user failed", err))
		return
	}
	org, err := h.plans.ResolveOrg(ctx, principal.UserID)
	if err != nil {
		apperr.Write(w, r, apperr.Wrap(apperr.CodeInternal, "resolve organization failed", err))
		return
	}

	stats, err := h.plans.UsageStats(ctx, user, org.ID)
	if err != nil {
		apperr.Write(w, r, apperr.Wrap(apperr.CodeInternal, "usage stats failed", err))
		return
	}
	apperr.WriteJSON(w, http.StatusOK, stats)
}

func parseJobID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperr.New(apperr.CodeValidation, "invalid job id")
	}
	return id, nil
}

func queryInt(r *http.Request, key string, def, min, max int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
