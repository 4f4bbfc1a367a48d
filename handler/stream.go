/*
Logic:       Thin HTTP entry point for GET /v1/content/jobs/{id}/stream
             — resolves the caller's org and job id, then hands off to
             sse.Streamer for the actual polling loop. Structured like
             the teacher's stream endpoint: auth/validation happens at
             the handler layer, the long-lived write loop lives in its
             own package.
*/

package handler

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/pogbonna-IAL/content-gateway/apperr"
	"github.com/pogbonna-IAL/content-gateway/middleware"
	"github.com/pogbonna-IAL/content-gateway/planpolicy"
	"github.com/pogbonna-IAL/content-gateway/sse"
)

// StreamHandler mounts the SSE job stream.
type StreamHandler struct {
	logger   zerolog.Logger
	plans    *planpolicy.PlanPolicy
	streamer *sse.Streamer
}

func NewStreamHandler(logger zerolog.Logger, plans *planpolicy.PlanPolicy, streamer *sse.Streamer) *StreamHandler {
	return &StreamHandler{logger: logger, plans: plans, streamer: streamer}
}

// Stream handles GET /v1/content/jobs/{id}/stream.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFromContext(r.Context())
	jobID, err := parseJobID(r)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}

	org, err := h.plans.ResolveOrg(r.Context(), principal.UserID)
	if err != nil {
		apperr.Write(w, r, apperr.Wrap(apperr.CodeInternal, "resolve organization failed", err))
		return
	}

	metrics := h.streamer.Stream(w, r, org.ID, jobID)
	h.logger.Info().
		Int64("job_id", jobID).
		Int("events_sent", metrics.EventsSent).
		Bool("client_disconnected", metrics.ClientDisconnect).
		Dur("duration", metrics.TotalDuration).
		Msg("sse stream closed")
}
