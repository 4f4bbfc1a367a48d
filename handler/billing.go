/*
Logic:       Billing webhook endpoint: verifies the provider signature
             before touching the database, then records the event
             through store.BillingStore's unique-constraint-backed
             at-most-once insert. A duplicate delivery (the gateway
             retrying on a slow 200) is a no-op, not an error — the
             provider only cares that the response is 2xx.
*/

package handler

import (
	"encoding/json"
	"io"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/pogbonna-IAL/content-gateway/apperr"
	"github.com/pogbonna-IAL/content-gateway/external"
	"github.com/pogbonna-IAL/content-gateway/store"
)

// BillingHandler implements the billing provider webhook intake.
type BillingHandler struct {
	logger  zerolog.Logger
	gateway external.BillingGateway
	store   *store.BillingStore
	audit   *store.AuditStore
}

func NewBillingHandler(logger zerolog.Logger, gateway external.BillingGateway, billingStore *store.BillingStore, audit *store.AuditStore) *BillingHandler {
	return &BillingHandler{logger: logger, gateway: gateway, store: billingStore, audit: audit}
}

type webhookEnvelope struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	OrgID   *int64 `json:"org_id"`
}

// Webhook handles POST /v1/billing/webhook.
func (h *BillingHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		apperr.Write(w, r, apperr.New(apperr.CodeValidation, "failed to read webhook body"))
		return
	}

	signature := r.Header.Get("X-Webhook-Signature")
	if err := h.gateway.VerifyWebhookSignature(payload, signature); err != nil {
		apperr.Write(w, r, apperr.New(apperr.CodeAuth, "invalid webhook signature"))
		return
	}

	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil || env.EventID == "" || env.Type == "" {
		apperr.Write(w, r, apperr.New(apperr.CodeValidation, "malformed webhook envelope"))
		return
	}

	processed, err := h.store.RecordEvent(r.Context(), &store.BillingEvent{
		Provider:        h.gateway.Name(),
		EventType:       env.Type,
		ProviderEventID: env.EventID,
		PayloadJSON:     string(payload),
		OrgID:           env.OrgID,
	})
	if err != nil {
		apperr.Write(w, r, apperr.Wrap(apperr.CodeInternal, "record billing event failed", err))
		return
	}
	if !processed {
		h.logger.Info().Str("event_id", env.EventID).Msg("duplicate webhook delivery, skipping")
	} else if h.audit != nil {
		detailsJSON, _ := json.Marshal(map[string]interface{}{
			"event_id":   env.EventID,
			"event_type": env.Type,
			"org_id":     env.OrgID,
			"request_id": chimw.GetReqID(r.Context()),
		})
		if err := h.audit.Record(r.Context(), "billing_webhook", nil, nil, r.RemoteAddr, r.UserAgent(), string(detailsJSON)); err != nil {
			h.logger.Warn().Err(err).Msg("audit log write failed")
		}
	}

	apperr.WriteJSON(w, http.StatusOK, map[string]bool{"processed": processed})
}
