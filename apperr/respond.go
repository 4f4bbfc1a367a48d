package apperr

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

type envelope struct {
	Code       Code                   `json:"code"`
	Message    string                 `json:"message"`
	StatusCode int                    `json:"status_code"`
	RequestID  string                 `json:"request_id"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// Write renders err as the standard error envelope, pulling the
// request ID chi's middleware.RequestID already stamped on the context.
func Write(w http.ResponseWriter, r *http.Request, err error) {
	ae := As(err)
	if ae == nil {
		ae = Wrap(CodeInternal, "internal error", err)
	}

	details := ae.Details
	if ae.Status() >= 500 {
		details = nil
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ae.Status())
	_ = json.NewEncoder(w).Encode(envelope{
		Code:       ae.Code,
		Message:    ae.Message,
		StatusCode: ae.Status(),
		RequestID:  middleware.GetReqID(r.Context()),
		Details:    details,
	})
}

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
