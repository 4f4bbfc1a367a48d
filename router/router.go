/*
Logic:       Full service router with the same middleware chain shape
             as the teacher's gateway (CORS -> security headers ->
             request ID -> recoverer -> request logger -> body size
             limit -> [auth -> rate limit -> timeout] for authenticated
             routes), mounted under /v1/content and /v1/billing instead
             of /v1/chat/completions.
*/

package router

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/pogbonna-IAL/content-gateway/config"
	"github.com/pogbonna-IAL/content-gateway/external"
	"github.com/pogbonna-IAL/content-gateway/handler"
	gwmw "github.com/pogbonna-IAL/content-gateway/middleware"
	"github.com/pogbonna-IAL/content-gateway/planpolicy"
	"github.com/pogbonna-IAL/content-gateway/runner"
	"github.com/pogbonna-IAL/content-gateway/sse"
	"github.com/pogbonna-IAL/content-gateway/store"
)

// Deps bundles everything the router needs to construct its handlers.
type Deps struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Auth    external.AuthProvider
	Billing external.BillingGateway

	Jobs         *store.JobStore
	Users        *store.UserStore
	BillingStore *store.BillingStore
	Audit        *store.AuditStore
	Plans        *planpolicy.PlanPolicy

	Runner           *runner.Runner
	VoiceoverRunner  *runner.VoiceoverRunner
	VideoRunner      *runner.VideoRunner
	Streamer         *sse.Streamer
}

// New returns a configured chi Router with the full middleware chain
// and every API route mounted.
func New(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(gwmw.CORSMiddleware([]string{"*"}))
	r.Use(gwmw.SecurityHeadersMiddleware)
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(mwRequestLogger(d.Logger))
	r.Use(mwMaxBodySize(d.Config.MaxBodyBytes))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"content-gateway"}`))
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready","service":"content-gateway"}`))
	})

	contentHandler := handler.NewContentHandler(d.Logger, d.Jobs, d.Users, d.Plans, d.Runner, d.Audit)
	mediaHandler := handler.NewMediaHandler(d.Logger, d.Jobs, d.Plans, d.VoiceoverRunner, d.VideoRunner)
	streamHandler := handler.NewStreamHandler(d.Logger, d.Plans, d.Streamer)
	billingHandler := handler.NewBillingHandler(d.Logger, d.Billing, d.BillingStore, d.Audit)

	authMW := gwmw.NewAuthMiddleware(d.Auth, d.Logger)
	rateLimiter := gwmw.NewRateLimiter(d.Logger, d.Config.RateLimitEnabled, d.Config.RateLimitRPM, d.Config.RateLimitBurst)
	timeoutMW := gwmw.NewTimeoutMiddleware(d.Logger, d.Config)

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMW.Handler)
		r.Use(rateLimiter.Handler)
		r.Use(timeoutMW.Handler)

		r.Route("/content", func(r chi.Router) {
			r.Post("/generate", contentHandler.Generate)
			r.Get("/jobs", contentHandler.List)
			r.Get("/jobs/{id}", contentHandler.Get)
			r.Get("/jobs/{id}/stream", streamHandler.Stream)
			r.Post("/jobs/{id}/cancel", contentHandler.Cancel)
			r.Post("/voiceover", mediaHandler.Voiceover)
			r.Post("/video/render", mediaHandler.VideoRender)
			r.Get("/usage", contentHandler.Usage)
		})

		r.Post("/billing/webhook", billingHandler.Webhook)
	})

	return r
}

// mwMaxBodySize returns middleware that limits the request body size.
func mwMaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 1 * 1024 * 1024
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			max := maxBytes
			if v := os.Getenv("GATEWAY_MAX_BODY_BYTES"); v != "" {
				if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
					max = parsed
				}
			}

			if r.ContentLength > 0 && r.ContentLength > max {
				http.Error(w, `{"code":"REQUEST_TOO_LARGE","message":"request body too large"}`, http.StatusRequestEntityTooLarge)
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, max)
			next.ServeHTTP(w, r)
		})
	}
}

func mwRequestLogger(appLogger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)
			dur := time.Since(start)
			reqID := chimw.GetReqID(r.Context())
			appLogger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", reqID).
				Int("status", rw.Status()).
				Dur("duration", dur).
				Msg("request completed")
		})
	}
}
