/*
Logic:       Entry point wiring config -> logger -> database -> Redis
             (with an in-memory event store fallback when Redis is not
             reachable) -> repositories -> plan policy -> external
             collaborator defaults -> runner/sub-runners -> scheduler
             -> router -> HTTP server with graceful shutdown. Same
             overall shape as the teacher's main.go (config, logger,
             Redis, subsystem wiring, signal-driven shutdown) with the
             provider registry and analytics/observability pipeline
             replaced by this service's job runner and retention
             scheduler.
*/

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pogbonna-IAL/content-gateway/cache"
	"github.com/pogbonna-IAL/content-gateway/config"
	"github.com/pogbonna-IAL/content-gateway/eventstore"
	"github.com/pogbonna-IAL/content-gateway/external"
	"github.com/pogbonna-IAL/content-gateway/logger"
	"github.com/pogbonna-IAL/content-gateway/moderation"
	"github.com/pogbonna-IAL/content-gateway/planpolicy"
	"github.com/pogbonna-IAL/content-gateway/redisclient"
	"github.com/pogbonna-IAL/content-gateway/router"
	"github.com/pogbonna-IAL/content-gateway/runner"
	"github.com/pogbonna-IAL/content-gateway/scheduler"
	"github.com/pogbonna-IAL/content-gateway/sse"
	"github.com/pogbonna-IAL/content-gateway/store"
	"github.com/pogbonna-IAL/content-gateway/taskregistry"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("content gateway starting")

	db, err := store.Open(cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}

	var events eventstore.Store
	rc, err := redisclient.New(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("redis init failed — falling back to in-memory event store")
		events = eventstore.NewMemoryStore()
	} else if err := rc.Ping(); err != nil {
		log.Warn().Err(err).Msg("redis ping failed — falling back to in-memory event store")
		events = eventstore.NewMemoryStore()
	} else {
		log.Info().Msg("redis connected")
		events = eventstore.NewRedisStore(rc, log)
	}

	users := store.NewUserStore(db, log)
	jobs := store.NewJobStore(db, log)
	subs := store.NewSubscriptionStore(db, log)
	usage := store.NewUsageStore(db, log)
	billing := store.NewBillingStore(db, log)
	retention := store.NewRetentionStore(db, log)
	sessions := store.NewSessionStore(db, log)
	audit := store.NewAuditStore(db, log)

	ctx := context.Background()
	plans, err := planpolicy.New(ctx, planpolicy.DefaultTierTable(), users, subs, usage)
	if err != nil {
		log.Fatal().Err(err).Msg("plan policy init failed")
	}

	blobs := external.NewDiskBlobStorage(cfg.BlobBaseDir)
	mail := external.NewLogEmailProvider(log)
	billingGateway := external.NewNoopBillingGateway()
	authProvider := external.NewStaticAuthProvider(devPrincipals())
	tts := external.NewNullTTS(blobs)
	videoRenderer := external.NewNullVideoRenderer(blobs)
	llm := external.NewAnthropicRuntime(cfg.AnthropicAPIKey)

	moderator := moderation.New(cfg.ModerationEnabled, nil)
	contentCache := cache.New(log, nil)
	tasks := taskregistry.New()

	jobRunner := runner.New(jobs, users, plans, events, tasks, contentCache, llm, moderator.AsFunc(), log, runner.Config{
		AgentTimeout: cfg.CrewAITimeout,
	})
	voiceoverRunner := runner.NewVoiceoverRunner(jobs, plans, events, tasks, tts, moderator.AsFunc(), log)
	videoRunner := runner.NewVideoRunner(jobs, plans, events, tasks, videoRenderer, log)

	streamer := sse.New(events, jobs, log)

	sched := scheduler.New(log, cfg.RetentionDryRun)
	for _, job := range scheduler.BuildJobs(scheduler.Deps{
		Users:             users,
		Retention:         retention,
		Sessions:          sessions,
		Plans:             plans,
		Blobs:             blobs,
		Mail:              mail,
		Log:               log,
		NotifyDaysBefore:  cfg.RetentionNotifyDaysBefore,
		NotifyBatchSize:   cfg.RetentionNotifyBatchSize,
		GDPRGraceDays:     cfg.GDPRDeletionGraceDays,
		SessionMaxAgeDays: 30,
		DryRun:            cfg.RetentionDryRun,
	}) {
		if _, err := sched.Register(job); err != nil {
			log.Error().Err(err).Str("job", job.Name).Msg("failed to register scheduled job")
		}
	}
	sched.Start()

	handlerDeps := router.Deps{
		Config:  cfg,
		Logger:  log,
		Auth:    authProvider,
		Billing: billingGateway,

		Jobs:         jobs,
		Users:        users,
		BillingStore: billing,
		Audit:        audit,
		Plans:        plans,

		Runner:          jobRunner,
		VoiceoverRunner: voiceoverRunner,
		VideoRunner:     videoRunner,
		Streamer:        streamer,
	}
	r := router.New(handlerDeps)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE streams are long-lived; per-route deadlines live in middleware.TimeoutMiddleware
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("content gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("content gateway stopped gracefully")
	}
}

// devPrincipals seeds the static auth provider from API_KEY_* env vars
// (API_KEY_1="token:user_id:email[:admin]", ...) so the service is
// reachable without a real auth provider wired in. Empty until
// configured, at which point every request is rejected — the same
// fail-closed default the teacher's provider registry has when no
// vendor key is set.
func devPrincipals() map[string]external.Principal {
	principals := make(map[string]external.Principal)
	for i := 1; ; i++ {
		raw := os.Getenv("API_KEY_" + strconv.Itoa(i))
		if raw == "" {
			break
		}
		parts := strings.SplitN(raw, ":", 4)
		if len(parts) < 3 {
			continue
		}
		userID, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			continue
		}
		principals[parts[0]] = external.Principal{
			UserID:  userID,
			Email:   parts[2],
			IsAdmin: len(parts) == 4 && parts[3] == "admin",
		}
	}
	return principals
}
