/*
Logic:       Four coalesced cron jobs over robfig/cron/v3, each
             wrapped with a prometheus success/failure counter in the
             style of the teacher's observability/metrics.go (request
             counters keyed by outcome). cron.SkipIfStillRunning gives
             the "coalesce, no overlap" semantics original_source's
             APScheduler job_defaults={'coalesce': True,
             'max_instances': 1} expresses; the 1h misfire grace is
             enforced explicitly since cron itself has no native
             misfire concept.
*/

// Package scheduler runs the periodic retention, notification, and
// cleanup jobs independently of request traffic.
package scheduler

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var (
	runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "content_gateway_scheduler_runs_total",
		Help: "Total scheduled job runs by job name and outcome.",
	}, []string{"job", "outcome"})

	runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "content_gateway_scheduler_run_duration_seconds",
		Help:    "Duration of scheduled job runs.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
)

func init() {
	prometheus.MustRegister(runsTotal, runDuration)
}

// Job is one periodic task: a name (for metrics/logging), a cron
// spec, and the function to run.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

const misfireGrace = time.Hour

// Scheduler owns the cron runtime and a registry of jobs.
type Scheduler struct {
	cron   *cron.Cron
	log    zerolog.Logger
	dryRun bool
}

func New(log zerolog.Logger, dryRun bool) *Scheduler {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	return &Scheduler{cron: c, log: log, dryRun: dryRun}
}

// Register schedules job. It additionally guards against firing a run
// whose scheduled time is more than misfireGrace in the past — this
// only matters after the process itself was paused or starved past a
// tick, since cron's own ticker otherwise fires on time.
func (s *Scheduler) Register(job Job) (cron.EntryID, error) {
	schedule, err := cron.ParseStandard(job.Spec)
	if err != nil {
		return 0, err
	}

	return s.cron.AddFunc(job.Spec, func() {
		// Latest scheduled activation at or before now; the 25h
		// lookback covers one full period of the daily jobs.
		now := time.Now()
		expected := schedule.Next(now.Add(-25 * time.Hour))
		for next := schedule.Next(expected); !next.After(now); next = schedule.Next(next) {
			expected = next
		}
		if time.Since(expected) > misfireGrace {
			s.log.Warn().Str("job", job.Name).Dur("overdue_by", time.Since(expected)).Msg("skipping run, missed misfire grace window")
			runsTotal.WithLabelValues(job.Name, "skipped_misfire").Inc()
			return
		}
		s.runOnce(job)
	})
}

func (s *Scheduler) runOnce(job Job) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Minute)
	defer cancel()

	s.log.Info().Str("job", job.Name).Bool("dry_run", s.dryRun).Msg("scheduled job starting")

	err := job.Run(ctx)
	duration := time.Since(start)
	runDuration.WithLabelValues(job.Name).Observe(duration.Seconds())

	if err != nil {
		runsTotal.WithLabelValues(job.Name, "failure").Inc()
		s.log.Error().Err(err).Str("job", job.Name).Dur("duration", duration).Msg("scheduled job failed")
		return
	}

	runsTotal.WithLabelValues(job.Name, "success").Inc()
	s.log.Info().Str("job", job.Name).Dur("duration", duration).Msg("scheduled job completed")
}

// Start begins running registered jobs on their cron schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler, waiting for any in-flight job to finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
