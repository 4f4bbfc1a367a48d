/*
Logic:       Long-lived SSE connection over a job: drains the event
             store, polls the Job Store on an adaptive cadence, and
             reassembles a terminal complete/error payload. Structured
             like the teacher's streamWithDisconnectDetection loop
             (flusher-based write, context-cancellation as the
             disconnect signal, a metrics snapshot at the end) but
             driving a polling state machine instead of forwarding a
             provider token stream.
*/

// Package sse streams one job's lifecycle to an HTTP client as
// Server-Sent Events.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pogbonna-IAL/content-gateway/eventstore"
	"github.com/pogbonna-IAL/content-gateway/store"
)

// Metrics mirrors the teacher's StreamMetrics shape, renamed to track
// event IDs forwarded instead of billed tokens.
type Metrics struct {
	EventsSent       int
	ClientDisconnect bool
	TotalDuration    time.Duration
}

// Streamer drains eventstore.Store + store.JobStore for one job and
// writes SSE frames to an http.ResponseWriter.
type Streamer struct {
	events eventstore.Store
	jobs   *store.JobStore
	log    zerolog.Logger
}

func New(events eventstore.Store, jobs *store.JobStore, log zerolog.Logger) *Streamer {
	return &Streamer{events: events, jobs: jobs, log: log}
}

func writeFrame(w http.ResponseWriter, flusher http.Flusher, id int64, eventType string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, eventType, payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func writeKeepalive(w http.ResponseWriter, flusher http.Flusher) error {
	if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// parseLastEventID parses the Last-Event-ID header, treating anything
// malformed as absent (0).
func parseLastEventID(header string) int64 {
	if header == "" {
		return 0
	}
	id, err := strconv.ParseInt(header, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// pollInterval implements the adaptive cadence table from the
// streamer's polling contract.
func pollInterval(job *store.Job, hasVoiceoverFormat bool, elapsed time.Duration) time.Duration {
	switch job.Status {
	case store.JobPending:
		return time.Second
	case store.JobRunning:
		blogOnly := len(job.FormatsRequested) == 1 && job.FormatsRequested[0] == string(store.KindBlog)
		switch {
		case hasVoiceoverFormat:
			return 200 * time.Millisecond
		case blogOnly && elapsed > 60*time.Second:
			return 200 * time.Millisecond
		case elapsed < 30*time.Second:
			return 300 * time.Millisecond
		case elapsed < 120*time.Second:
			return 500 * time.Millisecond
		default:
			return time.Second
		}
	default: // terminal
		return 500 * time.Millisecond
	}
}

const keepaliveIdle = 5 * time.Second

// Stream runs the polling loop until the job reaches a terminal state
// and its final payload has been sent, or the client disconnects.
func (s *Streamer) Stream(w http.ResponseWriter, r *http.Request, orgID, jobID int64) Metrics {
	metrics := Metrics{}
	start := time.Now()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return metrics
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	lastSentID := parseLastEventID(r.Header.Get("Last-Event-ID"))

	job, err := s.jobs.GetJob(ctx, orgID, jobID)
	if err != nil {
		_ = writeFrame(w, flusher, 0, "error", map[string]string{"code": "NOT_FOUND", "message": "job not found"})
		return metrics
	}

	if lastSentID == 0 {
		if err := writeFrame(w, flusher, 0, "job_started", map[string]interface{}{"job_id": jobID}); err == nil {
			metrics.EventsSent++
		}
	}

	lastSentID = s.drainEvents(ctx, w, flusher, jobID, lastSentID, &metrics)

	lastStatus := job.Status
	lastArtifactCount := 0
	hasVoiceover := containsFormat(job.FormatsRequested, "voiceover_audio")

	lastEventAt := time.Now()
	ticker := time.NewTicker(pollInterval(job, hasVoiceover, time.Since(start)))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			metrics.ClientDisconnect = true
			metrics.TotalDuration = time.Since(start)
			s.log.Info().Int64("job_id", jobID).Msg("sse client disconnected")
			return metrics

		case <-ticker.C:
			job, err = s.jobs.GetJob(ctx, orgID, jobID)
			if err != nil {
				metrics.TotalDuration = time.Since(start)
				return metrics
			}

			if job.Status != lastStatus {
				skip := job.Status == store.JobCompleted && s.hasCompleteWithContent(ctx, jobID, lastSentID)
				if !skip {
					if err := writeFrame(w, flusher, 0, "status_update", map[string]interface{}{"status": job.Status}); err == nil {
						metrics.EventsSent++
						lastEventAt = time.Now()
					}
				}
				lastStatus = job.Status
			}

			lastSentID = s.drainEvents(ctx, w, flusher, jobID, lastSentID, &metrics)

			artifacts, _ := s.jobs.ListArtifacts(ctx, jobID)
			if len(artifacts) > lastArtifactCount {
				for _, a := range artifacts[lastArtifactCount:] {
					_ = writeFrame(w, flusher, 0, "artifact_ready", map[string]interface{}{"type": a.Type, "storage_key": a.StorageKey()})
					_ = writeFrame(w, flusher, 0, "content", map[string]interface{}{"type": a.Type, "content": a.ContentText})
					metrics.EventsSent += 2
					lastEventAt = time.Now()
				}
				lastArtifactCount = len(artifacts)
			}

			lastSentID = s.drainEvents(ctx, w, flusher, jobID, lastSentID, &metrics)

			if job.Status.IsTerminal() {
				s.emitTerminal(ctx, w, flusher, jobID, job, artifacts, &metrics)
				metrics.TotalDuration = time.Since(start)
				return metrics
			}

			if time.Since(lastEventAt) >= keepaliveIdle {
				if err := writeKeepalive(w, flusher); err != nil {
					metrics.ClientDisconnect = true
					metrics.TotalDuration = time.Since(start)
					return metrics
				}
				lastEventAt = time.Now()
			}

			ticker.Reset(pollInterval(job, hasVoiceover, time.Since(start)))
		}
	}
}

// drainEvents forwards every event store entry with id > lastSentID,
// in chronological order, and returns the new high-water mark. Called
// both before and after the DB artifact check so runner-emitted
// events are never missed regardless of which side of the poll they
// land on.
func (s *Streamer) drainEvents(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, jobID, lastSentID int64, metrics *Metrics) int64 {
	events, err := s.events.Since(ctx, jobID, lastSentID)
	if err != nil {
		s.log.Warn().Err(err).Int64("job_id", jobID).Msg("event store drain failed")
		return lastSentID
	}

	for _, ev := range events {
		if err := writeFrame(w, flusher, ev.ID, ev.Type, json.RawMessage(ev.Data)); err != nil {
			break
		}
		metrics.EventsSent++
		if ev.ID > lastSentID {
			lastSentID = ev.ID
		}
	}
	return lastSentID
}

// hasCompleteWithContent reports whether a complete event with a
// non-empty payload (anything longer than "{}"; its fields are not
// inspected) is already in the event store, so the
// poller can skip a bare status_update that would otherwise race
// ahead of the richer event.
func (s *Streamer) hasCompleteWithContent(ctx context.Context, jobID, sinceID int64) bool {
	events, err := s.events.Since(ctx, jobID, 0)
	if err != nil {
		return false
	}
	for _, ev := range events {
		if ev.Type == "complete" && len(ev.Data) > len("{}") {
			return true
		}
	}
	return false
}

// emitTerminal sends the final complete/error event, assembling the
// payload in priority order: event-store complete with a non-empty
// payload, then DB artifacts, then reassembled content chunks.
func (s *Streamer) emitTerminal(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, jobID int64, job *store.Job, artifacts []store.Artifact, metrics *Metrics) {
	if job.Status == store.JobCancelled {
		_ = writeFrame(w, flusher, 0, "cancelled", map[string]interface{}{"job_id": jobID})
		metrics.EventsSent++
		return
	}
	if job.Status == store.JobFailed {
		_ = writeFrame(w, flusher, 0, "error", map[string]interface{}{"job_id": jobID, "status": job.Status})
		metrics.EventsSent++
		return
	}

	if events, err := s.events.Since(ctx, jobID, 0); err == nil {
		for _, ev := range events {
			if ev.Type == "complete" && len(ev.Data) > len("{}") {
				_ = writeFrame(w, flusher, ev.ID, "complete", json.RawMessage(ev.Data))
				metrics.EventsSent++
				return
			}
		}
	}

	if len(artifacts) > 0 {
		payload := make(map[string]interface{}, len(artifacts))
		for _, a := range artifacts {
			if a.ContentText != nil {
				payload[string(a.Type)] = *a.ContentText
			} else {
				payload[string(a.Type)] = map[string]string{"storage_key": a.StorageKey()}
			}
		}
		_ = writeFrame(w, flusher, 0, "complete", map[string]interface{}{"job_id": jobID, "artifacts": payload})
		metrics.EventsSent++
		return
	}

	reassembled := s.reassembleFromChunks(ctx, jobID, job.FormatsRequested)
	_ = writeFrame(w, flusher, 0, "complete", map[string]interface{}{"job_id": jobID, "content": reassembled})
	metrics.EventsSent++
}

// reassembleFromChunks rebuilds each requested format's text from its
// recorded "content" events via eventstore.ReassembleContent and
// concatenates them in format order, the last-resort source for the
// final payload.
func (s *Streamer) reassembleFromChunks(ctx context.Context, jobID int64, formats []string) string {
	var b strings.Builder
	for _, f := range formats {
		if text, ok := eventstore.ReassembleContent(ctx, s.events, jobID, f); ok {
			b.WriteString(text)
		}
	}
	return b.String()
}

func containsFormat(formats []string, target string) bool {
	for _, f := range formats {
		if f == target {
			return true
		}
	}
	return false
}
