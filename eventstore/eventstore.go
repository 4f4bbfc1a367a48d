/*
Logic:       SSE event log per job: Append/Since/LatestID/Clear over
             Redis (LPUSH/LTRIM/EXPIRE, 100 events/job, 24h TTL), with
             an in-process fallback for environments with no Redis
             configured. Monotonic event IDs are a millisecond
             timestamp with a local tie-break counter, so two events
             appended in the same millisecond still sort and replay in
             order.
*/

// Package eventstore is the append-only per-job event log the SSE
// streamer reads from, grounded on original_source/sse_store.py and
// shaped like the teacher's redisclient + caching.Engine pairing:
// a thin Redis-backed primary path with an in-memory fallback guarded
// by the same per-namespace locking style as caching.Engine.
package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pogbonna-IAL/content-gateway/redisclient"
)

const (
	maxEventsPerJob = 100
	eventTTL        = 24 * time.Hour
)

// Event is one SSE message recorded for a job.
type Event struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Store is the Append/Since/LatestID/Clear contract the SSE streamer
// and the job runner both depend on.
type Store interface {
	Append(ctx context.Context, jobID int64, eventType string, data interface{}) (*Event, error)
	Since(ctx context.Context, jobID int64, lastEventID int64) ([]Event, error)
	LatestID(ctx context.Context, jobID int64) (int64, error)
	Clear(ctx context.Context, jobID int64) error
}

// idGenerator produces monotonic IDs even within the same millisecond.
type idGenerator struct {
	mu   sync.Mutex
	last int64
	seq  int64
}

func (g *idGenerator) next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UnixMilli()
	if now <= g.last {
		g.seq++
		return g.last*1000 + g.seq%1000
	}
	g.last = now
	g.seq = 0
	return now * 1000
}

// RedisStore persists events in Redis lists, one list per job.
type RedisStore struct {
	rdb *redis.Client
	ids idGenerator
	log zerolog.Logger
}

func NewRedisStore(client *redisclient.Client, log zerolog.Logger) *RedisStore {
	return &RedisStore{rdb: client.Raw(), log: log}
}

func key(jobID int64) string {
	return fmt.Sprintf("job_events:%d", jobID)
}

func (s *RedisStore) Append(ctx context.Context, jobID int64, eventType string, data interface{}) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}

	ev := Event{
		ID:        s.ids.next(),
		Type:      eventType,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event envelope: %w", err)
	}

	k := key(jobID)
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, k, payload)
	pipe.LTrim(ctx, k, 0, maxEventsPerJob-1)
	pipe.Expire(ctx, k, eventTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}

	return &ev, nil
}

func (s *RedisStore) Since(ctx context.Context, jobID int64, lastEventID int64) ([]Event, error) {
	raws, err := s.rdb.LRange(ctx, key(jobID), 0, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("read events: %w", err)
	}

	events := make([]Event, 0, len(raws))
	for _, raw := range raws {
		var ev Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			s.log.Warn().Err(err).Msg("dropping unparsable event record")
			continue
		}
		if ev.ID > lastEventID {
			events = append(events, ev)
		}
	}

	// LPUSH stores newest-first; callers want chronological order.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func (s *RedisStore) LatestID(ctx context.Context, jobID int64) (int64, error) {
	raw, err := s.rdb.LIndex(ctx, key(jobID), 0).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("read latest event: %w", err)
	}
	var ev Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return 0, fmt.Errorf("parse latest event: %w", err)
	}
	return ev.ID, nil
}

func (s *RedisStore) Clear(ctx context.Context, jobID int64) error {
	if err := s.rdb.Del(ctx, key(jobID)).Err(); err != nil {
		return fmt.Errorf("clear events: %w", err)
	}
	return nil
}

// MemoryStore is the no-Redis-configured fallback: a bounded
// per-job slice guarded by a single mutex, mirroring sse_store.py's
// memory_store dict-of-lists escape hatch.
type MemoryStore struct {
	mu   sync.Mutex
	byJob map[int64][]Event
	ids   idGenerator
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byJob: make(map[int64][]Event)}
}

func (s *MemoryStore) Append(_ context.Context, jobID int64, eventType string, data interface{}) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}

	ev := Event{ID: s.ids.next(), Type: eventType, Data: raw, Timestamp: time.Now().UTC()}

	s.mu.Lock()
	defer s.mu.Unlock()
	events := append(s.byJob[jobID], ev)
	if len(events) > maxEventsPerJob {
		events = events[len(events)-maxEventsPerJob:]
	}
	s.byJob[jobID] = events
	return &ev, nil
}

func (s *MemoryStore) Since(_ context.Context, jobID int64, lastEventID int64) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Event
	for _, ev := range s.byJob[jobID] {
		if ev.ID > lastEventID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *MemoryStore) LatestID(_ context.Context, jobID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.byJob[jobID]
	if len(events) == 0 {
		return 0, nil
	}
	return events[len(events)-1].ID, nil
}

func (s *MemoryStore) Clear(_ context.Context, jobID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byJob, jobID)
	return nil
}

// ReassembleContent rebuilds one format's text from the recorded
// "content" events: the terminal saved frame if it made it into the
// store, otherwise the concatenation of accumulated partial chunks in
// event order. This is the last-resort source the job runner and the
// SSE streamer both fall back to when the DB artifact read itself
// fails (spec step 9).
func ReassembleContent(ctx context.Context, s Store, jobID int64, format string) (string, bool) {
	events, err := s.Since(ctx, jobID, 0)
	if err != nil {
		return "", false
	}

	var chunks strings.Builder
	found := false
	for _, ev := range events {
		if ev.Type != "content" {
			continue
		}
		var frame struct {
			Type    string `json:"type"`
			Content string `json:"content"`
			Chunk   string `json:"chunk"`
			Saved   bool   `json:"saved"`
		}
		if json.Unmarshal(ev.Data, &frame) != nil || frame.Type != format {
			continue
		}
		found = true
		if frame.Saved {
			return frame.Content, true
		}
		chunks.WriteString(frame.Chunk)
	}
	return chunks.String(), found
}
