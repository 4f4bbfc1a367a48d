/*
Logic:       Content-level cache for the job runner's step-3 lookup:
             exact-hash index over (topic, formats, prompt_version,
             model, moderation_version), adapted from the teacher's
             caching.Engine semantic cache. We keep the namespace
             (here: org ID) segmentation and Lookup/Store/Stats API
             but drop vector similarity — generation requests are
             either the same cache key or they are not; there is no
             "close enough" topic match the way there is a "close
             enough" prompt. When an embedding function is supplied by
             llmruntime, the same embedding+cosine-similarity path
             from the teacher is reused for partial-match suggestions;
             with none configured, Lookup degrades to exact-hash-only,
             mirroring the teacher's nil-embedFn fallback.
*/

// Package cache holds the Job Runner's per-tenant generation cache.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// EmbeddingFunc generates an embedding vector for a topic string, when
// the configured LLM runtime supports it.
type EmbeddingFunc func(ctx context.Context, text, model string) ([]float64, error)

// Key identifies one cached generation result.
type Key struct {
	Topic             string
	Format            string
	PromptVersion     string
	Model             string
	ModerationVersion string
}

func (k Key) hash() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s", k.Topic, k.Format, k.PromptVersion, k.Model, k.ModerationVersion)
	return hex.EncodeToString(h.Sum(nil))
}

// Entry is a cached generation result for one format.
type Entry struct {
	Key       Key
	Content   []byte
	Embedding []float64
	CreatedAt time.Time
	ExpiresAt time.Time
	HitCount  int64
}

// LookupResult reports a cache Lookup's outcome.
type LookupResult struct {
	Hit    bool
	Entry  *Entry
	Source string // "exact" or "semantic"
}

// Stats tracks cache hit/miss counters.
type Stats struct {
	Hits   int64
	Misses int64
}

const defaultTTL = 7 * 24 * time.Hour

// Engine is the per-namespace (organization) content cache.
type Engine struct {
	mu         sync.RWMutex
	log        zerolog.Logger
	embedFn    EmbeddingFunc
	similarity float64

	exact map[string]map[string]*Entry // namespace -> hash -> entry

	hits   int64
	misses int64
}

// New builds an Engine. embedFn may be nil, in which case Lookup only
// ever does exact-hash matching.
func New(log zerolog.Logger, embedFn EmbeddingFunc) *Engine {
	return &Engine{
		log:        log.With().Str("component", "content_cache").Logger(),
		embedFn:    embedFn,
		similarity: 0.94,
		exact:      make(map[string]map[string]*Entry),
	}
}

// Lookup checks the cache for namespace+key, trying exact match first
// and falling back to an embedding similarity search only if embedFn
// is configured.
func (e *Engine) Lookup(ctx context.Context, namespace string, key Key) (*LookupResult, error) {
	hash := key.hash()

	e.mu.RLock()
	entries := e.exact[namespace]
	var exact *Entry
	if entries != nil {
		exact = entries[hash]
	}
	e.mu.RUnlock()

	if exact != nil && exact.ExpiresAt.After(time.Now()) {
		atomic.AddInt64(&e.hits, 1)
		atomic.AddInt64(&exact.HitCount, 1)
		return &LookupResult{Hit: true, Entry: exact, Source: "exact"}, nil
	}

	if e.embedFn == nil {
		atomic.AddInt64(&e.misses, 1)
		return &LookupResult{Hit: false}, nil
	}

	embedding, err := e.embedFn(ctx, key.Topic, key.Model)
	if err != nil {
		e.log.Debug().Err(err).Msg("embedding generation failed, cache miss")
		atomic.AddInt64(&e.misses, 1)
		return &LookupResult{Hit: false}, nil
	}

	e.mu.RLock()
	candidates := entries
	e.mu.RUnlock()

	var best *Entry
	var bestSim float64
	now := time.Now()
	for _, entry := range candidates {
		if entry.ExpiresAt.Before(now) || entry.Key.Model != key.Model || entry.Key.Format != key.Format {
			continue
		}
		sim := cosineSimilarity(embedding, entry.Embedding)
		if sim > bestSim {
			bestSim, best = sim, entry
		}
	}

	if best != nil && bestSim >= e.similarity {
		atomic.AddInt64(&e.hits, 1)
		atomic.AddInt64(&best.HitCount, 1)
		return &LookupResult{Hit: true, Entry: best, Source: "semantic"}, nil
	}

	atomic.AddInt64(&e.misses, 1)
	return &LookupResult{Hit: false}, nil
}

// Store writes a generation result into the cache under namespace+key.
func (e *Engine) Store(ctx context.Context, namespace string, key Key, content []byte) error {
	entry := &Entry{Key: key, Content: content, CreatedAt: time.Now(), ExpiresAt: time.Now().Add(defaultTTL)}

	if e.embedFn != nil {
		if embedding, err := e.embedFn(ctx, key.Topic, key.Model); err == nil {
			entry.Embedding = embedding
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.exact[namespace] == nil {
		e.exact[namespace] = make(map[string]*Entry)
	}
	e.exact[namespace][key.hash()] = entry
	return nil
}

// Invalidate drops all cached entries for namespace.
func (e *Engine) Invalidate(namespace string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.exact, namespace)
}

// StatsSnapshot returns a point-in-time copy of the hit/miss counters.
func (e *Engine) StatsSnapshot() Stats {
	return Stats{Hits: atomic.LoadInt64(&e.hits), Misses: atomic.LoadInt64(&e.misses)}
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
