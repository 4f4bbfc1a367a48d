/*
Logic:       Single retry helper that classifies a caught database error
             into {Transient, Permanent} and loops only on Transient
             with bounded exponential backoff, invalidating the pooled
             connection between attempts. Replaces the deep
             exception-control-flow pattern the source repo used around
             every DB call (§9 of the design notes).
*/

// Package dbretry centralizes the "retry transient DB faults, never
// retry semantic ones" policy every store operation needs.
package dbretry

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// Class is the outcome of classifying a database error.
type Class int

const (
	// Permanent errors (constraint violations, not-found) are never retried.
	Permanent Class = iota
	// Transient errors (connection resets, SSL drops, timeouts) may
	// succeed on retry without any code change.
	Transient
)

// Classify inspects err and decides whether retrying the operation on
// a fresh connection might succeed.
func Classify(err error) Class {
	if err == nil {
		return Permanent
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 = connection exception, 57P01 = admin shutdown,
		// 40001 = serialization failure (safe to retry).
		switch {
		case strings.HasPrefix(pgErr.Code, "08"),
			pgErr.Code == "57P01",
			pgErr.Code == "40001":
			return Transient
		default:
			return Permanent
		}
	}

	msg := strings.ToLower(err.Error())
	transientSubstrings := []string{
		"connection reset", "connection refused", "broken pipe",
		"eof", "ssl connection has been closed unexpectedly",
		"server closed the connection", "i/o timeout",
		"context deadline exceeded", "too many connections",
	}
	for _, s := range transientSubstrings {
		if strings.Contains(msg, s) {
			return Transient
		}
	}

	return Permanent
}

// Invalidator allows the caller to drop a possibly-poisoned pooled
// connection before the next attempt. Implemented by the store's
// session acquirer.
type Invalidator interface {
	Invalidate(ctx context.Context)
}

// Do runs fn once and retries it up to 3 more times (0.5s, 1.0s, 2.0s
// backoff) as long as the returned error classifies as Transient. A
// Permanent error returns immediately without retry, matching spec
// §4.D's retry wrapper contract (3 retries, 0.5/1.0/2.0s).
func Do(ctx context.Context, log zerolog.Logger, inv Invalidator, fn func(ctx context.Context) error) error {
	delays := []time.Duration{500 * time.Millisecond, 1 * time.Second, 2 * time.Second}

	var lastErr error
	for attempt := 0; attempt <= len(delays); attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if Classify(lastErr) == Permanent {
			return lastErr
		}

		if attempt == len(delays) {
			break
		}

		log.Warn().
			Err(lastErr).
			Int("attempt", attempt+1).
			Dur("backoff", delays[attempt]).
			Msg("transient database fault, retrying with fresh session")

		if inv != nil {
			inv.Invalidate(ctx)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delays[attempt]):
		}
	}

	return lastErr
}

// NewExponential returns a backoff.BackOff centred on the 0.5/1.0/2.0s
// policy (cenkalti/backoff's default ±50% jitter applies to each
// interval) and capped at 3 retries, for callers (like the scheduler's hard-delete sweep) that
// need the same shape via cenkalti/backoff's WithMaxRetries combinator
// instead of the hand-rolled loop in Do.
func NewExponential() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.Multiplier = 2.0
	b.MaxElapsedTime = 10 * time.Second
	return backoff.WithMaxRetries(b, 3)
}

// RetryWithBackoff runs fn once plus up to 3 retries on the jittered
// 0.5/1.0/2.0s schedule of NewExponential, retrying unconditionally on
// any error — for callers like the
// hard-delete sweep where a failed attempt (of any kind, not just a
// transient DB fault) is worth one more try before moving on to the
// next unit of work.
func RetryWithBackoff(ctx context.Context, fn func() error) error {
	return backoff.Retry(func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return fn()
	}, NewExponential())
}
