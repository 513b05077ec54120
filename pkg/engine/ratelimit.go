package engine

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tombee/souschef/pkg/recipe"
)

// RateLimiter paces agent spawns across the whole recipe tree. It is created
// once at the root recipe and borrowed by every sub-recipe; sub-recipes
// cannot override its limits.
//
// Three mechanisms compose, in order on each acquisition:
// semaphore (max concurrent in-flight calls), pacing (minimum gap since the
// last call completion), adaptive backoff (grows on rate-limit errors,
// clears after consecutive successes).
type RateLimiter struct {
	sem      chan struct{}
	minDelay time.Duration
	backoff  recipe.BackoffConfig

	mu             sync.Mutex
	lastCompletion time.Time
	currentDelay   time.Duration
	successStreak  int

	acquisitions  atomic.Int64
	rateLimitHits atomic.Int64
	waitNanos     atomic.Int64

	metrics *Metrics
}

// NewRateLimiter builds a limiter from recipe config. A nil config returns a
// nil limiter; all limiter methods are nil-safe no-ops so unconfigured
// recipes pay nothing.
func NewRateLimiter(cfg *recipe.RateLimitConfig, metrics *Metrics) *RateLimiter {
	if cfg == nil {
		return nil
	}
	rl := &RateLimiter{
		minDelay: time.Duration(cfg.MinDelayMS) * time.Millisecond,
		backoff:  cfg.Backoff,
		metrics:  metrics,
	}
	if cfg.MaxConcurrentLLM > 0 {
		rl.sem = make(chan struct{}, cfg.MaxConcurrentLLM)
	}
	return rl
}

// Acquire blocks until a call slot is available, then applies pacing and any
// adaptive backoff delay. Every successful Acquire must be paired with
// Release on all exit paths.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	if rl == nil {
		return nil
	}
	start := time.Now()

	if rl.sem != nil {
		select {
		case rl.sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := rl.pace(ctx); err != nil {
		rl.release()
		return err
	}

	if delay := rl.backoffDelay(); delay > 0 {
		if err := sleepCtx(ctx, delay); err != nil {
			rl.release()
			return err
		}
	}

	rl.acquisitions.Add(1)
	rl.waitNanos.Add(int64(time.Since(start)))
	rl.metrics.RateLimitAcquired(time.Since(start))
	return nil
}

// Release records the call completion and frees the slot. outcomeErr is the
// error the call ended with, used for rate-limit recognition.
func (rl *RateLimiter) Release(outcomeErr error) {
	if rl == nil {
		return
	}

	rl.mu.Lock()
	rl.lastCompletion = time.Now()
	if rl.backoff.Enabled {
		if IsRateLimitError(outcomeErr) {
			rl.rateLimitHits.Add(1)
			rl.metrics.RateLimitHit()
			if rl.currentDelay == 0 {
				rl.currentDelay = time.Duration(rl.backoff.InitialDelayMS) * time.Millisecond
			} else {
				next := time.Duration(float64(rl.currentDelay) * rl.backoff.Multiplier)
				max := time.Duration(rl.backoff.MaxDelayMS) * time.Millisecond
				if next > max {
					next = max
				}
				rl.currentDelay = next
			}
			rl.successStreak = 0
		} else if outcomeErr == nil && rl.currentDelay > 0 {
			rl.successStreak++
			if rl.successStreak >= rl.backoff.ResetAfterSuccess {
				rl.currentDelay = 0
				rl.successStreak = 0
			}
		}
	}
	rl.mu.Unlock()

	rl.release()
}

// pace enforces the minimum inter-completion gap. The last-completion check
// and the sleep decision happen under one lock so concurrent acquirers do
// not race past each other.
func (rl *RateLimiter) pace(ctx context.Context) error {
	if rl.minDelay <= 0 {
		return nil
	}

	rl.mu.Lock()
	var wait time.Duration
	if !rl.lastCompletion.IsZero() {
		elapsed := time.Since(rl.lastCompletion)
		if elapsed < rl.minDelay {
			wait = rl.minDelay - elapsed
		}
	}
	rl.mu.Unlock()

	if wait > 0 {
		return sleepCtx(ctx, wait)
	}
	return nil
}

func (rl *RateLimiter) backoffDelay() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.currentDelay
}

func (rl *RateLimiter) release() {
	if rl.sem != nil {
		<-rl.sem
	}
}

// Stats returns observational counters: acquisitions, cumulative wait time,
// and rate-limit hits.
func (rl *RateLimiter) Stats() (acquisitions int64, totalWait time.Duration, hits int64) {
	if rl == nil {
		return 0, 0, 0
	}
	return rl.acquisitions.Load(),
		time.Duration(rl.waitNanos.Load()),
		rl.rateLimitHits.Load()
}

// IsRateLimitError recognizes provider rate limiting by substring. The
// spawner surface gives no richer taxonomy, so "429" and "rate limit" in the
// message are the signal.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit")
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
