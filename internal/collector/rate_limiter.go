package collector

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kurihiro0119/github-contrib-collector/internal/logger"
	"github.com/kurihiro0119/github-contrib-collector/internal/metrics"
)

// Rate limit buckets tracked separately by GitHub
const (
	BucketCore   = "core"
	BucketSearch = "search"
)

// Clock abstracts time so quota sleeps can be tested without waiting
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

// RealClock returns the wall clock
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// clockTimer drives backoff waits from a Clock
type clockTimer struct {
	clock  Clock
	c      chan time.Time
	cancel context.CancelFunc
}

func (t *clockTimer) Start(d time.Duration) {
	t.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan time.Time, 1)
	t.c, t.cancel = c, cancel
	go func() {
		if t.clock.Sleep(ctx, d) == nil {
			c <- t.clock.Now()
		}
	}()
}

func (t *clockTimer) Stop() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

func (t *clockTimer) C() <-chan time.Time { return t.c }

// RateLimiter manages GitHub API rate limiting
type RateLimiter interface {
	// Wait blocks until a call in bucket may be issued. It reserves one unit
	// of the known quota so concurrent callers cannot overdraw it.
	Wait(ctx context.Context, bucket string) error
	// CheckLimit returns the last known quota of bucket
	CheckLimit(bucket string) (remaining int, resetTime time.Time, known bool)
	// UpdateLimit records the quota reported by an API response
	UpdateLimit(bucket string, remaining int, resetTime time.Time)
	// Exhaust marks bucket as empty until resetTime
	Exhaust(bucket string, resetTime time.Time)
}

type quota struct {
	remaining int
	reset     time.Time
}

// githubRateLimiter implements RateLimiter for GitHub API
type githubRateLimiter struct {
	mu      sync.Mutex
	clock   Clock
	quotas  map[string]*quota
	spacing *rate.Limiter
	log     logger.Logger
	metrics *metrics.Metrics
}

// NewRateLimiter creates a rate limiter that also keeps minInterval between requests
func NewRateLimiter(clock Clock, minInterval time.Duration, log logger.Logger, m *metrics.Metrics) RateLimiter {
	if clock == nil {
		clock = RealClock()
	}
	if log == nil {
		log = logger.NewNop()
	}
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &githubRateLimiter{
		clock:   clock,
		quotas:  make(map[string]*quota),
		spacing: rate.NewLimiter(limit, 1),
		log:     log,
		metrics: m,
	}
}

// Wait waits until it's safe to make another API call
func (r *githubRateLimiter) Wait(ctx context.Context, bucket string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		r.mu.Lock()
		var wait time.Duration
		if q, ok := r.quotas[bucket]; ok {
			if q.remaining > 0 {
				q.remaining--
			} else {
				wait = q.reset.Sub(r.clock.Now())
				if wait <= 0 {
					// Quota has reset; the next response reports the new figures.
					delete(r.quotas, bucket)
				}
			}
		}
		r.mu.Unlock()

		if wait <= 0 {
			break
		}

		r.log.Warn("Rate limit exhausted, waiting for reset",
			logger.String("bucket", bucket),
			logger.Duration("wait", wait.Round(time.Second)),
		)
		r.metrics.ObserveRateLimitWait(bucket, wait.Seconds())
		if err := r.clock.Sleep(ctx, wait); err != nil {
			return err
		}
		r.log.Info("Rate limit reset, continuing", logger.String("bucket", bucket))
	}

	return r.spacing.Wait(ctx)
}

// CheckLimit returns the current rate limit status
func (r *githubRateLimiter) CheckLimit(bucket string) (int, time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.quotas[bucket]
	if !ok {
		return 0, time.Time{}, false
	}
	return q.remaining, q.reset, true
}

// UpdateLimit updates the rate limit from API response headers
func (r *githubRateLimiter) UpdateLimit(bucket string, remaining int, resetTime time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quotas[bucket] = &quota{remaining: remaining, reset: resetTime}
}

// Exhaust marks the bucket empty so the next Wait sleeps until resetTime
func (r *githubRateLimiter) Exhaust(bucket string, resetTime time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quotas[bucket] = &quota{remaining: 0, reset: resetTime}
}
