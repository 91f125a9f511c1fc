package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/agentuity/go-guard/logger"
	"github.com/agentuity/go-guard/store"
)

// DefaultWindow is used for requests without a positive Window.
const DefaultWindow = time.Minute

// Request describes one rate limit check.
type Request struct {
	Bucket string
	Key    string
	Limit  int64
	Window time.Duration
}

func (r Request) storeKey() string {
	return "rl:" + r.Bucket + ":" + r.Key
}

// Result is the outcome of a check.
type Result struct {
	Allowed   bool
	Count     int64
	Remaining int64
	Limit     int64
	// Reset is the time left until the window restarts.
	Reset time.Duration
}

// ResetSeconds returns Reset rounded up to whole seconds.
func (r Result) ResetSeconds() int64 {
	if r.Reset <= 0 {
		return 0
	}
	return int64((r.Reset + time.Second - 1) / time.Second)
}

// Limiter is a fixed-window rate limiter. It is safe for concurrent use.
type Limiter struct {
	store  store.Store
	logger logger.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the logger used to report store failures.
func WithLogger(l logger.Logger) Option {
	return func(rl *Limiter) {
		if l != nil {
			rl.logger = l
		}
	}
}

// NewLimiter returns a Limiter counting in s.
func NewLimiter(s store.Store, opts ...Option) *Limiter {
	rl := &Limiter{
		store:  s,
		logger: logger.NewConsoleLogger(logger.LevelNone),
	}
	for _, opt := range opts {
		opt(rl)
	}
	rl.logger = rl.logger.WithPrefix("[ratelimit]")
	return rl
}

// Enabled reports whether requests are actually counted.
func (rl *Limiter) Enabled() bool {
	return rl.store.Enabled()
}

func (rl *Limiter) failOpen(req Request, err error) Result {
	if !store.IsDisabled(err) {
		storeFailures.WithLabelValues(req.Bucket).Inc()
		rl.logger.Warn("check of %s/%s failed, allowing: %s", req.Bucket, req.Key, err)
	}
	return Result{
		Allowed:   true,
		Remaining: max(req.Limit, 0),
		Limit:     req.Limit,
		Reset:     req.Window,
	}
}

// Allow counts one hit for req and reports whether it is within the limit.
// A request with Limit <= 0 is always denied. A store failure allows the request.
func (rl *Limiter) Allow(ctx context.Context, req Request) Result {
	if req.Window <= 0 {
		req.Window = DefaultWindow
	}
	key := req.storeKey()
	count, err := rl.store.Incr(ctx, key)
	if err != nil {
		return rl.failOpen(req, err)
	}
	if count == 1 {
		if err := rl.store.Expire(ctx, key, req.Window); err != nil {
			return rl.failOpen(req, err)
		}
	}
	reset, err := rl.store.TTL(ctx, key)
	if err != nil {
		reset = req.Window
	} else if reset < 0 {
		// counter without expiry, e.g. the EXPIRE after the first INCR was lost
		if err := rl.store.Expire(ctx, key, req.Window); err != nil {
			rl.logger.Warn("failed to restore expiry of %s: %s", key, err)
		}
		reset = req.Window
	}
	res := Result{
		Allowed:   req.Limit > 0 && count <= req.Limit,
		Count:     count,
		Remaining: max(req.Limit-count, 0),
		Limit:     req.Limit,
		Reset:     reset,
	}
	decisions.WithLabelValues(req.Bucket, strconv.FormatBool(res.Allowed)).Inc()
	if !res.Allowed {
		rl.logger.Debug("%s/%s over limit (%d/%d), resets in %s", req.Bucket, req.Key, count, req.Limit, reset)
	}
	return res
}

// AllowAll checks every request and combines the results. The combined result
// is denied when any request is denied and reports the most restrictive
// outcome: the denied result with the longest reset, or when everything is
// allowed, the one with the fewest remaining hits. Every request is counted,
// even after one has been denied.
func (rl *Limiter) AllowAll(ctx context.Context, reqs ...Request) Result {
	var combined Result
	for i, req := range reqs {
		res := rl.Allow(ctx, req)
		if i == 0 || moreRestrictive(res, combined) {
			combined = res
		}
	}
	if len(reqs) == 0 {
		combined.Allowed = true
	}
	return combined
}

func moreRestrictive(a, b Result) bool {
	if a.Allowed != b.Allowed {
		return !a.Allowed
	}
	if !a.Allowed {
		return a.Reset > b.Reset
	}
	return a.Remaining < b.Remaining
}
