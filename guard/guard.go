// Package guard bundles the cache, the rate limiter and the abuse tracker
// behind one handle that request handlers receive at startup.
//
//	g := guard.Connect(ctx, cfg, log)
//	res := g.RateLimitAll(ctx, perClient, global)
//	if !res.Allowed {
//		if stale := guard.Peek[*Article](ctx, g, "articles", slug); stale.Hit() {
//			guard.SetStaleHeaders(w.Header(), res)
//			...
//		}
//	}
//	article, err := guard.WrapJSON(ctx, g, "articles", slug, time.Minute, load)
//
// When the store is missing or unreachable every operation degrades to its
// safe default: values are always computed, requests are always allowed and
// offenses are dropped. Enabled reports which mode is active and is meant for
// observability only.
package guard

import (
	"context"
	"time"

	"github.com/agentuity/go-guard/abuse"
	"github.com/agentuity/go-guard/cache"
	"github.com/agentuity/go-guard/config"
	"github.com/agentuity/go-guard/logger"
	"github.com/agentuity/go-guard/ratelimit"
	"github.com/agentuity/go-guard/resilience"
	"github.com/agentuity/go-guard/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "go-guard"

// Guard bundles the versioned cache, the rate limiter and the abuse tracker
// over one store. When the store is the no-op fallback every operation still
// succeeds: values are computed, requests allowed and offenses dropped.
type Guard struct {
	store   store.Store
	cache   *cache.Engine
	limiter *ratelimit.Limiter
	tracker *abuse.Tracker
	logger  logger.Logger
	tracer  trace.Tracer
}

type options struct {
	logger      logger.Logger
	provider    trace.TracerProvider
	cacheOpts   []cache.Option
	trackerOpts []abuse.Option
}

// Option configures a Guard.
type Option func(*options)

// WithLogger sets the logger shared by every component.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.provider = tp }
}

// WithCodec selects the serialisation of cache entries.
func WithCodec(c cache.Codec) Option {
	return func(o *options) { o.cacheOpts = append(o.cacheOpts, cache.WithCodec(c)) }
}

// WithAbuseOptions passes options to the abuse tracker.
func WithAbuseOptions(opts ...abuse.Option) Option {
	return func(o *options) { o.trackerOpts = append(o.trackerOpts, opts...) }
}

// New builds a Guard over s.
func New(s store.Store, opts ...Option) *Guard {
	o := options{
		logger:   logger.NewConsoleLogger(logger.LevelNone),
		provider: otel.GetTracerProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Guard{
		store:   s,
		cache:   cache.NewEngine(s, append([]cache.Option{cache.WithLogger(o.logger)}, o.cacheOpts...)...),
		limiter: ratelimit.NewLimiter(s, ratelimit.WithLogger(o.logger)),
		tracker: abuse.NewTracker(s, append([]abuse.Option{abuse.WithLogger(o.logger)}, o.trackerOpts...)...),
		logger:  o.logger,
		tracer:  o.provider.Tracer(tracerName),
	}
}

// Connect resolves the store described by cfg and builds a Guard over it. It
// never fails: an unusable store configuration yields a disabled Guard.
func Connect(ctx context.Context, cfg config.Config, log logger.Logger, opts ...Option) *Guard {
	breaker := resilience.DefaultCircuitBreakerConfig()
	if cfg.Breaker.MaxFailures > 0 {
		breaker.MaxFailures = cfg.Breaker.MaxFailures
	}
	if cfg.Breaker.Cooldown > 0 {
		breaker.Cooldown = cfg.Breaker.Cooldown.Std()
	}
	s := store.Connect(ctx, cfg.RedisURL,
		store.WithQueryTimeout(cfg.QueryTimeout.Std()),
		store.WithDialTimeout(cfg.DialTimeout.Std()),
		store.WithPrefix(cfg.KeyPrefix),
		store.WithBreaker(breaker),
		store.WithLogger(log),
	)
	base := []Option{
		WithLogger(log),
		WithAbuseOptions(
			abuse.WithCap(cfg.Abuse.Cap),
			abuse.WithDetailTTL(cfg.Abuse.DetailTTL.Std()),
			abuse.WithMaxList(cfg.Abuse.ListMax),
		),
	}
	if cfg.Codec == "msgpack" {
		base = append(base, WithCodec(cache.Msgpack))
	}
	return New(s, append(base, opts...)...)
}

// BreakerStats reports the circuit breaker in front of the store, if it has one.
func (g *Guard) BreakerStats() (resilience.CircuitBreakerStats, bool) {
	r, ok := g.store.(store.BreakerReporter)
	if !ok {
		return resilience.CircuitBreakerStats{}, false
	}
	return r.BreakerStats(), true
}

// Enabled reports whether a store is backing the guard.
func (g *Guard) Enabled() bool {
	return g.store.Enabled()
}

func (g *Guard) Store() store.Store          { return g.store }
func (g *Guard) Cache() *cache.Engine        { return g.cache }
func (g *Guard) Limiter() *ratelimit.Limiter { return g.limiter }
func (g *Guard) Tracker() *abuse.Tracker     { return g.tracker }

func (g *Guard) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.Bool("guard.enabled", g.Enabled()))
	return g.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Bump invalidates namespace and returns its new version, 0 when disabled.
func (g *Guard) Bump(ctx context.Context, namespace string) int64 {
	ctx, span := g.start(ctx, "guard.Bump", attribute.String("guard.namespace", namespace))
	defer span.End()
	version := g.cache.Bump(ctx, namespace)
	span.SetAttributes(attribute.Int64("guard.version", version))
	return version
}

func resultAttributes(res ratelimit.Result) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool("guard.allowed", res.Allowed),
		attribute.Int64("guard.count", res.Count),
		attribute.Int64("guard.remaining", res.Remaining),
	}
}

// RateLimit counts one hit for req.
func (g *Guard) RateLimit(ctx context.Context, req ratelimit.Request) ratelimit.Result {
	ctx, span := g.start(ctx, "guard.RateLimit",
		attribute.String("guard.bucket", req.Bucket),
		attribute.Int64("guard.limit", req.Limit),
	)
	defer span.End()
	res := g.limiter.Allow(ctx, req)
	span.SetAttributes(resultAttributes(res)...)
	return res
}

// RateLimitAll checks every request, typically a per-client and a global
// bucket, and returns the most restrictive result.
func (g *Guard) RateLimitAll(ctx context.Context, reqs ...ratelimit.Request) ratelimit.Result {
	ctx, span := g.start(ctx, "guard.RateLimitAll", attribute.Int("guard.buckets", len(reqs)))
	defer span.End()
	res := g.limiter.AllowAll(ctx, reqs...)
	span.SetAttributes(resultAttributes(res)...)
	return res
}

// RecordSuspicious adds one offense to the abuse leaderboard.
func (g *Guard) RecordSuspicious(ctx context.Context, o abuse.Offense) {
	ctx, span := g.start(ctx, "guard.RecordSuspicious",
		attribute.String("guard.bucket", o.Bucket),
		attribute.String("guard.kind", o.Kind),
	)
	defer span.End()
	g.tracker.Record(ctx, o)
}

// ListSuspicious returns the worst offenders by descending score.
func (g *Guard) ListSuspicious(ctx context.Context, limit int) []abuse.Suspect {
	ctx, span := g.start(ctx, "guard.ListSuspicious", attribute.Int("guard.limit", limit))
	defer span.End()
	list := g.tracker.List(ctx, limit)
	span.SetAttributes(attribute.Int("guard.results", len(list)))
	return list
}

// WrapJSON is cache.WrapJSON on the guard's engine.
func WrapJSON[T any](ctx context.Context, g *Guard, namespace string, fingerprint any, ttl time.Duration, compute func(ctx context.Context) (T, error)) (T, error) {
	ctx, span := g.start(ctx, "guard.WrapJSON", attribute.String("guard.namespace", namespace))
	defer span.End()
	val, err := cache.WrapJSON(ctx, g.cache, namespace, fingerprint, ttl, compute)
	if err != nil {
		span.RecordError(err)
	}
	return val, err
}

// Peek returns the cached entry without computing it.
func Peek[T any](ctx context.Context, g *Guard, namespace string, fingerprint any) cache.Entry[T] {
	ctx, span := g.start(ctx, "guard.Peek", attribute.String("guard.namespace", namespace))
	defer span.End()
	entry := cache.Peek[T](ctx, g.cache, namespace, fingerprint)
	span.SetAttributes(attribute.Bool("guard.hit", entry.Hit()))
	return entry
}
