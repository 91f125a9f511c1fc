package cache

import (
	"context"
	"time"

	"github.com/agentuity/go-guard/logger"
	"github.com/agentuity/go-guard/store"
)

// DefaultTTL is used by WrapJSON when ttl <= 0.
const DefaultTTL = 5 * time.Minute

// Engine is the cache-aside engine. It holds no per-request state and is safe
// for concurrent use; consistency is delegated to the store's atomic primitives.
type Engine struct {
	store    store.Store
	versions *Versions
	codec    Codec
	logger   logger.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithCodec selects the serialisation of stored entries. Defaults to JSON.
func WithCodec(c Codec) Option {
	return func(e *Engine) {
		if c != nil {
			e.codec = c
		}
	}
}

// WithLogger sets the logger used to report degraded operations.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine returns a cache-aside engine over s.
func NewEngine(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:    s,
		versions: NewVersions(s),
		codec:    JSON,
		logger:   logger.NewConsoleLogger(logger.LevelNone),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithPrefix("[cache]")
	return e
}

// Enabled reports whether entries are actually stored.
func (e *Engine) Enabled() bool {
	return e.store.Enabled()
}

// Versions exposes the namespace version counters.
func (e *Engine) Versions() *Versions {
	return e.versions
}

// BuildKey returns namespace:v<version>:<hash16> for fingerprint under the
// current version of namespace.
func (e *Engine) BuildKey(ctx context.Context, namespace string, fingerprint any) (string, error) {
	version, err := e.versions.Get(ctx, namespace)
	if err != nil {
		return "", err
	}
	return FormatKey(namespace, version, Fingerprint(fingerprint)), nil
}

// Bump invalidates every entry of namespace and returns the new version, or
// 0 when the store is unavailable.
func (e *Engine) Bump(ctx context.Context, namespace string) int64 {
	version, err := e.versions.Bump(ctx, namespace)
	if err != nil {
		e.degraded("bump", namespace, err)
		return 0
	}
	cacheBumps.WithLabelValues(namespace).Inc()
	e.logger.Debug("namespace %s bumped to v%d", namespace, version)
	return version
}

func (e *Engine) degraded(op string, namespace string, err error) {
	if store.IsDisabled(err) {
		return
	}
	e.logger.Warn("%s for namespace %s failed, continuing without cache: %s", op, namespace, err)
}

func lookup[T any](ctx context.Context, e *Engine, namespace string, key string) Entry[T] {
	data, found, err := e.store.Get(ctx, key)
	if err != nil {
		e.degraded("get", namespace, err)
		cacheLookups.WithLabelValues(namespace, "error").Inc()
		return Miss[T]()
	}
	if !found {
		cacheLookups.WithLabelValues(namespace, "miss").Inc()
		return Miss[T]()
	}
	entry, err := decode[T](e.codec, data)
	if err != nil {
		e.logger.Debug("undecodable entry %s treated as a miss: %s", key, err)
	}
	if entry.Hit() {
		cacheLookups.WithLabelValues(namespace, "hit").Inc()
	} else {
		cacheLookups.WithLabelValues(namespace, "miss").Inc()
	}
	return entry
}

// WrapJSON returns the cached value for fingerprint in namespace, or calls
// compute, stores its result for ttl and returns it.
//
// The only error returned is compute's own; compute errors are not cached.
// Store failures and values that cannot be serialised degrade to computing
// fresh. Concurrent misses of the same key each call compute; use a Flight
// above the engine when that matters.
func WrapJSON[T any](ctx context.Context, e *Engine, namespace string, fingerprint any, ttl time.Duration, compute func(ctx context.Context) (T, error)) (T, error) {
	key, err := e.BuildKey(ctx, namespace, fingerprint)
	if err != nil {
		e.degraded("version lookup", namespace, err)
		cacheLookups.WithLabelValues(namespace, "error").Inc()
		return compute(ctx)
	}
	if entry := lookup[T](ctx, e, namespace, key); entry.Hit() {
		return entry.Value(), nil
	}
	val, err := compute(ctx)
	if err != nil {
		return val, err
	}
	data, err := encode(e.codec, val)
	if err != nil {
		cacheEncodeFailures.WithLabelValues(namespace).Inc()
		e.logger.Warn("value for %s is not serialisable with %s, not cached: %s", key, e.codec.Name(), err)
		return val, nil
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := e.store.Set(ctx, key, data, ttl); err != nil {
		e.degraded("set", namespace, err)
	}
	return val, nil
}

// Peek returns the entry cached for fingerprint without computing or writing
// anything. It is meant for serving stale data to rate limited clients.
func Peek[T any](ctx context.Context, e *Engine, namespace string, fingerprint any) Entry[T] {
	key, err := e.BuildKey(ctx, namespace, fingerprint)
	if err != nil {
		e.degraded("version lookup", namespace, err)
		return Miss[T]()
	}
	return lookup[T](ctx, e, namespace, key)
}
