// Package store is the capability layer over the external key-value store
// shared by the cache, rate limiter and abuse tracker. Implementations exist
// for Redis, for process-local memory and as a no-op fallback used when no
// store is reachable.
package store

import (
	"context"
	"time"

	"github.com/agentuity/go-guard/logger"
	"github.com/agentuity/go-guard/resilience"
	"github.com/cockroachdb/errors"
)

var (
	// ErrDisabled is returned by every operation of the no-op store.
	ErrDisabled = errors.New("store: disabled")
	// ErrWrongType is returned when an operation targets a key holding another kind of value.
	ErrWrongType = errors.New("store: operation against a key holding the wrong kind of value")
	// ErrNotExecuted is returned when a deferred batch result is read before Exec.
	ErrNotExecuted = errors.New("store: batch not executed")
)

// ScoredMember is one sorted set entry.
type ScoredMember struct {
	Member string
	Score  float64
}

// Store is the set of atomic primitives the subsystem relies on. Every method
// must be safe for concurrent use; no caller ever reads then writes the same
// key non-atomically.
type Store interface {
	// Enabled reports whether the store is backed by a reachable server.
	Enabled() bool

	// Get returns the string value of key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key. A ttl <= 0 stores without expiry.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	// SetNX stores value only if key does not exist and reports whether it did.
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	// Incr atomically increments the integer at key, creating it at 0 first.
	Incr(ctx context.Context, key string) (int64, error)
	// Expire sets the ttl of key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// TTL returns the remaining time to live. A negative value means the key
	// has no expiry or does not exist.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// ZIncrBy adds delta to member's score and returns the new score.
	ZIncrBy(ctx context.Context, set string, member string, delta float64) (float64, error)
	// ZRevRangeWithScores returns members by descending score, ranks start..stop inclusive.
	ZRevRangeWithScores(ctx context.Context, set string, start, stop int64) ([]ScoredMember, error)
	// ZCard returns the number of members of set.
	ZCard(ctx context.Context, set string) (int64, error)
	// ZKeepTop removes every member of set except the keep highest-scoring
	// ones and returns how many were removed. Repeating it is harmless.
	ZKeepTop(ctx context.Context, set string, keep int64) (int64, error)

	// HSet sets the given hash fields.
	HSet(ctx context.Context, key string, fields map[string]string) error
	// HIncrBy atomically increments a hash field.
	HIncrBy(ctx context.Context, key string, field string, delta int64) (int64, error)
	// HGetAll returns every field of the hash, empty if it does not exist.
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// Batch starts a pipeline of writes sent in a single round trip.
	Batch() Batch
}

// BreakerReporter is implemented by stores that guard round trips with a
// circuit breaker.
type BreakerReporter interface {
	BreakerStats() resilience.CircuitBreakerStats
}

// Batch queues commands and sends them together on Exec. It is not a
// transaction: one failing command does not undo the others.
type Batch interface {
	ZIncrBy(set string, member string, delta float64)
	HSet(key string, fields map[string]string)
	HIncrBy(key string, field string, delta int64)
	Expire(key string, ttl time.Duration)
	ZKeepTop(set string, keep int64) *IntResult
	// Exec sends the queued commands and returns the first error, if any.
	Exec(ctx context.Context) error
}

// IntResult is the deferred result of a batched integer command.
type IntResult struct {
	get func() (int64, error)
}

// Result returns the value once the batch has been executed.
func (r *IntResult) Result() (int64, error) {
	if r == nil || r.get == nil {
		return 0, ErrNotExecuted
	}
	return r.get()
}

// DefaultQueryTimeout is the per-operation timeout for the Redis backend.
const DefaultQueryTimeout = 500 * time.Millisecond

// DefaultDialTimeout bounds the startup PING issued by Connect.
const DefaultDialTimeout = 2 * time.Second

// config holds the resolved configuration for a Store implementation.
type config struct {
	queryTimeout time.Duration
	dialTimeout  time.Duration
	expiryCheck  time.Duration
	prefix       string
	breaker      *resilience.CircuitBreakerConfig
	logger       logger.Logger
	now          func() time.Time
	shards       int
}

// Option configures a Store implementation.
type Option func(*config)

func defaultConfig() config {
	return config{
		queryTimeout: DefaultQueryTimeout,
		dialTimeout:  DefaultDialTimeout,
		expiryCheck:  time.Minute,
		logger:       logger.NewConsoleLogger(logger.LevelNone),
		now:          time.Now,
		shards:       32,
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithQueryTimeout sets the per-operation timeout of the Redis backend.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.queryTimeout = d
		}
	}
}

// WithDialTimeout bounds the connectivity check performed by Connect.
func WithDialTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// WithExpiryCheck sets the interval of the in-memory background sweep. Defaults to 1 minute.
func WithExpiryCheck(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.expiryCheck = d
		}
	}
}

// WithPrefix namespaces every key. Applies to the Redis backend.
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}

// WithBreaker overrides the circuit breaker guarding Redis round trips.
func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(c *config) { c.breaker = &cfg }
}

// WithLogger sets the logger used to report store failures.
func WithLogger(l logger.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock replaces the time source of the in-memory backend.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// IsDisabled reports whether err comes from the no-op fallback. Such errors
// are expected and should not be logged.
func IsDisabled(err error) bool {
	return errors.Is(err, ErrDisabled)
}
