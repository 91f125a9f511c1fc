package store

import (
	"context"
	"time"

	"github.com/agentuity/go-guard/logger"
	"github.com/agentuity/go-guard/resilience"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	client  redis.UniversalClient
	cfg     config
	breaker *resilience.CircuitBreaker
	logger  logger.Logger
}

var _ Store = (*redisStore)(nil)

// NewRedis returns a Store backed by Redis.
// The caller owns the redis client lifecycle.
func NewRedis(client redis.UniversalClient, opts ...Option) Store {
	cfg := applyOptions(opts)
	s := &redisStore{
		client: client,
		cfg:    cfg,
		logger: cfg.logger.WithPrefix("[store]"),
	}
	bcfg := resilience.DefaultCircuitBreakerConfig()
	if cfg.breaker != nil {
		bcfg = *cfg.breaker
	}
	hook := bcfg.OnStateChange
	bcfg.OnStateChange = func(from, to resilience.CircuitBreakerState) {
		breakerState.Set(float64(to))
		if to == resilience.StateOpen {
			s.logger.Warn("redis circuit opened after repeated failures")
		} else {
			s.logger.Info("redis circuit %s -> %s", from, to)
		}
		if hook != nil {
			hook(from, to)
		}
	}
	s.breaker = resilience.NewCircuitBreaker(bcfg)
	return s
}

func (s *redisStore) Enabled() bool { return true }

func (s *redisStore) BreakerStats() resilience.CircuitBreakerStats {
	return s.breaker.Stats()
}

func (s *redisStore) key(k string) string {
	if s.cfg.prefix == "" {
		return k
	}
	return s.cfg.prefix + ":" + k
}

// do runs one round trip with the query timeout through the circuit breaker.
// The caller's cancellation is detached so an abandoned request still lets the
// call finish or time out on its own.
func (s *redisStore) do(ctx context.Context, op string, key string, fn func(ctx context.Context) error) error {
	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.queryTimeout)
	defer cancel()
	err := s.breaker.Execute(qctx, fn)
	if err != nil {
		storeOperations.WithLabelValues(op, "error").Inc()
		return errors.Wrapf(err, "store: %s %q", op, key)
	}
	storeOperations.WithLabelValues(op, "ok").Inc()
	return nil
}

func (s *redisStore) Get(ctx context.Context, key string) (string, bool, error) {
	var val string
	var found bool
	err := s.do(ctx, "get", key, func(ctx context.Context) error {
		v, err := s.client.Get(ctx, s.key(key)).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		val, found = v, true
		return nil
	})
	return val, found, err
}

func (s *redisStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return s.do(ctx, "set", key, func(ctx context.Context) error {
		return s.client.Set(ctx, s.key(key), value, ttl).Err()
	})
}

func (s *redisStore) SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	var ok bool
	err := s.do(ctx, "setnx", key, func(ctx context.Context) error {
		var err error
		ok, err = s.client.SetNX(ctx, s.key(key), value, ttl).Result()
		return err
	})
	return ok, err
}

func (s *redisStore) Incr(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.do(ctx, "incr", key, func(ctx context.Context) error {
		var err error
		n, err = s.client.Incr(ctx, s.key(key)).Result()
		return err
	})
	return n, err
}

func (s *redisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.do(ctx, "expire", key, func(ctx context.Context) error {
		return s.client.Expire(ctx, s.key(key), ttl).Err()
	})
}

func (s *redisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	var ttl time.Duration
	err := s.do(ctx, "ttl", key, func(ctx context.Context) error {
		var err error
		ttl, err = s.client.TTL(ctx, s.key(key)).Result()
		return err
	})
	if err != nil {
		return 0, err
	}
	// go-redis reports -1 (no expiry) and -2 (missing) unscaled
	if ttl < 0 {
		return -1, nil
	}
	return ttl, nil
}

func (s *redisStore) ZIncrBy(ctx context.Context, set string, member string, delta float64) (float64, error) {
	var score float64
	err := s.do(ctx, "zincrby", set, func(ctx context.Context) error {
		var err error
		score, err = s.client.ZIncrBy(ctx, s.key(set), delta, member).Result()
		return err
	})
	return score, err
}

func (s *redisStore) ZRevRangeWithScores(ctx context.Context, set string, start, stop int64) ([]ScoredMember, error) {
	var out []ScoredMember
	err := s.do(ctx, "zrevrange", set, func(ctx context.Context) error {
		zs, err := s.client.ZRevRangeWithScores(ctx, s.key(set), start, stop).Result()
		if err != nil {
			return err
		}
		out = make([]ScoredMember, 0, len(zs))
		for _, z := range zs {
			member, ok := z.Member.(string)
			if !ok {
				continue
			}
			out = append(out, ScoredMember{Member: member, Score: z.Score})
		}
		return nil
	})
	return out, err
}

func (s *redisStore) ZCard(ctx context.Context, set string) (int64, error) {
	var n int64
	err := s.do(ctx, "zcard", set, func(ctx context.Context) error {
		var err error
		n, err = s.client.ZCard(ctx, s.key(set)).Result()
		return err
	})
	return n, err
}

func (s *redisStore) ZKeepTop(ctx context.Context, set string, keep int64) (int64, error) {
	if keep < 0 {
		return 0, nil
	}
	var n int64
	err := s.do(ctx, "zremrangebyrank", set, func(ctx context.Context) error {
		var err error
		n, err = s.client.ZRemRangeByRank(ctx, s.key(set), 0, -(keep + 1)).Result()
		return err
	})
	return n, err
}

func (s *redisStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	return s.do(ctx, "hset", key, func(ctx context.Context) error {
		return s.client.HSet(ctx, s.key(key), pairs(fields)...).Err()
	})
}

func (s *redisStore) HIncrBy(ctx context.Context, key string, field string, delta int64) (int64, error) {
	var n int64
	err := s.do(ctx, "hincrby", key, func(ctx context.Context) error {
		var err error
		n, err = s.client.HIncrBy(ctx, s.key(key), field, delta).Result()
		return err
	})
	return n, err
}

func (s *redisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	var out map[string]string
	err := s.do(ctx, "hgetall", key, func(ctx context.Context) error {
		var err error
		out, err = s.client.HGetAll(ctx, s.key(key)).Result()
		return err
	})
	return out, err
}

func (s *redisStore) Batch() Batch {
	return &redisBatch{store: s, pipe: s.client.Pipeline()}
}

func pairs(fields map[string]string) []interface{} {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}

// redisBatch queues commands on a go-redis pipeline. Commands are built with
// a background context; the real deadline is applied on Exec.
type redisBatch struct {
	store    *redisStore
	pipe     redis.Pipeliner
	keys     []string
	executed bool
}

func (b *redisBatch) ZIncrBy(set string, member string, delta float64) {
	b.keys = append(b.keys, set)
	b.pipe.ZIncrBy(context.Background(), b.store.key(set), delta, member)
}

func (b *redisBatch) HSet(key string, fields map[string]string) {
	if len(fields) == 0 {
		return
	}
	b.keys = append(b.keys, key)
	b.pipe.HSet(context.Background(), b.store.key(key), pairs(fields)...)
}

func (b *redisBatch) HIncrBy(key string, field string, delta int64) {
	b.keys = append(b.keys, key)
	b.pipe.HIncrBy(context.Background(), b.store.key(key), field, delta)
}

func (b *redisBatch) Expire(key string, ttl time.Duration) {
	b.keys = append(b.keys, key)
	b.pipe.Expire(context.Background(), b.store.key(key), ttl)
}

func (b *redisBatch) ZKeepTop(set string, keep int64) *IntResult {
	if keep < 0 {
		return &IntResult{get: func() (int64, error) { return 0, nil }}
	}
	b.keys = append(b.keys, set)
	cmd := b.pipe.ZRemRangeByRank(context.Background(), b.store.key(set), 0, -(keep + 1))
	return &IntResult{get: func() (int64, error) {
		if !b.executed {
			return 0, ErrNotExecuted
		}
		return cmd.Result()
	}}
}

func (b *redisBatch) Exec(ctx context.Context) error {
	b.executed = true
	if b.pipe.Len() == 0 {
		return nil
	}
	label := "batch"
	if len(b.keys) > 0 {
		label = b.keys[0]
	}
	return b.store.do(ctx, "pipeline", label, func(ctx context.Context) error {
		_, err := b.pipe.Exec(ctx)
		return err
	})
}
