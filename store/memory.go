package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

type kind int

const (
	kindString kind = iota
	kindZSet
	kindHash
)

type item struct {
	kind    kind
	str     string
	zset    map[string]float64
	hash    map[string]string
	expires time.Time
}

func (i *item) expired(now time.Time) bool {
	return !i.expires.IsZero() && !now.Before(i.expires)
}

type shard struct {
	mu    sync.Mutex
	items map[string]*item
}

// Memory is a process-local Store with the same semantics as the Redis
// backend. Keys are spread over mutex-guarded shards; expired entries are
// dropped lazily on access and by a background sweep.
type Memory struct {
	ctx       context.Context
	cancel    context.CancelFunc
	shards    []*shard
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config
}

var _ Store = (*Memory)(nil)

// NewInMemory returns a new in-memory Store. Close stops the background sweep.
func NewInMemory(parent context.Context, opts ...Option) *Memory {
	cfg := applyOptions(opts)
	ctx, cancel := context.WithCancel(parent)
	m := &Memory{
		ctx:    ctx,
		cancel: cancel,
		shards: make([]*shard, cfg.shards),
		cfg:    cfg,
	}
	for i := range m.shards {
		m.shards[i] = &shard{items: make(map[string]*item)}
	}
	m.waitGroup.Add(1)
	go m.run()
	return m
}

func (m *Memory) Enabled() bool { return true }

// Close stops the background sweep.
func (m *Memory) Close() error {
	m.once.Do(func() {
		m.cancel()
		m.waitGroup.Wait()
	})
	return nil
}

func (m *Memory) run() {
	defer m.waitGroup.Done()
	ticker := time.NewTicker(m.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			now := m.cfg.now()
			for _, sh := range m.shards {
				sh.mu.Lock()
				for key, it := range sh.items {
					if it.expired(now) {
						delete(sh.items, key)
					}
				}
				sh.mu.Unlock()
			}
		}
	}
}

func (m *Memory) shard(key string) *shard {
	return m.shards[xxhash.Sum64String(key)%uint64(len(m.shards))]
}

// with runs fn holding the lock of key's shard. fn receives the live item or nil.
func (m *Memory) with(key string, fn func(sh *shard, it *item, now time.Time) error) error {
	sh := m.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	now := m.cfg.now()
	it, ok := sh.items[key]
	if ok && it.expired(now) {
		delete(sh.items, key)
		it = nil
	}
	return fn(sh, it, now)
}

func expiresAt(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	var val string
	var found bool
	err := m.with(key, func(_ *shard, it *item, _ time.Time) error {
		if it == nil {
			return nil
		}
		if it.kind != kindString {
			return ErrWrongType
		}
		val, found = it.str, true
		return nil
	})
	return val, found, err
}

func (m *Memory) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	return m.with(key, func(sh *shard, _ *item, now time.Time) error {
		sh.items[key] = &item{kind: kindString, str: value, expires: expiresAt(now, ttl)}
		return nil
	})
}

func (m *Memory) SetNX(_ context.Context, key string, value string, ttl time.Duration) (bool, error) {
	var ok bool
	err := m.with(key, func(sh *shard, it *item, now time.Time) error {
		if it != nil {
			return nil
		}
		sh.items[key] = &item{kind: kindString, str: value, expires: expiresAt(now, ttl)}
		ok = true
		return nil
	})
	return ok, err
}

func (m *Memory) Incr(_ context.Context, key string) (int64, error) {
	var n int64
	err := m.with(key, func(sh *shard, it *item, _ time.Time) error {
		if it == nil {
			it = &item{kind: kindString, str: "0"}
			sh.items[key] = it
		}
		if it.kind != kindString {
			return ErrWrongType
		}
		cur, err := strconv.ParseInt(it.str, 10, 64)
		if err != nil {
			return errors.Newf("store: value of %q is not an integer", key)
		}
		n = cur + 1
		it.str = strconv.FormatInt(n, 10)
		return nil
	})
	return n, err
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	return m.with(key, func(sh *shard, it *item, now time.Time) error {
		if it == nil {
			return nil
		}
		if ttl <= 0 {
			delete(sh.items, key)
			return nil
		}
		it.expires = now.Add(ttl)
		return nil
	})
}

func (m *Memory) TTL(_ context.Context, key string) (time.Duration, error) {
	ttl := time.Duration(-1)
	err := m.with(key, func(_ *shard, it *item, now time.Time) error {
		if it != nil && !it.expires.IsZero() {
			ttl = it.expires.Sub(now)
		}
		return nil
	})
	return ttl, err
}

func (m *Memory) ZIncrBy(_ context.Context, set string, member string, delta float64) (float64, error) {
	var score float64
	err := m.with(set, func(sh *shard, it *item, _ time.Time) error {
		if it == nil {
			it = &item{kind: kindZSet, zset: make(map[string]float64)}
			sh.items[set] = it
		}
		if it.kind != kindZSet {
			return ErrWrongType
		}
		it.zset[member] += delta
		score = it.zset[member]
		return nil
	})
	return score, err
}

// sortedMembers orders ascending by score, ties broken by member like Redis.
func sortedMembers(zset map[string]float64) []ScoredMember {
	out := make([]ScoredMember, 0, len(zset))
	for member, score := range zset {
		out = append(out, ScoredMember{Member: member, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].Member < out[j].Member
	})
	return out
}

// rankRange resolves Redis style inclusive start/stop indexes against n.
func rankRange(start, stop, n int64) (int64, int64, bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop, true
}

func (m *Memory) ZRevRangeWithScores(_ context.Context, set string, start, stop int64) ([]ScoredMember, error) {
	var out []ScoredMember
	err := m.with(set, func(_ *shard, it *item, _ time.Time) error {
		if it == nil {
			return nil
		}
		if it.kind != kindZSet {
			return ErrWrongType
		}
		members := sortedMembers(it.zset)
		for i, j := 0, len(members)-1; i < j; i, j = i+1, j-1 {
			members[i], members[j] = members[j], members[i]
		}
		from, to, ok := rankRange(start, stop, int64(len(members)))
		if !ok {
			return nil
		}
		out = append([]ScoredMember(nil), members[from:to+1]...)
		return nil
	})
	return out, err
}

func (m *Memory) ZCard(_ context.Context, set string) (int64, error) {
	var n int64
	err := m.with(set, func(_ *shard, it *item, _ time.Time) error {
		if it == nil {
			return nil
		}
		if it.kind != kindZSet {
			return ErrWrongType
		}
		n = int64(len(it.zset))
		return nil
	})
	return n, err
}

func (m *Memory) ZKeepTop(_ context.Context, set string, keep int64) (int64, error) {
	if keep < 0 {
		return 0, nil
	}
	var removed int64
	err := m.with(set, func(sh *shard, it *item, _ time.Time) error {
		if it == nil {
			return nil
		}
		if it.kind != kindZSet {
			return ErrWrongType
		}
		if int64(len(it.zset)) <= keep {
			return nil
		}
		members := sortedMembers(it.zset)
		from, to, ok := rankRange(0, -(keep + 1), int64(len(members)))
		if !ok {
			return nil
		}
		for _, sm := range members[from : to+1] {
			delete(it.zset, sm.Member)
			removed++
		}
		if len(it.zset) == 0 {
			delete(sh.items, set)
		}
		return nil
	})
	return removed, err
}

func (m *Memory) hash(sh *shard, it *item, key string) (*item, error) {
	if it == nil {
		it = &item{kind: kindHash, hash: make(map[string]string)}
		sh.items[key] = it
	}
	if it.kind != kindHash {
		return nil, ErrWrongType
	}
	return it, nil
}

func (m *Memory) HSet(_ context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	return m.with(key, func(sh *shard, it *item, _ time.Time) error {
		it, err := m.hash(sh, it, key)
		if err != nil {
			return err
		}
		for k, v := range fields {
			it.hash[k] = v
		}
		return nil
	})
}

func (m *Memory) HIncrBy(_ context.Context, key string, field string, delta int64) (int64, error) {
	var n int64
	err := m.with(key, func(sh *shard, it *item, _ time.Time) error {
		it, err := m.hash(sh, it, key)
		if err != nil {
			return err
		}
		var cur int64
		if v, ok := it.hash[field]; ok {
			if cur, err = strconv.ParseInt(v, 10, 64); err != nil {
				return errors.Newf("store: hash field %q of %q is not an integer", field, key)
			}
		}
		n = cur + delta
		it.hash[field] = strconv.FormatInt(n, 10)
		return nil
	})
	return n, err
}

func (m *Memory) HGetAll(_ context.Context, key string) (map[string]string, error) {
	out := make(map[string]string)
	err := m.with(key, func(_ *shard, it *item, _ time.Time) error {
		if it == nil {
			return nil
		}
		if it.kind != kindHash {
			return ErrWrongType
		}
		for k, v := range it.hash {
			out[k] = v
		}
		return nil
	})
	return out, err
}

func (m *Memory) Batch() Batch {
	return &memoryBatch{store: m}
}

// memoryBatch applies queued commands in order on Exec; each command takes
// its own shard lock, matching the non-transactional Redis pipeline.
type memoryBatch struct {
	store    *Memory
	ops      []func(ctx context.Context) error
	executed bool
}

func (b *memoryBatch) ZIncrBy(set string, member string, delta float64) {
	b.ops = append(b.ops, func(ctx context.Context) error {
		_, err := b.store.ZIncrBy(ctx, set, member, delta)
		return err
	})
}

func (b *memoryBatch) HSet(key string, fields map[string]string) {
	b.ops = append(b.ops, func(ctx context.Context) error {
		return b.store.HSet(ctx, key, fields)
	})
}

func (b *memoryBatch) HIncrBy(key string, field string, delta int64) {
	b.ops = append(b.ops, func(ctx context.Context) error {
		_, err := b.store.HIncrBy(ctx, key, field, delta)
		return err
	})
}

func (b *memoryBatch) Expire(key string, ttl time.Duration) {
	b.ops = append(b.ops, func(ctx context.Context) error {
		return b.store.Expire(ctx, key, ttl)
	})
}

func (b *memoryBatch) ZKeepTop(set string, keep int64) *IntResult {
	var n int64
	var cerr error
	b.ops = append(b.ops, func(ctx context.Context) error {
		n, cerr = b.store.ZKeepTop(ctx, set, keep)
		return cerr
	})
	return &IntResult{get: func() (int64, error) {
		if !b.executed {
			return 0, ErrNotExecuted
		}
		return n, cerr
	}}
}

func (b *memoryBatch) Exec(ctx context.Context) error {
	b.executed = true
	var first error
	for _, op := range b.ops {
		if err := op(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
