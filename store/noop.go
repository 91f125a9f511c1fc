package store

import (
	"context"
	"time"
)

type noopStore struct{}

var _ Store = noopStore{}

// NewNoop returns the fallback Store used when no backing store is reachable.
// It reports Enabled() == false and fails every operation with ErrDisabled,
// which callers translate into compute-fresh / allow / skip-tracking.
func NewNoop() Store {
	return noopStore{}
}

func (noopStore) Enabled() bool { return false }

func (noopStore) Get(context.Context, string) (string, bool, error) { return "", false, ErrDisabled }

func (noopStore) Set(context.Context, string, string, time.Duration) error { return ErrDisabled }

func (noopStore) SetNX(context.Context, string, string, time.Duration) (bool, error) {
	return false, ErrDisabled
}

func (noopStore) Incr(context.Context, string) (int64, error) { return 0, ErrDisabled }

func (noopStore) Expire(context.Context, string, time.Duration) error { return ErrDisabled }

func (noopStore) TTL(context.Context, string) (time.Duration, error) { return 0, ErrDisabled }

func (noopStore) ZIncrBy(context.Context, string, string, float64) (float64, error) {
	return 0, ErrDisabled
}

func (noopStore) ZRevRangeWithScores(context.Context, string, int64, int64) ([]ScoredMember, error) {
	return nil, ErrDisabled
}

func (noopStore) ZCard(context.Context, string) (int64, error) { return 0, ErrDisabled }

func (noopStore) ZKeepTop(context.Context, string, int64) (int64, error) { return 0, ErrDisabled }

func (noopStore) HSet(context.Context, string, map[string]string) error { return ErrDisabled }

func (noopStore) HIncrBy(context.Context, string, string, int64) (int64, error) {
	return 0, ErrDisabled
}

func (noopStore) HGetAll(context.Context, string) (map[string]string, error) {
	return nil, ErrDisabled
}

func (noopStore) Batch() Batch { return noopBatch{} }

type noopBatch struct{}

func (noopBatch) ZIncrBy(string, string, float64) {}
func (noopBatch) HSet(string, map[string]string) {}
func (noopBatch) HIncrBy(string, string, int64) {}
func (noopBatch) Expire(string, time.Duration) {}
func (noopBatch) Exec(context.Context) error { return ErrDisabled }
func (noopBatch) ZKeepTop(string, int64) *IntResult {
	return &IntResult{get: func() (int64, error) { return 0, ErrDisabled }}
}
