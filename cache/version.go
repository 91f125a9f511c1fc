package cache

import (
	"context"
	"strconv"

	"github.com/agentuity/go-guard/store"
	"github.com/cockroachdb/errors"
)

// versionKey is the store key holding the version counter of a namespace.
func versionKey(namespace string) string {
	return "ver:" + namespace
}

// Versions reads and bumps per-namespace version counters. A counter starts
// at 1 and only ever increases.
type Versions struct {
	store store.Store
}

// NewVersions returns a Versions bound to s.
func NewVersions(s store.Store) *Versions {
	return &Versions{store: s}
}

// Get returns the current version of namespace, initialising it to 1 on first use.
func (v *Versions) Get(ctx context.Context, namespace string) (int64, error) {
	key := versionKey(namespace)
	for attempt := 0; attempt < 2; attempt++ {
		val, found, err := v.store.Get(ctx, key)
		if err != nil {
			return 0, err
		}
		if found {
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil || n < 1 {
				return 0, errors.Newf("cache: corrupt version %q for namespace %q", val, namespace)
			}
			return n, nil
		}
		ok, err := v.store.SetNX(ctx, key, "1", 0)
		if err != nil {
			return 0, err
		}
		if ok {
			return 1, nil
		}
		// lost the initialisation race, read the winner's value
	}
	return 0, errors.Newf("cache: version for namespace %q vanished during initialisation", namespace)
}

// Bump atomically increments the version of namespace and returns the new
// value. A namespace that was never read starts from 1, so its first bump returns 2.
func (v *Versions) Bump(ctx context.Context, namespace string) (int64, error) {
	key := versionKey(namespace)
	if _, err := v.store.SetNX(ctx, key, "1", 0); err != nil {
		return 0, err
	}
	return v.store.Incr(ctx, key)
}
