package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// Flight collapses concurrent misses of the same namespace and fingerprint
// into a single WrapJSON call. It sits above the Engine and is opt-in for
// callers whose compute functions are expensive.
type Flight struct {
	group singleflight.Group
}

// NewFlight returns an empty Flight.
func NewFlight() *Flight {
	return &Flight{}
}

// Coalesce behaves like WrapJSON but shares one in-flight computation between
// concurrent callers. The context and compute of the first caller are used.
func Coalesce[T any](ctx context.Context, f *Flight, e *Engine, namespace string, fingerprint any, ttl time.Duration, compute func(ctx context.Context) (T, error)) (T, error) {
	key := namespace + ":" + Fingerprint(fingerprint)
	v, err, _ := f.group.Do(key, func() (any, error) {
		return WrapJSON(ctx, e, namespace, fingerprint, ttl, compute)
	})
	val, _ := v.(T)
	return val, err
}
