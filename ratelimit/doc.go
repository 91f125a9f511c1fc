// Package ratelimit implements a fixed-window request counter on top of a
// [store.Store].
//
// Each (bucket, key) pair owns a counter stored under "rl:<bucket>:<key>".
// The first hit of a window creates the counter with INCR and sets its expiry
// to the window length; later hits only increment it. When the expiry passes
// the counter disappears and the next hit starts a fresh window. Bursts of up
// to twice the limit are possible across a window boundary.
//
// Callers usually check a per-client bucket and a global bucket for the same
// operation and reject when either is exhausted:
//
//	res := limiter.AllowAll(ctx,
//		ratelimit.Request{Bucket: "search", Key: ip, Limit: 30, Window: time.Minute},
//		ratelimit.Request{Bucket: "search", Key: "global", Limit: 600, Window: time.Minute},
//	)
//	if !res.Allowed {
//		w.Header().Set("retry-after", strconv.FormatInt(res.ResetSeconds(), 10))
//	}
//
// A store failure allows the request. Rate limiting is protection, not a
// correctness requirement.
package ratelimit
