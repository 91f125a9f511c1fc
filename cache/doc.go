// Package cache provides a versioned cache-aside engine on top of a
// [store.Store].
//
// # Keys and Versions
//
// Every namespace (for example "posts", "search" or "tags") owns a version
// counter stored under "ver:<namespace>". The counter is created lazily at 1
// with an atomic SETNX on first read and only ever grows. [Engine.Bump]
// increments it, which invalidates every entry of the namespace in O(1):
// nothing is enumerated or deleted, entries built under the old version simply
// become unreachable and expire through their TTL.
//
// A cache key is built from the namespace, its current version and a request
// fingerprint:
//
//	posts:v3:5d41402abc4b2a76
//
// The fingerprint is any value describing the request shape (query arguments,
// a slug, ...). [Canonical] serialises it to JSON with sorted object keys so
// structurally equal fingerprints always produce the same key, and
// [Fingerprint] keeps the first 16 hex characters of its SHA-256 digest to
// bound key length. Values that cannot be encoded as JSON fall back to their
// %v representation.
//
// # Cache-Aside
//
// [WrapJSON] is the get-or-compute-and-store primitive:
//
//	post, err := cache.WrapJSON(ctx, engine, "posts", map[string]any{"slug": slug}, time.Minute,
//		func(ctx context.Context) (*Post, error) {
//			return db.LoadPost(ctx, slug)
//		})
//
// On a hit the stored value is returned and compute is not called. On a miss
// compute runs, its result is wrapped in an envelope ({"tag":1,"value":...})
// and stored with the TTL. The envelope keeps a cached nil distinguishable
// from a missing entry; lookups are reported as an [Entry], which is either a
// hit carrying a value or a miss.
//
// [Peek] is the read-only variant used to serve stale data to clients that
// have been rate limited. It never computes and never writes.
//
// # Failure Model
//
// The engine never returns store errors. A failing or disabled store turns
// every call into a plain call of compute, and a value that cannot be
// serialised is returned without being cached. Failures are logged (except
// those of the no-op store, which are expected) and counted in Prometheus.
//
// # Concurrency
//
// The engine keeps no in-process state besides configuration. Concurrent
// misses of the same key all run compute and the last write wins. Callers
// with expensive compute functions can put a [Flight] in front of the engine
// with [Coalesce], which shares one in-flight computation per namespace and
// fingerprint.
//
// # Serialisation
//
// Entries are JSON by default. [WithCodec] with [Msgpack] stores the same
// envelope using github.com/vmihailenco/msgpack/v5. Both sides of a deployment
// must use the same codec; an entry that does not decode is treated as a miss.
package cache
