package store

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
)

// MemoryScheme selects the process-local store, for single-process development.
const MemoryScheme = "memory://"

// Connect resolves the store for the process. A memory:// url yields the
// in-memory store, which lives until ctx is done. An empty url, an unparsable
// url or a server that does not answer PING within the dial timeout yields the
// no-op fallback; none of these are errors. There is no reconnect loop.
func Connect(ctx context.Context, url string, opts ...Option) Store {
	cfg := applyOptions(opts)
	log := cfg.logger.WithPrefix("[store]")
	url = strings.TrimSpace(url)
	if url == "" {
		log.Info("no redis url configured, caching and rate limiting are disabled")
		return NewNoop()
	}
	if strings.HasPrefix(url, MemoryScheme) {
		log.Info("using the in-memory store, limits are not shared between processes")
		return NewInMemory(ctx, opts...)
	}
	ropts, err := redis.ParseURL(url)
	if err != nil {
		log.Warn("invalid redis url, caching and rate limiting are disabled: %s", err)
		return NewNoop()
	}
	ropts.DialTimeout = cfg.dialTimeout
	ropts.ReadTimeout = cfg.queryTimeout
	ropts.WriteTimeout = cfg.queryTimeout
	client := redis.NewClient(ropts)

	pctx, cancel := context.WithTimeout(ctx, cfg.dialTimeout)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		log.Warn("redis at %s is unreachable, caching and rate limiting are disabled: %s", ropts.Addr, err)
		client.Close()
		return NewNoop()
	}
	log.Info("connected to redis at %s", ropts.Addr)
	return NewRedis(client, opts...)
}
