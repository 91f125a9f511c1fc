package guard

import (
	"net/http"
	"strconv"

	"github.com/agentuity/go-guard/ratelimit"
)

const (
	HeaderRateLimited        = "x-rate-limited"
	HeaderCache              = "x-cache"
	HeaderRetryAfter         = "retry-after"
	HeaderRateLimitLimit     = "x-ratelimit-limit"
	HeaderRateLimitRemaining = "x-ratelimit-remaining"
	HeaderRateLimitReset     = "x-ratelimit-reset"
)

// SetRateLimitHeaders describes res on any response.
func SetRateLimitHeaders(h http.Header, res ratelimit.Result) {
	h.Set(HeaderRateLimitLimit, strconv.FormatInt(res.Limit, 10))
	h.Set(HeaderRateLimitRemaining, strconv.FormatInt(res.Remaining, 10))
	h.Set(HeaderRateLimitReset, strconv.FormatInt(res.ResetSeconds(), 10))
}

// SetStaleHeaders marks a response served from cache to a rate limited client.
func SetStaleHeaders(h http.Header, res ratelimit.Result) {
	h.Set(HeaderRateLimited, "1")
	h.Set(HeaderCache, "hit")
	h.Set(HeaderRetryAfter, strconv.FormatInt(res.ResetSeconds(), 10))
}
