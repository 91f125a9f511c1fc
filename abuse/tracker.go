// Package abuse keeps a bounded leaderboard of clients that tripped rate
// limits or other protections.
//
// Every identifier (usually an IP address) has a score in the sorted set
// "abuse:scores" and a detail hash "abuse:detail:<id>" holding the last time
// it was seen and per-bucket ("b:<bucket>") and per-kind ("k:<kind>")
// counters. The sorted set is trimmed to the highest scoring identifiers after
// each write and detail hashes expire on their own, so an identifier can be
// listed with empty counts once its detail is gone.
package abuse

import (
	"context"
	"strconv"
	"time"

	"github.com/agentuity/go-guard/logger"
	"github.com/agentuity/go-guard/store"
	"golang.org/x/sync/errgroup"
)

const (
	scoresKey    = "abuse:scores"
	detailPrefix = "abuse:detail:"

	lastSeenField = "lastSeen"
	bucketPrefix  = "b:"
	kindPrefix    = "k:"

	// DefaultCap is the number of identifiers kept in the leaderboard.
	DefaultCap = 5000
	// DefaultDetailTTL is how long a detail hash survives without new offenses.
	DefaultDetailTTL = 30 * 24 * time.Hour
	// DefaultListLimit is used by List when limit <= 0.
	DefaultListLimit = 100
	// MaxListLimit bounds the number of entries List returns.
	MaxListLimit = 1000

	detailConcurrency = 16
)

func detailKey(id string) string {
	return detailPrefix + id
}

// Offense is one suspicious event.
type Offense struct {
	ID     string
	Bucket string
	Kind   string
}

// Suspect is one leaderboard entry.
type Suspect struct {
	ID       string           `json:"id"`
	Score    int64            `json:"score"`
	LastSeen time.Time        `json:"lastSeen"`
	Counts   map[string]int64 `json:"counts"`
}

// Tracker records offenses and lists the worst offenders.
type Tracker struct {
	store     store.Store
	cap       int64
	detailTTL time.Duration
	maxList   int
	now       func() time.Time
	logger    logger.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithCap sets the number of identifiers kept in the leaderboard.
func WithCap(n int64) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.cap = n
		}
	}
}

// WithDetailTTL sets the retention of detail hashes.
func WithDetailTTL(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.detailTTL = d
		}
	}
}

// WithMaxList lowers the hard maximum of List below MaxListLimit.
func WithMaxList(n int) Option {
	return func(t *Tracker) {
		if n > 0 && n < MaxListLimit {
			t.maxList = n
		}
	}
}

// WithClock sets the time source used for lastSeen.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTracker returns a Tracker over s.
func NewTracker(s store.Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:     s,
		cap:       DefaultCap,
		detailTTL: DefaultDetailTTL,
		maxList:   MaxListLimit,
		now:       time.Now,
		logger:    logger.NewConsoleLogger(logger.LevelNone),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.WithPrefix("[abuse]")
	return t
}

// Enabled reports whether offenses are actually recorded.
func (t *Tracker) Enabled() bool {
	return t.store.Enabled()
}

func (t *Tracker) failed(op string, err error) {
	if store.IsDisabled(err) {
		return
	}
	t.logger.Warn("%s failed: %s", op, err)
}

// Record adds one offense for o.ID. The score update, the detail update and
// the trim of the leaderboard to its cap are sent in one batch, so concurrent
// offenses never trim below the cap. Failures are logged, never returned.
func (t *Tracker) Record(ctx context.Context, o Offense) {
	if o.ID == "" {
		return
	}
	detail := detailKey(o.ID)
	b := t.store.Batch()
	b.ZIncrBy(scoresKey, o.ID, 1)
	b.HSet(detail, map[string]string{lastSeenField: strconv.FormatInt(t.now().UnixMilli(), 10)})
	b.HIncrBy(detail, bucketPrefix+o.Bucket, 1)
	b.HIncrBy(detail, kindPrefix+o.Kind, 1)
	b.Expire(detail, t.detailTTL)
	trimmed := b.ZKeepTop(scoresKey, t.cap)
	if err := b.Exec(ctx); err != nil {
		t.failed("record of "+o.ID, err)
		return
	}
	offenses.WithLabelValues(o.Bucket, o.Kind).Inc()

	if n, err := trimmed.Result(); err == nil && n > 0 {
		trims.Add(float64(n))
		t.logger.Debug("trimmed %d identifiers from the leaderboard", n)
	}
}

// List returns up to limit identifiers by descending score. limit <= 0 means
// DefaultListLimit and it is capped at MaxListLimit. An identifier whose
// detail cannot be read is returned with empty counts.
func (t *Tracker) List(ctx context.Context, limit int) []Suspect {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > t.maxList {
		limit = t.maxList
	}
	top, err := t.store.ZRevRangeWithScores(ctx, scoresKey, 0, int64(limit-1))
	if err != nil {
		t.failed("leaderboard read", err)
		return []Suspect{}
	}
	suspects := make([]Suspect, len(top))
	var g errgroup.Group
	g.SetLimit(detailConcurrency)
	for i, m := range top {
		suspects[i] = Suspect{ID: m.Member, Score: int64(m.Score), Counts: map[string]int64{}}
		g.Go(func() error {
			fields, err := t.store.HGetAll(ctx, detailKey(m.Member))
			if err != nil {
				t.failed("detail of "+m.Member, err)
				return nil
			}
			suspects[i].LastSeen, suspects[i].Counts = flatten(fields)
			return nil
		})
	}
	_ = g.Wait()
	return suspects
}

func flatten(fields map[string]string) (time.Time, map[string]int64) {
	var lastSeen time.Time
	counts := make(map[string]int64, len(fields))
	for k, v := range fields {
		if k == lastSeenField {
			if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
				lastSeen = time.UnixMilli(ms)
			}
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		counts[k] = n
	}
	return lastSeen, counts
}
