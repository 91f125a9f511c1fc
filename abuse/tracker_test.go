package abuse

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/agentuity/go-guard/logger"
	"github.com/agentuity/go-guard/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixed = time.UnixMilli(1700000000123)

func newRedisTracker(t *testing.T, opts ...Option) (*Tracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	opts = append([]Option{WithClock(func() time.Time { return fixed })}, opts...)
	return NewTracker(store.NewRedis(client, store.WithQueryTimeout(200*time.Millisecond)), opts...), mr
}

func newMemoryTracker(t *testing.T, opts ...Option) *Tracker {
	t.Helper()
	m := store.NewInMemory(context.Background())
	t.Cleanup(func() { m.Close() })
	opts = append([]Option{WithClock(func() time.Time { return fixed })}, opts...)
	return NewTracker(m, opts...)
}

func find(suspects []Suspect, id string) (Suspect, bool) {
	for _, s := range suspects {
		if s.ID == id {
			return s, true
		}
	}
	return Suspect{}, false
}

func TestRecordScenario(t *testing.T) {
	for name, tr := range map[string]*Tracker{
		"redis":  func() *Tracker { tr, _ := newRedisTracker(t); return tr }(),
		"memory": newMemoryTracker(t),
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			tr.Record(ctx, Offense{ID: "1.2.3.4", Bucket: "posts", Kind: "ip_block"})
			tr.Record(ctx, Offense{ID: "1.2.3.4", Bucket: "posts", Kind: "ip_block"})

			s, ok := find(tr.List(ctx, 10), "1.2.3.4")
			require.True(t, ok)
			assert.Equal(t, int64(2), s.Score)
			assert.Equal(t, int64(2), s.Counts["k:ip_block"])
			assert.Equal(t, int64(2), s.Counts["b:posts"])
			assert.NotContains(t, s.Counts, "lastSeen")
			assert.True(t, fixed.Equal(s.LastSeen))
		})
	}
}

func TestRecordWritesDetail(t *testing.T) {
	ctx := context.Background()
	tr, mr := newRedisTracker(t)
	tr.Record(ctx, Offense{ID: "10.0.0.1", Bucket: "search", Kind: "rate_limited"})
	tr.Record(ctx, Offense{ID: "10.0.0.1", Bucket: "posts", Kind: "rate_limited"})

	assert.Equal(t, "1700000000123", mr.HGet("abuse:detail:10.0.0.1", "lastSeen"))
	assert.Equal(t, "1", mr.HGet("abuse:detail:10.0.0.1", "b:search"))
	assert.Equal(t, "2", mr.HGet("abuse:detail:10.0.0.1", "k:rate_limited"))
	assert.Equal(t, DefaultDetailTTL, mr.TTL("abuse:detail:10.0.0.1"))
	score, err := mr.ZScore("abuse:scores", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, float64(2), score)
}

func TestListOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	tr := newMemoryTracker(t)
	for i := 1; i <= 5; i++ {
		for j := 0; j < i; j++ {
			tr.Record(ctx, Offense{ID: fmt.Sprintf("ip%d", i), Bucket: "b", Kind: "k"})
		}
	}
	list := tr.List(ctx, 3)
	require.Len(t, list, 3)
	assert.Equal(t, "ip5", list[0].ID)
	assert.Equal(t, "ip4", list[1].ID)
	assert.Equal(t, "ip3", list[2].ID)
	assert.Equal(t, int64(5), list[0].Score)

	assert.Len(t, tr.List(ctx, 0), 5)
	assert.Len(t, tr.List(ctx, -1), 5)
}

func TestListMax(t *testing.T) {
	ctx := context.Background()
	tr := newMemoryTracker(t, WithMaxList(2))
	for i := 0; i < 4; i++ {
		tr.Record(ctx, Offense{ID: fmt.Sprintf("ip%d", i), Bucket: "b", Kind: "k"})
	}
	assert.Len(t, tr.List(ctx, 100), 2)
}

func TestCap(t *testing.T) {
	ctx := context.Background()
	tr, mr := newRedisTracker(t, WithCap(10))
	// heavy hitters first so the trim drops the one-offense identifiers
	for i := 0; i < 5; i++ {
		for j := 0; j < 3; j++ {
			tr.Record(ctx, Offense{ID: fmt.Sprintf("heavy%d", i), Bucket: "b", Kind: "k"})
		}
	}
	for i := 0; i < 20; i++ {
		tr.Record(ctx, Offense{ID: fmt.Sprintf("light%02d", i), Bucket: "b", Kind: "k"})
	}

	members, err := mr.ZMembers("abuse:scores")
	require.NoError(t, err)
	assert.Len(t, members, 10)

	list := tr.List(ctx, 100)
	require.Len(t, list, 10)
	for i := 0; i < 5; i++ {
		assert.Equal(t, int64(3), list[i].Score)
		assert.Contains(t, list[i].ID, "heavy")
	}
	for _, s := range list[5:] {
		assert.Equal(t, int64(1), s.Score)
	}
}

func TestConcurrentRecordKeepsCap(t *testing.T) {
	ctx := context.Background()
	for name, tr := range map[string]*Tracker{
		"redis":  func() *Tracker { tr, _ := newRedisTracker(t, WithCap(100)); return tr }(),
		"memory": newMemoryTracker(t, WithCap(100)),
	} {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 100; i++ {
				id := fmt.Sprintf("seen%03d", i)
				tr.Record(ctx, Offense{ID: id, Bucket: "b", Kind: "k"})
				tr.Record(ctx, Offense{ID: id, Bucket: "b", Kind: "k"})
			}

			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					tr.Record(ctx, Offense{ID: fmt.Sprintf("new%02d", i), Bucket: "b", Kind: "k"})
				}(i)
			}
			wg.Wait()

			card, err := tr.store.ZCard(ctx, scoresKey)
			require.NoError(t, err)
			assert.Equal(t, int64(100), card)
			list := tr.List(ctx, 1000)
			require.Len(t, list, 100)
			for _, s := range list {
				assert.Equal(t, int64(2), s.Score)
				assert.Contains(t, s.ID, "seen")
			}
		})
	}
}

func TestDefaultCap(t *testing.T) {
	ctx := context.Background()
	tr := newMemoryTracker(t)
	for i := 0; i <= DefaultCap; i++ {
		tr.Record(ctx, Offense{ID: fmt.Sprintf("10.0.%d.%d", i/256, i%256), Bucket: "b", Kind: "k"})
	}
	card, err := tr.store.ZCard(ctx, scoresKey)
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultCap), card)
}

func TestListMissingDetail(t *testing.T) {
	ctx := context.Background()
	tr, mr := newRedisTracker(t)
	tr.Record(ctx, Offense{ID: "1.2.3.4", Bucket: "posts", Kind: "ip_block"})
	mr.Del("abuse:detail:1.2.3.4")

	list := tr.List(ctx, 10)
	require.Len(t, list, 1)
	assert.Equal(t, int64(1), list[0].Score)
	assert.Empty(t, list[0].Counts)
	assert.True(t, list[0].LastSeen.IsZero())
}

func TestListUnreadableDetail(t *testing.T) {
	ctx := context.Background()
	log := logger.NewTestLogger()
	tr, mr := newRedisTracker(t, WithLogger(log))
	tr.Record(ctx, Offense{ID: "a", Bucket: "posts", Kind: "ip_block"})
	tr.Record(ctx, Offense{ID: "b", Bucket: "posts", Kind: "ip_block"})
	mr.Del("abuse:detail:a")
	require.NoError(t, mr.Set("abuse:detail:a", "not a hash"))

	list := tr.List(ctx, 10)
	require.Len(t, list, 2)
	a, _ := find(list, "a")
	b, _ := find(list, "b")
	assert.Empty(t, a.Counts)
	assert.Equal(t, int64(1), b.Counts["k:ip_block"])
	assert.Equal(t, 1, log.Count("WARNING"))
}

func TestFlattenSkipsNonNumeric(t *testing.T) {
	seen, counts := flatten(map[string]string{
		"lastSeen": "1700000000123",
		"b:posts":  "3",
		"k:junk":   "x",
	})
	assert.True(t, fixed.Equal(seen))
	assert.Equal(t, map[string]int64{"b:posts": 3}, counts)
}

func TestFailingStore(t *testing.T) {
	ctx := context.Background()
	log := logger.NewTestLogger()
	tr, mr := newRedisTracker(t, WithLogger(log))
	mr.Close()
	tr.Record(ctx, Offense{ID: "1.2.3.4", Bucket: "posts", Kind: "ip_block"})
	assert.Empty(t, tr.List(ctx, 10))
	assert.Equal(t, 2, log.Count("WARNING"))
}

func TestNoopStore(t *testing.T) {
	ctx := context.Background()
	log := logger.NewTestLogger()
	tr := NewTracker(store.NewNoop(), WithLogger(log))
	assert.False(t, tr.Enabled())
	tr.Record(ctx, Offense{ID: "1.2.3.4", Bucket: "posts", Kind: "ip_block"})
	assert.Empty(t, tr.List(ctx, 10))
	assert.Empty(t, log.Logs())
}

func TestRecordIgnoresEmptyID(t *testing.T) {
	ctx := context.Background()
	tr := newMemoryTracker(t)
	tr.Record(ctx, Offense{Bucket: "posts", Kind: "ip_block"})
	assert.Empty(t, tr.List(ctx, 10))
}
