package maps

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tmbingo/bingo-server/internal/v1/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func genMaps(start, count int) []types.GameMap {
	out := make([]types.GameMap, 0, count)
	for i := 0; i < count; i++ {
		id := start + i
		out = append(out, types.GameMap{
			TrackID:    int64(id),
			UID:        fmt.Sprintf("uid-%d", id),
			Name:       fmt.Sprintf("Map %d", id),
			AuthorName: "author",
		})
	}
	return out
}

// fakeFetcher satisfies Fetcher with pluggable behavior per endpoint.
type fakeFetcher struct {
	mu      sync.Mutex
	next    int
	randomE error
	totdE   error
	pack    []types.GameMap
	packErr error
}

func (f *fakeFetcher) draw(count int, fail error) ([]types.GameMap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	out := genMaps(f.next, count)
	f.next += count
	return out, nil
}

func (f *fakeFetcher) Random(_ context.Context, count int) ([]types.GameMap, error) {
	return f.draw(count, f.randomE)
}

func (f *fakeFetcher) TOTD(_ context.Context, count int) ([]types.GameMap, error) {
	return f.draw(count, f.totdE)
}

func (f *fakeFetcher) MappackTracks(_ context.Context, _ string) ([]types.GameMap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pack, f.packErr
}

func TestQueue_TakeFromTail(t *testing.T) {
	q := NewQueue()
	q.Extend(genMaps(0, 5))
	require.Equal(t, 5, q.Len())

	got, ok := q.Take(3)
	require.True(t, ok)
	assert.Len(t, got, 3)
	assert.Equal(t, 2, q.Len())

	_, ok = q.Take(3)
	assert.False(t, ok, "insufficient stock must not partially drain")
	assert.Equal(t, 2, q.Len())
}

func TestQueue_ExtendDeduplicatesByTrackID(t *testing.T) {
	q := NewQueue()
	assert.Equal(t, 3, q.Extend(genMaps(0, 3)))
	assert.Equal(t, 2, q.Extend(genMaps(1, 4)), "overlapping ids 1,2 are dropped")
	assert.Equal(t, 5, q.Len())
}

func TestStock_FillsAndServes(t *testing.T) {
	fetcher := &fakeFetcher{}
	stock := NewStock(fetcher, 10, 30, 2*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		stock.Run(ctx)
	}()

	got, err := stock.GetMaps(context.Background(), types.MapQuery{Mode: types.MapModeTOTD, Count: 9})
	require.NoError(t, err)
	assert.Len(t, got, 9)

	// The initial target fill was 10; one map stays behind.
	assert.Eventually(t, func() bool {
		return stock.totd.Len() >= 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestStock_GetMapsTimesOut(t *testing.T) {
	// No worker runs, so the queue never fills.
	stock := NewStock(&fakeFetcher{}, 10, 30, 150*time.Millisecond)

	_, err := stock.GetMaps(context.Background(), types.MapQuery{Mode: types.MapModeRandomTMX, Count: 3})
	assert.ErrorIs(t, err, ErrFetchTimeout)
}

func TestStock_GetMapsHonorsContext(t *testing.T) {
	stock := NewStock(&fakeFetcher{}, 10, 30, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := stock.GetMaps(ctx, types.MapQuery{Mode: types.MapModeTOTD, Count: 1})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStock_ExtendReturnsToQueue(t *testing.T) {
	stock := NewStock(&fakeFetcher{}, 10, 30, time.Second)

	stock.ExtendMaps(types.MapModeTOTD, genMaps(100, 4))
	got, err := stock.GetMaps(context.Background(), types.MapQuery{Mode: types.MapModeTOTD, Count: 4})
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestStock_Mappack(t *testing.T) {
	t.Run("shuffled subset", func(t *testing.T) {
		fetcher := &fakeFetcher{pack: genMaps(0, 10)}
		stock := NewStock(fetcher, 10, 30, time.Second)

		got, err := stock.GetMaps(context.Background(), types.MapQuery{
			Mode: types.MapModeMappack, Count: 4, MappackID: "500",
		})
		require.NoError(t, err)
		require.Len(t, got, 4)

		seen := make(map[int64]bool)
		for _, m := range got {
			assert.False(t, seen[m.TrackID], "no duplicates in a grid")
			seen[m.TrackID] = true
		}
	})

	t.Run("too small", func(t *testing.T) {
		fetcher := &fakeFetcher{pack: genMaps(0, 5)}
		stock := NewStock(fetcher, 10, 30, time.Second)

		_, err := stock.GetMaps(context.Background(), types.MapQuery{
			Mode: types.MapModeMappack, Count: 9, MappackID: "500",
		})
		assert.ErrorIs(t, err, ErrMappackTooSmall)
	})

	t.Run("not found", func(t *testing.T) {
		fetcher := &fakeFetcher{packErr: fmt.Errorf("%w: unexpected html", ErrDecode)}
		stock := NewStock(fetcher, 10, 30, time.Second)

		_, err := stock.GetMaps(context.Background(), types.MapQuery{
			Mode: types.MapModeMappack, Count: 9, MappackID: "999999",
		})
		assert.ErrorIs(t, err, ErrMappackNotFound)
	})
}

func TestStock_CapacityGuardSkipsRestock(t *testing.T) {
	fetcher := &fakeFetcher{}
	stock := NewStock(fetcher, 10, 12, time.Second)

	// Fill past capacity by hand, then ask the worker to restock.
	stock.totd.Extend(genMaps(1000, 12))
	stock.fill(context.Background(), restock{mode: types.MapModeTOTD, count: 10})

	assert.Equal(t, 12, stock.totd.Len(), "restock at capacity must be dropped")
}
