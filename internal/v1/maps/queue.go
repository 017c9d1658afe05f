package maps

import (
	"sync"

	"github.com/tmbingo/bingo-server/internal/v1/types"
)

// Queue is a thread-safe stock of prefetched maps for one selection mode.
// Takers drain from the tail; the worker appends fresh maps, skipping
// duplicates by track id so a room never sees the same map twice on a
// single grid.
type Queue struct {
	mu    sync.Mutex
	stock []types.GameMap
}

func NewQueue() *Queue {
	return &Queue{}
}

// Take removes and returns count maps from the tail, or reports ok false
// without touching the stock when fewer are available.
func (q *Queue) Take(count int) ([]types.GameMap, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.stock) < count {
		return nil, false
	}
	cut := len(q.stock) - count
	out := make([]types.GameMap, count)
	copy(out, q.stock[cut:])
	q.stock = q.stock[:cut]
	return out, true
}

// Extend appends the maps that are not already stocked and returns the
// number accepted.
func (q *Queue) Extend(incoming []types.GameMap) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	seen := make(map[int64]struct{}, len(q.stock))
	for _, m := range q.stock {
		seen[m.TrackID] = struct{}{}
	}

	accepted := 0
	for _, m := range incoming {
		if _, dup := seen[m.TrackID]; dup {
			continue
		}
		seen[m.TrackID] = struct{}{}
		q.stock = append(q.stock, m)
		accepted++
	}
	return accepted
}

// Len reports the current stock size.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.stock)
}
