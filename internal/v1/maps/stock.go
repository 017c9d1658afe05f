package maps

import (
	"context"
	cryptorand "crypto/rand"
	"errors"
	"fmt"
	randv2 "math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tmbingo/bingo-server/internal/v1/logging"
	"github.com/tmbingo/bingo-server/internal/v1/metrics"
	"github.com/tmbingo/bingo-server/internal/v1/types"
)

// pollInterval is how often a waiting GetMaps call re-checks its queue.
const pollInterval = 100 * time.Millisecond

// ErrFetchTimeout is returned when the catalogue could not produce enough
// maps within the configured fetch window.
var ErrFetchTimeout = errors.New("timed out waiting for the map catalogue, try again later")

// ErrMappackTooSmall is returned when a mappack exists but holds fewer
// maps than the grid needs.
var ErrMappackTooSmall = errors.New("the mappack does not have enough maps for this grid size")

// ErrMappackNotFound is returned when the catalogue has no usable record
// for the requested mappack id.
var ErrMappackNotFound = errors.New("mappack not found, or its maps are hidden")

// restock asks the worker to top up one mode's queue by count maps.
type restock struct {
	mode  types.MapMode
	count int
}

// Stock is the map prefetcher. It keeps one queue per random selection
// mode warm through a single background worker, so GetMaps usually
// returns instantly from stock instead of waiting on the catalogue.
//
// Mappack selections bypass the queues entirely: each mappack is its own
// universe, so those are fetched on demand and shuffled.
type Stock struct {
	fetcher  Fetcher
	totd     *Queue
	random   *Queue
	requests chan restock

	target       int
	capacity     int
	fetchTimeout time.Duration

	rngMu sync.Mutex
	rng   *randv2.Rand
}

// NewStock creates a Stock and queues an initial top-up for both random
// modes. Run must be started for any fetching to happen.
func NewStock(fetcher Fetcher, target, capacity int, fetchTimeout time.Duration) *Stock {
	var seed [32]byte
	if _, err := cryptorand.Read(seed[:]); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(fmt.Sprintf("reading random seed: %v", err))
	}

	s := &Stock{
		fetcher:      fetcher,
		totd:         NewQueue(),
		random:       NewQueue(),
		requests:     make(chan restock, 64),
		target:       target,
		capacity:     capacity,
		fetchTimeout: fetchTimeout,
		rng:          randv2.New(randv2.NewChaCha8(seed)),
	}
	s.requests <- restock{mode: types.MapModeTOTD, count: target}
	s.requests <- restock{mode: types.MapModeRandomTMX, count: target}
	return s
}

// Run processes restock requests until the context is cancelled. One
// worker is enough: catalogue rate limits make parallel fetching
// counterproductive.
func (s *Stock) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.requests:
			s.fill(ctx, req)
		}
	}
}

func (s *Stock) fill(ctx context.Context, req restock) {
	q := s.queueFor(req.mode)
	if q == nil {
		return
	}
	if q.Len() >= s.capacity {
		logging.Debug(ctx, "map queue at capacity, skipping restock",
			zap.String("mode", req.mode.String()), zap.Int("stock", q.Len()))
		return
	}

	fetched, err := s.fetch(ctx, req.mode, req.count)
	if err != nil {
		metrics.MapFetchErrors.WithLabelValues(req.mode.String()).Inc()
		logging.Warn(ctx, "map restock failed",
			zap.String("mode", req.mode.String()), zap.Int("count", req.count), zap.Error(err))
		return
	}

	accepted := q.Extend(fetched)
	metrics.MapQueueSize.WithLabelValues(req.mode.String()).Set(float64(q.Len()))
	logging.Debug(ctx, "map queue restocked",
		zap.String("mode", req.mode.String()),
		zap.Int("accepted", accepted), zap.Int("stock", q.Len()))
}

func (s *Stock) fetch(ctx context.Context, mode types.MapMode, count int) ([]types.GameMap, error) {
	switch mode {
	case types.MapModeTOTD:
		return s.fetcher.TOTD(ctx, count)
	case types.MapModeRandomTMX:
		return s.fetcher.Random(ctx, count)
	}
	return nil, fmt.Errorf("mode %s has no queue", mode)
}

func (s *Stock) queueFor(mode types.MapMode) *Queue {
	switch mode {
	case types.MapModeTOTD:
		return s.totd
	case types.MapModeRandomTMX:
		return s.random
	}
	return nil
}

// GetMaps produces the maps for a fresh grid. Queue-backed modes drain
// from stock, polling until the fetch window runs out if the worker is
// still filling; mappacks fetch the full pack and draw a random subset.
func (s *Stock) GetMaps(ctx context.Context, query types.MapQuery) ([]types.GameMap, error) {
	if query.Mode == types.MapModeMappack {
		return s.mappackMaps(ctx, query)
	}

	q := s.queueFor(query.Mode)
	if q == nil {
		return nil, fmt.Errorf("unknown map selection mode %d", int(query.Mode))
	}

	// Ask the worker to replace what we are about to take. Non-blocking:
	// a full request channel means plenty of restocks are already queued.
	select {
	case s.requests <- restock{mode: query.Mode, count: query.Count}:
	default:
	}

	deadline := time.Now().Add(s.fetchTimeout)
	for {
		if maps, ok := q.Take(query.Count); ok {
			metrics.MapQueueSize.WithLabelValues(query.Mode.String()).Set(float64(q.Len()))
			return maps, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrFetchTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (s *Stock) mappackMaps(ctx context.Context, query types.MapQuery) ([]types.GameMap, error) {
	tracks, err := s.fetcher.MappackTracks(ctx, query.MappackID)
	if err != nil {
		if errors.Is(err, ErrDecode) {
			return nil, ErrMappackNotFound
		}
		return nil, err
	}
	if len(tracks) < query.Count {
		return nil, fmt.Errorf("%w: has %d, need %d", ErrMappackTooSmall, len(tracks), query.Count)
	}

	s.rngMu.Lock()
	s.rng.Shuffle(len(tracks), func(i, j int) {
		tracks[i], tracks[j] = tracks[j], tracks[i]
	})
	s.rngMu.Unlock()
	return tracks[:query.Count], nil
}

// ExtendMaps returns unused maps to their mode's queue, e.g. when a room
// shrinks its grid before starting. Mappack maps are discarded.
func (s *Stock) ExtendMaps(mode types.MapMode, maps []types.GameMap) {
	q := s.queueFor(mode)
	if q == nil || len(maps) == 0 {
		return
	}
	q.Extend(maps)
	metrics.MapQueueSize.WithLabelValues(mode.String()).Set(float64(q.Len()))
}
