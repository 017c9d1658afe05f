// Package maps owns map acquisition: the Trackmania Exchange catalogue
// client, the per-mode prefetch queues, and the background worker that
// keeps them stocked so room creation does not wait on third-party API
// latency.
package maps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/tmbingo/bingo-server/internal/v1/logging"
	"github.com/tmbingo/bingo-server/internal/v1/types"
)

// Catalogue endpoints, relative to the configured base URL.
const (
	searchPath        = "/mapsearch2/search"
	mappackTracksPath = "/api/mappack/get_mappack_tracks/"
)

// ErrDecode marks a response body the catalogue returned but we could not
// parse. For mappacks this usually means the pack does not exist or is
// hidden/unreleased.
var ErrDecode = errors.New("invalid reply from the map catalogue")

// Fetcher is the catalogue surface the prefetcher consumes. Tests
// substitute a fake.
type Fetcher interface {
	Random(ctx context.Context, count int) ([]types.GameMap, error)
	TOTD(ctx context.Context, count int) ([]types.GameMap, error)
	MappackTracks(ctx context.Context, mappackID string) ([]types.GameMap, error)
}

// Client talks to the Trackmania Exchange API. All calls run behind a
// circuit breaker; the catalogue is a third party and regularly slow.
type Client struct {
	http      *http.Client
	base      string
	userAgent string
	cb        *gobreaker.CircuitBreaker
}

// NewClient creates a catalogue client for the given base URL. The user
// agent identifies this server to the catalogue operators, as their API
// rules require.
func NewClient(base, userAgent string, timeout time.Duration) *Client {
	st := gobreaker.Settings{
		Name:    "map-catalogue",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logging.Warn(context.Background(), "map catalogue circuit breaker state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}

	return &Client{
		http:      &http.Client{Timeout: timeout},
		base:      base,
		userAgent: userAgent,
		cb:        gobreaker.NewCircuitBreaker(st),
	}
}

// tmxMap is the catalogue's map record shape.
type tmxMap struct {
	TrackID  int64  `json:"TrackID"`
	TrackUID string `json:"TrackUID"`
	Name     string `json:"Name"`
	Username string `json:"Username"`
}

func (m tmxMap) toGameMap() types.GameMap {
	return types.GameMap{
		TrackID:    m.TrackID,
		UID:        m.TrackUID,
		Name:       m.Name,
		AuthorName: m.Username,
	}
}

// searchResult wraps the single-map reply of a random search.
type searchResult struct {
	Results []tmxMap `json:"results"`
}

// Random fetches count maps via the randomized track search.
func (c *Client) Random(ctx context.Context, count int) ([]types.GameMap, error) {
	return c.searchLoop(ctx, count, url.Values{
		"api":      {"on"},
		"random":   {"1"},
		"mtype":    {"TM_Race"},
		"etags":    {"23,37,40"},
		"vehicles": {"1"},
	})
}

// TOTD fetches count maps from the track-of-the-day pool.
func (c *Client) TOTD(ctx context.Context, count int) ([]types.GameMap, error) {
	return c.searchLoop(ctx, count, url.Values{
		"api":    {"on"},
		"random": {"1"},
		"mode":   {"25"},
	})
}

// searchLoop draws one random map per request until count maps are
// collected. The search endpoint only ever returns a single result in
// random mode.
func (c *Client) searchLoop(ctx context.Context, count int, params url.Values) ([]types.GameMap, error) {
	out := make([]types.GameMap, 0, count)
	for len(out) < count {
		var result searchResult
		if err := c.getJSON(ctx, searchPath+"?"+params.Encode(), &result); err != nil {
			return nil, err
		}
		if len(result.Results) == 0 {
			return nil, fmt.Errorf("%w: empty search result", ErrDecode)
		}
		out = append(out, result.Results[0].toGameMap())
	}
	return out, nil
}

// MappackTracks fetches the full track list of a mappack.
func (c *Client) MappackTracks(ctx context.Context, mappackID string) ([]types.GameMap, error) {
	var tracks []tmxMap
	if err := c.getJSON(ctx, mappackTracksPath+url.PathEscape(mappackID), &tracks); err != nil {
		return nil, err
	}
	out := make([]types.GameMap, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, t.toGameMap())
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
		if err != nil {
			return nil, fmt.Errorf("building catalogue request: %w", err)
		}
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("catalogue request failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("catalogue returned status %d", resp.StatusCode)
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, fmt.Errorf("reading catalogue response: %w", err)
		}
		if err := json.Unmarshal(data, v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return nil, nil
	})
	if err == gobreaker.ErrOpenState {
		return fmt.Errorf("map catalogue unavailable: %w", err)
	}
	return err
}
