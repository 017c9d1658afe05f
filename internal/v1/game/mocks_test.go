package game

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tmbingo/bingo-server/internal/v1/channels"
	"github.com/tmbingo/bingo-server/internal/v1/reconnect"
	"github.com/tmbingo/bingo-server/internal/v1/types"
)

// mockClient implements both ClientInterface and Mailbox, recording
// everything the game layer pushes at it.
type mockClient struct {
	id       types.ClientIdType
	identity types.PlayerIdentity

	mu     sync.Mutex
	sent   []any    // direct responses via Send
	frames [][]byte // broadcast deliveries via the mailbox
	closed bool
}

func newMockClient(account, name string) *mockClient {
	return &mockClient{
		id: types.ClientIdType("conn-" + account),
		identity: types.PlayerIdentity{
			AccountID:   types.AccountIdType(account),
			DisplayName: types.DisplayNameType(name),
		},
	}
}

func (c *mockClient) ID() types.ClientIdType         { return c.id }
func (c *mockClient) Identity() types.PlayerIdentity { return c.identity }
func (c *mockClient) Mailbox() types.Mailbox         { return c }

func (c *mockClient) Send(payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, payload)
}

func (c *mockClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *mockClient) Deliver(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	buf := make([]byte, len(message))
	copy(buf, message)
	c.frames = append(c.frames, buf)
	return true
}

func (c *mockClient) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *mockClient) RequestClose() { c.Close() }

func (c *mockClient) responses() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.sent...)
}

// events decodes received broadcast frames and returns those with the
// given event name, in delivery order.
func (c *mockClient) events(t *testing.T, name string) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []map[string]any
	for _, frame := range c.frames {
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(frame, &decoded))
		if decoded["event"] == name {
			out = append(out, decoded)
		}
	}
	return out
}

// fakeProvider hands out generated maps instantly and records returns.
type fakeProvider struct {
	mu       sync.Mutex
	next     int
	err      error
	extended map[types.MapMode][]types.GameMap
}

func (p *fakeProvider) GetMaps(_ context.Context, query types.MapQuery) ([]types.GameMap, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	out := make([]types.GameMap, 0, query.Count)
	for i := 0; i < query.Count; i++ {
		id := p.next
		p.next++
		out = append(out, types.GameMap{
			TrackID:    int64(id),
			UID:        fmt.Sprintf("uid-%d", id),
			Name:       fmt.Sprintf("Map %d", id),
			AuthorName: "author",
		})
	}
	return out, nil
}

func (p *fakeProvider) ExtendMaps(mode types.MapMode, maps []types.GameMap) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.extended == nil {
		p.extended = make(map[types.MapMode][]types.GameMap)
	}
	p.extended[mode] = append(p.extended[mode], maps...)
}

func (p *fakeProvider) extendedCount(mode types.MapMode) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.extended[mode])
}

var testPalette = []types.TeamDefinition{
	{Name: "Red", Color: "FF0000"},
	{Name: "Green", Color: "00FF00"},
	{Name: "Blue", Color: "0066FF"},
	{Name: "Yellow", Color: "FFFF00"},
	{Name: "Cyan", Color: "00FFFF"},
	{Name: "Magenta", Color: "FF00FF"},
}

const testAlphabet = "ACDEFGHJKLMNPQRTUVWXY34679"

func newTestRegistry() (*Registry, *fakeProvider) {
	provider := &fakeProvider{}
	reg := NewRegistry(channels.NewFabric(), provider, reconnect.NewRegistry(time.Minute),
		testPalette, testAlphabet, 6)
	return reg, provider
}

// request runs one wire-shaped request through the registry and returns
// the single response it produced.
func request(t *testing.T, reg *Registry, c *mockClient, seq uint32, name string, fields map[string]any) any {
	t.Helper()

	payload := map[string]any{"seq": seq, "request": name}
	for k, v := range fields {
		payload[k] = v
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	before := len(c.responses())
	reg.HandleFrame(context.Background(), c, data)
	responses := c.responses()
	require.Len(t, responses, before+1, "every request yields exactly one response")
	return responses[len(responses)-1]
}

func mapCount(r *Room) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.maps)
}

func mapUID(r *Room, i int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maps[i].UID
}

// lobbyConfig is the CreateRoom field set used across tests.
func lobbyConfig(gridSize int, medal types.Medal) map[string]any {
	return map[string]any{
		"name":         "Test",
		"size":         0,
		"randomize":    false,
		"chat_enabled": true,
		"grid_size":    gridSize,
		"selection":    0,
		"medal":        int(medal),
		"time_limit":   0,
	}
}
