package transport

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmbingo/bingo-server/internal/v1/protocol"
	"github.com/tmbingo/bingo-server/internal/v1/ratelimit"
	"github.com/tmbingo/bingo-server/internal/v1/types"
)

// mockHandler records what the read pump hands to the game layer.
type mockHandler struct {
	mu          sync.Mutex
	frames      [][]byte
	disconnects int
}

func (h *mockHandler) HandleConnect(context.Context, types.ClientInterface) {}

func (h *mockHandler) HandleFrame(_ context.Context, _ types.ClientInterface, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf := make([]byte, len(frame))
	copy(buf, frame)
	h.frames = append(h.frames, buf)
}

func (h *mockHandler) HandleDisconnect(context.Context, types.ClientInterface) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnects++
}

func (h *mockHandler) frameCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.frames)
}

func (h *mockHandler) disconnectCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disconnects
}

func testIdentity() types.PlayerIdentity {
	return types.PlayerIdentity{AccountID: "acc-1", DisplayName: "Alice"}
}

func TestClient_SendWritesFrame(t *testing.T) {
	server, peer := net.Pipe()
	defer peer.Close()

	client := NewClient(server, testIdentity())
	done := make(chan struct{})
	go func() {
		defer close(done)
		client.writePump()
	}()

	client.Send(protocol.OkResponse{Seq: 7})

	frame, err := protocol.NewFrameReader(peer).Read()
	require.NoError(t, err)
	var resp protocol.OkResponse
	require.NoError(t, json.Unmarshal(frame, &resp))
	assert.Equal(t, uint32(7), resp.Seq)

	client.Close()
	<-done
}

func TestClient_DeliverAfterClose(t *testing.T) {
	server, peer := net.Pipe()
	defer peer.Close()

	client := NewClient(server, testIdentity())
	assert.False(t, client.IsClosed())

	client.Close()
	client.Close()

	assert.True(t, client.IsClosed())
	assert.False(t, client.Deliver([]byte(`{}`)), "closed mailbox must refuse deliveries")
}

func TestClient_RequestCloseFlushesPending(t *testing.T) {
	server, peer := net.Pipe()
	defer peer.Close()

	client := NewClient(server, testIdentity())
	require.True(t, client.Deliver([]byte(`{"seq":1}`)))
	client.RequestClose()

	done := make(chan struct{})
	go func() {
		defer close(done)
		client.writePump()
	}()

	frame, err := protocol.NewFrameReader(peer).Read()
	require.NoError(t, err)
	assert.JSONEq(t, `{"seq":1}`, string(frame))

	_, err = protocol.NewFrameReader(peer).Read()
	assert.Error(t, err, "connection closes after the flush")
	<-done
}

func TestClient_ReadPumpDispatchesFrames(t *testing.T) {
	server, peer := net.Pipe()

	client := NewClient(server, testIdentity())
	handler := &mockHandler{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		client.readPump(context.Background(), handler, nil)
	}()

	writer := protocol.NewFrameWriter(peer)
	require.NoError(t, writer.Write([]byte(`{"seq":1,"request":"Ping"}`)))
	require.NoError(t, writer.Write([]byte(`{"seq":2,"request":"Ping"}`)))
	peer.Close()
	<-done

	assert.Equal(t, 2, handler.frameCount())
	assert.Equal(t, 1, handler.disconnectCount())
}

func TestClient_ReadPumpRateLimits(t *testing.T) {
	limiter, err := ratelimit.New("1-S")
	require.NoError(t, err)

	server, peer := net.Pipe()
	client := NewClient(server, testIdentity())
	handler := &mockHandler{}

	var pumps sync.WaitGroup
	pumps.Add(2)
	go func() { defer pumps.Done(); client.writePump() }()
	go func() { defer pumps.Done(); client.readPump(context.Background(), handler, limiter) }()

	writer := protocol.NewFrameWriter(peer)
	require.NoError(t, writer.Write([]byte(`{"seq":1,"request":"Ping"}`)))
	require.NoError(t, writer.Write([]byte(`{"seq":2,"request":"Ping"}`)))

	// The second frame is over the limit and answered in place.
	frame, err := protocol.NewFrameReader(peer).Read()
	require.NoError(t, err)
	var resp protocol.ErrorResponse
	require.NoError(t, json.Unmarshal(frame, &resp))
	assert.Equal(t, uint32(2), resp.Seq)
	assert.Contains(t, resp.Error, "rate limit")
	assert.Equal(t, 1, handler.frameCount(), "limited frames never reach the game layer")

	peer.Close()
	client.Close()
	pumps.Wait()
}

func TestClient_ReadPumpClosesOnOversizeFrame(t *testing.T) {
	server, peer := net.Pipe()
	client := NewClient(server, testIdentity())
	handler := &mockHandler{}

	var pumps sync.WaitGroup
	pumps.Add(2)
	go func() { defer pumps.Done(); client.writePump() }()
	go func() { defer pumps.Done(); client.readPump(context.Background(), handler, nil) }()

	// A header announcing a payload far over the cap.
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], protocol.MaxFrameSize+1)
	_, err := peer.Write(header[:])
	require.NoError(t, err)

	// The server answers with a trace before tearing the connection down.
	frame, err := protocol.NewFrameReader(peer).Read()
	require.NoError(t, err)
	var trace protocol.TraceEvent
	require.NoError(t, json.Unmarshal(frame, &trace))
	assert.Equal(t, protocol.EventTrace, trace.Event)
	assert.Contains(t, trace.Message, "maximum size")

	assert.Eventually(t, client.IsClosed, time.Second, 5*time.Millisecond)
	peer.Close()
	pumps.Wait()
	assert.Equal(t, 1, handler.disconnectCount())
}
