// Package transport owns the TCP side of the server: the listener, the
// per-connection handshake, and the reader/writer goroutine pair behind
// every live client.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tmbingo/bingo-server/internal/v1/logging"
	"github.com/tmbingo/bingo-server/internal/v1/protocol"
	"github.com/tmbingo/bingo-server/internal/v1/ratelimit"
	"github.com/tmbingo/bingo-server/internal/v1/types"
)

// sendBufferSize bounds the outbound mailbox. A client that cannot drain
// this many pending frames is effectively gone; further deliveries drop.
const sendBufferSize = 256

// FrameHandler is the game-side sink for connection lifecycle and frames.
// The game registry implements it.
type FrameHandler interface {
	HandleConnect(ctx context.Context, client types.ClientInterface)
	HandleFrame(ctx context.Context, client types.ClientInterface, frame []byte)
	HandleDisconnect(ctx context.Context, client types.ClientInterface)
}

// Client is one authenticated TCP peer. It implements both
// types.ClientInterface and types.Mailbox: the mailbox half is what
// broadcast channels hold, and it never blocks.
type Client struct {
	id       types.ClientIdType
	identity types.PlayerIdentity
	conn     net.Conn

	send      chan protocol.SocketAction
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient wraps an accepted connection that already passed the
// handshake.
func NewClient(conn net.Conn, identity types.PlayerIdentity) *Client {
	return &Client{
		id:       types.ClientIdType(uuid.NewString()),
		identity: identity,
		conn:     conn,
		send:     make(chan protocol.SocketAction, sendBufferSize),
		done:     make(chan struct{}),
	}
}

func (c *Client) ID() types.ClientIdType {
	return c.id
}

func (c *Client) Identity() types.PlayerIdentity {
	return c.identity
}

func (c *Client) Mailbox() types.Mailbox {
	return c
}

// Deliver enqueues a frame payload without blocking. It reports false
// when the mailbox is closed or full; the caller treats both as a drop.
func (c *Client) Deliver(message []byte) bool {
	if c.IsClosed() {
		return false
	}
	select {
	case c.send <- protocol.MessageAction(message):
		return true
	default:
		return false
	}
}

func (c *Client) IsClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// RequestClose asks the writer to flush pending frames and shut down. A
// full mailbox skips the flush and closes hard.
func (c *Client) RequestClose() {
	select {
	case c.send <- protocol.CloseAction():
	default:
		c.Close()
	}
}

// Close tears the connection down immediately. Idempotent; unblocks both
// pumps.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Send marshals the payload and delivers it best-effort.
func (c *Client) Send(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logging.Error(context.Background(), "failed to marshal outbound payload", zap.Error(err))
		return
	}
	if !c.Deliver(data) {
		logging.Debug(context.Background(), "dropped outbound frame",
			zap.String("client_id", string(c.id)))
	}
}

// writePump owns the socket's write half. It exits when a Close action is
// dequeued, when the connection dies under it, or when Close is called,
// draining queued frames best-effort on the way out.
func (c *Client) writePump() {
	writer := protocol.NewFrameWriter(c.conn)
	for {
		select {
		case <-c.done:
			for {
				select {
				case action := <-c.send:
					if action.Close {
						return
					}
					_ = writer.Write(action.Message)
				default:
					return
				}
			}
		case action := <-c.send:
			if action.Close {
				c.Close()
				return
			}
			if err := writer.Write(action.Message); err != nil {
				c.Close()
				return
			}
		}
	}
}

// readPump owns the socket's read half and blocks until the connection
// ends. Frames over the rate limit are answered with an error response
// without reaching the game layer; framing violations are fatal.
func (c *Client) readPump(ctx context.Context, handler FrameHandler, limiter *ratelimit.Limiter) {
	defer func() {
		handler.HandleDisconnect(ctx, c)
		c.Close()
	}()

	reader := protocol.NewFrameReader(c.conn)
	for {
		frame, err := reader.Read()
		if err != nil {
			if errors.Is(err, protocol.ErrFrameTooLarge) || errors.Is(err, protocol.ErrInvalidEncoding) {
				logging.Warn(ctx, "protocol violation, closing connection",
					zap.String("client_id", string(c.id)), zap.Error(err))
				c.Send(protocol.NewTraceEvent(err.Error()))
				c.RequestClose()
			} else if !errors.Is(err, io.EOF) && !c.IsClosed() {
				logging.Debug(ctx, "connection read failed",
					zap.String("client_id", string(c.id)), zap.Error(err))
			}
			return
		}

		if limiter != nil && !limiter.Allow(ctx, string(c.id)) {
			var seq uint32
			if req, derr := protocol.DecodeRequest(frame); derr == nil {
				seq = req.Seq
			}
			c.Send(protocol.ErrorResponse{Seq: seq, Error: "rate limit exceeded"})
			continue
		}
		handler.HandleFrame(ctx, c, frame)
	}
}
