package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tmbingo/bingo-server/internal/v1/auth"
	"github.com/tmbingo/bingo-server/internal/v1/logging"
	"github.com/tmbingo/bingo-server/internal/v1/metrics"
	"github.com/tmbingo/bingo-server/internal/v1/protocol"
	"github.com/tmbingo/bingo-server/internal/v1/ratelimit"
	"github.com/tmbingo/bingo-server/internal/v1/reconnect"
	"github.com/tmbingo/bingo-server/internal/v1/types"
)

// handshakeTimeout bounds how long an accepted socket may take to present
// its handshake frame before being dropped.
const handshakeTimeout = 10 * time.Second

// Server accepts game connections, runs the handshake gate on each, and
// hands authenticated clients to the game layer.
type Server struct {
	addr       string
	minVersion auth.Version
	validator  types.IdentityValidator
	handler    FrameHandler
	reconnects *reconnect.Registry
	limiter    *ratelimit.Limiter
}

func NewServer(addr string, minVersion auth.Version, validator types.IdentityValidator,
	handler FrameHandler, reconnects *reconnect.Registry, limiter *ratelimit.Limiter) *Server {
	return &Server{
		addr:       addr,
		minVersion: minVersion,
		validator:  validator,
		handler:    handler,
		reconnects: reconnects,
		limiter:    limiter,
	}
}

// Run listens and accepts until the context is cancelled. Connection
// handling happens on per-connection goroutines; Run only returns the
// listener's fate.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	logging.Info(ctx, "game server listening", zap.String("addr", s.addr))
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accepting connection: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	metrics.IncConnection()
	defer metrics.DecConnection()
	ctx = context.WithValue(ctx, logging.CorrelationIDKey, uuid.NewString())

	identity, code := s.handshake(ctx, conn)
	metrics.HandshakeResults.WithLabelValues(strconv.Itoa(int(code))).Inc()

	resp := protocol.HandshakeResponse{Code: code}
	if code == protocol.HandshakeOk || code == protocol.HandshakeCanReconnect {
		resp.Username = string(identity.DisplayName)
	}
	writer := protocol.NewFrameWriter(conn)
	if data, err := json.Marshal(resp); err == nil {
		_ = writer.Write(data)
	}

	if code != protocol.HandshakeOk && code != protocol.HandshakeCanReconnect {
		logging.Debug(ctx, "handshake rejected",
			zap.String("remote", conn.RemoteAddr().String()),
			zap.String("code", code.String()))
		_ = conn.Close()
		return
	}

	ctx = context.WithValue(ctx, logging.AccountIDKey, string(identity.AccountID))
	logging.Info(ctx, "client connected",
		zap.String("remote", conn.RemoteAddr().String()),
		zap.String("code", code.String()))

	client := NewClient(conn, identity)
	s.handler.HandleConnect(ctx, client)
	go client.writePump()
	client.readPump(ctx, s.handler, s.limiter)

	logging.Info(ctx, "client disconnected", zap.String("client_id", string(client.ID())))
}

// handshake reads and judges the first frame. The identity is only
// meaningful for the success codes.
func (s *Server) handshake(ctx context.Context, conn net.Conn) (types.PlayerIdentity, protocol.HandshakeCode) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	frame, err := protocol.NewFrameReader(conn).Read()
	_ = conn.SetReadDeadline(time.Time{})
	if err != nil {
		return types.PlayerIdentity{}, protocol.HandshakeParseError
	}

	var req protocol.HandshakeRequest
	if err := json.Unmarshal(frame, &req); err != nil {
		return types.PlayerIdentity{}, protocol.HandshakeParseError
	}
	version, err := auth.ParseVersion(req.Version)
	if err != nil {
		return types.PlayerIdentity{}, protocol.HandshakeParseError
	}
	if version.Less(s.minVersion) {
		logging.Debug(ctx, "client below minimum version",
			zap.String("version", version.String()),
			zap.String("minimum", s.minVersion.String()))
		return types.PlayerIdentity{}, protocol.HandshakeIncompatibleVersion
	}

	vctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	identity, err := s.validator.Validate(vctx, req.Token)
	if err != nil {
		var refused *auth.RefusedError
		if errors.As(err, &refused) {
			logging.Info(ctx, "token refused by identity service",
				zap.String("token", logging.RedactToken(req.Token)),
				zap.String("reason", refused.Reason))
			return types.PlayerIdentity{}, protocol.HandshakeAuthRefused
		}
		logging.Warn(ctx, "identity validation failed", zap.Error(err))
		return types.PlayerIdentity{}, protocol.HandshakeAuthFailure
	}

	if s.reconnects != nil && s.reconnects.Peek(identity.AccountID) {
		return identity, protocol.HandshakeCanReconnect
	}
	return identity, protocol.HandshakeOk
}
