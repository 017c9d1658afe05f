package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tmbingo/bingo-server/internal/v1/auth"
	"github.com/tmbingo/bingo-server/internal/v1/protocol"
	"github.com/tmbingo/bingo-server/internal/v1/reconnect"
	"github.com/tmbingo/bingo-server/internal/v1/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeValidator hands back a fixed identity or error.
type fakeValidator struct {
	identity types.PlayerIdentity
	err      error
}

func (v *fakeValidator) Validate(_ context.Context, _ string) (types.PlayerIdentity, error) {
	return v.identity, v.err
}

// stubRoom is the minimal live room a reconnect record can point at.
type stubRoom struct{ account types.AccountIdType }

func (r *stubRoom) Alive() bool                           { return true }
func (r *stubRoom) JoinCode() types.JoinCodeType          { return "ABC123" }
func (r *stubRoom) SlotExists(a types.AccountIdType) bool { return a == r.account }
func (r *stubRoom) EvictExpired(types.AccountIdType)      {}

func mustVersion(t *testing.T, s string) auth.Version {
	t.Helper()
	v, err := auth.ParseVersion(s)
	require.NoError(t, err)
	return v
}

func newTestServer(t *testing.T, validator types.IdentityValidator, reconnects *reconnect.Registry) *Server {
	t.Helper()
	return NewServer(":0", mustVersion(t, "3.0"), validator, nil, reconnects, nil)
}

// runHandshake drives one handshake over an in-memory pipe, feeding the
// raw payload as the client's first frame.
func runHandshake(t *testing.T, s *Server, payload []byte) (types.PlayerIdentity, protocol.HandshakeCode) {
	t.Helper()
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = protocol.NewFrameWriter(client).Write(payload)
	}()
	identity, code := s.handshake(context.Background(), server)
	<-done
	return identity, code
}

func handshakeFrame(t *testing.T, version, token string) []byte {
	t.Helper()
	data, err := json.Marshal(protocol.HandshakeRequest{Version: version, Token: token})
	require.NoError(t, err)
	return data
}

func TestHandshake_Ok(t *testing.T) {
	validator := &fakeValidator{identity: types.PlayerIdentity{
		AccountID: "acc-1", DisplayName: "Alice",
	}}
	s := newTestServer(t, validator, nil)

	identity, code := runHandshake(t, s, handshakeFrame(t, "3.1", "token"))
	assert.Equal(t, protocol.HandshakeOk, code)
	assert.Equal(t, types.DisplayNameType("Alice"), identity.DisplayName)
}

func TestHandshake_CanReconnect(t *testing.T) {
	validator := &fakeValidator{identity: types.PlayerIdentity{
		AccountID: "acc-1", DisplayName: "Alice",
	}}
	reconnects := reconnect.NewRegistry(time.Minute)
	reconnects.Stash("acc-1", &stubRoom{account: "acc-1"})
	s := newTestServer(t, validator, reconnects)

	_, code := runHandshake(t, s, handshakeFrame(t, "3.0", "token"))
	assert.Equal(t, protocol.HandshakeCanReconnect, code)
}

func TestHandshake_IncompatibleVersion(t *testing.T) {
	s := newTestServer(t, &fakeValidator{}, nil)

	_, code := runHandshake(t, s, handshakeFrame(t, "2.9", "token"))
	assert.Equal(t, protocol.HandshakeIncompatibleVersion, code)
}

func TestHandshake_ParseErrors(t *testing.T) {
	s := newTestServer(t, &fakeValidator{}, nil)

	t.Run("not json", func(t *testing.T) {
		_, code := runHandshake(t, s, []byte("hello there"))
		assert.Equal(t, protocol.HandshakeParseError, code)
	})

	t.Run("unparseable version", func(t *testing.T) {
		_, code := runHandshake(t, s, handshakeFrame(t, "latest", "token"))
		assert.Equal(t, protocol.HandshakeParseError, code)
	})
}

func TestHandshake_AuthOutcomes(t *testing.T) {
	t.Run("refused", func(t *testing.T) {
		validator := &fakeValidator{err: &auth.RefusedError{Reason: "token expired"}}
		s := newTestServer(t, validator, nil)

		_, code := runHandshake(t, s, handshakeFrame(t, "3.0", "stale"))
		assert.Equal(t, protocol.HandshakeAuthRefused, code)
	})

	t.Run("service failure", func(t *testing.T) {
		validator := &fakeValidator{err: errors.New("connection refused")}
		s := newTestServer(t, validator, nil)

		_, code := runHandshake(t, s, handshakeFrame(t, "3.0", "token"))
		assert.Equal(t, protocol.HandshakeAuthFailure, code)
	})
}
