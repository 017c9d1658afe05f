package game

import (
	"context"
	"errors"
	randv2 "math/rand/v2"
	"sync"

	"go.uber.org/zap"

	"github.com/tmbingo/bingo-server/internal/v1/channels"
	"github.com/tmbingo/bingo-server/internal/v1/logging"
	"github.com/tmbingo/bingo-server/internal/v1/reconnect"
	"github.com/tmbingo/bingo-server/internal/v1/types"
)

// Request-level errors. These travel to the initiating client as
// {seq, error} responses and never terminate the connection.
var (
	ErrRoomNotFound  = errors.New("room does not exist")
	ErrWrongPassword = errors.New("incorrect password")
	ErrRoomFull      = errors.New("the room is full")
	ErrRoomStarted   = errors.New("the game has already started")
	ErrNotInRoom     = errors.New("you are not in a room")
	ErrAlreadyInRoom = errors.New("you are already in a room")
	ErrNotOperator   = errors.New("only the room operator can do that")
	ErrNoSuchTeam    = errors.New("that team does not exist")
	ErrGameNotActive = errors.New("the game is not active")
	ErrMedalNotMet   = errors.New("the run does not meet the room's medal requirement")
	ErrUnknownMap    = errors.New("that map is not part of the grid")
	ErrClaimBeaten   = errors.New("a better claim already holds this cell")
)

// session ties a live connection to its current room, if any.
type session struct {
	client types.ClientInterface
	room   *Room
}

// Registry owns every live room and routes client requests to them. The
// registry lock covers the room and session maps only; individual rooms
// carry their own lock, and the registry lock is always released before a
// room lock is taken.
type Registry struct {
	mu       sync.Mutex
	rooms    map[types.JoinCodeType]*Room
	sessions map[types.ClientIdType]*session

	fabric     *channels.Fabric
	provider   types.MapProvider
	reconnects *reconnect.Registry
	palette    []types.TeamDefinition
	alphabet   string
	codeLen    int
}

// NewRegistry wires the registry to its collaborators. The alphabet and
// length control join-code generation.
func NewRegistry(fabric *channels.Fabric, provider types.MapProvider, reconnects *reconnect.Registry,
	palette []types.TeamDefinition, alphabet string, codeLen int) *Registry {
	return &Registry{
		rooms:      make(map[types.JoinCodeType]*Room),
		sessions:   make(map[types.ClientIdType]*session),
		fabric:     fabric,
		provider:   provider,
		reconnects: reconnects,
		palette:    palette,
		alphabet:   alphabet,
		codeLen:    codeLen,
	}
}

// Reconnects exposes the reconnect registry for the handshake gate.
func (reg *Registry) Reconnects() *reconnect.Registry {
	return reg.reconnects
}

// RoomCount reports the number of live rooms.
func (reg *Registry) RoomCount() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}

// FindRoom looks up a live room by join code.
func (reg *Registry) FindRoom(code types.JoinCodeType) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[code]
	return r, ok
}

// generateCodeLocked draws join codes uniformly from the configured
// alphabet, rejecting collisions with live rooms.
func (reg *Registry) generateCodeLocked() types.JoinCodeType {
	buf := make([]byte, reg.codeLen)
	for {
		for i := range buf {
			buf[i] = reg.alphabet[randv2.IntN(len(reg.alphabet))]
		}
		code := types.JoinCodeType(buf)
		if _, taken := reg.rooms[code]; !taken {
			return code
		}
	}
}

// removeRoom unlinks the room from the registry, detaches every session
// still pointing at it, then destroys it. Safe to call twice.
func (reg *Registry) removeRoom(r *Room, reason string) {
	reg.mu.Lock()
	if reg.rooms[r.joinCode] == r {
		delete(reg.rooms, r.joinCode)
	}
	for _, s := range reg.sessions {
		if s.room == r {
			s.room = nil
		}
	}
	reg.mu.Unlock()

	r.destroy(reason)
	logging.Info(context.Background(), "room destroyed",
		zap.String("join_code", string(r.joinCode)), zap.String("reason", reason))
}

// expireGame terminates a room whose configured time limit ran out.
func (reg *Registry) expireGame(r *Room) {
	reg.removeRoom(r, "time limit reached, the game is over")
}

// loadMaps runs an asynchronous map fetch for a room and merges the
// result back in. The fetch outlives the room on purpose; stale results
// are returned to the prefetch queues instead of being dropped.
func (reg *Registry) loadMaps(r *Room, seq uint64, query types.MapQuery) {
	ctx := context.Background()
	fetched, err := reg.provider.GetMaps(ctx, query)
	if err != nil {
		logging.Warn(ctx, "map load for room failed",
			zap.String("join_code", string(r.joinCode)),
			zap.String("mode", query.Mode.String()), zap.Error(err))
	}

	leftover := r.ApplyMaps(seq, fetched, err)
	if len(leftover) > 0 && query.Mode != types.MapModeMappack {
		reg.provider.ExtendMaps(query.Mode, leftover)
	}
}
