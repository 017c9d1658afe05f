// Package game implements the room registry and the per-room game logic:
// membership and teams, configuration, the bingo grid, cell claim
// arbitration, and the lobby/in-game/terminated lifecycle.
package game

import (
	"context"
	"encoding/json"
	"fmt"
	randv2 "math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tmbingo/bingo-server/internal/v1/channels"
	"github.com/tmbingo/bingo-server/internal/v1/logging"
	"github.com/tmbingo/bingo-server/internal/v1/metrics"
	"github.com/tmbingo/bingo-server/internal/v1/protocol"
	"github.com/tmbingo/bingo-server/internal/v1/types"
)

// RoomState is the lifecycle phase of a room.
type RoomState int

const (
	StateLobby RoomState = iota
	StateInGame
	StateTerminated
)

// PlayerSlot is one member's seat in a room. Slots keep their position in
// the member list for the lifetime of the room, which is also the
// promotion order when the operator leaves.
type PlayerSlot struct {
	Identity  types.PlayerIdentity
	Team      types.TeamIndex
	Operator  bool
	Connected bool
	ClientID  types.ClientIdType
}

func (s *PlayerSlot) network() types.NetworkPlayer {
	team := s.Team
	return types.NetworkPlayer{
		Name:         s.Identity.DisplayName,
		Team:         &team,
		Operator:     s.Operator,
		Disconnected: !s.Connected,
	}
}

type lineKey struct {
	direction int
	index     int
}

// ActiveGame is the in-game state: the grid and the set of lines already
// announced as bingos, so a line is only ever announced once.
type ActiveGame struct {
	StartTime time.Time
	Cells     []types.MapCell
	wins      map[lineKey]struct{}
	limit     *time.Timer
}

// Room is the primary aggregate. Its mutex serializes every mutation;
// events are broadcast under the lock so subscribers observe mutations in
// the order they were applied. External calls (identity, catalogue) never
// happen under this lock.
type Room struct {
	mu       sync.Mutex
	name     string
	joinCode types.JoinCodeType
	config   types.RoomConfiguration
	slots    []*PlayerSlot
	teams    []types.GameTeam
	maps     []types.GameMap
	state    RoomState
	game     *ActiveGame

	// configSeq increments whenever the map list is invalidated by a
	// configuration change. Asynchronous map loads carry the value they
	// started under and discard their result if it moved.
	configSeq uint64

	fabric  *channels.Fabric
	roomCh  channels.Handle
	teamChs []channels.Handle
	palette []types.TeamDefinition

	// onEmpty is invoked, outside the room lock, when the last slot is
	// removed. The registry uses it to unlink and destroy the room.
	onEmpty func(*Room)
}

func newRoom(name string, code types.JoinCodeType, config types.RoomConfiguration,
	fabric *channels.Fabric, palette []types.TeamDefinition, onEmpty func(*Room)) *Room {
	r := &Room{
		name:     name,
		joinCode: code,
		config:   config,
		fabric:   fabric,
		roomCh:   fabric.Open(),
		palette:  palette,
		onEmpty:  onEmpty,
	}
	// Fresh rooms start with two teams so players always have somewhere
	// to land.
	r.addTeamLocked()
	r.addTeamLocked()
	metrics.ActiveRooms.Inc()
	return r
}

// Name returns the room's display name. Immutable after creation.
func (r *Room) Name() string {
	return r.name
}

// --- reconnect.RoomHandle ---

func (r *Room) Alive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state != StateTerminated
}

func (r *Room) JoinCode() types.JoinCodeType {
	return r.joinCode
}

func (r *Room) SlotExists(account types.AccountIdType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slotLocked(account) != nil
}

// EvictExpired removes the account's slot as if the player had left.
// Called by the reconnect sweeper when the linger window runs out.
func (r *Room) EvictExpired(account types.AccountIdType) {
	r.Leave(account)
}

// --- membership ---

func (r *Room) slotLocked(account types.AccountIdType) *PlayerSlot {
	for _, s := range r.slots {
		if s.Identity.AccountID == account {
			return s
		}
	}
	return nil
}

func (r *Room) statusLocked() types.RoomStatus {
	status := types.RoomStatus{
		Members: make([]types.NetworkPlayer, 0, len(r.slots)),
		Teams:   append([]types.GameTeam(nil), r.teams...),
	}
	for _, s := range r.slots {
		status.Members = append(status.Members, s.network())
	}
	return status
}

// Status returns the current membership snapshot.
func (r *Room) Status() types.RoomStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLocked()
}

func (r *Room) broadcastLocked(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logging.Error(context.Background(), "failed to marshal event",
			zap.String("join_code", string(r.joinCode)), zap.Error(err))
		return
	}
	r.fabric.Broadcast(r.roomCh, data)
}

func (r *Room) broadcastRoomUpdateLocked() {
	r.broadcastLocked(protocol.NewRoomUpdateEvent(r.statusLocked()))
}

// pickTeamLocked chooses the team a fresh member lands on.
func (r *Room) pickTeamLocked() types.TeamIndex {
	if r.config.Randomize && len(r.teams) > 0 {
		return types.TeamIndex(randv2.IntN(len(r.teams)))
	}
	return 0
}

// Join adds the caller as a non-operator member. The membership update is
// broadcast before the joiner's subscription is installed, so the joiner
// learns the state from the response rather than a duplicate event.
func (r *Room) Join(client types.ClientInterface, password string) (types.RoomStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateTerminated {
		return types.RoomStatus{}, ErrRoomNotFound
	}
	if r.state == StateInGame {
		return types.RoomStatus{}, ErrRoomStarted
	}
	if r.config.Password != "" && r.config.Password != password {
		return types.RoomStatus{}, ErrWrongPassword
	}

	identity := client.Identity()
	if existing := r.slotLocked(identity.AccountID); existing != nil {
		if existing.Connected {
			return types.RoomStatus{}, ErrAlreadyInRoom
		}
		// The player still holds a seat from a dropped connection.
		// Joining again simply reattaches it.
		r.reattachLocked(existing, client)
		return r.statusLocked(), nil
	}

	if r.config.Size != 0 && uint32(len(r.slots)) >= r.config.Size {
		return types.RoomStatus{}, ErrRoomFull
	}

	slot := &PlayerSlot{
		Identity:  identity,
		Team:      r.pickTeamLocked(),
		Connected: true,
		ClientID:  client.ID(),
	}
	r.slots = append(r.slots, slot)
	metrics.RoomMembers.WithLabelValues(string(r.joinCode)).Set(float64(len(r.slots)))

	r.broadcastRoomUpdateLocked()
	r.subscribeLocked(slot, client)
	return r.statusLocked(), nil
}

// addOperator seats the room creator. Only called once, right after
// construction, before the room is published in the registry.
func (r *Room) addOperator(client types.ClientInterface) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := &PlayerSlot{
		Identity:  client.Identity(),
		Team:      r.pickTeamLocked(),
		Operator:  true,
		Connected: true,
		ClientID:  client.ID(),
	}
	r.slots = append(r.slots, slot)
	metrics.RoomMembers.WithLabelValues(string(r.joinCode)).Set(float64(len(r.slots)))
	r.subscribeLocked(slot, client)
}

func (r *Room) subscribeLocked(slot *PlayerSlot, client types.ClientInterface) {
	r.fabric.Subscribe(r.roomCh, client.ID(), client.Mailbox())
	if int(slot.Team) < len(r.teamChs) {
		r.fabric.Subscribe(r.teamChs[slot.Team], client.ID(), client.Mailbox())
	}
}

func (r *Room) unsubscribeLocked(slot *PlayerSlot) {
	if slot.ClientID == "" {
		return
	}
	r.fabric.Unsubscribe(r.roomCh, slot.ClientID)
	if int(slot.Team) < len(r.teamChs) {
		r.fabric.Unsubscribe(r.teamChs[slot.Team], slot.ClientID)
	}
}

func (r *Room) reattachLocked(slot *PlayerSlot, client types.ClientInterface) {
	slot.Connected = true
	slot.ClientID = client.ID()
	r.broadcastRoomUpdateLocked()
	r.subscribeLocked(slot, client)
}

// Reattach resumes a preserved slot on a fresh connection. Reports false
// when the slot is gone, in which case the caller proceeds as a stranger.
func (r *Room) Reattach(client types.ClientInterface) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateTerminated {
		return false
	}
	slot := r.slotLocked(client.Identity().AccountID)
	if slot == nil {
		return false
	}
	r.reattachLocked(slot, client)
	return true
}

// MarkDisconnected flags the member's slot after a connection drop. The
// slot survives for the reconnect window; membership is broadcast so
// other players see the grayed-out state.
func (r *Room) MarkDisconnected(account types.AccountIdType) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := r.slotLocked(account)
	if slot == nil {
		return
	}
	r.unsubscribeLocked(slot)
	slot.Connected = false
	slot.ClientID = ""
	r.broadcastRoomUpdateLocked()
}

// Leave removes the member's slot. When the departing member was the only
// operator, the longest-present remaining member is promoted. An empty
// room is destroyed.
func (r *Room) Leave(account types.AccountIdType) {
	r.mu.Lock()

	slot := r.slotLocked(account)
	if slot == nil {
		r.mu.Unlock()
		return
	}

	for i, s := range r.slots {
		if s == slot {
			r.slots = append(r.slots[:i], r.slots[i+1:]...)
			break
		}
	}
	r.unsubscribeLocked(slot)
	metrics.RoomMembers.WithLabelValues(string(r.joinCode)).Set(float64(len(r.slots)))

	if len(r.slots) == 0 {
		r.mu.Unlock()
		if r.onEmpty != nil {
			r.onEmpty(r)
		}
		return
	}

	operators := 0
	for _, s := range r.slots {
		if s.Operator {
			operators++
		}
	}
	if operators == 0 {
		r.slots[0].Operator = true
		logging.Info(context.Background(), "promoted member to operator",
			zap.String("join_code", string(r.joinCode)),
			zap.String("account_id", string(r.slots[0].Identity.AccountID)))
	}
	r.broadcastRoomUpdateLocked()
	r.mu.Unlock()
}

// --- teams ---

// addTeamLocked appends a team drawn uniformly from the unused palette
// entries and opens its channel. Reports false when the palette is spent.
func (r *Room) addTeamLocked() bool {
	used := make(map[string]struct{}, len(r.teams))
	for _, t := range r.teams {
		used[t.Name] = struct{}{}
	}
	var free []types.TeamDefinition
	for _, def := range r.palette {
		if _, taken := used[def.Name]; !taken {
			free = append(free, def)
		}
	}
	if len(free) == 0 {
		return false
	}

	def := free[randv2.IntN(len(free))]
	r.teams = append(r.teams, types.GameTeam{
		ID:    types.TeamIndex(len(r.teams)),
		Name:  def.Name,
		Color: def.Color,
	})
	r.teamChs = append(r.teamChs, r.fabric.Open())
	return true
}

// CreateTeam adds a team picked from the unused palette entries. Past the
// palette size the call is a silent no-op.
func (r *Room) CreateTeam(account types.AccountIdType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := r.slotLocked(account)
	if slot == nil || !slot.Operator {
		return ErrNotOperator
	}
	if r.addTeamLocked() {
		r.broadcastRoomUpdateLocked()
	}
	return nil
}

// ChangeTeam moves the member onto the given team and switches their
// team-channel subscription.
func (r *Room) ChangeTeam(client types.ClientInterface, team int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := r.slotLocked(client.Identity().AccountID)
	if slot == nil {
		return ErrNotInRoom
	}
	if team < 0 || team >= len(r.teams) {
		return ErrNoSuchTeam
	}

	if int(slot.Team) < len(r.teamChs) {
		r.fabric.Unsubscribe(r.teamChs[slot.Team], slot.ClientID)
	}
	slot.Team = types.TeamIndex(team)
	r.fabric.Subscribe(r.teamChs[team], slot.ClientID, client.Mailbox())
	r.broadcastRoomUpdateLocked()
	return nil
}

// MaxTeams is the team count ceiling, set by the configured palette.
func (r *Room) MaxTeams() int {
	return len(r.palette)
}

// Teams returns a snapshot of the current team list.
func (r *Room) Teams() []types.GameTeam {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.GameTeam(nil), r.teams...)
}

// --- game lifecycle ---

// StartGame transitions the room from lobby to in-game. Requires a
// complete map list. The time limit, when configured, terminates the
// room when it elapses.
func (r *Room) StartGame(account types.AccountIdType, onTimeLimit func(*Room)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := r.slotLocked(account)
	if slot == nil || !slot.Operator {
		return ErrNotOperator
	}
	if r.state != StateLobby {
		return ErrRoomStarted
	}
	if len(r.maps) != r.config.CellCount() {
		return fmt.Errorf("maps are still loading (%d of %d ready)", len(r.maps), r.config.CellCount())
	}

	r.state = StateInGame
	r.game = &ActiveGame{
		StartTime: time.Now(),
		Cells:     make([]types.MapCell, r.config.CellCount()),
		wins:      make(map[lineKey]struct{}),
	}
	if r.config.TimeLimit > 0 && onTimeLimit != nil {
		r.game.limit = time.AfterFunc(time.Duration(r.config.TimeLimit)*time.Second, func() {
			onTimeLimit(r)
		})
	}
	r.broadcastLocked(protocol.NewGameStartEvent(append([]types.GameMap(nil), r.maps...)))
	return nil
}

// destroy closes the room's channels and marks it terminated. Idempotent.
// The registry unlinks the room before calling this.
func (r *Room) destroy(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateTerminated {
		return
	}
	if reason != "" {
		r.broadcastLocked(protocol.NewTraceEvent(reason))
	}
	r.state = StateTerminated
	if r.game != nil && r.game.limit != nil {
		r.game.limit.Stop()
	}
	r.fabric.Close(r.roomCh)
	for _, ch := range r.teamChs {
		r.fabric.Close(ch)
	}
	metrics.RoomMembers.DeleteLabelValues(string(r.joinCode))
	metrics.ActiveRooms.Dec()
}

// --- sync ---

// Sync builds the full room snapshot for the caller.
func (r *Room) Sync(seq uint32, account types.AccountIdType) (protocol.SyncResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := r.slotLocked(account)
	if slot == nil {
		return protocol.SyncResponse{}, ErrNotInRoom
	}

	resp := protocol.SyncResponse{
		Seq:      seq,
		RoomName: r.name,
		JoinCode: string(r.joinCode),
		Host:     slot.Operator,
		Config:   r.config,
		Status:   r.statusLocked(),
		Maps:     append([]types.GameMap(nil), r.maps...),
	}
	if r.game != nil && r.state == StateInGame {
		cells := make([]types.MapCell, len(r.game.Cells))
		copy(cells, r.game.Cells)
		resp.GameData = &protocol.GameSnapshot{
			StartTime: uint64(time.Since(r.game.StartTime).Milliseconds()),
			Cells:     cells,
		}
	}
	return resp, nil
}
