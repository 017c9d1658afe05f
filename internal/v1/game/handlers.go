package game

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tmbingo/bingo-server/internal/v1/logging"
	"github.com/tmbingo/bingo-server/internal/v1/metrics"
	"github.com/tmbingo/bingo-server/internal/v1/protocol"
	"github.com/tmbingo/bingo-server/internal/v1/types"
)

// HandleConnect registers a freshly handshaken connection. When a
// reconnect record exists and its room still holds the player's slot, the
// session resumes it; otherwise the client starts with no room.
func (reg *Registry) HandleConnect(ctx context.Context, client types.ClientInterface) {
	s := &session{client: client}
	reg.mu.Lock()
	reg.sessions[client.ID()] = s
	reg.mu.Unlock()

	account := client.Identity().AccountID
	handle, ok := reg.reconnects.Claim(account)
	if !ok {
		return
	}
	room, ok := handle.(*Room)
	if !ok || !room.Reattach(client) {
		return
	}

	reg.mu.Lock()
	s.room = room
	reg.mu.Unlock()
	logging.Info(ctx, "player resumed room after reconnect",
		zap.String("account_id", string(account)),
		zap.String("join_code", string(room.joinCode)))
}

// HandleDisconnect tears down the connection's session. A member of a
// live room keeps their slot for the linger window; the slot is flagged
// disconnected and a reconnect record is stashed.
func (reg *Registry) HandleDisconnect(ctx context.Context, client types.ClientInterface) {
	reg.mu.Lock()
	s := reg.sessions[client.ID()]
	delete(reg.sessions, client.ID())
	var room *Room
	if s != nil {
		room = s.room
	}
	reg.mu.Unlock()

	if room == nil {
		return
	}

	account := client.Identity().AccountID
	room.MarkDisconnected(account)
	if room.Alive() {
		reg.reconnects.Stash(account, room)
		logging.Info(ctx, "member disconnected, slot preserved",
			zap.String("account_id", string(account)),
			zap.String("join_code", string(room.joinCode)))
	}
}

// HandleFrame decodes one request frame and dispatches it. Every request
// receives exactly one response carrying its seq: either the handler's
// payload, a bare Ok, or an error string. Handler failures never
// terminate the connection.
func (reg *Registry) HandleFrame(ctx context.Context, client types.ClientInterface, frame []byte) {
	req, err := protocol.DecodeRequest(frame)
	if err != nil {
		client.Send(protocol.ErrorResponse{Seq: req.Seq, Error: err.Error()})
		return
	}

	start := time.Now()
	payload, err := reg.dispatch(ctx, client, req)
	metrics.RequestDuration.WithLabelValues(req.Request).Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		metrics.RequestsProcessed.WithLabelValues(req.Request, "error").Inc()
		client.Send(protocol.ErrorResponse{Seq: req.Seq, Error: err.Error()})
	case payload != nil:
		metrics.RequestsProcessed.WithLabelValues(req.Request, "ok").Inc()
		client.Send(payload)
	default:
		metrics.RequestsProcessed.WithLabelValues(req.Request, "ok").Inc()
		client.Send(protocol.OkResponse{Seq: req.Seq})
	}
}

func (reg *Registry) dispatch(ctx context.Context, client types.ClientInterface, req protocol.BaseRequest) (any, error) {
	switch req.Request {
	case protocol.RequestPing:
		return nil, nil
	case protocol.RequestCreateRoom:
		return reg.handleCreateRoom(ctx, client, req)
	case protocol.RequestJoinRoom:
		return reg.handleJoinRoom(ctx, client, req)
	case protocol.RequestEditRoomConfig:
		return reg.handleEditRoomConfig(client, req)
	case protocol.RequestCreateTeam:
		return reg.handleCreateTeam(client)
	case protocol.RequestChangeTeam:
		return reg.handleChangeTeam(client, req)
	case protocol.RequestStartGame:
		return reg.handleStartGame(ctx, client)
	case protocol.RequestClaimCell:
		return reg.handleClaimCell(client, req)
	case protocol.RequestLeaveRoom:
		return reg.handleLeaveRoom(ctx, client)
	case protocol.RequestSync:
		return reg.handleSync(client, req)
	}
	return nil, fmt.Errorf("unknown request '%s'", req.Request)
}

// currentRoom resolves the caller's room, if any.
func (reg *Registry) currentRoom(client types.ClientInterface) (*Room, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	s := reg.sessions[client.ID()]
	if s == nil || s.room == nil {
		return nil, ErrNotInRoom
	}
	return s.room, nil
}

func (reg *Registry) handleCreateRoom(ctx context.Context, client types.ClientInterface, req protocol.BaseRequest) (any, error) {
	var p protocol.CreateRoomPayload
	if err := req.DecodePayload(&p); err != nil {
		return nil, err
	}
	if err := p.RoomConfiguration.Validate(); err != nil {
		return nil, err
	}

	reg.mu.Lock()
	s := reg.sessions[client.ID()]
	if s == nil {
		reg.mu.Unlock()
		return nil, ErrNotInRoom
	}
	if s.room != nil {
		reg.mu.Unlock()
		return nil, ErrAlreadyInRoom
	}
	code := reg.generateCodeLocked()
	room := newRoom(p.Name, code, p.RoomConfiguration, reg.fabric, reg.palette, func(r *Room) {
		reg.removeRoom(r, "")
	})
	reg.rooms[code] = room
	s.room = room
	reg.mu.Unlock()

	room.addOperator(client)
	go reg.loadMaps(room, 0, types.MapQuery{
		Mode:      p.Selection,
		Count:     p.RoomConfiguration.CellCount(),
		MappackID: p.MappackID,
	})

	logging.Info(ctx, "room created",
		zap.String("join_code", string(code)), zap.String("name", p.Name),
		zap.String("account_id", string(client.Identity().AccountID)))

	return protocol.CreateRoomResponse{
		Seq:      req.Seq,
		Name:     p.Name,
		JoinCode: string(code),
		MaxTeams: room.MaxTeams(),
		Teams:    room.Teams(),
	}, nil
}

func (reg *Registry) handleJoinRoom(ctx context.Context, client types.ClientInterface, req protocol.BaseRequest) (any, error) {
	var p protocol.JoinRoomPayload
	if err := req.DecodePayload(&p); err != nil {
		return nil, err
	}

	if room, err := reg.currentRoom(client); err == nil && room != nil {
		return nil, ErrAlreadyInRoom
	}
	room, ok := reg.FindRoom(types.JoinCodeType(p.JoinCode))
	if !ok {
		return nil, ErrRoomNotFound
	}

	status, err := room.Join(client, p.Password)
	if err != nil {
		return nil, err
	}

	reg.mu.Lock()
	if s := reg.sessions[client.ID()]; s != nil {
		s.room = room
	}
	reg.mu.Unlock()
	reg.reconnects.Drop(client.Identity().AccountID)

	logging.Info(ctx, "player joined room",
		zap.String("join_code", p.JoinCode),
		zap.String("account_id", string(client.Identity().AccountID)))

	return protocol.JoinRoomResponse{Seq: req.Seq, Name: room.Name(), Status: status}, nil
}

func (reg *Registry) handleEditRoomConfig(client types.ClientInterface, req protocol.BaseRequest) (any, error) {
	var p protocol.EditRoomConfigPayload
	if err := req.DecodePayload(&p); err != nil {
		return nil, err
	}
	room, err := reg.currentRoom(client)
	if err != nil {
		return nil, err
	}

	rec, err := room.EditConfig(client.Identity().AccountID, p.RoomConfiguration)
	if err != nil {
		return nil, err
	}
	if len(rec.returned) > 0 {
		reg.provider.ExtendMaps(rec.returnMode, rec.returned)
	}
	if rec.fetch != nil {
		go reg.loadMaps(room, rec.seq, *rec.fetch)
	}
	return nil, nil
}

func (reg *Registry) handleCreateTeam(client types.ClientInterface) (any, error) {
	room, err := reg.currentRoom(client)
	if err != nil {
		return nil, err
	}
	return nil, room.CreateTeam(client.Identity().AccountID)
}

func (reg *Registry) handleChangeTeam(client types.ClientInterface, req protocol.BaseRequest) (any, error) {
	var p protocol.ChangeTeamPayload
	if err := req.DecodePayload(&p); err != nil {
		return nil, err
	}
	room, err := reg.currentRoom(client)
	if err != nil {
		return nil, err
	}
	return nil, room.ChangeTeam(client, p.TeamID)
}

func (reg *Registry) handleStartGame(ctx context.Context, client types.ClientInterface) (any, error) {
	room, err := reg.currentRoom(client)
	if err != nil {
		return nil, err
	}
	if err := room.StartGame(client.Identity().AccountID, reg.expireGame); err != nil {
		return nil, err
	}
	logging.Info(ctx, "game started", zap.String("join_code", string(room.joinCode)))
	return nil, nil
}

func (reg *Registry) handleClaimCell(client types.ClientInterface, req protocol.BaseRequest) (any, error) {
	var p protocol.ClaimCellPayload
	if err := req.DecodePayload(&p); err != nil {
		return nil, err
	}
	if !p.Medal.Valid() {
		return nil, fmt.Errorf("unknown medal %d", int(p.Medal))
	}
	room, err := reg.currentRoom(client)
	if err != nil {
		return nil, err
	}
	return nil, room.ClaimCell(client.Identity().AccountID, p.UID, p.Time, p.Medal)
}

func (reg *Registry) handleLeaveRoom(ctx context.Context, client types.ClientInterface) (any, error) {
	room, err := reg.currentRoom(client)
	if err != nil {
		return nil, err
	}

	reg.mu.Lock()
	if s := reg.sessions[client.ID()]; s != nil {
		s.room = nil
	}
	reg.mu.Unlock()

	account := client.Identity().AccountID
	room.Leave(account)
	reg.reconnects.Drop(account)

	logging.Info(ctx, "player left room",
		zap.String("join_code", string(room.joinCode)),
		zap.String("account_id", string(account)))
	return nil, nil
}

func (reg *Registry) handleSync(client types.ClientInterface, req protocol.BaseRequest) (any, error) {
	room, err := reg.currentRoom(client)
	if err != nil {
		return nil, err
	}
	resp, err := room.Sync(req.Seq, client.Identity().AccountID)
	if err != nil {
		return nil, err
	}
	return resp, nil
}
