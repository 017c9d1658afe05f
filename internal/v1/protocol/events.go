package protocol

import "github.com/tmbingo/bingo-server/internal/v1/types"

// Event names carried in the "event" field of unsolicited server frames.
const (
	EventRoomUpdate       = "RoomUpdate"
	EventRoomConfigUpdate = "RoomConfigUpdate"
	EventMapsLoadResult   = "MapsLoadResult"
	EventGameStart        = "GameStart"
	EventCellClaim        = "CellClaim"
	EventAnnounceBingo    = "AnnounceBingo"
	EventTrace            = "Trace"
)

// Bingo line directions as encoded on the wire. For diagonals, index 0 is
// the main diagonal (top-left to bottom-right) and index 1 the
// anti-diagonal.
const (
	DirectionHorizontal = 1
	DirectionVertical   = 2
	DirectionDiagonal   = 3
)

// RoomUpdateEvent carries the full membership snapshot after any
// membership or team change.
type RoomUpdateEvent struct {
	Event string `json:"event"`
	types.RoomStatus
}

func NewRoomUpdateEvent(status types.RoomStatus) RoomUpdateEvent {
	return RoomUpdateEvent{Event: EventRoomUpdate, RoomStatus: status}
}

// RoomConfigUpdateEvent announces a configuration change by the operator.
type RoomConfigUpdateEvent struct {
	Event string `json:"event"`
	types.RoomConfiguration
}

func NewRoomConfigUpdateEvent(config types.RoomConfiguration) RoomConfigUpdateEvent {
	return RoomConfigUpdateEvent{Event: EventRoomConfigUpdate, RoomConfiguration: config}
}

// MapsLoadResultEvent reports the completion of an asynchronous map
// fetch. Error is empty on success.
type MapsLoadResultEvent struct {
	Event string `json:"event"`
	Error string `json:"error,omitempty"`
}

func NewMapsLoadResultEvent(err error) MapsLoadResultEvent {
	e := MapsLoadResultEvent{Event: EventMapsLoadResult}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// GameStartEvent announces the transition to the in-game state.
type GameStartEvent struct {
	Event string          `json:"event"`
	Maps  []types.GameMap `json:"maps"`
}

func NewGameStartEvent(maps []types.GameMap) GameStartEvent {
	return GameStartEvent{Event: EventGameStart, Maps: maps}
}

// CellClaimEvent announces an accepted claim on a grid cell.
type CellClaimEvent struct {
	Event  string         `json:"event"`
	CellID int            `json:"cell_id"`
	Claim  types.MapClaim `json:"claim"`
}

func NewCellClaimEvent(cellID int, claim types.MapClaim) CellClaimEvent {
	return CellClaimEvent{Event: EventCellClaim, CellID: cellID, Claim: claim}
}

// AnnounceBingoEvent announces a newly completed winning line.
type AnnounceBingoEvent struct {
	Event     string          `json:"event"`
	Direction int             `json:"direction"`
	Index     int             `json:"index"`
	Team      types.TeamIndex `json:"team"`
}

func NewAnnounceBingoEvent(direction, index int, team types.TeamIndex) AnnounceBingoEvent {
	return AnnounceBingoEvent{Event: EventAnnounceBingo, Direction: direction, Index: index, Team: team}
}

// TraceEvent carries free-form diagnostic text to the client.
type TraceEvent struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

func NewTraceEvent(message string) TraceEvent {
	return TraceEvent{Event: EventTrace, Message: message}
}
