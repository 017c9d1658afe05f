package protocol

import "github.com/tmbingo/bingo-server/internal/v1/types"

// Every request receives exactly one response echoing its seq. Responses
// either carry variant-specific fields or a single "error" string.

// OkResponse acknowledges a request with no result data.
type OkResponse struct {
	Seq uint32 `json:"seq"`
}

// ErrorResponse reports a request-level failure to the initiator only.
type ErrorResponse struct {
	Seq   uint32 `json:"seq"`
	Error string `json:"error"`
}

type CreateRoomResponse struct {
	Seq      uint32           `json:"seq"`
	Name     string           `json:"name"`
	JoinCode string           `json:"join_code"`
	MaxTeams int              `json:"max_teams"`
	Teams    []types.GameTeam `json:"teams"`
}

type JoinRoomResponse struct {
	Seq    uint32           `json:"seq"`
	Name   string           `json:"name"`
	Status types.RoomStatus `json:"status"`
}

// GameSnapshot is the in-game state included in a Sync response.
// StartTime is reported as milliseconds elapsed since the game started.
type GameSnapshot struct {
	StartTime uint64          `json:"start_time"`
	Cells     []types.MapCell `json:"cells"`
}

// SyncResponse is the full room snapshot for a (re)connected client.
type SyncResponse struct {
	Seq      uint32                  `json:"seq"`
	RoomName string                  `json:"room_name"`
	JoinCode string                  `json:"join_code"`
	Host     bool                    `json:"host"`
	Config   types.RoomConfiguration `json:"config"`
	Status   types.RoomStatus        `json:"status"`
	Maps     []types.GameMap         `json:"maps"`
	GameData *GameSnapshot           `json:"game_data,omitempty"`
}
