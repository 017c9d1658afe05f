package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tmbingo/bingo-server/internal/v1/types"
)

// Request names carried in the "request" field of the envelope.
const (
	RequestPing           = "Ping"
	RequestCreateRoom     = "CreateRoom"
	RequestJoinRoom       = "JoinRoom"
	RequestEditRoomConfig = "EditRoomConfig"
	RequestCreateTeam     = "CreateTeam"
	RequestChangeTeam     = "ChangeTeam"
	RequestStartGame      = "StartGame"
	RequestClaimCell      = "ClaimCell"
	RequestLeaveRoom      = "LeaveRoom"
	RequestSync           = "Sync"
)

// ErrMissingRequestName is returned when the envelope has no "request"
// field to dispatch on.
var ErrMissingRequestName = errors.New("request name missing")

// BaseRequest is the envelope every client request travels in. The
// variant-specific fields stay in raw form until the handler decodes them
// with DecodePayload; seq is opaque to the server and echoed back on the
// response.
type BaseRequest struct {
	Seq     uint32 `json:"seq"`
	Request string `json:"request"`

	raw json.RawMessage
}

// DecodeRequest parses a frame body into the request envelope.
func DecodeRequest(data []byte) (BaseRequest, error) {
	var req BaseRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return BaseRequest{}, fmt.Errorf("malformed request envelope: %w", err)
	}
	if req.Request == "" {
		return BaseRequest{}, ErrMissingRequestName
	}
	req.raw = json.RawMessage(data)
	return req, nil
}

// DecodePayload unmarshals the variant-specific fields of the request.
// The envelope fields are simply ignored by the target struct.
func (r BaseRequest) DecodePayload(v any) error {
	if err := json.Unmarshal(r.raw, v); err != nil {
		return fmt.Errorf("malformed %s payload: %w", r.Request, err)
	}
	return nil
}

// --- Request payloads ---

// CreateRoomPayload carries the room name plus the full room
// configuration, flattened into the envelope object.
type CreateRoomPayload struct {
	Name string `json:"name"`
	types.RoomConfiguration
}

type JoinRoomPayload struct {
	JoinCode string `json:"join_code"`
	Password string `json:"password,omitempty"`
}

type EditRoomConfigPayload struct {
	types.RoomConfiguration
}

type ChangeTeamPayload struct {
	TeamID int `json:"team_id"`
}

type ClaimCellPayload struct {
	UID   string      `json:"uid"`
	Time  uint64      `json:"time"` // milliseconds
	Medal types.Medal `json:"medal"`
}
