// Package types holds the core domain types shared between the transport,
// game and maps packages, plus the interfaces that decouple them. Keeping
// these here avoids import cycles between the connection layer and the room
// logic.
package types

import (
	"context"
	"errors"
	"fmt"
)

// --- Core Domain Types ---

// AccountIdType is the stable account identifier issued by the identity
// service. Player equality is defined by this value.
type AccountIdType string

// DisplayNameType is the human-readable name for a player.
type DisplayNameType string

// JoinCodeType is the human-typable identifier of a live room.
type JoinCodeType string

// ClientIdType uniquely identifies one live connection (not an account;
// the same account reconnecting gets a fresh ClientIdType).
type ClientIdType string

// TeamIndex is the dense index of a team within its room. Dense indices
// travel across the wire as plain integers.
type TeamIndex int

// PlayerIdentity is immutable once authenticated.
type PlayerIdentity struct {
	AccountID   AccountIdType   `json:"account_id"`
	DisplayName DisplayNameType `json:"display_name"`
}

// Medal is the ordered quality level of a race time. Lower values are
// better: Author < Gold < Silver < Bronze. MedalNone never satisfies any
// requirement.
type Medal int

const (
	MedalAuthor Medal = iota
	MedalGold
	MedalSilver
	MedalBronze
	MedalNone
)

func (m Medal) String() string {
	switch m {
	case MedalAuthor:
		return "Author"
	case MedalGold:
		return "Gold"
	case MedalSilver:
		return "Silver"
	case MedalBronze:
		return "Bronze"
	case MedalNone:
		return "None"
	}
	return fmt.Sprintf("Medal(%d)", int(m))
}

// Valid reports whether m is one of the defined medal values.
func (m Medal) Valid() bool {
	return m >= MedalAuthor && m <= MedalNone
}

// Satisfies reports whether a run awarded medal m is acceptable under the
// required medal. MedalNone on either side never satisfies.
func (m Medal) Satisfies(required Medal) bool {
	if m == MedalNone {
		return false
	}
	return m <= required || required == MedalNone
}

// MapMode selects where a room's maps come from.
type MapMode int

const (
	MapModeTOTD MapMode = iota
	MapModeRandomTMX
	MapModeMappack
)

func (m MapMode) String() string {
	switch m {
	case MapModeTOTD:
		return "TOTD"
	case MapModeRandomTMX:
		return "RandomTMX"
	case MapModeMappack:
		return "Mappack"
	}
	return fmt.Sprintf("MapMode(%d)", int(m))
}

// Valid reports whether m is one of the defined map modes.
func (m MapMode) Valid() bool {
	return m >= MapModeTOTD && m <= MapModeMappack
}

// Visibility controls whether a room is listed publicly.
type Visibility int

const (
	VisibilityPublic Visibility = iota
	VisibilityPrivate
)

// RoomConfiguration is the host-editable configuration of a room. Field
// names match the wire protocol.
type RoomConfiguration struct {
	Size        uint32     `json:"size"` // 0 means unlimited
	Visibility  Visibility `json:"visibility"`
	Password    string     `json:"password,omitempty"`
	Randomize   bool       `json:"randomize"`
	ChatEnabled bool       `json:"chat_enabled"`
	GridSize    int        `json:"grid_size"`
	Selection   MapMode    `json:"selection"`
	Medal       Medal      `json:"medal"`
	TimeLimit   uint32     `json:"time_limit"` // seconds, 0 means unlimited
	MappackID   string     `json:"mappack_id,omitempty"`
}

const (
	// MinGridSize and MaxGridSize bound the playable grid side length.
	MinGridSize = 3
	MaxGridSize = 7
)

// CellCount returns the number of grid cells for this configuration.
func (c RoomConfiguration) CellCount() int {
	return c.GridSize * c.GridSize
}

// Validate checks the configuration for values the server refuses to host.
func (c RoomConfiguration) Validate() error {
	if c.GridSize < MinGridSize || c.GridSize > MaxGridSize {
		return fmt.Errorf("grid_size must be between %d and %d (got %d)", MinGridSize, MaxGridSize, c.GridSize)
	}
	if !c.Selection.Valid() {
		return fmt.Errorf("unknown map selection mode %d", int(c.Selection))
	}
	if !c.Medal.Valid() {
		return fmt.Errorf("unknown medal %d", int(c.Medal))
	}
	if c.Selection == MapModeMappack && c.MappackID == "" {
		return errors.New("mappack selection requires a mappack_id")
	}
	return nil
}

// GameMap is one race map record from the map catalogue. Rooms own their
// map lists outright; the prefetcher hands out copies, never shared state.
type GameMap struct {
	TrackID    int64  `json:"track_id"`
	UID        string `json:"uid"`
	Name       string `json:"name"`
	AuthorName string `json:"author_name"`
}

// GameTeam is a colored team within a room. ID is a dense index assigned
// in creation order; Name and Color come from the configured palette.
type GameTeam struct {
	ID    TeamIndex `json:"id"`
	Name  string    `json:"name"`
	Color string    `json:"color"`
}

// TeamDefinition is one palette entry (name plus hex color) from the
// server configuration.
type TeamDefinition struct {
	Name  string
	Color string
}

// NetworkPlayer is the wire representation of a room member.
type NetworkPlayer struct {
	Name         DisplayNameType `json:"name"`
	Team         *TeamIndex      `json:"team"`
	Operator     bool            `json:"operator"`
	Disconnected bool            `json:"disconnected"`
}

// RoomStatus is the membership snapshot broadcast in RoomUpdate events.
type RoomStatus struct {
	Members []NetworkPlayer `json:"members"`
	Teams   []GameTeam      `json:"teams"`
}

// MapClaim records who currently holds a cell and with what run.
type MapClaim struct {
	Player NetworkPlayer `json:"player"`
	Time   uint64        `json:"time"` // milliseconds
	Medal  Medal         `json:"medal"`
}

// MapCell is one square of the bingo grid.
type MapCell struct {
	Claim *MapClaim `json:"claim"`
}

// --- Shared Interfaces ---

// Mailbox is the non-blocking outbound queue of a connection. Deliver
// never blocks; it reports false when the message was dropped because the
// mailbox is full or already closed. Channel subscriber sets hold only
// Mailbox references so they never extend a connection's lifetime.
type Mailbox interface {
	Deliver(message []byte) bool
	IsClosed() bool
	RequestClose()
}

// ClientInterface is the behavior the game layer requires from a live
// connection. The transport package implements it; tests substitute mocks.
type ClientInterface interface {
	ID() ClientIdType
	Identity() PlayerIdentity
	Mailbox() Mailbox
	// Send marshals the payload to JSON and enqueues it best-effort.
	Send(payload any)
	// Close requests an orderly shutdown of the connection.
	Close()
}

// IdentityValidator validates an opaque token against the identity
// service and resolves it to a player identity.
type IdentityValidator interface {
	Validate(ctx context.Context, token string) (PlayerIdentity, error)
}

// MapQuery describes one request for maps from the prefetcher.
type MapQuery struct {
	Mode      MapMode
	Count     int
	MappackID string
}

// MapProvider is the surface the game layer consumes from the map
// prefetcher.
type MapProvider interface {
	GetMaps(ctx context.Context, query MapQuery) ([]GameMap, error)
	ExtendMaps(mode MapMode, maps []GameMap)
}
