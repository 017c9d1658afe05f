package game

import (
	"github.com/tmbingo/bingo-server/internal/v1/protocol"
	"github.com/tmbingo/bingo-server/internal/v1/types"
)

// mapReconcile is the queue work a configuration change leaves behind.
// The registry executes it outside the room lock: returned maps go back
// to their origin queue, and fetch (when set) runs as an asynchronous
// load tagged with seq.
type mapReconcile struct {
	returnMode types.MapMode
	returned   []types.GameMap
	fetch      *types.MapQuery
	seq        uint64
}

// EditConfig replaces the room configuration and reconciles the map list
// with it: shrinking the grid returns the surplus, growing schedules a
// deficit fetch, and a selection change returns everything and refetches.
// Only the lobby configuration can change; a started grid is immutable.
func (r *Room) EditConfig(account types.AccountIdType, config types.RoomConfiguration) (mapReconcile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := r.slotLocked(account)
	if slot == nil || !slot.Operator {
		return mapReconcile{}, ErrNotOperator
	}
	if r.state != StateLobby {
		return mapReconcile{}, ErrRoomStarted
	}
	if err := config.Validate(); err != nil {
		return mapReconcile{}, err
	}

	old := r.config
	r.config = config
	r.broadcastLocked(protocol.NewRoomConfigUpdateEvent(config))

	selectionChanged := old.Selection != config.Selection ||
		(config.Selection == types.MapModeMappack && old.MappackID != config.MappackID)
	gridChanged := old.GridSize != config.GridSize
	if !selectionChanged && !gridChanged {
		return mapReconcile{}, nil
	}

	// Any change that alters the map list invalidates in-flight loads.
	r.configSeq++
	rec := mapReconcile{returnMode: old.Selection, seq: r.configSeq}

	if selectionChanged {
		rec.returned = r.maps
		r.maps = nil
	} else if len(r.maps) > config.CellCount() {
		rec.returned = append([]types.GameMap(nil), r.maps[config.CellCount():]...)
		r.maps = r.maps[:config.CellCount()]
	}
	// Mappack maps belong to no queue; drop them instead of returning.
	if old.Selection == types.MapModeMappack {
		rec.returned = nil
	}

	if deficit := config.CellCount() - len(r.maps); deficit > 0 {
		rec.fetch = &types.MapQuery{
			Mode:      config.Selection,
			Count:     deficit,
			MappackID: config.MappackID,
		}
	}
	return rec, nil
}

// ApplyMaps merges an asynchronous fetch result into the room. Results
// that arrive after the room died or after a later configuration change
// are handed back in full so the registry can requeue them. The room
// learns the outcome through a MapsLoadResult event either way.
func (r *Room) ApplyMaps(seq uint64, fetched []types.GameMap, err error) []types.GameMap {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateTerminated || seq != r.configSeq {
		return fetched
	}
	if err != nil {
		r.broadcastLocked(protocol.NewMapsLoadResultEvent(err))
		return nil
	}

	have := make(map[int64]struct{}, len(r.maps))
	for _, m := range r.maps {
		have[m.TrackID] = struct{}{}
	}

	var leftover []types.GameMap
	need := r.config.CellCount() - len(r.maps)
	for _, m := range fetched {
		if _, dup := have[m.TrackID]; dup {
			leftover = append(leftover, m)
			continue
		}
		if need <= 0 {
			leftover = append(leftover, m)
			continue
		}
		have[m.TrackID] = struct{}{}
		r.maps = append(r.maps, m)
		need--
	}
	r.broadcastLocked(protocol.NewMapsLoadResultEvent(nil))
	return leftover
}

// Config returns a copy of the current configuration.
func (r *Room) Config() types.RoomConfiguration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.config
}
