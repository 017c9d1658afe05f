// Package reconnect preserves the game context of recently disconnected
// players for a bounded linger window, so a player whose connection drops
// mid-game resumes their prior slot instead of rejoining as a stranger.
package reconnect

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tmbingo/bingo-server/internal/v1/logging"
	"github.com/tmbingo/bingo-server/internal/v1/types"
)

// RoomHandle is the narrow view of a room the registry needs. The game
// package implements it; keeping the interface here breaks the import
// cycle between reconnect bookkeeping and room logic.
type RoomHandle interface {
	// Alive reports whether the room still exists in its registry.
	Alive() bool
	// JoinCode identifies the room for logging.
	JoinCode() types.JoinCodeType
	// SlotExists reports whether the account still holds a member slot.
	SlotExists(account types.AccountIdType) bool
	// EvictExpired removes the account's slot as if the player had
	// explicitly left. Called when the linger window runs out.
	EvictExpired(account types.AccountIdType)
}

type record struct {
	room   RoomHandle
	expiry time.Time
}

// Registry maps account ids to their stashed game context. A single lock
// guards the whole map; all operations are short.
type Registry struct {
	mu      sync.Mutex
	records map[types.AccountIdType]record
	linger  time.Duration
}

// NewRegistry creates a Registry with the given linger window.
func NewRegistry(linger time.Duration) *Registry {
	return &Registry{
		records: make(map[types.AccountIdType]record),
		linger:  linger,
	}
}

// Stash records the player's room so a reconnect within the linger window
// can resume it. An existing record for the account is replaced.
func (r *Registry) Stash(account types.AccountIdType, room RoomHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[account] = record{room: room, expiry: time.Now().Add(r.linger)}
}

// Peek reports whether a usable reconnect record exists for the account.
// Used by the handshake gate to pick the CanReconnect response code
// without consuming the record.
func (r *Registry) Peek(account types.AccountIdType) bool {
	r.mu.Lock()
	rec, ok := r.records[account]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return time.Now().Before(rec.expiry) && rec.room.Alive() && rec.room.SlotExists(account)
}

// Claim moves the record out. If the stashed room has died or the slot
// was removed, the stale record is dropped and ok is false: the caller
// proceeds as a fresh session.
func (r *Registry) Claim(account types.AccountIdType) (RoomHandle, bool) {
	r.mu.Lock()
	rec, ok := r.records[account]
	if ok {
		delete(r.records, account)
	}
	r.mu.Unlock()

	if !ok || time.Now().After(rec.expiry) {
		return nil, false
	}
	if !rec.room.Alive() || !rec.room.SlotExists(account) {
		return nil, false
	}
	return rec.room, true
}

// Drop discards any record for the account without evicting the slot.
// Used when the player explicitly leaves after a disconnect was stashed.
func (r *Registry) Drop(account types.AccountIdType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, account)
}

// Len reports the number of live records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Run sweeps expired records until the context is cancelled. On expiry
// the owning room evicts the slot as if the player had left.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.sweep(ctx, now)
		}
	}
}

func (r *Registry) sweep(ctx context.Context, now time.Time) {
	type expired struct {
		account types.AccountIdType
		room    RoomHandle
	}

	r.mu.Lock()
	var out []expired
	for account, rec := range r.records {
		if now.After(rec.expiry) {
			out = append(out, expired{account: account, room: rec.room})
			delete(r.records, account)
		}
	}
	r.mu.Unlock()

	// Eviction takes the room lock, so it happens outside ours.
	for _, e := range out {
		if e.room.Alive() {
			logging.Info(ctx, "reconnect window expired, evicting slot",
				zap.String("account_id", string(e.account)),
				zap.String("join_code", string(e.room.JoinCode())))
			e.room.EvictExpired(e.account)
		}
	}
}
