// Package channels implements the broadcast fabric: named subscription
// groups mapping connection keys to outbound mailboxes. Rooms own one
// channel for the room-wide feed and one per team.
//
// Broadcast is best-effort and never blocks the sender. Subscribers whose
// mailbox has closed are collected lazily during broadcast, so no
// background sweep is needed.
package channels

import (
	"sync"

	"github.com/tmbingo/bingo-server/internal/v1/metrics"
	"github.com/tmbingo/bingo-server/internal/v1/types"
)

// Handle names one channel within a Fabric. Handles are dense indices and
// are never reused for a different channel.
type Handle int

// Fabric is the process-wide arena of channels. It is created during
// startup and passed through constructors; tests instantiate their own.
type Fabric struct {
	mu       sync.Mutex
	channels []*channel // nil entries are closed channels
}

type channel struct {
	mu   sync.Mutex
	subs map[types.ClientIdType]types.Mailbox
}

func NewFabric() *Fabric {
	return &Fabric{}
}

// Open allocates a new channel and returns its handle.
func (f *Fabric) Open() Handle {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.channels = append(f.channels, &channel{
		subs: make(map[types.ClientIdType]types.Mailbox),
	})
	return Handle(len(f.channels) - 1)
}

// Close drops the channel's subscriber set. Further operations on the
// handle are no-ops.
func (f *Fabric) Close(h Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if h >= 0 && int(h) < len(f.channels) {
		f.channels[h] = nil
	}
}

func (f *Fabric) get(h Handle) *channel {
	f.mu.Lock()
	defer f.mu.Unlock()

	if h < 0 || int(h) >= len(f.channels) {
		return nil
	}
	return f.channels[h]
}

// Subscribe registers the mailbox under the given connection key.
// Subscribing the same key twice replaces the previous registration, so a
// subscriber never receives duplicate deliveries.
func (f *Fabric) Subscribe(h Handle, key types.ClientIdType, mailbox types.Mailbox) {
	ch := f.get(h)
	if ch == nil {
		return
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.subs[key] = mailbox
}

// Unsubscribe removes the registration for the connection key, if any.
func (f *Fabric) Unsubscribe(h Handle, key types.ClientIdType) {
	ch := f.get(h)
	if ch == nil {
		return
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	delete(ch.subs, key)
}

// Broadcast enqueues the message into every live subscriber mailbox via a
// try-send. Subscribers whose mailbox has closed are removed during the
// pass. Returns the number of mailboxes the message was queued to.
func (f *Fabric) Broadcast(h Handle, message []byte) int {
	ch := f.get(h)
	if ch == nil {
		return 0
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	delivered := 0
	for key, mailbox := range ch.subs {
		if mailbox.IsClosed() {
			delete(ch.subs, key)
			continue
		}
		if mailbox.Deliver(message) {
			delivered++
		} else {
			metrics.BroadcastDrops.Inc()
		}
	}
	return delivered
}

// SubscriberCount reports the current size of the subscriber set,
// including subscribers that have died since the last broadcast.
func (f *Fabric) SubscriberCount(h Handle) int {
	ch := f.get(h)
	if ch == nil {
		return 0
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.subs)
}
