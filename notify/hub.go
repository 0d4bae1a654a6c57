/*
Package notify fans committed domain events out to subscribed listeners.

PURPOSE:
  The Hub keeps an in-memory registry of owner -> active listener set.
  Publish delivers to every listener currently subscribed under that
  owner; delivery is fire-and-forget: no acknowledgement, no retry, no
  persistence. A listener that is offline, or whose buffer is full,
  simply misses the event. Publishing never blocks the mutating caller.

OWNERSHIP:
  The registry holds back references to subscriber handles, never
  their lifetime: a subscriber is removed (and its channel closed)
  only through Unsubscribe on disconnect.
*/
package notify

import (
	"sync"

	"github.com/warp/track-engine/timeclock"
)

// subscriberBuffer is how many undelivered events a listener may lag
// behind before further events are dropped for it.
const subscriberBuffer = 16

// Hub implements timeclock.Notifier over in-process channels.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[int64]map[*Subscriber]struct{}
}

// NewHub returns an empty registry.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[int64]map[*Subscriber]struct{})}
}

// Subscriber is one listener's handle. Receive events from Events()
// and call Unsubscribe when done; the channel is closed on removal.
type Subscriber struct {
	ownerID int64
	ch      chan timeclock.Event
}

// Events is the subscriber's receive channel.
func (s *Subscriber) Events() <-chan timeclock.Event { return s.ch }

// Subscribe registers a listener under the owner.
func (h *Hub) Subscribe(ownerID int64) *Subscriber {
	sub := &Subscriber{ownerID: ownerID, ch: make(chan timeclock.Event, subscriberBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subscribers[ownerID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subscribers[ownerID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Unsubscribe removes the listener and closes its channel. Safe to
// call once per subscriber.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subscribers[sub.ownerID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subscribers, sub.ownerID)
	}
	close(sub.ch)
}

// Publish delivers the event to every listener subscribed under the
// owner. Slow listeners are skipped, not waited for.
func (h *Hub) Publish(ownerID int64, typ timeclock.EventType, payload any) {
	event := timeclock.Event{OwnerID: ownerID, Type: typ, Payload: payload}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subscribers[ownerID] {
		select {
		case sub.ch <- event:
		default:
			// Listener buffer full: best-effort delivery drops it.
		}
	}
}
