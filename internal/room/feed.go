package room

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Entity names the record type a change notification refers to.
type Entity string

const (
	EntityRoom     Entity = "room"
	EntityPlayer   Entity = "player"
	EntityResponse Entity = "response"
)

// Op is the mutation kind behind a change notification.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Event is one change notification. Observers must treat it as a
// trigger to re-read authoritative state, not as carrying the state
// itself: delivery is best-effort and unordered across entities.
type Event struct {
	Entity   Entity `json:"entity"`
	Op       Op     `json:"op"`
	RoomID   string `json:"roomId"`
	NewValue any    `json:"newValue,omitempty"`
}

type subscriber struct {
	roomID string
	ch     chan Event
}

// Feed fans change notifications out to per-room subscribers. Sends
// never block a publisher: a subscriber whose buffer is full misses the
// tick and catches up on the next re-read.
type Feed struct {
	mu   sync.Mutex
	subs map[*subscriber]bool
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[*subscriber]bool)}
}

// Subscribe returns a channel of events for the given room and a
// cancel func. Cancel closes the channel.
func (f *Feed) Subscribe(roomID string) (<-chan Event, func()) {
	s := &subscriber{roomID: roomID, ch: make(chan Event, 64)}
	f.mu.Lock()
	f.subs[s] = true
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			if f.subs[s] {
				delete(f.subs, s)
				close(s.ch)
			}
			f.mu.Unlock()
		})
	}
	return s.ch, cancel
}

// Publish delivers ev to every subscriber of its room.
func (f *Feed) Publish(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for s := range f.subs {
		if s.roomID != ev.RoomID {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			log.Debug().Str("roomId", ev.RoomID).Str("entity", string(ev.Entity)).Msg("feed subscriber lagging, dropping event")
		}
	}
}
