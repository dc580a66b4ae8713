package core

// hub.go fans persisted edits out to the clients watching a spreadsheet.
//
// Each subscriber gets a buffered channel. Publishing never blocks: a
// subscriber whose buffer is full misses the event and is expected to
// reload the sheet.

import (
	"sync"

	"github.com/google/uuid"
)

// Hub routes events to the subscribers of each spreadsheet.
type Hub struct {
	buffer int

	mu    sync.Mutex
	rooms map[string]map[string]*Subscription
}

// Subscription is one client's view of a spreadsheet's event stream.
type Subscription struct {
	ID            string
	SpreadsheetID string
	ClientID      string

	events chan Event
	hub    *Hub
	once   sync.Once
}

// NewHub creates a hub with the given per-subscriber buffer size.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		buffer: buffer,
		rooms:  make(map[string]map[string]*Subscription),
	}
}

// Subscribe registers a client on a spreadsheet and announces it to the
// other subscribers. An empty clientID is replaced with a generated one.
func (h *Hub) Subscribe(spreadsheetID, clientID string) *Subscription {
	if clientID == "" {
		clientID = uuid.NewString()
	}
	sub := &Subscription{
		ID:            uuid.NewString(),
		SpreadsheetID: spreadsheetID,
		ClientID:      clientID,
		events:        make(chan Event, h.buffer),
		hub:           h,
	}

	h.mu.Lock()
	room, ok := h.rooms[spreadsheetID]
	if !ok {
		room = make(map[string]*Subscription)
		h.rooms[spreadsheetID] = room
	}
	room[sub.ID] = sub
	h.mu.Unlock()

	h.Publish(Event{Type: EventUserJoined, SpreadsheetID: spreadsheetID, ClientID: clientID})
	return sub
}

// Events returns the subscription's channel. It is closed by Close.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close removes the subscription and announces the departure. Safe to call
// more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		if room, ok := h.rooms[s.SpreadsheetID]; ok {
			delete(room, s.ID)
			if len(room) == 0 {
				delete(h.rooms, s.SpreadsheetID)
			}
		}
		close(s.events)
		h.mu.Unlock()

		h.Publish(Event{Type: EventUserLeft, SpreadsheetID: s.SpreadsheetID, ClientID: s.ClientID})
	})
}

// Publish delivers ev to every subscriber of its spreadsheet except the
// originating client. It returns the number of subscribers reached.
func (h *Hub) Publish(ev Event) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	sent := 0
	for _, sub := range h.rooms[ev.SpreadsheetID] {
		if ev.ClientID != "" && sub.ClientID == ev.ClientID {
			continue
		}
		select {
		case sub.events <- ev:
			sent++
		default:
			// Subscriber is slow, skip this event
		}
	}
	return sent
}

// Subscribers returns the number of subscribers of a spreadsheet.
func (h *Hub) Subscribers(spreadsheetID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[spreadsheetID])
}
