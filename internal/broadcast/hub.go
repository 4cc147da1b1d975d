// Package broadcast fans item update events out to live subscribers grouped into rooms.
package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"news_enricher/internal/domain"
)

var (
	ErrUnknownConnection = errors.New("unknown connection")
	ErrRoomNotAllowed    = errors.New("room not allowed")
)

const (
	EventRoomJoined = "room-joined"
	EventRoomLeft   = "room-left"
	EventError      = "error"
)

// Message is one frame delivered to a subscriber.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Relay mirrors published events to another transport. Relays are best-effort: each one is fed
// from a bounded queue and events that do not fit are dropped.
type Relay interface {
	Relay(ctx context.Context, event string, rooms []string, data any) error
}

type Subscriber struct {
	id   string
	send chan Message
}

func (s *Subscriber) ID() string {
	return s.id
}

// Messages is closed when the subscriber is detached.
func (s *Subscriber) Messages() <-chan Message {
	return s.send
}

type Stats struct {
	SubscriberCount int            `json:"subscriberCount"`
	PerRoomCount    map[string]int `json:"perRoomCount"`
	Dropped         int64          `json:"dropped"`
}

type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	memberships map[string]map[string]struct{} // conn id -> rooms
	rooms       map[string]map[string]*Subscriber

	allowed    []string
	bufferSize int
	relays     *relays
	dropped    atomic.Int64
	logger     *slog.Logger
}

func NewHub(rooms []string, bufferSize int, logger *slog.Logger, relayList ...Relay) *Hub {
	if bufferSize < 1 {
		bufferSize = 1
	}
	h := &Hub{
		subscribers: make(map[string]*Subscriber),
		memberships: make(map[string]map[string]struct{}),
		rooms:       make(map[string]map[string]*Subscriber, len(rooms)),
		allowed:     slices.Clone(rooms),
		bufferSize:  bufferSize,
		relays:      &relays{},
		logger:      logger.With("component", "broadcast"),
	}
	for _, relay := range relayList {
		h.relays.queues = append(h.relays.queues, newRelayQueue(relay, h.logger))
	}
	for _, room := range rooms {
		h.rooms[room] = make(map[string]*Subscriber)
	}
	return h
}

// Attach registers a connection. Attaching an id twice returns the existing subscriber.
func (h *Hub) Attach(connID string) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub, ok := h.subscribers[connID]; ok {
		return sub
	}

	sub := &Subscriber{id: connID, send: make(chan Message, h.bufferSize)}
	h.subscribers[connID] = sub
	h.memberships[connID] = make(map[string]struct{})

	h.logger.Debug("subscriber attached", "conn_id", connID)
	return sub
}

// Detach removes the connection from every room and closes its message channel.
func (h *Hub) Detach(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subscribers[connID]
	if !ok {
		return
	}

	for room := range h.memberships[connID] {
		delete(h.rooms[room], connID)
	}
	delete(h.memberships, connID)
	delete(h.subscribers, connID)
	close(sub.send)

	h.logger.Debug("subscriber detached", "conn_id", connID)
}

func (h *Hub) Subscribe(connID, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subscribers[connID]
	if !ok {
		return ErrUnknownConnection
	}
	members, ok := h.rooms[room]
	if !ok {
		return ErrRoomNotAllowed
	}

	members[connID] = sub
	h.memberships[connID][room] = struct{}{}
	return nil
}

func (h *Hub) Unsubscribe(connID, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subscribers[connID]; !ok {
		return ErrUnknownConnection
	}
	members, ok := h.rooms[room]
	if !ok {
		return ErrRoomNotAllowed
	}

	delete(members, connID)
	delete(h.memberships[connID], room)
	return nil
}

// Publish delivers a story update to the given rooms, or to every room when none are named.
// A subscriber present in several target rooms receives one copy.
func (h *Hub) Publish(_ context.Context, event domain.UpdateEvent, rooms ...string) {
	h.broadcast(domain.EventStoryUpdated, event, rooms)
}

func (h *Hub) PublishBatch(_ context.Context, events []domain.UpdateEvent, rooms ...string) {
	if len(events) == 0 {
		return
	}
	h.broadcast(domain.EventBatchUpdated, domain.BatchUpdateEvent{Updates: events, Count: len(events)}, rooms)
}

func (h *Hub) broadcast(event string, data any, rooms []string) {
	if len(rooms) == 0 {
		rooms = h.allowed
	}
	msg := Message{Event: event, Data: data}

	delivered, dropped := h.deliver(msg, rooms)
	if dropped > 0 {
		h.logger.Warn("dropped messages for slow subscribers", "event", event, "dropped", dropped)
	}
	h.logger.Debug("broadcast", "event", event, "rooms", rooms, "delivered", delivered)

	if n := h.relays.offer(relayJob{event: event, rooms: rooms, data: data}); n > 0 {
		h.dropped.Add(int64(n))
		h.logger.Warn("dropped event for backed up relays", "event", event, "relays", n)
	}
}

// Close stops accepting relay jobs and waits until the queued ones are handed to their relays
// or ctx is done. Subscribers are unaffected.
func (h *Hub) Close(ctx context.Context) error {
	return h.relays.close(ctx)
}

func (h *Hub) deliver(msg Message, rooms []string) (delivered, dropped int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, room := range rooms {
		for id, sub := range h.rooms[room] {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}

			select {
			case sub.send <- msg:
				delivered++
			default:
				dropped++
			}
		}
	}

	h.dropped.Add(int64(dropped))
	return delivered, dropped
}

// Send delivers a message to one connection only, such as an acknowledgement.
func (h *Hub) Send(connID string, msg Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sub, ok := h.subscribers[connID]
	if !ok {
		return ErrUnknownConnection
	}

	select {
	case sub.send <- msg:
	default:
		h.dropped.Add(1)
	}
	return nil
}

func (h *Hub) Rooms() []string {
	return slices.Clone(h.allowed)
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	perRoom := make(map[string]int, len(h.rooms))
	for room, members := range h.rooms {
		perRoom[room] = len(members)
	}

	return Stats{
		SubscriberCount: len(h.subscribers),
		PerRoomCount:    perRoom,
		Dropped:         h.dropped.Load(),
	}
}
