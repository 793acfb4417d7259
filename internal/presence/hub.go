package presence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"eyeconnect/native/internal/domain"
)

// Hub is an in-process relay. Every member of a topic receives every
// broadcast, its own included, and presence changes are reported the way a
// hosted realtime service reports them: a sync snapshot for the joiner, a
// join plus a sync for everyone else.
type Hub struct {
	mu     sync.Mutex
	topics map[string]map[string]*MemoryChannel
}

// NewHub creates an empty relay.
func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[string]*MemoryChannel)}
}

// Channel returns a new, unjoined adapter attached to the hub.
func (h *Hub) Channel() *MemoryChannel {
	return &MemoryChannel{
		hub:    h,
		events: make(chan domain.ChannelEvent),
		wake:   make(chan struct{}, 1),
		abort:  make(chan struct{}),
	}
}

// Members returns the ids present in roomID.
func (h *Hub) Members(roomID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.membersLocked(domain.Topic(roomID))
}

// Drop simulates a transport failure for id: it is removed from the room,
// the others see it leave, and id's own stream ends with a ChannelError.
func (h *Hub) Drop(roomID, id string) {
	topic := domain.Topic(roomID)

	h.mu.Lock()
	m, ok := h.topics[topic][id]
	if ok {
		h.removeLocked(topic, id)
	}
	h.mu.Unlock()

	if ok {
		m.fail(fmt.Errorf("%w: connection to relay lost", domain.ErrChannel))
	}
}

func (h *Hub) membersLocked(topic string) []string {
	ids := make([]string, 0, len(h.topics[topic]))
	for id := range h.topics[topic] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (h *Hub) add(topic string, m *MemoryChannel) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.topics[topic]
	if !ok {
		members = make(map[string]*MemoryChannel)
		h.topics[topic] = members
	}
	if _, dup := members[m.id]; dup {
		return fmt.Errorf("presence key %q already tracked in %s", m.id, topic)
	}
	members[m.id] = m

	snapshot := h.membersLocked(topic)
	for id, other := range members {
		if id == m.id {
			continue
		}
		other.deliver(domain.ChannelEvent{Type: domain.EventPresenceJoin, PeerID: m.id})
		other.deliver(domain.ChannelEvent{Type: domain.EventPresenceSync, Members: snapshot})
	}
	m.deliver(domain.ChannelEvent{Type: domain.EventPresenceSync, Members: snapshot})
	return nil
}

func (h *Hub) remove(topic, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(topic, id)
}

func (h *Hub) removeLocked(topic, id string) {
	members := h.topics[topic]
	if _, ok := members[id]; !ok {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(h.topics, topic)
		return
	}

	snapshot := h.membersLocked(topic)
	for _, other := range members {
		other.deliver(domain.ChannelEvent{Type: domain.EventPresenceLeave, PeerID: id})
		other.deliver(domain.ChannelEvent{Type: domain.EventPresenceSync, Members: snapshot})
	}
}

func (h *Hub) broadcast(topic string, msg domain.SignalingMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range h.topics[topic] {
		m.deliver(domain.ChannelEvent{Type: domain.EventBroadcast, Message: msg})
	}
}

// MemoryChannel is a domain.PresenceChannel backed by a Hub. Deliveries are
// queued without bound so a slow reader never stalls the hub.
type MemoryChannel struct {
	hub *Hub

	mu        sync.Mutex
	topic     string
	id        string
	joining   bool
	joined    bool
	left      bool
	finishing bool
	queue     []domain.ChannelEvent

	events chan domain.ChannelEvent
	wake   chan struct{}
	abort  chan struct{}
}

// Join implements domain.PresenceChannel.
func (m *MemoryChannel) Join(ctx context.Context, roomID, localID string, _ domain.PresenceMeta) (<-chan domain.ChannelEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.finishing {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: channel already closed", domain.ErrChannel)
	}
	if m.joining || m.joined {
		m.mu.Unlock()
		return nil, domain.ErrAlreadyJoined
	}
	m.joining = true
	m.topic = domain.Topic(roomID)
	m.id = localID
	m.mu.Unlock()

	go m.pump()

	if err := m.hub.add(m.topic, m); err != nil {
		m.mu.Lock()
		m.joining = false
		m.finishing = true
		m.mu.Unlock()
		m.signal()
		return nil, err
	}

	m.mu.Lock()
	m.joining = false
	m.joined = true
	m.mu.Unlock()
	return m.events, nil
}

// Send implements domain.PresenceChannel.
func (m *MemoryChannel) Send(ctx context.Context, msg domain.SignalingMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	active := m.joined && !m.left
	topic := m.topic
	m.mu.Unlock()

	if !active {
		return domain.ErrNotJoined
	}
	m.hub.broadcast(topic, msg)
	return nil
}

// Leave implements domain.PresenceChannel.
func (m *MemoryChannel) Leave(context.Context) error {
	m.mu.Lock()
	if !m.joined || m.left {
		m.mu.Unlock()
		return nil
	}
	m.left = true
	m.finishing = true
	m.queue = nil
	topic, id := m.topic, m.id
	m.mu.Unlock()

	close(m.abort)
	m.signal()
	m.hub.remove(topic, id)
	return nil
}

func (m *MemoryChannel) deliver(ev domain.ChannelEvent) {
	m.mu.Lock()
	if m.finishing {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, ev)
	m.mu.Unlock()
	m.signal()
}

func (m *MemoryChannel) fail(err error) {
	m.mu.Lock()
	if m.finishing {
		m.mu.Unlock()
		return
	}
	m.left = true
	m.finishing = true
	m.queue = append(m.queue, domain.ChannelEvent{Type: domain.EventChannelError, Err: err})
	m.mu.Unlock()
	m.signal()
}

func (m *MemoryChannel) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *MemoryChannel) pump() {
	defer close(m.events)

	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			done := m.finishing
			m.mu.Unlock()
			if done {
				return
			}
			<-m.wake
			continue
		}
		ev := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		select {
		case m.events <- ev:
		case <-m.abort:
			return
		}
	}
}
