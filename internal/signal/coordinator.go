// Package signal turns presence events and relayed messages into a
// deduplicated stream of peer and negotiation events.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"eyeconnect/native/internal/domain"
	"eyeconnect/native/internal/logging"
)

// State is the coordinator's room membership.
type State int

const (
	NotJoined State = iota
	Joining
	Joined
	Left
)

func (s State) String() string {
	switch s {
	case NotJoined:
		return "not-joined"
	case Joining:
		return "joining"
	case Joined:
		return "joined"
	case Left:
		return "left"
	}
	return "unknown"
}

// Coordinator manages one participant's membership in one room.
type Coordinator struct {
	ch   domain.PresenceChannel
	room domain.Room
	self domain.Participant
	now  func() time.Time

	mu      sync.Mutex
	state   State
	handler domain.Handler
	peers   *KnownPeers
	done    chan struct{}
}

// NewCoordinator creates a coordinator that has not joined yet.
// Call SetHandler before JoinRoom to receive events.
func NewCoordinator(ch domain.PresenceChannel, room domain.Room, self domain.Participant) *Coordinator {
	return &Coordinator{
		ch:      ch,
		room:    room,
		self:    self,
		now:     time.Now,
		handler: nopHandler{},
		peers:   NewKnownPeers(),
		done:    make(chan struct{}),
	}
}

// SetHandler injects the event handler after construction to resolve the
// circular dependency (the handler sends through the coordinator).
func (c *Coordinator) SetHandler(h domain.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h == nil {
		h = nopHandler{}
	}
	c.handler = h
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) Self() domain.Participant { return c.self }

func (c *Coordinator) Room() domain.Room { return c.room }

// Knows reports whether id has been announced as joined and not yet left.
func (c *Coordinator) Knows(id string) bool { return c.peers.Contains(id) }

// Done is closed once the event stream has ended.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// JoinRoom subscribes to the room and registers presence. It may succeed at
// most once per coordinator.
func (c *Coordinator) JoinRoom(ctx context.Context) error {
	c.mu.Lock()
	if c.state != NotJoined {
		c.mu.Unlock()
		return domain.ErrAlreadyJoined
	}
	c.state = Joining
	c.mu.Unlock()

	logging.Infof("[signal] joining room %s as %s (%s)", c.room.ID, c.self.ID, c.self.Role)

	events, err := c.ch.Join(ctx, c.room.ID, c.self.ID, domain.NewPresenceMeta(c.self))
	if err != nil {
		c.mu.Lock()
		if c.state == Joining {
			c.state = NotJoined
		}
		c.mu.Unlock()
		return fmt.Errorf("join room %s: %w", c.room.ID, err)
	}

	c.mu.Lock()
	if c.state != Joining {
		// LeaveRoom ran while the subscription was pending.
		c.mu.Unlock()
		_ = c.ch.Leave(ctx)
		return fmt.Errorf("join room %s: %w", c.room.ID, domain.ErrNotJoined)
	}
	c.state = Joined
	c.mu.Unlock()

	go c.run(events)

	if err := c.send(ctx, domain.KindUserJoined, nil); err != nil {
		logging.Warnf("[signal] announce join: %v", err)
	}
	logging.Infof("[signal] joined room %s", c.room.ID)
	return nil
}

// LeaveRoom unregisters presence and unsubscribes. It is safe to call more
// than once and before joining.
func (c *Coordinator) LeaveRoom(ctx context.Context) error {
	c.mu.Lock()
	prev := c.state
	if prev == Joining || prev == Joined {
		c.state = Left
	}
	c.mu.Unlock()

	if prev != Joining && prev != Joined {
		return nil
	}

	if prev == Joined {
		if err := c.publish(ctx, domain.KindUserLeft, nil); err != nil {
			logging.Debugf("[signal] announce leave: %v", err)
		}
	}

	err := c.ch.Leave(ctx)
	c.peers.Drain()
	logging.Infof("[signal] left room %s", c.room.ID)
	if err != nil {
		return fmt.Errorf("leave room %s: %w", c.room.ID, err)
	}
	return nil
}

func (c *Coordinator) SendOffer(ctx context.Context, sdp domain.SDPPayload) error {
	return c.send(ctx, domain.KindOffer, sdp)
}

func (c *Coordinator) SendAnswer(ctx context.Context, sdp domain.SDPPayload) error {
	return c.send(ctx, domain.KindAnswer, sdp)
}

func (c *Coordinator) SendICECandidate(ctx context.Context, candidate domain.ICECandidatePayload) error {
	return c.send(ctx, domain.KindIceCandidate, candidate)
}

func (c *Coordinator) send(ctx context.Context, kind domain.MessageKind, payload any) error {
	c.mu.Lock()
	joined := c.state == Joined
	c.mu.Unlock()
	if !joined {
		return domain.ErrNotJoined
	}
	return c.publish(ctx, kind, payload)
}

func (c *Coordinator) publish(ctx context.Context, kind domain.MessageKind, payload any) error {
	msg := domain.SignalingMessage{
		Type:      kind,
		From:      c.self.ID,
		Timestamp: c.now().UnixMilli(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", kind, err)
		}
		msg.Data = data
	}
	if err := c.ch.Send(ctx, msg); err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}
	logging.Debugf("[signal] >>> %s", kind)
	return nil
}

func (c *Coordinator) run(events <-chan domain.ChannelEvent) {
	defer close(c.done)
	for ev := range events {
		c.handle(ev)
	}
}

func (c *Coordinator) handle(ev domain.ChannelEvent) {
	c.mu.Lock()
	active := c.state == Joined
	h := c.handler
	c.mu.Unlock()
	if !active {
		return
	}

	switch ev.Type {
	case domain.EventPresenceJoin:
		if ev.PeerID != c.self.ID {
			c.peerJoined(h, ev.PeerID)
		}

	case domain.EventPresenceSync:
		// The snapshot covers peers whose join event arrived before our
		// subscription completed.
		for _, id := range ev.Members {
			if id != c.self.ID {
				c.peerJoined(h, id)
			}
		}

	case domain.EventPresenceLeave:
		if ev.PeerID != c.self.ID {
			c.peerLeft(h, ev.PeerID)
		}

	case domain.EventBroadcast:
		c.dispatch(h, ev.Message)

	case domain.EventChannelError:
		c.fail(h, ev.Err)
	}
}

func (c *Coordinator) peerJoined(h domain.Handler, id string) {
	if !c.peers.Observe(id) {
		return
	}
	logging.Infof("[signal] peer joined: %s", id)
	h.OnPeerJoined(id)
}

func (c *Coordinator) peerLeft(h domain.Handler, id string) {
	if !c.peers.Forget(id) {
		return
	}
	logging.Infof("[signal] peer left: %s", id)
	h.OnPeerLeft(id)
}

func (c *Coordinator) dispatch(h domain.Handler, msg domain.SignalingMessage) {
	if msg.From == c.self.ID {
		return
	}
	if msg.From == "" {
		logging.Warnf("[signal] dropping %s without sender", msg.Type)
		return
	}

	logging.Debugf("[signal] <<< %s from %s", msg.Type, msg.From)

	switch msg.Type {
	case domain.KindOffer, domain.KindAnswer:
		var sdp domain.SDPPayload
		if err := json.Unmarshal(msg.Data, &sdp); err != nil {
			logging.Warnf("[signal] decode %s: %v", msg.Type, err)
			return
		}
		if msg.Type == domain.KindOffer {
			h.OnOffer(msg.From, sdp)
		} else {
			h.OnAnswer(msg.From, sdp)
		}

	case domain.KindIceCandidate:
		var candidate domain.ICECandidatePayload
		if err := json.Unmarshal(msg.Data, &candidate); err != nil {
			logging.Warnf("[signal] decode %s: %v", msg.Type, err)
			return
		}
		h.OnICECandidate(msg.From, candidate)

	case domain.KindUserJoined:
		c.peerJoined(h, msg.From)

	case domain.KindUserLeft:
		c.peerLeft(h, msg.From)

	default:
		logging.Warnf("[signal] unhandled message type: %s", msg.Type)
	}
}

// fail handles an unrecoverable relay error. Every known peer is reported
// gone so nothing waits on a peer that can no longer be reached.
func (c *Coordinator) fail(h domain.Handler, err error) {
	if err == nil {
		err = domain.ErrChannel
	}
	if !errors.Is(err, domain.ErrChannel) {
		err = fmt.Errorf("%w: %v", domain.ErrChannel, err)
	}
	logging.Errorf("[signal] %v", err)

	c.mu.Lock()
	if c.state != Joined {
		c.mu.Unlock()
		return
	}
	c.state = Left
	c.mu.Unlock()

	for _, id := range c.peers.Drain() {
		logging.Infof("[signal] peer unreachable: %s", id)
		h.OnPeerLeft(id)
	}
	_ = c.ch.Leave(context.Background())
}

type nopHandler struct{}

func (nopHandler) OnPeerJoined(string)                               {}
func (nopHandler) OnPeerLeft(string)                                 {}
func (nopHandler) OnOffer(string, domain.SDPPayload)                 {}
func (nopHandler) OnAnswer(string, domain.SDPPayload)                {}
func (nopHandler) OnICECandidate(string, domain.ICECandidatePayload) {}
