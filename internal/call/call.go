// Package call drives one participant's side of a call: it reacts to
// coordinator events by creating, answering and tearing down negotiation
// attempts.
package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"eyeconnect/native/internal/domain"
	"eyeconnect/native/internal/logging"
)

const DefaultConnectTimeout = 30 * time.Second

// Hooks are optional callbacks for the embedding application.
type Hooks struct {
	OnState       func(domain.ConnectionState)
	OnRemoteMedia func(domain.RemoteMedia)
	OnPeerJoined  func(peerID string)
	OnPeerLeft    func(peerID string)
	// OnWarning reports a connection that is slow to establish. The attempt
	// keeps running.
	OnWarning func(msg string)
	// OnEnded fires once: with the terminal error of a failed attempt, or
	// nil after Hangup.
	OnEnded func(err error)
}

type Options struct {
	Constraints    domain.MediaConstraints
	ConnectTimeout time.Duration
	Hooks          Hooks
}

// PeerFactory returns a fresh negotiation attempt.
type PeerFactory func() domain.Peer

// Call implements domain.Handler.
type Call struct {
	self    domain.Participant
	opts    Options
	newPeer PeerFactory
	signal  domain.Signaler

	mu         sync.Mutex
	ctx        context.Context
	peer       domain.Peer
	remoteID   string
	offered    bool
	answered   bool
	remoteDone bool
	early      map[string][]domain.ICECandidatePayload
	timer      *time.Timer
	hungUp     bool
	ended      bool
}

var _ domain.Handler = (*Call)(nil)

// New creates a Call for self. Call SetSignaler before Start to complete
// the circular dependency (Call needs Signaler, Signaler needs Handler).
func New(self domain.Participant, newPeer PeerFactory, opts Options) *Call {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	return &Call{
		self:    self,
		opts:    opts,
		newPeer: newPeer,
		ctx:     context.Background(),
	}
}

func (c *Call) SetSignaler(s domain.Signaler) {
	c.signal = s
}

// Start acquires local media and joins the room. A media permission failure
// is returned before the room is joined.
func (c *Call) Start(ctx context.Context) error {
	c.mu.Lock()
	c.ctx = ctx
	_, err := c.peerLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}

	logging.Infof("[call] starting as %s (%s)", c.self.ID, c.self.Role)
	return c.signal.JoinRoom(ctx)
}

// State reports the current attempt's connection state.
func (c *Call) State() domain.ConnectionState {
	c.mu.Lock()
	p := c.peer
	c.mu.Unlock()
	if p == nil {
		return domain.StateIdle
	}
	return p.State()
}

// RemoteID returns the peer currently being negotiated with, if any.
func (c *Call) RemoteID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteID
}

func (c *Call) ToggleAudio(enabled *bool) bool {
	c.mu.Lock()
	p := c.peer
	c.mu.Unlock()
	if p == nil {
		return false
	}
	return p.ToggleAudio(enabled)
}

func (c *Call) ToggleVideo(enabled *bool) bool {
	c.mu.Lock()
	p := c.peer
	c.mu.Unlock()
	if p == nil {
		return false
	}
	return p.ToggleVideo(enabled)
}

func (c *Call) OnPeerJoined(peerID string) {
	if fn := c.opts.Hooks.OnPeerJoined; fn != nil {
		fn(peerID)
	}

	if !c.self.Role.Initiates() {
		logging.Infof("[call] peer %s joined, waiting for offer", peerID)
		return
	}

	c.mu.Lock()
	if c.hungUp {
		c.mu.Unlock()
		return
	}
	if c.remoteID != "" && c.remoteID != peerID {
		c.mu.Unlock()
		logging.Warnf("[call] already negotiating with %s, ignoring %s", c.remoteID, peerID)
		return
	}
	if c.offered {
		c.mu.Unlock()
		return
	}
	p, err := c.peerLocked()
	if err != nil {
		c.mu.Unlock()
		c.fail(err)
		return
	}
	held := c.bindLocked(peerID)
	c.offered = true
	ctx := c.ctx
	c.mu.Unlock()

	logging.Infof("[call] peer %s joined, creating offer", peerID)
	replay(p, held)

	if err := p.CreateTransport(); err != nil {
		c.fail(err)
		return
	}
	offer, err := p.CreateOffer()
	if err != nil {
		c.fail(err)
		return
	}
	if err := c.signal.SendOffer(ctx, offer); err != nil {
		logging.Errorf("[call] send offer: %v", err)
		return
	}
	c.armTimeout(p)
}

func (c *Call) OnPeerLeft(peerID string) {
	if fn := c.opts.Hooks.OnPeerLeft; fn != nil {
		fn(peerID)
	}

	c.mu.Lock()
	if c.remoteID != peerID {
		delete(c.early, peerID)
		c.mu.Unlock()
		return
	}
	p := c.resetLocked()
	c.mu.Unlock()

	logging.Infof("[call] peer %s left, closing attempt", peerID)
	if p != nil {
		p.Close()
	}
}

func (c *Call) OnOffer(from string, sdp domain.SDPPayload) {
	if c.self.Role.Initiates() {
		logging.Warnf("[call] ignoring offer from %s, this side initiates", from)
		return
	}

	c.mu.Lock()
	if c.hungUp {
		c.mu.Unlock()
		return
	}
	if c.remoteID != "" && c.remoteID != from {
		c.mu.Unlock()
		logging.Warnf("[call] already negotiating with %s, ignoring offer from %s", c.remoteID, from)
		return
	}
	if c.answered {
		c.mu.Unlock()
		logging.Debugf("[call] duplicate offer from %s", from)
		return
	}
	p, err := c.peerLocked()
	if err != nil {
		c.mu.Unlock()
		c.fail(err)
		return
	}
	held := c.bindLocked(from)
	c.answered = true
	ctx := c.ctx
	c.mu.Unlock()

	logging.Infof("[call] offer from %s, creating answer", from)
	replay(p, held)

	if err := p.CreateTransport(); err != nil {
		c.fail(err)
		return
	}
	answer, err := p.CreateAnswer(sdp)
	if err != nil {
		c.fail(err)
		return
	}
	if err := c.signal.SendAnswer(ctx, answer); err != nil {
		logging.Errorf("[call] send answer: %v", err)
		return
	}
	c.armTimeout(p)
}

func (c *Call) OnAnswer(from string, sdp domain.SDPPayload) {
	c.mu.Lock()
	if from != c.remoteID || !c.offered || c.remoteDone {
		c.mu.Unlock()
		logging.Debugf("[call] ignoring answer from %s", from)
		return
	}
	c.remoteDone = true
	p := c.peer
	c.mu.Unlock()

	if err := p.SetRemoteAnswer(sdp); err != nil {
		c.fail(err)
	}
}

func (c *Call) OnICECandidate(from string, candidate domain.ICECandidatePayload) {
	c.mu.Lock()
	if c.hungUp || (c.remoteID != "" && c.remoteID != from) {
		c.mu.Unlock()
		return
	}
	if c.remoteID == "" {
		// Held per sender until one of them is bound as the remote.
		if c.early == nil {
			c.early = make(map[string][]domain.ICECandidatePayload)
		}
		c.early[from] = append(c.early[from], candidate)
		c.mu.Unlock()
		logging.Debugf("[call] holding ICE candidate from unbound peer %s", from)
		return
	}
	p, err := c.peerLocked()
	c.mu.Unlock()
	if err != nil {
		c.fail(err)
		return
	}

	if err := p.AddRemoteICECandidate(candidate); err != nil {
		logging.Warnf("[call] add remote ICE candidate: %v", err)
	}
}

// Hangup releases local media, then the transport, then the room
// membership. It is safe to call more than once and while a negotiation is
// in flight.
func (c *Call) Hangup(ctx context.Context) error {
	c.mu.Lock()
	if c.hungUp {
		c.mu.Unlock()
		return nil
	}
	c.hungUp = true
	p := c.resetLocked()
	c.mu.Unlock()

	logging.Infof("[call] hanging up")
	if p != nil {
		p.Close()
	}
	err := c.signal.LeaveRoom(ctx)
	c.end(nil)
	return err
}

// peerLocked returns the current attempt, creating it and acquiring local
// media on first use.
func (c *Call) peerLocked() (domain.Peer, error) {
	if c.peer != nil {
		return c.peer, nil
	}

	p := c.newPeer()
	if err := p.InitializeLocalMedia(c.opts.Constraints); err != nil {
		p.Close()
		return nil, err
	}

	ctx := c.ctx
	p.SetOnICECandidate(func(candidate domain.ICECandidatePayload) {
		if err := c.signal.SendICECandidate(ctx, candidate); err != nil {
			logging.Warnf("[call] send ICE candidate: %v", err)
		}
	})
	p.SetOnStateChange(func(s domain.ConnectionState) {
		c.handleState(ctx, p, s)
	})
	p.SetOnRemoteMedia(func(m domain.RemoteMedia) {
		if fn := c.opts.Hooks.OnRemoteMedia; fn != nil {
			fn(m)
		}
	})
	c.peer = p
	return p, nil
}

// bindLocked records id as the remote and returns the candidates it sent
// before being bound. Candidates held for anyone else are dropped.
func (c *Call) bindLocked(id string) []domain.ICECandidatePayload {
	c.remoteID = id
	held := c.early[id]
	c.early = nil
	return held
}

func replay(p domain.Peer, held []domain.ICECandidatePayload) {
	for _, cand := range held {
		if err := p.AddRemoteICECandidate(cand); err != nil {
			logging.Warnf("[call] add remote ICE candidate: %v", err)
		}
	}
}

// resetLocked detaches the current attempt so the next peer starts fresh.
func (c *Call) resetLocked() domain.Peer {
	p := c.peer
	c.peer = nil
	c.remoteID = ""
	c.early = nil
	c.offered = false
	c.answered = false
	c.remoteDone = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	return p
}

func (c *Call) handleState(ctx context.Context, p domain.Peer, s domain.ConnectionState) {
	if s == domain.StateConnected {
		c.mu.Lock()
		if c.peer == p && c.timer != nil {
			c.timer.Stop()
			c.timer = nil
		}
		c.mu.Unlock()
		p.StartMedia(ctx)
	}
	if fn := c.opts.Hooks.OnState; fn != nil {
		fn(s)
	}
}

func (c *Call) armTimeout(p domain.Peer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.peer != p {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	timeout := c.opts.ConnectTimeout
	c.timer = time.AfterFunc(timeout, func() {
		if p.State() == domain.StateConnected {
			return
		}
		msg := "connection is taking longer than expected (" + timeout.String() + ")"
		logging.Warnf("[call] %s", msg)
		if fn := c.opts.Hooks.OnWarning; fn != nil {
			fn(msg)
		}
	})
}

// fail abandons the current attempt after a terminal error.
func (c *Call) fail(err error) {
	if errors.Is(err, domain.ErrMediaAccessDenied) {
		logging.Errorf("[call] %v: grant camera and microphone access and try again", err)
	} else {
		logging.Errorf("[call] %v", err)
	}

	c.mu.Lock()
	p := c.resetLocked()
	c.mu.Unlock()
	if p != nil {
		p.Close()
	}
	c.end(err)
}

func (c *Call) end(err error) {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.ended = true
	c.mu.Unlock()

	if fn := c.opts.Hooks.OnEnded; fn != nil {
		fn(err)
	}
}
