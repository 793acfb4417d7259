package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"eyeconnect/native/internal/domain"
	"eyeconnect/native/internal/logging"

	"github.com/gorilla/websocket"
)

const (
	defaultHeartbeat        = 25 * time.Second
	defaultReplyTimeout     = 10 * time.Second
	defaultMaxReconnects    = 3
	defaultReconnectBackoff = time.Second
	writeWait               = 10 * time.Second

	signalingEvent = "signaling"
)

// phxMessage is the Phoenix channel envelope spoken by the realtime service.
type phxMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
	JoinRef string          `json:"join_ref,omitempty"`
}

type phxReply struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type broadcastPayload struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type presencePayload struct {
	Type    string               `json:"type"`
	Event   string               `json:"event"`
	Payload *domain.PresenceMeta `json:"payload,omitempty"`
}

type presenceMeta struct {
	PhxRef string `json:"phx_ref"`
}

type presenceEntry struct {
	Metas []presenceMeta `json:"metas"`
}

type presenceDiff struct {
	Joins  map[string]presenceEntry `json:"joins"`
	Leaves map[string]presenceEntry `json:"leaves"`
}

// RealtimeConfig configures a Realtime adapter.
type RealtimeConfig struct {
	URL              string // e.g. wss://<project>.supabase.co/realtime/v1/websocket
	APIKey           string
	Heartbeat        time.Duration
	ReplyTimeout     time.Duration
	MaxReconnects    int // 0 selects the default; negative disables reconnects
	ReconnectBackoff time.Duration
	Dialer           *websocket.Dialer
}

func (c RealtimeConfig) withDefaults() RealtimeConfig {
	if c.Heartbeat <= 0 {
		c.Heartbeat = defaultHeartbeat
	}
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = defaultReplyTimeout
	}
	if c.MaxReconnects < 0 {
		c.MaxReconnects = 0
	} else if c.MaxReconnects == 0 {
		c.MaxReconnects = defaultMaxReconnects
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = defaultReconnectBackoff
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	return c
}

// Realtime is a domain.PresenceChannel over a Phoenix-protocol websocket
// (the protocol of Supabase Realtime). Lost connections are redialed and the
// room rejoined up to MaxReconnects times before a terminal ChannelError.
type Realtime struct {
	cfg RealtimeConfig
	ref atomic.Uint64

	writeMu sync.Mutex

	mu         sync.Mutex
	conn       *websocket.Conn
	topic      string
	localID    string
	meta       domain.PresenceMeta
	joinRef    string
	joining    bool
	joined     bool
	left       bool
	recovering bool
	replies    map[string]chan phxReply
	presence   map[string][]string

	// Events are queued without bound and handed to the reader by pump, so
	// the read loop never waits on the consumer. Presence snapshots arrive
	// before Join returns and nobody reads events yet.
	emitMu    sync.Mutex
	finishing bool
	queue     []domain.ChannelEvent
	wake      chan struct{}
	events    chan domain.ChannelEvent
	closed    chan struct{}
}

// NewRealtime creates an unjoined adapter.
func NewRealtime(cfg RealtimeConfig) *Realtime {
	return &Realtime{
		cfg:      cfg.withDefaults(),
		replies:  make(map[string]chan phxReply),
		presence: make(map[string][]string),
		wake:     make(chan struct{}, 1),
		events:   make(chan domain.ChannelEvent),
		closed:   make(chan struct{}),
	}
}

// Join implements domain.PresenceChannel.
func (r *Realtime) Join(ctx context.Context, roomID, localID string, meta domain.PresenceMeta) (<-chan domain.ChannelEvent, error) {
	r.mu.Lock()
	if r.joining || r.joined || r.left {
		r.mu.Unlock()
		return nil, domain.ErrAlreadyJoined
	}
	r.joining = true
	r.topic = "realtime:" + domain.Topic(roomID)
	r.localID = localID
	r.meta = meta
	r.mu.Unlock()

	if err := r.connect(ctx); err != nil {
		r.mu.Lock()
		r.joining = false
		r.presence = make(map[string][]string)
		r.mu.Unlock()
		r.emitMu.Lock()
		r.queue = nil
		r.emitMu.Unlock()
		return nil, err
	}

	r.mu.Lock()
	r.joining = false
	r.joined = true
	r.mu.Unlock()

	logging.Infof("[presence] joined %s as %s", r.topic, localID)
	go r.pump()
	go r.heartbeatLoop()
	return r.events, nil
}

// Send implements domain.PresenceChannel.
func (r *Realtime) Send(ctx context.Context, msg domain.SignalingMessage) error {
	r.mu.Lock()
	active := r.joined && !r.left
	r.mu.Unlock()
	if !active {
		return domain.ErrNotJoined
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal signaling message: %w", err)
	}
	return r.write(ctx, r.envelope("broadcast", broadcastPayload{
		Type:    "broadcast",
		Event:   signalingEvent,
		Payload: data,
	}))
}

// Leave implements domain.PresenceChannel.
func (r *Realtime) Leave(ctx context.Context) error {
	r.mu.Lock()
	if !r.joined || r.left {
		r.mu.Unlock()
		return nil
	}
	r.left = true
	conn := r.conn
	r.mu.Unlock()

	if err := r.write(ctx, r.envelope("presence", presencePayload{Type: "presence", Event: "untrack"})); err != nil {
		logging.Debugf("[presence] untrack: %v", err)
	}
	if err := r.write(ctx, r.envelope("phx_leave", struct{}{})); err != nil {
		logging.Debugf("[presence] phx_leave: %v", err)
	}

	close(r.closed)
	if conn != nil {
		conn.Close()
	}
	r.finish()
	logging.Infof("[presence] left %s", r.topic)
	return nil
}

func (r *Realtime) dialURL() (string, error) {
	u, err := url.Parse(r.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	q := u.Query()
	if r.cfg.APIKey != "" {
		q.Set("apikey", r.cfg.APIKey)
	}
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// connect dials, starts a read loop and runs the join handshake.
func (r *Realtime) connect(ctx context.Context) error {
	target, err := r.dialURL()
	if err != nil {
		return err
	}

	logging.Debugf("[presence] connecting to %s", r.cfg.URL)
	conn, _, err := r.cfg.Dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
	go r.readLoop(conn)

	if err := r.subscribe(ctx); err != nil {
		r.mu.Lock()
		if r.conn == conn {
			r.conn = nil
		}
		r.mu.Unlock()
		conn.Close()
		return err
	}
	return nil
}

// subscribe joins the topic and, once confirmed, tracks local presence.
func (r *Realtime) subscribe(ctx context.Context) error {
	r.mu.Lock()
	r.joinRef = r.nextRef()
	joinRef := r.joinRef
	key := r.localID
	meta := r.meta
	r.mu.Unlock()

	join := map[string]any{
		"config": map[string]any{
			"broadcast": map[string]any{"self": false, "ack": false},
			"presence":  map[string]any{"key": key},
		},
	}
	if err := r.push(ctx, r.envelopeWithRef("phx_join", join, joinRef)); err != nil {
		return fmt.Errorf("join %s: %w", r.topic, err)
	}
	if err := r.push(ctx, r.envelope("presence", presencePayload{Type: "presence", Event: "track", Payload: &meta})); err != nil {
		return fmt.Errorf("track presence: %w", err)
	}
	return nil
}

func (r *Realtime) nextRef() string {
	return strconv.FormatUint(r.ref.Add(1), 10)
}

func (r *Realtime) envelope(event string, payload any) phxMessage {
	return r.envelopeWithRef(event, payload, r.nextRef())
}

func (r *Realtime) envelopeWithRef(event string, payload any, ref string) phxMessage {
	data, _ := json.Marshal(payload)
	r.mu.Lock()
	defer r.mu.Unlock()
	return phxMessage{
		Topic:   r.topic,
		Event:   event,
		Payload: data,
		Ref:     ref,
		JoinRef: r.joinRef,
	}
}

// push writes msg and waits for its phx_reply.
func (r *Realtime) push(ctx context.Context, msg phxMessage) error {
	ch := make(chan phxReply, 1)
	r.mu.Lock()
	r.replies[msg.Ref] = ch
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.replies, msg.Ref)
		r.mu.Unlock()
	}()

	if err := r.write(ctx, msg); err != nil {
		return err
	}

	timer := time.NewTimer(r.cfg.ReplyTimeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		if reply.Status != "ok" {
			return fmt.Errorf("%s rejected: status=%s response=%s", msg.Event, reply.Status, string(reply.Response))
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%s: no reply within %s", msg.Event, r.cfg.ReplyTimeout)
	case <-ctx.Done():
		return ctx.Err()
	case <-r.closed:
		return errors.New("adapter closed")
	}
}

func (r *Realtime) write(ctx context.Context, msg any) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: not connected", domain.ErrChannel)
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (r *Realtime) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-r.closed:
				return
			default:
			}
			r.mu.Lock()
			current := r.conn == conn && r.joined && !r.recovering
			if current {
				r.recovering = true
			}
			r.mu.Unlock()
			if current {
				logging.Warnf("[presence] read error: %v", err)
				r.recover(conn)
			}
			return
		}

		var msg phxMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logging.Warnf("[presence] unmarshal error: %v", err)
			continue
		}
		r.dispatch(conn, msg)
	}
}

func (r *Realtime) dispatch(conn *websocket.Conn, msg phxMessage) {
	switch msg.Event {
	case "phx_reply":
		var reply phxReply
		if err := json.Unmarshal(msg.Payload, &reply); err != nil {
			logging.Warnf("[presence] bad reply: %v", err)
			return
		}
		r.mu.Lock()
		ch, ok := r.replies[msg.Ref]
		r.mu.Unlock()
		if ok {
			select {
			case ch <- reply:
			default:
			}
		}

	case "presence_state":
		var state map[string]presenceEntry
		if err := json.Unmarshal(msg.Payload, &state); err != nil {
			logging.Warnf("[presence] bad presence_state: %v", err)
			return
		}
		r.syncState(state)

	case "presence_diff":
		var diff presenceDiff
		if err := json.Unmarshal(msg.Payload, &diff); err != nil {
			logging.Warnf("[presence] bad presence_diff: %v", err)
			return
		}
		r.applyDiff(diff)

	case "broadcast":
		var b broadcastPayload
		if err := json.Unmarshal(msg.Payload, &b); err != nil {
			logging.Warnf("[presence] bad broadcast: %v", err)
			return
		}
		if b.Event != signalingEvent {
			return
		}
		var sm domain.SignalingMessage
		if err := json.Unmarshal(b.Payload, &sm); err != nil {
			logging.Warnf("[presence] bad signaling payload: %v", err)
			return
		}
		r.emit(domain.ChannelEvent{Type: domain.EventBroadcast, Message: sm})

	case "phx_error", "phx_close":
		r.mu.Lock()
		ours := msg.Topic == r.topic && !r.left
		r.mu.Unlock()
		if ours {
			logging.Warnf("[presence] channel %s: %s", msg.Event, msg.Topic)
			conn.Close()
		}

	default:
		logging.Debugf("[presence] unhandled event: %s", msg.Event)
	}
}

// syncState replaces the presence map with a full snapshot.
func (r *Realtime) syncState(state map[string]presenceEntry) {
	r.mu.Lock()
	var joins, leaves []string
	next := make(map[string][]string, len(state))
	for key, entry := range state {
		next[key] = refs(entry)
		if _, ok := r.presence[key]; !ok {
			joins = append(joins, key)
		}
	}
	for key := range r.presence {
		if _, ok := next[key]; !ok {
			leaves = append(leaves, key)
		}
	}
	r.presence = next
	members := r.membersLocked()
	r.mu.Unlock()

	r.emitChanges(joins, leaves, members)
}

// applyDiff folds an incremental update into the presence map. A key leaves
// only when its last registration is gone.
func (r *Realtime) applyDiff(diff presenceDiff) {
	r.mu.Lock()
	var joins, leaves []string
	for key, entry := range diff.Joins {
		if _, ok := r.presence[key]; !ok {
			joins = append(joins, key)
		}
		r.presence[key] = append(r.presence[key], refs(entry)...)
	}
	for key, entry := range diff.Leaves {
		current, ok := r.presence[key]
		if !ok {
			continue
		}
		gone := refs(entry)
		kept := current[:0]
		for _, ref := range current {
			if !contains(gone, ref) {
				kept = append(kept, ref)
			}
		}
		if len(kept) == 0 {
			delete(r.presence, key)
			leaves = append(leaves, key)
		} else {
			r.presence[key] = kept
		}
	}
	members := r.membersLocked()
	r.mu.Unlock()

	r.emitChanges(joins, leaves, members)
}

func (r *Realtime) emitChanges(joins, leaves, members []string) {
	sort.Strings(joins)
	sort.Strings(leaves)
	for _, key := range joins {
		r.emit(domain.ChannelEvent{Type: domain.EventPresenceJoin, PeerID: key})
	}
	for _, key := range leaves {
		r.emit(domain.ChannelEvent{Type: domain.EventPresenceLeave, PeerID: key})
	}
	r.emit(domain.ChannelEvent{Type: domain.EventPresenceSync, Members: members})
}

func (r *Realtime) membersLocked() []string {
	ids := make([]string, 0, len(r.presence))
	for key := range r.presence {
		ids = append(ids, key)
	}
	sort.Strings(ids)
	return ids
}

// recover redials after a lost connection. It runs on the dying read loop's
// goroutine; the replacement connection gets its own read loop.
func (r *Realtime) recover(old *websocket.Conn) {
	old.Close()

	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxReconnects; attempt++ {
		select {
		case <-r.closed:
			return
		case <-time.After(r.cfg.ReconnectBackoff * time.Duration(attempt)):
		}

		logging.Infof("[presence] reconnect attempt %d/%d", attempt, r.cfg.MaxReconnects)
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.ReplyTimeout)
		err := r.connect(ctx)
		cancel()
		if err == nil {
			r.mu.Lock()
			r.recovering = false
			r.mu.Unlock()
			logging.Infof("[presence] reconnected to %s", r.topic)
			return
		}
		lastErr = err
		logging.Warnf("[presence] reconnect failed: %v", err)
	}

	r.mu.Lock()
	r.left = true
	r.mu.Unlock()

	if lastErr == nil {
		lastErr = errors.New("connection lost")
	}
	r.emit(domain.ChannelEvent{
		Type: domain.EventChannelError,
		Err:  fmt.Errorf("%w: %v", domain.ErrChannel, lastErr),
	})
	r.finish()
}

func (r *Realtime) heartbeatLoop() {
	ticker := time.NewTicker(r.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.closed:
			return
		case <-ticker.C:
			r.mu.Lock()
			done := r.left
			r.mu.Unlock()
			if done {
				return
			}
			msg := phxMessage{Topic: "phoenix", Event: "heartbeat", Payload: json.RawMessage(`{}`), Ref: r.nextRef()}
			if err := r.write(context.Background(), msg); err != nil {
				logging.Debugf("[presence] heartbeat: %v", err)
			}
		}
	}
}

func (r *Realtime) emit(ev domain.ChannelEvent) {
	r.emitMu.Lock()
	if r.finishing {
		r.emitMu.Unlock()
		return
	}
	r.queue = append(r.queue, ev)
	r.emitMu.Unlock()
	r.signal()
}

// finish lets pump close the event stream once the queue is drained.
func (r *Realtime) finish() {
	r.emitMu.Lock()
	r.finishing = true
	r.emitMu.Unlock()
	r.signal()
}

func (r *Realtime) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Realtime) pump() {
	defer close(r.events)

	for {
		r.emitMu.Lock()
		if len(r.queue) == 0 {
			done := r.finishing
			r.emitMu.Unlock()
			if done {
				return
			}
			select {
			case <-r.wake:
			case <-r.closed:
				return
			}
			continue
		}
		ev := r.queue[0]
		r.queue = r.queue[1:]
		r.emitMu.Unlock()

		select {
		case r.events <- ev:
		case <-r.closed:
			return
		}
	}
}

func refs(e presenceEntry) []string {
	out := make([]string, 0, len(e.Metas))
	for _, m := range e.Metas {
		out = append(out, m.PhxRef)
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
