package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"eyeconnect/native/internal/domain"

	"github.com/gorilla/websocket"
)

// fakeRealtime is a minimal Phoenix-protocol server: it acknowledges joins
// and presence tracking, then pushes an initial presence_state. With
// stateFirst the presence_state goes out before the track reply.
type fakeRealtime struct {
	srv        *httptest.Server
	initial    map[string]presenceEntry
	stateFirst bool
	conns      chan *fakeConn
	received   chan phxMessage
	query      chan string
}

type fakeConn struct {
	mu sync.Mutex
	c  *websocket.Conn
}

func (f *fakeConn) push(t *testing.T, topic, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	f.write(phxMessage{Topic: topic, Event: event, Payload: data})
}

func (f *fakeConn) write(msg phxMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.c.WriteJSON(msg)
}

func newFakeRealtime(t *testing.T, initial map[string]presenceEntry) *fakeRealtime {
	t.Helper()
	return startFakeRealtime(t, initial, false)
}

func startFakeRealtime(t *testing.T, initial map[string]presenceEntry, stateFirst bool) *fakeRealtime {
	t.Helper()
	f := &fakeRealtime{
		initial:    initial,
		stateFirst: stateFirst,
		conns:      make(chan *fakeConn, 4),
		received:   make(chan phxMessage, 32),
		query:      make(chan string, 4),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.query <- r.URL.RawQuery
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fc := &fakeConn{c: c}
		f.conns <- fc
		for {
			var msg phxMessage
			if err := c.ReadJSON(&msg); err != nil {
				return
			}
			switch msg.Event {
			case "phx_join", "heartbeat":
				fc.write(phxMessage{Topic: msg.Topic, Event: "phx_reply", Ref: msg.Ref, Payload: json.RawMessage(`{"status":"ok","response":{}}`)})
			case "presence":
				var p presencePayload
				_ = json.Unmarshal(msg.Payload, &p)
				reply := phxMessage{Topic: msg.Topic, Event: "phx_reply", Ref: msg.Ref, Payload: json.RawMessage(`{"status":"ok","response":{}}`)}
				if p.Event == "track" {
					data, _ := json.Marshal(f.initial)
					state := phxMessage{Topic: msg.Topic, Event: "presence_state", Payload: data}
					if f.stateFirst {
						fc.write(state)
						fc.write(reply)
					} else {
						fc.write(reply)
						fc.write(state)
					}
				} else {
					fc.write(reply)
				}
				f.received <- msg
			default:
				f.received <- msg
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRealtime) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/realtime/v1/websocket"
}

func entry(ref string) presenceEntry {
	return presenceEntry{Metas: []presenceMeta{{PhxRef: ref}}}
}

func joinRealtime(t *testing.T, f *fakeRealtime, cfg RealtimeConfig) (*Realtime, <-chan domain.ChannelEvent, *fakeConn) {
	t.Helper()
	cfg.URL = f.url()
	r := NewRealtime(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	events, err := r.Join(ctx, "r1", "self", domain.PresenceMeta{UserID: "self", Role: domain.RoleRequester})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	var conn *fakeConn
	select {
	case conn = <-f.conns:
	case <-time.After(time.Second):
		t.Fatal("server saw no connection")
	}
	return r, events, conn
}

func untilSync(t *testing.T, events <-chan domain.ChannelEvent) ([]domain.ChannelEvent, domain.ChannelEvent) {
	t.Helper()
	var before []domain.ChannelEvent
	for {
		ev := next(t, events)
		if ev.Type == domain.EventPresenceSync {
			return before, ev
		}
		before = append(before, ev)
	}
}

func TestRealtime_JoinReportsInitialPresence(t *testing.T) {
	f := newFakeRealtime(t, map[string]presenceEntry{"self": entry("s1"), "peer-1": entry("p1")})
	r, events, _ := joinRealtime(t, f, RealtimeConfig{APIKey: "anon-key"})
	defer r.Leave(context.Background())

	q := <-f.query
	if !strings.Contains(q, "apikey=anon-key") || !strings.Contains(q, "vsn=1.0.0") {
		t.Errorf("unexpected dial query %q", q)
	}

	joins, sync := untilSync(t, events)
	if len(joins) != 2 || joins[0].PeerID != "peer-1" || joins[1].PeerID != "self" {
		t.Fatalf("unexpected joins: %+v", joins)
	}
	if !reflect.DeepEqual(sync.Members, []string{"peer-1", "self"}) {
		t.Fatalf("unexpected members: %v", sync.Members)
	}
}

func TestRealtime_LargePresenceStateBeforeTrackReply(t *testing.T) {
	initial := map[string]presenceEntry{"self": entry("s")}
	for i := 0; i < 40; i++ {
		id := fmt.Sprintf("peer-%02d", i)
		initial[id] = entry(id)
	}
	f := startFakeRealtime(t, initial, true)
	r, events, _ := joinRealtime(t, f, RealtimeConfig{})
	defer r.Leave(context.Background())

	joins, sync := untilSync(t, events)
	if len(joins) != len(initial) {
		t.Fatalf("got %d joins, want %d", len(joins), len(initial))
	}
	if len(sync.Members) != len(initial) {
		t.Fatalf("got %d members, want %d", len(sync.Members), len(initial))
	}
}

func TestRealtime_SendWrapsSignalingBroadcast(t *testing.T) {
	f := newFakeRealtime(t, map[string]presenceEntry{"self": entry("s1")})
	r, events, _ := joinRealtime(t, f, RealtimeConfig{})
	defer r.Leave(context.Background())
	untilSync(t, events)

	<-f.received // track

	msg := domain.SignalingMessage{Type: domain.KindOffer, From: "self", Data: json.RawMessage(`{"type":"offer","sdp":"v=0"}`), Timestamp: 42}
	if err := r.Send(context.Background(), msg); err != nil {
		t.Fatalf("send: %v", err)
	}

	got := <-f.received
	if got.Event != "broadcast" || got.Topic != "realtime:call:r1" {
		t.Fatalf("unexpected envelope: %+v", got)
	}
	var b broadcastPayload
	if err := json.Unmarshal(got.Payload, &b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if b.Type != "broadcast" || b.Event != "signaling" {
		t.Fatalf("unexpected broadcast payload: %+v", b)
	}
	var sm domain.SignalingMessage
	if err := json.Unmarshal(b.Payload, &sm); err != nil {
		t.Fatalf("unmarshal signaling: %v", err)
	}
	if sm.From != "self" || sm.Type != domain.KindOffer || sm.Timestamp != 42 {
		t.Fatalf("unexpected signaling message: %+v", sm)
	}
}

func TestRealtime_SendBeforeJoin(t *testing.T) {
	r := NewRealtime(RealtimeConfig{URL: "ws://127.0.0.1:1"})
	if err := r.Send(context.Background(), domain.SignalingMessage{}); !errors.Is(err, domain.ErrNotJoined) {
		t.Fatalf("expected ErrNotJoined, got %v", err)
	}
	if err := r.Leave(context.Background()); err != nil {
		t.Fatalf("leave before join: %v", err)
	}
}

func TestRealtime_IncomingBroadcastAndDiff(t *testing.T) {
	f := newFakeRealtime(t, map[string]presenceEntry{"self": entry("s1"), "peer-1": entry("p1")})
	r, events, conn := joinRealtime(t, f, RealtimeConfig{})
	defer r.Leave(context.Background())
	untilSync(t, events)

	inner, _ := json.Marshal(domain.SignalingMessage{Type: domain.KindAnswer, From: "peer-1"})
	conn.push(t, "realtime:call:r1", "broadcast", broadcastPayload{Type: "broadcast", Event: "signaling", Payload: inner})

	ev := next(t, events)
	if ev.Type != domain.EventBroadcast || ev.Message.From != "peer-1" || ev.Message.Type != domain.KindAnswer {
		t.Fatalf("unexpected broadcast event: %+v", ev)
	}

	// A second registration for the same key keeps it present.
	conn.push(t, "realtime:call:r1", "presence_diff", presenceDiff{Joins: map[string]presenceEntry{"peer-1": entry("p2")}})
	joins, sync := untilSync(t, events)
	if len(joins) != 0 || len(sync.Members) != 2 {
		t.Fatalf("unexpected events for duplicate registration: %+v %+v", joins, sync)
	}

	conn.push(t, "realtime:call:r1", "presence_diff", presenceDiff{Leaves: map[string]presenceEntry{"peer-1": entry("p1")}})
	leaves, _ := untilSync(t, events)
	if len(leaves) != 0 {
		t.Fatalf("peer-1 still has a registration, got %+v", leaves)
	}

	conn.push(t, "realtime:call:r1", "presence_diff", presenceDiff{Leaves: map[string]presenceEntry{"peer-1": entry("p2")}})
	leaves, sync = untilSync(t, events)
	if len(leaves) != 1 || leaves[0].Type != domain.EventPresenceLeave || leaves[0].PeerID != "peer-1" {
		t.Fatalf("expected leave of peer-1, got %+v", leaves)
	}
	if !reflect.DeepEqual(sync.Members, []string{"self"}) {
		t.Fatalf("unexpected members: %v", sync.Members)
	}
}

func TestRealtime_LeaveIsIdempotent(t *testing.T) {
	f := newFakeRealtime(t, map[string]presenceEntry{"self": entry("s1")})
	r, events, _ := joinRealtime(t, f, RealtimeConfig{})
	untilSync(t, events)

	if err := r.Leave(context.Background()); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if err := r.Leave(context.Background()); err != nil {
		t.Fatalf("second leave: %v", err)
	}
	for range events {
	}
	if err := r.Send(context.Background(), domain.SignalingMessage{}); !errors.Is(err, domain.ErrNotJoined) {
		t.Fatalf("expected ErrNotJoined after leave, got %v", err)
	}
}

func TestRealtime_ReconnectRejoins(t *testing.T) {
	f := newFakeRealtime(t, map[string]presenceEntry{"self": entry("s1")})
	r, events, conn := joinRealtime(t, f, RealtimeConfig{ReconnectBackoff: 10 * time.Millisecond, MaxReconnects: 2})
	defer r.Leave(context.Background())
	untilSync(t, events)

	conn.c.Close()

	select {
	case <-f.conns:
	case <-time.After(2 * time.Second):
		t.Fatal("adapter did not reconnect")
	}
	_, sync := untilSync(t, events)
	if !reflect.DeepEqual(sync.Members, []string{"self"}) {
		t.Fatalf("unexpected members after reconnect: %v", sync.Members)
	}
}

func TestRealtime_ChannelErrorWhenReconnectsExhausted(t *testing.T) {
	f := newFakeRealtime(t, map[string]presenceEntry{"self": entry("s1")})
	r, events, conn := joinRealtime(t, f, RealtimeConfig{ReconnectBackoff: 10 * time.Millisecond, MaxReconnects: 1})
	defer r.Leave(context.Background())
	untilSync(t, events)

	f.srv.Close()
	conn.c.Close()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("stream closed without a channel error")
			}
			if ev.Type != domain.EventChannelError {
				continue
			}
			if !errors.Is(ev.Err, domain.ErrChannel) {
				t.Fatalf("expected ErrChannel, got %v", ev.Err)
			}
			if _, ok := <-events; ok {
				t.Fatal("expected stream closed after channel error")
			}
			return
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for channel error")
		}
	}
}
