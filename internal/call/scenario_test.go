package call

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"eyeconnect/native/internal/domain"
	"eyeconnect/native/internal/presence"
	"eyeconnect/native/internal/signal"
	"eyeconnect/native/internal/webrtc"
)

type participant struct {
	coord *signal.Coordinator
	call  *Call
}

func join(t *testing.T, hub *presence.Hub, roomID string, role domain.Role, newPeer PeerFactory, hooks Hooks) *participant {
	t.Helper()
	self := domain.NewParticipant(role)
	coord := signal.NewCoordinator(hub.Channel(), domain.Room{ID: roomID}, self)
	c := New(self, newPeer, Options{Constraints: domain.MediaConstraints{Audio: true}, Hooks: hooks})
	c.SetSignaler(coord)
	coord.SetHandler(c)
	return &participant{coord: coord, call: c}
}

func TestScenario_SimultaneousJoinProducesOneOffer(t *testing.T) {
	hub := presence.NewHub()
	log := &journal{}

	var mu sync.Mutex
	n := 0
	factory := func(role domain.Role) PeerFactory {
		return func() domain.Peer {
			mu.Lock()
			defer mu.Unlock()
			n++
			return &mockPeer{name: fmt.Sprintf("%s%d", role, n), log: log}
		}
	}

	requester := join(t, hub, "r1", domain.RoleRequester, factory(domain.RoleRequester), Hooks{})
	responder := join(t, hub, "r1", domain.RoleResponder, factory(domain.RoleResponder), Hooks{})

	var wg sync.WaitGroup
	for _, p := range []*participant{requester, responder} {
		wg.Add(1)
		go func(p *participant) {
			defer wg.Done()
			if err := p.call.Start(context.Background()); err != nil {
				t.Errorf("Start: %v", err)
			}
		}(p)
	}
	wg.Wait()
	defer requester.call.Hangup(context.Background())
	defer responder.call.Hangup(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && responder.call.State() == domain.StateIdle && countPrefix(log, "requester", ":create-answer:") == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)

	if got := countPrefix(log, "responder", ":create-offer"); got != 1 {
		t.Fatalf("expected exactly one offer from the responder, got %d: %v", got, log.list())
	}
	if got := countPrefix(log, "requester", ":create-offer"); got != 0 {
		t.Fatalf("requester must never offer: %v", log.list())
	}
	if got := countPrefix(log, "requester", ":create-answer:"); got != 1 {
		t.Fatalf("expected exactly one answer: %v", log.list())
	}
}

func countPrefix(j *journal, prefix, contains string) int {
	n := 0
	for _, e := range j.list() {
		if strings.HasPrefix(e, prefix) && strings.Contains(e, contains) {
			n++
		}
	}
	return n
}

func TestScenario_TwoPeersConnect(t *testing.T) {
	lan, err := webrtc.NewVirtualLAN("10.0.1.0/24", "10.0.1.1", "10.0.1.2")
	if err != nil {
		t.Fatalf("NewVirtualLAN: %v", err)
	}
	t.Cleanup(func() { _ = lan.Close() })

	hub := presence.NewHub()
	connected := make(chan domain.Role, 8)

	engine := func(i int) PeerFactory {
		return func() domain.Peer {
			return webrtc.NewEngine(webrtc.Config{API: webrtc.APIConfig{ConfigureSettings: lan.Settings(i)}})
		}
	}
	hooks := func(role domain.Role) Hooks {
		return Hooks{OnState: func(s domain.ConnectionState) {
			if s == domain.StateConnected {
				select {
				case connected <- role:
				default:
				}
			}
		}}
	}

	requester := join(t, hub, "r1", domain.RoleRequester, engine(0), hooks(domain.RoleRequester))
	responder := join(t, hub, "r1", domain.RoleResponder, engine(1), hooks(domain.RoleResponder))

	if err := requester.call.Start(context.Background()); err != nil {
		t.Fatalf("requester Start: %v", err)
	}
	if err := responder.call.Start(context.Background()); err != nil {
		t.Fatalf("responder Start: %v", err)
	}

	seen := map[domain.Role]bool{}
	deadline := time.After(20 * time.Second)
	for len(seen) < 2 {
		select {
		case r := <-connected:
			seen[r] = true
		case <-deadline:
			t.Fatalf("timed out: requester=%s responder=%s", requester.call.State(), responder.call.State())
		}
	}

	ctx := context.Background()
	if err := requester.call.Hangup(ctx); err != nil {
		t.Fatalf("requester Hangup: %v", err)
	}
	if err := responder.call.Hangup(ctx); err != nil {
		t.Fatalf("responder Hangup: %v", err)
	}
	if len(hub.Members("r1")) != 0 {
		t.Fatalf("room not empty after hangup: %v", hub.Members("r1"))
	}
}
