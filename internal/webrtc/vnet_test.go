package webrtc

import (
	"testing"
	"time"

	"eyeconnect/native/internal/domain"
)

func TestEngines_ConnectOverVirtualLAN(t *testing.T) {
	lan, err := NewVirtualLAN("10.0.0.0/24", "10.0.0.1", "10.0.0.2")
	if err != nil {
		t.Fatalf("NewVirtualLAN: %v", err)
	}
	t.Cleanup(func() { _ = lan.Close() })

	offerer := NewEngine(Config{API: APIConfig{ConfigureSettings: lan.Settings(0)}})
	answerer := NewEngine(Config{API: APIConfig{ConfigureSettings: lan.Settings(1)}})
	t.Cleanup(offerer.Close)
	t.Cleanup(answerer.Close)

	connected := make(chan string, 2)
	watch := func(name string, e *Engine) {
		e.SetOnStateChange(func(s domain.ConnectionState) {
			if s == domain.StateConnected {
				connected <- name
			}
		})
	}
	watch("offerer", offerer)
	watch("answerer", answerer)

	// Candidates cross before the answerer has a transport and must be
	// buffered there.
	offerer.SetOnICECandidate(func(c domain.ICECandidatePayload) {
		if err := answerer.AddRemoteICECandidate(c); err != nil {
			t.Errorf("answerer add candidate: %v", err)
		}
	})
	answerer.SetOnICECandidate(func(c domain.ICECandidatePayload) {
		if err := offerer.AddRemoteICECandidate(c); err != nil {
			t.Errorf("offerer add candidate: %v", err)
		}
	})

	if err := offerer.InitializeLocalMedia(domain.MediaConstraints{Audio: true, Video: true}); err != nil {
		t.Fatalf("InitializeLocalMedia: %v", err)
	}
	if err := offerer.CreateTransport(); err != nil {
		t.Fatalf("offerer CreateTransport: %v", err)
	}
	offer, err := offerer.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}

	// Let some offerer candidates arrive first.
	time.Sleep(100 * time.Millisecond)

	if err := answerer.CreateTransport(); err != nil {
		t.Fatalf("answerer CreateTransport: %v", err)
	}
	answer, err := answerer.CreateAnswer(offer)
	if err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	if err := offerer.SetRemoteAnswer(answer); err != nil {
		t.Fatalf("SetRemoteAnswer: %v", err)
	}

	deadline := time.After(15 * time.Second)
	for got := 0; got < 2; {
		select {
		case <-connected:
			got++
		case <-deadline:
			t.Fatalf("timed out: offerer=%s answerer=%s", offerer.State(), answerer.State())
		}
	}
}
