package webrtc

import (
	"sync"

	pion "github.com/pion/webrtc/v4"

	"eyeconnect/native/internal/domain"
	"eyeconnect/native/internal/logging"
)

// stateTracker applies transport state updates, dropping any that would
// move the connection backwards.
type stateTracker struct {
	mu       sync.Mutex
	current  domain.ConnectionState
	onChange func(domain.ConnectionState)
}

func (t *stateTracker) get() domain.ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

func (t *stateTracker) setListener(fn func(domain.ConnectionState)) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

func (t *stateTracker) set(next domain.ConnectionState) bool {
	t.mu.Lock()
	prev := t.current
	if !prev.CanTransition(next) {
		t.mu.Unlock()
		if prev != next {
			logging.Debugf("[webrtc] ignoring state %s after %s", next, prev)
		}
		return false
	}
	t.current = next
	fn := t.onChange
	t.mu.Unlock()

	logging.Infof("[webrtc] connection state: %s -> %s", prev, next)
	if fn != nil {
		fn(next)
	}
	return true
}

func fromPion(s pion.PeerConnectionState) (domain.ConnectionState, bool) {
	switch s {
	case pion.PeerConnectionStateNew:
		return domain.StateIdle, true
	case pion.PeerConnectionStateConnecting:
		return domain.StateConnecting, true
	case pion.PeerConnectionStateConnected:
		return domain.StateConnected, true
	case pion.PeerConnectionStateDisconnected:
		return domain.StateDisconnected, true
	case pion.PeerConnectionStateFailed:
		return domain.StateFailed, true
	case pion.PeerConnectionStateClosed:
		return domain.StateClosed, true
	}
	return domain.StateIdle, false
}
