package domain

// ConnectionState is the negotiated link state surfaced to callers.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible short of Closed.
func (s ConnectionState) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

// CanTransition reports whether moving from s to next is legal. States only
// move forward, except that a disconnected link may recover and a failed one
// may still be closed.
func (s ConnectionState) CanTransition(next ConnectionState) bool {
	if s == next {
		return false
	}
	switch s {
	case StateIdle:
		return true
	case StateConnecting:
		return next != StateIdle
	case StateConnected:
		return next == StateDisconnected || next == StateFailed || next == StateClosed
	case StateDisconnected:
		return next != StateIdle
	case StateFailed:
		return next == StateClosed
	}
	return false
}

// RemoteTrack describes one track received from the peer.
type RemoteTrack struct {
	ID       string
	StreamID string
	Kind     string
	Codec    string
}

// RemoteMedia is the aggregate of everything received from the peer so far.
type RemoteMedia struct {
	Tracks []RemoteTrack
}

// MediaConstraints selects which local media to acquire.
type MediaConstraints struct {
	Audio     bool
	Video     bool
	AudioFile string // Ogg/Opus file fed into the audio track
	VideoFile string // IVF/VP8 file fed into the video track
}
