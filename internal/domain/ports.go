package domain

import "context"

// EventType classifies what a PresenceChannel reports.
type EventType int

const (
	EventBroadcast EventType = iota
	EventPresenceJoin
	EventPresenceLeave
	EventPresenceSync
	EventChannelError
)

func (t EventType) String() string {
	switch t {
	case EventBroadcast:
		return "broadcast"
	case EventPresenceJoin:
		return "presence-join"
	case EventPresenceLeave:
		return "presence-leave"
	case EventPresenceSync:
		return "presence-sync"
	case EventChannelError:
		return "channel-error"
	}
	return "unknown"
}

// ChannelEvent is one item of a PresenceChannel event stream.
type ChannelEvent struct {
	Type    EventType
	Message SignalingMessage // EventBroadcast
	PeerID  string           // EventPresenceJoin, EventPresenceLeave
	Members []string         // EventPresenceSync, every id currently present
	Err     error            // EventChannelError
}

// PresenceChannel is a room-scoped pub/sub topic with presence tracking.
type PresenceChannel interface {
	// Join subscribes to the room topic, waits for the subscription to be
	// confirmed and registers localID's presence. The returned stream is
	// closed after Leave or a terminal EventChannelError.
	Join(ctx context.Context, roomID, localID string, meta PresenceMeta) (<-chan ChannelEvent, error)
	// Send relays msg to every member. Returns ErrNotJoined before Join.
	Send(ctx context.Context, msg SignalingMessage) error
	// Leave unregisters presence and unsubscribes. Idempotent.
	Leave(ctx context.Context) error
}

// Signaler is the coordinator surface the call layer drives.
type Signaler interface {
	JoinRoom(ctx context.Context) error
	LeaveRoom(ctx context.Context) error
	SendOffer(ctx context.Context, sdp SDPPayload) error
	SendAnswer(ctx context.Context, sdp SDPPayload) error
	SendICECandidate(ctx context.Context, candidate ICECandidatePayload) error
}

// Handler receives coordinator events. Calls are made sequentially from a
// single goroutine.
type Handler interface {
	OnPeerJoined(peerID string)
	OnPeerLeft(peerID string)
	OnOffer(from string, sdp SDPPayload)
	OnAnswer(from string, sdp SDPPayload)
	OnICECandidate(from string, candidate ICECandidatePayload)
}

// Peer is one negotiation attempt over one media transport.
type Peer interface {
	InitializeLocalMedia(constraints MediaConstraints) error
	CreateTransport() error
	CreateOffer() (SDPPayload, error)
	CreateAnswer(offer SDPPayload) (SDPPayload, error)
	SetRemoteAnswer(answer SDPPayload) error
	AddRemoteICECandidate(candidate ICECandidatePayload) error
	ToggleAudio(enabled *bool) bool
	ToggleVideo(enabled *bool) bool
	StartMedia(ctx context.Context)
	State() ConnectionState
	SetOnICECandidate(fn func(ICECandidatePayload))
	SetOnStateChange(fn func(ConnectionState))
	SetOnRemoteMedia(fn func(RemoteMedia))
	Close()
}
