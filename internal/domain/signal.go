package domain

import "encoding/json"

// MessageKind identifies a signaling message. Values match the browser
// client's wire format.
type MessageKind string

const (
	KindOffer        MessageKind = "offer"
	KindAnswer       MessageKind = "answer"
	KindIceCandidate MessageKind = "ice-candidate"
	KindUserJoined   MessageKind = "user-joined"
	KindUserLeft     MessageKind = "user-left"
)

// SignalingMessage is relayed to every member of a room, the sender included.
type SignalingMessage struct {
	Type      MessageKind     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	From      string          `json:"from"`
	Timestamp int64           `json:"timestamp"`
}

// SDPPayload is the JSON structure for SDP offer/answer messages.
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidatePayload is the JSON structure for ICE candidate messages.
type ICECandidatePayload struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}
