package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the part a participant plays in a call.
type Role string

const (
	// RoleRequester asked for help and waits in the room.
	RoleRequester Role = "requester"
	// RoleResponder accepted a waiting request and joins an occupied room.
	RoleResponder Role = "responder"
)

// Initiates reports whether this role sends the offer. Only the responder
// does, so the two sides never offer at the same time.
func (r Role) Initiates() bool {
	return r == RoleResponder
}

// ParseRole accepts the canonical names and the browser client's aliases.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "requester", "helper":
		return RoleRequester, nil
	case "responder", "volunteer":
		return RoleResponder, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Participant is one member of a room.
type Participant struct {
	ID   string
	Role Role
}

// NewParticipant returns a participant with a random id.
func NewParticipant(role Role) Participant {
	return Participant{ID: uuid.NewString(), Role: role}
}

// Room is the rendezvous for exactly one call. It lives only as long as the
// call.
type Room struct {
	ID string
}

// NewRoomID returns an id of the form room_<unix millis>_<9 chars>.
func NewRoomID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("room_%d_%s", time.Now().UnixMilli(), suffix)
}

// Topic is the relay topic name for a room.
func Topic(roomID string) string {
	return "call:" + roomID
}

// PresenceMeta is attached to a participant's presence registration.
type PresenceMeta struct {
	UserID   string `json:"userId"`
	Role     Role   `json:"role"`
	OnlineAt string `json:"online_at"`
}

// NewPresenceMeta stamps p with the current time.
func NewPresenceMeta(p Participant) PresenceMeta {
	return PresenceMeta{
		UserID:   p.ID,
		Role:     p.Role,
		OnlineAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
}
