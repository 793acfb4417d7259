package domain

import (
	"strings"
	"testing"
)

func TestRoleInitiates(t *testing.T) {
	if RoleRequester.Initiates() {
		t.Error("requester must not initiate")
	}
	if !RoleResponder.Initiates() {
		t.Error("responder must initiate")
	}
}

func TestParseRole(t *testing.T) {
	tests := map[string]Role{
		"requester": RoleRequester,
		"helper":    RoleRequester,
		"Volunteer": RoleResponder,
		"responder": RoleResponder,
	}
	for in, want := range tests {
		got, err := ParseRole(in)
		if err != nil {
			t.Fatalf("ParseRole(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseRole(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := ParseRole("bystander"); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestNewRoomID(t *testing.T) {
	id := NewRoomID()
	parts := strings.Split(id, "_")
	if len(parts) != 3 || parts[0] != "room" {
		t.Fatalf("unexpected room id %q", id)
	}
	if len(parts[2]) != 9 {
		t.Errorf("expected 9 char suffix, got %q", parts[2])
	}
	if NewRoomID() == id {
		t.Error("expected distinct room ids")
	}
	if Topic("r1") != "call:r1" {
		t.Errorf("unexpected topic %q", Topic("r1"))
	}
}

func TestConnectionStateTransitions(t *testing.T) {
	allowed := []struct{ from, to ConnectionState }{
		{StateIdle, StateConnecting},
		{StateConnecting, StateConnected},
		{StateConnected, StateDisconnected},
		{StateDisconnected, StateConnecting},
		{StateDisconnected, StateConnected},
		{StateDisconnected, StateFailed},
		{StateFailed, StateClosed},
		{StateConnected, StateClosed},
	}
	for _, tc := range allowed {
		if !tc.from.CanTransition(tc.to) {
			t.Errorf("%s -> %s should be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to ConnectionState }{
		{StateConnected, StateConnecting},
		{StateConnecting, StateIdle},
		{StateFailed, StateConnecting},
		{StateClosed, StateConnecting},
		{StateClosed, StateFailed},
		{StateConnected, StateConnected},
	}
	for _, tc := range denied {
		if tc.from.CanTransition(tc.to) {
			t.Errorf("%s -> %s should be denied", tc.from, tc.to)
		}
	}
}
