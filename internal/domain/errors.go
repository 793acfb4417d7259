package domain

import "errors"

var (
	// ErrMediaAccessDenied is terminal: the user must grant camera or
	// microphone access before trying again.
	ErrMediaAccessDenied = errors.New("media access denied")
	// ErrNotJoined is returned when sending before the room is joined.
	ErrNotJoined = errors.New("not joined")
	// ErrAlreadyJoined is returned by a second join on the same instance.
	ErrAlreadyJoined = errors.New("already joined")
	// ErrChannel reports an unrecoverable relay failure.
	ErrChannel = errors.New("channel error")
	// ErrTransportNotReady is returned when no peer connection exists.
	ErrTransportNotReady = errors.New("transport not ready")
	// ErrNegotiationFailed means a description was rejected; the attempt
	// must be abandoned.
	ErrNegotiationFailed = errors.New("negotiation failed")
	// ErrCandidateApplicationFailed is logged and never surfaced.
	ErrCandidateApplicationFailed = errors.New("candidate application failed")
)
