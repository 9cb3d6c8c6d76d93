package session

import "errors"

var (
	// ErrCallInProgress indicates an attempt to start a call on a session
	// that is already in one.
	ErrCallInProgress = errors.New("call already in progress")

	// ErrNoCall indicates an in-call operation while idle.
	ErrNoCall = errors.New("no call in progress")

	// ErrSessionClosed indicates an operation on a closed session.
	ErrSessionClosed = errors.New("session closed")

	// ErrInvalidTarget indicates a call target naming neither a user nor a
	// group, or both.
	ErrInvalidTarget = errors.New("invalid call target")
)
