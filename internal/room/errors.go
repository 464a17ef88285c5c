package room

import "errors"

var (
	ErrInvalidRoom = errors.New("invalid room code")
	ErrNoIdentity  = errors.New("username is required to join a room")
	ErrNoChannel   = errors.New("signaling channel is required")
	ErrNotJoined   = errors.New("not connected to the room")
	ErrNoTutor     = errors.New("AI tutor is not available")
)
