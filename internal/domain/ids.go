// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const MaxDisplayNameLen = 36

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
)

type (
	// ParticipantID is the opaque authenticated identity supplied by the
	// auth collaborator before a transport connection is accepted.
	// Immutable for the life of a connection.
	ParticipantID string

	// ConnID identifies one transport connection. A participant may hold
	// several concurrent connections (multiple tabs).
	ConnID string

	// RoomID is caller-supplied (a meeting id). Rooms are created lazily
	// on first join and reaped when the last member leaves.
	RoomID string
)

func ValidateDisplayName(name string) error {
	if len(name) == 0 {
		return ErrDisplayNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	return nil
}
