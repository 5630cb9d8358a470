// Package room derives the in-memory broadcast key for a conversation.
package room

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidID = errors.New("room: ids must be positive")
	ErrSameUser  = errors.New("room: direct room needs two distinct users")
)

// ID identifies a broadcast group. It is never persisted.
type ID string

// Direct returns the room shared by users a and b. The result does not depend
// on argument order.
func Direct(a, b uint64) (ID, error) {
	if a == 0 || b == 0 {
		return "", ErrInvalidID
	}
	if a == b {
		return "", ErrSameUser
	}
	if a > b {
		a, b = b, a
	}
	return ID(fmt.Sprintf("chat_%d_%d", a, b)), nil
}

// Group returns the room of a group chat.
func Group(groupID uint64) (ID, error) {
	if groupID == 0 {
		return "", ErrInvalidID
	}
	return ID(fmt.Sprintf("group_%d", groupID)), nil
}
