// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a broadcast cannot move to the requested status.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrBroadcastNotFound is returned when a broadcast row is missing.
type ErrBroadcastNotFound struct {
	BroadcastID int
}

func (e *ErrBroadcastNotFound) Error() string {
	return fmt.Sprintf("broadcast with ID %d not found", e.BroadcastID)
}

type ErrContactNotFound struct {
	ContactID int
}

func (e *ErrContactNotFound) Error() string {
	return fmt.Sprintf("contact with ID %d not found", e.ContactID)
}

// Helper constructors
func NewBroadcastNotFound(id int) error {
	return &ErrBroadcastNotFound{BroadcastID: id}
}

func NewContactNotFound(id int) error {
	return &ErrContactNotFound{ContactID: id}
}

// IsNotFound reports whether err wraps any of the not-found errors above.
func IsNotFound(err error) bool {
	var b *ErrBroadcastNotFound
	var c *ErrContactNotFound
	return errors.As(err, &b) || errors.As(err, &c)
}
