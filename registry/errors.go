package registry

import (
	"errors"
	"fmt"
)

// ErrUnknownIdentifier is matched by errors returned for identifiers that were never registered.
var ErrUnknownIdentifier = errors.New("unknown connection identifier")

// UnknownIdentifierError reports a lookup of an identifier that was never registered.
type UnknownIdentifierError struct {
	ID string
}

func (e *UnknownIdentifierError) Error() string {
	return fmt.Sprintf("connection %q: %v", e.ID, ErrUnknownIdentifier)
}

// Is reports whether target is ErrUnknownIdentifier.
func (e *UnknownIdentifierError) Is(target error) bool {
	return target == ErrUnknownIdentifier
}

// ConnectionError wraps the connector failure that prevented a handle from being created.
type ConnectionError struct {
	ID  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %q: connect: %v", e.ID, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
