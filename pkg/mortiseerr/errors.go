// Package mortiseerr defines the manager's error kinds, mirroring
// mortise-common's error.rs but as Go sentinel/typed errors instead of a
// single enum, so callers can use errors.Is/errors.As the way the rest of
// the corpus does (plain fmt.Errorf("...: %w", err) wrapping).
package mortiseerr

import (
	"errors"
	"fmt"
)

// Sentinel kinds with no associated payload.
var (
	ErrInvalidBpfFlags = errors.New("invalid bpf flags")
	ErrJoin            = errors.New("failed to join thread")
	ErrChannelSend     = errors.New("manager IPC channel send error")
	ErrChannelRecv     = errors.New("manager IPC channel recv error")
)

// ObjectNotFoundError reports an operation addressed at an unknown or
// not-yet-loaded object id.
type ObjectNotFoundError struct{ ID uint32 }

func (e *ObjectNotFoundError) Error() string {
	return fmt.Sprintf("object of id %d not found", e.ID)
}

// MapNotFoundError reports a lookup of a map name an object doesn't have.
type MapNotFoundError struct{ Name string }

func (e *MapNotFoundError) Error() string {
	return fmt.Sprintf("map of name %s not found", e.Name)
}

// ElemNotFoundError reports a missing key in an otherwise-valid map.
type ElemNotFoundError struct{ Name string }

func (e *ElemNotFoundError) Error() string {
	return fmt.Sprintf("element of map %s not found", e.Name)
}

// FlowNotFoundError reports an operation addressed at an unknown flow id.
type FlowNotFoundError struct{ ID uint32 }

func (e *FlowNotFoundError) Error() string {
	return fmt.Sprintf("flow of id %d not found", e.ID)
}

// Custom wraps a message that doesn't fit any other kind, mirroring
// MortiseError::Custom.
func Custom(msg string) error {
	return errors.New(msg)
}

// ErrExceedsMaxEntries is returned when an inner-map update hits errno 7
// (E2BIG/ENOSPC-equivalent "table full") while wiring a flow's scratch maps.
var ErrExceedsMaxEntries = errors.New("exceed max_entries")
