package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrUnreachable indicates the remote could not be reached at all.
	ErrUnreachable = errors.New("remote: unreachable")
	// ErrRejected indicates the remote answered with a non-200 status.
	ErrRejected = errors.New("remote: request rejected")
	// ErrInvalidResponse indicates a 200 answer whose body could not be interpreted.
	ErrInvalidResponse = errors.New("remote: invalid response format")
)

// Operation names a remote procedure.
type Operation string

const (
	OpCreate Operation = "create"
	OpAmend  Operation = "amend"
	OpCancel Operation = "cancel"
)

// Error describes a failed remote call. Kind is one of the sentinel errors above.
type Error struct {
	Op         Operation
	Kind       error
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("%s sales order: %v (status %d): %s", e.Op, e.Kind, e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s sales order: %v: %v", e.Op, e.Kind, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s sales order: %v: %s", e.Op, e.Kind, e.Message)
	default:
		return fmt.Sprintf("%s sales order: %v", e.Op, e.Kind)
	}
}

// Is matches the error kind so callers can use errors.Is with the sentinels.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func (e *Error) Unwrap() error {
	return e.Err
}
