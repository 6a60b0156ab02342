package resolution

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is; the concrete *Error carries details.
var (
	ErrInvariantViolation = errors.New("invariant violation")
	ErrIdentity           = errors.New("entity has no stable identity")
	ErrInconsistentState  = errors.New("inconsistent reference state")
)

// Error describes a rejected classification operation.
type Error struct {
	Op       string
	EntityID int64
	Kind     error
	Detail   string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s(%d): %v", e.Op, e.EntityID, e.Kind)
	}
	return fmt.Sprintf("%s(%d): %v: %s", e.Op, e.EntityID, e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Kind }

func violation(op string, id int64, format string, args ...any) error {
	return &Error{Op: op, EntityID: id, Kind: ErrInvariantViolation, Detail: fmt.Sprintf(format, args...)}
}

func identity(op string, id int64, detail string) error {
	return &Error{Op: op, EntityID: id, Kind: ErrIdentity, Detail: detail}
}
