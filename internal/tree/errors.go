package tree

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates an id that does not resolve to an item of the expected type.
	ErrNotFound = errors.New("item not found")

	// ErrWrongType indicates an operation applied to a group where a scheme was
	// required, or the reverse.
	ErrWrongType = errors.New("wrong item type")

	// ErrInvalidMove indicates a move rejected by ValidateMove.
	ErrInvalidMove = errors.New("invalid move")

	// ErrProtected indicates an attempt to delete the root group.
	ErrProtected = errors.New("root group is protected")
)

// Reasons reported by ValidateMove.
const (
	ReasonItemNotFound   = "item not found"
	ReasonTargetNotFound = "target group not found"
	ReasonTargetNotGroup = "target is not a group"
	ReasonSelf           = "cannot move an item into itself"
	ReasonSameParent     = "item is already in the target group"
	ReasonDescendant     = "cannot move a group into one of its descendants"
	ReasonRoot           = "root group cannot be moved"
)

// MoveError describes why a move was rejected.
type MoveError struct {
	ItemID   string
	TargetID string
	Reason   string
}

func (e *MoveError) Error() string {
	return fmt.Sprintf("invalid move of %q into %q: %s", e.ItemID, e.TargetID, e.Reason)
}

func (e *MoveError) Unwrap() error { return ErrInvalidMove }
