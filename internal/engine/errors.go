package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNoStory is returned by operations that require a loaded story.
	ErrNoStory = errors.New("no story loaded")

	// ErrNotStarted is returned when an operation needs a current node.
	ErrNotStarted = errors.New("story not started")

	// ErrNotChoiceNode is returned by MakeChoice on a non-choice node.
	ErrNotChoiceNode = errors.New("current node is not a choice node")
)

// NodeNotFoundError reports navigation to an unknown node id. With a
// validated story this indicates a caller bug, not an authoring mistake.
type NodeNotFoundError struct {
	ID string
}

func (e *NodeNotFoundError) Error() string {
	return fmt.Sprintf("node %q not found", e.ID)
}

// InvalidChoiceError reports a choice index outside the available range.
type InvalidChoiceError struct {
	Index     int
	Available int
}

func (e *InvalidChoiceError) Error() string {
	return fmt.Sprintf("choice index %d out of range (%d available)", e.Index, e.Available)
}

// ProgressReason names why Progress was refused.
type ProgressReason string

const (
	ReasonChoiceNode ProgressReason = "current node is a choice node"
	ReasonEndNode    ProgressReason = "current node is an end node"
	ReasonNoNextNode ProgressReason = "current node has no next node"
)

// CannotProgressError reports a Progress call on a node that cannot advance.
type CannotProgressError struct {
	NodeID string
	Reason ProgressReason
}

func (e *CannotProgressError) Error() string {
	return fmt.Sprintf("cannot progress from node %q: %s", e.NodeID, e.Reason)
}
