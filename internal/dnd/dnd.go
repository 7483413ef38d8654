// Package dnd turns drag gestures over the page tree into move intents.
//
// A gesture is evaluated against an explicit stack of drop-zones under the
// pointer. The deepest zone claims hover and drop events, so ancestor zones
// never compete with nested ones. The package only classifies; applying an
// intent to the tree is the caller's job (see package tree).
package dnd

import (
	"errors"
	"fmt"
)

// EdgeBand is the height in pixels of the strip at the top of a zone that
// turns a drop into a sibling insert instead of a reparent.
const EdgeBand = 5.0

// ErrInvalidDrop marks a drop that would target the source itself or one of
// its descendants.
var ErrInvalidDrop = errors.New("invalid drop")

type Kind string

const (
	// KindContainer nodes accept child drops.
	KindContainer Kind = "container"
	// KindLeaf nodes only accept adjacent drops.
	KindLeaf Kind = "leaf"
)

type Node struct {
	ID       string `json:"id"`
	ParentID string `json:"parentId,omitempty"`
	Index    int    `json:"index"`
	Kind     Kind   `json:"kind"`
}

func (n Node) AcceptsChildren() bool {
	return n.Kind == KindContainer
}

type Op string

const (
	OpNone     Op = "none"
	OpAdjacent Op = "adjacent"
	OpChild    Op = "child"
)

// Intent is a move request. It is never applied here.
type Intent struct {
	Op       Op     `json:"intent"`
	SourceID string `json:"sourceId,omitempty"`
	TargetID string `json:"targetId,omitempty"`
}

// MoveAdjacent places source immediately before target under target's parent.
func MoveAdjacent(source, target Node) Intent {
	return Intent{Op: OpAdjacent, SourceID: source.ID, TargetID: target.ID}
}

// MoveChild places source as the last child of target.
func MoveChild(source, target Node) Intent {
	return Intent{Op: OpChild, SourceID: source.ID, TargetID: target.ID}
}

func None() Intent {
	return Intent{Op: OpNone}
}

func (i Intent) IsNone() bool {
	return i.Op == "" || i.Op == OpNone
}

// Ancestry answers subtree questions against a tree snapshot.
type Ancestry interface {
	IsDescendant(ancestorID, id string) bool
}

// IsAdjacent reports whether pointerY falls inside the top edge band of a
// zone whose rendered top is at top.
func IsAdjacent(pointerY, top float64) bool {
	return pointerY < top+EdgeBand
}

// Classify decides the intent for dropping source onto target. Self drops and
// drops into the source's own subtree return ErrInvalidDrop with a none
// intent. A nil ancestry skips the subtree check.
func Classify(source, target Node, adjacent bool, ancestry Ancestry) (Intent, error) {
	if source.ID == "" || target.ID == "" {
		return None(), fmt.Errorf("%w: missing source or target", ErrInvalidDrop)
	}
	if source.ID == target.ID {
		return None(), fmt.Errorf("%w: %s dropped onto itself", ErrInvalidDrop, source.ID)
	}
	if ancestry != nil && ancestry.IsDescendant(source.ID, target.ID) {
		return None(), fmt.Errorf("%w: %s is inside %s", ErrInvalidDrop, target.ID, source.ID)
	}
	if adjacent {
		return MoveAdjacent(source, target), nil
	}
	if target.AcceptsChildren() {
		return MoveChild(source, target), nil
	}
	return None(), nil
}
