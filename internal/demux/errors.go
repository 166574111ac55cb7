package demux

import (
	"fmt"
)

// LayoutError occurs when a board layout is unusable.
type LayoutError struct {
	Layout  Layout
	Message string
}

func (e *LayoutError) Error() string {
	return fmt.Sprintf("invalid layout %dx%d: %s", e.Layout.BoardX, e.Layout.BoardY, e.Message)
}

// SizeCollisionError occurs when two output kinds share an element count.
type SizeCollisionError struct {
	Size   int
	First  Kind
	Second Kind
}

func (e *SizeCollisionError) Error() string {
	return fmt.Sprintf("outputs '%s' and '%s' both have %d elements", e.First, e.Second, e.Size)
}

// ShapeMismatchError occurs when a named output has the wrong element count.
type ShapeMismatchError struct {
	Name     string
	Kind     Kind
	Size     int
	Expected int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("output '%s' (%s) has %d elements, expected %d", e.Name, e.Kind, e.Size, e.Expected)
}

// UnmatchedTensorError occurs in strict mode when an output matches no destination.
type UnmatchedTensorError struct {
	Name string
	Size int
}

func (e *UnmatchedTensorError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("unnamed output with %d elements matches no destination", e.Size)
	}
	return fmt.Sprintf("output '%s' with %d elements matches no destination", e.Name, e.Size)
}

// DuplicateOutputError occurs in strict mode when two outputs route to the same destination.
type DuplicateOutputError struct {
	Kind Kind
}

func (e *DuplicateOutputError) Error() string {
	return fmt.Sprintf("more than one output routed to '%s'", e.Kind)
}

// MalformedResultError occurs when the runtime returns an unusable result list.
type MalformedResultError struct {
	Message string
}

func (e *MalformedResultError) Error() string {
	return fmt.Sprintf("malformed inference result: %s", e.Message)
}
