package bridge

import (
	"errors"
	"fmt"
)

// ErrBusy is matched by every BusyError.
var ErrBusy = errors.New("bridge busy")

// ErrAbandoned is returned by Commit after the caller stopped waiting.
var ErrAbandoned = errors.New("caller stopped waiting")

// BusyError occurs when a call arrives while another is pending under the reject policy.
type BusyError struct {
	Op      string
	Pending string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("cannot start '%s': '%s' is still pending", e.Op, e.Pending)
}

func (e *BusyError) Is(target error) bool {
	return target == ErrBusy
}

// DescriptorError occurs when a guest buffer descriptor is malformed.
type DescriptorError struct {
	Buffer  string
	Message string
}

func (e *DescriptorError) Error() string {
	return fmt.Sprintf("invalid %s descriptor: %s", e.Buffer, e.Message)
}

// MissingOutputError occurs in strict mode when inference leaves outputs unwritten.
type MissingOutputError struct {
	Kinds []string
}

func (e *MissingOutputError) Error() string {
	return fmt.Sprintf("inference produced no result for %v", e.Kinds)
}
