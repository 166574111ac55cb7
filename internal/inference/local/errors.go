package local

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrModelDisposed is returned by Execute after Dispose.
var ErrModelDisposed = errors.New("model has been disposed")

// FetchError occurs when a model file cannot be read.
type FetchError struct {
	Location   string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to fetch '%s' (status %d): %v", e.Location, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("failed to fetch '%s': %v", e.Location, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// UnknownBackendError occurs when switching to a backend that was never registered.
type UnknownBackendError struct {
	Name string
}

func (e *UnknownBackendError) Error() string {
	return fmt.Sprintf("backend '%s' is not registered", e.Name)
}

// BackendUnavailableError occurs when a registered backend cannot run in this process.
type BackendUnavailableError struct {
	Name string
	Err  error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("backend '%s' is unavailable: %v", e.Name, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error {
	return e.Err
}

// InputError occurs when Execute receives inputs that do not match the signature.
type InputError struct {
	Name    string
	Message string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("input '%s': %s", e.Name, e.Message)
}
