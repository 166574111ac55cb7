// Package inferencetest provides scriptable inference runtimes for tests.
package inferencetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/woxQAQ/nnbridge/internal/inference"
)

// ErrUnreachable is returned for manifest URLs the fake has no model for.
var ErrUnreachable = errors.New("location unreachable")

// Runtime is a fake inference.Runtime.
type Runtime struct {
	mu      sync.Mutex
	backend string

	// Available restricts SetBackend to the listed names. Nil allows every name.
	Available map[string]bool
	// Models maps manifest URLs to the model returned by LoadGraphModel.
	Models map[string]*Model
	// Gate, when set, blocks SetBackend and LoadGraphModel until it yields or closes.
	Gate chan struct{}
	// Stall, when set, blocks LoadGraphModel like Gate but ignores the context.
	Stall chan struct{}

	loads []string
}

var _ inference.Runtime = (*Runtime)(nil)

// NewRuntime returns a fake starting on backend.
func NewRuntime(backend string) *Runtime {
	return &Runtime{backend: backend, Models: make(map[string]*Model)}
}

// Backend implements inference.Runtime.
func (r *Runtime) Backend() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.backend
}

// SetBackend implements inference.Runtime.
func (r *Runtime) SetBackend(ctx context.Context, name string) error {
	if err := wait(ctx, r.Gate); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Available != nil && !r.Available[name] {
		return fmt.Errorf("backend %q not available", name)
	}
	r.backend = name
	return nil
}

// LoadGraphModel implements inference.Runtime.
func (r *Runtime) LoadGraphModel(ctx context.Context, manifestURL string) (inference.GraphModel, error) {
	if err := wait(ctx, r.Gate); err != nil {
		return nil, err
	}
	stall(r.Stall)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads = append(r.loads, manifestURL)

	m, ok := r.Models[manifestURL]
	if !ok {
		return nil, fmt.Errorf("fetch %s: %w", manifestURL, ErrUnreachable)
	}
	return m, nil
}

// Loads returns the manifest URLs requested so far.
func (r *Runtime) Loads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.loads...)
}

// Model is a fake inference.GraphModel returning canned results.
type Model struct {
	Results []*inference.Tensor
	Err     error
	// Panic makes Execute panic with this value.
	Panic any
	// Gate, when set, blocks Execute until it yields or closes.
	Gate chan struct{}
	// Stall, when set, blocks Execute like Gate but ignores the context.
	Stall chan struct{}

	calls    atomic.Int32
	disposed atomic.Bool

	mu         sync.Mutex
	lastInputs map[string]*inference.Tensor
}

var _ inference.GraphModel = (*Model)(nil)

// Execute implements inference.GraphModel.
func (m *Model) Execute(ctx context.Context, inputs map[string]*inference.Tensor) ([]*inference.Tensor, error) {
	m.calls.Add(1)

	m.mu.Lock()
	m.lastInputs = inputs
	m.mu.Unlock()

	if err := wait(ctx, m.Gate); err != nil {
		return nil, err
	}
	stall(m.Stall)
	if m.Panic != nil {
		panic(m.Panic)
	}
	if m.disposed.Load() {
		return nil, errors.New("model disposed")
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Results, nil
}

// Dispose implements inference.GraphModel.
func (m *Model) Dispose() {
	m.disposed.Store(true)
}

// Disposed reports whether Dispose was called.
func (m *Model) Disposed() bool {
	return m.disposed.Load()
}

// Calls returns how many times Execute ran.
func (m *Model) Calls() int {
	return int(m.calls.Load())
}

// LastInputs returns the inputs of the latest Execute call.
func (m *Model) LastInputs() map[string]*inference.Tensor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastInputs
}

// Filled returns a tensor of n elements where element i is base+i.
func Filled(name string, n int, base float32) *inference.Tensor {
	data := make([]float32, n)
	for i := range data {
		data[i] = base + float32(i)
	}
	return &inference.Tensor{Name: name, Shape: []int{n}, Data: data}
}

func wait(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func stall(ch chan struct{}) {
	if ch != nil {
		<-ch
	}
}
