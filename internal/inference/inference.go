// Package inference defines the contract between the bridge and an inference runtime.
//
// The bridge never computes anything itself. It asks a Runtime to switch backends and
// to load graph models, and asks a GraphModel to execute a batch. Every call may block
// for a long time (network fetch, device work) and must honour its context.
package inference

import (
	"context"
	"fmt"
)

// Runtime is an inference runtime with a switchable compute backend.
type Runtime interface {
	// Backend returns the name of the active backend, e.g. "cpu".
	Backend() string

	// SetBackend switches the active backend. It fails when the backend is
	// unknown or not available in this process.
	SetBackend(ctx context.Context, name string) error

	// LoadGraphModel fetches and parses a model description and its weights.
	LoadGraphModel(ctx context.Context, manifestURL string) (GraphModel, error)
}

// GraphModel is a loaded inference graph.
type GraphModel interface {
	// Execute runs one batch. The result order is not meaningful.
	Execute(ctx context.Context, inputs map[string]*Tensor) ([]*Tensor, error)

	// Dispose releases the model's resources. Further Execute calls fail.
	Dispose()
}

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	// Name is the graph node name. Runtimes that do not name outputs leave it empty.
	Name  string
	Shape []int
	Data  []float32
}

// NewTensor creates a tensor, checking that data matches shape.
func NewTensor(name string, shape []int, data []float32) (*Tensor, error) {
	n := ShapeSize(shape)
	if n != len(data) {
		return nil, fmt.Errorf("tensor %q: shape %v holds %d elements, got %d", name, shape, n, len(data))
	}
	return &Tensor{Name: name, Shape: append([]int(nil), shape...), Data: data}, nil
}

// Size returns the total element count.
func (t *Tensor) Size() int {
	return len(t.Data)
}

// DataSync returns the flattened contents.
func (t *Tensor) DataSync() []float32 {
	return t.Data
}

// ShapeSize returns the element count of shape. An empty shape is a scalar.
func ShapeSize(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
