package local

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/woxQAQ/nnbridge/internal/inference"
)

// Model is a graph whose outputs are dense heads over the concatenated inputs.
//
// For output o with per-row shape S, the model needs weights "o/kernel" of shape
// [in, prod(S)] and optionally "o/bias" of shape [prod(S)], where in is the summed
// per-row size of all inputs taken in name order. This is enough to exercise the
// bridge end to end; it is not meant to play well.
type Model struct {
	rt       *Runtime
	manifest *Manifest

	inputs  []string
	inSizes map[string]int
	inWidth int
	heads   []head

	mu       sync.Mutex
	running  int
	disposed bool
}

type head struct {
	name   string
	shape  []int
	kernel *mat.Dense // in x out
	bias   []float64
}

func newModel(rt *Runtime, m *Manifest, weights map[string]*inference.Tensor) (*Model, error) {
	model := &Model{
		rt:       rt,
		manifest: m,
		inputs:   m.InputNames(),
		inSizes:  make(map[string]int),
	}

	for _, name := range model.inputs {
		n := inference.ShapeSize(m.Signature.Inputs[name].Shape)
		model.inSizes[name] = n
		model.inWidth += n
	}

	for _, name := range m.OutputNames() {
		spec := m.Signature.Outputs[name]
		out := inference.ShapeSize(spec.Shape)

		kernel, ok := weights[name+"/kernel"]
		if !ok {
			return nil, errors.Errorf("output %q has no kernel weight", name)
		}
		if len(kernel.Shape) != 2 || kernel.Shape[0] != model.inWidth || kernel.Shape[1] != out {
			return nil, errors.Errorf("output %q: kernel shape %v, want [%d %d]", name, kernel.Shape, model.inWidth, out)
		}

		h := head{
			name:   name,
			shape:  spec.Shape,
			kernel: mat.NewDense(model.inWidth, out, toFloat64(kernel.Data)),
		}

		if bias, ok := weights[name+"/bias"]; ok {
			if bias.Size() != out {
				return nil, errors.Errorf("output %q: bias has %d elements, want %d", name, bias.Size(), out)
			}
			h.bias = toFloat64(bias.Data)
		}

		model.heads = append(model.heads, h)
	}

	return model, nil
}

// Manifest returns the parsed model description.
func (m *Model) Manifest() *Manifest {
	return m.manifest
}

// Execute implements inference.GraphModel.
func (m *Model) Execute(ctx context.Context, inputs map[string]*inference.Tensor) ([]*inference.Tensor, error) {
	heads, err := m.enter()
	if err != nil {
		return nil, err
	}
	defer m.leave()

	batch, err := m.batchSize(inputs)
	if err != nil {
		return nil, err
	}

	outs := make([][]float32, len(heads))
	for i, h := range heads {
		outs[i] = make([]float32, batch*inference.ShapeSize(h.shape))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.rt.workers())

	for row := 0; row < batch; row++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			x := mat.NewVecDense(m.inWidth, m.row(inputs, row))
			for i, h := range heads {
				_, n := h.kernel.Dims()
				y := mat.NewVecDense(n, nil)
				y.MulVec(h.kernel.T(), x)

				dst := outs[i][row*n : (row+1)*n]
				for j := range dst {
					v := y.AtVec(j)
					if h.bias != nil {
						v += h.bias[j]
					}
					dst[j] = float32(v)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]*inference.Tensor, len(heads))
	for i, h := range heads {
		shape := append([]int{batch}, h.shape...)
		t, err := inference.NewTensor(h.name, shape, outs[i])
		if err != nil {
			return nil, err
		}
		results[i] = t
	}
	return results, nil
}

// Dispose implements inference.GraphModel. It never waits for running
// executions; the weights are released when the last one returns.
func (m *Model) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.disposed = true
	if m.running == 0 {
		m.heads = nil
	}
}

// Disposed reports whether Dispose has been called.
func (m *Model) Disposed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposed
}

// Released reports whether the weights have been dropped.
func (m *Model) Released() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposed && m.heads == nil
}

func (m *Model) enter() ([]head, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return nil, ErrModelDisposed
	}
	m.running++
	return m.heads, nil
}

func (m *Model) leave() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.running--
	if m.disposed && m.running == 0 {
		m.heads = nil
	}
}

func (m *Model) batchSize(inputs map[string]*inference.Tensor) (int, error) {
	batch := -1
	for _, name := range m.inputs {
		t, ok := inputs[name]
		if !ok {
			return 0, &InputError{Name: name, Message: "missing"}
		}
		if len(t.Shape) == 0 || t.Shape[0] <= 0 {
			return 0, &InputError{Name: name, Message: "needs a leading batch dimension"}
		}
		if batch >= 0 && t.Shape[0] != batch {
			return 0, &InputError{Name: name, Message: "batch dimension differs from other inputs"}
		}
		batch = t.Shape[0]
		if t.Size() != batch*m.inSizes[name] {
			return 0, &InputError{Name: name, Message: "size does not match signature shape"}
		}
	}
	return batch, nil
}

func (m *Model) row(inputs map[string]*inference.Tensor, row int) []float64 {
	x := make([]float64, 0, m.inWidth)
	for _, name := range m.inputs {
		n := m.inSizes[name]
		for _, v := range inputs[name].Data[row*n : (row+1)*n] {
			x = append(x, float64(v))
		}
	}
	return x
}

func toFloat64(src []float32) []float64 {
	out := make([]float64, len(src))
	for i, v := range src {
		out[i] = float64(v)
	}
	return out
}
