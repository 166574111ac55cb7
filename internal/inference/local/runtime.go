// Package local is an in-process inference runtime.
//
// It loads graph models from model.json plus binary weight shards (file or http) and
// executes them on the host CPU. Backends differ only in how many batch rows run in
// parallel, which is enough to exercise backend switching in the bridge.
package local

import (
	"context"
	"fmt"
	goruntime "runtime"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/woxQAQ/nnbridge/internal/inference"
)

// BackendSpec registers a backend with the runtime.
type BackendSpec struct {
	Name string
	// Workers is the number of batch rows evaluated concurrently.
	Workers int
	// Available reports why the backend cannot run, or nil. Nil func means always available.
	Available func() error
}

// CPUBackend returns the sequential backend.
func CPUBackend(name string) BackendSpec {
	return BackendSpec{Name: name, Workers: 1}
}

// ParallelBackend returns a backend using every processor.
func ParallelBackend(name string, available func() error) BackendSpec {
	return BackendSpec{Name: name, Workers: goruntime.GOMAXPROCS(0), Available: available}
}

// Runtime implements inference.Runtime.
type Runtime struct {
	mu       sync.RWMutex
	backends map[string]BackendSpec
	active   string

	fetcher Fetcher
	logger  *zap.Logger
}

var _ inference.Runtime = (*Runtime)(nil)

// New creates a runtime. The first backend is active initially.
// With no backends a single "cpu" backend is registered.
func New(logger *zap.Logger, fetcher Fetcher, backends ...BackendSpec) *Runtime {
	if fetcher == nil {
		fetcher = &DefaultFetcher{}
	}
	if len(backends) == 0 {
		backends = []BackendSpec{CPUBackend("cpu")}
	}

	r := &Runtime{
		backends: make(map[string]BackendSpec, len(backends)),
		active:   backends[0].Name,
		fetcher:  fetcher,
		logger:   logger.With(zap.String("component", "local-runtime")),
	}
	for _, b := range backends {
		if b.Workers < 1 {
			b.Workers = 1
		}
		r.backends[b.Name] = b
	}

	return r
}

// Backend implements inference.Runtime.
func (r *Runtime) Backend() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// SetBackend implements inference.Runtime.
func (r *Runtime) SetBackend(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.RLock()
	spec, ok := r.backends[name]
	r.mu.RUnlock()
	if !ok {
		return &UnknownBackendError{Name: name}
	}

	if spec.Available != nil {
		if err := spec.Available(); err != nil {
			return &BackendUnavailableError{Name: name, Err: err}
		}
	}

	r.mu.Lock()
	prev := r.active
	r.active = name
	r.mu.Unlock()

	r.logger.Info("Backend switched",
		zap.String("from", prev),
		zap.String("to", name),
		zap.Int("workers", spec.Workers),
	)
	return nil
}

// LoadGraphModel implements inference.Runtime.
func (r *Runtime) LoadGraphModel(ctx context.Context, manifestURL string) (inference.GraphModel, error) {
	return r.Load(ctx, manifestURL)
}

// Load is LoadGraphModel returning the concrete model.
func (r *Runtime) Load(ctx context.Context, manifestURL string) (*Model, error) {
	m, weights, err := r.LoadWeights(ctx, manifestURL)
	if err != nil {
		return nil, err
	}

	model, err := newModel(r, m, weights)
	if err != nil {
		return nil, fmt.Errorf("model '%s': %w", manifestURL, err)
	}

	r.logger.Info("Graph model loaded",
		zap.String("manifest", manifestURL),
		zap.Strings("inputs", m.InputNames()),
		zap.Strings("outputs", m.OutputNames()),
		zap.Int("weights", len(weights)),
	)
	return model, nil
}

// LoadWeights fetches the description and decodes every weight group.
// Shards are fetched concurrently.
func (r *Runtime) LoadWeights(ctx context.Context, manifestURL string) (*Manifest, map[string]*inference.Tensor, error) {
	data, err := r.fetcher.Fetch(ctx, manifestURL)
	if err != nil {
		return nil, nil, err
	}

	m, err := ParseManifest(data)
	if err != nil {
		return nil, nil, fmt.Errorf("model '%s': %w", manifestURL, err)
	}

	groups := make([]map[string]*inference.Tensor, len(m.WeightsManifest))

	g, gctx := errgroup.WithContext(ctx)
	for i, group := range m.WeightsManifest {
		g.Go(func() error {
			var buf []byte
			for _, p := range group.Paths {
				shard, err := r.fetcher.Fetch(gctx, ResolveLocation(manifestURL, p))
				if err != nil {
					return err
				}
				buf = append(buf, shard...)
			}

			decoded, err := DecodeWeights(group, buf)
			if err != nil {
				return fmt.Errorf("model '%s' weight group %d: %w", manifestURL, i, err)
			}
			groups[i] = decoded
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	weights := make(map[string]*inference.Tensor)
	for _, group := range groups {
		for name, t := range group {
			if _, dup := weights[name]; dup {
				return nil, nil, fmt.Errorf("model '%s': weight %q declared in several groups", manifestURL, name)
			}
			weights[name] = t
		}
	}

	return m, weights, nil
}

func (r *Runtime) workers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.backends[r.active].Workers
}
