// Package model holds the single graph model a bridge runs inference against.
package model

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/woxQAQ/nnbridge/internal/inference"
	"github.com/woxQAQ/nnbridge/pkg/protocol"
)

// ManifestName is appended to every model location.
const ManifestName = "model.json"

// Registry owns at most one loaded model.
type Registry struct {
	sync.RWMutex
	rt       inference.Runtime
	current  inference.GraphModel
	location string
	loadedAt time.Time
	logger   *zap.Logger
}

// NewRegistry creates an empty registry loading through rt.
func NewRegistry(rt inference.Runtime, logger *zap.Logger) *Registry {
	return &Registry{
		rt:     rt,
		logger: logger.With(zap.String("component", "model-registry")),
	}
}

// ManifestURL returns the model description location for a model location.
func ManifestURL(location string) string {
	return strings.TrimRight(location, "/") + "/" + ManifestName
}

// Load fetches the model at location and makes it current.
// The previous model is disposed on success and left untouched on failure.
func (r *Registry) Load(ctx context.Context, location string) error {
	m, err := r.Fetch(ctx, location)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		m.Dispose()
		return &LoadError{Location: location, Err: err}
	}
	r.Install(location, m)
	return nil
}

// Fetch loads the model at location without making it current.
// The caller owns the returned model until it is passed to Install.
func (r *Registry) Fetch(ctx context.Context, location string) (inference.GraphModel, error) {
	if location == "" {
		return nil, &LoadError{Location: location, Err: fmt.Errorf("empty model location")}
	}

	manifest := ManifestURL(location)
	r.logger.Info("Loading model", zap.String("manifest", manifest))

	start := time.Now()
	m, err := r.rt.LoadGraphModel(ctx, manifest)
	if err != nil {
		r.logger.Error("Failed to load model",
			zap.String("manifest", manifest),
			zap.Error(err),
		)
		return nil, &LoadError{Location: location, Err: err}
	}

	r.logger.Debug("Model fetched",
		zap.String("location", location),
		zap.Duration("duration", time.Since(start)),
	)
	return m, nil
}

// Install makes m current and disposes the model it replaces.
func (r *Registry) Install(location string, m inference.GraphModel) {
	r.Lock()
	prev := r.current
	r.current = m
	r.location = location
	r.loadedAt = time.Now()
	r.Unlock()

	if prev != nil && prev != m {
		prev.Dispose()
	}

	r.logger.Info("Model loaded successfully",
		zap.String("location", location),
		zap.Bool("replaced", prev != nil),
	)
}

// Unload disposes the current model, if any.
func (r *Registry) Unload() {
	r.Lock()
	prev := r.current
	location := r.location
	r.current = nil
	r.location = ""
	r.Unlock()

	if prev == nil {
		return
	}
	prev.Dispose()
	r.logger.Info("Model unloaded", zap.String("location", location))
}

// Current returns the loaded model.
func (r *Registry) Current() (inference.GraphModel, bool) {
	r.RLock()
	defer r.RUnlock()
	return r.current, r.current != nil
}

// Location returns where the current model was loaded from.
func (r *Registry) Location() string {
	r.RLock()
	defer r.RUnlock()
	return r.location
}

// LoadedAt returns when the current model was loaded.
func (r *Registry) LoadedAt() time.Time {
	r.RLock()
	defer r.RUnlock()
	return r.loadedAt
}

// SchemaVersion returns the tensor layout version of the models this registry serves.
func (r *Registry) SchemaVersion() int {
	return protocol.SchemaVersion
}

// LoadError occurs when a model cannot be fetched or parsed.
type LoadError struct {
	Location string
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load model from '%s': %v", e.Location, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// NoModelError occurs when inference is requested before a model is loaded.
type NoModelError struct{}

func (e *NoModelError) Error() string {
	return "no model loaded"
}
