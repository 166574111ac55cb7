// Package backend maps guest backend enumerators onto runtime backend names.
package backend

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/woxQAQ/nnbridge/internal/inference"
	"github.com/woxQAQ/nnbridge/pkg/protocol"
)

// CapabilityProbe reports whether an offscreen rendering surface is available,
// which is what the accelerated backend needs.
type CapabilityProbe interface {
	OffscreenSurface() bool
}

// StaticProbe is a probe with a fixed answer, typically taken from configuration.
type StaticProbe bool

// OffscreenSurface implements CapabilityProbe.
func (p StaticProbe) OffscreenSurface() bool { return bool(p) }

// ProbeFunc adapts a function to CapabilityProbe.
type ProbeFunc func() bool

// OffscreenSurface implements CapabilityProbe.
func (f ProbeFunc) OffscreenSurface() bool { return f() }

// Names are the runtime's names for the two concrete backends.
type Names struct {
	CPU         string
	Accelerated string
}

// DefaultNames matches the names used by tfjs.
func DefaultNames() Names {
	return Names{CPU: "cpu", Accelerated: "webgl"}
}

// Selector resolves and applies backend requests.
type Selector struct {
	rt     inference.Runtime
	probe  CapabilityProbe
	names  Names
	strict bool
	logger *zap.Logger
}

// Option configures a Selector.
type Option func(*Selector)

// WithNames overrides the runtime backend names.
func WithNames(names Names) Option {
	return func(s *Selector) { s.names = names }
}

// WithStrict makes invalid requests fail instead of being ignored.
func WithStrict(strict bool) Option {
	return func(s *Selector) { s.strict = strict }
}

// NewSelector creates a selector over rt.
func NewSelector(rt inference.Runtime, probe CapabilityProbe, logger *zap.Logger, opts ...Option) *Selector {
	if probe == nil {
		probe = StaticProbe(false)
	}
	s := &Selector{
		rt:     rt,
		probe:  probe,
		names:  DefaultNames(),
		logger: logger.With(zap.String("component", "backend-selector")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Current returns the active backend. It never returns BackendAuto.
func (s *Selector) Current() protocol.BackendID {
	switch s.rt.Backend() {
	case s.names.CPU:
		return protocol.BackendCPU
	case s.names.Accelerated:
		return protocol.BackendAccelerated
	default:
		return protocol.BackendUnknown
	}
}

// Resolve maps a request onto a runtime backend name.
// AUTO consults the capability probe at call time.
func (s *Selector) Resolve(requested protocol.BackendID) (string, error) {
	switch requested {
	case protocol.BackendAuto:
		if s.probe.OffscreenSurface() {
			return s.names.Accelerated, nil
		}
		return s.names.CPU, nil
	case protocol.BackendCPU:
		return s.names.CPU, nil
	case protocol.BackendAccelerated:
		return s.names.Accelerated, nil
	default:
		return "", &InvalidBackendError{Requested: int32(requested)}
	}
}

// Select switches the runtime to the requested backend.
//
// An unrecognized request is an InvalidBackendError in strict mode and a logged
// no-op otherwise.
func (s *Selector) Select(ctx context.Context, requested protocol.BackendID) error {
	name, err := s.Resolve(requested)
	if err != nil {
		if s.strict {
			s.logger.Warn("Rejected backend request", zap.Int32("requested", int32(requested)))
			return err
		}
		s.logger.Debug("Ignoring unrecognized backend request", zap.Int32("requested", int32(requested)))
		return nil
	}

	s.logger.Debug("Switching backend",
		zap.Stringer("requested", requested),
		zap.String("backend", name),
	)

	if err := s.rt.SetBackend(ctx, name); err != nil {
		s.logger.Error("Backend switch failed",
			zap.String("backend", name),
			zap.Error(err),
		)
		return &SwitchError{Backend: name, Err: err}
	}

	return nil
}

// InvalidBackendError occurs when a guest requests a backend value outside the enumerator.
type InvalidBackendError struct {
	Requested int32
}

func (e *InvalidBackendError) Error() string {
	return fmt.Sprintf("invalid backend enumerator %d", e.Requested)
}

// SwitchError occurs when the runtime refuses a backend switch.
type SwitchError struct {
	Backend string
	Err     error
}

func (e *SwitchError) Error() string {
	return fmt.Sprintf("failed to switch to backend '%s': %v", e.Backend, e.Err)
}

func (e *SwitchError) Unwrap() error {
	return e.Err
}
