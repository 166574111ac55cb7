// Package bridge lets a single-threaded guest drive the asynchronous inference runtime
// through calls that look synchronous from inside the guest.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/woxQAQ/nnbridge/internal/backend"
	"github.com/woxQAQ/nnbridge/internal/demux"
	"github.com/woxQAQ/nnbridge/internal/inference"
	"github.com/woxQAQ/nnbridge/internal/model"
	"github.com/woxQAQ/nnbridge/internal/wasm"
	"github.com/woxQAQ/nnbridge/pkg/protocol"
)

// Operation names, as logged and reported by Suspender.Pending.
const (
	OpSelectBackend = "select_backend"
	OpLoadModel     = "load_model"
	OpInfer         = "infer"
)

// Options tune a Bridge.
type Options struct {
	// Strict turns silently tolerated guest mistakes into failures.
	Strict bool `mapstructure:"strict"`

	// DetailedStatus reports busy, timeout, cancelled and invalid outcomes
	// instead of collapsing them to StatusFailure.
	DetailedStatus bool `mapstructure:"detailed_status"`

	// Timeout bounds every suspended call. Zero waits forever.
	Timeout time.Duration `mapstructure:"timeout"`

	// Overlap decides what a call does while another is pending.
	Overlap OverlapPolicy `mapstructure:"overlap"`
}

// DefaultOptions rejects overlapping calls and collapses every failure to 0.
func DefaultOptions() Options {
	return Options{Overlap: OverlapReject}
}

// Notifier receives the console ready signal.
type Notifier interface {
	NotifyStatus(state protocol.ReadyState)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(state protocol.ReadyState)

// NotifyStatus implements Notifier.
func (f NotifierFunc) NotifyStatus(state protocol.ReadyState) { f(state) }

// Descriptor locates a float buffer in guest memory.
type Descriptor struct {
	Offset uint32
	Shape  []int
	// Width is the element width in bytes. Zero means float32.
	Width int
}

// Elements returns the element count of the buffer.
func (d Descriptor) Elements() int {
	return inference.ShapeSize(d.Shape)
}

// InferRequest describes one batch in guest memory.
type InferRequest struct {
	Batch   int
	Spatial Descriptor
	Global  Descriptor
	Outputs demux.Destinations
}

// Bridge serves one guest instance.
type Bridge struct {
	selector  *backend.Selector
	models    *model.Registry
	router    *demux.Router
	suspender *Suspender
	notifier  Notifier
	opts      Options
	logger    *zap.Logger
}

// New creates a bridge. A nil notifier drops ready signals.
func New(selector *backend.Selector, models *model.Registry, router *demux.Router, notifier Notifier, logger *zap.Logger, opts Options) *Bridge {
	if notifier == nil {
		notifier = NotifierFunc(func(protocol.ReadyState) {})
	}
	return &Bridge{
		selector:  selector,
		models:    models,
		router:    router,
		suspender: NewSuspender(opts.Overlap, opts.Timeout, logger),
		notifier:  notifier,
		opts:      opts,
		logger:    logger.With(zap.String("component", "bridge")),
	}
}

// QueryBackend returns the active backend without suspending.
func (b *Bridge) QueryBackend() protocol.BackendID {
	return b.selector.Current()
}

// SelectBackend switches backends, suspending until the runtime confirms.
func (b *Bridge) SelectBackend(ctx context.Context, requested protocol.BackendID) protocol.Status {
	status := b.suspend(ctx, OpSelectBackend, func(ctx context.Context) error {
		return b.selector.Select(ctx, requested)
	})
	if !status.OK() {
		b.notifier.NotifyStatus(protocol.ReadyStateLoadFailed)
	}
	return status
}

// LoadModel loads the model at location, suspending until it is ready.
func (b *Bridge) LoadModel(ctx context.Context, location string) protocol.Status {
	b.notifier.NotifyStatus(protocol.ReadyStateNotReady)

	status := b.suspend(ctx, OpLoadModel, func(ctx context.Context) error {
		m, err := b.models.Fetch(ctx, location)
		if err != nil {
			return err
		}
		err = Commit(ctx, func() error {
			b.models.Install(location, m)
			return nil
		})
		if err != nil {
			m.Dispose()
		}
		return err
	})
	if status.OK() {
		b.notifier.NotifyStatus(protocol.ReadyStateReady)
	} else {
		b.notifier.NotifyStatus(protocol.ReadyStateLoadFailed)
	}
	return status
}

// UnloadModel disposes the current model.
func (b *Bridge) UnloadModel() {
	b.models.Unload()
	b.notifier.NotifyStatus(protocol.ReadyStateNotReady)
}

// SchemaVersion returns the tensor layout version.
func (b *Bridge) SchemaVersion() int32 {
	return int32(b.models.SchemaVersion())
}

// Notify forwards a guest-raised ready signal to the console.
func (b *Bridge) Notify(state protocol.ReadyState) {
	b.notifier.NotifyStatus(state)
}

// Pending reports the operation currently in flight.
func (b *Bridge) Pending() (string, bool) {
	op, _, ok := b.suspender.Pending()
	return op, ok
}

// Infer runs one batch read from mem and writes the outputs back into mem,
// suspending until the runtime finishes.
func (b *Bridge) Infer(ctx context.Context, mem *wasm.Memory, req InferRequest) protocol.Status {
	return b.suspend(ctx, OpInfer, func(ctx context.Context) error {
		return b.infer(ctx, mem, req)
	})
}

func (b *Bridge) infer(ctx context.Context, mem *wasm.Memory, req InferRequest) error {
	if req.Batch <= 0 {
		return &DescriptorError{Buffer: "batch", Message: fmt.Sprintf("batch size %d", req.Batch)}
	}

	m, ok := b.models.Current()
	if !ok {
		return &model.NoModelError{}
	}

	var spatial, global *inference.Tensor
	err := whileParked(ctx, func() (err error) {
		if spatial, err = readInput(mem, protocol.InputSpatialName, req.Batch, req.Spatial); err != nil {
			return err
		}
		global, err = readInput(mem, protocol.InputGlobalName, req.Batch, req.Global)
		return err
	})
	if err != nil {
		return err
	}

	results, err := m.Execute(ctx, map[string]*inference.Tensor{
		spatial.Name: spatial,
		global.Name:  global,
	})
	if err != nil {
		return fmt.Errorf("execute: %w", err)
	}

	var report demux.Report
	err = Commit(ctx, func() (err error) {
		report, err = b.router.Route(mem, req.Batch, results, req.Outputs)
		return err
	})
	if err != nil {
		return err
	}

	if missing := report.Missing(); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, k := range missing {
			names[i] = k.String()
		}
		if b.opts.Strict {
			return &MissingOutputError{Kinds: names}
		}
		b.logger.Debug("Inference left outputs unwritten", zap.Strings("kinds", names))
	}
	return nil
}

// readInput copies a guest buffer into a tensor. The first dimension must be the batch.
func readInput(mem *wasm.Memory, name string, batch int, d Descriptor) (*inference.Tensor, error) {
	if len(d.Shape) == 0 || d.Shape[0] != batch {
		return nil, &DescriptorError{Buffer: name, Message: fmt.Sprintf("shape %v does not lead with batch %d", d.Shape, batch)}
	}
	for _, dim := range d.Shape {
		if dim <= 0 {
			return nil, &DescriptorError{Buffer: name, Message: fmt.Sprintf("non-positive dimension in %v", d.Shape)}
		}
	}

	width := d.Width
	if width == 0 {
		width = wasm.WidthFloat32
	}

	view, err := mem.View(d.Offset, d.Elements(), width)
	if err != nil {
		return nil, err
	}

	data := make([]float32, view.Len())
	for i := range data {
		data[i] = view.At(i)
	}
	return inference.NewTensor(name, d.Shape, data)
}

// suspend runs fn through the suspender and converts the outcome to a status.
func (b *Bridge) suspend(ctx context.Context, op string, fn func(ctx context.Context) error) protocol.Status {
	start := time.Now()
	err := b.suspender.Suspend(ctx, op, fn)
	status := Classify(err)

	if err != nil {
		b.logger.Error("Bridge call failed",
			zap.String("op", op),
			zap.Stringer("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
	} else {
		b.logger.Debug("Bridge call completed",
			zap.String("op", op),
			zap.Duration("duration", time.Since(start)),
		)
	}

	return b.status(status)
}

// Classify maps an operation error onto the detailed status a guest sees.
func Classify(err error) protocol.Status {
	var (
		invalidBackend *backend.InvalidBackendError
		descriptor     *DescriptorError
		memAccess      *wasm.MemoryAccessError
	)

	switch {
	case err == nil:
		return protocol.StatusSuccess
	case errors.Is(err, ErrBusy):
		return protocol.StatusBusy
	case errors.Is(err, context.DeadlineExceeded):
		return protocol.StatusTimeout
	case errors.Is(err, context.Canceled):
		return protocol.StatusCancelled
	case errors.As(err, &invalidBackend), errors.As(err, &descriptor), errors.As(err, &memAccess):
		return protocol.StatusInvalid
	default:
		return protocol.StatusFailure
	}
}
