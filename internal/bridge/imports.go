package bridge

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/woxQAQ/nnbridge/internal/demux"
	"github.com/woxQAQ/nnbridge/internal/wasm"
	"github.com/woxQAQ/nnbridge/pkg/protocol"
)

// MaxLocationLength bounds a null-terminated model location read from the guest.
const MaxLocationLength = 4096

type bridgeKey struct{}

// WithBridge binds b to ctx so host imports called under ctx reach it.
func WithBridge(ctx context.Context, b *Bridge) context.Context {
	return context.WithValue(ctx, bridgeKey{}, b)
}

// FromContext returns the bridge bound to ctx.
func FromContext(ctx context.Context) (*Bridge, bool) {
	b, ok := ctx.Value(bridgeKey{}).(*Bridge)
	return b, ok && b != nil
}

// Imports exports the bridge operations to guests as "env" host functions.
// Each call is served by the bridge bound to the guest call's context.
type Imports struct {
	logger *zap.Logger
}

var _ wasm.HostExporter = (*Imports)(nil)

// NewImports creates the bridge host functions.
func NewImports(logger *zap.Logger) *Imports {
	return &Imports{logger: logger.With(zap.String("component", "bridge-imports"))}
}

// ExportFunctions implements wasm.HostExporter.
func (h *Imports) ExportFunctions(builder wazero.HostModuleBuilder) {
	builder.NewFunctionBuilder().
		WithFunc(h.getBackend).
		Export("get_backend")

	builder.NewFunctionBuilder().
		WithFunc(h.setBackend).
		WithParameterNames("backend").
		Export("set_backend")

	builder.NewFunctionBuilder().
		WithFunc(h.downloadModel).
		WithParameterNames("ptr", "length").
		Export("download_model")

	builder.NewFunctionBuilder().
		WithFunc(h.removeModel).
		Export("remove_model")

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.predict), predictParams, []api.ValueType{api.ValueTypeI32}).
		WithParameterNames(predictParamNames...).
		Export("predict")

	builder.NewFunctionBuilder().
		WithFunc(h.getModelVersion).
		Export("get_model_version")

	builder.NewFunctionBuilder().
		WithFunc(h.notifyStatus).
		WithParameterNames("status").
		Export("notify_status")
}

func (h *Imports) bridge(ctx context.Context, fn string) (*Bridge, bool) {
	b, ok := FromContext(ctx)
	if !ok {
		h.logger.Error("Host function called without a bridge", zap.String("function", fn))
	}
	return b, ok
}

// get_backend() -> i32
func (h *Imports) getBackend(ctx context.Context) int32 {
	b, ok := h.bridge(ctx, "get_backend")
	if !ok {
		return int32(protocol.BackendUnknown)
	}
	return int32(b.QueryBackend())
}

// set_backend(backend) -> status
func (h *Imports) setBackend(ctx context.Context, requested int32) int32 {
	b, ok := h.bridge(ctx, "set_backend")
	if !ok {
		return int32(protocol.StatusFailure)
	}
	return int32(b.SelectBackend(ctx, protocol.BackendID(requested)))
}

// download_model(ptr, length) -> status
// A zero length reads a null-terminated location.
func (h *Imports) downloadModel(ctx context.Context, mod api.Module, ptr, length uint32) int32 {
	b, ok := h.bridge(ctx, "download_model")
	if !ok {
		return int32(protocol.StatusFailure)
	}

	location, ok := ReadLocation(wasm.NewMemory(mod), ptr, length)
	if !ok {
		h.logger.Error("Failed to read model location from Wasm memory",
			zap.Uint32("ptr", ptr),
			zap.Uint32("length", length),
		)
		return int32(b.status(protocol.StatusInvalid))
	}
	return int32(b.LoadModel(ctx, location))
}

// ReadLocation reads a model location string from guest memory.
func ReadLocation(mem *wasm.Memory, ptr, length uint32) (string, bool) {
	if length > 0 {
		buf, ok := mem.ReadBytes(ptr, length)
		if !ok {
			return "", false
		}
		return string(buf), true
	}

	// The location may sit near the end of memory: find the widest readable window.
	lo, hi := uint32(0), uint32(MaxLocationLength)
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		if _, ok := mem.ReadBytes(ptr, mid); ok {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	if lo == 0 {
		return "", false
	}
	return mem.ReadString(ptr, lo)
}

// remove_model()
func (h *Imports) removeModel(ctx context.Context) {
	if b, ok := h.bridge(ctx, "remove_model"); ok {
		b.UnloadModel()
	}
}

// get_model_version() -> i32
func (h *Imports) getModelVersion(ctx context.Context) int32 {
	b, ok := h.bridge(ctx, "get_model_version")
	if !ok {
		return protocol.SchemaVersion
	}
	return b.SchemaVersion()
}

// notify_status(status)
func (h *Imports) notifyStatus(ctx context.Context, status int32) {
	if b, ok := h.bridge(ctx, "notify_status"); ok {
		b.Notify(protocol.ReadyState(status))
	}
}

var predictParamNames = []string{
	"batch",
	"input", "input_length", "input_channels",
	"global_input", "global_channels",
	"values", "misc_values", "ownerships", "bonus_beliefs", "score_beliefs", "policies",
}

var predictParams = func() []api.ValueType {
	params := make([]api.ValueType, len(predictParamNames))
	for i := range params {
		params[i] = api.ValueTypeI32
	}
	return params
}()

// predict(batch, input, input_length, input_channels, global_input, global_channels,
// values, misc_values, ownerships, bonus_beliefs, score_beliefs, policies) -> status
func (h *Imports) predict(ctx context.Context, mod api.Module, stack []uint64) {
	b, ok := h.bridge(ctx, "predict")
	if !ok {
		stack[0] = api.EncodeI32(int32(protocol.StatusFailure))
		return
	}

	var params [12]uint32
	for i := range params {
		params[i] = api.DecodeU32(stack[i])
	}

	status := b.Infer(ctx, wasm.NewMemory(mod), PredictRequest(params))
	stack[0] = api.EncodeI32(int32(status))
}

// PredictRequest decodes the predict import's arguments.
func PredictRequest(params [12]uint32) InferRequest {
	batch := int(int32(params[0]))
	req := InferRequest{
		Batch: batch,
		Spatial: Descriptor{
			Offset: params[1],
			Shape:  []int{batch, int(int32(params[2])), int(int32(params[3]))},
		},
		Global: Descriptor{
			Offset: params[4],
			Shape:  []int{batch, int(int32(params[5]))},
		},
	}
	for i, k := range demux.Kinds {
		req.Outputs[k] = params[6+i]
	}
	return req
}

// status applies the bridge's collapse setting to a locally decided status.
func (b *Bridge) status(s protocol.Status) protocol.Status {
	if !b.opts.DetailedStatus {
		return s.Collapse()
	}
	return s
}
