package wasm

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/woxQAQ/nnbridge/pkg/protocol"
)

// Host module names guests may import from.
const (
	HostModuleName = "env"
	WASIModuleName = "wasi_snapshot_preview1"
)

// HostExporter contributes functions to the "env" host module.
type HostExporter interface {
	ExportFunctions(builder wazero.HostModuleBuilder)
}

// HostFunctionsImpl implements host functions for Wasm modules.
type HostFunctionsImpl struct {
	logger    *zap.Logger
	exporters []HostExporter
}

// NewHostFunctions creates the host module contents: guest logging plus whatever
// the exporters add.
func NewHostFunctions(logger *zap.Logger, exporters ...HostExporter) *HostFunctionsImpl {
	return &HostFunctionsImpl{
		logger:    logger.With(zap.String("component", "wasm-host")),
		exporters: exporters,
	}
}

// logMessage is called by Wasm modules to log messages.
// Signature: log_message(level, ptr, length)
func (h *HostFunctionsImpl) logMessage(ctx context.Context, mod api.Module, level uint32, ptr uint32, length uint32) {
	msg, ok := mod.Memory().Read(ptr, length)
	if !ok {
		h.logger.Error("Failed to read log message from Wasm memory",
			zap.Uint32("ptr", ptr),
			zap.Uint32("length", length),
		)
		return
	}

	h.log(protocol.LogLevel(level), mod.Name(), string(msg))
}

func (h *HostFunctionsImpl) log(level protocol.LogLevel, instance, msg string) {
	logger := h.logger.With(zap.String("instance", instance))
	switch level {
	case protocol.LogLevelDebug:
		logger.Debug(msg)
	case protocol.LogLevelInfo:
		logger.Info(msg)
	case protocol.LogLevelWarn:
		logger.Warn(msg)
	case protocol.LogLevelError:
		logger.Error(msg)
	default:
		logger.Info(msg)
	}
}

// exportHostFunctions registers Go functions for import by Wasm modules.
func (h *HostFunctionsImpl) exportHostFunctions(builder wazero.HostModuleBuilder) {
	builder.NewFunctionBuilder().
		WithFunc(h.logMessage).
		WithParameterNames("level", "ptr", "length").
		Export("log_message")

	for _, e := range h.exporters {
		e.ExportFunctions(builder)
	}
}
