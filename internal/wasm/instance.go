package wasm

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"
)

// DefaultEntrypoint is run when an instance config names none.
const DefaultEntrypoint = "_start"

// InstanceManager creates and manages module instances.
type InstanceManager struct {
	runtime   *Runtime
	logger    *zap.Logger
	hostFuncs *HostFunctionsImpl
}

// NewInstanceManager creates a new instance manager.
func NewInstanceManager(runtime *Runtime, hostFuncs *HostFunctionsImpl, logger *zap.Logger) *InstanceManager {
	return &InstanceManager{
		runtime:   runtime,
		hostFuncs: hostFuncs,
		logger:    logger.With(zap.String("component", "wasm-instance")),
	}
}

// InstanceConfig holds configuration for creating instances.
type InstanceConfig struct {
	// Module name to instantiate.
	ModuleName string

	// Instance ID (if empty, generates UUID).
	InstanceID string

	// Args are the guest's argv, including the program name.
	Args []string

	// Env is exported to the guest as environment variables.
	Env map[string]string

	// Mounts maps guest paths to host directories, mounted read-only.
	Mounts map[string]string

	// Console streams. Nil streams are discarded.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Instance represents an instantiated Wasm module.
type Instance struct {
	module  api.Module
	runtime *Runtime

	ID        string
	Name      string
	CreatedAt int64

	// Exported functions (cached for performance).
	exports map[string]api.Function
}

// Instantiate creates a new instance from a compiled module.
// The env and WASI host modules are instantiated on first use.
func (m *InstanceManager) Instantiate(ctx context.Context, config *InstanceConfig) (*Instance, error) {
	if m.runtime.IsClosed() {
		return nil, errors.New("wasm runtime is closed")
	}

	compiled, ok := m.runtime.GetCompiledModule(config.ModuleName)
	if !ok {
		return nil, &ModuleNotFoundError{ModuleName: config.ModuleName}
	}

	if limit := m.runtime.config.MaxInstances; limit > 0 && m.runtime.ActiveInstances() >= limit {
		return nil, &InstanceLimitError{Limit: limit}
	}

	instanceID := config.InstanceID
	if instanceID == "" {
		instanceID = "inst-" + uuid.NewString()
	}

	m.logger.Info("Instantiating Wasm module",
		zap.String("module", config.ModuleName),
		zap.String("instance_id", instanceID),
	)

	if err := m.ensureHostModules(ctx); err != nil {
		return nil, err
	}

	moduleConfig := wazero.NewModuleConfig().
		WithName(instanceID).
		WithArgs(config.Args...).
		WithSysWalltime().
		WithSysNanotime().
		WithRandSource(rand.Reader).
		// The entrypoint is run explicitly by Run.
		WithStartFunctions()
	if config.Stdin != nil {
		moduleConfig = moduleConfig.WithStdin(config.Stdin)
	}
	if config.Stdout != nil {
		moduleConfig = moduleConfig.WithStdout(config.Stdout)
	}
	if config.Stderr != nil {
		moduleConfig = moduleConfig.WithStderr(config.Stderr)
	}
	for k, v := range config.Env {
		moduleConfig = moduleConfig.WithEnv(k, v)
	}
	if len(config.Mounts) > 0 {
		fsConfig := wazero.NewFSConfig()
		for guestPath, hostDir := range config.Mounts {
			fsConfig = fsConfig.WithReadOnlyDirMount(hostDir, guestPath)
		}
		moduleConfig = moduleConfig.WithFSConfig(fsConfig)
	}

	module, err := m.runtime.runtime.InstantiateModule(ctx, compiled.Module, moduleConfig)
	if err != nil {
		return nil, &InstantiationError{
			ModuleName: config.ModuleName,
			InstanceID: instanceID,
			Err:        err,
		}
	}

	exports := m.cacheExportedFunctions(module)

	instance := &Instance{
		module:    module,
		runtime:   m.runtime,
		ID:        instanceID,
		Name:      config.ModuleName,
		CreatedAt: time.Now().Unix(),
		exports:   exports,
	}

	m.runtime.StoreInstance(instanceID, instance)

	m.logger.Info("Module instantiated successfully",
		zap.String("instance_id", instanceID),
		zap.Int("exported_functions", len(exports)),
	)

	return instance, nil
}

// ensureHostModules instantiates WASI and the env module once per runtime.
// The first manager to instantiate a guest supplies the env functions.
func (m *InstanceManager) ensureHostModules(ctx context.Context) error {
	m.runtime.hostMu.Lock()
	defer m.runtime.hostMu.Unlock()

	r := m.runtime.runtime
	if r.Module(WASIModuleName) == nil {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
			return &HostFunctionError{FunctionName: WASIModuleName, Err: err}
		}
	}

	if r.Module(HostModuleName) == nil {
		builder := r.NewHostModuleBuilder(HostModuleName)
		m.hostFuncs.exportHostFunctions(builder)
		if _, err := builder.Instantiate(ctx); err != nil {
			return &HostFunctionError{FunctionName: HostModuleName, Err: err}
		}
	}
	return nil
}

// Run calls the entrypoint and waits for it to return.
// A WASI exit with code zero counts as success.
func (i *Instance) Run(ctx context.Context, entrypoint string) error {
	if entrypoint == "" {
		entrypoint = DefaultEntrypoint
	}

	_, err := i.Call(ctx, entrypoint)
	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ExitCode() == 0 {
			return nil
		}
		return &GuestExitError{InstanceID: i.ID, Code: exitErr.ExitCode()}
	}
	return err
}

// Call invokes an exported function.
func (i *Instance) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	fn, ok := i.exports[name]
	if !ok {
		if fn = i.module.ExportedFunction(name); fn == nil {
			return nil, &FunctionNotFoundError{ModuleName: i.Name, FunctionName: name}
		}
	}
	return fn.Call(ctx, params...)
}

// Memory returns the instance's linear memory.
func (i *Instance) Memory() *Memory {
	return NewMemory(i.module)
}

// Close closes the instance and releases resources.
func (i *Instance) Close(ctx context.Context) error {
	i.runtime.DeleteInstance(i.ID)
	return i.module.Close(ctx)
}

// cacheExportedFunctions caches references to the entrypoints guests commonly export.
func (m *InstanceManager) cacheExportedFunctions(module api.Module) map[string]api.Function {
	exports := make(map[string]api.Function)

	for _, name := range []string{DefaultEntrypoint, "_initialize", "main"} {
		if fn := module.ExportedFunction(name); fn != nil {
			exports[name] = fn
		}
	}

	return exports
}
