package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/woxQAQ/nnbridge/internal/backend"
	"github.com/woxQAQ/nnbridge/internal/bridge"
	"github.com/woxQAQ/nnbridge/internal/config"
	"github.com/woxQAQ/nnbridge/internal/demux"
	"github.com/woxQAQ/nnbridge/internal/guest"
	"github.com/woxQAQ/nnbridge/internal/inference"
	"github.com/woxQAQ/nnbridge/internal/inference/local"
	"github.com/woxQAQ/nnbridge/internal/model"
	"github.com/woxQAQ/nnbridge/internal/wasm"
	"github.com/woxQAQ/nnbridge/pkg/protocol"
)

// ErrNoOffscreenSurface is reported by the accelerated backend when the host
// has no offscreen surface.
var ErrNoOffscreenSurface = errors.New("no offscreen surface")

// Host runs guests against an inference runtime.
type Host struct {
	cfg    *config.HostConfig
	logger *zap.Logger

	wasmRuntime *wasm.Runtime
	instances   *wasm.InstanceManager
	loader      *guest.Loader

	newRuntime func() inference.Runtime
	notifier   bridge.Notifier

	stdin          io.Reader
	stdout, stderr io.Writer
}

// Option configures a Host.
type Option func(*Host)

// WithRuntime makes every bridge share rt instead of building its own
// local runtime. Backend switches made by one guest are then seen by all.
func WithRuntime(rt inference.Runtime) Option {
	return func(h *Host) {
		h.newRuntime = func() inference.Runtime { return rt }
	}
}

// WithNotifier receives every ready state the guest reports.
func WithNotifier(n bridge.Notifier) Option {
	return func(h *Host) { h.notifier = n }
}

// WithConsole sets the guest's stdio. The default is the host's.
func WithConsole(stdin io.Reader, stdout, stderr io.Writer) Option {
	return func(h *Host) {
		h.stdin, h.stdout, h.stderr = stdin, stdout, stderr
	}
}

// NewHost initializes the Wasm runtime and the inference runtime.
func NewHost(ctx context.Context, cfg *config.HostConfig, logger *zap.Logger, opts ...Option) (*Host, error) {
	h := &Host{
		cfg:    cfg,
		logger: logger,
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	for _, opt := range opts {
		opt(h)
	}

	if h.newRuntime == nil {
		h.newRuntime = func() inference.Runtime { return NewLocalRuntime(cfg, logger) }
	}
	if h.notifier == nil {
		h.notifier = LogNotifier(logger)
	}

	wasmConfig := &wasm.RuntimeConfig{
		MemoryPages:  cfg.Wasm.MemoryPages,
		DebugEnabled: cfg.Wasm.Debug,
		CacheDir:     cfg.Wasm.CacheDir,
		MaxInstances: cfg.Wasm.MaxInstances,
	}

	wasmRuntime, err := wasm.NewRuntime(ctx, logger, wasmConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Wasm runtime: %w", err)
	}

	hostFuncs := wasm.NewHostFunctions(logger, bridge.NewImports(logger))

	h.wasmRuntime = wasmRuntime
	h.instances = wasm.NewInstanceManager(wasmRuntime, hostFuncs, logger)
	h.loader = guest.NewLoader(wasmRuntime, logger)

	logger.Info("Host initialized",
		zap.Uint32("wasm_memory_pages", cfg.Wasm.MemoryPages),
		zap.String("wasm_cache_dir", cfg.Wasm.CacheDir),
		zap.String("backend_requested", cfg.Backend.Requested),
	)

	return h, nil
}

// NewLocalRuntime builds the reference runtime with the configured backends.
func NewLocalRuntime(cfg *config.HostConfig, logger *zap.Logger) *local.Runtime {
	accelerated := local.ParallelBackend(cfg.Backend.AcceleratedName, func() error {
		if !cfg.Backend.OffscreenSurface {
			return ErrNoOffscreenSurface
		}
		return nil
	})
	if cfg.Inference.AcceleratedWorkers > 0 {
		accelerated.Workers = cfg.Inference.AcceleratedWorkers
	}

	fetcher := &local.DefaultFetcher{Client: &http.Client{Timeout: cfg.Inference.FetchTimeout}}
	return local.New(logger, fetcher, local.CPUBackend(cfg.Backend.CPUName), accelerated)
}

// NewBridge builds a bridge with its own runtime, selector, registry and router.
// Each guest instance gets one.
func (h *Host) NewBridge() (*bridge.Bridge, error) {
	rt := h.newRuntime()

	layout := demux.Layout{BoardX: h.cfg.Layout.BoardX, BoardY: h.cfg.Layout.BoardY}
	router, err := demux.NewRouter(layout, h.logger, h.cfg.Bridge.Strict)
	if err != nil {
		return nil, err
	}

	selector := backend.NewSelector(rt, backend.StaticProbe(h.cfg.Backend.OffscreenSurface), h.logger,
		backend.WithNames(backend.Names{CPU: h.cfg.Backend.CPUName, Accelerated: h.cfg.Backend.AcceleratedName}),
		backend.WithStrict(h.cfg.Bridge.Strict),
	)

	opts := bridge.Options{
		Strict:         h.cfg.Bridge.Strict,
		DetailedStatus: h.cfg.Bridge.DetailedStatus,
		Timeout:        h.cfg.Bridge.Timeout,
		Overlap:        bridge.OverlapPolicy(h.cfg.Bridge.Overlap),
	}

	return bridge.New(selector, model.NewRegistry(rt, h.logger), router, h.notifier, h.logger, opts), nil
}

// Run loads the guest in dir and runs its entrypoint to completion.
// The requested backend is selected before the guest starts. Launch fields left
// empty are taken from the configuration, then from the manifest.
func (h *Host) Run(ctx context.Context, dir string, launch guest.Launch) error {
	g, err := h.loader.Load(ctx, dir)
	if err != nil {
		return err
	}

	if launch.Mode == "" {
		launch.Mode = h.cfg.Mode
	}
	if launch.Config == "" {
		launch.Config = h.cfg.ConfigFile
	}
	if launch.ModelLocation == "" {
		launch.ModelLocation = h.cfg.ModelLocation
	}
	launch, err = g.Resolve(launch)
	if err != nil {
		return err
	}

	b, err := h.NewBridge()
	if err != nil {
		return err
	}
	defer b.UnloadModel()

	requested, err := h.cfg.RequestedBackend()
	if err != nil {
		return err
	}
	if status := b.SelectBackend(ctx, requested); !status.OK() {
		h.logger.Warn("Requested backend unavailable, keeping current",
			zap.Stringer("requested", requested),
			zap.Stringer("current", b.QueryBackend()),
		)
	}

	inst, err := h.instances.Instantiate(ctx, &wasm.InstanceConfig{
		ModuleName: g.Name(),
		Args:       g.Args(launch),
		Env:        g.Manifest.Env,
		Mounts:     map[string]string{guest.MountPoint: g.Manifest.Dir()},
		Stdin:      h.stdin,
		Stdout:     h.stdout,
		Stderr:     h.stderr,
	})
	if err != nil {
		return err
	}
	defer inst.Close(context.WithoutCancel(ctx))

	runCtx := bridge.WithBridge(ctx, b)
	if timeout := h.cfg.Wasm.ExecutionTimeout; timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, timeout)
		defer cancel()
	}

	h.logger.Info("Starting guest",
		zap.String("guest", g.Name()),
		zap.String("instance_id", inst.ID),
		zap.Strings("args", g.Args(launch)),
	)

	if err := inst.Run(runCtx, g.Manifest.Entrypoint); err != nil {
		return err
	}

	h.logger.Info("Guest finished", zap.String("guest", g.Name()))
	return nil
}

// Discover lists the valid guests under paths.
func (h *Host) Discover(ctx context.Context, paths []string) ([]*guest.Guest, error) {
	return h.loader.Discover(ctx, paths)
}

// Close gracefully shuts down the host.
func (h *Host) Close(ctx context.Context) error {
	h.logger.Info("Shutting down host")

	if err := h.wasmRuntime.Close(ctx); err != nil {
		h.logger.Error("Failed to shutdown Wasm runtime", zap.Error(err))
		return err
	}

	h.logger.Info("Host shutdown complete")
	return nil
}

// LogNotifier logs every ready state change.
func LogNotifier(logger *zap.Logger) bridge.Notifier {
	logger = logger.With(zap.String("component", "engine-status"))
	return bridge.NotifierFunc(func(state protocol.ReadyState) {
		switch state {
		case protocol.ReadyStateLoadFailed:
			logger.Warn("Engine failed to load", zap.Stringer("state", state))
		default:
			logger.Info("Engine status", zap.Stringer("state", state))
		}
	})
}
