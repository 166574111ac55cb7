package host

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/nnbridge/internal/config"
	"github.com/woxQAQ/nnbridge/internal/guest"
	"github.com/woxQAQ/nnbridge/internal/inference/inferencetest"
	"github.com/woxQAQ/nnbridge/internal/model"
	"github.com/woxQAQ/nnbridge/internal/wasm"
	"github.com/woxQAQ/nnbridge/internal/wasm/wasmtest"
	"github.com/woxQAQ/nnbridge/pkg/protocol"
)

const modelLocation = "mem://models/b18"

type states struct {
	mu   sync.Mutex
	seen []protocol.ReadyState
}

func (s *states) NotifyStatus(state protocol.ReadyState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, state)
}

func (s *states) Seen() []protocol.ReadyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.ReadyState(nil), s.seen...)
}

// loaderGuest downloads location and exits 0 on success, 1 otherwise.
func loaderGuest(location string) []byte {
	var m wasmtest.Module
	loc := m.Type([]byte{wasmtest.I32, wasmtest.I32}, []byte{wasmtest.I32})
	exit := m.Type([]byte{wasmtest.I32}, nil)
	start := m.Type(nil, nil)

	download := m.Import(wasm.HostModuleName, "download_model", loc)
	procExit := m.Import(wasm.WASIModuleName, "proc_exit", exit)
	m.Memory(1)
	m.Data(0, []byte(location))
	fn := m.Func(start, wasmtest.Body(
		wasmtest.Const(0),
		wasmtest.Const(int32(len(location))),
		wasmtest.Call(download),
		[]byte{wasmtest.OpI32Eqz},
		wasmtest.Call(procExit),
	)...)
	m.ExportFunc(wasm.DefaultEntrypoint, fn)
	m.ExportMemory("memory")
	return m.Bytes()
}

// backendGuest exits with the current backend id as its code.
func backendGuest() []byte {
	var m wasmtest.Module
	get := m.Type(nil, []byte{wasmtest.I32})
	exit := m.Type([]byte{wasmtest.I32}, nil)
	start := m.Type(nil, nil)

	getBackend := m.Import(wasm.HostModuleName, "get_backend", get)
	procExit := m.Import(wasm.WASIModuleName, "proc_exit", exit)
	fn := m.Func(start, wasmtest.Body(
		wasmtest.Call(getBackend),
		wasmtest.Call(procExit),
	)...)
	m.ExportFunc(wasm.DefaultEntrypoint, fn)
	return m.Bytes()
}

func writeGuest(t *testing.T, name string, module []byte) string {
	t.Helper()
	dir := t.TempDir()

	manifest := "name: " + name + "\n" +
		"version: 0.1.0\n" +
		"wasm:\n  file: " + name + ".wasm\n" +
		"schema_version: 5\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, guest.ManifestFile), []byte(manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".wasm"), module, 0o644))
	return dir
}

type fixture struct {
	host  *Host
	rt    *inferencetest.Runtime
	model *inferencetest.Model
	seen  *states
}

func newFixture(t *testing.T, mutate func(*config.HostConfig)) *fixture {
	t.Helper()

	cfg, err := config.LoadHostConfig("")
	require.NoError(t, err)
	cfg.ModelLocation = modelLocation
	if mutate != nil {
		mutate(cfg)
	}

	rt := inferencetest.NewRuntime(cfg.Backend.CPUName)
	m := &inferencetest.Model{}
	rt.Models[model.ManifestURL(modelLocation)] = m

	seen := &states{}
	ctx := context.Background()
	h, err := NewHost(ctx, cfg, zaptest.NewLogger(t),
		WithRuntime(rt),
		WithNotifier(seen),
		WithConsole(bytes.NewReader(nil), &bytes.Buffer{}, &bytes.Buffer{}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close(ctx) })

	return &fixture{host: h, rt: rt, model: m, seen: seen}
}

func TestHost_RunLoadsModel(t *testing.T) {
	f := newFixture(t, nil)
	dir := writeGuest(t, "loader", loaderGuest(modelLocation))

	require.NoError(t, f.host.Run(context.Background(), dir, guest.Launch{}))

	assert.Equal(t, []string{model.ManifestURL(modelLocation)}, f.rt.Loads())
	// Unloading when the guest exits reports not-ready again.
	assert.Equal(t, []protocol.ReadyState{
		protocol.ReadyStateNotReady, protocol.ReadyStateReady, protocol.ReadyStateNotReady,
	}, f.seen.Seen())
	assert.True(t, f.model.Disposed(), "model should be released when the guest finishes")
}

func TestHost_RunUnreachableModel(t *testing.T) {
	f := newFixture(t, nil)
	dir := writeGuest(t, "loader", loaderGuest("mem://models/missing"))

	err := f.host.Run(context.Background(), dir, guest.Launch{})

	var exitErr *wasm.GuestExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, uint32(1), exitErr.Code)
	assert.Equal(t, []protocol.ReadyState{
		protocol.ReadyStateNotReady, protocol.ReadyStateLoadFailed, protocol.ReadyStateNotReady,
	}, f.seen.Seen())
}

func TestHost_RunSelectsRequestedBackend(t *testing.T) {
	tests := []struct {
		name      string
		requested string
		offscreen bool
		want      protocol.BackendID
	}{
		{"cpu", "cpu", true, protocol.BackendCPU},
		{"accelerated", "accelerated", true, protocol.BackendAccelerated},
		{"auto with surface", "auto", true, protocol.BackendAccelerated},
		{"auto without surface", "auto", false, protocol.BackendCPU},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(cfg *config.HostConfig) {
				cfg.Backend.Requested = tt.requested
				cfg.Backend.OffscreenSurface = tt.offscreen
			})
			dir := writeGuest(t, "backend", backendGuest())

			err := f.host.Run(context.Background(), dir, guest.Launch{})

			var exitErr *wasm.GuestExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, uint32(tt.want), exitErr.Code)
		})
	}
}

func TestHost_RunUndeclaredMode(t *testing.T) {
	f := newFixture(t, nil)
	dir := writeGuest(t, "loader", loaderGuest(modelLocation))

	err := f.host.Run(context.Background(), dir, guest.Launch{Mode: "analysis"})

	var modeErr *guest.UnknownModeError
	require.ErrorAs(t, err, &modeErr)
	assert.Empty(t, f.rt.Loads())
}

func TestHost_NewBridgeRejectsBadLayout(t *testing.T) {
	f := newFixture(t, func(cfg *config.HostConfig) {
		cfg.Layout.BoardX = 0
	})

	_, err := f.host.NewBridge()
	assert.Error(t, err)
}

func TestHost_BridgesAreIndependent(t *testing.T) {
	f := newFixture(t, nil)

	a, err := f.host.NewBridge()
	require.NoError(t, err)
	b, err := f.host.NewBridge()
	require.NoError(t, err)

	require.True(t, a.LoadModel(context.Background(), modelLocation).OK())
	assert.Equal(t, int32(protocol.SchemaVersion), a.SchemaVersion())

	// Unloading one bridge leaves the other's model alone.
	b.UnloadModel()
	assert.False(t, f.model.Disposed())
	a.UnloadModel()
	assert.True(t, f.model.Disposed())
}

func TestHost_BridgesHaveOwnBackend(t *testing.T) {
	cfg, err := config.LoadHostConfig("")
	require.NoError(t, err)
	cfg.Backend.OffscreenSurface = true

	ctx := context.Background()
	h, err := NewHost(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close(ctx) })

	a, err := h.NewBridge()
	require.NoError(t, err)
	b, err := h.NewBridge()
	require.NoError(t, err)

	require.True(t, a.SelectBackend(ctx, protocol.BackendAccelerated).OK())
	assert.Equal(t, protocol.BackendAccelerated, a.QueryBackend())
	assert.Equal(t, protocol.BackendCPU, b.QueryBackend())
}

func TestNewLocalRuntime_AcceleratedNeedsSurface(t *testing.T) {
	cfg, err := config.LoadHostConfig("")
	require.NoError(t, err)
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	rt := NewLocalRuntime(cfg, logger)
	assert.Equal(t, cfg.Backend.CPUName, rt.Backend())
	assert.ErrorIs(t, rt.SetBackend(ctx, cfg.Backend.AcceleratedName), ErrNoOffscreenSurface)

	cfg.Backend.OffscreenSurface = true
	rt = NewLocalRuntime(cfg, logger)
	require.NoError(t, rt.SetBackend(ctx, cfg.Backend.AcceleratedName))
	assert.Equal(t, cfg.Backend.AcceleratedName, rt.Backend())
}
