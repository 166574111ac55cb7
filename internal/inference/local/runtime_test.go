package local

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/nnbridge/internal/inference"
)

func writeTinyModel(t *testing.T, dir string, bias float32) {
	t.Helper()

	m := DenseManifest(
		map[string][]int{"x": {2}},
		map[string][]int{"y": {3}},
	)
	err := WriteModel(dir, m, map[string][]float32{
		"y/kernel": {1, 0, 0, 0, 1, 0},
		"y/bias":   {0, 0, bias},
	})
	require.NoError(t, err)
}

func TestRuntime_LoadAndExecute(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeTinyModel(t, dir, 5)

	rt := New(zaptest.NewLogger(t), nil)
	model, err := rt.Load(ctx, filepath.Join(dir, ManifestFileName))
	require.NoError(t, err)

	x, err := inference.NewTensor("x", []int{2, 2}, []float32{1, 2, 3, 4})
	require.NoError(t, err)

	results, err := model.Execute(ctx, map[string]*inference.Tensor{"x": x})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, "y", results[0].Name)
	assert.Equal(t, []int{2, 3}, results[0].Shape)
	assert.Equal(t, []float32{1, 2, 5, 3, 4, 5}, results[0].DataSync())
}

func TestRuntime_ParallelBackendMatchesCPU(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeTinyModel(t, dir, 1)

	rt := New(zaptest.NewLogger(t), nil, CPUBackend("cpu"), ParallelBackend("webgl", nil))
	model, err := rt.Load(ctx, filepath.Join(dir, ManifestFileName))
	require.NoError(t, err)

	data := make([]float32, 64*2)
	for i := range data {
		data[i] = float32(i)
	}
	x, err := inference.NewTensor("x", []int{64, 2}, data)
	require.NoError(t, err)

	seq, err := model.Execute(ctx, map[string]*inference.Tensor{"x": x})
	require.NoError(t, err)

	require.NoError(t, rt.SetBackend(ctx, "webgl"))
	assert.Equal(t, "webgl", rt.Backend())

	par, err := model.Execute(ctx, map[string]*inference.Tensor{"x": x})
	require.NoError(t, err)
	assert.Equal(t, seq[0].DataSync(), par[0].DataSync())
}

func TestRuntime_SetBackendErrors(t *testing.T) {
	ctx := context.Background()
	unavailable := errors.New("no offscreen surface")
	rt := New(zaptest.NewLogger(t), nil,
		CPUBackend("cpu"),
		ParallelBackend("webgl", func() error { return unavailable }),
	)

	err := rt.SetBackend(ctx, "metal")
	var unknown *UnknownBackendError
	require.ErrorAs(t, err, &unknown)

	err = rt.SetBackend(ctx, "webgl")
	var unavail *BackendUnavailableError
	require.ErrorAs(t, err, &unavail)
	assert.ErrorIs(t, err, unavailable)

	assert.Equal(t, "cpu", rt.Backend(), "failed switch must keep the previous backend")
}

func TestRuntime_LoadMissing(t *testing.T) {
	rt := New(zaptest.NewLogger(t), nil)

	_, err := rt.LoadGraphModel(context.Background(), filepath.Join(t.TempDir(), "nope", ManifestFileName))
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
}

func TestRuntime_LoadOverHTTP(t *testing.T) {
	dir := t.TempDir()
	writeTinyModel(t, dir, 0)

	srv := httptest.NewServer(http.FileServer(http.Dir(dir)))
	defer srv.Close()

	rt := New(zaptest.NewLogger(t), &DefaultFetcher{Client: srv.Client()})
	model, err := rt.Load(context.Background(), srv.URL+"/"+ManifestFileName)
	require.NoError(t, err)
	assert.Equal(t, []string{"y"}, model.Manifest().OutputNames())

	_, err = rt.Load(context.Background(), srv.URL+"/missing/"+ManifestFileName)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
}

func TestModel_ExecuteValidatesInputs(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeTinyModel(t, dir, 0)

	rt := New(zaptest.NewLogger(t), nil)
	model, err := rt.Load(ctx, filepath.Join(dir, ManifestFileName))
	require.NoError(t, err)

	_, err = model.Execute(ctx, map[string]*inference.Tensor{})
	var inputErr *InputError
	require.ErrorAs(t, err, &inputErr)

	bad, err := inference.NewTensor("x", []int{1, 3}, []float32{1, 2, 3})
	require.NoError(t, err)
	_, err = model.Execute(ctx, map[string]*inference.Tensor{"x": bad})
	require.ErrorAs(t, err, &inputErr)
}

func TestModel_Dispose(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeTinyModel(t, dir, 0)

	rt := New(zaptest.NewLogger(t), nil)
	model, err := rt.Load(ctx, filepath.Join(dir, ManifestFileName))
	require.NoError(t, err)

	model.Dispose()
	assert.True(t, model.Disposed())

	x, _ := inference.NewTensor("x", []int{1, 2}, []float32{1, 2})
	_, err = model.Execute(ctx, map[string]*inference.Tensor{"x": x})
	assert.ErrorIs(t, err, ErrModelDisposed)
}

func TestModel_DisposeDuringExecution(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeTinyModel(t, dir, 0)

	rt := New(zaptest.NewLogger(t), nil)
	model, err := rt.Load(ctx, filepath.Join(dir, ManifestFileName))
	require.NoError(t, err)

	// Hold an execution open the way a running Execute does.
	heads, err := model.enter()
	require.NoError(t, err)
	require.NotEmpty(t, heads)

	done := make(chan struct{})
	go func() {
		model.Dispose()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispose waited for a running execution")
	}

	assert.True(t, model.Disposed())
	assert.False(t, model.Released(), "weights must outlive the running execution")

	model.leave()
	assert.True(t, model.Released())
}

func TestRuntime_LoadRejectsKernelMismatch(t *testing.T) {
	dir := t.TempDir()
	m := DenseManifest(map[string][]int{"x": {2}}, map[string][]int{"y": {3}})
	m.WeightsManifest[0].Weights[0].Shape = []int{3, 2}
	require.NoError(t, WriteModel(dir, m, map[string][]float32{
		"y/kernel": make([]float32, 6),
		"y/bias":   make([]float32, 3),
	}))

	rt := New(zaptest.NewLogger(t), nil)
	_, err := rt.Load(context.Background(), filepath.Join(dir, ManifestFileName))
	require.Error(t, err)
}

func TestResolveLocation(t *testing.T) {
	assert.Equal(t, "https://cdn.example/models/b6/group1.bin",
		ResolveLocation("https://cdn.example/models/b6/model.json", "group1.bin"))
	assert.Equal(t, "file:///srv/models/group1.bin",
		ResolveLocation("file:///srv/models/model.json", "group1.bin"))
	assert.Equal(t, filepath.Join("models", "b6", "group1.bin"),
		ResolveLocation(filepath.Join("models", "b6", "model.json"), "./group1.bin"))
	assert.Equal(t, "http://other/x.bin",
		ResolveLocation("models/model.json", "http://other/x.bin"))
}

func TestDefaultFetcher_FileScheme(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.bin")
	require.NoError(t, os.WriteFile(p, []byte{1, 2, 3}, 0o644))

	data, err := (&DefaultFetcher{}).Fetch(context.Background(), "file://"+filepath.ToSlash(p))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
}
