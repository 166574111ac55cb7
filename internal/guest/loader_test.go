package guest

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/woxQAQ/nnbridge/internal/wasm"
)

func newTestLoader(t *testing.T) (*Loader, *wasm.Runtime) {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	runtime, err := wasm.NewRuntime(ctx, logger, wasm.DefaultRuntimeConfig())
	if err != nil {
		t.Fatalf("Failed to create runtime: %v", err)
	}
	t.Cleanup(func() { runtime.Close(ctx) })

	return NewLoader(runtime, logger), runtime
}

func TestLoader_Load_Valid(t *testing.T) {
	loader, runtime := newTestLoader(t)

	guest, err := loader.Load(context.Background(), filepath.Join("testdata", "guests", "valid-engine"))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if guest.Name() != "katago" {
		t.Errorf("expected name 'katago', got '%s'", guest.Name())
	}

	if guest.Version() != "1.13.0" {
		t.Errorf("expected version '1.13.0', got '%s'", guest.Version())
	}

	if guest.Compiled.SizeBytes != 8 {
		t.Errorf("expected 8 byte module, got %d", guest.Compiled.SizeBytes)
	}

	// Compiled modules are keyed by guest name.
	if _, ok := runtime.GetCompiledModule("katago"); !ok {
		t.Error("expected compiled module cached under the guest name")
	}
}

func TestLoader_Load_ManifestNotFound(t *testing.T) {
	loader, _ := newTestLoader(t)

	_, err := loader.Load(context.Background(), filepath.Join("testdata", "guests", "nonexistent"))
	if err == nil {
		t.Fatal("Load() should fail for nonexistent directory")
	}

	_, ok := err.(*ManifestNotFoundError)
	if !ok {
		t.Errorf("expected ManifestNotFoundError, got %T", err)
	}
}

func TestLoader_Load_InvalidManifest(t *testing.T) {
	loader, _ := newTestLoader(t)

	_, err := loader.Load(context.Background(), filepath.Join("testdata", "guests", "missing-fields"))
	if err == nil {
		t.Fatal("Load() should fail for invalid manifest")
	}

	_, ok := err.(*ManifestValidationError)
	if !ok {
		t.Errorf("expected ManifestValidationError, got %T", err)
	}
}

func TestLoader_Discover(t *testing.T) {
	loader, _ := newTestLoader(t)

	guests, err := loader.Discover(context.Background(), []string{filepath.Join("testdata", "guests")})
	if err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}

	names := map[string]bool{}
	for _, g := range guests {
		names[g.Name()] = true
	}

	// Every invalid fixture is skipped.
	if len(guests) != 2 || !names["katago"] || !names["minimal"] {
		t.Errorf("expected guests katago and minimal, got %v", names)
	}
}

func TestLoader_Discover_NoGuests(t *testing.T) {
	loader, _ := newTestLoader(t)

	// A directory that exists but has no valid guests
	_, err := loader.Discover(context.Background(), []string{filepath.Join("testdata", "guests", "invalid-yaml")})
	if err == nil {
		t.Fatal("Discover() should fail when no guests found")
	}

	_, ok := err.(*NoGuestsFoundError)
	if !ok {
		t.Errorf("expected NoGuestsFoundError, got %T", err)
	}
}

func TestLoader_Discover_PathNotExist(t *testing.T) {
	loader, _ := newTestLoader(t)

	_, err := loader.Discover(context.Background(), []string{"/nonexistent/path"})
	if err == nil {
		t.Fatal("Discover() should fail when path doesn't exist")
	}

	_, ok := err.(*NoGuestsFoundError)
	if !ok {
		t.Errorf("expected NoGuestsFoundError, got %T", err)
	}
}
