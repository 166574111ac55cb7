package guest

import (
	"path/filepath"
	"testing"

	"github.com/woxQAQ/nnbridge/internal/wasm"
)

func TestParseManifest_Valid(t *testing.T) {
	dir := filepath.Join("testdata", "guests", "valid-engine")

	manifest, err := ParseManifest(dir)
	if err != nil {
		t.Fatalf("ParseManifest() failed: %v", err)
	}

	if manifest.Name != "katago" {
		t.Errorf("expected Name 'katago', got '%s'", manifest.Name)
	}

	if manifest.Version != "1.13.0" {
		t.Errorf("expected Version '1.13.0', got '%s'", manifest.Version)
	}

	if manifest.Wasm.File != "katago.wasm" {
		t.Errorf("expected Wasm.File 'katago.wasm', got '%s'", manifest.Wasm.File)
	}

	if manifest.Entrypoint != wasm.DefaultEntrypoint {
		t.Errorf("expected default entrypoint, got '%s'", manifest.Entrypoint)
	}

	if len(manifest.Modes) != 3 {
		t.Errorf("expected 3 modes, got %d", len(manifest.Modes))
	}

	if len(manifest.Configs) != 2 {
		t.Errorf("expected 2 configs, got %d", len(manifest.Configs))
	}

	if manifest.Env["OMP_NUM_THREADS"] != "1" {
		t.Errorf("expected env OMP_NUM_THREADS=1, got %v", manifest.Env)
	}
}

func TestParseManifest_NotFound(t *testing.T) {
	dir := filepath.Join("testdata", "guests", "nonexistent")

	_, err := ParseManifest(dir)
	if err == nil {
		t.Fatal("ParseManifest() should fail for nonexistent directory")
	}

	_, ok := err.(*ManifestNotFoundError)
	if !ok {
		t.Errorf("expected ManifestNotFoundError, got %T", err)
	}
}

func TestParseManifest_InvalidYAML(t *testing.T) {
	dir := filepath.Join("testdata", "guests", "invalid-yaml")

	_, err := ParseManifest(dir)
	if err == nil {
		t.Fatal("ParseManifest() should fail for invalid YAML")
	}

	_, ok := err.(*ManifestParseError)
	if !ok {
		t.Errorf("expected ManifestParseError, got %T", err)
	}
}

func TestParseManifest_Invalid(t *testing.T) {
	tests := []struct {
		dir   string
		field string
	}{
		{"missing-fields", "name"},
		{"missing-config", "configs"},
		{"escaping-config", "configs"},
		{"duplicate-mode", "modes"},
	}

	for _, tt := range tests {
		t.Run(tt.dir, func(t *testing.T) {
			_, err := ParseManifest(filepath.Join("testdata", "guests", tt.dir))
			if err == nil {
				t.Fatal("ParseManifest() should fail")
			}

			validationErr, ok := err.(*ManifestValidationError)
			if !ok {
				t.Fatalf("expected ManifestValidationError, got %T", err)
			}

			if validationErr.Field != tt.field {
				t.Errorf("expected Field '%s', got '%s'", tt.field, validationErr.Field)
			}
		})
	}
}

func TestParseManifest_SchemaMismatch(t *testing.T) {
	dir := filepath.Join("testdata", "guests", "schema-mismatch")

	_, err := ParseManifest(dir)
	mismatch, ok := err.(*SchemaMismatchError)
	if !ok {
		t.Fatalf("expected SchemaMismatchError, got %T", err)
	}

	if mismatch.Declared != 8 || mismatch.Served != 5 {
		t.Errorf("expected declared 8 / served 5, got %d / %d", mismatch.Declared, mismatch.Served)
	}
}

func TestParseManifest_WasmNotFound(t *testing.T) {
	dir := filepath.Join("testdata", "guests", "missing-wasm")

	_, err := ParseManifest(dir)
	if err == nil {
		t.Fatal("ParseManifest() should fail for missing Wasm file")
	}

	_, ok := err.(*WasmNotFoundError)
	if !ok {
		t.Errorf("expected WasmNotFoundError, got %T", err)
	}
}

func TestManifest_Paths(t *testing.T) {
	dir := filepath.Join("testdata", "guests", "valid-engine")

	manifest, err := ParseManifest(dir)
	if err != nil {
		t.Fatalf("ParseManifest() failed: %v", err)
	}

	if want := filepath.Join(dir, "manifest.yaml"); manifest.Path() != want {
		t.Errorf("expected Path '%s', got '%s'", want, manifest.Path())
	}

	if want := filepath.Join(dir, "katago.wasm"); manifest.WasmPath() != want {
		t.Errorf("expected WasmPath '%s', got '%s'", want, manifest.WasmPath())
	}

	if manifest.Dir() != dir {
		t.Errorf("expected Dir '%s', got '%s'", dir, manifest.Dir())
	}
}
