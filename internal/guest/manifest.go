package guest

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/woxQAQ/nnbridge/internal/wasm"
	"github.com/woxQAQ/nnbridge/pkg/protocol"
)

// ManifestFile is the manifest file name inside a guest directory.
const ManifestFile = "manifest.yaml"

// Manifest represents the guest manifest.yaml structure.
type Manifest struct {
	Name          string            `yaml:"name"`
	Version       string            `yaml:"version"`
	Description   string            `yaml:"description"`
	Wasm          WasmConfig        `yaml:"wasm"`
	Entrypoint    string            `yaml:"entrypoint"`
	SchemaVersion int               `yaml:"schema_version"`
	Configs       []string          `yaml:"configs"`
	Modes         []string          `yaml:"modes"`
	Env           map[string]string `yaml:"env"`

	// Internal fields
	dir string // Directory containing manifest
}

// WasmConfig holds Wasm module configuration.
type WasmConfig struct {
	File string `yaml:"file"`
}

// ParseManifest reads and parses manifest.yaml from a directory.
func ParseManifest(dir string) (*Manifest, error) {
	manifestPath := filepath.Join(dir, ManifestFile)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, &ManifestNotFoundError{
			Path: manifestPath,
			Err:  err,
		}
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ManifestParseError{
			Path: manifestPath,
			Err:  err,
		}
	}

	m.dir = dir
	if m.Entrypoint == "" {
		m.Entrypoint = wasm.DefaultEntrypoint
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest fields.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "name",
			Message: "name is required",
		}
	}

	if m.Version == "" {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "version",
			Message: "version is required",
		}
	}

	if m.Wasm.File == "" {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "wasm.file",
			Message: "wasm.file is required",
		}
	}

	if m.SchemaVersion != protocol.SchemaVersion {
		return &SchemaMismatchError{
			Path:     m.Path(),
			Declared: m.SchemaVersion,
			Served:   protocol.SchemaVersion,
		}
	}

	if err := checkUnique(m.Path(), "modes", m.Modes); err != nil {
		return err
	}
	if err := checkUnique(m.Path(), "configs", m.Configs); err != nil {
		return err
	}

	// Config files are read by the guest from its mounted directory.
	for _, c := range m.Configs {
		if !filepath.IsLocal(c) {
			return &ManifestValidationError{
				Path:    m.Path(),
				Field:   "configs",
				Message: fmt.Sprintf("config %q must be a relative path inside the guest directory", c),
			}
		}
		if _, err := os.Stat(filepath.Join(m.dir, c)); err != nil {
			return &ManifestValidationError{
				Path:    m.Path(),
				Field:   "configs",
				Message: fmt.Sprintf("config %q not found", c),
			}
		}
	}

	if _, err := os.Stat(m.WasmPath()); os.IsNotExist(err) {
		return &WasmNotFoundError{
			ManifestPath: m.Path(),
			WasmFile:     m.Wasm.File,
		}
	}

	return nil
}

func checkUnique(path, field string, values []string) error {
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if v == "" {
			return &ManifestValidationError{Path: path, Field: field, Message: "empty entry"}
		}
		if seen[v] {
			return &ManifestValidationError{Path: path, Field: field, Message: fmt.Sprintf("duplicate entry %q", v)}
		}
		seen[v] = true
	}
	return nil
}

// Path returns the manifest file path.
func (m *Manifest) Path() string {
	return filepath.Join(m.dir, ManifestFile)
}

// WasmPath returns the path to the Wasm file.
func (m *Manifest) WasmPath() string {
	return filepath.Join(m.dir, m.Wasm.File)
}

// Dir returns the directory containing the manifest.
func (m *Manifest) Dir() string {
	return m.dir
}
