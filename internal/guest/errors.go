package guest

import (
	"fmt"
	"strings"
)

// ManifestNotFoundError occurs when manifest.yaml is not found in a directory.
type ManifestNotFoundError struct {
	Path string
	Err  error
}

func (e *ManifestNotFoundError) Error() string {
	return fmt.Sprintf("manifest not found at '%s': %v", e.Path, e.Err)
}

func (e *ManifestNotFoundError) Unwrap() error {
	return e.Err
}

// ManifestParseError occurs when manifest.yaml cannot be parsed as valid YAML.
type ManifestParseError struct {
	Path string
	Err  error
}

func (e *ManifestParseError) Error() string {
	return fmt.Sprintf("failed to parse manifest at '%s': %v", e.Path, e.Err)
}

func (e *ManifestParseError) Unwrap() error {
	return e.Err
}

// ManifestValidationError occurs when manifest.yaml fails validation.
type ManifestValidationError struct {
	Path    string
	Field   string
	Message string
}

func (e *ManifestValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("manifest validation failed at '%s': %s (field: %s)",
			e.Path, e.Message, e.Field)
	}
	return fmt.Sprintf("manifest validation failed at '%s': %s", e.Path, e.Message)
}

// SchemaMismatchError occurs when a guest expects a tensor layout the host does not serve.
type SchemaMismatchError struct {
	Path     string
	Declared int
	Served   int
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("guest at '%s' expects schema version %d, host serves %d",
		e.Path, e.Declared, e.Served)
}

// WasmNotFoundError occurs when the Wasm file referenced in manifest doesn't exist.
type WasmNotFoundError struct {
	ManifestPath string
	WasmFile     string
}

func (e *WasmNotFoundError) Error() string {
	return fmt.Sprintf("Wasm file '%s' not found (referenced in manifest '%s')",
		e.WasmFile, e.ManifestPath)
}

// GuestLoadError occurs when guest loading fails.
type GuestLoadError struct {
	GuestName string
	Err       error
}

func (e *GuestLoadError) Error() string {
	return fmt.Sprintf("failed to load guest '%s': %v", e.GuestName, e.Err)
}

func (e *GuestLoadError) Unwrap() error {
	return e.Err
}

// UnknownModeError occurs when a launch names a sub-mode the guest does not declare.
type UnknownModeError struct {
	GuestName string
	Mode      string
	Modes     []string
}

func (e *UnknownModeError) Error() string {
	return fmt.Sprintf("guest '%s' has no mode '%s' (declared: %s)",
		e.GuestName, e.Mode, strings.Join(e.Modes, ", "))
}

// UnknownConfigError occurs when a launch names a config the guest does not declare.
type UnknownConfigError struct {
	GuestName string
	Config    string
	Configs   []string
}

func (e *UnknownConfigError) Error() string {
	return fmt.Sprintf("guest '%s' has no config '%s' (declared: %s)",
		e.GuestName, e.Config, strings.Join(e.Configs, ", "))
}

// NoGuestsFoundError occurs when no guests are found in the scanned paths.
type NoGuestsFoundError struct {
	Paths []string
}

func (e *NoGuestsFoundError) Error() string {
	return fmt.Sprintf("no guests found in paths: %v", e.Paths)
}
