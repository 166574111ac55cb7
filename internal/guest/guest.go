package guest

import (
	"path"
	"slices"
	"time"

	"github.com/woxQAQ/nnbridge/internal/wasm"
)

// MountPoint is where the guest directory appears inside the guest's filesystem.
const MountPoint = "/guest"

// Guest represents a loaded engine guest with its manifest and compiled Wasm module.
type Guest struct {
	// Manifest is the parsed guest metadata
	Manifest *Manifest

	// Compiled is the compiled Wasm module
	Compiled *wasm.CompiledModule

	// LoadedAt is the timestamp when the guest was loaded
	LoadedAt time.Time
}

// Name returns the guest name.
func (g *Guest) Name() string {
	return g.Manifest.Name
}

// Version returns the guest version.
func (g *Guest) Version() string {
	return g.Manifest.Version
}

// SupportsMode checks if the guest declares a sub-mode.
func (g *Guest) SupportsMode(mode string) bool {
	return slices.Contains(g.Manifest.Modes, mode)
}

// HasConfig checks if the guest declares a config file.
func (g *Guest) HasConfig(config string) bool {
	return slices.Contains(g.Manifest.Configs, config)
}

// Launch describes one run of a guest.
type Launch struct {
	Mode          string
	Config        string
	ModelLocation string
}

// Resolve fills an empty mode or config with the first one the manifest declares,
// and rejects undeclared ones.
func (g *Guest) Resolve(l Launch) (Launch, error) {
	if l.Mode == "" && len(g.Manifest.Modes) > 0 {
		l.Mode = g.Manifest.Modes[0]
	}
	if l.Mode != "" && !g.SupportsMode(l.Mode) {
		return l, &UnknownModeError{GuestName: g.Name(), Mode: l.Mode, Modes: g.Manifest.Modes}
	}

	if l.Config == "" && len(g.Manifest.Configs) > 0 {
		l.Config = g.Manifest.Configs[0]
	}
	if l.Config != "" && !g.HasConfig(l.Config) {
		return l, &UnknownConfigError{GuestName: g.Name(), Config: l.Config, Configs: g.Manifest.Configs}
	}
	return l, nil
}

// Args returns the guest argv for a resolved launch: the program name, the
// sub-mode, then the config and model flags.
func (g *Guest) Args(l Launch) []string {
	args := []string{g.Name()}
	if l.Mode != "" {
		args = append(args, l.Mode)
	}
	if l.Config != "" {
		args = append(args, "-config", path.Join(MountPoint, l.Config))
	}
	if l.ModelLocation != "" {
		args = append(args, "-model", l.ModelLocation)
	}
	return args
}
