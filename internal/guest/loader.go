package guest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/woxQAQ/nnbridge/internal/wasm"
)

// Loader handles loading guests from disk.
type Loader struct {
	moduleLoader *wasm.ModuleLoader
	logger       *zap.Logger
}

// NewLoader creates a new guest loader.
func NewLoader(runtime *wasm.Runtime, logger *zap.Logger) *Loader {
	return &Loader{
		moduleLoader: wasm.NewModuleLoader(runtime, logger),
		logger:       logger.With(zap.String("component", "guest-loader")),
	}
}

// Load loads a single guest from a directory.
func (l *Loader) Load(ctx context.Context, dir string) (*Guest, error) {
	l.logger.Debug("Loading guest", zap.String("dir", dir))

	manifest, err := ParseManifest(dir)
	if err != nil {
		return nil, err
	}

	l.logger.Info("Loading guest",
		zap.String("name", manifest.Name),
		zap.String("version", manifest.Version),
		zap.Strings("modes", manifest.Modes),
	)

	// Compile Wasm module (uses internal caching)
	compiled, err := l.moduleLoader.LoadModule(ctx, &guestSource{manifest: manifest})
	if err != nil {
		return nil, &GuestLoadError{
			GuestName: manifest.Name,
			Err:       err,
		}
	}

	guest := &Guest{
		Manifest: manifest,
		Compiled: compiled,
		LoadedAt: time.Now(),
	}

	l.logger.Info("Guest loaded successfully",
		zap.String("name", manifest.Name),
		zap.Int64("size_bytes", compiled.SizeBytes),
	)

	return guest, nil
}

// Discover scans directories for guests. Each subdirectory holding a manifest is one guest.
func (l *Loader) Discover(ctx context.Context, paths []string) ([]*Guest, error) {
	var guests []*Guest
	var errs []error

	for _, basePath := range paths {
		l.logger.Debug("Scanning guest directory", zap.String("path", basePath))

		entries, err := os.ReadDir(basePath)
		if err != nil {
			if os.IsNotExist(err) {
				l.logger.Warn("Guest path does not exist", zap.String("path", basePath))
				continue
			}
			return nil, fmt.Errorf("failed to read directory '%s': %w", basePath, err)
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}

			guestDir := filepath.Join(basePath, entry.Name())

			guest, err := l.Load(ctx, guestDir)
			if err != nil {
				l.logger.Error("Failed to load guest",
					zap.String("dir", guestDir),
					zap.Error(err),
				)
				errs = append(errs, err)
				continue
			}

			guests = append(guests, guest)
		}
	}

	if len(guests) > 0 && len(errs) > 0 {
		l.logger.Warn("Some guests failed to load",
			zap.Int("loaded", len(guests)),
			zap.Int("failed", len(errs)),
		)
	}

	if len(guests) == 0 {
		return nil, &NoGuestsFoundError{Paths: paths}
	}

	return guests, nil
}

// guestSource keys the compiled module by guest name so two guests sharing a
// file name do not collide in the module cache.
type guestSource struct {
	manifest *Manifest
}

func (s *guestSource) Bytes() ([]byte, error) {
	return os.ReadFile(s.manifest.WasmPath())
}

func (s *guestSource) Name() string {
	return s.manifest.Name
}
