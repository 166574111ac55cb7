package guest

import (
	"path/filepath"
	"slices"
	"testing"

	sdk "github.com/woxQAQ/nnbridge/api/wasm"
)

func loadManifest(t *testing.T, name string) *Guest {
	t.Helper()
	manifest, err := ParseManifest(filepath.Join("testdata", "guests", name))
	if err != nil {
		t.Fatalf("ParseManifest() failed: %v", err)
	}
	return &Guest{Manifest: manifest}
}

func TestGuest_ResolveDefaults(t *testing.T) {
	g := loadManifest(t, "valid-engine")

	launch, err := g.Resolve(Launch{ModelLocation: "https://models.example/b18"})
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}

	if launch.Mode != "gtp" || launch.Config != "gtp.cfg" {
		t.Errorf("expected first declared mode and config, got %+v", launch)
	}

	want := []string{"katago", "gtp", "-config", "/guest/gtp.cfg", "-model", "https://models.example/b18"}
	if got := g.Args(launch); !slices.Equal(got, want) {
		t.Errorf("Args() = %v, want %v", got, want)
	}
}

func TestGuest_ResolveExplicit(t *testing.T) {
	g := loadManifest(t, "valid-engine")

	launch, err := g.Resolve(Launch{Mode: "analysis", Config: "analysis.cfg"})
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}

	want := []string{"katago", "analysis", "-config", "/guest/analysis.cfg"}
	if got := g.Args(launch); !slices.Equal(got, want) {
		t.Errorf("Args() = %v, want %v", got, want)
	}
}

func TestGuest_ResolveUndeclared(t *testing.T) {
	g := loadManifest(t, "valid-engine")

	if _, err := g.Resolve(Launch{Mode: "selfplay"}); err == nil {
		t.Error("expected error for undeclared mode")
	} else if _, ok := err.(*UnknownModeError); !ok {
		t.Errorf("expected UnknownModeError, got %T", err)
	}

	if _, err := g.Resolve(Launch{Config: "match.cfg"}); err == nil {
		t.Error("expected error for undeclared config")
	} else if _, ok := err.(*UnknownConfigError); !ok {
		t.Errorf("expected UnknownConfigError, got %T", err)
	}
}

func TestGuest_MinimalManifest(t *testing.T) {
	g := loadManifest(t, "minimal-engine")

	launch, err := g.Resolve(Launch{ModelLocation: "file:///models/b6"})
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}

	want := []string{"minimal", "-model", "file:///models/b6"}
	if got := g.Args(launch); !slices.Equal(got, want) {
		t.Errorf("Args() = %v, want %v", got, want)
	}

	if _, err := g.Resolve(Launch{Mode: "gtp"}); err == nil {
		t.Error("expected error for mode on a guest without modes")
	}
}

func TestGuest_ArgsParsedByGuest(t *testing.T) {
	g := loadManifest(t, "valid-engine")

	launch, err := g.Resolve(Launch{Mode: "benchmark", ModelLocation: "file:///models/b18"})
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}

	parsed, err := sdk.ParseArgs(g.Args(launch))
	if err != nil {
		t.Fatalf("ParseArgs() failed: %v", err)
	}

	want := sdk.Args{Mode: "benchmark", Config: "/guest/gtp.cfg", ModelLocation: "file:///models/b18"}
	if parsed != want {
		t.Errorf("guest parsed %+v, want %+v", parsed, want)
	}
}
