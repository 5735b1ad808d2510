package config

import (
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model.Provider != "anthropic" {
		t.Fatalf("expected default provider, got %q", cfg.Model.Provider)
	}
	if !cfg.Session.AutoSave || !cfg.Session.AutoTitle {
		t.Fatalf("expected auto_save/auto_title defaults on")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Features.SubAgents = true
	cfg.Tools.Disabled = []string{"debug"}

	path := filepath.Join(t.TempDir(), "opal.yaml")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !loaded.Features.SubAgents {
		t.Fatalf("expected sub_agents feature to round-trip true")
	}
	if !loaded.IsToolDisabled("debug") {
		t.Fatalf("expected debug tool to round-trip disabled")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	cfg := Default()
	cfg.Tools.Disabled = []string{"shell"}

	clone := cfg.Clone()
	clone.Tools.Disabled = append(clone.Tools.Disabled, "grep")

	if len(cfg.Tools.Disabled) != 1 {
		t.Fatalf("mutating clone must not affect original, got %v", cfg.Tools.Disabled)
	}
}

func TestDataDirHonorsEnvOverride(t *testing.T) {
	t.Setenv("OPAL_DATA_DIR", "/tmp/opal-test-data")
	dir, err := DataDir()
	if err != nil {
		t.Fatalf("DataDir: %v", err)
	}
	if dir != "/tmp/opal-test-data" {
		t.Fatalf("expected env override, got %q", dir)
	}
}
