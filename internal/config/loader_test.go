package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.MaxConcurrency != 4 {
		t.Errorf("MaxConcurrency = %d, want 4", cfg.Scheduler.MaxConcurrency)
	}
	if cfg.Verification.HeadRows != 10 {
		t.Errorf("HeadRows = %d, want 10", cfg.Verification.HeadRows)
	}
	if cfg.Judge.Enabled {
		t.Error("judge must be disabled by default")
	}
}

func TestLoadMissingFilesAreNotErrors(t *testing.T) {
	cfg, err := Load("/nonexistent/global.json", "/nonexistent/project.json")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Decision.PendingThreshold != 3 {
		t.Errorf("PendingThreshold = %d, want the default 3", cfg.Decision.PendingThreshold)
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()

	globalPath := filepath.Join(dir, "global.json")
	writeFile(t, globalPath, `{
		"scheduler": {"max_concurrency": 8},
		"decision": {"pending_threshold": 5}
	}`)

	projectPath := filepath.Join(dir, "project.json")
	writeFile(t, projectPath, `{
		"scheduler": {"max_concurrency": 2}
	}`)

	cfg, err := Load(globalPath, projectPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Project overrides global.
	if cfg.Scheduler.MaxConcurrency != 2 {
		t.Errorf("MaxConcurrency = %d, want 2 from project config", cfg.Scheduler.MaxConcurrency)
	}
	// Global overrides defaults where the project is silent.
	if cfg.Decision.PendingThreshold != 5 {
		t.Errorf("PendingThreshold = %d, want 5 from global config", cfg.Decision.PendingThreshold)
	}
	// Untouched sections keep their defaults.
	if cfg.Reflection.Frequency != 1 {
		t.Errorf("Frequency = %d, want the default 1", cfg.Reflection.Frequency)
	}
}

func TestLoadMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	writeFile(t, path, `{not json`)

	if _, err := Load(path, ""); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	cfg := DefaultConfig()
	cfg.Scheduler.MaxConcurrency = 7
	cfg.Decision.IgnoredRules = []string{"distribution_anomaly"}

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load("", path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Scheduler.MaxConcurrency != 7 {
		t.Errorf("MaxConcurrency = %d, want 7", loaded.Scheduler.MaxConcurrency)
	}
	if len(loaded.Decision.IgnoredRules) != 1 || loaded.Decision.IgnoredRules[0] != "distribution_anomaly" {
		t.Errorf("IgnoredRules = %v, want [distribution_anomaly]", loaded.Decision.IgnoredRules)
	}
}
