package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rajin-khan/cash/internal/config"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Prompt != config.Default().Prompt {
		t.Fatalf("got prompt %q, want default", cfg.Prompt)
	}
}

func TestLoadOverlaysProvidedFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cashrc.yaml")
	err := os.WriteFile(path, []byte("prompt: \"> \"\njob_table_capacity: 8\n"), 0644)
	if err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Prompt != "> " {
		t.Fatalf("got prompt %q, want %q", cfg.Prompt, "> ")
	}
	if cfg.JobTableCapacity != 8 {
		t.Fatalf("got capacity %d, want 8", cfg.JobTableCapacity)
	}
	if cfg.HistoryFile != config.Default().HistoryFile {
		t.Fatalf("unset field should fall back to default")
	}
}
