// Package config loads the shell's optional ambient settings file,
// $HOME/.cashrc.yaml, the way pebble's plan layers are optional YAML
// overrides of built-in defaults (internals/plan). Grammar-affecting
// settings (aliases, functions, startup scripts) are deliberately not
// part of this file: spec.md's Non-goals exclude them from the shell
// language itself, and this file only ever tunes ambient behavior.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rajin-khan/cash/internal/jobs"
)

// Config holds ambient, non-grammar shell settings.
type Config struct {
	JobTableCapacity int    `yaml:"job_table_capacity"`
	Prompt           string `yaml:"prompt"`
	APIAddr          string `yaml:"api_addr"`
	HistoryFile      string `yaml:"history_file"`
}

// Default returns the built-in defaults, used when no config file is
// present or a field is left unset.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		JobTableCapacity: jobs.DefaultCapacity,
		Prompt:           "ca$h> ",
		APIAddr:          "",
		HistoryFile:      home + "/.cash_history",
	}
}

// Load reads path and overlays it on top of Default(). A missing file is
// not an error, matching pebble's tolerance for an absent optional layer.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return cfg, err
	}

	if overlay.JobTableCapacity > 0 {
		cfg.JobTableCapacity = overlay.JobTableCapacity
	}
	if overlay.Prompt != "" {
		cfg.Prompt = overlay.Prompt
	}
	if overlay.APIAddr != "" {
		cfg.APIAddr = overlay.APIAddr
	}
	if overlay.HistoryFile != "" {
		cfg.HistoryFile = overlay.HistoryFile
	}
	return cfg, nil
}
