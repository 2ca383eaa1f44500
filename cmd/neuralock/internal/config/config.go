// Package config loads the pipeline configuration file for the neuralock
// CLI.
//
// The file is YAML; every field has a default, so an absent file yields
// the standard pipeline. Example:
//
//	trial_seconds: 63
//	preprocess:
//	  sample_rate_out: 128
//	  artifact_removal: false
//	window:
//	  window_seconds: 2.0
//	  step_seconds: 1.0
//	attribution:
//	  strategy: integrated_gradients
//	  ig_steps: 50
package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/neuralock/neuralock/pkg/eeg/preprocess"
	"github.com/neuralock/neuralock/pkg/eeg/window"
	"github.com/neuralock/neuralock/pkg/encoder"
	"github.com/neuralock/neuralock/pkg/prototype"
	"github.com/neuralock/neuralock/pkg/spoof"
	"github.com/neuralock/neuralock/pkg/train"
)

// Attribution selects and parameterizes the attribution strategy.
type Attribution struct {
	Strategy string `yaml:"strategy"`
	IGSteps  int    `yaml:"ig_steps"`
}

// Config is the full pipeline configuration.
type Config struct {
	// TrialSeconds is the fixed trial duration cut from recordings.
	TrialSeconds float64 `yaml:"trial_seconds"`

	Preprocess  preprocess.Config `yaml:"preprocess"`
	Window      window.Config     `yaml:"window"`
	Encoder     encoder.Config    `yaml:"encoder"`
	Train       train.Config      `yaml:"train"`
	Prototype   prototype.Config  `yaml:"prototype"`
	Spoof       spoof.Config      `yaml:"spoof"`
	Attribution Attribution       `yaml:"attribution"`
}

// Default returns the standard pipeline configuration.
func Default() Config {
	return Config{
		TrialSeconds: 63,
		Preprocess:   preprocess.DefaultConfig(),
		Window:       window.DefaultConfig(),
		Encoder:      encoder.DefaultConfig(),
		Train:        train.DefaultConfig(),
		Prototype:    prototype.DefaultConfig(),
		Spoof:        spoof.DefaultConfig(),
		Attribution: Attribution{
			Strategy: "integrated_gradients",
			IGSteps:  50,
		},
	}
}

// Load reads a YAML config over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
