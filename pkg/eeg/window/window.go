// Package window slices processed trials into fixed-length windows and
// applies training-time augmentations.
//
// Windowing is deterministic: a strided slice of W samples every S
// samples. Augmentation is used by the trainer only; enrollment and
// verification consume plain windows.
package window

import (
	"errors"
	"fmt"

	"github.com/neuralock/neuralock/pkg/eeg"
)

// ErrTooShort is returned when a trial has fewer samples than one window.
var ErrTooShort = errors.New("window: trial too short")

// Window is one fixed-shape (channels × samples) model input slice.
type Window [][]float32

// Clone returns a deep copy.
func (w Window) Clone() Window {
	out := make(Window, len(w))
	for ch, row := range w {
		cp := make([]float32, len(row))
		copy(cp, row)
		out[ch] = cp
	}
	return out
}

// Channels returns the channel count.
func (w Window) Channels() int { return len(w) }

// Samples returns the per-channel sample count.
func (w Window) Samples() int {
	if len(w) == 0 {
		return 0
	}
	return len(w[0])
}

// Config controls window geometry.
type Config struct {
	// WindowSeconds is the window length in seconds.
	WindowSeconds float64 `yaml:"window_seconds"`

	// StepSeconds is the stride in seconds.
	StepSeconds float64 `yaml:"step_seconds"`
}

// DefaultConfig returns 2-second windows with a 1-second stride.
func DefaultConfig() Config {
	return Config{WindowSeconds: 2, StepSeconds: 1}
}

// Sizes returns the window length and stride in samples at the given rate.
func (c Config) Sizes(sampleRate int) (w, s int) {
	return int(c.WindowSeconds * float64(sampleRate)), int(c.StepSeconds * float64(sampleRate))
}

// Slide cuts the trial into ⌊(T−W)/S⌋+1 windows. The windows share
// backing storage with the trial; callers that mutate them (augmentation)
// must Clone first. Returns ErrTooShort when T < W.
func Slide(t *eeg.ProcessedTrial, cfg Config) ([]Window, error) {
	w, s := cfg.Sizes(t.SampleRate)
	if w <= 0 || s <= 0 {
		return nil, fmt.Errorf("window: bad geometry W=%d S=%d", w, s)
	}
	total := t.Samples()
	if total < w {
		return nil, fmt.Errorf("%w: %d samples, need %d", ErrTooShort, total, w)
	}
	n := (total-w)/s + 1
	windows := make([]Window, n)
	for i := 0; i < n; i++ {
		win := make(Window, t.Channels())
		for ch, row := range t.Data {
			win[ch] = row[i*s : i*s+w]
		}
		windows[i] = win
	}
	return windows, nil
}
