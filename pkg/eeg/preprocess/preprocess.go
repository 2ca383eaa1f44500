// Package preprocess turns raw trials into the standardized form the
// encoder consumes.
//
// # Stages
//
// Each trial passes through, in order:
//
//  1. Band-pass filter 1–50 Hz (order-4 Butterworth, zero phase)
//  2. Notch filter at the line frequency (skipped when outside the band)
//  3. Optional artifact suppression (amplitude clipping heuristic)
//  4. Resample to the output rate (polyphase, high quality)
//  5. Per-channel standardization (zero mean, unit variance)
//
// Filtering failures surface as [ErrFilter]; empty or non-finite trials as
// [eeg.ErrEmptyTrial]. Both are fatal for the trial only — callers decide
// whether to drop it or abort the batch.
package preprocess

import (
	"fmt"
	"math"
	"sort"

	"github.com/neuralock/neuralock/pkg/eeg"
)

// Config controls the preprocessing pipeline.
type Config struct {
	// LowCut and HighCut bound the band-pass filter in Hz.
	LowCut  float64 `yaml:"low_cut"`
	HighCut float64 `yaml:"high_cut"`

	// NotchFreq is the mains frequency in Hz. Zero disables the notch;
	// a frequency outside the pass-band is skipped automatically.
	NotchFreq float64 `yaml:"notch_freq"`

	// NotchQ is the notch quality factor.
	NotchQ float64 `yaml:"notch_q"`

	// SampleRateOut is the output rate in Hz.
	SampleRateOut int `yaml:"sample_rate_out"`

	// ArtifactRemoval enables the amplitude-clipping artifact
	// suppression stage. Off is the fast configuration.
	ArtifactRemoval bool `yaml:"artifact_removal"`
}

// DefaultConfig returns the standard pipeline configuration.
func DefaultConfig() Config {
	return Config{
		LowCut:        1,
		HighCut:       50,
		NotchFreq:     50,
		NotchQ:        30,
		SampleRateOut: 128,
	}
}

// stdFloor clamps tiny standard deviations during standardization.
const stdFloor = 1e-8

// Process runs the full pipeline over one trial.
func Process(t *eeg.Trial, cfg Config) (*eeg.ProcessedTrial, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	fs := float64(t.SampleRate)

	sos, err := bandpassSOS(cfg.LowCut, cfg.HighCut, fs)
	if err != nil {
		return nil, err
	}
	useNotch := cfg.NotchFreq > 0 && cfg.NotchFreq > cfg.LowCut &&
		cfg.NotchFreq <= cfg.HighCut && cfg.NotchFreq < fs/2
	var notchSOS []biquad
	if useNotch {
		notchSOS = []biquad{notch(cfg.NotchFreq, fs, cfg.NotchQ)}
	}

	filtered := make([][]float64, t.Channels())
	for ch, row := range t.Data {
		y, err := filtfilt(sos, row)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", ch, err)
		}
		if useNotch {
			if y, err = filtfilt(notchSOS, y); err != nil {
				return nil, fmt.Errorf("channel %d: %w", ch, err)
			}
		}
		if cfg.ArtifactRemoval {
			suppressArtifacts(y)
		}
		filtered[ch] = y
	}

	resampled, err := resampleChannels(filtered, t.SampleRate, cfg.SampleRateOut)
	if err != nil {
		return nil, err
	}

	out := &eeg.ProcessedTrial{
		SampleRate: cfg.SampleRateOut,
		Data:       make([][]float32, len(resampled)),
	}
	for ch, row := range resampled {
		out.Data[ch] = standardize(row)
	}
	return out, nil
}

// standardize z-scores one channel, clamping tiny stdevs to stdFloor.
func standardize(x []float64) []float32 {
	var sum float64
	for _, v := range x {
		sum += v
	}
	mean := sum / float64(len(x))
	var varSum float64
	for _, v := range x {
		d := v - mean
		varSum += d * d
	}
	std := math.Sqrt(varSum / float64(len(x)))
	if std < stdFloor {
		std = stdFloor
	}
	out := make([]float32, len(x))
	for i, v := range x {
		out[i] = float32((v - mean) / std)
	}
	return out
}

// suppressArtifacts clips amplitude transients beyond five robust standard
// deviations (estimated from the median absolute deviation) in place. This
// approximates component-based eye/muscle artifact removal well enough for
// the fast configuration; accuracy targets relax when it is used instead
// of a full decomposition.
func suppressArtifacts(x []float64) {
	abs := make([]float64, len(x))
	for i, v := range x {
		abs[i] = math.Abs(v)
	}
	sort.Float64s(abs)
	mad := abs[len(abs)/2]
	if mad < stdFloor {
		return
	}
	// 1.4826 scales MAD to a Gaussian stdev.
	limit := 5 * 1.4826 * mad
	for i, v := range x {
		if v > limit {
			x[i] = limit
		} else if v < -limit {
			x[i] = -limit
		}
	}
}
