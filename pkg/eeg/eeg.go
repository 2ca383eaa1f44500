// Package eeg defines the core signal types for the authentication
// pipeline and the loader for raw multi-channel recordings.
//
// # Pipeline position
//
// Recordings enter the system as BDF files (BioSemi 24-bit EDF variant).
// The loader selects the canonical channel subset by name, scales samples
// to physical units, and splits the recording into fixed-duration trials:
//
//	BDF file → []Trial → preprocess.Process → ProcessedTrial → window.Slide
//
// # Channel manifest
//
// The 48 canonical electrode names live in a single source-of-truth
// manifest ([Manifest]). Every downstream component assumes the manifest
// ordering; a recording missing any manifest channel is rejected with
// [ErrInputFormat].
package eeg

import (
	"errors"
	"fmt"
	"math"
)

// Sentinel errors.
var (
	// ErrInputFormat is returned when a recording is unreadable or does
	// not carry the canonical channel set.
	ErrInputFormat = errors.New("eeg: input format")

	// ErrEmptyTrial is returned when a trial has no samples, or contains
	// non-finite values.
	ErrEmptyTrial = errors.New("eeg: empty trial")
)

// Trial is one contiguous multi-channel recording segment at the
// acquisition sample rate. Data is indexed [channel][sample]; all
// channels have the same length.
type Trial struct {
	// Data holds the signal in physical units (µV), one row per channel
	// in manifest order.
	Data [][]float64

	// SampleRate is the acquisition rate in Hz (e.g. 512).
	SampleRate int
}

// Channels returns the number of channels.
func (t *Trial) Channels() int { return len(t.Data) }

// Samples returns the number of samples per channel, or 0 for an empty trial.
func (t *Trial) Samples() int {
	if len(t.Data) == 0 {
		return 0
	}
	return len(t.Data[0])
}

// Seconds returns the trial duration in seconds.
func (t *Trial) Seconds() float64 {
	if t.SampleRate == 0 {
		return 0
	}
	return float64(t.Samples()) / float64(t.SampleRate)
}

// Validate checks the trial shape and value finiteness. It returns
// ErrEmptyTrial for an empty or non-finite trial and ErrInputFormat for a
// channel count mismatch against the manifest.
func (t *Trial) Validate() error {
	if t.Channels() != NumChannels {
		return fmt.Errorf("%w: got %d channels, want %d", ErrInputFormat, t.Channels(), NumChannels)
	}
	n := t.Samples()
	if n == 0 {
		return fmt.Errorf("%w: no samples", ErrEmptyTrial)
	}
	for ch, row := range t.Data {
		if len(row) != n {
			return fmt.Errorf("%w: ragged channel %d", ErrInputFormat, ch)
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: non-finite value in channel %d", ErrEmptyTrial, ch)
			}
		}
	}
	return nil
}

// ProcessedTrial is a trial after preprocessing: resampled to the output
// rate and standardized per channel (zero mean, unit variance).
type ProcessedTrial struct {
	// Data is indexed [channel][sample], float32 for downstream model input.
	Data [][]float32

	// SampleRate is the output rate in Hz (e.g. 128).
	SampleRate int
}

// Channels returns the number of channels.
func (t *ProcessedTrial) Channels() int { return len(t.Data) }

// Samples returns the number of samples per channel.
func (t *ProcessedTrial) Samples() int {
	if len(t.Data) == 0 {
		return 0
	}
	return len(t.Data[0])
}
