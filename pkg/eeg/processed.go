package eeg

import (
	"fmt"
	"os"

	"github.com/vmihailenco/msgpack/v5"
)

// processedFile is the on-disk form of a ProcessedTrial.
type processedFile struct {
	Version    uint32      `msgpack:"version"`
	SampleRate int         `msgpack:"sample_rate"`
	Data       [][]float32 `msgpack:"data"`
}

// processedVersion is the current trial file format version.
const processedVersion uint32 = 1

// WriteProcessed saves a processed trial to path.
func WriteProcessed(path string, t *ProcessedTrial) error {
	data, err := msgpack.Marshal(processedFile{
		Version:    processedVersion,
		SampleRate: t.SampleRate,
		Data:       t.Data,
	})
	if err != nil {
		return fmt.Errorf("eeg: encode trial: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadProcessed loads a processed trial from path.
func ReadProcessed(path string) (*ProcessedTrial, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f processedFile
	if err := msgpack.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInputFormat, path, err)
	}
	if f.Version != processedVersion {
		return nil, fmt.Errorf("%w: %s has version %d, want %d", ErrInputFormat, path, f.Version, processedVersion)
	}
	return &ProcessedTrial{SampleRate: f.SampleRate, Data: f.Data}, nil
}
