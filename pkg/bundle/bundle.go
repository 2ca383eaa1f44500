// Package bundle persists and restores the trained model bundle: encoder
// weights, prototype table, calibrator, anomaly detector, and operating
// threshold.
//
// Each artifact is a versioned msgpack blob stored under a fixed name in
// a [BlobStore] (local directory or S3 prefix). Load validates versions
// and shapes before the serving plane ever sees the models.
package bundle

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/neuralock/neuralock/pkg/calib"
	"github.com/neuralock/neuralock/pkg/encoder"
	"github.com/neuralock/neuralock/pkg/nn"
	"github.com/neuralock/neuralock/pkg/prototype"
	"github.com/neuralock/neuralock/pkg/spoof"
)

// Version is the current artifact format version.
const Version uint32 = 1

// Blob names inside a bundle.
const (
	encoderBlob    = "encoder.bin"
	prototypesBlob = "prototypes.bin"
	calibratorBlob = "calibrator.bin"
	spoofBlob      = "spoof.bin"
	thresholdBlob  = "threshold.bin"
)

// encoderArtifact persists the encoder weights with their architecture
// for load-time validation.
type encoderArtifact struct {
	Version uint32               `msgpack:"version"`
	Arch    encoder.Config       `msgpack:"arch"`
	State   map[string][]float32 `msgpack:"state"`
}

// prototypeArtifact persists the user → prototype matrix mapping.
type prototypeArtifact struct {
	Version uint32                 `msgpack:"version"`
	K       int                    `msgpack:"k"`
	Dim     int                    `msgpack:"dim"`
	Users   map[string][][]float32 `msgpack:"users"`
}

// calibratorArtifact persists the two logistic parameters.
type calibratorArtifact struct {
	Version uint32  `msgpack:"version"`
	A       float64 `msgpack:"a"`
	B       float64 `msgpack:"b"`
}

// spoofArtifact persists the autoencoder weights and spoof threshold.
type spoofArtifact struct {
	Version   uint32               `msgpack:"version"`
	InDim     int                  `msgpack:"in_dim"`
	HiddenDim int                  `msgpack:"hidden_dim"`
	LatentDim int                  `msgpack:"latent_dim"`
	State     map[string][]float32 `msgpack:"state"`
	Threshold float64              `msgpack:"threshold"`
}

// Threshold is the operating point on calibrated probability, with the
// criterion it was chosen under.
type Threshold struct {
	Version   uint32  `msgpack:"version"`
	Value     float64 `msgpack:"value"`
	Criterion string  `msgpack:"criterion"`
}

// Bundle is the in-memory model set the verification engine serves from.
type Bundle struct {
	Encoder    *encoder.Encoder
	Prototypes *prototype.Table
	Calibrator calib.Platt
	Spoof      *spoof.Detector
	Threshold  Threshold
}

// Save writes every artifact of b into the store.
func Save(ctx context.Context, store BlobStore, b *Bundle) error {
	snap := b.Prototypes.Snapshot()
	k := 0
	for _, ps := range snap {
		if len(ps) > k {
			k = len(ps)
		}
	}
	artifacts := map[string]any{
		encoderBlob: encoderArtifact{
			Version: Version,
			Arch:    b.Encoder.Config(),
			State:   b.Encoder.State(),
		},
		prototypesBlob: prototypeArtifact{
			Version: Version,
			K:       k,
			Dim:     b.Prototypes.Dim(),
			Users:   snap,
		},
		calibratorBlob: calibratorArtifact{
			Version: Version,
			A:       b.Calibrator.A,
			B:       b.Calibrator.B,
		},
		spoofBlob: spoofArtifact{
			Version:   Version,
			InDim:     b.Spoof.AE.InDim,
			HiddenDim: b.Spoof.AE.HiddenDim,
			LatentDim: b.Spoof.AE.LatentDim,
			State:     nn.ExportState(b.Spoof.AE.Params()),
			Threshold: b.Spoof.Threshold,
		},
		thresholdBlob: Threshold{
			Version:   Version,
			Value:     b.Threshold.Value,
			Criterion: b.Threshold.Criterion,
		},
	}
	for name, art := range artifacts {
		data, err := msgpack.Marshal(art)
		if err != nil {
			return fmt.Errorf("bundle: encode %s: %w", name, err)
		}
		if err := store.Put(ctx, name, data); err != nil {
			return fmt.Errorf("bundle: write %s: %w", name, err)
		}
	}
	return nil
}

// Load reads and validates a bundle from the store.
func Load(ctx context.Context, store BlobStore) (*Bundle, error) {
	var encArt encoderArtifact
	if err := getArtifact(ctx, store, encoderBlob, &encArt, func() uint32 { return encArt.Version }); err != nil {
		return nil, err
	}
	// The weight init RNG is irrelevant: LoadState overwrites everything.
	enc := encoder.New(encArt.Arch, rand.New(rand.NewPCG(0, 0)))
	if err := enc.LoadState(encArt.State); err != nil {
		return nil, fmt.Errorf("bundle: encoder state: %w", err)
	}

	var protoArt prototypeArtifact
	if err := getArtifact(ctx, store, prototypesBlob, &protoArt, func() uint32 { return protoArt.Version }); err != nil {
		return nil, err
	}
	if protoArt.Dim != encArt.Arch.EmbeddingDim {
		return nil, fmt.Errorf("bundle: prototype dim %d, encoder emits %d", protoArt.Dim, encArt.Arch.EmbeddingDim)
	}
	table := prototype.NewTable(protoArt.Dim)
	for user, ps := range protoArt.Users {
		if err := table.Set(user, ps); err != nil {
			return nil, fmt.Errorf("bundle: prototypes for %s: %w", user, err)
		}
	}

	var calArt calibratorArtifact
	if err := getArtifact(ctx, store, calibratorBlob, &calArt, func() uint32 { return calArt.Version }); err != nil {
		return nil, err
	}

	var spArt spoofArtifact
	if err := getArtifact(ctx, store, spoofBlob, &spArt, func() uint32 { return spArt.Version }); err != nil {
		return nil, err
	}
	if spArt.InDim != encArt.Arch.EmbeddingDim {
		return nil, fmt.Errorf("bundle: spoof detector input %d, encoder emits %d", spArt.InDim, encArt.Arch.EmbeddingDim)
	}
	ae := nn.NewAutoencoder(spArt.InDim, spArt.HiddenDim, spArt.LatentDim, rand.New(rand.NewPCG(0, 0)))
	if err := nn.ImportState(ae.Params(), spArt.State); err != nil {
		return nil, fmt.Errorf("bundle: spoof state: %w", err)
	}

	var th Threshold
	if err := getArtifact(ctx, store, thresholdBlob, &th, func() uint32 { return th.Version }); err != nil {
		return nil, err
	}

	return &Bundle{
		Encoder:    enc,
		Prototypes: table,
		Calibrator: calib.Platt{A: calArt.A, B: calArt.B},
		Spoof:      &spoof.Detector{AE: ae, Threshold: spArt.Threshold},
		Threshold:  th,
	}, nil
}

// getArtifact reads, decodes, and version-checks one blob.
func getArtifact(ctx context.Context, store BlobStore, name string, dst any, version func() uint32) error {
	data, err := store.Get(ctx, name)
	if err != nil {
		return fmt.Errorf("bundle: read %s: %w", name, err)
	}
	if err := msgpack.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("bundle: decode %s: %w", name, err)
	}
	if v := version(); v != Version {
		return fmt.Errorf("bundle: %s has version %d, want %d", name, v, Version)
	}
	return nil
}
