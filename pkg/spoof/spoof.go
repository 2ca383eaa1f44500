// Package spoof detects presentation attacks by reconstruction error.
//
// A small autoencoder is trained on genuine enrollment embeddings only.
// Genuine probes reconstruct well; synthesized or replayed signals land
// off the learned manifold and reconstruct poorly. The decision threshold
// is a high percentile of genuine validation errors.
package spoof

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/neuralock/neuralock/pkg/nn"
)

// Config controls detector training.
type Config struct {
	HiddenDim int     `yaml:"hidden_dim"`
	LatentDim int     `yaml:"latent_dim"`
	Epochs    int     `yaml:"epochs"`
	LR        float64 `yaml:"lr"`
	ValSplit  float64 `yaml:"val_split"`

	// ThresholdPercentile sets τ at this percentile of genuine
	// validation reconstruction errors.
	ThresholdPercentile float64 `yaml:"spoof_threshold_percentile"`

	Seed uint64 `yaml:"seed"`
}

// DefaultConfig returns the standard detector configuration.
func DefaultConfig() Config {
	return Config{
		HiddenDim:           64,
		LatentDim:           32,
		Epochs:              50,
		LR:                  1e-3,
		ValSplit:            0.2,
		ThresholdPercentile: 99,
		Seed:                42,
	}
}

// Detector scores embeddings by reconstruction error against a fixed
// threshold. Immutable after training; safe for concurrent Score calls.
type Detector struct {
	AE        *nn.Autoencoder
	Threshold float64
}

// Score returns the mean squared reconstruction error of emb.
func (d *Detector) Score(emb []float32) float64 {
	return d.AE.Error(emb)
}

// IsSpoof reports whether the reconstruction error exceeds the threshold.
func (d *Detector) IsSpoof(emb []float32) (bool, float64) {
	r := d.Score(emb)
	return r > d.Threshold, r
}

// Train fits the autoencoder on genuine embeddings and derives the spoof
// threshold from a held-out slice of them.
func Train(embeddings [][]float32, cfg Config, log *slog.Logger) (*Detector, error) {
	if len(embeddings) < 4 {
		return nil, fmt.Errorf("spoof: %d embeddings, need at least 4", len(embeddings))
	}
	dim := len(embeddings[0])
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x5f3759df))

	// Shuffled split into train and validation.
	idx := rng.Perm(len(embeddings))
	nVal := int(float64(len(embeddings)) * cfg.ValSplit)
	if nVal < 1 {
		nVal = 1
	}
	val := make([][]float32, 0, nVal)
	train := make([][]float32, 0, len(embeddings)-nVal)
	for i, j := range idx {
		if i < nVal {
			val = append(val, embeddings[j])
		} else {
			train = append(train, embeddings[j])
		}
	}

	ae := nn.NewAutoencoder(dim, cfg.HiddenDim, cfg.LatentDim, rng)
	opt := nn.NewAdamW(cfg.LR, 0)
	params := ae.Params()

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		order := rng.Perm(len(train))
		var epochLoss float64
		for _, j := range order {
			epochLoss += ae.TrainStep(train[j])
			opt.Step(params)
		}
		if log != nil && (epoch%10 == 0 || epoch == cfg.Epochs-1) {
			log.Debug("spoof autoencoder epoch",
				slog.Int("epoch", epoch),
				slog.Float64("train_loss", epochLoss/float64(len(train))))
		}
	}

	errs := make([]float64, len(val))
	for i, e := range val {
		errs[i] = ae.Error(e)
	}
	sort.Float64s(errs)
	tau := stat.Quantile(cfg.ThresholdPercentile/100, stat.Empirical, errs, nil)

	if log != nil {
		log.Info("spoof detector trained",
			slog.Int("train", len(train)),
			slog.Int("val", len(val)),
			slog.Float64("threshold", tau))
	}
	return &Detector{AE: ae, Threshold: tau}, nil
}
