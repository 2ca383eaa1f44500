package train

import (
	"fmt"
	"log/slog"

	"github.com/neuralock/neuralock/pkg/bundle"
	"github.com/neuralock/neuralock/pkg/calib"
	"github.com/neuralock/neuralock/pkg/encoder"
	"github.com/neuralock/neuralock/pkg/nn"
	"github.com/neuralock/neuralock/pkg/prototype"
	"github.com/neuralock/neuralock/pkg/spoof"
)

// DeriveBundle builds every serving artifact from the trained encoder and
// the dataset: per-user prototypes from held-out embeddings, the
// calibrator from labeled genuine/impostor score pairs, the anomaly
// detector from genuine embeddings, and the EER operating threshold.
//
// The enrollment embeddings come from the validation partition; the
// calibration and threshold scores from the test partition, so the
// operating point is never tuned on the data that shaped the models.
func DeriveBundle(enc *encoder.Encoder, ds *Dataset, res *Result, protoCfg prototype.Config, spoofCfg spoof.Config, log *slog.Logger) (*bundle.Bundle, error) {
	if log == nil {
		log = slog.Default()
	}

	embed := func(idx []int) (map[int][][]float32, error) {
		byUser := make(map[int][][]float32)
		for _, i := range idx {
			s := ds.Samples[i]
			emb, err := enc.Encode(s.Window)
			if err != nil {
				return nil, fmt.Errorf("train: embedding sample %d: %w", i, err)
			}
			byUser[s.UserIdx] = append(byUser[s.UserIdx], emb)
		}
		return byUser, nil
	}

	enrollByUser, err := embed(res.ValIdx)
	if err != nil {
		return nil, err
	}
	scoreByUser, err := embed(res.TestIdx)
	if err != nil {
		return nil, err
	}

	// Prototypes per user.
	table := prototype.NewTable(enc.Config().EmbeddingDim)
	var genuineEmbs [][]float32
	for uIdx, embs := range enrollByUser {
		protos, err := prototype.Build(embs, protoCfg)
		if err != nil {
			return nil, fmt.Errorf("train: prototypes for %s: %w", ds.Users[uIdx], err)
		}
		if err := table.Set(ds.Users[uIdx], protos); err != nil {
			return nil, err
		}
		genuineEmbs = append(genuineEmbs, embs...)
	}
	log.Info("prototypes built", slog.Int("users", table.Len()))

	// Labeled raw scores: every test embedding against every user's
	// prototype set.
	var samples []calib.Sample
	for uIdx, embs := range scoreByUser {
		for _, emb := range embs {
			for tIdx := range ds.Users {
				protos, err := table.Get(ds.Users[tIdx])
				if err != nil {
					continue // user had no validation windows
				}
				samples = append(samples, calib.Sample{
					Score:   maxCosine(emb, protos),
					Genuine: tIdx == uIdx,
				})
			}
		}
	}
	platt, err := calib.Fit(samples)
	if err != nil {
		return nil, err
	}
	log.Info("calibrator fitted", slog.Int("samples", len(samples)),
		slog.Float64("a", platt.A), slog.Float64("b", platt.B))

	// Anomaly detector over genuine enrollment embeddings.
	det, err := spoof.Train(genuineEmbs, spoofCfg, log)
	if err != nil {
		return nil, err
	}

	// Operating threshold at the equal-error point of calibrated
	// probabilities.
	var genuine, impostor []float64
	for _, s := range samples {
		p := platt.Apply(s.Score)
		if s.Genuine {
			genuine = append(genuine, p)
		} else {
			impostor = append(impostor, p)
		}
	}
	tau, eer, err := EERThreshold(genuine, impostor)
	if err != nil {
		return nil, err
	}
	log.Info("operating threshold selected",
		slog.Float64("threshold", tau), slog.Float64("eer", eer))

	return &bundle.Bundle{
		Encoder:    enc,
		Prototypes: table,
		Calibrator: platt,
		Spoof:      det,
		Threshold: bundle.Threshold{
			Version:   bundle.Version,
			Value:     tau,
			Criterion: CriterionEER,
		},
	}, nil
}

// maxCosine is the raw score of one embedding against a prototype set.
func maxCosine(emb []float32, protos [][]float32) float64 {
	best := -2.0
	for _, p := range protos {
		if s := float64(nn.Dot(emb, p)); s > best {
			best = s
		}
	}
	return best
}
