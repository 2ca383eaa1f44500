package spoof

import (
	"math/rand/v2"
	"testing"

	"github.com/neuralock/neuralock/pkg/nn"
)

// genuineEmbeddings samples unit vectors from a low-dimensional cone so
// the autoencoder has a manifold to learn.
func genuineEmbeddings(rng *rand.Rand, dim, n int) [][]float32 {
	base := make([]float32, dim)
	base[0], base[1] = 1, 0.5
	nn.Normalize(base)

	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for d := range v {
			v[d] = base[d] + float32(rng.NormFloat64())*0.05
		}
		nn.Normalize(v)
		out[i] = v
	}
	return out
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Epochs = 30
	return cfg
}

func TestTrainAndThreshold(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	det, err := Train(genuineEmbeddings(rng, 16, 200), fastConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if det.Threshold <= 0 {
		t.Fatalf("threshold = %v, want > 0", det.Threshold)
	}
}

func TestGenuineBelowAnomalousAbove(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	train := genuineEmbeddings(rng, 16, 300)
	det, err := Train(train, fastConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}

	// Fresh genuine draws mostly pass the gate.
	fresh := genuineEmbeddings(rand.New(rand.NewPCG(5, 6)), 16, 100)
	flagged := 0
	for _, e := range fresh {
		if spoof, _ := det.IsSpoof(e); spoof {
			flagged++
		}
	}
	if flagged > 15 {
		t.Errorf("flagged %d/100 genuine embeddings, want few", flagged)
	}

	// Uniformly random unit vectors score higher on average than
	// genuine ones.
	var genMean, anomMean float64
	for _, e := range fresh {
		genMean += det.Score(e)
	}
	for i := 0; i < 100; i++ {
		v := make([]float32, 16)
		for d := range v {
			v[d] = float32(rng.NormFloat64())
		}
		nn.Normalize(v)
		anomMean += det.Score(v)
	}
	if anomMean/100 <= genMean/100 {
		t.Errorf("anomalous mean error %.6f not above genuine %.6f", anomMean/100, genMean/100)
	}
}

func TestTrainRejectsTinySet(t *testing.T) {
	if _, err := Train([][]float32{{1, 0}}, DefaultConfig(), nil); err == nil {
		t.Error("want error for too few embeddings")
	}
}

func TestDeterministicTraining(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 8))
	embs := genuineEmbeddings(rng, 8, 100)
	cfg := fastConfig()
	d1, err := Train(embs, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	d2, err := Train(embs, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if d1.Threshold != d2.Threshold {
		t.Errorf("thresholds differ under fixed seed: %v vs %v", d1.Threshold, d2.Threshold)
	}
}
