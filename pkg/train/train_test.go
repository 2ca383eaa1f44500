package train

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/neuralock/neuralock/pkg/eeg"
	"github.com/neuralock/neuralock/pkg/eeg/window"
	"github.com/neuralock/neuralock/pkg/encoder"
	"github.com/neuralock/neuralock/pkg/prototype"
	"github.com/neuralock/neuralock/pkg/spoof"
)

const (
	testChannels = 6
	testRate     = 16
)

func testEncConfig() encoder.Config {
	return encoder.Config{
		Channels:     testChannels,
		Window:       2 * testRate,
		Hidden:       8,
		Layers:       2,
		EmbeddingDim: 12,
		Dropout:      0.2,
	}
}

// syntheticTrials builds per-user trials from fixed latent patterns.
func syntheticTrials(users int, trialsPer int, seed uint64) map[string][]*eeg.ProcessedTrial {
	rng := rand.New(rand.NewPCG(seed, seed^1))
	out := make(map[string][]*eeg.ProcessedTrial)
	for u := 0; u < users; u++ {
		pattern := make([][]float32, testChannels)
		for ch := range pattern {
			row := make([]float32, testRate*4)
			for s := range row {
				row[s] = float32(rng.NormFloat64())
			}
			pattern[ch] = row
		}
		name := string(rune('a' + u))
		for i := 0; i < trialsPer; i++ {
			tr := &eeg.ProcessedTrial{SampleRate: testRate, Data: make([][]float32, testChannels)}
			for ch := range tr.Data {
				row := make([]float32, testRate*6)
				for s := range row {
					row[s] = pattern[ch][s%len(pattern[ch])] + float32(rng.NormFloat64()*0.05)
				}
				tr.Data[ch] = row
			}
			out[name] = append(out[name], tr)
		}
	}
	return out
}

func fastConfig(dir string) Config {
	cfg := DefaultConfig()
	cfg.WarmupEpochs = 1
	cfg.MetricEpochs = 2
	cfg.BatchSize = 8
	cfg.CheckpointDir = dir
	return cfg
}

func TestBuildDatasetAndSplit(t *testing.T) {
	ds, err := BuildDataset(syntheticTrials(3, 4, 1), window.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if ds.NumUsers() != 3 {
		t.Fatalf("users = %d, want 3", ds.NumUsers())
	}
	// 6 s trials at 2 s windows / 1 s stride → 5 windows per trial.
	if want := 3 * 4 * 5; len(ds.Samples) != want {
		t.Errorf("samples = %d, want %d", len(ds.Samples), want)
	}

	train, val, test := ds.Split(0.7, 0.15, 9)
	if len(train)+len(val)+len(test) != len(ds.Samples) {
		t.Error("split loses samples")
	}

	// Fixed seed → identical split.
	train2, _, _ := ds.Split(0.7, 0.15, 9)
	for i := range train {
		if train[i] != train2[i] {
			t.Fatal("split not deterministic under fixed seed")
		}
	}
}

func TestSameUserPeer(t *testing.T) {
	ds, err := BuildDataset(syntheticTrials(2, 2, 2), window.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewPCG(3, 4))
	for i := 0; i < 20; i++ {
		peer := ds.SameUserPeer(i%len(ds.Samples), rng)
		if peer.UserIdx != ds.Samples[i%len(ds.Samples)].UserIdx {
			t.Fatal("peer from a different user")
		}
	}
}

func TestRunTwoPhases(t *testing.T) {
	ds, err := BuildDataset(syntheticTrials(3, 4, 5), window.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	enc := encoder.New(testEncConfig(), rand.New(rand.NewPCG(6, 7)))
	tr := New(enc, fastConfig(t.TempDir()), nil)

	res, err := tr.Run(context.Background(), ds)
	if err != nil {
		t.Fatal(err)
	}
	if !isFinite(res.WarmupLoss) || !isFinite(res.MetricLoss) {
		t.Errorf("non-finite losses: %+v", res)
	}
	if enc.Classifier != nil {
		t.Error("warmup classifier still attached after training")
	}
}

func TestRunRejectsSingleUser(t *testing.T) {
	ds, err := BuildDataset(syntheticTrials(1, 3, 8), window.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	enc := encoder.New(testEncConfig(), rand.New(rand.NewPCG(9, 10)))
	if _, err := New(enc, fastConfig(""), nil).Run(context.Background(), ds); err == nil {
		t.Error("want error for single-user dataset")
	}
}

func TestRunHonorsContext(t *testing.T) {
	ds, err := BuildDataset(syntheticTrials(2, 3, 11), window.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	enc := encoder.New(testEncConfig(), rand.New(rand.NewPCG(12, 13)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(enc, fastConfig(""), nil).Run(ctx, ds); err == nil {
		t.Error("want error for cancelled context")
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	enc := encoder.New(testEncConfig(), rand.New(rand.NewPCG(14, 15)))
	tr := New(enc, fastConfig(dir), nil)

	if err := tr.saveCheckpoint(4, 0.123); err != nil {
		t.Fatal(err)
	}
	ck, err := tr.loadCheckpoint()
	if err != nil {
		t.Fatal(err)
	}
	if ck == nil || ck.Epoch != 4 || ck.BestVal != 0.123 {
		t.Errorf("checkpoint = %+v", ck)
	}
	if err := enc.LoadState(ck.State); err != nil {
		t.Errorf("checkpoint state does not restore: %v", err)
	}
}

func TestEERThreshold(t *testing.T) {
	genuine := []float64{0.9, 0.92, 0.95, 0.97, 0.99}
	impostor := []float64{0.05, 0.1, 0.15, 0.2, 0.3}
	tau, eer, err := EERThreshold(genuine, impostor)
	if err != nil {
		t.Fatal(err)
	}
	if eer != 0 {
		t.Errorf("eer = %v on separable data, want 0", eer)
	}
	if tau <= 0.3 || tau > 0.9 {
		t.Errorf("threshold = %v, want inside the gap", tau)
	}

	if _, _, err := EERThreshold(nil, impostor); err == nil {
		t.Error("want error for empty genuine set")
	}
}

func TestEERThresholdOverlapping(t *testing.T) {
	rng := rand.New(rand.NewPCG(16, 17))
	var genuine, impostor []float64
	for i := 0; i < 500; i++ {
		genuine = append(genuine, clamp01(0.7+rng.NormFloat64()*0.15))
		impostor = append(impostor, clamp01(0.3+rng.NormFloat64()*0.15))
	}
	tau, eer, err := EERThreshold(genuine, impostor)
	if err != nil {
		t.Fatal(err)
	}
	if eer <= 0 || eer >= 0.5 {
		t.Errorf("eer = %v, want in (0, 0.5)", eer)
	}
	far := rateAtOrAbove(impostor, tau)
	frr := 1 - rateAtOrAbove(genuine, tau)
	if math.Abs(far-frr) > 0.05 {
		t.Errorf("FAR %.3f and FRR %.3f not balanced at the EER point", far, frr)
	}
}

func TestDeriveBundle(t *testing.T) {
	ds, err := BuildDataset(syntheticTrials(3, 6, 18), window.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	enc := encoder.New(testEncConfig(), rand.New(rand.NewPCG(19, 20)))
	tr := New(enc, fastConfig(t.TempDir()), nil)
	res, err := tr.Run(context.Background(), ds)
	if err != nil {
		t.Fatal(err)
	}

	spoofCfg := spoof.DefaultConfig()
	spoofCfg.Epochs = 10
	b, err := DeriveBundle(enc, ds, res, prototype.DefaultConfig(), spoofCfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if b.Prototypes.Len() == 0 {
		t.Error("no prototypes derived")
	}
	if b.Calibrator.A <= 0 {
		t.Errorf("calibrator slope = %v, want > 0", b.Calibrator.A)
	}
	if b.Threshold.Criterion != CriterionEER {
		t.Errorf("criterion = %q", b.Threshold.Criterion)
	}
	if b.Threshold.Value < 0 || b.Threshold.Value > 1 {
		t.Errorf("threshold = %v outside [0, 1]", b.Threshold.Value)
	}
	if b.Spoof.Threshold <= 0 {
		t.Errorf("spoof threshold = %v, want > 0", b.Spoof.Threshold)
	}
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
