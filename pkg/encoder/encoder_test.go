package encoder

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/neuralock/neuralock/pkg/eeg/window"
)

// smallConfig keeps the gradient and determinism tests fast.
func smallConfig() Config {
	return Config{
		Channels:     6,
		Window:       16,
		Hidden:       8,
		Layers:       2,
		EmbeddingDim: 12,
		Dropout:      0.3,
	}
}

func testRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0xfeedface))
}

func randomWindow(rng *rand.Rand, channels, samples int) window.Window {
	w := make(window.Window, channels)
	for ch := range w {
		row := make([]float32, samples)
		for s := range row {
			row[s] = float32(rng.NormFloat64())
		}
		w[ch] = row
	}
	return w
}

func TestEncodeUnitNorm(t *testing.T) {
	rng := testRNG(1)
	e := New(smallConfig(), rng)
	for i := 0; i < 5; i++ {
		emb, err := e.Encode(randomWindow(rng, 6, 16))
		if err != nil {
			t.Fatal(err)
		}
		if len(emb) != 12 {
			t.Fatalf("embedding dim = %d, want 12", len(emb))
		}
		var norm float64
		for _, v := range emb {
			norm += float64(v) * float64(v)
		}
		norm = math.Sqrt(norm)
		if math.Abs(norm-1) > 1e-4 {
			t.Errorf("‖e‖ = %.6f, want 1 ± 1e-4", norm)
		}
	}
}

func TestEncodeDeterministic(t *testing.T) {
	rng := testRNG(2)
	e := New(smallConfig(), rng)
	w := randomWindow(rng, 6, 16)
	a, err := e.Encode(w)
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Encode(w)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("inference is not deterministic under fixed weights")
		}
	}
}

func TestEncodeShapeMismatch(t *testing.T) {
	e := New(smallConfig(), testRNG(3))
	if _, err := e.Encode(randomWindow(testRNG(4), 5, 16)); err == nil {
		t.Error("want error for wrong channel count")
	}
	if _, err := e.Encode(randomWindow(testRNG(4), 6, 15)); err == nil {
		t.Error("want error for wrong sample count")
	}
}

func TestBackwardInputGradcheck(t *testing.T) {
	cfg := smallConfig()
	cfg.Dropout = 0 // deterministic loss for finite differences
	e := New(cfg, testRNG(5))
	rng := testRNG(6)
	w := randomWindow(rng, cfg.Channels, cfg.Window)

	head := make([]float32, cfg.EmbeddingDim)
	for i := range head {
		head[i] = float32(rng.NormFloat64())
	}
	loss := func() float64 {
		emb, err := e.Encode(w)
		if err != nil {
			t.Fatal(err)
		}
		var s float64
		for i := range emb {
			s += float64(head[i]) * float64(emb[i])
		}
		return s
	}

	var cache Cache
	if _, err := e.Forward(w, nil, &cache); err != nil {
		t.Fatal(err)
	}
	dWin := e.Backward(&cache, head)

	const h = 1e-2
	checked := 0
	for c := 0; c < cfg.Channels; c += 2 {
		for s := 0; s < cfg.Window; s += 5 {
			orig := w[c][s]
			w[c][s] = orig + h
			lp := loss()
			w[c][s] = orig - h
			lm := loss()
			w[c][s] = orig
			want := (lp - lm) / (2 * h)
			if math.Abs(float64(dWin[c][s])-want) > 2e-2*(1+math.Abs(want)) {
				t.Errorf("dWin[%d][%d] = %.5f, want %.5f", c, s, dWin[c][s], want)
			}
			checked++
		}
	}
	if checked == 0 {
		t.Fatal("no gradient entries checked")
	}
}

func TestClassifierLifecycle(t *testing.T) {
	e := New(smallConfig(), testRNG(7))
	base := len(e.TrainParams())
	e.AttachClassifier(4, testRNG(8))
	if len(e.TrainParams()) != base+2 {
		t.Errorf("classifier params not registered")
	}
	if len(e.Params()) != base {
		t.Errorf("classifier leaked into deployable params")
	}
	e.DetachClassifier()
	if e.Classifier != nil {
		t.Error("classifier still attached")
	}
}

func TestStateRoundTrip(t *testing.T) {
	cfg := smallConfig()
	e1 := New(cfg, testRNG(9))
	w := randomWindow(testRNG(10), cfg.Channels, cfg.Window)
	want, err := e1.Encode(w)
	if err != nil {
		t.Fatal(err)
	}

	e2 := New(cfg, testRNG(11))
	if err := e2.LoadState(e1.State()); err != nil {
		t.Fatal(err)
	}
	got, err := e2.Encode(w)
	if err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if math.Abs(float64(want[i]-got[i])) > 1e-6 {
			t.Fatalf("embedding differs after weight round-trip at %d", i)
		}
	}
}

func TestTrainingDropoutPerturbsOutput(t *testing.T) {
	e := New(smallConfig(), testRNG(12))
	w := randomWindow(testRNG(13), 6, 16)
	det, err := e.Encode(w)
	if err != nil {
		t.Fatal(err)
	}
	drop, err := e.Forward(w, testRNG(14), nil)
	if err != nil {
		t.Fatal(err)
	}
	same := true
	for i := range det {
		if det[i] != drop[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("dropout pass produced identical output to inference pass")
	}
}
