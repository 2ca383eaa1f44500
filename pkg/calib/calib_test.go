package calib

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
)

func labeledScores(rng *rand.Rand, n int) []Sample {
	samples := make([]Sample, 0, 2*n)
	for i := 0; i < n; i++ {
		// Genuine scores cluster high, impostor scores low.
		samples = append(samples, Sample{Score: 0.8 + rng.NormFloat64()*0.1, Genuine: true})
		samples = append(samples, Sample{Score: 0.1 + rng.NormFloat64()*0.1, Genuine: false})
	}
	return samples
}

func TestFitSeparatesClasses(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	p, err := Fit(labeledScores(rng, 300))
	if err != nil {
		t.Fatal(err)
	}
	if p.A <= 0 {
		t.Fatalf("slope = %.4f, want > 0", p.A)
	}
	if got := p.Apply(0.85); got < 0.9 {
		t.Errorf("P(genuine | 0.85) = %.3f, want ≥ 0.9", got)
	}
	if got := p.Apply(0.05); got > 0.1 {
		t.Errorf("P(genuine | 0.05) = %.3f, want ≤ 0.1", got)
	}
}

func TestApplyRangeAndMonotone(t *testing.T) {
	p := Platt{A: 8, B: -4}
	prev := -1.0
	for s := -1.0; s <= 1.0; s += 0.01 {
		v := p.Apply(s)
		if v < 0 || v > 1 {
			t.Fatalf("Apply(%.2f) = %v outside [0, 1]", s, v)
		}
		if v < prev {
			t.Fatalf("calibration not monotone at %.2f", s)
		}
		prev = v
	}
}

func TestApplyExtremes(t *testing.T) {
	p := Platt{A: 10, B: 0}
	if v := p.Apply(1000); math.Abs(v-1) > 1e-9 {
		t.Errorf("saturated high = %v, want 1", v)
	}
	if v := p.Apply(-1000); v > 1e-9 {
		t.Errorf("saturated low = %v, want 0", v)
	}
}

func TestFitSingleClass(t *testing.T) {
	samples := []Sample{{0.9, true}, {0.8, true}}
	if _, err := Fit(samples); !errors.Is(err, ErrDegenerate) {
		t.Errorf("error = %v, want ErrDegenerate", err)
	}
}

func TestFitInvertedSeparation(t *testing.T) {
	// Genuine lower than impostor: slope would be negative.
	rng := rand.New(rand.NewPCG(3, 4))
	samples := make([]Sample, 0, 200)
	for i := 0; i < 100; i++ {
		samples = append(samples, Sample{Score: 0.1 + rng.NormFloat64()*0.05, Genuine: true})
		samples = append(samples, Sample{Score: 0.9 + rng.NormFloat64()*0.05, Genuine: false})
	}
	if _, err := Fit(samples); !errors.Is(err, ErrDegenerate) {
		t.Errorf("error = %v, want ErrDegenerate", err)
	}
}

func TestFitRecoverableParameters(t *testing.T) {
	// Data generated from a known logistic; the fit should land near it.
	truth := Platt{A: 6, B: -3}
	rng := rand.New(rand.NewPCG(5, 6))
	samples := make([]Sample, 0, 5000)
	for i := 0; i < 5000; i++ {
		s := rng.Float64()*2 - 1
		samples = append(samples, Sample{Score: s, Genuine: rng.Float64() < truth.Apply(s)})
	}
	p, err := Fit(samples)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(p.A-truth.A) > 1.0 || math.Abs(p.B-truth.B) > 0.6 {
		t.Errorf("fit (%.2f, %.2f), want near (%.2f, %.2f)", p.A, p.B, truth.A, truth.B)
	}
}
