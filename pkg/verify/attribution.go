package verify

import (
	"fmt"
	"math"

	"github.com/neuralock/neuralock/pkg/encoder"
	"github.com/neuralock/neuralock/pkg/eeg/window"
)

// Strategy computes a per-input importance map for one window against the
// winning prototype. The gradient target is cos(encode(w), proto), so a
// map entry says how much that input sample pushed the probe toward the
// claimed identity.
type Strategy interface {
	// Name identifies the strategy in the persisted artifact.
	Name() string

	// Attribute returns an importance map with the window's shape.
	Attribute(enc *encoder.Encoder, w window.Window, proto []float32) (window.Window, error)
}

// IntegratedGradients interpolates from a zero baseline to the input,
// averages the gradients along the path, and scales by (input − baseline).
// This is the default strategy.
type IntegratedGradients struct {
	// Steps is the number of interpolation points (default 50).
	Steps int
}

// Name implements Strategy.
func (IntegratedGradients) Name() string { return "integrated_gradients" }

// Attribute implements Strategy.
func (ig IntegratedGradients) Attribute(enc *encoder.Encoder, w window.Window, proto []float32) (window.Window, error) {
	steps := ig.Steps
	if steps <= 0 {
		steps = 50
	}

	acc := zerosLike(w)
	scaled := w.Clone()
	for k := 1; k <= steps; k++ {
		alpha := float32(k) / float32(steps)
		for ch := range w {
			for s := range w[ch] {
				scaled[ch][s] = alpha * w[ch][s]
			}
		}
		grad, err := cosineGradient(enc, scaled, proto)
		if err != nil {
			return nil, err
		}
		for ch := range acc {
			for s := range acc[ch] {
				acc[ch][s] += grad[ch][s]
			}
		}
	}

	inv := 1 / float32(steps)
	for ch := range acc {
		for s := range acc[ch] {
			// Baseline is zero, so (input − baseline) is the input itself.
			acc[ch][s] *= inv * w[ch][s]
		}
	}
	return acc, nil
}

// Saliency is the absolute input gradient at the probe itself.
type Saliency struct{}

// Name implements Strategy.
func (Saliency) Name() string { return "saliency" }

// Attribute implements Strategy.
func (Saliency) Attribute(enc *encoder.Encoder, w window.Window, proto []float32) (window.Window, error) {
	grad, err := cosineGradient(enc, w, proto)
	if err != nil {
		return nil, err
	}
	for ch := range grad {
		for s := range grad[ch] {
			grad[ch][s] = float32(math.Abs(float64(grad[ch][s])))
		}
	}
	return grad, nil
}

// GradientInput multiplies the input gradient elementwise by the input.
type GradientInput struct{}

// Name implements Strategy.
func (GradientInput) Name() string { return "gradient_input" }

// Attribute implements Strategy.
func (GradientInput) Attribute(enc *encoder.Encoder, w window.Window, proto []float32) (window.Window, error) {
	grad, err := cosineGradient(enc, w, proto)
	if err != nil {
		return nil, err
	}
	for ch := range grad {
		for s := range grad[ch] {
			grad[ch][s] *= w[ch][s]
		}
	}
	return grad, nil
}

// StrategyByName resolves a configured strategy name.
func StrategyByName(name string, igSteps int) (Strategy, error) {
	switch name {
	case "", "integrated_gradients":
		return IntegratedGradients{Steps: igSteps}, nil
	case "saliency":
		return Saliency{}, nil
	case "gradient_input":
		return GradientInput{}, nil
	default:
		return nil, fmt.Errorf("verify: unknown attribution strategy %q", name)
	}
}

// cosineGradient returns d cos(encode(w), proto) / d w. The prototype is
// unit-norm, so the gradient at the embedding is the prototype itself
// projected through the encoder's normalization layer by Backward.
func cosineGradient(enc *encoder.Encoder, w window.Window, proto []float32) (window.Window, error) {
	var cache encoder.Cache
	if _, err := enc.Forward(w, nil, &cache); err != nil {
		return nil, err
	}
	return enc.Backward(&cache, proto), nil
}

func zerosLike(w window.Window) window.Window {
	out := make(window.Window, len(w))
	for ch := range w {
		out[ch] = make([]float32, len(w[ch]))
	}
	return out
}
