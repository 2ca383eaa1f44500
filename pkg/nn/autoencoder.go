package nn

import "math/rand/v2"

// Autoencoder is a small fully connected autoencoder used for anomaly
// scoring over embeddings: in → hidden → latent → hidden → in with ReLU
// activations after every layer but the last.
type Autoencoder struct {
	InDim     int
	HiddenDim int
	LatentDim int

	enc1 *Linear
	enc2 *Linear
	dec1 *Linear
	dec2 *Linear
}

// NewAutoencoder creates an autoencoder with the given dimensions.
func NewAutoencoder(in, hidden, latent int, rng *rand.Rand) *Autoencoder {
	return &Autoencoder{
		InDim:     in,
		HiddenDim: hidden,
		LatentDim: latent,
		enc1:      NewLinear("ae.enc1", in, hidden, rng),
		enc2:      NewLinear("ae.enc2", hidden, latent, rng),
		dec1:      NewLinear("ae.dec1", latent, hidden, rng),
		dec2:      NewLinear("ae.dec2", hidden, in, rng),
	}
}

// aeCache stores pre-activation values for backprop.
type aeCache struct {
	x, z1, a1, z2, a2, z3, a3 []float32
}

// Reconstruct runs the autoencoder forward. Safe for concurrent use.
func (ae *Autoencoder) Reconstruct(x []float32) []float32 {
	y, _ := ae.forward(x)
	return y
}

func (ae *Autoencoder) forward(x []float32) ([]float32, *aeCache) {
	z1 := ae.enc1.Forward(x)
	a1 := ReLU(z1)
	z2 := ae.enc2.Forward(a1)
	a2 := ReLU(z2)
	z3 := ae.dec1.Forward(a2)
	a3 := ReLU(z3)
	y := ae.dec2.Forward(a3)
	return y, &aeCache{x: x, z1: z1, a1: a1, z2: z2, a2: a2, z3: z3, a3: a3}
}

// TrainStep accumulates gradients for one sample and returns its loss.
func (ae *Autoencoder) TrainStep(x []float32) float64 {
	y, c := ae.forward(x)
	loss, dy := MSE(y, x)

	d := ae.dec2.Backward(c.a3, dy)
	d = ReLUBackward(c.z3, d)
	d = ae.dec1.Backward(c.a2, d)
	d = ReLUBackward(c.z2, d)
	d = ae.enc2.Backward(c.a1, d)
	d = ReLUBackward(c.z1, d)
	ae.enc1.Backward(c.x, d)
	return loss
}

// Error returns the mean squared reconstruction error for x.
func (ae *Autoencoder) Error(x []float32) float64 {
	y := ae.Reconstruct(x)
	var sum float64
	for i := range x {
		d := float64(y[i]) - float64(x[i])
		sum += d * d
	}
	return sum / float64(len(x))
}

// Params returns all parameters.
func (ae *Autoencoder) Params() []*Param {
	var ps []*Param
	for _, l := range []*Linear{ae.enc1, ae.enc2, ae.dec1, ae.dec2} {
		ps = append(ps, l.Params()...)
	}
	return ps
}
