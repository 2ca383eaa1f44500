package nn

import "math/rand/v2"

// Linear is a fully connected layer y = W x + b.
type Linear struct {
	In, Out int
	W       *Param // Out×In
	B       *Param // Out
}

// NewLinear creates a Xavier-initialized linear layer.
func NewLinear(name string, in, out int, rng *rand.Rand) *Linear {
	l := &Linear{
		In:  in,
		Out: out,
		W:   newParam(name+".w", out, in),
		B:   newParam(name+".b", out, 1),
	}
	xavierInit(l.W, in, out, rng)
	return l
}

// Forward computes y = W x + b.
func (l *Linear) Forward(x []float32) []float32 {
	y := make([]float32, l.Out)
	matVec(l.W.Data, l.Out, l.In, x, y)
	for i := range y {
		y[i] += l.B.Data[i]
	}
	return y
}

// Backward accumulates parameter gradients for one (x, dy) pair and
// returns dL/dx.
func (l *Linear) Backward(x, dy []float32) []float32 {
	outerAcc(l.W.Grad, dy, x)
	for i, g := range dy {
		l.B.Grad[i] += g
	}
	dx := make([]float32, l.In)
	matVecT(l.W.Data, l.Out, l.In, dy, dx)
	return dx
}

// Params returns the layer parameters.
func (l *Linear) Params() []*Param {
	return []*Param{l.W, l.B}
}

// ReLU applies max(0, x) elementwise, returning a new slice.
func ReLU(x []float32) []float32 {
	y := make([]float32, len(x))
	for i, v := range x {
		if v > 0 {
			y[i] = v
		}
	}
	return y
}

// ReLUBackward masks dy by the forward activation pattern of x.
func ReLUBackward(x, dy []float32) []float32 {
	dx := make([]float32, len(x))
	for i, v := range x {
		if v > 0 {
			dx[i] = dy[i]
		}
	}
	return dx
}

// Dropout applies inverted dropout with probability p, returning the
// output and the keep mask (scaled by 1/(1-p)). With rng == nil or p <= 0
// it is the identity and the mask is nil.
func Dropout(x []float32, p float64, rng *rand.Rand) ([]float32, []float32) {
	if rng == nil || p <= 0 {
		return x, nil
	}
	scale := float32(1 / (1 - p))
	y := make([]float32, len(x))
	mask := make([]float32, len(x))
	for i, v := range x {
		if rng.Float64() >= p {
			mask[i] = scale
			y[i] = v * scale
		}
	}
	return y, mask
}

// DropoutBackward applies the saved mask to dy. A nil mask is identity.
func DropoutBackward(dy, mask []float32) []float32 {
	if mask == nil {
		return dy
	}
	dx := make([]float32, len(dy))
	for i := range dy {
		dx[i] = dy[i] * mask[i]
	}
	return dx
}
