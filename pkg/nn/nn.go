// Package nn implements the small neural-network toolkit the encoder,
// trainer, and anomaly detector are built on: parameter tensors, dense and
// recurrent layers, temporal attention, losses, and optimizers.
//
// # Design
//
// Layers are plain structs over float32 parameter slices. Every layer
// exposes an explicit Forward that records its activations into an
// optional caller-supplied cache (dense layers instead take their input
// back in Backward), and a Backward that consumes them, accumulates
// parameter gradients, and propagates the gradient to its input. Gradients reach all the way back to the raw
// signal window, which is what both training and gradient attribution
// need.
//
// Forward passes with a nil cache are read-only over the parameters and
// safe to run concurrently across goroutines; training (Backward and
// optimizer steps) is single-threaded by design.
package nn

import (
	"math"
	"math/rand/v2"
)

// Param is one named parameter tensor with its gradient accumulator.
// Matrices are row-major Rows×Cols; vectors have Cols == 1.
type Param struct {
	Name string
	Rows int
	Cols int
	Data []float32
	Grad []float32
}

// newParam allocates a zeroed parameter.
func newParam(name string, rows, cols int) *Param {
	return &Param{
		Name: name,
		Rows: rows,
		Cols: cols,
		Data: make([]float32, rows*cols),
		Grad: make([]float32, rows*cols),
	}
}

// ZeroGrad clears the gradient accumulator.
func (p *Param) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// GradNorm returns the L2 norm of the gradient.
func (p *Param) GradNorm() float64 {
	var sum float64
	for _, g := range p.Grad {
		sum += float64(g) * float64(g)
	}
	return math.Sqrt(sum)
}

// xavierInit fills p with uniform values in ±sqrt(6/(fanIn+fanOut)).
func xavierInit(p *Param, fanIn, fanOut int, rng *rand.Rand) {
	limit := float32(math.Sqrt(6 / float64(fanIn+fanOut)))
	for i := range p.Data {
		p.Data[i] = (rng.Float32()*2 - 1) * limit
	}
}

// matVec computes y = A x for row-major A (rows×cols).
func matVec(a []float32, rows, cols int, x, y []float32) {
	for r := 0; r < rows; r++ {
		row := a[r*cols : (r+1)*cols]
		var sum float32
		for c, w := range row {
			sum += w * x[c]
		}
		y[r] = sum
	}
}

// matVecT computes y = Aᵀ x for row-major A (rows×cols); y has length cols.
func matVecT(a []float32, rows, cols int, x, y []float32) {
	for c := range y[:cols] {
		y[c] = 0
	}
	for r := 0; r < rows; r++ {
		row := a[r*cols : (r+1)*cols]
		xr := x[r]
		if xr == 0 {
			continue
		}
		for c, w := range row {
			y[c] += w * xr
		}
	}
}

// outerAcc accumulates G += x yᵀ into row-major G (len(x)×len(y)).
func outerAcc(g []float32, x, y []float32) {
	cols := len(y)
	for r, xr := range x {
		if xr == 0 {
			continue
		}
		row := g[r*cols : (r+1)*cols]
		for c, yc := range y {
			row[c] += xr * yc
		}
	}
}

// Dot returns the dot product of two equal-length vectors.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return float32(math.Sqrt(sum))
}

// Normalize scales v to unit L2 norm in place and returns the original
// norm. A zero vector is left unchanged and reports norm 0.
func Normalize(v []float32) float32 {
	n := Norm(v)
	if n == 0 {
		return 0
	}
	inv := 1 / n
	for i := range v {
		v[i] *= inv
	}
	return n
}

// NormalizeBackward propagates a gradient through y = x/‖x‖ given the
// normalized output y, the pre-normalization norm, and dL/dy. Returns dL/dx.
func NormalizeBackward(y []float32, norm float32, dy []float32) []float32 {
	proj := Dot(y, dy)
	dx := make([]float32, len(y))
	inv := 1 / norm
	for i := range dx {
		dx[i] = (dy[i] - y[i]*proj) * inv
	}
	return dx
}

func sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}

func tanh32(x float32) float32 {
	return float32(math.Tanh(float64(x)))
}
