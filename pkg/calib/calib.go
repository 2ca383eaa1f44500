// Package calib fits and applies the score calibrator: a two-parameter
// logistic map from raw cosine similarity to a same-user probability.
package calib

import (
	"errors"
	"fmt"
	"math"
)

// ErrDegenerate is returned when the labeled score set cannot support a
// monotone fit (single class, or separation inverted).
var ErrDegenerate = errors.New("calib: degenerate fit")

// Platt is the fitted calibrator: p = σ(A·s + B). A must be positive so
// the map is monotone non-decreasing in the raw score.
type Platt struct {
	A float64 `msgpack:"a"`
	B float64 `msgpack:"b"`
}

// Apply maps a raw similarity to a probability in [0, 1]. Pure function.
func (p Platt) Apply(score float64) float64 {
	return 1 / (1 + math.Exp(-(p.A*score + p.B)))
}

// Sample is one labeled calibration point.
type Sample struct {
	Score   float64
	Genuine bool
}

// Fit estimates the logistic parameters by maximum likelihood with
// Newton–Raphson. A small ridge term keeps the Hessian invertible on
// separable data.
func Fit(samples []Sample) (Platt, error) {
	nGen, nImp := 0, 0
	for _, s := range samples {
		if s.Genuine {
			nGen++
		} else {
			nImp++
		}
	}
	if nGen == 0 || nImp == 0 {
		return Platt{}, fmt.Errorf("%w: need both genuine and impostor scores", ErrDegenerate)
	}

	const (
		ridge   = 1e-6
		maxIter = 100
		tol     = 1e-9
	)
	a, b := 1.0, 0.0
	for iter := 0; iter < maxIter; iter++ {
		// Gradient and Hessian of the negative log-likelihood.
		var ga, gb, haa, hab, hbb float64
		for _, s := range samples {
			p := 1 / (1 + math.Exp(-(a*s.Score + b)))
			y := 0.0
			if s.Genuine {
				y = 1
			}
			d := p - y
			w := p * (1 - p)
			ga += d * s.Score
			gb += d
			haa += w * s.Score * s.Score
			hab += w * s.Score
			hbb += w
		}
		ga += ridge * a
		gb += ridge * b
		haa += ridge
		hbb += ridge

		det := haa*hbb - hab*hab
		if det <= 0 {
			return Platt{}, fmt.Errorf("%w: singular hessian", ErrDegenerate)
		}
		da := (hbb*ga - hab*gb) / det
		db := (haa*gb - hab*ga) / det
		a -= da
		b -= db
		if math.Abs(da) < tol && math.Abs(db) < tol {
			break
		}
	}

	if !(a > 0) || math.IsNaN(a) || math.IsNaN(b) {
		return Platt{}, fmt.Errorf("%w: non-monotone slope %.4f", ErrDegenerate, a)
	}
	return Platt{A: a, B: b}, nil
}
