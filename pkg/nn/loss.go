package nn

import (
	"math"
	"math/rand/v2"
)

// CrossEntropy computes softmax cross-entropy for one sample and returns
// the loss and dL/dlogits.
func CrossEntropy(logits []float32, label int) (float64, []float32) {
	maxL := float64(math.Inf(-1))
	for _, v := range logits {
		if float64(v) > maxL {
			maxL = float64(v)
		}
	}
	var sum float64
	exps := make([]float64, len(logits))
	for i, v := range logits {
		exps[i] = math.Exp(float64(v) - maxL)
		sum += exps[i]
	}
	loss := -math.Log(exps[label] / sum)

	grad := make([]float32, len(logits))
	for i := range logits {
		p := exps[i] / sum
		if i == label {
			p--
		}
		grad[i] = float32(p)
	}
	return loss, grad
}

// ProxyAnchor is the proxy-based metric loss: every class owns a learned
// proxy vector; embeddings are pulled toward their own class proxy and
// pushed from the rest, with margin and scaling temperature.
type ProxyAnchor struct {
	NumClasses int
	Dim        int
	Margin     float64 // δ
	Alpha      float64 // scaling temperature

	Proxies *Param // NumClasses×Dim
}

// NewProxyAnchor creates the loss with Xavier-initialized proxies.
func NewProxyAnchor(numClasses, dim int, margin, alpha float64, rng *rand.Rand) *ProxyAnchor {
	pa := &ProxyAnchor{
		NumClasses: numClasses,
		Dim:        dim,
		Margin:     margin,
		Alpha:      alpha,
		Proxies:    newParam("proxy_anchor.proxies", numClasses, dim),
	}
	xavierInit(pa.Proxies, dim, numClasses, rng)
	return pa
}

// Params returns the learned proxies.
func (pa *ProxyAnchor) Params() []*Param {
	return []*Param{pa.Proxies}
}

// Forward computes the batch loss over unit-norm embeddings and their
// class labels. It accumulates the proxy gradients and returns the loss
// with dL/dembedding for every batch element.
func (pa *ProxyAnchor) Forward(embs [][]float32, labels []int) (float64, [][]float32) {
	n := len(embs)
	if n == 0 {
		return 0, nil
	}

	// Normalized proxies and their norms, for the cosine and its backward.
	phat := make([][]float32, pa.NumClasses)
	norms := make([]float32, pa.NumClasses)
	for c := 0; c < pa.NumClasses; c++ {
		row := pa.Proxies.Data[c*pa.Dim : (c+1)*pa.Dim]
		cp := make([]float32, pa.Dim)
		copy(cp, row)
		norms[c] = Normalize(cp)
		phat[c] = cp
	}

	// Cosine table and per-class positive/negative partial sums.
	cos := make([][]float64, n)
	for i, e := range embs {
		cos[i] = make([]float64, pa.NumClasses)
		for c := 0; c < pa.NumClasses; c++ {
			cos[i][c] = float64(Dot(e, phat[c]))
		}
	}

	present := make(map[int]bool, pa.NumClasses)
	for _, l := range labels {
		present[l] = true
	}
	nPresent := float64(len(present))

	posSum := make([]float64, pa.NumClasses) // Σ exp(-α(s-δ)) over same-class
	negSum := make([]float64, pa.NumClasses) // Σ exp(+α(s+δ)) over other-class
	for i := range embs {
		for c := 0; c < pa.NumClasses; c++ {
			if labels[i] == c {
				posSum[c] += math.Exp(-pa.Alpha * (cos[i][c] - pa.Margin))
			} else {
				negSum[c] += math.Exp(pa.Alpha * (cos[i][c] + pa.Margin))
			}
		}
	}

	var loss float64
	for c := 0; c < pa.NumClasses; c++ {
		if present[c] {
			loss += math.Log1p(posSum[c]) / nPresent
		}
		loss += math.Log1p(negSum[c]) / float64(pa.NumClasses)
	}

	// dL/ds for every (sample, class) pair, then chain to embeddings and
	// raw proxies.
	dEmb := make([][]float32, n)
	for i := range dEmb {
		dEmb[i] = make([]float32, pa.Dim)
	}
	dPhat := make([][]float32, pa.NumClasses)
	for c := range dPhat {
		dPhat[c] = make([]float32, pa.Dim)
	}

	for i := range embs {
		for c := 0; c < pa.NumClasses; c++ {
			var ds float64
			if labels[i] == c {
				if !present[c] {
					continue
				}
				e := math.Exp(-pa.Alpha * (cos[i][c] - pa.Margin))
				ds = -pa.Alpha * e / (1 + posSum[c]) / nPresent
			} else {
				e := math.Exp(pa.Alpha * (cos[i][c] + pa.Margin))
				ds = pa.Alpha * e / (1 + negSum[c]) / float64(pa.NumClasses)
			}
			if ds == 0 {
				continue
			}
			ds32 := float32(ds)
			for d := 0; d < pa.Dim; d++ {
				dEmb[i][d] += ds32 * phat[c][d]
				dPhat[c][d] += ds32 * embs[i][d]
			}
		}
	}

	// Through the proxy normalization: dp = (dp̂ − p̂ (p̂·dp̂)) / ‖p‖.
	for c := 0; c < pa.NumClasses; c++ {
		if norms[c] == 0 {
			continue
		}
		dp := NormalizeBackward(phat[c], norms[c], dPhat[c])
		grad := pa.Proxies.Grad[c*pa.Dim : (c+1)*pa.Dim]
		for d := range dp {
			grad[d] += dp[d]
		}
	}
	return loss, dEmb
}

// MSE computes mean squared error between y and target and returns the
// loss with dL/dy.
func MSE(y, target []float32) (float64, []float32) {
	n := float64(len(y))
	var loss float64
	grad := make([]float32, len(y))
	for i := range y {
		d := float64(y[i]) - float64(target[i])
		loss += d * d
		grad[i] = float32(2 * d / n)
	}
	return loss / n, grad
}
