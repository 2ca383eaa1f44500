package nn

import (
	"math"
	"math/rand/v2"
)

// Attention pools a sequence into one vector with learned temporal
// weights: score_t = v·tanh(W a_t + b), α = softmax(score), out = Σ α_t a_t.
type Attention struct {
	In, Hidden int
	Proj       *Linear // In → Hidden
	V          *Param  // Hidden
}

// NewAttention creates a temporal attention layer.
func NewAttention(name string, in, hidden int, rng *rand.Rand) *Attention {
	a := &Attention{
		In:     in,
		Hidden: hidden,
		Proj:   NewLinear(name+".proj", in, hidden, rng),
		V:      newParam(name+".v", hidden, 1),
	}
	xavierInit(a.V, hidden, 1, rng)
	return a
}

// AttentionCache records one forward pass.
type AttentionCache struct {
	seq    [][]float32
	pre    [][]float32 // W a_t + b
	u      [][]float32 // tanh(pre)
	Alpha  []float32   // softmax weights, exported for inspection
	pooled []float32
}

// Forward pools seq into a single vector of width In. When cache is
// non-nil the activations are recorded for Backward, and the attention
// weights are available as cache.Alpha.
func (a *Attention) Forward(seq [][]float32, cache *AttentionCache) []float32 {
	T := len(seq)
	scores := make([]float64, T)
	var pre, u [][]float32
	if cache != nil {
		pre = make([][]float32, T)
		u = make([][]float32, T)
	}
	for t, x := range seq {
		p := a.Proj.Forward(x)
		ut := make([]float32, len(p))
		for i, v := range p {
			ut[i] = tanh32(v)
		}
		scores[t] = float64(Dot(a.V.Data, ut))
		if cache != nil {
			pre[t] = p
			u[t] = ut
		}
	}

	alpha := softmax64(scores)
	pooled := make([]float32, a.In)
	for t, x := range seq {
		w := float32(alpha[t])
		for i, v := range x {
			pooled[i] += w * v
		}
	}

	if cache != nil {
		cache.seq = seq
		cache.pre = pre
		cache.u = u
		cache.Alpha = alpha
		cache.pooled = pooled
	}
	return pooled
}

// Backward propagates dL/dpooled to the sequence, accumulating parameter
// gradients.
func (a *Attention) Backward(cache *AttentionCache, dPooled []float32) [][]float32 {
	T := len(cache.seq)
	dSeq := make([][]float32, T)

	// dα_t = dpooled · a_t, then back through the softmax.
	dAlpha := make([]float64, T)
	var inner float64
	for t, x := range cache.seq {
		dAlpha[t] = float64(Dot(dPooled, x))
		inner += float64(cache.Alpha[t]) * dAlpha[t]
	}

	for t, x := range cache.seq {
		// Pooling path.
		dxt := make([]float32, a.In)
		w := cache.Alpha[t]
		for i := range dxt {
			dxt[i] = w * dPooled[i]
		}

		// Score path.
		dScore := float32(float64(cache.Alpha[t]) * (dAlpha[t] - inner))
		du := make([]float32, a.Hidden)
		for i := range du {
			du[i] = dScore * a.V.Data[i]
			a.V.Grad[i] += dScore * cache.u[t][i]
		}
		dPre := make([]float32, a.Hidden)
		for i := range dPre {
			dPre[i] = du[i] * (1 - cache.u[t][i]*cache.u[t][i])
		}
		dProj := a.Proj.Backward(x, dPre)
		for i := range dxt {
			dxt[i] += dProj[i]
		}
		dSeq[t] = dxt
	}
	return dSeq
}

// Params returns the layer parameters.
func (a *Attention) Params() []*Param {
	return append(a.Proj.Params(), a.V)
}

// softmax64 computes a numerically stable softmax over float64 scores,
// returned as float32 weights.
func softmax64(scores []float64) []float32 {
	maxS := math.Inf(-1)
	for _, s := range scores {
		if s > maxS {
			maxS = s
		}
	}
	var sum float64
	exps := make([]float64, len(scores))
	for i, s := range scores {
		exps[i] = math.Exp(s - maxS)
		sum += exps[i]
	}
	out := make([]float32, len(scores))
	for i, e := range exps {
		out[i] = float32(e / sum)
	}
	return out
}
