package nn

import "math/rand/v2"

// LSTM is a single-direction LSTM layer over a sequence of input vectors.
// Gate blocks are packed [input, forget, cell, output] along the 4h axis.
type LSTM struct {
	In, Hidden int
	Wx         *Param // 4h×in
	Wh         *Param // 4h×h
	B          *Param // 4h
}

// NewLSTM creates an LSTM layer. The forget-gate bias starts at 1 so the
// cell state survives early training.
func NewLSTM(name string, in, hidden int, rng *rand.Rand) *LSTM {
	l := &LSTM{
		In:     in,
		Hidden: hidden,
		Wx:     newParam(name+".wx", 4*hidden, in),
		Wh:     newParam(name+".wh", 4*hidden, hidden),
		B:      newParam(name+".b", 4*hidden, 1),
	}
	xavierInit(l.Wx, in, 4*hidden, rng)
	xavierInit(l.Wh, hidden, 4*hidden, rng)
	for i := hidden; i < 2*hidden; i++ {
		l.B.Data[i] = 1
	}
	return l
}

// lstmStep caches one step's activations for backpropagation.
type lstmStep struct {
	x          []float32
	hPrev      []float32
	cPrev      []float32
	i, f, g, o []float32
	c          []float32
	tanhC      []float32
}

// LSTMCache holds the per-step activations of one forward pass.
type LSTMCache struct {
	steps []lstmStep
}

// Forward runs the layer over seq and returns the hidden state at every
// step. When cache is non-nil the activations are recorded for Backward.
func (l *LSTM) Forward(seq [][]float32, cache *LSTMCache) [][]float32 {
	h := make([]float32, l.Hidden)
	c := make([]float32, l.Hidden)
	out := make([][]float32, len(seq))
	z := make([]float32, 4*l.Hidden)
	zh := make([]float32, 4*l.Hidden)

	for t, x := range seq {
		matVec(l.Wx.Data, 4*l.Hidden, l.In, x, z)
		matVec(l.Wh.Data, 4*l.Hidden, l.Hidden, h, zh)
		for i := range z {
			z[i] += zh[i] + l.B.Data[i]
		}

		hd := l.Hidden
		ig := make([]float32, hd)
		fg := make([]float32, hd)
		gg := make([]float32, hd)
		og := make([]float32, hd)
		cNew := make([]float32, hd)
		tc := make([]float32, hd)
		hNew := make([]float32, hd)
		for j := 0; j < hd; j++ {
			ig[j] = sigmoid(z[j])
			fg[j] = sigmoid(z[hd+j])
			gg[j] = tanh32(z[2*hd+j])
			og[j] = sigmoid(z[3*hd+j])
			cNew[j] = fg[j]*c[j] + ig[j]*gg[j]
			tc[j] = tanh32(cNew[j])
			hNew[j] = og[j] * tc[j]
		}

		if cache != nil {
			cache.steps = append(cache.steps, lstmStep{
				x: x, hPrev: h, cPrev: c,
				i: ig, f: fg, g: gg, o: og,
				c: cNew, tanhC: tc,
			})
		}
		h, c = hNew, cNew
		out[t] = hNew
	}
	return out
}

// Backward consumes the cache and the per-step output gradients,
// accumulates parameter gradients, and returns the per-step input
// gradients.
func (l *LSTM) Backward(cache *LSTMCache, dOut [][]float32) [][]float32 {
	hd := l.Hidden
	T := len(cache.steps)
	dx := make([][]float32, T)

	dhNext := make([]float32, hd)
	dcNext := make([]float32, hd)
	dz := make([]float32, 4*hd)

	for t := T - 1; t >= 0; t-- {
		st := cache.steps[t]
		for j := 0; j < hd; j++ {
			dh := dOut[t][j] + dhNext[j]
			do := dh * st.tanhC[j]
			dc := dcNext[j] + dh*st.o[j]*(1-st.tanhC[j]*st.tanhC[j])
			di := dc * st.g[j]
			df := dc * st.cPrev[j]
			dg := dc * st.i[j]
			dcNext[j] = dc * st.f[j]

			dz[j] = di * st.i[j] * (1 - st.i[j])
			dz[hd+j] = df * st.f[j] * (1 - st.f[j])
			dz[2*hd+j] = dg * (1 - st.g[j]*st.g[j])
			dz[3*hd+j] = do * st.o[j] * (1 - st.o[j])
		}

		outerAcc(l.Wx.Grad, dz, st.x)
		outerAcc(l.Wh.Grad, dz, st.hPrev)
		for i, g := range dz {
			l.B.Grad[i] += g
		}

		dxt := make([]float32, l.In)
		matVecT(l.Wx.Data, 4*hd, l.In, dz, dxt)
		dx[t] = dxt
		matVecT(l.Wh.Data, 4*hd, hd, dz, dhNext)
	}
	return dx
}

// Params returns the layer parameters.
func (l *LSTM) Params() []*Param {
	return []*Param{l.Wx, l.Wh, l.B}
}

// BiLSTM runs a forward and a backward LSTM over the same sequence and
// concatenates their per-step outputs ([forward | backward], width 2h).
type BiLSTM struct {
	Fwd *LSTM
	Bwd *LSTM
}

// NewBiLSTM creates a bidirectional layer.
func NewBiLSTM(name string, in, hidden int, rng *rand.Rand) *BiLSTM {
	return &BiLSTM{
		Fwd: NewLSTM(name+".fwd", in, hidden, rng),
		Bwd: NewLSTM(name+".bwd", in, hidden, rng),
	}
}

// BiLSTMCache holds both directions' forward caches.
type BiLSTMCache struct {
	fwd LSTMCache
	bwd LSTMCache
}

// Forward returns the concatenated per-step outputs.
func (b *BiLSTM) Forward(seq [][]float32, cache *BiLSTMCache) [][]float32 {
	var fc, bc *LSTMCache
	if cache != nil {
		fc, bc = &cache.fwd, &cache.bwd
	}
	fwdOut := b.Fwd.Forward(seq, fc)
	bwdOut := b.Bwd.Forward(reverseSeq(seq), bc)

	T := len(seq)
	h := b.Fwd.Hidden
	out := make([][]float32, T)
	for t := 0; t < T; t++ {
		row := make([]float32, 2*h)
		copy(row[:h], fwdOut[t])
		copy(row[h:], bwdOut[T-1-t])
		out[t] = row
	}
	return out
}

// Backward splits the concatenated gradient between the two directions
// and sums their input gradients.
func (b *BiLSTM) Backward(cache *BiLSTMCache, dOut [][]float32) [][]float32 {
	T := len(dOut)
	h := b.Fwd.Hidden
	dFwd := make([][]float32, T)
	dBwd := make([][]float32, T)
	for t := 0; t < T; t++ {
		dFwd[t] = dOut[t][:h]
		dBwd[T-1-t] = dOut[t][h:]
	}

	dxF := b.Fwd.Backward(&cache.fwd, dFwd)
	dxBrev := b.Bwd.Backward(&cache.bwd, dBwd)

	dx := make([][]float32, T)
	for t := 0; t < T; t++ {
		row := make([]float32, len(dxF[t]))
		for i := range row {
			row[i] = dxF[t][i] + dxBrev[T-1-t][i]
		}
		dx[t] = row
	}
	return dx
}

// Params returns both directions' parameters.
func (b *BiLSTM) Params() []*Param {
	return append(b.Fwd.Params(), b.Bwd.Params()...)
}

func reverseSeq(seq [][]float32) [][]float32 {
	out := make([][]float32, len(seq))
	for i, v := range seq {
		out[len(seq)-1-i] = v
	}
	return out
}
