package nn

import "math"

// AdamW is the decoupled-weight-decay Adam optimizer.
type AdamW struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64

	step int
	m    map[*Param][]float64
	v    map[*Param][]float64
}

// NewAdamW creates an optimizer with the standard betas.
func NewAdamW(lr, weightDecay float64) *AdamW {
	return &AdamW{
		LR:          lr,
		Beta1:       0.9,
		Beta2:       0.999,
		Eps:         1e-8,
		WeightDecay: weightDecay,
		m:           make(map[*Param][]float64),
		v:           make(map[*Param][]float64),
	}
}

// Step applies one update to every parameter from its accumulated
// gradient, then clears the gradients.
func (o *AdamW) Step(params []*Param) {
	o.step++
	bc1 := 1 - math.Pow(o.Beta1, float64(o.step))
	bc2 := 1 - math.Pow(o.Beta2, float64(o.step))

	for _, p := range params {
		m := o.m[p]
		if m == nil {
			m = make([]float64, len(p.Data))
			o.m[p] = m
		}
		v := o.v[p]
		if v == nil {
			v = make([]float64, len(p.Data))
			o.v[p] = v
		}
		for i := range p.Data {
			g := float64(p.Grad[i])
			m[i] = o.Beta1*m[i] + (1-o.Beta1)*g
			v[i] = o.Beta2*v[i] + (1-o.Beta2)*g*g
			mh := m[i] / bc1
			vh := v[i] / bc2

			w := float64(p.Data[i])
			w -= o.LR * o.WeightDecay * w
			w -= o.LR * mh / (math.Sqrt(vh) + o.Eps)
			p.Data[i] = float32(w)
		}
		p.ZeroGrad()
	}
}

// GradNorm returns the global L2 gradient norm over params, used by the
// trainer's checkpoint sanity gate.
func GradNorm(params []*Param) float64 {
	var sum float64
	for _, p := range params {
		n := p.GradNorm()
		sum += n * n
	}
	return math.Sqrt(sum)
}

// PlateauScheduler halves (or scales) the learning rate when the watched
// metric stops improving, mirroring reduce-on-plateau scheduling.
type PlateauScheduler struct {
	Opt      *AdamW
	Factor   float64
	Patience int
	MinLR    float64

	best float64
	bad  int
	init bool
}

// NewPlateauScheduler watches opt's learning rate.
func NewPlateauScheduler(opt *AdamW, factor float64, patience int) *PlateauScheduler {
	return &PlateauScheduler{Opt: opt, Factor: factor, Patience: patience, MinLR: 1e-6}
}

// Observe feeds one epoch's validation metric (lower is better). Returns
// true when the learning rate was reduced.
func (s *PlateauScheduler) Observe(metric float64) bool {
	if !s.init || metric < s.best {
		s.best = metric
		s.bad = 0
		s.init = true
		return false
	}
	s.bad++
	if s.bad > s.Patience {
		s.bad = 0
		lr := s.Opt.LR * s.Factor
		if lr < s.MinLR {
			lr = s.MinLR
		}
		s.Opt.LR = lr
		return true
	}
	return false
}
