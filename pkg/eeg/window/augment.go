package window

import (
	"math"
	"math/rand/v2"
)

// AugmentConfig controls the training-time perturbations.
type AugmentConfig struct {
	// ChannelDropout is the per-channel zeroing probability.
	ChannelDropout float64 `yaml:"channel_dropout"`

	// SNRLowDB and SNRHighDB bound the additive-noise target SNR.
	SNRLowDB  float64 `yaml:"snr_low_db"`
	SNRHighDB float64 `yaml:"snr_high_db"`

	// MaxShiftSeconds bounds the random time shift.
	MaxShiftSeconds float64 `yaml:"max_shift_seconds"`

	// MixupAlpha parameterizes the symmetric beta mixing weight.
	MixupAlpha float64 `yaml:"mixup_alpha"`
}

// DefaultAugmentConfig returns the standard training perturbations.
func DefaultAugmentConfig() AugmentConfig {
	return AugmentConfig{
		ChannelDropout:  0.15,
		SNRLowDB:        12,
		SNRHighDB:       28,
		MaxShiftSeconds: 0.5,
		MixupAlpha:      0.2,
	}
}

// Augmenter applies the training perturbation stack to windows.
// Not safe for concurrent use; the trainer owns one per worker.
type Augmenter struct {
	cfg        AugmentConfig
	rng        *rand.Rand
	sampleRate int
}

// NewAugmenter creates an Augmenter at the given sample rate with a
// deterministic seed.
func NewAugmenter(cfg AugmentConfig, sampleRate int, seed uint64) *Augmenter {
	return &Augmenter{
		cfg:        cfg,
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		sampleRate: sampleRate,
	}
}

// Apply perturbs w in place: channel dropout, additive noise, then a
// random time shift. The order is fixed. Mixup is separate ([Mix]) since
// it needs a second same-user window.
func (a *Augmenter) Apply(w Window) {
	a.channelDropout(w)
	a.addNoise(w)
	a.timeShift(w)
}

// channelDropout zeroes each channel independently with the configured
// probability.
func (a *Augmenter) channelDropout(w Window) {
	for ch := range w {
		if a.rng.Float64() < a.cfg.ChannelDropout {
			row := w[ch]
			for i := range row {
				row[i] = 0
			}
		}
	}
}

// addNoise adds white Gaussian noise at a target SNR drawn uniformly from
// the configured range.
func (a *Augmenter) addNoise(w Window) {
	var power float64
	n := 0
	for _, row := range w {
		for _, v := range row {
			power += float64(v) * float64(v)
		}
		n += len(row)
	}
	if n == 0 || power == 0 {
		return
	}
	power /= float64(n)

	snrDB := a.cfg.SNRLowDB + a.rng.Float64()*(a.cfg.SNRHighDB-a.cfg.SNRLowDB)
	noiseStd := math.Sqrt(power / math.Pow(10, snrDB/10))
	for _, row := range w {
		for i := range row {
			row[i] += float32(a.rng.NormFloat64() * noiseStd)
		}
	}
}

// timeShift rolls every channel by one random offset within
// ±MaxShiftSeconds, filling the vacated edge by reflection.
func (a *Augmenter) timeShift(w Window) {
	maxShift := int(a.cfg.MaxShiftSeconds * float64(a.sampleRate))
	if maxShift <= 0 {
		return
	}
	shift := a.rng.IntN(2*maxShift+1) - maxShift
	if shift == 0 {
		return
	}
	for ch := range w {
		w[ch] = shiftReflect(w[ch], shift)
	}
}

// shiftReflect shifts x right by k samples (left for negative k),
// reflecting the signal into the vacated region.
func shiftReflect(x []float32, k int) []float32 {
	n := len(x)
	out := make([]float32, n)
	for i := range out {
		src := i - k
		switch {
		case src < 0:
			src = -src
		case src >= n:
			src = 2*(n-1) - src
		}
		out[i] = x[src]
	}
	return out
}

// Mix blends two same-user windows with a Beta(α, α) weight and returns
// the result. Inputs are not modified.
func (a *Augmenter) Mix(w1, w2 Window) Window {
	lam := float32(a.beta(a.cfg.MixupAlpha, a.cfg.MixupAlpha))
	out := make(Window, len(w1))
	for ch := range w1 {
		row := make([]float32, len(w1[ch]))
		for i := range row {
			row[i] = lam*w1[ch][i] + (1-lam)*w2[ch][i]
		}
		out[ch] = row
	}
	return out
}

// beta samples Beta(a, b) via two gamma draws.
func (a *Augmenter) beta(alpha, bta float64) float64 {
	x := a.gamma(alpha)
	y := a.gamma(bta)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// gamma samples Gamma(shape, 1) with the Marsaglia–Tsang method, using
// the U^(1/shape) boost for shape < 1.
func (a *Augmenter) gamma(shape float64) float64 {
	if shape < 1 {
		u := a.rng.Float64()
		for u == 0 {
			u = a.rng.Float64()
		}
		return a.gamma(shape+1) * math.Pow(u, 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1 / math.Sqrt(9*d)
	for {
		x := a.rng.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := a.rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if u > 0 && math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}
