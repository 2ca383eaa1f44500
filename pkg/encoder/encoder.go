// Package encoder maps one fixed-length signal window to a unit-norm
// embedding vector.
//
// # Architecture
//
// The network processes a (channels × samples) window as a time sequence:
//
//  1. Linear projection channels → hidden, per time step
//  2. Stacked bidirectional LSTM layers (hidden per direction)
//  3. Temporal attention pooling over steps → one 2·hidden vector
//  4. Projection head 2·hidden → hidden → ReLU → embedding, L2-normalized
//
// A classification head over the embedding exists for the warmup training
// phase only; it is not part of the deployed model.
//
// Forward passes without a cache are read-only and safe to run from many
// goroutines over shared weights. The cached form supports full
// backpropagation to the input window, which serves both training and
// gradient attribution.
package encoder

import (
	"fmt"
	"math/rand/v2"

	"github.com/neuralock/neuralock/pkg/eeg/window"
	"github.com/neuralock/neuralock/pkg/nn"
)

// Config fixes the encoder architecture. Persisted alongside the weights
// and validated on load.
type Config struct {
	Channels     int     `yaml:"channels" msgpack:"channels"`
	Window       int     `yaml:"window" msgpack:"window"`
	Hidden       int     `yaml:"hidden" msgpack:"hidden"`
	Layers       int     `yaml:"layers" msgpack:"layers"`
	EmbeddingDim int     `yaml:"embedding_dim" msgpack:"embedding_dim"`
	Dropout      float64 `yaml:"dropout" msgpack:"dropout"`
}

// DefaultConfig returns the production architecture.
func DefaultConfig() Config {
	return Config{
		Channels:     48,
		Window:       256,
		Hidden:       128,
		Layers:       2,
		EmbeddingDim: 128,
		Dropout:      0.3,
	}
}

func (c Config) validate() error {
	if c.Channels <= 0 || c.Window <= 0 || c.Hidden <= 0 || c.Layers <= 0 || c.EmbeddingDim <= 0 {
		return fmt.Errorf("encoder: non-positive dimension in config %+v", c)
	}
	return nil
}

// Encoder is the learned sequence model. The weight tensors are treated
// as immutable during serving; training mutates them through the
// optimizer only.
type Encoder struct {
	cfg Config

	inProj *nn.Linear
	lstm   []*nn.BiLSTM
	attn   *nn.Attention
	head1  *nn.Linear
	head2  *nn.Linear

	// Classifier is the warmup-only supervision head (embedding → users).
	// Nil outside warmup training.
	Classifier *nn.Linear
}

// New creates a randomly initialized encoder. Panics on an invalid
// config: that is a programmer error, not an input condition.
func New(cfg Config, rng *rand.Rand) *Encoder {
	if err := cfg.validate(); err != nil {
		panic(err)
	}
	e := &Encoder{
		cfg:    cfg,
		inProj: nn.NewLinear("encoder.in_proj", cfg.Channels, cfg.Hidden, rng),
		attn:   nn.NewAttention("encoder.attn", 2*cfg.Hidden, cfg.Hidden, rng),
		head1:  nn.NewLinear("encoder.head1", 2*cfg.Hidden, cfg.Hidden, rng),
		head2:  nn.NewLinear("encoder.head2", cfg.Hidden, cfg.EmbeddingDim, rng),
	}
	for l := 0; l < cfg.Layers; l++ {
		in := cfg.Hidden
		if l > 0 {
			in = 2 * cfg.Hidden
		}
		e.lstm = append(e.lstm, nn.NewBiLSTM(fmt.Sprintf("encoder.lstm%d", l), in, cfg.Hidden, rng))
	}
	return e
}

// AttachClassifier adds the warmup supervision head for numUsers classes.
func (e *Encoder) AttachClassifier(numUsers int, rng *rand.Rand) {
	e.Classifier = nn.NewLinear("encoder.classifier", e.cfg.EmbeddingDim, numUsers, rng)
}

// DetachClassifier discards the warmup head before deployment.
func (e *Encoder) DetachClassifier() { e.Classifier = nil }

// Config returns the architecture parameters.
func (e *Encoder) Config() Config { return e.cfg }

// Params returns the deployable parameters (classifier excluded).
func (e *Encoder) Params() []*nn.Param {
	ps := e.inProj.Params()
	for _, l := range e.lstm {
		ps = append(ps, l.Params()...)
	}
	ps = append(ps, e.attn.Params()...)
	ps = append(ps, e.head1.Params()...)
	ps = append(ps, e.head2.Params()...)
	return ps
}

// TrainParams returns all parameters including the warmup classifier.
func (e *Encoder) TrainParams() []*nn.Param {
	ps := e.Params()
	if e.Classifier != nil {
		ps = append(ps, e.Classifier.Params()...)
	}
	return ps
}

// Cache records one forward pass for Backward.
type Cache struct {
	steps      [][]float32 // raw per-step inputs (window columns)
	proj       [][]float32
	layerIn    [][][]float32 // input sequence of each LSTM layer
	layerCache []*nn.BiLSTMCache
	dropMasks  [][][]float32 // per inter-layer, per step; nil without dropout
	attnCache  nn.AttentionCache
	pooled     []float32
	h1         []float32
	a1         []float32
	headMask   []float32
	headIn     []float32
	emb        []float32
	norm       float32
}

// Forward encodes one window. rng enables dropout (training); pass nil
// for deterministic inference. cache may be nil when no backward pass is
// needed.
func (e *Encoder) Forward(w window.Window, rng *rand.Rand, cache *Cache) ([]float32, error) {
	if w.Channels() != e.cfg.Channels || w.Samples() != e.cfg.Window {
		return nil, fmt.Errorf("encoder: window shape (%d, %d), want (%d, %d)",
			w.Channels(), w.Samples(), e.cfg.Channels, e.cfg.Window)
	}

	// Transpose (C, W) into a per-step sequence.
	T := e.cfg.Window
	steps := make([][]float32, T)
	for t := 0; t < T; t++ {
		x := make([]float32, e.cfg.Channels)
		for c := 0; c < e.cfg.Channels; c++ {
			x[c] = w[c][t]
		}
		steps[t] = x
	}

	proj := make([][]float32, T)
	for t, x := range steps {
		proj[t] = e.inProj.Forward(x)
	}

	var layerIn [][][]float32
	var layerCaches []*nn.BiLSTMCache
	var dropMasks [][][]float32
	cur := proj
	for li, layer := range e.lstm {
		var lc *nn.BiLSTMCache
		if cache != nil {
			lc = &nn.BiLSTMCache{}
			layerIn = append(layerIn, cur)
		}
		out := layer.Forward(cur, lc)
		if cache != nil {
			layerCaches = append(layerCaches, lc)
		}
		if li < len(e.lstm)-1 && rng != nil && e.cfg.Dropout > 0 {
			masks := make([][]float32, T)
			for t := range out {
				out[t], masks[t] = nn.Dropout(out[t], e.cfg.Dropout, rng)
			}
			if cache != nil {
				dropMasks = append(dropMasks, masks)
			}
		} else if cache != nil && li < len(e.lstm)-1 {
			dropMasks = append(dropMasks, nil)
		}
		cur = out
	}

	var ac *nn.AttentionCache
	if cache != nil {
		ac = &cache.attnCache
	}
	pooled := e.attn.Forward(cur, ac)

	h1 := e.head1.Forward(pooled)
	a1 := nn.ReLU(h1)
	headIn, headMask := nn.Dropout(a1, e.cfg.Dropout, rngOrNil(rng, e.cfg.Dropout))
	y := e.head2.Forward(headIn)

	emb := make([]float32, len(y))
	copy(emb, y)
	norm := nn.Normalize(emb)
	if norm == 0 {
		return nil, fmt.Errorf("encoder: zero-norm embedding")
	}

	if cache != nil {
		cache.steps = steps
		cache.proj = proj
		cache.layerIn = layerIn
		cache.layerCache = layerCaches
		cache.dropMasks = dropMasks
		cache.pooled = pooled
		cache.h1 = h1
		cache.a1 = a1
		cache.headMask = headMask
		cache.headIn = headIn
		cache.emb = emb
		cache.norm = norm
	}
	return emb, nil
}

// rngOrNil disables head dropout when no rng is supplied or p == 0.
func rngOrNil(rng *rand.Rand, p float64) *rand.Rand {
	if p <= 0 {
		return nil
	}
	return rng
}

// Encode is the inference entry point: deterministic, unit-norm output.
func (e *Encoder) Encode(w window.Window) ([]float32, error) {
	return e.Forward(w, nil, nil)
}

// Backward propagates dL/dembedding through the network, accumulating
// parameter gradients, and returns dL/dwindow with the input's (C, W)
// shape.
func (e *Encoder) Backward(cache *Cache, dEmb []float32) window.Window {
	dy := nn.NormalizeBackward(cache.emb, cache.norm, dEmb)
	dHeadIn := e.head2.Backward(cache.headIn, dy)
	dA1 := nn.DropoutBackward(dHeadIn, cache.headMask)
	dH1 := nn.ReLUBackward(cache.h1, dA1)
	dPooled := e.head1.Backward(cache.pooled, dH1)

	dSeq := e.attn.Backward(&cache.attnCache, dPooled)

	for li := len(e.lstm) - 1; li >= 0; li-- {
		dSeq = e.lstm[li].Backward(cache.layerCache[li], dSeq)
		if li > 0 {
			if masks := cache.dropMasks[li-1]; masks != nil {
				for t := range dSeq {
					dSeq[t] = nn.DropoutBackward(dSeq[t], masks[t])
				}
			}
		}
	}

	dWin := make(window.Window, e.cfg.Channels)
	for c := range dWin {
		dWin[c] = make([]float32, e.cfg.Window)
	}
	for t, dp := range dSeq {
		dx := e.inProj.Backward(cache.steps[t], dp)
		for c := range dx {
			dWin[c][t] = dx[c]
		}
	}
	return dWin
}

// State exports the deployable weights.
func (e *Encoder) State() nn.State { return nn.ExportState(e.Params()) }

// LoadState restores weights exported by State.
func (e *Encoder) LoadState(st nn.State) error { return nn.ImportState(e.Params(), st) }
