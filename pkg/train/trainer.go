// Package train runs the offline optimization pipeline: a short
// classification warmup, proxy-based metric learning, and the derivation
// of every serving artifact (prototypes, calibrator, anomaly detector,
// operating threshold) from the trained encoder.
//
// Training is a batch job: failures abort the run. Checkpoints are
// written on validation improvement, gated on finite loss and a sane
// gradient norm, and a restarted job resumes from the last checkpoint.
package train

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/neuralock/neuralock/pkg/eeg/window"
	"github.com/neuralock/neuralock/pkg/encoder"
	"github.com/neuralock/neuralock/pkg/nn"
)

// Config controls both optimization phases.
type Config struct {
	WarmupEpochs int     `yaml:"warmup_epochs"`
	MetricEpochs int     `yaml:"metric_epochs"`
	BatchSize    int     `yaml:"batch_size"`
	LR           float64 `yaml:"lr"`
	WeightDecay  float64 `yaml:"weight_decay"`

	// Margin and Alpha parameterize the proxy-anchor metric loss.
	Margin float64 `yaml:"margin"`
	Alpha  float64 `yaml:"alpha"`

	// EarlyStopPatience bounds epochs without validation improvement.
	EarlyStopPatience int `yaml:"early_stop_patience"`

	// PlateauFactor and PlateauPatience drive the LR schedule.
	PlateauFactor   float64 `yaml:"plateau_factor"`
	PlateauPatience int     `yaml:"plateau_patience"`

	// TrainFrac and ValFrac cut the window-level split; the remainder is
	// the test partition.
	TrainFrac float64 `yaml:"train_frac"`
	ValFrac   float64 `yaml:"val_frac"`

	// MaxGradNorm gates checkpoint commits.
	MaxGradNorm float64 `yaml:"max_grad_norm"`

	// CheckpointDir receives checkpoint files; empty disables them.
	CheckpointDir string `yaml:"checkpoint_dir"`

	Seed uint64 `yaml:"seed"`

	Augment window.AugmentConfig `yaml:"augment"`
}

// DefaultConfig returns the standard training configuration.
func DefaultConfig() Config {
	return Config{
		WarmupEpochs:      3,
		MetricEpochs:      30,
		BatchSize:         32,
		LR:                1e-3,
		WeightDecay:       1e-4,
		Margin:            0.1,
		Alpha:             32,
		EarlyStopPatience: 7,
		PlateauFactor:     0.5,
		PlateauPatience:   5,
		TrainFrac:         0.7,
		ValFrac:           0.15,
		MaxGradNorm:       1e4,
		Seed:              42,
		Augment:           window.DefaultAugmentConfig(),
	}
}

// Trainer drives the two-phase optimization of one encoder.
type Trainer struct {
	cfg Config
	enc *encoder.Encoder
	log *slog.Logger

	rng *rand.Rand
	aug *window.Augmenter
}

// New creates a trainer over enc.
func New(enc *encoder.Encoder, cfg Config, log *slog.Logger) *Trainer {
	if log == nil {
		log = slog.Default()
	}
	sampleRate := enc.Config().Window / 2 // window covers 2 s by design
	return &Trainer{
		cfg: cfg,
		enc: enc,
		log: log,
		rng: rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0xdecafbad)),
		aug: window.NewAugmenter(cfg.Augment, sampleRate, cfg.Seed+1),
	}
}

// Result reports what training produced.
type Result struct {
	TrainIdx, ValIdx, TestIdx []int
	WarmupLoss                float64
	MetricLoss                float64
	StoppedEarly              bool
}

// Run executes warmup then metric learning over ds. ctx aborts between
// batches.
func (t *Trainer) Run(ctx context.Context, ds *Dataset) (*Result, error) {
	if ds.NumUsers() < 2 {
		return nil, fmt.Errorf("train: %d users, need at least 2", ds.NumUsers())
	}
	trainIdx, valIdx, testIdx := ds.Split(t.cfg.TrainFrac, t.cfg.ValFrac, t.cfg.Seed)
	if len(trainIdx) == 0 || len(valIdx) == 0 {
		return nil, fmt.Errorf("train: empty partition (train=%d val=%d)", len(trainIdx), len(valIdx))
	}
	res := &Result{TrainIdx: trainIdx, ValIdx: valIdx, TestIdx: testIdx}

	warmLoss, err := t.warmup(ctx, ds, trainIdx, valIdx)
	if err != nil {
		return nil, err
	}
	res.WarmupLoss = warmLoss

	metricLoss, stopped, err := t.metric(ctx, ds, trainIdx, valIdx)
	if err != nil {
		return nil, err
	}
	res.MetricLoss = metricLoss
	res.StoppedEarly = stopped
	return res, nil
}

// warmup minimizes classification cross-entropy to break symmetry.
func (t *Trainer) warmup(ctx context.Context, ds *Dataset, trainIdx, valIdx []int) (float64, error) {
	t.enc.AttachClassifier(ds.NumUsers(), t.rng)
	defer t.enc.DetachClassifier()

	opt := nn.NewAdamW(t.cfg.LR, t.cfg.WeightDecay)
	params := t.enc.TrainParams()

	var lastVal float64
	for epoch := 0; epoch < t.cfg.WarmupEpochs; epoch++ {
		order := shuffled(t.rng, trainIdx)
		var epochLoss float64
		for start := 0; start < len(order); start += t.cfg.BatchSize {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			batch := order[start:minInt(start+t.cfg.BatchSize, len(order))]
			loss, err := t.warmupBatch(ds, batch)
			if err != nil {
				return 0, err
			}
			epochLoss += loss * float64(len(batch))
			opt.Step(params)
		}
		epochLoss /= float64(len(order))

		valLoss, valAcc, err := t.warmupEval(ds, valIdx)
		if err != nil {
			return 0, err
		}
		lastVal = valLoss
		t.log.Info("warmup epoch",
			slog.Int("epoch", epoch),
			slog.Float64("train_loss", epochLoss),
			slog.Float64("val_loss", valLoss),
			slog.Float64("val_acc", valAcc))
	}
	return lastVal, nil
}

// warmupBatch accumulates one batch's gradients and returns its mean loss.
func (t *Trainer) warmupBatch(ds *Dataset, batch []int) (float64, error) {
	var total float64
	scale := float32(1 / float64(len(batch)))
	for _, i := range batch {
		s := ds.Samples[i]
		w := t.augmented(ds, i)

		var cache encoder.Cache
		emb, err := t.enc.Forward(w, t.rng, &cache)
		if err != nil {
			return 0, err
		}
		logits := t.enc.Classifier.Forward(emb)
		loss, dLogits := nn.CrossEntropy(logits, s.UserIdx)
		if !isFinite(loss) {
			return 0, fmt.Errorf("train: non-finite warmup loss at sample %d", i)
		}
		total += loss

		for j := range dLogits {
			dLogits[j] *= scale
		}
		dEmb := t.enc.Classifier.Backward(emb, dLogits)
		t.enc.Backward(&cache, dEmb)
	}
	return total / float64(len(batch)), nil
}

// warmupEval computes validation loss and accuracy without augmentation
// or dropout.
func (t *Trainer) warmupEval(ds *Dataset, valIdx []int) (loss, acc float64, err error) {
	correct := 0
	for _, i := range valIdx {
		s := ds.Samples[i]
		emb, err := t.enc.Encode(s.Window)
		if err != nil {
			return 0, 0, err
		}
		logits := t.enc.Classifier.Forward(emb)
		l, _ := nn.CrossEntropy(logits, s.UserIdx)
		loss += l
		if argmax(logits) == s.UserIdx {
			correct++
		}
	}
	n := float64(len(valIdx))
	return loss / n, float64(correct) / n, nil
}

// metric runs the proxy-anchor phase with early stopping, plateau LR
// scheduling, and gated checkpoints.
func (t *Trainer) metric(ctx context.Context, ds *Dataset, trainIdx, valIdx []int) (best float64, stopped bool, err error) {
	proxy := nn.NewProxyAnchor(ds.NumUsers(), t.enc.Config().EmbeddingDim, t.cfg.Margin, t.cfg.Alpha, t.rng)
	opt := nn.NewAdamW(t.cfg.LR, t.cfg.WeightDecay)
	sched := nn.NewPlateauScheduler(opt, t.cfg.PlateauFactor, t.cfg.PlateauPatience)
	params := append(t.enc.Params(), proxy.Params()...)

	startEpoch := 0
	best = math.Inf(1)
	if ck, err := t.loadCheckpoint(); err == nil && ck != nil {
		if err := t.enc.LoadState(ck.State); err == nil {
			startEpoch = ck.Epoch + 1
			best = ck.BestVal
			t.log.Info("resumed from checkpoint", slog.Int("epoch", ck.Epoch))
		}
	}

	sinceBest := 0
	for epoch := startEpoch; epoch < t.cfg.MetricEpochs; epoch++ {
		order := shuffled(t.rng, trainIdx)
		var epochLoss float64
		batches := 0
		for start := 0; start < len(order); start += t.cfg.BatchSize {
			if err := ctx.Err(); err != nil {
				return 0, false, err
			}
			batch := order[start:minInt(start+t.cfg.BatchSize, len(order))]
			loss, err := t.metricBatch(ds, batch, proxy)
			if err != nil {
				return 0, false, err
			}
			epochLoss += loss
			batches++

			gradNorm := nn.GradNorm(params)
			if !isFinite(gradNorm) || gradNorm > t.cfg.MaxGradNorm {
				return 0, false, fmt.Errorf("train: gradient norm %.3g exceeds limit at epoch %d", gradNorm, epoch)
			}
			opt.Step(params)
		}
		epochLoss /= float64(batches)

		valLoss, err := t.metricEval(ds, valIdx, proxy)
		if err != nil {
			return 0, false, err
		}
		sched.Observe(valLoss)
		t.log.Info("metric epoch",
			slog.Int("epoch", epoch),
			slog.Float64("train_loss", epochLoss),
			slog.Float64("val_loss", valLoss),
			slog.Float64("lr", opt.LR))

		if valLoss < best && isFinite(valLoss) {
			best = valLoss
			sinceBest = 0
			if err := t.saveCheckpoint(epoch, best); err != nil {
				return 0, false, err
			}
		} else {
			sinceBest++
			if sinceBest >= t.cfg.EarlyStopPatience {
				t.log.Info("early stopping", slog.Int("epoch", epoch))
				return best, true, nil
			}
		}
	}
	return best, false, nil
}

// metricBatch accumulates one proxy-anchor batch.
func (t *Trainer) metricBatch(ds *Dataset, batch []int, proxy *nn.ProxyAnchor) (float64, error) {
	embs := make([][]float32, len(batch))
	labels := make([]int, len(batch))
	caches := make([]*encoder.Cache, len(batch))
	for bi, i := range batch {
		w := t.augmented(ds, i)
		caches[bi] = &encoder.Cache{}
		emb, err := t.enc.Forward(w, t.rng, caches[bi])
		if err != nil {
			return 0, err
		}
		embs[bi] = emb
		labels[bi] = ds.Samples[i].UserIdx
	}

	loss, dEmbs := proxy.Forward(embs, labels)
	if !isFinite(loss) {
		return 0, fmt.Errorf("train: non-finite metric loss")
	}
	for bi := range batch {
		t.enc.Backward(caches[bi], dEmbs[bi])
	}
	return loss, nil
}

// metricEval computes the validation metric loss with clean inputs.
func (t *Trainer) metricEval(ds *Dataset, valIdx []int, proxy *nn.ProxyAnchor) (float64, error) {
	var total float64
	batches := 0
	for start := 0; start < len(valIdx); start += t.cfg.BatchSize {
		batch := valIdx[start:minInt(start+t.cfg.BatchSize, len(valIdx))]
		embs := make([][]float32, len(batch))
		labels := make([]int, len(batch))
		for bi, i := range batch {
			emb, err := t.enc.Encode(ds.Samples[i].Window)
			if err != nil {
				return 0, err
			}
			embs[bi] = emb
			labels[bi] = ds.Samples[i].UserIdx
		}
		loss, _ := proxy.Forward(embs, labels)
		proxy.Proxies.ZeroGrad() // evaluation must not leak gradients
		total += loss
		batches++
	}
	return total / float64(batches), nil
}

// augmented clones and perturbs one training window: dropout, noise,
// shift, then within-user mixup.
func (t *Trainer) augmented(ds *Dataset, i int) window.Window {
	w := ds.Samples[i].Window.Clone()
	t.aug.Apply(w)
	peer := ds.SameUserPeer(i, t.rng).Window.Clone()
	t.aug.Apply(peer)
	return t.aug.Mix(w, peer)
}

// checkpoint is the resumable training state.
type checkpoint struct {
	Version uint32   `msgpack:"version"`
	Epoch   int      `msgpack:"epoch"`
	BestVal float64  `msgpack:"best_val"`
	State   nn.State `msgpack:"state"`
}

const checkpointFile = "checkpoint.bin"

func (t *Trainer) saveCheckpoint(epoch int, bestVal float64) error {
	if t.cfg.CheckpointDir == "" {
		return nil
	}
	if err := os.MkdirAll(t.cfg.CheckpointDir, 0o755); err != nil {
		return err
	}
	data, err := msgpack.Marshal(checkpoint{
		Version: 1,
		Epoch:   epoch,
		BestVal: bestVal,
		State:   t.enc.State(),
	})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(t.cfg.CheckpointDir, checkpointFile), data, 0o644)
}

func (t *Trainer) loadCheckpoint() (*checkpoint, error) {
	if t.cfg.CheckpointDir == "" {
		return nil, nil
	}
	data, err := os.ReadFile(filepath.Join(t.cfg.CheckpointDir, checkpointFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ck checkpoint
	if err := msgpack.Unmarshal(data, &ck); err != nil {
		return nil, err
	}
	return &ck, nil
}

func shuffled(rng *rand.Rand, idx []int) []int {
	out := make([]int, len(idx))
	copy(out, idx)
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func argmax(xs []float32) int {
	best := 0
	for i, x := range xs {
		if x > xs[best] {
			best = i
		}
	}
	return best
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
