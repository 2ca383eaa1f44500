// Package verify is the online decision core: it scores a probe trial
// against a claimed identity's prototypes, calibrates the score, applies
// the spoof gate, and records an attribution artifact.
//
// # Concurrency
//
// The engine holds the model bundle behind an atomic pointer: loads are
// lock-free, and hot reload is a pointer swap. Scoring is pure over the
// shared weights. Attribution is the one pass that writes gradient
// buffers, so it is serialized internally; everything else runs fully in
// parallel across verifications.
//
// # Failure policy
//
// Every failure resolves to a reject with an internal [Kind]. The kind
// reaches logs and the attribution artifact only; the external interface
// must present a uniform reject so "unknown user" and "bad signal" are
// indistinguishable to a probing caller.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/neuralock/neuralock/pkg/artifact"
	"github.com/neuralock/neuralock/pkg/bundle"
	"github.com/neuralock/neuralock/pkg/eeg"
	"github.com/neuralock/neuralock/pkg/eeg/window"
	"github.com/neuralock/neuralock/pkg/nn"
	"github.com/neuralock/neuralock/pkg/prototype"
)

// Decision is the external accept/reject outcome.
type Decision string

const (
	Accept Decision = "accept"
	Reject Decision = "reject"
)

// Result is the outcome of one verification.
type Result struct {
	Decision    Decision
	RawScore    float64
	Probability float64
	SpoofScore  float64
	IsSpoof     bool
	ArtifactID  string

	// Kind is the internal failure category, KindNone on success. Never
	// expose it to untrusted callers.
	Kind Kind
}

// softBudget is the design-target verification latency; slower probes are
// logged for capacity tracking.
const softBudget = 100 * time.Millisecond

// Engine owns the in-memory models and serves enrollment and
// verification.
type Engine struct {
	model     atomic.Pointer[bundle.Bundle]
	artifacts *artifact.Store
	strategy  Strategy
	winCfg    window.Config
	protoCfg  prototype.Config
	log       *slog.Logger

	// attrMu serializes attribution passes: backpropagation writes into
	// shared gradient buffers.
	attrMu sync.Mutex
}

// New creates an engine with no model loaded. artifacts may be nil, in
// which case attribution maps are computed but not persisted.
func New(artifacts *artifact.Store, strategy Strategy, winCfg window.Config, protoCfg prototype.Config, log *slog.Logger) *Engine {
	if strategy == nil {
		strategy = IntegratedGradients{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		artifacts: artifacts,
		strategy:  strategy,
		winCfg:    winCfg,
		protoCfg:  protoCfg,
		log:       log,
	}
}

// Load installs a model bundle. Swapping is atomic: in-flight
// verifications finish against the bundle they started with.
func (e *Engine) Load(b *bundle.Bundle) {
	e.model.Store(b)
}

// Bundle returns the currently installed bundle, or nil.
func (e *Engine) Bundle() *bundle.Bundle {
	return e.model.Load()
}

// Enroll builds and installs a prototype set for userID from one or more
// processed trials. Overwrite semantics: re-enrollment replaces the set.
func (e *Engine) Enroll(ctx context.Context, userID string, trials []*eeg.ProcessedTrial) ([][]float32, error) {
	b := e.model.Load()
	if b == nil {
		return nil, ErrModelNotLoaded
	}
	if len(trials) == 0 {
		return nil, fmt.Errorf("%w: no enrollment trials", eeg.ErrEmptyTrial)
	}

	var embs [][]float32
	for i, trial := range trials {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		wins, err := window.Slide(trial, e.winCfg)
		if err != nil {
			return nil, fmt.Errorf("enrollment trial %d: %w", i, err)
		}
		for _, w := range wins {
			emb, err := b.Encoder.Encode(w)
			if err != nil {
				return nil, fmt.Errorf("enrollment trial %d: %w", i, err)
			}
			embs = append(embs, emb)
		}
	}

	protos, err := prototype.Build(embs, e.protoCfg)
	if err != nil {
		return nil, err
	}
	if err := b.Prototypes.Set(userID, protos); err != nil {
		return nil, err
	}
	e.log.Info("user enrolled",
		slog.String("user", userID),
		slog.Int("windows", len(embs)),
		slog.Int("prototypes", len(protos)))
	return protos, nil
}

// Verify scores one probe trial against the claimed identity. The
// returned Result always carries a decision; err is the internal cause
// of a categorized failure and must not cross the trust boundary.
//
// The caller bounds the hard deadline through ctx.
func (e *Engine) Verify(ctx context.Context, userID string, trial *eeg.ProcessedTrial) (Result, error) {
	start := time.Now()
	probeID := uuid.NewString()

	res, err := e.verify(ctx, probeID, userID, trial)
	if err != nil {
		res.Decision = Reject
		res.Kind = KindOf(err)
		e.log.Warn("verification failed",
			slog.String("probe", probeID),
			slog.String("user", userID),
			slog.String("kind", string(res.Kind)))
		// Record the failure for audit, unless the caller is gone.
		if e.artifacts != nil && ctx.Err() == nil {
			res.ArtifactID = e.writeArtifact(probeID, userID, res, nil)
		}
	}
	if d := time.Since(start); d > softBudget {
		e.log.Debug("verification exceeded soft budget",
			slog.String("probe", probeID),
			slog.Duration("took", d))
	}
	return res, err
}

// verify runs decision steps 1–8 in order.
func (e *Engine) verify(ctx context.Context, probeID, userID string, trial *eeg.ProcessedTrial) (Result, error) {
	var res Result
	res.Decision = Reject

	b := e.model.Load()
	if b == nil {
		return res, ErrModelNotLoaded
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	// Identity lookup precedes any signal work: an unknown user must not
	// leak timing or content through the encoder.
	protos, err := b.Prototypes.Get(userID)
	if err != nil {
		return res, err
	}

	wins, err := window.Slide(trial, e.winCfg)
	if err != nil {
		return res, err
	}

	// Embed every window, then aggregate at the embedding level so the
	// attribution map explains the same vector that was scored.
	dim := b.Encoder.Config().EmbeddingDim
	mean := make([]float32, dim)
	for _, w := range wins {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		emb, err := b.Encoder.Encode(w)
		if err != nil {
			return res, err
		}
		for i, v := range emb {
			mean[i] += v
		}
	}
	inv := 1 / float32(len(wins))
	for i := range mean {
		mean[i] *= inv
	}
	if nn.Normalize(mean) == 0 {
		return res, fmt.Errorf("%w: zero aggregate embedding", ErrNumeric)
	}
	for _, v := range mean {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return res, fmt.Errorf("%w: non-finite embedding", ErrNumeric)
		}
	}

	// Raw score: maximum cosine over prototypes; ties keep the smallest
	// index.
	bestK := 0
	raw := float64(nn.Dot(mean, protos[0]))
	for k := 1; k < len(protos); k++ {
		if s := float64(nn.Dot(mean, protos[k])); s > raw {
			raw = s
			bestK = k
		}
	}
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return res, fmt.Errorf("%w: non-finite score", ErrNumeric)
	}
	res.RawScore = raw

	res.Probability = b.Calibrator.Apply(raw)
	res.IsSpoof, res.SpoofScore = b.Spoof.IsSpoof(mean)

	if !res.IsSpoof && res.Probability >= b.Threshold.Value {
		res.Decision = Accept
	}

	importance, err := e.attribute(b, wins, protos[bestK])
	if err != nil {
		return res, err
	}

	// The artifact write is a suspension point: a dead caller commits
	// nothing.
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if e.artifacts != nil {
		res.ArtifactID = e.writeArtifact(probeID, userID, res, importance)
	}

	e.log.Debug("verification decided",
		slog.String("probe", probeID),
		slog.String("user", userID),
		slog.String("decision", string(res.Decision)),
		slog.Float64("raw", res.RawScore),
		slog.Float64("probability", res.Probability),
		slog.Bool("spoof", res.IsSpoof))
	return res, nil
}

// attribute computes the importance map averaged over the probe windows.
func (e *Engine) attribute(b *bundle.Bundle, wins []window.Window, proto []float32) (window.Window, error) {
	e.attrMu.Lock()
	defer e.attrMu.Unlock()

	var acc window.Window
	for _, w := range wins {
		m, err := e.strategy.Attribute(b.Encoder, w, proto)
		if err != nil {
			return nil, err
		}
		if acc == nil {
			acc = m
			continue
		}
		for ch := range acc {
			for s := range acc[ch] {
				acc[ch][s] += m[ch][s]
			}
		}
	}
	// Attribution backprop left gradients behind; clear them so a later
	// fine-tune starts clean.
	for _, p := range b.Encoder.Params() {
		p.ZeroGrad()
	}

	inv := 1 / float32(len(wins))
	for ch := range acc {
		for s := range acc[ch] {
			acc[ch][s] *= inv
		}
	}
	return acc, nil
}

// writeArtifact persists the record, returning its id ("" on failure).
func (e *Engine) writeArtifact(probeID, userID string, res Result, importance window.Window) string {
	rec := &artifact.Record{
		ProbeID:     probeID,
		UserID:      userID,
		RawScore:    res.RawScore,
		Probability: res.Probability,
		SpoofScore:  res.SpoofScore,
		IsSpoof:     res.IsSpoof,
		Accepted:    res.Decision == Accept,
		ErrorKind:   string(res.Kind),
		Strategy:    e.strategy.Name(),
		Importance:  importance,
		CreatedAt:   time.Now().UTC(),
	}
	id, err := e.artifacts.Put(rec)
	if err != nil {
		e.log.Warn("attribution artifact write failed", slog.String("probe", probeID), slog.Any("error", err))
		return ""
	}
	return id
}

// FetchAttribution returns the raw encoded artifact for id.
func (e *Engine) FetchAttribution(id string) ([]byte, error) {
	if e.artifacts == nil {
		return nil, artifact.ErrNotFound
	}
	return e.artifacts.Bytes(id)
}
