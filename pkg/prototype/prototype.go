// Package prototype builds and stores per-user reference vectors.
//
// Enrollment embeddings for one user are clustered into K unit-norm
// prototypes with spherical k-means. Multiple prototypes per user keep
// distinct embedding modes (different sessions, mental states) separable
// instead of averaging them into one washed-out centroid.
//
// A user's prototype set is immutable once built; re-enrollment replaces
// it wholesale.
package prototype

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/neuralock/neuralock/pkg/nn"
)

// ErrUnknownUser is returned when a user has no prototype entry.
var ErrUnknownUser = errors.New("prototype: unknown user")

// Method selects how prototypes are derived from embeddings.
type Method string

const (
	// MethodKMeans clusters with spherical k-means (the default).
	MethodKMeans Method = "kmeans"
	// MethodMean replicates the embedding mean K times.
	MethodMean Method = "mean"
	// MethodMedian replicates the coordinate-wise median K times.
	MethodMedian Method = "median"
)

// Config controls prototype construction.
type Config struct {
	// K is the number of prototypes per user. Must be ≥ 1.
	K int `yaml:"prototypes_per_user"`

	// Method selects the construction algorithm.
	Method Method `yaml:"method"`

	// Seed drives the k-means++ initialization.
	Seed uint64 `yaml:"seed"`
}

// DefaultConfig returns two k-means prototypes per user.
func DefaultConfig() Config {
	return Config{K: 2, Method: MethodKMeans, Seed: 42}
}

// Build derives K unit-norm prototypes from a user's enrollment
// embeddings. With fewer embeddings than K, the set is padded with the
// mean embedding.
func Build(embeddings [][]float32, cfg Config) ([][]float32, error) {
	if cfg.K < 1 {
		return nil, fmt.Errorf("prototype: K = %d, want ≥ 1", cfg.K)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("prototype: no embeddings")
	}
	dim := len(embeddings[0])

	var protos [][]float32
	switch {
	case len(embeddings) < cfg.K:
		protos = append(protos, cloneAll(embeddings)...)
		m := mean(embeddings, dim)
		for len(protos) < cfg.K {
			protos = append(protos, clone(m))
		}
	case cfg.Method == MethodMean || cfg.Method == "":
		m := mean(embeddings, dim)
		for i := 0; i < cfg.K; i++ {
			protos = append(protos, clone(m))
		}
	case cfg.Method == MethodMedian:
		m := median(embeddings, dim)
		for i := 0; i < cfg.K; i++ {
			protos = append(protos, clone(m))
		}
	case cfg.Method == MethodKMeans:
		protos = kmeans(embeddings, cfg.K, cfg.Seed)
	default:
		return nil, fmt.Errorf("prototype: unknown method %q", cfg.Method)
	}

	for _, p := range protos {
		if nn.Normalize(p) == 0 {
			return nil, fmt.Errorf("prototype: degenerate zero centroid")
		}
	}
	return protos, nil
}

// kmeans runs spherical k-means with k-means++ seeding. Cosine distance
// over unit vectors is monotone in Euclidean distance, so assignment uses
// maximum dot product and centroids are renormalized means.
func kmeans(embs [][]float32, k int, seed uint64) [][]float32 {
	const (
		maxIter = 100
		tol     = 1e-6
	)
	rng := rand.New(rand.NewPCG(seed, seed^0x51ed2701))

	// k-means++ init: first centroid uniform, then proportional to
	// squared distance from the nearest chosen centroid.
	centroids := make([][]float32, 0, k)
	centroids = append(centroids, clone(embs[rng.IntN(len(embs))]))
	d2 := make([]float64, len(embs))
	for len(centroids) < k {
		var total float64
		for i, e := range embs {
			best := float64(4) // max squared cosine distance on the sphere is 4; 2-2cos ≤ 4
			for _, c := range centroids {
				d := 2 - 2*float64(nn.Dot(e, c))
				if d < best {
					best = d
				}
			}
			if best < 0 {
				best = 0
			}
			d2[i] = best
			total += best
		}
		if total == 0 {
			// All points coincide with a centroid; duplicate one.
			centroids = append(centroids, clone(embs[rng.IntN(len(embs))]))
			continue
		}
		r := rng.Float64() * total
		idx := 0
		for i, d := range d2 {
			r -= d
			if r <= 0 {
				idx = i
				break
			}
		}
		centroids = append(centroids, clone(embs[idx]))
	}
	for _, c := range centroids {
		nn.Normalize(c)
	}

	dim := len(embs[0])
	assign := make([]int, len(embs))
	for iter := 0; iter < maxIter; iter++ {
		for i, e := range embs {
			best, bestSim := 0, float32(-2)
			for ci, c := range centroids {
				if sim := nn.Dot(e, c); sim > bestSim {
					bestSim = sim
					best = ci
				}
			}
			assign[i] = best
		}

		moved := 0.0
		for ci := range centroids {
			sum := make([]float32, dim)
			n := 0
			for i, a := range assign {
				if a != ci {
					continue
				}
				for d := range sum {
					sum[d] += embs[i][d]
				}
				n++
			}
			if n == 0 {
				// Empty cluster: reseed at the farthest point.
				far, farD := 0, -1.0
				for i, e := range embs {
					d := 2 - 2*float64(nn.Dot(e, centroids[ci]))
					if d > farD {
						farD = d
						far = i
					}
				}
				sum = clone(embs[far])
			}
			if nn.Normalize(sum) == 0 {
				continue
			}
			moved += 2 - 2*float64(nn.Dot(sum, centroids[ci]))
			centroids[ci] = sum
		}
		if moved < tol {
			break
		}
	}
	return centroids
}

func clone(v []float32) []float32 {
	cp := make([]float32, len(v))
	copy(cp, v)
	return cp
}

func cloneAll(vs [][]float32) [][]float32 {
	out := make([][]float32, len(vs))
	for i, v := range vs {
		out[i] = clone(v)
	}
	return out
}

func mean(embs [][]float32, dim int) []float32 {
	m := make([]float32, dim)
	for _, e := range embs {
		for d := range m {
			m[d] += e[d]
		}
	}
	inv := 1 / float32(len(embs))
	for d := range m {
		m[d] *= inv
	}
	return m
}

func median(embs [][]float32, dim int) []float32 {
	m := make([]float32, dim)
	col := make([]float64, len(embs))
	for d := 0; d < dim; d++ {
		for i, e := range embs {
			col[i] = float64(e[d])
		}
		sort.Float64s(col)
		n := len(col)
		if n%2 == 1 {
			m[d] = float32(col[n/2])
		} else {
			m[d] = float32((col[n/2-1] + col[n/2]) / 2)
		}
	}
	return m
}

// Table is the read-mostly mapping user → prototype matrix held by the
// serving plane. Lookups are concurrent; writes happen only on enrollment.
type Table struct {
	mu    sync.RWMutex
	dim   int
	users map[string][][]float32
}

// NewTable creates an empty table for embeddings of the given dimension.
func NewTable(dim int) *Table {
	return &Table{dim: dim, users: make(map[string][][]float32)}
}

// Set stores (or replaces) a user's prototype set. Overwrite semantics
// make re-enrollment idempotent.
func (t *Table) Set(userID string, protos [][]float32) error {
	for _, p := range protos {
		if len(p) != t.dim {
			return fmt.Errorf("prototype: dimension %d, table wants %d", len(p), t.dim)
		}
	}
	cp := cloneAll(protos)
	t.mu.Lock()
	t.users[userID] = cp
	t.mu.Unlock()
	return nil
}

// Get returns a user's prototypes. The returned matrix must not be
// modified. Returns ErrUnknownUser for absent users.
func (t *Table) Get(userID string) ([][]float32, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}
	return p, nil
}

// Users returns the enrolled user IDs in unspecified order.
func (t *Table) Users() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.users))
	for u := range t.users {
		out = append(out, u)
	}
	return out
}

// Dim returns the embedding dimension.
func (t *Table) Dim() int { return t.dim }

// Len returns the number of enrolled users.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.users)
}

// Snapshot returns a deep copy of the full table, used by persistence.
func (t *Table) Snapshot() map[string][][]float32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string][][]float32, len(t.users))
	for u, ps := range t.users {
		out[u] = cloneAll(ps)
	}
	return out
}
