package train

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/neuralock/neuralock/pkg/eeg"
	"github.com/neuralock/neuralock/pkg/eeg/window"
)

// Sample is one labeled training window.
type Sample struct {
	Window  window.Window
	UserIdx int
}

// Dataset is a windowed, labeled view over processed trials.
type Dataset struct {
	Samples []Sample

	// Users maps class index to user ID, sorted for determinism.
	Users []string

	// byUser indexes sample positions per class, for mixup partner
	// lookups.
	byUser map[int][]int
}

// BuildDataset windows every trial and labels windows by user. Trials
// shorter than one window are skipped.
func BuildDataset(trialsByUser map[string][]*eeg.ProcessedTrial, winCfg window.Config) (*Dataset, error) {
	users := make([]string, 0, len(trialsByUser))
	for u := range trialsByUser {
		users = append(users, u)
	}
	sort.Strings(users)

	ds := &Dataset{Users: users, byUser: make(map[int][]int)}
	for idx, u := range users {
		for _, trial := range trialsByUser[u] {
			wins, err := window.Slide(trial, winCfg)
			if err != nil {
				continue // too-short trials contribute nothing
			}
			for _, w := range wins {
				ds.byUser[idx] = append(ds.byUser[idx], len(ds.Samples))
				ds.Samples = append(ds.Samples, Sample{Window: w, UserIdx: idx})
			}
		}
	}
	if len(ds.Samples) == 0 {
		return nil, fmt.Errorf("train: no usable windows in dataset")
	}
	return ds, nil
}

// NumUsers returns the class count.
func (ds *Dataset) NumUsers() int { return len(ds.Users) }

// SameUserPeer returns a random other window of the same user, or the
// sample itself when the user has only one window.
func (ds *Dataset) SameUserPeer(i int, rng *rand.Rand) Sample {
	peers := ds.byUser[ds.Samples[i].UserIdx]
	if len(peers) < 2 {
		return ds.Samples[i]
	}
	for {
		j := peers[rng.IntN(len(peers))]
		if j != i {
			return ds.Samples[j]
		}
	}
}

// Split shuffles the sample indices with a fixed seed and cuts them into
// train, validation, and test partitions. The split is window-level, not
// subject-disjoint: the same subject's windows appear in all three
// partitions, which measures within-subject generalization and flatters
// accuracy relative to a between-session protocol.
func (ds *Dataset) Split(trainFrac, valFrac float64, seed uint64) (train, val, test []int) {
	rng := rand.New(rand.NewPCG(seed, seed^0xc0ffee))
	idx := rng.Perm(len(ds.Samples))
	nTrain := int(float64(len(idx)) * trainFrac)
	nVal := int(float64(len(idx)) * valFrac)
	return idx[:nTrain], idx[nTrain : nTrain+nVal], idx[nTrain+nVal:]
}
