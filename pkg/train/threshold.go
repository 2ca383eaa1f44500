package train

import (
	"fmt"
	"math"
	"sort"
)

// CriterionEER names the equal-error-rate operating criterion.
const CriterionEER = "equal_error_rate"

// EERThreshold sweeps candidate thresholds over the observed calibrated
// probabilities and returns the operating point where the false-accept
// and false-reject rates are closest, together with the achieved EER.
func EERThreshold(genuine, impostor []float64) (tau, eer float64, err error) {
	if len(genuine) == 0 || len(impostor) == 0 {
		return 0, 0, fmt.Errorf("train: need both genuine and impostor probabilities")
	}

	candidates := make([]float64, 0, len(genuine)+len(impostor))
	candidates = append(candidates, genuine...)
	candidates = append(candidates, impostor...)
	sort.Float64s(candidates)

	bestGap := math.Inf(1)
	for _, t := range candidates {
		far := rateAtOrAbove(impostor, t)
		frr := 1 - rateAtOrAbove(genuine, t)
		if gap := math.Abs(far - frr); gap < bestGap {
			bestGap = gap
			tau = t
			eer = (far + frr) / 2
		}
	}
	return tau, eer, nil
}

// rateAtOrAbove returns the fraction of xs that are ≥ t.
func rateAtOrAbove(xs []float64, t float64) float64 {
	n := 0
	for _, x := range xs {
		if x >= t {
			n++
		}
	}
	return float64(n) / float64(len(xs))
}

