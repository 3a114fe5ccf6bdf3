// Package sequential implements group-sequential testing: a plan of evenly
// spaced interim checks, O'Brien-Fleming stopping boundaries with
// Lan-DeMets alpha spending, and the decision rule applied at each check.
//
// The boundaries use the simplified form z_{1-alpha/2} * sqrt(K/k) rather
// than the recursive numerical integration of the textbook design. Stored
// decisions were made with these numbers, so keep them.
package sequential

import (
	"fmt"
	"math"

	"github.com/expstat/expstat/internal/stats"
)

// Bounds are the z thresholds of one interim check.
type Bounds struct {
	Upper float64 `json:"upper"`
	Lower float64 `json:"lower"`
}

// OBrienFlemingBounds returns the symmetric boundary for check checkNumber
// of totalChecks. It is widest at the first look and equals the
// fixed-sample critical value at the last.
func OBrienFlemingBounds(checkNumber, totalChecks int, alpha float64) (Bounds, error) {
	if totalChecks < 1 || checkNumber < 1 || checkNumber > totalChecks {
		return Bounds{}, fmt.Errorf("%w: check %d of %d", stats.ErrInvalidRange, checkNumber, totalChecks)
	}
	z, err := stats.TwoSidedCritical(alpha)
	if err != nil {
		return Bounds{}, err
	}

	upper := z * math.Sqrt(float64(totalChecks)/float64(checkNumber))
	return Bounds{Upper: upper, Lower: -upper}, nil
}

// AlphaSpent is the cumulative type I error spent once fraction of the
// planned information has been observed, using the O'Brien-Fleming-type
// spending function 2 - 2*Phi(z_{1-alpha/2} / sqrt(t)).
func AlphaSpent(fraction, alpha float64) (float64, error) {
	if !(fraction > 0 && fraction <= 1) {
		return 0, fmt.Errorf("%w: information fraction %v must be in (0, 1]", stats.ErrInvalidRange, fraction)
	}
	z, err := stats.TwoSidedCritical(alpha)
	if err != nil {
		return 0, err
	}
	spent := 2 - 2*stats.NormalCDF(z/math.Sqrt(fraction))
	return math.Max(0, math.Min(alpha, spent)), nil
}

// InformationFraction is currentN over plannedN, clamped to [0, 1].
func InformationFraction(currentN, plannedN int) float64 {
	if plannedN <= 0 || currentN <= 0 {
		return 0
	}
	f := float64(currentN) / float64(plannedN)
	if f > 1 {
		return 1
	}
	return f
}

// ShouldStop applies the decision rule to one z statistic.
func ShouldStop(z, upper, lower float64) Decision {
	switch {
	case z >= upper:
		return StopWinner
	case z <= lower:
		return StopFutile
	default:
		return Continue
	}
}
