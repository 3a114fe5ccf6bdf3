package stats

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// BetaSample draws one value from Beta(alpha, beta) using src. The result
// always lies in the open interval (0, 1).
func BetaSample(src rand.Source, alpha, beta float64) (float64, error) {
	if err := ValidateBeta(alpha, beta); err != nil {
		return 0, err
	}
	return betaDraw(distuv.Beta{Alpha: alpha, Beta: beta, Src: src}), nil
}

// BetaSampler returns a draw function bound to src for callers that sample
// the same parameters many times. Parameters must already be validated.
func BetaSampler(src rand.Source, alpha, beta float64) func() float64 {
	d := distuv.Beta{Alpha: alpha, Beta: beta, Src: src}
	return func() float64 { return betaDraw(d) }
}

func betaDraw(d distuv.Beta) float64 {
	x := d.Rand()
	// Both gamma draws underflow to 0 for tiny shapes
	if math.IsNaN(x) {
		return d.Alpha / (d.Alpha + d.Beta)
	}
	// Gamma ratios can round to the closed endpoints for extreme shapes
	if x <= 0 {
		return math.SmallestNonzeroFloat64
	}
	if x >= 1 {
		return math.Nextafter(1, 0)
	}
	return x
}

// ValidateBeta rejects non-positive or non-finite Beta shape parameters.
func ValidateBeta(alpha, beta float64) error {
	if !(alpha > 0) || !(beta > 0) || math.IsInf(alpha, 0) || math.IsInf(beta, 0) {
		return fmt.Errorf("%w: alpha=%v beta=%v must both be > 0", ErrInvalidPrior, alpha, beta)
	}
	return nil
}

// UpdatePosterior applies one Beta-Binomial conjugate update: a success adds
// one to alpha, a failure adds one to beta.
func UpdatePosterior(alpha, beta float64, success bool) (float64, float64) {
	if success {
		return alpha + 1, beta
	}
	return alpha, beta + 1
}

// CalculatePosterior folds aggregate successes and failures into a prior.
func CalculatePosterior(successes, failures int, alphaPrior, betaPrior float64) (alphaPost, betaPost float64, err error) {
	if err := ValidateBeta(alphaPrior, betaPrior); err != nil {
		return 0, 0, err
	}
	if successes < 0 || failures < 0 {
		return 0, 0, fmt.Errorf("%w: negative counts (successes=%d, failures=%d)", ErrInvalidRange, successes, failures)
	}
	return alphaPrior + float64(successes), betaPrior + float64(failures), nil
}
