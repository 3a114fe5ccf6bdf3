// Package power sizes experiments before they start: required sample size,
// achieved power, minimum detectable effect and expected duration for a
// two-proportion test under the normal approximation.
//
// The minimum detectable effect is absolute: a baseline of 0.10 with an MDE
// of 0.02 plans to detect a move to 0.12.
package power

import (
	"fmt"
	"math"

	"github.com/expstat/expstat/internal/stats"
)

const (
	DefaultPower = 0.80
	DefaultAlpha = 0.05
)

// CurveSampleSizes are the per-variant sample sizes evaluated by Curve.
var CurveSampleSizes = []int{100, 250, 500, 1000, 2500, 5000, 10000, 25000, 50000, 100000}

// CurvePoint is one point of a power curve.
type CurvePoint struct {
	SampleSize int     `json:"sampleSize"`
	Power      float64 `json:"power"`
}

// SampleSize returns the per-variant sample size needed to detect an
// absolute lift of mde over baselineRate with the given power at two-sided
// significance alpha.
func SampleSize(baselineRate, mde, power, alpha float64) (int, error) {
	if err := checkRates(baselineRate, mde); err != nil {
		return 0, err
	}
	if err := checkUnit("power", power); err != nil {
		return 0, err
	}
	zAlpha, err := stats.TwoSidedCritical(alpha)
	if err != nil {
		return 0, err
	}
	zBeta, err := stats.NormalQuantile(power)
	if err != nil {
		return 0, err
	}

	null, alt := spreads(baselineRate, mde)
	n := math.Pow(zAlpha*null+zBeta*alt, 2) / (mde * mde)

	return int(math.Ceil(n)), nil
}

// Power returns the probability that a test with n assignments per variant
// detects an absolute lift of mde over baselineRate at significance alpha.
// The result is kept strictly inside (0, 1).
func Power(n int, baselineRate, mde, alpha float64) (float64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: sample size %d must be positive", stats.ErrInvalidRange, n)
	}
	if err := checkRates(baselineRate, mde); err != nil {
		return 0, err
	}
	zAlpha, err := stats.TwoSidedCritical(alpha)
	if err != nil {
		return 0, err
	}

	return achieved(n, baselineRate, mde, zAlpha), nil
}

// MDE returns the smallest absolute lift over baselineRate that n
// assignments per variant detect with the requested power. It inverts
// SampleSize by bisection; when even the largest representable lift falls
// short, that largest lift is returned.
func MDE(n int, baselineRate, power, alpha float64) (float64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: sample size %d must be positive", stats.ErrInvalidRange, n)
	}
	if err := checkUnit("baseline rate", baselineRate); err != nil {
		return 0, err
	}
	if err := checkUnit("power", power); err != nil {
		return 0, err
	}
	zAlpha, err := stats.TwoSidedCritical(alpha)
	if err != nil {
		return 0, err
	}

	lo, hi := 0.0, math.Nextafter(1-baselineRate, 0)
	if achieved(n, baselineRate, hi, zAlpha) < power {
		return hi, nil
	}

	for i := 0; i < 100 && hi-lo > 1e-10; i++ {
		mid := (lo + hi) / 2
		if achieved(n, baselineRate, mid, zAlpha) >= power {
			hi = mid
		} else {
			lo = mid
		}
	}

	return hi, nil
}

// Curve evaluates Power over CurveSampleSizes, in ascending order.
func Curve(baselineRate, mde, alpha float64) ([]CurvePoint, error) {
	points := make([]CurvePoint, 0, len(CurveSampleSizes))
	for _, n := range CurveSampleSizes {
		p, err := Power(n, baselineRate, mde, alpha)
		if err != nil {
			return nil, err
		}
		points = append(points, CurvePoint{SampleSize: n, Power: p})
	}
	return points, nil
}

// EstimateDuration returns the number of days needed to collect
// sampleSizePerVariant for every variant at dailyVolume assignments per day,
// rounded up and never less than one day.
func EstimateDuration(sampleSizePerVariant, variantCount, dailyVolume int) (int, error) {
	if sampleSizePerVariant <= 0 || variantCount <= 0 || dailyVolume <= 0 {
		return 0, fmt.Errorf("%w: sample size (%d), variant count (%d) and daily volume (%d) must be positive",
			stats.ErrInvalidRange, sampleSizePerVariant, variantCount, dailyVolume)
	}

	total := sampleSizePerVariant * variantCount
	days := (total + dailyVolume - 1) / dailyVolume
	if days < 1 {
		days = 1
	}
	return days, nil
}

func achieved(n int, baselineRate, mde, zAlpha float64) float64 {
	null, alt := spreads(baselineRate, mde)
	z := (mde*math.Sqrt(float64(n)) - zAlpha*null) / alt
	p := stats.NormalCDF(z)

	switch {
	case p <= 0:
		return math.SmallestNonzeroFloat64
	case p >= 1:
		return math.Nextafter(1, 0)
	}
	return p
}

// spreads returns the standard deviations of the rate difference under the
// null (pooled) and alternative hypotheses, per unit sample.
func spreads(baselineRate, mde float64) (null, alt float64) {
	p1 := baselineRate
	p2 := baselineRate + mde
	pBar := (p1 + p2) / 2

	null = math.Sqrt(2 * pBar * (1 - pBar))
	alt = math.Sqrt(p1*(1-p1) + p2*(1-p2))
	return null, alt
}

func checkRates(baselineRate, mde float64) error {
	if err := checkUnit("baseline rate", baselineRate); err != nil {
		return err
	}
	if err := checkUnit("mde", mde); err != nil {
		return err
	}
	if baselineRate+mde >= 1 {
		return fmt.Errorf("%w: baseline rate %v plus mde %v must stay below 1", stats.ErrInvalidRange, baselineRate, mde)
	}
	return nil
}

func checkUnit(name string, v float64) error {
	if !(v > 0 && v < 1) {
		return fmt.Errorf("%w: %s %v must be in (0, 1)", stats.ErrInvalidRange, name, v)
	}
	return nil
}
