package stats

import (
	"fmt"
	"math"
)

// Counts is the aggregate a caller supplies for one variant.
type Counts struct {
	VariantID   string
	Label       string
	Assignments int
	Conversions int
}

// Rate returns the conversion rate, 0 when nothing was assigned.
func (c Counts) Rate() float64 {
	if c.Assignments == 0 {
		return 0
	}
	return float64(c.Conversions) / float64(c.Assignments)
}

// Result represents the frequentist analysis of an experiment
type Result struct {
	Variants        []VariantResult `json:"variants"`
	Confident       bool            `json:"confident"`        // >= 95% confidence
	ConfidenceLevel float64         `json:"confidence_level"` // 0-1
	ZStatistic      float64         `json:"z_statistic"`
	LeadingVariant  int             `json:"leading_variant"`
}

// VariantResult contains statistics for a single variant
type VariantResult struct {
	Index       int     `json:"index"`
	VariantID   string  `json:"variant_id"`
	Label       string  `json:"label"`
	Assignments int     `json:"assignments"`
	Conversions int     `json:"conversions"`
	Rate        float64 `json:"rate"`
	CILower     float64 `json:"ci_lower"`
	CIUpper     float64 `json:"ci_upper"`
}

// ZStatistic computes the pooled-variance two-proportion z statistic for
// rate p1 over n1 trials against rate p2 over n2 trials. The sign is positive
// when sample 1 outperforms sample 2.
func ZStatistic(p1 float64, n1 int, p2 float64, n2 int) (float64, error) {
	if n1 <= 0 || n2 <= 0 {
		return 0, fmt.Errorf("%w: z statistic needs both samples non-empty (n1=%d, n2=%d)", ErrInsufficientData, n1, n2)
	}
	if p1 < 0 || p1 > 1 || p2 < 0 || p2 > 1 {
		return 0, fmt.Errorf("%w: rates must be in [0, 1] (p1=%v, p2=%v)", ErrInvalidRange, p1, p2)
	}

	fn1, fn2 := float64(n1), float64(n2)
	pooled := (p1*fn1 + p2*fn2) / (fn1 + fn2)
	se := math.Sqrt(pooled * (1 - pooled) * (1/fn1 + 1/fn2))

	// Zero variance means both samples are all-success or all-failure
	if se == 0 || p1 == p2 {
		return 0, nil
	}

	return (p1 - p2) / se, nil
}

// SignificanceTest performs a two-proportion z-test.
// Returns confidence level (0-1) that variant A beats variant B.
func SignificanceTest(aConv, aViews, bConv, bViews int) float64 {
	// Need data from both variants
	if aViews == 0 || bViews == 0 {
		return 0.5
	}

	pA := float64(aConv) / float64(aViews)
	pB := float64(bConv) / float64(bViews)

	z, err := ZStatistic(pA, aViews, pB, bViews)
	if err != nil {
		return 0.5
	}

	// P(Z < z) gives us confidence that A > B
	return NormalCDF(z)
}

// Analyze runs the fixed-horizon frequentist analysis: per-variant rates with
// Wilson intervals, and a z test of the leading variant against the control
// (index 0), or of the control against the best challenger when it leads.
func Analyze(counts []Counts) (*Result, error) {
	if len(counts) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrInsufficientVariants, len(counts))
	}

	variants := make([]VariantResult, len(counts))
	maxRate := 0.0
	leadingVariant := 0

	for i, c := range counts {
		if c.Assignments < 0 || c.Conversions < 0 || c.Conversions > c.Assignments {
			return nil, fmt.Errorf("%w: variant %q has %d conversions for %d assignments",
				ErrInvalidRange, c.Label, c.Conversions, c.Assignments)
		}
		ciLower, ciUpper := WilsonInterval(c.Conversions, c.Assignments, 0.95)

		variants[i] = VariantResult{
			Index:       i,
			VariantID:   c.VariantID,
			Label:       c.Label,
			Assignments: c.Assignments,
			Conversions: c.Conversions,
			Rate:        c.Rate(),
			CILower:     ciLower,
			CIUpper:     ciUpper,
		}

		if variants[i].Rate > maxRate {
			maxRate = variants[i].Rate
			leadingVariant = i
		}
	}

	opponent := 0
	if leadingVariant == 0 {
		// Control is leading, compare against best challenger
		opponent = 1
		bestRate := 0.0
		for i := 1; i < len(variants); i++ {
			if variants[i].Rate > bestRate {
				bestRate = variants[i].Rate
				opponent = i
			}
		}
	}

	leader, other := variants[leadingVariant], variants[opponent]
	confidence := SignificanceTest(leader.Conversions, leader.Assignments, other.Conversions, other.Assignments)

	var z float64
	if leader.Assignments > 0 && other.Assignments > 0 {
		var err error
		if z, err = ZStatistic(leader.Rate, leader.Assignments, other.Rate, other.Assignments); err != nil {
			return nil, err
		}
	}

	return &Result{
		Variants:        variants,
		Confident:       confidence >= 0.95,
		ConfidenceLevel: confidence,
		ZStatistic:      z,
		LeadingVariant:  leadingVariant,
	}, nil
}
