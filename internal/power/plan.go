package power

import (
	"fmt"

	"github.com/expstat/expstat/internal/stats"
)

// Request holds the inputs of a planning run. Zero Power and Alpha take the
// package defaults, zero VariantCount means a two-arm test and zero
// DailyVolume skips the duration estimate.
type Request struct {
	BaselineRate float64
	MDE          float64
	Power        float64
	Alpha        float64
	VariantCount int
	DailyVolume  int
}

// Analysis is the planning record stored with an experiment.
type Analysis struct {
	BaselineRate         float64 `json:"baselineRate"`
	MDE                  float64 `json:"mde"`
	RelativeLift         float64 `json:"relativeLift"`
	Power                float64 `json:"power"`
	Alpha                float64 `json:"alpha"`
	VariantCount         int     `json:"variantCount"`
	SampleSizePerVariant int     `json:"sampleSizePerVariant"`
	TotalSampleSize      int     `json:"totalSampleSize"`
	DailyVolume          int     `json:"dailyVolume,omitempty"`
	EstimatedDuration    *int    `json:"estimatedDuration,omitempty"`
}

// Plan computes the sample size for req and, when a daily volume is given,
// the expected duration.
func Plan(req Request) (*Analysis, error) {
	if req.Power == 0 {
		req.Power = DefaultPower
	}
	if req.Alpha == 0 {
		req.Alpha = DefaultAlpha
	}
	if req.VariantCount == 0 {
		req.VariantCount = 2
	}
	if req.VariantCount < 2 {
		return nil, fmt.Errorf("%w: got %d", stats.ErrInsufficientVariants, req.VariantCount)
	}

	n, err := SampleSize(req.BaselineRate, req.MDE, req.Power, req.Alpha)
	if err != nil {
		return nil, err
	}

	a := &Analysis{
		BaselineRate:         req.BaselineRate,
		MDE:                  req.MDE,
		RelativeLift:         req.MDE / req.BaselineRate,
		Power:                req.Power,
		Alpha:                req.Alpha,
		VariantCount:         req.VariantCount,
		SampleSizePerVariant: n,
		TotalSampleSize:      n * req.VariantCount,
	}

	if req.DailyVolume > 0 {
		if err := a.WithDuration(req.DailyVolume); err != nil {
			return nil, err
		}
	}

	return a, nil
}

// WithDuration records dailyVolume and the resulting duration estimate.
func (a *Analysis) WithDuration(dailyVolume int) error {
	days, err := EstimateDuration(a.SampleSizePerVariant, a.VariantCount, dailyVolume)
	if err != nil {
		return err
	}
	a.DailyVolume = dailyVolume
	a.EstimatedDuration = &days
	return nil
}
