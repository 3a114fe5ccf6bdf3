package service

import (
	"context"
	"fmt"

	"github.com/expstat/expstat/internal/bandit"
	"github.com/expstat/expstat/internal/bayesian"
	"github.com/expstat/expstat/internal/experiment"
	"github.com/expstat/expstat/internal/power"
	"github.com/expstat/expstat/internal/sequential"
	"github.com/expstat/expstat/internal/stats"
)

// PlanPower runs a power analysis. With an experiment reference the result
// is stored on that experiment and VariantCount defaults to its variants.
func (s *Service) PlanPower(ctx context.Context, experimentRef string, req power.Request) (*power.Analysis, error) {
	var e *experiment.Experiment
	if experimentRef != "" {
		var err error
		if e, err = s.repo.GetExperiment(ctx, experimentRef); err != nil {
			return nil, err
		}
		if req.VariantCount == 0 {
			req.VariantCount = len(e.Variants)
		}
	}

	a, err := power.Plan(req)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return a, nil
	}

	if err := s.repo.SavePowerAnalysis(ctx, e.ID, a); err != nil {
		return nil, fmt.Errorf("failed to save power analysis: %w", err)
	}
	s.log.Info().
		Str("experiment_id", e.ID).
		Int("sample_size_per_variant", a.SampleSizePerVariant).
		Int("total_sample_size", a.TotalSampleSize).
		Msg("power analysis saved")
	return a, nil
}

// EstimateDuration adds a duration estimate to an experiment's stored
// power analysis.
func (s *Service) EstimateDuration(ctx context.Context, experimentRef string, dailyVolume int) (*power.Analysis, error) {
	e, err := s.repo.GetExperiment(ctx, experimentRef)
	if err != nil {
		return nil, err
	}
	if e.Power == nil {
		return nil, fmt.Errorf("power analysis for %s: %w", e.Name, experiment.ErrNotFound)
	}

	a := *e.Power
	if err := a.WithDuration(dailyVolume); err != nil {
		return nil, err
	}
	if err := s.repo.SavePowerAnalysis(ctx, e.ID, &a); err != nil {
		return nil, fmt.Errorf("failed to save power analysis: %w", err)
	}
	return &a, nil
}

// FrequentistReport runs the fixed-horizon z test over the variant counts.
func (s *Service) FrequentistReport(ctx context.Context, experimentRef string) (*stats.Result, error) {
	e, err := s.repo.GetExperiment(ctx, experimentRef)
	if err != nil {
		return nil, err
	}
	return stats.Analyze(e.Counts())
}

// Report is the mode-specific analysis of an experiment. Exactly one of
// the mode fields is set.
type Report struct {
	Experiment  *experiment.Experiment `json:"experiment"`
	Bayesian    *bayesian.Report       `json:"bayesian,omitempty"`
	Sequential  *sequential.Report     `json:"sequential,omitempty"`
	Bandit      *bandit.Report         `json:"bandit,omitempty"`
	Frequentist *stats.Result          `json:"frequentist,omitempty"`
}

// Results dispatches to the report of the experiment's mode.
func (s *Service) Results(ctx context.Context, experimentRef string) (*Report, error) {
	e, err := s.repo.GetExperiment(ctx, experimentRef)
	if err != nil {
		return nil, err
	}

	r := &Report{}
	switch e.Mode() {
	case experiment.ModeBayesian:
		r.Bayesian, err = s.BayesianReport(ctx, e.ID, bayesian.Options{})
	case experiment.ModeSequential:
		r.Sequential, err = s.SequentialReport(ctx, e.ID)
	case experiment.ModeBandit:
		r.Bandit, err = s.BanditResults(ctx, e.ID)
	case experiment.ModeFrequentist:
		r.Frequentist, err = s.FrequentistReport(ctx, e.ID)
	}
	if err != nil {
		return nil, err
	}

	// Reload so Bayesian figures written by the analysis are included.
	if r.Experiment, err = s.repo.GetExperiment(ctx, e.ID); err != nil {
		return nil, err
	}
	return r, nil
}
