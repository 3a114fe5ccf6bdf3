package service

import (
	"context"
	"fmt"

	"github.com/expstat/expstat/internal/bayesian"
	"github.com/expstat/expstat/internal/experiment"
)

func posteriorsOf(e *experiment.Experiment) ([]bayesian.Posterior, error) {
	if err := requireMode(e, experiment.ModeBayesian); err != nil {
		return nil, err
	}
	out := make([]bayesian.Posterior, len(e.Variants))
	for i, v := range e.Variants {
		st, ok := v.State.(experiment.BayesianState)
		if !ok {
			return nil, fmt.Errorf("%w: variant %s has no posterior", experiment.ErrModeMismatch, v.Label)
		}
		out[i] = st.Posterior
	}
	return out, nil
}

// BayesianReport runs the Monte Carlo analysis on the current posteriors
// and stores each variant's probability of being best, credible interval
// and expected loss alongside its posterior.
func (s *Service) BayesianReport(ctx context.Context, experimentRef string, opts bayesian.Options) (*bayesian.Report, error) {
	e, err := s.repo.GetExperiment(ctx, experimentRef)
	if err != nil {
		return nil, err
	}
	posteriors, err := posteriorsOf(e)
	if err != nil {
		return nil, err
	}
	if opts.Samples == 0 {
		opts.Samples = s.samples
	}

	report, err := s.engine.Analyze(posteriors, opts)
	if err != nil {
		return nil, err
	}
	for _, vr := range report.Variants {
		if err := s.saveFigures(ctx, e.ID, vr); err != nil {
			return nil, err
		}
	}

	s.log.Info().
		Str("experiment_id", e.ID).
		Str("decision", string(report.Recommendation.Decision)).
		Str("variant_id", report.Recommendation.VariantID).
		Float64("confidence", report.Recommendation.Confidence).
		Msg("bayesian analysis")
	return report, nil
}

// saveFigures re-reads the variant under its lock so a posterior updated
// since the analysis started is not overwritten.
func (s *Service) saveFigures(ctx context.Context, experimentID string, vr bayesian.VariantReport) error {
	unlock := s.locks.Lock(experimentID + "/" + vr.VariantID)
	defer unlock()

	state, err := s.repo.GetVariantState(ctx, experimentID, vr.VariantID)
	if err != nil {
		return err
	}
	st, ok := state.(experiment.BayesianState)
	if !ok {
		return fmt.Errorf("%w: variant %s has no posterior", experiment.ErrModeMismatch, vr.VariantID)
	}
	interval := vr.CredibleInterval
	st.ProbabilityBest = vr.ProbabilityBest
	st.CredibleInterval = &interval
	st.ExpectedLoss = vr.ExpectedLoss
	if err := s.repo.SaveVariantState(ctx, experimentID, vr.VariantID, st); err != nil {
		return fmt.Errorf("failed to save bayesian figures: %w", err)
	}
	return nil
}

// ShouldStop applies the Bayesian stopping rule. Zero threshold and
// minSampleSize take the package defaults.
func (s *Service) ShouldStop(ctx context.Context, experimentRef string, threshold float64, minSampleSize int) (*bayesian.StopDecision, error) {
	e, err := s.repo.GetExperiment(ctx, experimentRef)
	if err != nil {
		return nil, err
	}
	posteriors, err := posteriorsOf(e)
	if err != nil {
		return nil, err
	}
	if threshold == 0 {
		threshold = bayesian.DefaultWinnerThreshold
	}
	if minSampleSize == 0 {
		minSampleSize = bayesian.DefaultMinSampleSize
	}

	d, err := s.engine.ShouldStop(posteriors, threshold, minSampleSize, s.samples)
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("experiment_id", e.ID).
		Bool("should_stop", d.ShouldStop).
		Str("winner_id", d.WinnerID).
		Str("reason", d.Reason).
		Msg("stopping rule evaluated")
	return d, nil
}
