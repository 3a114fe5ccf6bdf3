package service

import (
	"context"
	"fmt"

	"github.com/expstat/expstat/internal/bandit"
	"github.com/expstat/expstat/internal/bayesian"
	"github.com/expstat/expstat/internal/experiment"
	"github.com/expstat/expstat/internal/sequential"
)

// Recorded is what an assignment or outcome changed.
type Recorded struct {
	Variant experiment.Variant `json:"variant"`
	// Interim is set when an assignment triggered a sequential check.
	Interim *sequential.Result `json:"interim,omitempty"`
	// Bandit is set for bandit outcomes.
	Bandit *bandit.Update `json:"bandit,omitempty"`
}

// RecordAssignment counts one assignment of variantRef. On a bandit it is
// a pull of that arm chosen outside SelectArm; on a sequential experiment
// it may trigger the next interim check.
func (s *Service) RecordAssignment(ctx context.Context, experimentRef, variantRef string) (*Recorded, error) {
	e, v, err := s.resolve(ctx, experimentRef, variantRef)
	if err != nil {
		return nil, err
	}

	if e.Mode() == experiment.ModeBandit {
		return s.pullArm(ctx, e.ID, v.ID)
	}

	unlock := s.locks.Lock(lockKey(e, v.ID))
	err = s.repo.IncrementCounts(ctx, e.ID, v.ID, 1, 0)
	unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to record assignment: %w", err)
	}

	rec := &Recorded{}
	if e.Mode() == experiment.ModeSequential {
		if rec.Interim, err = s.AutoCheckIfNeeded(ctx, e.ID); err != nil {
			return nil, err
		}
	}
	if rec.Variant, err = s.reloadVariant(ctx, e.ID, v.ID); err != nil {
		return nil, err
	}
	return rec, nil
}

// RecordOutcome applies one resolved assignment. Callers deliver each
// outcome at most once; Bayesian posteriors in particular are not
// idempotent.
func (s *Service) RecordOutcome(ctx context.Context, ev experiment.Event) (*Recorded, error) {
	e, v, err := s.resolve(ctx, ev.ExperimentID, ev.VariantID)
	if err != nil {
		return nil, err
	}

	switch e.Mode() {
	case experiment.ModeBayesian:
		return s.updatePosterior(ctx, e.ID, v.ID, ev.Outcome == experiment.Success)
	case experiment.ModeBandit:
		return s.UpdateReward(ctx, e.ID, v.ID, ev.Outcome.Reward())
	}

	unlock := s.locks.Lock(lockKey(e, v.ID))
	err = s.repo.IncrementCounts(ctx, e.ID, v.ID, 0, ev.Outcome.Reward())
	unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to record outcome: %w", err)
	}

	s.log.Debug().
		Str("experiment_id", e.ID).
		Str("variant_id", v.ID).
		Str("outcome", string(ev.Outcome)).
		Msg("outcome recorded")

	rec := &Recorded{}
	if rec.Variant, err = s.reloadVariant(ctx, e.ID, v.ID); err != nil {
		return nil, err
	}
	return rec, nil
}

// updatePosterior is the single mutation path of Bayesian state. A
// conversion also counts towards the variant's conversions.
func (s *Service) updatePosterior(ctx context.Context, experimentID, variantID string, success bool) (*Recorded, error) {
	unlock := s.locks.Lock(experimentID + "/" + variantID)
	defer unlock()

	e, err := s.repo.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	v, err := e.Variant(variantID)
	if err != nil {
		return nil, err
	}
	st, ok := v.State.(experiment.BayesianState)
	if !ok {
		return nil, fmt.Errorf("%w: variant %s has no posterior", experiment.ErrModeMismatch, v.Label)
	}

	st.Posterior = bayesian.UpdatePosterior(st.Posterior, success)
	v.State = st
	if success {
		v.Conversions++
	}
	if err := s.repo.SaveVariants(ctx, e.ID, []experiment.Variant{*v}); err != nil {
		return nil, fmt.Errorf("failed to save posterior: %w", err)
	}

	s.log.Debug().
		Str("experiment_id", e.ID).
		Str("variant_id", v.ID).
		Bool("success", success).
		Float64("alpha", st.AlphaPost).
		Float64("beta", st.BetaPost).
		Msg("posterior updated")
	return &Recorded{Variant: *v}, nil
}

// resolve loads the experiment and finds the variant by ID or label.
func (s *Service) resolve(ctx context.Context, experimentRef, variantRef string) (*experiment.Experiment, *experiment.Variant, error) {
	e, err := s.repo.GetExperiment(ctx, experimentRef)
	if err != nil {
		return nil, nil, err
	}
	v, err := e.Variant(variantRef)
	if err != nil {
		return nil, nil, err
	}
	return e, v, nil
}

func (s *Service) reloadVariant(ctx context.Context, experimentID, variantID string) (experiment.Variant, error) {
	e, err := s.repo.GetExperiment(ctx, experimentID)
	if err != nil {
		return experiment.Variant{}, err
	}
	v, err := e.Variant(variantID)
	if err != nil {
		return experiment.Variant{}, err
	}
	return *v, nil
}
