package service

import (
	"context"
	"fmt"

	"github.com/expstat/expstat/internal/bandit"
	"github.com/expstat/expstat/internal/experiment"
)

// armsOf extracts the arms of a bandit experiment in variant order.
func armsOf(e *experiment.Experiment) (experiment.Bandit, []bandit.Arm, error) {
	cfg, ok := e.Analysis.(experiment.Bandit)
	if !ok {
		return experiment.Bandit{}, nil, requireMode(e, experiment.ModeBandit)
	}
	arms := make([]bandit.Arm, len(e.Variants))
	for i, v := range e.Variants {
		st, ok := v.State.(experiment.BanditState)
		if !ok {
			return cfg, nil, fmt.Errorf("%w: variant %s has no arm", experiment.ErrModeMismatch, v.Label)
		}
		arms[i] = st.Arm
	}
	return cfg, arms, nil
}

// withArms runs fn on the current arms of a bandit experiment under the
// experiment lock and saves every arm afterwards. Variant counts mirror the
// arms: assignments are pulls, conversions are successes.
func (s *Service) withArms(ctx context.Context, experimentID string, fn func(e *experiment.Experiment, cfg experiment.Bandit, arms []bandit.Arm) error) (*experiment.Experiment, error) {
	unlock := s.locks.Lock(experimentID)
	defer unlock()

	e, err := s.repo.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	cfg, arms, err := armsOf(e)
	if err != nil {
		return nil, err
	}
	if err := fn(e, cfg, arms); err != nil {
		return nil, err
	}

	for i := range e.Variants {
		e.Variants[i].State = experiment.BanditState{Arm: arms[i]}
		e.Variants[i].Assignments = arms[i].Pulls
		e.Variants[i].Conversions = arms[i].Successes
	}
	if err := s.repo.SaveVariants(ctx, e.ID, e.Variants); err != nil {
		return nil, fmt.Errorf("failed to save arms: %w", err)
	}
	return e, nil
}

// SelectArm picks the next arm with the experiment's algorithm and counts
// the pull.
func (s *Service) SelectArm(ctx context.Context, experimentRef string) (*experiment.Variant, error) {
	e, err := s.repo.GetExperiment(ctx, experimentRef)
	if err != nil {
		return nil, err
	}
	if err := requireMode(e, experiment.ModeBandit); err != nil {
		return nil, err
	}

	var chosen int
	e, err = s.withArms(ctx, e.ID, func(_ *experiment.Experiment, cfg experiment.Bandit, arms []bandit.Arm) error {
		var err error
		chosen, err = s.selector.Select(arms, cfg.Algorithm, cfg.Epsilon)
		return err
	})
	if err != nil {
		return nil, err
	}

	v := e.Variants[chosen]
	s.log.Debug().
		Str("experiment_id", e.ID).
		Str("variant_id", v.ID).
		Str("algorithm", string(e.Analysis.(experiment.Bandit).Algorithm)).
		Msg("arm selected")
	return &v, nil
}

// pullArm counts a pull on a specific arm.
func (s *Service) pullArm(ctx context.Context, experimentID, variantID string) (*Recorded, error) {
	var rec Recorded
	e, err := s.withArms(ctx, experimentID, func(e *experiment.Experiment, _ experiment.Bandit, arms []bandit.Arm) error {
		for i := range arms {
			if arms[i].VariantID == variantID {
				arms[i].Pulls++
				return nil
			}
		}
		return fmt.Errorf("arm %q: %w", variantID, experiment.ErrNotFound)
	})
	if err != nil {
		return nil, err
	}
	v, _ := e.Variant(variantID)
	rec.Variant = *v
	return &rec, nil
}

// UpdateReward records a 0/1 reward for an arm, persisting any
// reallocation and regret snapshot it produces.
func (s *Service) UpdateReward(ctx context.Context, experimentRef, variantRef string, reward int) (*Recorded, error) {
	e, v, err := s.resolve(ctx, experimentRef, variantRef)
	if err != nil {
		return nil, err
	}
	if err := requireMode(e, experiment.ModeBandit); err != nil {
		return nil, err
	}

	var u *bandit.Update
	e, err = s.withArms(ctx, e.ID, func(_ *experiment.Experiment, _ experiment.Bandit, arms []bandit.Arm) error {
		var err error
		u, err = bandit.UpdateReward(arms, v.ID, reward)
		return err
	})
	if err != nil {
		return nil, err
	}

	log := s.log.With().Str("experiment_id", e.ID).Logger()
	if u.Reallocated {
		ev := log.Info().Int("resolved_pulls", u.ResolvedPulls)
		for _, variant := range e.Variants {
			ev = ev.Float64(variant.Label, variant.State.(experiment.BanditState).CurrentAllocation)
		}
		ev.Msg("traffic reallocated")
	}
	if u.Regret != nil {
		// Saved outside the arm transaction; the upsert by pull count makes a
		// retry after a crash here harmless.
		if err := s.repo.SaveRegretSnapshot(ctx, e.ID, *u.Regret); err != nil {
			return nil, fmt.Errorf("failed to save regret snapshot: %w", err)
		}
		log.Info().
			Int("total_pulls", u.Regret.TotalPulls).
			Float64("regret", u.Regret.Regret).
			Msg("regret snapshot")
	}

	updated, _ := e.Variant(v.ID)
	return &Recorded{Variant: *updated, Bandit: u}, nil
}

// BanditResults builds the bandit report from the stored arms and regret
// history.
func (s *Service) BanditResults(ctx context.Context, experimentRef string) (*bandit.Report, error) {
	e, err := s.repo.GetExperiment(ctx, experimentRef)
	if err != nil {
		return nil, err
	}
	cfg, arms, err := armsOf(e)
	if err != nil {
		return nil, err
	}
	history, err := s.repo.ListRegretSnapshots(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	return bandit.Results(cfg.Algorithm, arms, history), nil
}
