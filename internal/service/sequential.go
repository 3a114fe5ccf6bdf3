package service

import (
	"context"
	"fmt"

	"github.com/expstat/expstat/internal/experiment"
	"github.com/expstat/expstat/internal/sequential"
	"github.com/expstat/expstat/internal/stats"
)

// PerformInterimAnalysis runs the next planned check on the first two
// variants (control, treatment) and appends its snapshot. An exhausted plan
// yields a result with Exhausted set and appends nothing.
func (s *Service) PerformInterimAnalysis(ctx context.Context, experimentRef string) (*sequential.Result, error) {
	e, err := s.repo.GetExperiment(ctx, experimentRef)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(e.ID)
	defer unlock()
	return s.interim(ctx, e.ID, false)
}

// AutoCheckIfNeeded runs the next check once both compared variants have
// reached its sample size, and does nothing otherwise (nil result).
func (s *Service) AutoCheckIfNeeded(ctx context.Context, experimentID string) (*sequential.Result, error) {
	unlock := s.locks.Lock(experimentID)
	defer unlock()
	return s.interim(ctx, experimentID, true)
}

// interim must run under the experiment lock.
func (s *Service) interim(ctx context.Context, experimentID string, onlyIfDue bool) (*sequential.Result, error) {
	plan, err := s.repo.GetExperimentPlan(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	history, err := s.repo.ListSequentialSnapshots(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	e, err := s.repo.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	if len(e.Variants) < 2 {
		return nil, fmt.Errorf("%w: got %d", stats.ErrInsufficientVariants, len(e.Variants))
	}
	control, treatment := e.Variants[0].Counts(), e.Variants[1].Counts()

	if onlyIfDue && !sequential.Due(plan, history, control, treatment) {
		return nil, nil
	}

	res, err := sequential.PerformInterimAnalysis(plan, history, control, treatment)
	if err != nil {
		return nil, err
	}
	log := s.log.With().Str("experiment_id", e.ID).Logger()
	if res.Exhausted {
		log.Warn().Str("status", string(res.Status)).Msg("interim analysis requested on exhausted plan")
		return res, nil
	}

	if err := s.repo.AppendSequentialSnapshot(ctx, e.ID, *res.Snapshot); err != nil {
		return nil, fmt.Errorf("failed to append interim snapshot: %w", err)
	}
	log.Info().
		Int("check", res.Snapshot.CheckNumber).
		Int("total_n", res.Snapshot.TotalN).
		Float64("z", res.Snapshot.ZStatistic).
		Float64("upper", res.Snapshot.Upper).
		Float64("lower", res.Snapshot.Lower).
		Float64("alpha_spent", res.Snapshot.AlphaSpent).
		Str("decision", string(res.Snapshot.Decision)).
		Str("status", string(res.Status)).
		Msg("interim analysis")
	return res, nil
}

// NextCheckPoint reports the next scheduled check.
func (s *Service) NextCheckPoint(ctx context.Context, experimentRef string) (sequential.CheckPoint, error) {
	e, err := s.repo.GetExperiment(ctx, experimentRef)
	if err != nil {
		return sequential.CheckPoint{}, err
	}
	plan, err := s.repo.GetExperimentPlan(ctx, e.ID)
	if err != nil {
		return sequential.CheckPoint{}, err
	}
	history, err := s.repo.ListSequentialSnapshots(ctx, e.ID)
	if err != nil {
		return sequential.CheckPoint{}, err
	}
	return sequential.NextCheckPoint(plan, history), nil
}

// SequentialReport assembles plan, check log and boundaries.
func (s *Service) SequentialReport(ctx context.Context, experimentRef string) (*sequential.Report, error) {
	e, err := s.repo.GetExperiment(ctx, experimentRef)
	if err != nil {
		return nil, err
	}
	if err := requireMode(e, experiment.ModeSequential); err != nil {
		return nil, err
	}
	plan, err := s.repo.GetExperimentPlan(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	history, err := s.repo.ListSequentialSnapshots(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	return sequential.BuildReport(plan, history)
}
