// Package service is the orchestration layer around the analysis engines.
// It loads state from an experiment.Repository, hands immutable snapshots
// to the pure engines and persists what they return. Writes to one variant
// (or, for bandits, to one experiment) are serialized.
package service

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/expstat/expstat/internal/bandit"
	"github.com/expstat/expstat/internal/bayesian"
	"github.com/expstat/expstat/internal/experiment"
	"github.com/expstat/expstat/internal/power"
	"github.com/expstat/expstat/internal/stats"
)

// Options tunes a Service. Zero values take the defaults.
type Options struct {
	Logger  *zerolog.Logger
	Samples int // Monte Carlo draws per variant
	Workers int // goroutines per Monte Carlo run
}

type Service struct {
	repo     experiment.Repository
	log      zerolog.Logger
	engine   *bayesian.Engine
	selector *bandit.Selector
	samples  int
	locks    *keyedMutex
}

// New builds a service over repo. src seeds both the Monte Carlo engine and
// the bandit selector; a fixed seed makes every report reproducible.
func New(repo experiment.Repository, src rand.Source, opts Options) *Service {
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	if opts.Samples < 1 {
		opts.Samples = bayesian.DefaultSamples
	}

	// The engine and the selector lock independently, so each gets its own
	// stream.
	r := rand.New(src)
	return &Service{
		repo:     repo,
		log:      log.With().Str("component", "service").Logger(),
		engine:   bayesian.NewEngine(rand.NewPCG(r.Uint64(), r.Uint64()), opts.Workers),
		selector: bandit.NewSelector(rand.NewPCG(r.Uint64(), r.Uint64())),
		samples:  opts.Samples,
		locks:    newKeyedMutex(),
	}
}

// CreateRequest describes a new experiment.
type CreateRequest struct {
	Name     string
	Variants []string
	Analysis experiment.Analysis
	// Allocations are the initial bandit allocations in percent, one per
	// variant. Nil splits traffic evenly.
	Allocations []float64
	Power       *power.Analysis
}

// CreateExperiment validates req, initializes the per-variant state of its
// mode and stores the experiment.
func (s *Service) CreateExperiment(ctx context.Context, req CreateRequest) (*experiment.Experiment, error) {
	e := &experiment.Experiment{
		Name:     req.Name,
		Analysis: req.Analysis,
		Power:    req.Power,
	}
	for _, label := range req.Variants {
		e.Variants = append(e.Variants, experiment.Variant{ID: uuid.NewString(), Label: label})
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}

	switch a := req.Analysis.(type) {
	case experiment.Bayesian:
		if err := initBayesian(e, a); err != nil {
			return nil, err
		}
	case experiment.Bandit:
		if err := initBandit(e, a, req.Allocations); err != nil {
			return nil, err
		}
	}

	if err := s.repo.CreateExperiment(ctx, e); err != nil {
		return nil, fmt.Errorf("failed to create experiment: %w", err)
	}

	s.log.Info().
		Str("experiment_id", e.ID).
		Str("name", e.Name).
		Str("mode", string(e.Mode())).
		Int("variants", len(e.Variants)).
		Msg("experiment created")
	return e, nil
}

func initBayesian(e *experiment.Experiment, a experiment.Bayesian) error {
	ids := make([]string, len(e.Variants))
	priors := make(map[string]bayesian.Prior, len(a.Priors))
	for i, v := range e.Variants {
		ids[i] = v.ID
		if p, ok := a.Priors[v.Label]; ok {
			priors[v.ID] = p
		}
	}
	if len(priors) != len(a.Priors) {
		return fmt.Errorf("priors name variants that do not exist: %w", experiment.ErrNotFound)
	}

	posteriors, err := bayesian.Initialize(ids, priors)
	if err != nil {
		return err
	}
	for i := range e.Variants {
		e.Variants[i].State = experiment.BayesianState{Posterior: posteriors[i]}
	}
	return nil
}

func initBandit(e *experiment.Experiment, a experiment.Bandit, allocations []float64) error {
	if !(a.Epsilon >= 0 && a.Epsilon <= 1) {
		return fmt.Errorf("%w: epsilon %v must be in [0, 1]", stats.ErrInvalidRange, a.Epsilon)
	}
	if allocations == nil {
		allocations = bandit.EvenAllocation(len(e.Variants))
	}
	if len(allocations) != len(e.Variants) {
		return fmt.Errorf("%w: %d allocations for %d variants", stats.ErrInvalidRange, len(allocations), len(e.Variants))
	}

	specs := make([]bandit.ArmSpec, len(e.Variants))
	for i, v := range e.Variants {
		specs[i] = bandit.ArmSpec{VariantID: v.ID, InitialAllocation: allocations[i]}
	}
	arms, err := bandit.Initialize(specs, a.Algorithm)
	if err != nil {
		return err
	}
	for i := range e.Variants {
		e.Variants[i].State = experiment.BanditState{Arm: arms[i]}
	}
	return nil
}

func (s *Service) GetExperiment(ctx context.Context, ref string) (*experiment.Experiment, error) {
	return s.repo.GetExperiment(ctx, ref)
}

func (s *Service) ListExperiments(ctx context.Context) ([]*experiment.Experiment, error) {
	return s.repo.ListExperiments(ctx)
}

// lockKey is the serialization scope for writes to variantID: the variant
// itself, or the whole experiment for bandits.
func lockKey(e *experiment.Experiment, variantID string) string {
	if e.Mode() == experiment.ModeBandit {
		return e.ID
	}
	return e.ID + "/" + variantID
}

func requireMode(e *experiment.Experiment, mode experiment.Mode) error {
	if e.Mode() != mode {
		return fmt.Errorf("%w: experiment %s is %s, not %s", experiment.ErrModeMismatch, e.Name, e.Mode(), mode)
	}
	return nil
}
