package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/expstat/expstat/internal/bandit"
	"github.com/expstat/expstat/internal/bayesian"
	"github.com/expstat/expstat/internal/experiment"
	"github.com/expstat/expstat/internal/power"
	"github.com/expstat/expstat/internal/sequential"
	"github.com/expstat/expstat/internal/stats"
	"github.com/expstat/expstat/internal/store"
	"github.com/expstat/expstat/internal/testutil"
)

func createExperiment(t *testing.T, s *store.SQLiteStore, name string, analysis experiment.Analysis, labels ...string) *experiment.Experiment {
	t.Helper()
	e := &experiment.Experiment{Name: name, Analysis: analysis}
	for _, l := range labels {
		e.Variants = append(e.Variants, experiment.Variant{Label: l})
	}
	if err := s.CreateExperiment(context.Background(), e); err != nil {
		t.Fatalf("CreateExperiment failed: %v", err)
	}
	return e
}

func TestCreateExperiment(t *testing.T) {
	s := testutil.SetupTestStore(t)
	ctx := context.Background()

	e := createExperiment(t, s, "hero", experiment.Frequentist{}, "A", "B", "C")
	if e.ID == "" {
		t.Fatal("expected experiment ID to be assigned")
	}
	for _, v := range e.Variants {
		if v.ID == "" || v.ExperimentID != e.ID {
			t.Errorf("variant %s not linked: %+v", v.Label, v)
		}
	}

	got, err := s.GetExperiment(ctx, "hero")
	if err != nil {
		t.Fatalf("GetExperiment by name failed: %v", err)
	}
	if got.ID != e.ID {
		t.Errorf("got ID %s, want %s", got.ID, e.ID)
	}
	if got.Mode() != experiment.ModeFrequentist {
		t.Errorf("got mode %s, want frequentist", got.Mode())
	}
	if len(got.Variants) != 3 || got.Variants[2].Label != "C" {
		t.Errorf("variants not loaded in order: %+v", got.Variants)
	}

	if _, err := s.GetExperiment(ctx, e.ID); err != nil {
		t.Errorf("GetExperiment by ID failed: %v", err)
	}
}

func TestCreateExperiment_DuplicateName(t *testing.T) {
	s := testutil.SetupTestStore(t)
	createExperiment(t, s, "hero", experiment.Frequentist{}, "A", "B")

	e := &experiment.Experiment{
		Name:     "hero",
		Analysis: experiment.Frequentist{},
		Variants: []experiment.Variant{{Label: "C"}, {Label: "D"}},
	}
	if err := s.CreateExperiment(context.Background(), e); err == nil {
		t.Fatal("expected error for duplicate name, got nil")
	}
}

func TestCreateExperiment_RejectsSingleVariant(t *testing.T) {
	s := testutil.SetupTestStore(t)

	e := &experiment.Experiment{Name: "solo", Analysis: experiment.Frequentist{}, Variants: []experiment.Variant{{Label: "A"}}}
	err := s.CreateExperiment(context.Background(), e)
	if !errors.Is(err, stats.ErrInsufficientVariants) {
		t.Fatalf("expected ErrInsufficientVariants, got %v", err)
	}
}

func TestGetExperiment_NotFound(t *testing.T) {
	s := testutil.SetupTestStore(t)

	_, err := s.GetExperiment(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListExperiments(t *testing.T) {
	s := testutil.SetupTestStore(t)
	createExperiment(t, s, "one", experiment.Frequentist{}, "A", "B")
	createExperiment(t, s, "two", experiment.Bandit{Algorithm: bandit.UCB}, "A", "B")

	list, err := s.ListExperiments(context.Background())
	if err != nil {
		t.Fatalf("ListExperiments failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d experiments, want 2", len(list))
	}
	for _, e := range list {
		if len(e.Variants) != 2 {
			t.Errorf("experiment %s has %d variants, want 2", e.Name, len(e.Variants))
		}
	}
}

func TestVariantState_RoundTrip(t *testing.T) {
	s := testutil.SetupTestStore(t)
	ctx := context.Background()
	e := createExperiment(t, s, "bayes", experiment.Bayesian{}, "A", "B")
	v := e.Variants[0]

	post, _ := bayesian.NewPosterior(v.ID, bayesian.DefaultPrior)
	post = bayesian.UpdatePosterior(post, true)
	if err := s.SaveVariantState(ctx, e.ID, v.ID, experiment.BayesianState{Posterior: post}); err != nil {
		t.Fatalf("SaveVariantState failed: %v", err)
	}

	state, err := s.GetVariantState(ctx, e.ID, v.ID)
	if err != nil {
		t.Fatalf("GetVariantState failed: %v", err)
	}
	bs, ok := state.(experiment.BayesianState)
	if !ok {
		t.Fatalf("got %T, want BayesianState", state)
	}
	if bs.AlphaPost != 2 || bs.BetaPost != 1 {
		t.Errorf("got Beta(%v, %v), want Beta(2, 1)", bs.AlphaPost, bs.BetaPost)
	}
}

func TestSaveVariantState_ModeMismatch(t *testing.T) {
	s := testutil.SetupTestStore(t)
	e := createExperiment(t, s, "bayes", experiment.Bayesian{}, "A", "B")

	err := s.SaveVariantState(context.Background(), e.ID, e.Variants[0].ID, experiment.BanditState{})
	if !errors.Is(err, experiment.ErrModeMismatch) {
		t.Errorf("expected ErrModeMismatch, got %v", err)
	}
}

func TestSaveVariants_WritesCountsAndState(t *testing.T) {
	s := testutil.SetupTestStore(t)
	ctx := context.Background()
	e := createExperiment(t, s, "arms", experiment.Bandit{Algorithm: bandit.Thompson}, "A", "B")

	for i := range e.Variants {
		e.Variants[i].Assignments = 10 * (i + 1)
		e.Variants[i].Conversions = i + 1
		e.Variants[i].State = experiment.BanditState{Arm: bandit.Arm{VariantID: e.Variants[i].ID, Pulls: 10 * (i + 1)}}
	}
	if err := s.SaveVariants(ctx, e.ID, e.Variants); err != nil {
		t.Fatalf("SaveVariants failed: %v", err)
	}

	got, err := s.GetExperiment(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetExperiment failed: %v", err)
	}
	if got.Variants[1].Assignments != 20 || got.Variants[1].Conversions != 2 {
		t.Errorf("counts not saved: %+v", got.Variants[1])
	}
	arm := got.Variants[1].State.(experiment.BanditState)
	if arm.Pulls != 20 {
		t.Errorf("got %d pulls, want 20", arm.Pulls)
	}
}

func TestIncrementCounts(t *testing.T) {
	s := testutil.SetupTestStore(t)
	ctx := context.Background()
	e := createExperiment(t, s, "hero", experiment.Frequentist{}, "A", "B")
	id := e.Variants[0].ID

	for range 3 {
		if err := s.IncrementCounts(ctx, e.ID, id, 1, 0); err != nil {
			t.Fatalf("IncrementCounts failed: %v", err)
		}
	}
	if err := s.IncrementCounts(ctx, e.ID, id, 0, 1); err != nil {
		t.Fatalf("IncrementCounts failed: %v", err)
	}

	got, _ := s.GetExperiment(ctx, e.ID)
	if got.Variants[0].Assignments != 3 || got.Variants[0].Conversions != 1 {
		t.Errorf("got %d/%d, want 3/1", got.Variants[0].Conversions, got.Variants[0].Assignments)
	}

	if err := s.IncrementCounts(ctx, e.ID, "missing", 1, 0); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestIncrementCounts_RejectsConversionsBeyondAssignments(t *testing.T) {
	s := testutil.SetupTestStore(t)
	ctx := context.Background()
	e := createExperiment(t, s, "hero", experiment.Frequentist{}, "A", "B")
	id := e.Variants[0].ID

	if err := s.IncrementCounts(ctx, e.ID, id, 0, 1); !errors.Is(err, stats.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData before any assignment, got %v", err)
	}

	if err := s.IncrementCounts(ctx, e.ID, id, 1, 0); err != nil {
		t.Fatalf("IncrementCounts failed: %v", err)
	}
	if err := s.IncrementCounts(ctx, e.ID, id, 0, 1); err != nil {
		t.Fatalf("IncrementCounts failed: %v", err)
	}
	if err := s.IncrementCounts(ctx, e.ID, id, 0, 1); !errors.Is(err, stats.ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData for a second conversion, got %v", err)
	}

	got, _ := s.GetExperiment(ctx, e.ID)
	if got.Variants[0].Assignments != 1 || got.Variants[0].Conversions != 1 {
		t.Errorf("got %d/%d, want 1/1", got.Variants[0].Conversions, got.Variants[0].Assignments)
	}
}

func TestExperimentPlan(t *testing.T) {
	s := testutil.SetupTestStore(t)
	ctx := context.Background()

	plan, _ := sequential.Initialize(500, 5, 0.05)
	seq := createExperiment(t, s, "seq", experiment.Sequential{Plan: plan}, "A", "B")
	freq := createExperiment(t, s, "freq", experiment.Frequentist{}, "A", "B")

	got, err := s.GetExperimentPlan(ctx, seq.ID)
	if err != nil {
		t.Fatalf("GetExperimentPlan failed: %v", err)
	}
	if got.NumChecks != 5 || got.CheckPoints[0] != 100 {
		t.Errorf("unexpected plan: %+v", got)
	}

	if _, err := s.GetExperimentPlan(ctx, freq.ID); !errors.Is(err, stats.ErrPlanNotFound) {
		t.Errorf("expected ErrPlanNotFound, got %v", err)
	}
}

func TestSequentialSnapshots_UniqueCheckNumbers(t *testing.T) {
	s := testutil.SetupTestStore(t)
	ctx := context.Background()
	plan, _ := sequential.Initialize(500, 5, 0.05)
	e := createExperiment(t, s, "seq", experiment.Sequential{Plan: plan}, "A", "B")

	for k := 1; k <= 2; k++ {
		snap := sequential.Snapshot{CheckNumber: k, TotalN: 200 * k, ZStatistic: 0.5, Upper: 3, Lower: -3, Decision: sequential.Continue}
		if err := s.AppendSequentialSnapshot(ctx, e.ID, snap); err != nil {
			t.Fatalf("AppendSequentialSnapshot %d failed: %v", k, err)
		}
	}

	err := s.AppendSequentialSnapshot(ctx, e.ID, sequential.Snapshot{CheckNumber: 2, Decision: sequential.Continue})
	if !errors.Is(err, experiment.ErrCheckExists) {
		t.Errorf("expected ErrCheckExists, got %v", err)
	}

	snaps, err := s.ListSequentialSnapshots(ctx, e.ID)
	if err != nil {
		t.Fatalf("ListSequentialSnapshots failed: %v", err)
	}
	if len(snaps) != 2 || snaps[0].CheckNumber != 1 || snaps[1].TotalN != 400 {
		t.Errorf("unexpected snapshots: %+v", snaps)
	}
	if snaps[0].CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestRegretSnapshots_UpsertByPullCount(t *testing.T) {
	s := testutil.SetupTestStore(t)
	ctx := context.Background()
	e := createExperiment(t, s, "arms", experiment.Bandit{Algorithm: bandit.UCB}, "A", "B")

	for _, snap := range []bandit.RegretSnapshot{{TotalPulls: 50, Regret: 3}, {TotalPulls: 100, Regret: 5}, {TotalPulls: 50, Regret: 3}} {
		if err := s.SaveRegretSnapshot(ctx, e.ID, snap); err != nil {
			t.Fatalf("SaveRegretSnapshot failed: %v", err)
		}
	}

	snaps, err := s.ListRegretSnapshots(ctx, e.ID)
	if err != nil {
		t.Fatalf("ListRegretSnapshots failed: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(snaps))
	}
	if snaps[0].TotalPulls != 50 || snaps[1].Regret != 5 {
		t.Errorf("unexpected snapshots: %+v", snaps)
	}
}

func TestSavePowerAnalysis(t *testing.T) {
	s := testutil.SetupTestStore(t)
	ctx := context.Background()
	e := createExperiment(t, s, "hero", experiment.Frequentist{}, "A", "B")

	a, err := power.Plan(power.Request{BaselineRate: 0.1, MDE: 0.02, VariantCount: 2})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if err := s.SavePowerAnalysis(ctx, e.ID, a); err != nil {
		t.Fatalf("SavePowerAnalysis failed: %v", err)
	}

	got, _ := s.GetExperiment(ctx, e.ID)
	if got.Power == nil || got.Power.SampleSizePerVariant != a.SampleSizePerVariant {
		t.Errorf("power analysis not saved: %+v", got.Power)
	}

	if err := s.SavePowerAnalysis(ctx, "missing", a); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
