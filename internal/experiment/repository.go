package experiment

import (
	"context"

	"github.com/expstat/expstat/internal/bandit"
	"github.com/expstat/expstat/internal/power"
	"github.com/expstat/expstat/internal/sequential"
)

// Repository persists experiments and their analysis state. Lookups that
// miss return ErrNotFound.
type Repository interface {
	// Experiments. GetExperiment accepts an ID or a name.
	CreateExperiment(ctx context.Context, e *Experiment) error
	GetExperiment(ctx context.Context, ref string) (*Experiment, error)
	ListExperiments(ctx context.Context) ([]*Experiment, error)

	// Variants
	GetVariantState(ctx context.Context, experimentID, variantID string) (VariantState, error)
	SaveVariantState(ctx context.Context, experimentID, variantID string, state VariantState) error
	// SaveVariants writes the counts and state of every given variant in
	// one transaction.
	SaveVariants(ctx context.Context, experimentID string, variants []Variant) error
	IncrementCounts(ctx context.Context, experimentID, variantID string, assignments, conversions int) error

	// Sequential. AppendSequentialSnapshot fails with ErrCheckExists for a
	// check number that was already logged.
	GetExperimentPlan(ctx context.Context, experimentID string) (*sequential.Plan, error)
	AppendSequentialSnapshot(ctx context.Context, experimentID string, snap sequential.Snapshot) error
	ListSequentialSnapshots(ctx context.Context, experimentID string) ([]sequential.Snapshot, error)

	// Bandit. SaveRegretSnapshot replaces any snapshot at the same pull count.
	SaveRegretSnapshot(ctx context.Context, experimentID string, snap bandit.RegretSnapshot) error
	ListRegretSnapshots(ctx context.Context, experimentID string) ([]bandit.RegretSnapshot, error)

	// Planning
	SavePowerAnalysis(ctx context.Context, experimentID string, a *power.Analysis) error

	Close() error
}
