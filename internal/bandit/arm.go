// Package bandit allocates traffic adaptively with Thompson sampling, UCB1
// or epsilon-greedy selection, tracks binary rewards per arm, and records
// regret against the best arm observed so far.
package bandit

import (
	"fmt"
	"math"

	"github.com/expstat/expstat/internal/stats"
)

// Algorithm selects the arm-selection policy.
type Algorithm string

const (
	Thompson      Algorithm = "thompson"
	UCB           Algorithm = "ucb"
	EpsilonGreedy Algorithm = "epsilon_greedy"
)

const (
	DefaultEpsilon = 0.1

	// ReallocationInterval and RegretInterval are counted in resolved pulls
	// across the whole experiment.
	ReallocationInterval = 10
	RegretInterval       = 50
)

// ParseAlgorithm validates an algorithm name.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(s); a {
	case Thompson, UCB, EpsilonGreedy:
		return a, nil
	}
	return "", fmt.Errorf("%w: unknown bandit algorithm %q", stats.ErrInvalidRange, s)
}

// ArmSpec configures one arm at initialization.
type ArmSpec struct {
	VariantID         string
	InitialAllocation float64
}

// Arm is the bandit state of one variant. Pulls counts selections, so it
// runs ahead of Successes+Failures while rewards are outstanding.
type Arm struct {
	VariantID         string  `json:"variantId"`
	Successes         int     `json:"successCount"`
	Failures          int     `json:"failureCount"`
	Pulls             int     `json:"pulls"`
	CumulativeReward  float64 `json:"cumulativeReward"`
	MeanReward        float64 `json:"meanReward"`
	CurrentAllocation float64 `json:"currentAllocation"`
	InitialAllocation float64 `json:"initialAllocation"`
}

// Resolved is the number of pulls whose reward has been recorded.
func (a Arm) Resolved() int {
	return a.Successes + a.Failures
}

// Pending is the number of pulls still waiting for a reward.
func (a Arm) Pending() int {
	return a.Pulls - a.Resolved()
}

// rate is the observed reward rate over resolved pulls.
func (a Arm) rate() float64 {
	if a.Resolved() == 0 {
		return 0
	}
	return a.CumulativeReward / float64(a.Resolved())
}

// Initialize creates the arms for an experiment. Initial allocations are
// expected to sum to 100 but that is left to the caller.
func Initialize(specs []ArmSpec, algorithm Algorithm) ([]Arm, error) {
	if _, err := ParseAlgorithm(string(algorithm)); err != nil {
		return nil, err
	}
	if len(specs) < 2 {
		return nil, fmt.Errorf("%w: got %d", stats.ErrInsufficientVariants, len(specs))
	}

	arms := make([]Arm, len(specs))
	for i, s := range specs {
		if s.InitialAllocation < 0 || s.InitialAllocation > 100 || math.IsNaN(s.InitialAllocation) {
			return nil, fmt.Errorf("%w: allocation %v for %s must be in [0, 100]", stats.ErrInvalidRange, s.InitialAllocation, s.VariantID)
		}
		arms[i] = Arm{
			VariantID:         s.VariantID,
			CurrentAllocation: s.InitialAllocation,
			InitialAllocation: s.InitialAllocation,
		}
	}
	return arms, nil
}

// EvenAllocation splits 100 across n arms.
func EvenAllocation(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 / float64(n)
	}
	return out
}

func indexOf(arms []Arm, variantID string) int {
	for i, a := range arms {
		if a.VariantID == variantID {
			return i
		}
	}
	return -1
}
