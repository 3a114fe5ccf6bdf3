package bandit

import (
	"fmt"
	"math"
	"time"

	"github.com/expstat/expstat/internal/stats"
)

// RegretSnapshot is cumulative regret at a resolved-pull count. CreatedAt
// is set by the repository.
type RegretSnapshot struct {
	TotalPulls int       `json:"totalPulls"`
	Regret     float64   `json:"regret"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Update describes the side effects of one UpdateReward call.
type Update struct {
	Arm           Arm             `json:"arm"`
	ResolvedPulls int             `json:"resolvedPulls"`
	Reallocated   bool            `json:"reallocated"`
	Regret        *RegretSnapshot `json:"regret,omitempty"`
}

// UpdateReward records a binary reward for variantID. A reward arriving
// with no outstanding pull on the arm counts its own pull. Every
// ReallocationInterval resolved pulls the allocations are recomputed, and
// every RegretInterval resolved pulls a regret snapshot is produced. Both
// depend only on arm state, so replaying the same reward sequence yields
// the same snapshots.
//
// The cadence counts resolved pulls (rewards received), not pulls made at
// selection. Selections awaiting a reward would otherwise skip multiples
// of the interval, so the total pull count only equals the cadence count
// once nothing is pending.
func UpdateReward(arms []Arm, variantID string, reward int) (*Update, error) {
	if reward != 0 && reward != 1 {
		return nil, fmt.Errorf("%w: reward %d must be 0 or 1", stats.ErrInvalidRange, reward)
	}
	i := indexOf(arms, variantID)
	if i < 0 {
		return nil, fmt.Errorf("%w: unknown arm %q", stats.ErrInvalidRange, variantID)
	}

	a := &arms[i]
	if a.Pending() <= 0 {
		a.Pulls++
	}
	if reward == 1 {
		a.Successes++
	} else {
		a.Failures++
	}
	a.CumulativeReward += float64(reward)
	a.MeanReward = a.CumulativeReward / float64(a.Pulls)

	resolved := resolvedPulls(arms)
	u := &Update{ResolvedPulls: resolved}
	if resolved%ReallocationInterval == 0 {
		Reallocate(arms)
		u.Reallocated = true
	}
	if resolved%RegretInterval == 0 {
		u.Regret = &RegretSnapshot{TotalPulls: resolved, Regret: Regret(arms)}
	}
	u.Arm = arms[i]
	return u, nil
}

// Reallocate sets each arm's allocation to its share of all pulls, in
// percent. With no pulls yet the allocations are left alone.
func Reallocate(arms []Arm) {
	total := 0
	for _, a := range arms {
		total += a.Pulls
	}
	if total == 0 {
		return
	}
	for i := range arms {
		arms[i].CurrentAllocation = float64(arms[i].Pulls) / float64(total) * 100
	}
}

// Regret is the reward lost against always playing the arm with the best
// observed rate: best*resolved - Σ cumulativeReward. It is never negative.
func Regret(arms []Arm) float64 {
	best, collected := 0.0, 0.0
	for _, a := range arms {
		best = math.Max(best, a.rate())
		collected += a.CumulativeReward
	}
	return math.Max(0, best*float64(resolvedPulls(arms))-collected)
}

func resolvedPulls(arms []Arm) int {
	n := 0
	for _, a := range arms {
		n += a.Resolved()
	}
	return n
}
