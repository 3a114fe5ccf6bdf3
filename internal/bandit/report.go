package bandit

import (
	"fmt"
	"math"
	"strings"

	"github.com/montanaflynn/stats"
)

// Allocation is one arm's line in a bandit report.
type Allocation struct {
	VariantID         string  `json:"variantId"`
	Pulls             int     `json:"pulls"`
	Successes         int     `json:"successCount"`
	Failures          int     `json:"failureCount"`
	MeanReward        float64 `json:"meanReward"`
	RewardStdDev      float64 `json:"rewardStdDev"`
	CurrentAllocation float64 `json:"currentAllocation"`
	InitialAllocation float64 `json:"initialAllocation"`
}

// Report is the outbound bandit analysis of an experiment.
type Report struct {
	Algorithm     Algorithm        `json:"algorithm"`
	Allocations   []Allocation     `json:"allocations"`
	RegretHistory []RegretSnapshot `json:"regretHistory"`
	TotalRegret   float64          `json:"totalRegret"`
	TotalReward   float64          `json:"totalReward"`
	BestPerformer string           `json:"bestPerformer,omitempty"`
	Summary       string           `json:"summary"`
}

// Results summarizes the arms and the regret history recorded so far.
// BestPerformer is the pulled arm with the highest mean reward and is empty
// before any pull.
func Results(algorithm Algorithm, arms []Arm, history []RegretSnapshot) *Report {
	if history == nil {
		history = []RegretSnapshot{}
	}

	r := &Report{
		Algorithm:     algorithm,
		Allocations:   make([]Allocation, len(arms)),
		RegretHistory: history,
		TotalRegret:   Regret(arms),
	}

	rewards := make(stats.Float64Data, len(arms))
	best := -1
	for i, a := range arms {
		r.Allocations[i] = Allocation{
			VariantID:         a.VariantID,
			Pulls:             a.Pulls,
			Successes:         a.Successes,
			Failures:          a.Failures,
			MeanReward:        a.MeanReward,
			RewardStdDev:      rewardStdDev(a),
			CurrentAllocation: a.CurrentAllocation,
			InitialAllocation: a.InitialAllocation,
		}
		rewards[i] = a.CumulativeReward
		if a.Pulls > 0 && (best < 0 || a.MeanReward > arms[best].MeanReward) {
			best = i
		}
	}
	r.TotalReward, _ = rewards.Sum()

	if best >= 0 {
		r.BestPerformer = arms[best].VariantID
	}
	r.Summary = summarize(r, arms, best)
	return r
}

// rewardStdDev is the population standard deviation of an arm's 0/1
// rewards.
func rewardStdDev(a Arm) float64 {
	if a.Resolved() == 0 {
		return 0
	}
	p := a.rate()
	return math.Sqrt(p * (1 - p))
}

func summarize(r *Report, arms []Arm, best int) string {
	pulls := 0
	for _, a := range arms {
		pulls += a.Pulls
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s over %d arms after %d pulls", algorithmName(r.Algorithm), len(arms), pulls)
	if best < 0 {
		sb.WriteString(": no pulls yet")
		return sb.String()
	}
	lead := arms[best]
	fmt.Fprintf(&sb, ": %s leads with %.1f%% mean reward and %.1f%% of traffic, regret %.1f",
		lead.VariantID, lead.MeanReward*100, lead.CurrentAllocation, r.TotalRegret)
	return sb.String()
}

func algorithmName(a Algorithm) string {
	switch a {
	case Thompson:
		return "Thompson sampling"
	case UCB:
		return "UCB1"
	case EpsilonGreedy:
		return "Epsilon-greedy"
	}
	return string(a)
}
