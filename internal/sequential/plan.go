package sequential

import (
	"fmt"
	"math"
	"time"

	"github.com/expstat/expstat/internal/stats"
)

const (
	DefaultNumChecks = 5
	DefaultAlpha     = 0.05
)

// Status is where an experiment sits in its sequential design.
type Status string

const (
	NotStarted      Status = "not_started"
	Ongoing         Status = "ongoing"
	StoppedEfficacy Status = "stopped_efficacy"
	StoppedFutility Status = "stopped_futility"
	Completed       Status = "completed"
)

// Terminal reports whether no further checks may run.
func (s Status) Terminal() bool {
	return s == StoppedEfficacy || s == StoppedFutility || s == Completed
}

// Decision is the outcome of one interim check.
type Decision string

const (
	StopWinner Decision = "stop_winner"
	StopFutile Decision = "stop_futile"
	Continue   Decision = "continue"
)

// Plan is a group-sequential design. CheckPoints[k-1] is the cumulative
// assignments per variant at which check k runs.
type Plan struct {
	PlannedSampleSize int     `json:"plannedSampleSize"`
	NumChecks         int     `json:"numChecks"`
	Alpha             float64 `json:"alpha"`
	CheckPoints       []int   `json:"checkPoints"`
}

// Snapshot is the immutable record of one interim check.
type Snapshot struct {
	CheckNumber         int       `json:"checkNumber"`
	TotalN              int       `json:"totalN"`
	ControlN            int       `json:"controlN"`
	TreatmentN          int       `json:"treatmentN"`
	InformationFraction float64   `json:"informationFraction"`
	ZStatistic          float64   `json:"zStatistic"`
	Upper               float64   `json:"upper"`
	Lower               float64   `json:"lower"`
	AlphaSpent          float64   `json:"alphaSpent"`
	Decision            Decision  `json:"decision"`
	CreatedAt           time.Time `json:"createdAt"`
}

// Initialize lays out numChecks evenly spaced checks over
// plannedSampleSizePerVariant. Zero numChecks and alpha take the defaults.
func Initialize(plannedSampleSizePerVariant, numChecks int, alpha float64) (*Plan, error) {
	if numChecks == 0 {
		numChecks = DefaultNumChecks
	}
	if alpha == 0 {
		alpha = DefaultAlpha
	}
	if numChecks < 1 {
		return nil, fmt.Errorf("%w: number of checks %d must be positive", stats.ErrInvalidRange, numChecks)
	}
	if plannedSampleSizePerVariant < numChecks {
		return nil, fmt.Errorf("%w: planned sample size %d must be at least the number of checks %d",
			stats.ErrInvalidRange, plannedSampleSizePerVariant, numChecks)
	}
	if !(alpha > 0 && alpha < 1) {
		return nil, fmt.Errorf("%w: alpha %v must be in (0, 1)", stats.ErrInvalidRange, alpha)
	}

	points := make([]int, numChecks)
	for k := 1; k <= numChecks; k++ {
		points[k-1] = int(math.Round(float64(k) / float64(numChecks) * float64(plannedSampleSizePerVariant)))
	}

	return &Plan{
		PlannedSampleSize: plannedSampleSizePerVariant,
		NumChecks:         numChecks,
		Alpha:             alpha,
		CheckPoints:       points,
	}, nil
}

// StatusOf derives the current status from the plan and its check log.
func StatusOf(plan *Plan, history []Snapshot) Status {
	if len(history) == 0 {
		return NotStarted
	}
	switch history[len(history)-1].Decision {
	case StopWinner:
		return StoppedEfficacy
	case StopFutile:
		return StoppedFutility
	}
	if len(history) >= plan.NumChecks {
		return Completed
	}
	return Ongoing
}

// CheckPoint describes the next scheduled check.
type CheckPoint struct {
	HasNext        bool `json:"hasNext"`
	CheckNumber    int  `json:"checkNumber,omitempty"`
	NextSampleSize int  `json:"nextSampleSize,omitempty"`
	Remaining      int  `json:"remaining,omitempty"`
}

// NextCheckPoint returns the next check after the last logged one.
// Remaining counts the checks still to run, the next one included.
func NextCheckPoint(plan *Plan, history []Snapshot) CheckPoint {
	if plan == nil || StatusOf(plan, history).Terminal() {
		return CheckPoint{}
	}
	next := len(history) + 1
	return CheckPoint{
		HasNext:        true,
		CheckNumber:    next,
		NextSampleSize: plan.CheckPoints[next-1],
		Remaining:      plan.NumChecks - len(history),
	}
}

func validateHistory(history []Snapshot) error {
	for i, s := range history {
		if s.CheckNumber != i+1 {
			return fmt.Errorf("%w: check log out of order at position %d (check %d)", stats.ErrInvalidRange, i, s.CheckNumber)
		}
	}
	return nil
}
