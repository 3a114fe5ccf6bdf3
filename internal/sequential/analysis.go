package sequential

import (
	"fmt"

	"github.com/expstat/expstat/internal/stats"
)

// Result is the outcome of PerformInterimAnalysis. When the plan has no
// checks left Exhausted is set and Snapshot is nil.
type Result struct {
	Snapshot  *Snapshot `json:"snapshot,omitempty"`
	Status    Status    `json:"status"`
	Exhausted bool      `json:"exhausted"`
}

// Err returns stats.ErrPlanExhausted for an exhausted result.
func (r *Result) Err() error {
	if r.Exhausted {
		return fmt.Errorf("%w: status %s", stats.ErrPlanExhausted, r.Status)
	}
	return nil
}

// PerformInterimAnalysis runs the next check of plan. The z statistic
// compares treatment (the second variant) against control (the first), so
// crossing the upper bound means the treatment wins and crossing the lower
// bound means it is futile. The caller appends the returned snapshot to the
// log; nothing is appended for an exhausted plan.
func PerformInterimAnalysis(plan *Plan, history []Snapshot, control, treatment stats.Counts) (*Result, error) {
	if plan == nil {
		return nil, stats.ErrPlanNotFound
	}
	if err := validateHistory(history); err != nil {
		return nil, err
	}

	status := StatusOf(plan, history)
	if status.Terminal() {
		return &Result{Status: status, Exhausted: true}, nil
	}

	check := len(history) + 1
	z, err := stats.ZStatistic(treatment.Rate(), treatment.Assignments, control.Rate(), control.Assignments)
	if err != nil {
		return nil, err
	}
	bounds, err := OBrienFlemingBounds(check, plan.NumChecks, plan.Alpha)
	if err != nil {
		return nil, err
	}

	fraction := InformationFraction(min(control.Assignments, treatment.Assignments), plan.PlannedSampleSize)
	spent := 0.0
	if fraction > 0 {
		if spent, err = AlphaSpent(fraction, plan.Alpha); err != nil {
			return nil, err
		}
	}

	snap := &Snapshot{
		CheckNumber:         check,
		TotalN:              control.Assignments + treatment.Assignments,
		ControlN:            control.Assignments,
		TreatmentN:          treatment.Assignments,
		InformationFraction: fraction,
		ZStatistic:          z,
		Upper:               bounds.Upper,
		Lower:               bounds.Lower,
		AlphaSpent:          spent,
		Decision:            ShouldStop(z, bounds.Upper, bounds.Lower),
	}

	return &Result{
		Snapshot: snap,
		Status:   StatusOf(plan, append(history[:len(history):len(history)], *snap)),
	}, nil
}

// Due reports whether both compared variants have reached the next
// checkpoint's sample size.
func Due(plan *Plan, history []Snapshot, control, treatment stats.Counts) bool {
	next := NextCheckPoint(plan, history)
	return next.HasNext && min(control.Assignments, treatment.Assignments) >= next.NextSampleSize
}

// BoundaryPoint is one planned check with its boundaries.
type BoundaryPoint struct {
	CheckNumber         int     `json:"checkNumber"`
	SampleSize          int     `json:"sampleSize"`
	InformationFraction float64 `json:"informationFraction"`
	Upper               float64 `json:"upper"`
	Lower               float64 `json:"lower"`
	AlphaSpent          float64 `json:"alphaSpent"`
}

// BoundaryData tabulates every planned check.
func BoundaryData(plan *Plan) ([]BoundaryPoint, error) {
	if plan == nil {
		return nil, stats.ErrPlanNotFound
	}

	points := make([]BoundaryPoint, plan.NumChecks)
	for k := 1; k <= plan.NumChecks; k++ {
		b, err := OBrienFlemingBounds(k, plan.NumChecks, plan.Alpha)
		if err != nil {
			return nil, err
		}
		fraction := float64(k) / float64(plan.NumChecks)
		spent, err := AlphaSpent(fraction, plan.Alpha)
		if err != nil {
			return nil, err
		}
		points[k-1] = BoundaryPoint{
			CheckNumber:         k,
			SampleSize:          plan.CheckPoints[k-1],
			InformationFraction: fraction,
			Upper:               b.Upper,
			Lower:               b.Lower,
			AlphaSpent:          spent,
		}
	}
	return points, nil
}

// Report is the outbound sequential analysis of an experiment.
type Report struct {
	Plan           *Plan           `json:"plan"`
	History        []Snapshot      `json:"history"`
	NextCheckPoint CheckPoint      `json:"nextCheckPoint"`
	BoundaryData   []BoundaryPoint `json:"boundaryData"`
	CurrentStatus  Status          `json:"currentStatus"`
}

// BuildReport assembles the report from the plan and its check log.
func BuildReport(plan *Plan, history []Snapshot) (*Report, error) {
	boundaries, err := BoundaryData(plan)
	if err != nil {
		return nil, err
	}
	if history == nil {
		history = []Snapshot{}
	}
	return &Report{
		Plan:           plan,
		History:        history,
		NextCheckPoint: NextCheckPoint(plan, history),
		BoundaryData:   boundaries,
		CurrentStatus:  StatusOf(plan, history),
	}, nil
}
