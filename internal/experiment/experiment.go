// Package experiment holds the data model shared by every analysis mode and
// the repository contract the service layer persists it through.
package experiment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/expstat/expstat/internal/power"
	"github.com/expstat/expstat/internal/stats"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrModeMismatch = errors.New("variant state does not match analysis mode")
	ErrCheckExists  = errors.New("interim check already recorded")
)

type Experiment struct {
	ID        string
	Name      string
	Variants  []Variant
	Analysis  Analysis
	Power     *power.Analysis
	CreatedAt time.Time
}

type Variant struct {
	ID           string       `json:"id"`
	ExperimentID string       `json:"experimentId"`
	Label        string       `json:"label"`
	Assignments  int          `json:"assignments"`
	Conversions  int          `json:"conversions"`
	State        VariantState `json:"state,omitempty"`
}

// Counts returns the aggregate counts used by the frequentist and
// sequential analyses.
func (v Variant) Counts() stats.Counts {
	return stats.Counts{
		VariantID:   v.ID,
		Label:       v.Label,
		Assignments: v.Assignments,
		Conversions: v.Conversions,
	}
}

// Mode returns the experiment's analysis mode.
func (e *Experiment) Mode() Mode {
	if e.Analysis == nil {
		return ""
	}
	return e.Analysis.Mode()
}

// Variant finds a variant by ID or, failing that, by label.
func (e *Experiment) Variant(ref string) (*Variant, error) {
	for i := range e.Variants {
		if e.Variants[i].ID == ref {
			return &e.Variants[i], nil
		}
	}
	for i := range e.Variants {
		if e.Variants[i].Label == ref {
			return &e.Variants[i], nil
		}
	}
	return nil, fmt.Errorf("variant %q: %w", ref, ErrNotFound)
}

// Counts returns per-variant counts in variant order.
func (e *Experiment) Counts() []stats.Counts {
	out := make([]stats.Counts, len(e.Variants))
	for i, v := range e.Variants {
		out[i] = v.Counts()
	}
	return out
}

// Validate checks the structural rules shared by every mode.
func (e *Experiment) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return errors.New("experiment name is required")
	}
	if e.Analysis == nil {
		return fmt.Errorf("%w: no analysis configured", ErrUnknownMode)
	}
	if len(e.Variants) < 2 {
		return fmt.Errorf("%w: got %d", stats.ErrInsufficientVariants, len(e.Variants))
	}
	seen := make(map[string]bool, len(e.Variants))
	for _, v := range e.Variants {
		if strings.TrimSpace(v.Label) == "" {
			return errors.New("variant label is required")
		}
		if seen[v.Label] {
			return fmt.Errorf("duplicate variant label %q", v.Label)
		}
		seen[v.Label] = true
		if err := CheckState(e.Mode(), v.State); err != nil {
			return err
		}
	}
	if s, ok := e.Analysis.(Sequential); ok && s.Plan == nil {
		return fmt.Errorf("%w: sequential experiment without a plan", stats.ErrPlanNotFound)
	}
	return nil
}

// MarshalJSON writes the analysis with its mode alongside.
func (e Experiment) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID        string          `json:"id"`
		Name      string          `json:"name"`
		Mode      Mode            `json:"mode"`
		Analysis  Analysis        `json:"analysis"`
		Variants  []Variant       `json:"variants"`
		Power     *power.Analysis `json:"power,omitempty"`
		CreatedAt time.Time       `json:"createdAt"`
	}{e.ID, e.Name, e.Mode(), e.Analysis, e.Variants, e.Power, e.CreatedAt})
}

// Outcome is the resolution of one assignment.
type Outcome string

const (
	Success Outcome = "success"
	Failure Outcome = "failure"
)

// ParseOutcome accepts success/failure and the reward values 1/0.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success", "1", "convert", "conversion":
		return Success, nil
	case "failure", "0", "fail":
		return Failure, nil
	}
	return "", fmt.Errorf("%w: outcome %q must be success or failure", stats.ErrInvalidRange, s)
}

// Reward is 1 for success and 0 otherwise.
func (o Outcome) Reward() int {
	if o == Success {
		return 1
	}
	return 0
}

// Event is an inbound assignment resolution.
type Event struct {
	ExperimentID string  `json:"experimentId"`
	VariantID    string  `json:"variantId"`
	Outcome      Outcome `json:"outcome"`
}
