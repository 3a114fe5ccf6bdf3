package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/expstat/expstat/internal/experiment"
	"github.com/expstat/expstat/internal/power"
)

// experimentRow mirrors the experiments table.
type experimentRow struct {
	ID        string
	Name      string
	Mode      string
	Analysis  sql.NullString // JSON, mode specific
	Power     sql.NullString // JSON power.Analysis
	CreatedAt int64
}

func (r *experimentRow) scan(s interface{ Scan(...any) error }) error {
	return s.Scan(&r.ID, &r.Name, &r.Mode, &r.Analysis, &r.Power, &r.CreatedAt)
}

func (r *experimentRow) decode() (*experiment.Experiment, error) {
	mode, err := experiment.ParseMode(r.Mode)
	if err != nil {
		return nil, err
	}
	analysis, err := experiment.UnmarshalAnalysis(mode, []byte(r.Analysis.String))
	if err != nil {
		return nil, err
	}

	e := &experiment.Experiment{
		ID:        r.ID,
		Name:      r.Name,
		Analysis:  analysis,
		CreatedAt: time.Unix(r.CreatedAt, 0),
	}
	if r.Power.Valid && r.Power.String != "" {
		var p power.Analysis
		if err := json.Unmarshal([]byte(r.Power.String), &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal power analysis: %w", err)
		}
		e.Power = &p
	}
	return e, nil
}

// variantRow mirrors the variants table.
type variantRow struct {
	ID           string
	ExperimentID string
	Label        string
	Assignments  int
	Conversions  int
	State        sql.NullString // JSON, nil for stateless modes
}

func (r *variantRow) scan(s interface{ Scan(...any) error }) error {
	return s.Scan(&r.ID, &r.ExperimentID, &r.Label, &r.Assignments, &r.Conversions, &r.State)
}

func (r *variantRow) decode(mode experiment.Mode) (experiment.Variant, error) {
	state, err := experiment.UnmarshalState(mode, []byte(r.State.String))
	if err != nil {
		return experiment.Variant{}, err
	}
	return experiment.Variant{
		ID:           r.ID,
		ExperimentID: r.ExperimentID,
		Label:        r.Label,
		Assignments:  r.Assignments,
		Conversions:  r.Conversions,
		State:        state,
	}, nil
}

func encodeState(s experiment.VariantState) (sql.NullString, error) {
	if s == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal variant state: %w", err)
	}
	return nullableString(b), nil
}

func nullableString(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
