package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/expstat/expstat/internal/bandit"
	"github.com/expstat/expstat/internal/experiment"
	"github.com/expstat/expstat/internal/power"
	"github.com/expstat/expstat/internal/sequential"
	"github.com/expstat/expstat/internal/stats"
)

type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS experiments (
    id TEXT PRIMARY KEY,
    name TEXT UNIQUE NOT NULL,
    mode TEXT NOT NULL,
    analysis TEXT,
    power TEXT,
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    updated_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE INDEX IF NOT EXISTS idx_experiments_name ON experiments(name);

CREATE TABLE IF NOT EXISTS variants (
    id TEXT PRIMARY KEY,
    experiment_id TEXT NOT NULL,
    label TEXT NOT NULL,
    position INTEGER NOT NULL,
    assignments INTEGER NOT NULL DEFAULT 0,
    conversions INTEGER NOT NULL DEFAULT 0,
    state TEXT,
    updated_at INTEGER NOT NULL DEFAULT (unixepoch()),
    FOREIGN KEY (experiment_id) REFERENCES experiments(id),
    UNIQUE (experiment_id, label)
);

CREATE INDEX IF NOT EXISTS idx_variants_experiment ON variants(experiment_id, position);

CREATE TABLE IF NOT EXISTS sequential_snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    experiment_id TEXT NOT NULL,
    check_number INTEGER NOT NULL,
    total_n INTEGER NOT NULL,
    control_n INTEGER NOT NULL,
    treatment_n INTEGER NOT NULL,
    information_fraction REAL NOT NULL,
    z_statistic REAL NOT NULL,
    upper_bound REAL NOT NULL,
    lower_bound REAL NOT NULL,
    alpha_spent REAL NOT NULL,
    decision TEXT NOT NULL,
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    FOREIGN KEY (experiment_id) REFERENCES experiments(id),
    UNIQUE (experiment_id, check_number)
);

CREATE TABLE IF NOT EXISTS regret_snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    experiment_id TEXT NOT NULL,
    total_pulls INTEGER NOT NULL,
    regret REAL NOT NULL,
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    FOREIGN KEY (experiment_id) REFERENCES experiments(id),
    UNIQUE (experiment_id, total_pulls)
);
`

func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer; a single connection turns lock contention
	// into queueing inside database/sql.
	db.SetMaxOpenConns(1)

	// Enable WAL mode
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Apply schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for health checks
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CreateExperiment inserts e and its variants, assigning IDs to any that
// are empty.
func (s *SQLiteStore) CreateExperiment(ctx context.Context, e *experiment.Experiment) error {
	if err := e.Validate(); err != nil {
		return err
	}

	analysisJSON, err := experiment.MarshalAnalysis(e.Analysis)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}
	var powerJSON []byte
	if e.Power != nil {
		if powerJSON, err = json.Marshal(e.Power); err != nil {
			return fmt.Errorf("failed to marshal power analysis: %w", err)
		}
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().Unix()

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO experiments (id, name, mode, analysis, power, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.Name, string(e.Mode()), string(analysisJSON), nullableString(powerJSON), now, now,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("experiment %q already exists: %w", e.Name, err)
			}
			return fmt.Errorf("failed to insert experiment: %w", err)
		}

		for i := range e.Variants {
			v := &e.Variants[i]
			if v.ID == "" {
				v.ID = uuid.NewString()
			}
			v.ExperimentID = e.ID
			state, err := encodeState(v.State)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO variants (id, experiment_id, label, position, assignments, conversions, state, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				v.ID, e.ID, v.Label, i, v.Assignments, v.Conversions, state, now,
			)
			if err != nil {
				return fmt.Errorf("failed to insert variant %s: %w", v.Label, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.CreatedAt = time.Unix(now, 0)
	return nil
}

const experimentColumns = `id, name, mode, analysis, power, created_at`

// GetExperiment loads an experiment by ID or name.
func (s *SQLiteStore) GetExperiment(ctx context.Context, ref string) (*experiment.Experiment, error) {
	return getExperiment(ctx, s.db, ref)
}

func getExperiment(ctx context.Context, q querier, ref string) (*experiment.Experiment, error) {
	var row experimentRow
	err := row.scan(q.QueryRowContext(ctx,
		`SELECT `+experimentColumns+` FROM experiments WHERE id = ? OR name = ? LIMIT 1`, ref, ref,
	))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("experiment %q: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}

	e, err := row.decode()
	if err != nil {
		return nil, err
	}
	if e.Variants, err = listVariants(ctx, q, e.ID, e.Mode()); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *SQLiteStore) ListExperiments(ctx context.Context) ([]*experiment.Experiment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+experimentColumns+` FROM experiments ORDER BY created_at DESC, name`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}

	var experiments []*experiment.Experiment
	for rows.Next() {
		var row experimentRow
		if err := row.scan(rows); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan experiment: %w", err)
		}
		e, err := row.decode()
		if err != nil {
			rows.Close()
			return nil, err
		}
		experiments = append(experiments, e)
	}
	// Release the single connection before loading variants.
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}

	for _, e := range experiments {
		if e.Variants, err = listVariants(ctx, s.db, e.ID, e.Mode()); err != nil {
			return nil, err
		}
	}
	return experiments, nil
}

func listVariants(ctx context.Context, q querier, experimentID string, mode experiment.Mode) ([]experiment.Variant, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, experiment_id, label, assignments, conversions, state
		 FROM variants WHERE experiment_id = ? ORDER BY position`,
		experimentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}
	defer rows.Close()

	var variants []experiment.Variant
	for rows.Next() {
		var row variantRow
		if err := row.scan(rows); err != nil {
			return nil, fmt.Errorf("failed to scan variant: %w", err)
		}
		v, err := row.decode(mode)
		if err != nil {
			return nil, err
		}
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

func experimentMode(ctx context.Context, q querier, experimentID string) (experiment.Mode, error) {
	var mode string
	err := q.QueryRowContext(ctx, `SELECT mode FROM experiments WHERE id = ?`, experimentID).Scan(&mode)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("experiment %q: %w", experimentID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get experiment mode: %w", err)
	}
	return experiment.ParseMode(mode)
}

func (s *SQLiteStore) GetVariantState(ctx context.Context, experimentID, variantID string) (experiment.VariantState, error) {
	mode, err := experimentMode(ctx, s.db, experimentID)
	if err != nil {
		return nil, err
	}

	var state sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT state FROM variants WHERE experiment_id = ? AND id = ?`, experimentID, variantID,
	).Scan(&state)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("variant %q: %w", variantID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get variant state: %w", err)
	}
	return experiment.UnmarshalState(mode, []byte(state.String))
}

func (s *SQLiteStore) SaveVariantState(ctx context.Context, experimentID, variantID string, state experiment.VariantState) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		mode, err := experimentMode(ctx, tx, experimentID)
		if err != nil {
			return err
		}
		if err := experiment.CheckState(mode, state); err != nil {
			return err
		}
		encoded, err := encodeState(state)
		if err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx,
			`UPDATE variants SET state = ?, updated_at = ? WHERE experiment_id = ? AND id = ?`,
			encoded, time.Now().Unix(), experimentID, variantID,
		)
		if err != nil {
			return fmt.Errorf("failed to save variant state: %w", err)
		}
		return expectRow(result, "variant", variantID)
	})
}

func (s *SQLiteStore) SaveVariants(ctx context.Context, experimentID string, variants []experiment.Variant) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		mode, err := experimentMode(ctx, tx, experimentID)
		if err != nil {
			return err
		}
		now := time.Now().Unix()
		for _, v := range variants {
			if err := experiment.CheckState(mode, v.State); err != nil {
				return err
			}
			encoded, err := encodeState(v.State)
			if err != nil {
				return err
			}
			result, err := tx.ExecContext(ctx,
				`UPDATE variants SET assignments = ?, conversions = ?, state = ?, updated_at = ?
				 WHERE experiment_id = ? AND id = ?`,
				v.Assignments, v.Conversions, encoded, now, experimentID, v.ID,
			)
			if err != nil {
				return fmt.Errorf("failed to save variant %s: %w", v.ID, err)
			}
			if err := expectRow(result, "variant", v.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

// IncrementCounts adds to a variant's counters atomically. An increment
// that would leave more conversions than assignments is refused with
// stats.ErrInsufficientData and changes nothing.
func (s *SQLiteStore) IncrementCounts(ctx context.Context, experimentID, variantID string, assignments, conversions int) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE variants SET assignments = assignments + ?, conversions = conversions + ?, updated_at = ?
		 WHERE experiment_id = ? AND id = ? AND conversions + ? <= assignments + ?`,
		assignments, conversions, time.Now().Unix(), experimentID, variantID, conversions, assignments,
	)
	if err != nil {
		return fmt.Errorf("failed to increment counts: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx,
		`SELECT 1 FROM variants WHERE experiment_id = ? AND id = ?`, experimentID, variantID,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("variant %q: %w", variantID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get variant: %w", err)
	}
	return fmt.Errorf("%w: variant %q would have more conversions than assignments", stats.ErrInsufficientData, variantID)
}

// GetExperimentPlan returns stats.ErrPlanNotFound for experiments that are
// not sequential.
func (s *SQLiteStore) GetExperimentPlan(ctx context.Context, experimentID string) (*sequential.Plan, error) {
	var row experimentRow
	err := row.scan(s.db.QueryRowContext(ctx,
		`SELECT `+experimentColumns+` FROM experiments WHERE id = ?`, experimentID,
	))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("experiment %q: %w", experimentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment plan: %w", err)
	}
	e, err := row.decode()
	if err != nil {
		return nil, err
	}
	seq, ok := e.Analysis.(experiment.Sequential)
	if !ok || seq.Plan == nil {
		return nil, fmt.Errorf("%w: experiment %s is %s", stats.ErrPlanNotFound, experimentID, e.Mode())
	}
	return seq.Plan, nil
}

func (s *SQLiteStore) AppendSequentialSnapshot(ctx context.Context, experimentID string, snap sequential.Snapshot) error {
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sequential_snapshots (experiment_id, check_number, total_n, control_n, treatment_n,
		   information_fraction, z_statistic, upper_bound, lower_bound, alpha_spent, decision, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		experimentID, snap.CheckNumber, snap.TotalN, snap.ControlN, snap.TreatmentN,
		snap.InformationFraction, snap.ZStatistic, snap.Upper, snap.Lower, snap.AlphaSpent,
		string(snap.Decision), snap.CreatedAt.Unix(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("check %d: %w", snap.CheckNumber, experiment.ErrCheckExists)
	}
	if err != nil {
		return fmt.Errorf("failed to append sequential snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListSequentialSnapshots(ctx context.Context, experimentID string) ([]sequential.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT check_number, total_n, control_n, treatment_n, information_fraction, z_statistic,
		   upper_bound, lower_bound, alpha_spent, decision, created_at
		 FROM sequential_snapshots WHERE experiment_id = ? ORDER BY check_number`,
		experimentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sequential snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []sequential.Snapshot
	for rows.Next() {
		var snap sequential.Snapshot
		var decision string
		var createdAt int64
		err := rows.Scan(&snap.CheckNumber, &snap.TotalN, &snap.ControlN, &snap.TreatmentN,
			&snap.InformationFraction, &snap.ZStatistic, &snap.Upper, &snap.Lower, &snap.AlphaSpent,
			&decision, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sequential snapshot: %w", err)
		}
		snap.Decision = sequential.Decision(decision)
		snap.CreatedAt = time.Unix(createdAt, 0)
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// SaveRegretSnapshot upserts by pull count so a replayed reward rewrites
// the same row.
func (s *SQLiteStore) SaveRegretSnapshot(ctx context.Context, experimentID string, snap bandit.RegretSnapshot) error {
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO regret_snapshots (experiment_id, total_pulls, regret, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (experiment_id, total_pulls) DO UPDATE SET regret = excluded.regret`,
		experimentID, snap.TotalPulls, snap.Regret, snap.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save regret snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListRegretSnapshots(ctx context.Context, experimentID string) ([]bandit.RegretSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT total_pulls, regret, created_at FROM regret_snapshots
		 WHERE experiment_id = ? ORDER BY total_pulls`,
		experimentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list regret snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []bandit.RegretSnapshot
	for rows.Next() {
		var snap bandit.RegretSnapshot
		var createdAt int64
		if err := rows.Scan(&snap.TotalPulls, &snap.Regret, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan regret snapshot: %w", err)
		}
		snap.CreatedAt = time.Unix(createdAt, 0)
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func (s *SQLiteStore) SavePowerAnalysis(ctx context.Context, experimentID string, a *power.Analysis) error {
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal power analysis: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE experiments SET power = ?, updated_at = ? WHERE id = ?`,
		string(b), time.Now().Unix(), experimentID,
	)
	if err != nil {
		return fmt.Errorf("failed to save power analysis: %w", err)
	}
	return expectRow(result, "experiment", experimentID)
}

func expectRow(result sql.Result, kind, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
