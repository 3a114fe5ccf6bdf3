package store

import (
	"database/sql"

	"github.com/expstat/expstat/internal/experiment"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = experiment.ErrNotFound

// Store is the experiment repository plus access to the database handle
// for health checks.
type Store interface {
	experiment.Repository
	DB() *sql.DB
}

var _ Store = (*SQLiteStore)(nil)
