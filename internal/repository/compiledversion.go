package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	apperrors "github.com/rasterjit/engine/pkg/errors"
	"github.com/rasterjit/engine/pkg/task"
)

// CompiledVersion represents a row of the compiled_version table: one row
// per (signature, device, detail) combination the Program has ever
// generated source for, surviving across process runs (§2.NEW component J,
// resolving the "code cache" open question by persisting rather than
// clearing it).
type CompiledVersion struct {
	ID           int64
	Signature    string
	Device       string
	Detail       string
	KernelSource string
	CompiledAt   time.Time
}

// TableName returns the table name for CompiledVersion.
func (CompiledVersion) TableName() string {
	return "compiled_version"
}

// CompiledVersionRepository implements task.VersionRepository over a plain
// *sql.DB, grounded on the teacher's hand-written-SQL repository style
// (as opposed to its GORM models) so the exact query shape is assertable
// with go-sqlmock without a live database. sqlite is the default backing
// store (NewCompiledVersionDB); any driver/DSN database/sql supports can be
// substituted as long as its driver package is blank-imported.
type CompiledVersionRepository struct {
	db *sql.DB
}

// NewCompiledVersionRepository wraps db as a task.VersionRepository.
func NewCompiledVersionRepository(db *sql.DB) *CompiledVersionRepository {
	return &CompiledVersionRepository{db: db}
}

var _ task.VersionRepository = (*CompiledVersionRepository)(nil)

// Lookup returns the most recently compiled source for (signature, dev,
// detail), if one was ever persisted.
func (r *CompiledVersionRepository) Lookup(signature, dev, detail string) (string, bool, error) {
	const query = `
		SELECT kernel_source
		FROM compiled_version
		WHERE signature = ? AND device = ? AND detail = ?
		ORDER BY id DESC
		LIMIT 1
	`

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var source string
	err := r.db.QueryRowContext(ctx, query, signature, dev, detail).Scan(&source)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to look up compiled version", err)
	}
	return source, true, nil
}

// Store persists a newly generated Version's source, keyed by (signature,
// dev, detail). Callers only reach Store after a Lookup miss (§4.D), so a
// plain insert is sufficient; no upsert-on-conflict handling is needed.
func (r *CompiledVersionRepository) Store(signature, dev, detail, source string) error {
	const query = `
		INSERT INTO compiled_version (signature, device, detail, kernel_source, compiled_at)
		VALUES (?, ?, ?, ?, ?)
	`

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := r.db.ExecContext(ctx, query, signature, dev, detail, source, time.Now())
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "failed to store compiled version", err)
	}
	return nil
}

// sqliteDefaultDSN is the on-disk location used when no explicit storage
// config is supplied, keeping the compiled-version cache durable across
// runs without requiring a configured mysql/postgres instance.
const sqliteDefaultDSN = "file:compiled_version.db?cache=shared&_busy_timeout=5000"

// CompiledVersionTableDDL creates the compiled_version table if it does not
// already exist. Called once at startup against whichever *sql.DB backs
// the repository; kept as a standalone statement (rather than gorm
// AutoMigrate) so the same DDL works unmodified against sqlite, mysql, or
// postgres.
const CompiledVersionTableDDL = `
CREATE TABLE IF NOT EXISTS compiled_version (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	signature TEXT NOT NULL,
	device TEXT NOT NULL,
	detail TEXT NOT NULL,
	kernel_source TEXT NOT NULL,
	compiled_at DATETIME NOT NULL
)`

// EnsureCompiledVersionTable runs CompiledVersionTableDDL against db.
func EnsureCompiledVersionTable(db *sql.DB) error {
	if _, err := db.Exec(CompiledVersionTableDDL); err != nil {
		return fmt.Errorf("failed to create compiled_version table: %w", err)
	}
	return nil
}
