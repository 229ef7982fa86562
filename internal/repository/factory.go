package repository

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// NewCompiledVersionDB opens the *sql.DB backing CompiledVersionRepository.
// dsn empty defaults to a local sqlite file (§2.NEW component J); any
// non-empty dsn is passed straight through, allowing mysql/postgres DSNs
// when the persistent Version cache should share a different database, as
// long as the matching database/sql driver is blank-imported alongside it.
func NewCompiledVersionDB(driverName, dsn string) (*sql.DB, error) {
	if driverName == "" {
		driverName = "sqlite3"
	}
	if dsn == "" {
		dsn = sqliteDefaultDSN
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open compiled-version store: %w", err)
	}
	if err := EnsureCompiledVersionTable(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
