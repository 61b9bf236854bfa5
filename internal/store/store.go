package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite analysis cache. It remembers what each script was found
// to read and write, along with the content hash of every module file the
// scan loaded, so unchanged scripts need not be parsed again.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the cache tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS scripts (
  id              INTEGER PRIMARY KEY,
  path            TEXT NOT NULL UNIQUE,
  stage           TEXT NOT NULL,
  patterns_hash   TEXT NOT NULL,
  analyzed_at     TIMESTAMP
);

-- Every module source file consulted while scanning a script, the script
-- itself included.
CREATE TABLE IF NOT EXISTS script_files (
  id              INTEGER PRIMARY KEY,
  script_id       INTEGER NOT NULL REFERENCES scripts(id) ON DELETE CASCADE,
  path            TEXT NOT NULL,
  hash            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS dependencies (
  id              INTEGER PRIMARY KEY,
  script_id       INTEGER NOT NULL REFERENCES scripts(id) ON DELETE CASCADE,
  kind            TEXT NOT NULL,
  ordinal         INTEGER NOT NULL,
  file            TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scripts_stage ON scripts(stage);
CREATE INDEX IF NOT EXISTS idx_script_files_script ON script_files(script_id);
CREATE INDEX IF NOT EXISTS idx_script_files_path ON script_files(path);
CREATE INDEX IF NOT EXISTS idx_dependencies_script ON dependencies(script_id);
CREATE INDEX IF NOT EXISTS idx_dependencies_file ON dependencies(file);
`
