package store

import (
	"database/sql"
	"fmt"
)

// --- Write operations ---

// SaveAnalysis replaces the cached analysis of a.Path.
func (s *Store) SaveAnalysis(a *Analysis) error {
	return s.CommitBatch([]*Analysis{a})
}

// CommitBatch replaces the cached analyses of every script in batch within a
// single transaction. IDs are set on success.
func (s *Store) CommitBatch(batch []*Analysis) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("commit batch: begin: %w", err)
	}
	defer tx.Rollback()

	for _, a := range batch {
		if _, err := tx.Exec("DELETE FROM scripts WHERE path = ?", a.Path); err != nil {
			return fmt.Errorf("commit batch: delete %s: %w", a.Path, err)
		}
		if err := insertAnalysisTx(tx, a); err != nil {
			return fmt.Errorf("commit batch: %s: %w", a.Path, err)
		}
	}
	return tx.Commit()
}

func insertAnalysisTx(tx *sql.Tx, a *Analysis) error {
	res, err := tx.Exec(
		"INSERT INTO scripts (path, stage, patterns_hash, analyzed_at) VALUES (?, ?, ?, ?)",
		a.Path, a.Stage, a.PatternsHash, a.AnalyzedAt,
	)
	if err != nil {
		return fmt.Errorf("insert script: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}

	for _, f := range a.Files {
		if _, err := tx.Exec(
			"INSERT INTO script_files (script_id, path, hash) VALUES (?, ?, ?)",
			id, f.Path, f.Hash,
		); err != nil {
			return fmt.Errorf("insert script file: %w", err)
		}
	}

	for _, group := range []struct {
		kind  string
		files []string
	}{
		{KindPrerequisite, a.Prerequisites},
		{KindReference, a.References},
		{KindTarget, a.Targets},
	} {
		for i, file := range group.files {
			if _, err := tx.Exec(
				"INSERT INTO dependencies (script_id, kind, ordinal, file) VALUES (?, ?, ?, ?)",
				id, group.kind, i, file,
			); err != nil {
				return fmt.Errorf("insert %s: %w", group.kind, err)
			}
		}
	}
	a.ID = id
	return nil
}

// DeleteAnalysis removes the cached analysis of the script at path, if any.
func (s *Store) DeleteAnalysis(path string) error {
	if _, err := s.db.Exec("DELETE FROM scripts WHERE path = ?", path); err != nil {
		return fmt.Errorf("delete analysis: %w", err)
	}
	return nil
}

// DeleteStale removes analyses of stage whose script is not in keep, and
// returns how many were removed.
func (s *Store) DeleteStale(stage string, keep []string) (int64, error) {
	query := "DELETE FROM scripts WHERE stage = ?"
	args := []any{stage}
	if len(keep) > 0 {
		query += " AND path NOT IN (" + placeholderList(len(keep)) + ")"
		args = append(args, stringsToArgs(keep)...)
	}
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete stale analyses: %w", err)
	}
	return res.RowsAffected()
}

// --- Read operations ---

const scriptCols = "id, path, stage, patterns_hash, analyzed_at"

// AnalysisByPath returns the cached analysis of the script at path, or nil
// when there is none.
func (s *Store) AnalysisByPath(path string) (*Analysis, error) {
	a, err := scanAnalysis(s.db.QueryRow("SELECT "+scriptCols+" FROM scripts WHERE path = ?", path))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("analysis by path: %w", err)
	}
	if err := s.loadDetails(a); err != nil {
		return nil, err
	}
	return a, nil
}

// AnalysesByStage returns the cached analyses of a stage ordered by path.
func (s *Store) AnalysesByStage(stage string) ([]*Analysis, error) {
	rows, err := s.db.Query("SELECT "+scriptCols+" FROM scripts WHERE stage = ? ORDER BY path", stage)
	if err != nil {
		return nil, fmt.Errorf("analyses by stage: %w", err)
	}
	var analyses []*Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan script: %w", err)
		}
		analyses = append(analyses, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, a := range analyses {
		if err := s.loadDetails(a); err != nil {
			return nil, err
		}
	}
	return analyses, nil
}

// ScriptsUsingFile returns the paths of scripts whose cached scan loaded the
// module file at path.
func (s *Store) ScriptsUsingFile(path string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT s.path FROM script_files f
		 JOIN scripts s ON s.id = f.script_id
		 WHERE f.path = ? ORDER BY s.path`, path,
	)
	if err != nil {
		return nil, fmt.Errorf("scripts using file: %w", err)
	}
	defer rows.Close()
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan script path: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func scanAnalysis(scanner interface{ Scan(...any) error }) (*Analysis, error) {
	a := &Analysis{}
	if err := scanner.Scan(&a.ID, &a.Path, &a.Stage, &a.PatternsHash, &a.AnalyzedAt); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Store) loadDetails(a *Analysis) error {
	rows, err := s.db.Query("SELECT path, hash FROM script_files WHERE script_id = ? ORDER BY id", a.ID)
	if err != nil {
		return fmt.Errorf("script files: %w", err)
	}
	for rows.Next() {
		var f FileHash
		if err := rows.Scan(&f.Path, &f.Hash); err != nil {
			rows.Close()
			return fmt.Errorf("scan script file: %w", err)
		}
		a.Files = append(a.Files, f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.db.Query("SELECT kind, file FROM dependencies WHERE script_id = ? ORDER BY kind, ordinal", a.ID)
	if err != nil {
		return fmt.Errorf("dependencies: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind, file string
		if err := rows.Scan(&kind, &file); err != nil {
			return fmt.Errorf("scan dependency: %w", err)
		}
		switch kind {
		case KindPrerequisite:
			a.Prerequisites = append(a.Prerequisites, file)
		case KindReference:
			a.References = append(a.References, file)
		case KindTarget:
			a.Targets = append(a.Targets, file)
		}
	}
	return rows.Err()
}
