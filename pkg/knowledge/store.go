// Package knowledge stores curated exhibit facts used to ground docent
// responses. Facts live in a local SQLite database so content teams can
// update them without redeploying the server.
package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// ErrInvalidFact is returned when a fact is missing its subject or body.
var ErrInvalidFact = errors.New("knowledge: subject and fact required")

const schema = `
CREATE TABLE IF NOT EXISTS facts (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	subject TEXT NOT NULL COLLATE NOCASE,
	fact    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_facts_subject ON facts(subject);
`

// DefaultFactLimit bounds how many facts one lookup returns.
const DefaultFactLimit = 5

// Store is a SQLite-backed fact catalog. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed initializes) a fact store at path.
// Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("knowledge: open %s: %w", path, err)
	}

	// modernc/sqlite serializes writes; one connection avoids
	// SQLITE_BUSY under concurrent turns.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("knowledge: init schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// AddFact registers one fact for a subject.
func (s *Store) AddFact(ctx context.Context, subject, fact string) error {
	subject = strings.TrimSpace(subject)
	fact = strings.TrimSpace(fact)
	if subject == "" || fact == "" {
		return ErrInvalidFact
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO facts (subject, fact) VALUES (?, ?)`, subject, fact)
	if err != nil {
		return fmt.Errorf("knowledge: add fact: %w", err)
	}
	return nil
}

// Facts returns up to DefaultFactLimit facts whose subject matches the
// given label. Matching is case-insensitive and tolerates the label being
// a longer detector string (e.g. "red panda (ailurus fulgens)").
func (s *Store) Facts(ctx context.Context, label string) ([]string, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT fact FROM facts
		 WHERE ? LIKE '%' || subject || '%' OR subject LIKE '%' || ? || '%'
		 ORDER BY id LIMIT ?`,
		label, label, DefaultFactLimit)
	if err != nil {
		return nil, fmt.Errorf("knowledge: query facts: %w", err)
	}
	defer rows.Close()

	var facts []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, fmt.Errorf("knowledge: scan fact: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// Subjects lists all distinct subjects in the catalog.
func (s *Store) Subjects(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT subject FROM facts ORDER BY subject`)
	if err != nil {
		return nil, fmt.Errorf("knowledge: list subjects: %w", err)
	}
	defer rows.Close()

	var subjects []string
	for rows.Next() {
		var sub string
		if err := rows.Scan(&sub); err != nil {
			return nil, fmt.Errorf("knowledge: scan subject: %w", err)
		}
		subjects = append(subjects, sub)
	}
	return subjects, rows.Err()
}
