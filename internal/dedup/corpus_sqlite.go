// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package dedup

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ManuGH/tvscribe/internal/persistence/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS corpus (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	day     TEXT    NOT NULL,
	channel TEXT    NOT NULL,
	text    TEXT    NOT NULL,
	at_ns   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS corpus_day ON corpus(day);
`

// SQLiteCorpus stores the corpus in an append-only SQLite table that several
// daemons on one host may share.
type SQLiteCorpus struct {
	db *sql.DB
}

// OpenSQLiteCorpus opens (and migrates) the corpus database at path.
func OpenSQLiteCorpus(path string) (*SQLiteCorpus, error) {
	db, err := sqlite.Open(path, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate corpus: %w", err)
	}
	return &SQLiteCorpus{db: db}, nil
}

func (s *SQLiteCorpus) Entries(ctx context.Context, day string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT text, channel, at_ns FROM corpus WHERE day = ? ORDER BY id`, day)
	if err != nil {
		return nil, fmt.Errorf("query corpus: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ns int64
		if err := rows.Scan(&e.Text, &e.Channel, &ns); err != nil {
			return nil, fmt.Errorf("scan corpus row: %w", err)
		}
		e.At = time.Unix(0, ns)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteCorpus) Append(ctx context.Context, day string, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO corpus (day, channel, text, at_ns) VALUES (?, ?, ?, ?)`,
		day, e.Channel, e.Text, e.At.UnixNano())
	if err != nil {
		return fmt.Errorf("append corpus: %w", err)
	}
	return nil
}

func (s *SQLiteCorpus) Purge(ctx context.Context, keepFrom string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM corpus WHERE day < ?`, keepFrom); err != nil {
		return fmt.Errorf("purge corpus: %w", err)
	}
	return nil
}

func (s *SQLiteCorpus) Close() error { return s.db.Close() }
