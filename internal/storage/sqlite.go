package storage

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mogad0n/oraserv/internal/ban"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const createBansTable = `
CREATE TABLE IF NOT EXISTS bans (
	nick       TEXT PRIMARY KEY,
	subject    TEXT NOT NULL,
	kind       TEXT NOT NULL,
	mask       TEXT NOT NULL DEFAULT '',
	set_by     TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);`

// SQLite stores the ledger in bans.db in the data directory.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, dataDir string) (*SQLite, error) {
	db, err := sql.Open("sqlite", filepath.Join(dataDir, "bans.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// One writer at a time; sqlite serializes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, createBansTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bans table: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Load(ctx context.Context) (map[string]ban.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT nick, subject, kind, mask, set_by, created_at FROM bans`)
	if err != nil {
		return nil, fmt.Errorf("failed to query bans: %w", err)
	}
	defer rows.Close()

	records := map[string]ban.Record{}
	for rows.Next() {
		var (
			nick      string
			kind      string
			createdAt string
			rec       ban.Record
		)

		if err := rows.Scan(&nick, &rec.Subject, &kind, &rec.Mask, &rec.SetBy, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan ban: %w", err)
		}

		rec.Kind = ban.Kind(kind)

		if err := rec.Kind.Validate(); err != nil {
			return nil, fmt.Errorf("record for %s: %w", nick, err)
		}

		rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("record for %s: bad created_at: %w", nick, err)
		}

		records[nick] = rec
	}

	return records, rows.Err()
}

// Save replaces the table contents in a single transaction.
func (s *SQLite) Save(ctx context.Context, records map[string]ban.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM bans`); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO bans (nick, subject, kind, mask, set_by, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for nick, rec := range records {
		if _, err := stmt.ExecContext(ctx, nick, rec.Subject, string(rec.Kind), rec.Mask, rec.SetBy,
			rec.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
