package lead

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS leads (
	id          TEXT PRIMARY KEY,
	nombre      TEXT NOT NULL DEFAULT '',
	email       TEXT NOT NULL DEFAULT '',
	telefono    TEXT NOT NULL DEFAULT '',
	direccion   TEXT NOT NULL DEFAULT '',
	idea        TEXT NOT NULL DEFAULT '',
	source      TEXT NOT NULL DEFAULT '',
	captured_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_leads_captured_at ON leads(captured_at);
`

// SQLiteSink stores leads in a local SQLite file. It suits single-node
// deployments that have no PostgreSQL.
type SQLiteSink struct {
	db *sql.DB
}

var _ Sink = (*SQLiteSink)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema. path ":memory:" gives a private in-memory database.
func OpenSQLite(path string) (*SQLiteSink, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("lead: sqlite: create directory: %w", err)
		}
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("lead: sqlite: open: %w", err)
	}
	// One writer keeps SQLITE_BUSY away and makes :memory: a single database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("lead: sqlite: create schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Name implements Sink.
func (s *SQLiteSink) Name() string { return "sqlite" }

// Save implements Sink. Saving a lead with an existing ID updates it.
func (s *SQLiteSink) Save(ctx context.Context, l Lead) error {
	const query = `
		INSERT INTO leads (id, nombre, email, telefono, direccion, idea, source, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			nombre = excluded.nombre,
			email = excluded.email,
			telefono = excluded.telefono,
			direccion = excluded.direccion,
			idea = excluded.idea`

	if _, err := s.db.ExecContext(ctx, query,
		l.ID, l.Nombre, l.Email, l.Telefono, l.Direccion, l.Idea, l.Source, l.CapturedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("lead: sqlite: save: %w", err)
	}
	return nil
}

// Recent returns up to limit leads, newest first.
func (s *SQLiteSink) Recent(ctx context.Context, limit int) ([]Lead, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, nombre, email, telefono, direccion, idea, source, captured_at
		FROM leads ORDER BY captured_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("lead: sqlite: query: %w", err)
	}
	defer rows.Close()

	var out []Lead
	for rows.Next() {
		var l Lead
		var capturedMs int64
		if err := rows.Scan(&l.ID, &l.Nombre, &l.Email, &l.Telefono, &l.Direccion, &l.Idea, &l.Source, &capturedMs); err != nil {
			return nil, fmt.Errorf("lead: sqlite: scan: %w", err)
		}
		l.CapturedAt = time.UnixMilli(capturedMs).UTC()
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lead: sqlite: rows: %w", err)
	}
	return out, nil
}

// Ping checks the database is usable.
func (s *SQLiteSink) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
