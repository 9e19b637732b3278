package lead

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSchema is the DDL for the leads table. Apply it with
// [PostgresSink.Migrate] or during deployment.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS leads (
    id          TEXT PRIMARY KEY,
    nombre      TEXT NOT NULL DEFAULT '',
    email       TEXT NOT NULL DEFAULT '',
    telefono    TEXT NOT NULL DEFAULT '',
    direccion   TEXT NOT NULL DEFAULT '',
    idea        TEXT NOT NULL DEFAULT '',
    source      TEXT NOT NULL DEFAULT '',
    captured_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_leads_captured_at ON leads(captured_at);
CREATE INDEX IF NOT EXISTS idx_leads_email ON leads(email);
`

// PgDB is the subset of *pgxpool.Pool and *pgx.Conn used by PostgresSink.
type PgDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresSink stores leads in PostgreSQL.
type PostgresSink struct {
	db   PgDB
	pool *pgxpool.Pool
}

var _ Sink = (*PostgresSink)(nil)

// NewPostgresSink wraps an existing connection or pool. The caller keeps
// ownership of db.
func NewPostgresSink(db PgDB) *PostgresSink {
	return &PostgresSink{db: db}
}

// OpenPostgres connects a pool to dsn, applies the schema and returns a sink
// that owns the pool.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("lead: postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("lead: postgres: ping: %w", err)
	}
	s := &PostgresSink{db: pool, pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate executes PostgresSchema.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("lead: postgres: migrate: %w", err)
	}
	return nil
}

// Name implements Sink.
func (s *PostgresSink) Name() string { return "postgres" }

// Save implements Sink. Saving a lead with an existing ID updates it.
func (s *PostgresSink) Save(ctx context.Context, l Lead) error {
	const query = `
		INSERT INTO leads (id, nombre, email, telefono, direccion, idea, source, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			nombre = EXCLUDED.nombre,
			email = EXCLUDED.email,
			telefono = EXCLUDED.telefono,
			direccion = EXCLUDED.direccion,
			idea = EXCLUDED.idea`

	if _, err := s.db.Exec(ctx, query,
		l.ID, l.Nombre, l.Email, l.Telefono, l.Direccion, l.Idea, l.Source, l.CapturedAt,
	); err != nil {
		return fmt.Errorf("lead: postgres: save: %w", err)
	}
	return nil
}

// Ping checks the database is reachable.
func (s *PostgresSink) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("lead: postgres: ping: %w", err)
	}
	return nil
}

// Close releases the pool if the sink opened it.
func (s *PostgresSink) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
