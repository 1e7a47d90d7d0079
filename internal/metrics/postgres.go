package metrics

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the operation_samples table. Execute it via
// [PostgresSink.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS operation_samples (
    id            BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    recorded_at   TIMESTAMPTZ NOT NULL,
    provider      TEXT NOT NULL,
    operation     TEXT NOT NULL,
    success       BOOLEAN NOT NULL,
    latency_ms    DOUBLE PRECISION NOT NULL,
    payload_bytes BIGINT NOT NULL DEFAULT 0,
    cache_hit     BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_operation_samples_recorded ON operation_samples(recorded_at);
CREATE INDEX IF NOT EXISTS idx_operation_samples_provider ON operation_samples(provider, recorded_at);
`

// DB is the database interface used by [PostgresSink]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// PostgresSink persists samples to a PostgreSQL table for retention beyond
// the in-memory window.
type PostgresSink struct {
	db DB
}

// Compile-time interface check.
var _ Sink = (*PostgresSink)(nil)

// NewPostgresSink creates a sink over the given connection or pool. The
// caller is responsible for calling [PostgresSink.Migrate] before the first
// write.
func NewPostgresSink(db DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// Migrate executes the [Schema] DDL, creating the table and indexes if they
// do not already exist.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("metrics: migrate: %w", err)
	}
	return nil
}

// Write implements [Sink] using the COPY protocol, which keeps batch inserts
// to a single round trip.
func (s *PostgresSink) Write(ctx context.Context, samples []Sample) error {
	if len(samples) == 0 {
		return nil
	}
	rows := make([][]any, len(samples))
	for i, smp := range samples {
		rows[i] = []any{
			smp.Time,
			smp.Provider,
			smp.Operation,
			smp.Success,
			float64(smp.Latency.Microseconds()) / 1000.0,
			smp.PayloadBytes,
			smp.CacheHit,
		}
	}
	_, err := s.db.CopyFrom(ctx,
		pgx.Identifier{"operation_samples"},
		[]string{"recorded_at", "provider", "operation", "success", "latency_ms", "payload_bytes", "cache_hit"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("metrics: copy samples: %w", err)
	}
	return nil
}
