package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dunamismax/pixelproxy/internal/domain"
	_ "github.com/lib/pq"
)

const renderLogSchemaSQL = `
CREATE TABLE IF NOT EXISTS render_logs (
	id BIGSERIAL PRIMARY KEY,
	request_id TEXT NOT NULL,
	source_id TEXT NOT NULL,
	fingerprint BIGINT NOT NULL,
	chain TEXT NOT NULL,
	ops INTEGER NOT NULL,
	format TEXT NOT NULL,
	source_bytes BIGINT NOT NULL,
	output_bytes BIGINT NOT NULL,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	duration_ms BIGINT NOT NULL,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS render_logs_created_at_idx ON render_logs (created_at DESC);
`

type PostgresRenderLogStore struct {
	db *sql.DB
}

func NewPostgresRenderLogStore(ctx context.Context, dsn string) (*PostgresRenderLogStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresRenderLogStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresRenderLogStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, renderLogSchemaSQL); err != nil {
		return fmt.Errorf("ensure render_logs schema: %w", err)
	}
	return nil
}

func (s *PostgresRenderLogStore) Close() error {
	return s.db.Close()
}

func (s *PostgresRenderLogStore) Record(ctx context.Context, entry domain.RenderLog) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO render_logs (request_id, source_id, fingerprint, chain, ops, format, source_bytes,
		 output_bytes, width, height, duration_ms, status, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		entry.RequestID,
		entry.SourceID,
		// BIGINT is signed; the bit pattern round-trips through int64.
		int64(entry.Fingerprint),
		entry.Chain,
		entry.Ops,
		entry.Format,
		entry.SourceBytes,
		entry.OutputBytes,
		entry.Width,
		entry.Height,
		entry.DurationMS,
		entry.Status,
		entry.Error,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert render log: %w", err)
	}
	return nil
}

func (s *PostgresRenderLogStore) Recent(ctx context.Context, limit int) ([]domain.RenderLog, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT request_id, source_id, fingerprint, chain, ops, format, source_bytes, output_bytes,
		        width, height, duration_ms, status, error, created_at
		 FROM render_logs
		 ORDER BY created_at DESC, id DESC
		 LIMIT $1`,
		normalizeLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("query render logs: %w", err)
	}
	defer rows.Close()

	var out []domain.RenderLog
	for rows.Next() {
		var (
			entry       domain.RenderLog
			fingerprint int64
		)
		if err := rows.Scan(
			&entry.RequestID,
			&entry.SourceID,
			&fingerprint,
			&entry.Chain,
			&entry.Ops,
			&entry.Format,
			&entry.SourceBytes,
			&entry.OutputBytes,
			&entry.Width,
			&entry.Height,
			&entry.DurationMS,
			&entry.Status,
			&entry.Error,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan render log: %w", err)
		}
		entry.Fingerprint = uint64(fingerprint)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate render logs: %w", err)
	}
	return out, nil
}
