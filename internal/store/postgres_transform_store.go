package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dunamismax/imagehandler/internal/domain"
	_ "github.com/lib/pq"
)

const transformSchemaSQL = `
CREATE TABLE IF NOT EXISTS transforms (
	id TEXT PRIMARY KEY,
	origin TEXT NOT NULL,
	bucket TEXT NOT NULL,
	object_key TEXT NOT NULL,
	edits TEXT NOT NULL DEFAULT '',
	output_format TEXT NOT NULL DEFAULT '',
	content_type TEXT NOT NULL DEFAULT '',
	source_bytes INTEGER NOT NULL DEFAULT 0,
	output_bytes INTEGER NOT NULL DEFAULT 0,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
`

type PostgresTransformStore struct {
	db *sql.DB
}

func NewPostgresTransformStore(ctx context.Context, dsn string) (*PostgresTransformStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresTransformStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresTransformStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, transformSchemaSQL); err != nil {
		return fmt.Errorf("ensure transforms schema: %w", err)
	}
	return nil
}

func (s *PostgresTransformStore) Close() error {
	return s.db.Close()
}

// Record upserts rec so that an export's final outcome replaces its earlier
// attempts.
func (s *PostgresTransformStore) Record(ctx context.Context, rec domain.TransformRecord) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO transforms (id, origin, bucket, object_key, edits, output_format, content_type,
		                         source_bytes, output_bytes, duration_ms, status, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (id) DO UPDATE SET
		   output_format = EXCLUDED.output_format,
		   content_type = EXCLUDED.content_type,
		   source_bytes = EXCLUDED.source_bytes,
		   output_bytes = EXCLUDED.output_bytes,
		   duration_ms = EXCLUDED.duration_ms,
		   status = EXCLUDED.status,
		   error = EXCLUDED.error,
		   created_at = EXCLUDED.created_at`,
		rec.ID,
		rec.Origin,
		rec.Bucket,
		rec.Key,
		rec.Edits,
		rec.OutputFormat,
		rec.ContentType,
		rec.SourceBytes,
		rec.OutputBytes,
		rec.DurationMS,
		rec.Status,
		rec.Error,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transform record: %w", err)
	}
	return nil
}

func (s *PostgresTransformStore) Get(ctx context.Context, id string) (domain.TransformRecord, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, origin, bucket, object_key, edits, output_format, content_type,
		        source_bytes, output_bytes, duration_ms, status, error, created_at
		 FROM transforms
		 WHERE id = $1`,
		id,
	)

	var rec domain.TransformRecord
	if err := row.Scan(
		&rec.ID,
		&rec.Origin,
		&rec.Bucket,
		&rec.Key,
		&rec.Edits,
		&rec.OutputFormat,
		&rec.ContentType,
		&rec.SourceBytes,
		&rec.OutputBytes,
		&rec.DurationMS,
		&rec.Status,
		&rec.Error,
		&rec.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.TransformRecord{}, false, nil
		}
		return domain.TransformRecord{}, false, fmt.Errorf("query transform record: %w", err)
	}

	return rec, true, nil
}
