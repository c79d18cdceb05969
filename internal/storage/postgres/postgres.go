package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/FranksOps/gleaner/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ensure postgresBackend implements storage.Backend
var _ storage.Backend = (*postgresBackend)(nil)

type postgresBackend struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS exports (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	query TEXT NOT NULL,
	schema_name TEXT NOT NULL,
	columns JSONB NOT NULL,
	rows JSONB NOT NULL,
	row_count INTEGER NOT NULL,
	calls INTEGER NOT NULL,
	ended_due_to_error BOOLEAN NOT NULL,
	error TEXT,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS exports_created_at ON exports (created_at);
`

// New creates a new Postgres-backed run archive.
func New(ctx context.Context, dsn string) (storage.Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: %w", err)
	}

	return &postgresBackend{pool: pool}, nil
}

func (b *postgresBackend) Save(ctx context.Context, e *storage.Export) error {
	columnsJSON, err := json.Marshal(e.Columns)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	rowsJSON, err := json.Marshal(e.Rows)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	query := `
	INSERT INTO exports (
		id, source, query, schema_name, columns, rows, row_count, calls, ended_due_to_error, error, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = b.pool.Exec(ctx, query,
		e.ID,
		e.Source,
		e.Query,
		e.Schema,
		columnsJSON,
		rowsJSON,
		len(e.Rows),
		e.Calls,
		e.EndedDueToError,
		e.Error,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (b *postgresBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Export, error) {
	query := `SELECT id, source, query, schema_name, columns, rows, calls, ended_due_to_error, COALESCE(error, ''), created_at FROM exports WHERE 1=1`
	args := []any{}
	paramCount := 1

	if filter.Source != "" {
		query += fmt.Sprintf(` AND source = $%d`, paramCount)
		args = append(args, filter.Source)
		paramCount++
	}
	if filter.Query != "" {
		query += fmt.Sprintf(` AND query = $%d`, paramCount)
		args = append(args, filter.Query)
		paramCount++
	}
	if filter.EndedDueToError != nil {
		query += fmt.Sprintf(` AND ended_due_to_error = $%d`, paramCount)
		args = append(args, *filter.EndedDueToError)
		paramCount++
	}
	if filter.Since != nil {
		query += fmt.Sprintf(` AND created_at >= $%d`, paramCount)
		args = append(args, *filter.Since)
		paramCount++
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, paramCount)
		args = append(args, filter.Limit)
		paramCount++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, paramCount)
		args = append(args, filter.Offset)
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	defer rows.Close()

	var results []*storage.Export
	for rows.Next() {
		var e storage.Export
		var columnsJSON, rowsJSON []byte

		err := rows.Scan(
			&e.ID, &e.Source, &e.Query, &e.Schema, &columnsJSON, &rowsJSON,
			&e.Calls, &e.EndedDueToError, &e.Error, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}

		if err := json.Unmarshal(columnsJSON, &e.Columns); err != nil {
			return nil, fmt.Errorf("postgres: columns of %s: %w", e.ID, err)
		}
		if err := json.Unmarshal(rowsJSON, &e.Rows); err != nil {
			return nil, fmt.Errorf("postgres: rows of %s: %w", e.ID, err)
		}

		results = append(results, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}

	return results, nil
}

func (b *postgresBackend) Close() error {
	b.pool.Close()
	return nil
}
