package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/FranksOps/gleaner/internal/storage"
	_ "modernc.org/sqlite"
)

// ensure sqliteBackend implements storage.Backend
var _ storage.Backend = (*sqliteBackend)(nil)

type sqliteBackend struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS exports (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	query TEXT NOT NULL,
	schema_name TEXT NOT NULL,
	columns TEXT NOT NULL,
	rows TEXT NOT NULL,
	row_count INTEGER NOT NULL,
	calls INTEGER NOT NULL,
	ended_due_to_error BOOLEAN NOT NULL,
	error TEXT,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS exports_created_at ON exports (created_at);
`

// New creates a new SQLite-backed run archive.
func New(dsn string) (storage.Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: %w", err)
	}

	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) Save(ctx context.Context, e *storage.Export) error {
	columnsJSON, err := json.Marshal(e.Columns)
	if err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	rowsJSON, err := json.Marshal(e.Rows)
	if err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}

	query := `
	INSERT INTO exports (
		id, source, query, schema_name, columns, rows, row_count, calls, ended_due_to_error, error, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = b.db.ExecContext(ctx, query,
		e.ID,
		e.Source,
		e.Query,
		e.Schema,
		string(columnsJSON),
		string(rowsJSON),
		len(e.Rows),
		e.Calls,
		e.EndedDueToError,
		e.Error,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}

	return nil
}

func (b *sqliteBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Export, error) {
	query := `SELECT id, source, query, schema_name, columns, rows, calls, ended_due_to_error, error, created_at FROM exports WHERE 1=1`
	args := []any{}

	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, filter.Source)
	}
	if filter.Query != "" {
		query += ` AND query = ?`
		args = append(args, filter.Query)
	}
	if filter.EndedDueToError != nil {
		query += ` AND ended_due_to_error = ?`
		args = append(args, *filter.EndedDueToError)
	}
	if filter.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, *filter.Since)
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		query += ` LIMIT -1`
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	defer rows.Close()

	var results []*storage.Export
	for rows.Next() {
		var e storage.Export
		var columnsJSON, rowsJSON string
		var errText sql.NullString

		err := rows.Scan(
			&e.ID, &e.Source, &e.Query, &e.Schema, &columnsJSON, &rowsJSON,
			&e.Calls, &e.EndedDueToError, &errText, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		e.Error = errText.String

		if err := json.Unmarshal([]byte(columnsJSON), &e.Columns); err != nil {
			return nil, fmt.Errorf("sqlite: columns of %s: %w", e.ID, err)
		}
		if err := json.Unmarshal([]byte(rowsJSON), &e.Rows); err != nil {
			return nil, fmt.Errorf("sqlite: rows of %s: %w", e.ID, err)
		}

		results = append(results, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}

	return results, nil
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}
