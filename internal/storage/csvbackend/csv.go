package csvbackend

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/FranksOps/gleaner/internal/export"
	"github.com/FranksOps/gleaner/internal/storage"
)

// ensure csvBackend implements storage.Sink
var _ storage.Sink = (*csvBackend)(nil)

// bom lets spreadsheet programs detect UTF-8 so Hangul columns survive.
var bom = []byte{0xEF, 0xBB, 0xBF}

type csvBackend struct {
	dir string
}

// New creates a CSV sink that writes one file per export into dir.
func New(dir string) (storage.Sink, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("csv: %w", err)
	}
	return &csvBackend{dir: dir}, nil
}

// PathFor returns the file an export is written to.
func PathFor(dir string, e *storage.Export) string {
	return filepath.Join(dir, export.FileName(e.Source, e.Query, e.CreatedAt, ".csv"))
}

func (b *csvBackend) Save(ctx context.Context, e *storage.Export) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.Create(PathFor(b.dir, e))
	if err != nil {
		return fmt.Errorf("csv: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(bom); err != nil {
		return fmt.Errorf("csv: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(e.Columns); err != nil {
		return fmt.Errorf("csv: %w", err)
	}
	record := make([]string, 0, len(e.Columns))
	for _, row := range e.Rows {
		record = record[:0]
		for _, v := range row {
			record = append(record, cell(v))
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("csv: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("csv: %w", err)
	}
	return f.Close()
}

func cell(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return fmt.Sprint(v)
	}
}

func (b *csvBackend) Close() error { return nil }
