package xlsxbackend

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/FranksOps/gleaner/internal/export"
	"github.com/FranksOps/gleaner/internal/storage"
	"github.com/xuri/excelize/v2"
)

// ensure Sink implements storage.Sink
var _ storage.Sink = (*Sink)(nil)

// Sink writes every export to its own single-sheet workbook in Dir.
type Sink struct {
	dir    string
	logger *slog.Logger
}

// New creates a workbook sink rooted at dir, creating it if needed.
func New(dir string, logger *slog.Logger) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("xlsx: %w", err)
	}
	return &Sink{dir: dir, logger: logger}, nil
}

// PathFor returns where e is (or will be) written.
func (s *Sink) PathFor(e *storage.Export) string {
	return filepath.Join(s.dir, export.FileName(e.Source, e.Query, e.CreatedAt, ".xlsx"))
}

func (s *Sink) Save(ctx context.Context, e *storage.Export) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sheet := "Sheet1"
	var widths []float64
	if schema, ok := export.SchemaByName(e.Schema); ok {
		sheet = schema.Sheet
		widths = schema.Widths
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("xlsx: %w", err)
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("xlsx: %w", err)
	}
	for i, w := range widths {
		if err := sw.SetColWidth(i+1, i+1, w); err != nil {
			return fmt.Errorf("xlsx: %w", err)
		}
	}

	header := make([]any, len(e.Columns))
	for i, c := range e.Columns {
		header[i] = c
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("xlsx: %w", err)
	}
	for i, row := range e.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("xlsx: %w", err)
		}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("xlsx: row %d: %w", i, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("xlsx: %w", err)
	}

	path := s.PathFor(e)
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("xlsx: %w", err)
	}
	s.logger.Info("wrote workbook", "path", path, "rows", len(e.Rows))
	return nil
}

func (s *Sink) Close() error { return nil }
