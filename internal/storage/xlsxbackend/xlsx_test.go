package xlsxbackend

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/FranksOps/gleaner/internal/export"
	"github.com/FranksOps/gleaner/internal/storage"
	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"
)

func TestSinkWritesWorkbook(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer s.Close()

	e := &storage.Export{
		Source:  "29cm",
		Query:   "니트 가디건",
		Schema:  export.ReviewSchema.Name,
		Columns: export.ReviewSchema.Columns,
		Rows: [][]any{
			{"1", "black, M", "u1", "good", 5.0, "2024-01-01"},
			{"2", "", "u2", "meh", 3.5, "2024-01-02"},
		},
		CreatedAt: time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC),
	}
	if err := s.Save(context.Background(), e); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	path := filepath.Join(dir, "29cm_니트_가디건_2024-03-09.xlsx")
	if got := s.PathFor(e); got != path {
		t.Errorf("PathFor = %q, want %q", got, path)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("Failed to open workbook: %v", err)
	}
	defer f.Close()

	if sheets := f.GetSheetList(); len(sheets) != 1 || sheets[0] != "리뷰" {
		t.Fatalf("expected a single 리뷰 sheet, got %v", sheets)
	}

	rows, err := f.GetRows("리뷰")
	if err != nil {
		t.Fatalf("Failed to read rows: %v", err)
	}
	want := [][]string{
		{"상품번호", "옵션값", "사용자ID", "내용", "평점", "작성일시"},
		{"1", "black, M", "u1", "good", "5", "2024-01-01"},
		{"2", "", "u2", "meh", "3.5", "2024-01-02"},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}

	w, err := f.GetColWidth("리뷰", "D")
	if err != nil {
		t.Fatalf("Failed to read width: %v", err)
	}
	if w != 50 {
		t.Errorf("expected content column width 50, got %v", w)
	}
}

func TestSinkHonoursContext(t *testing.T) {
	s, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Save(ctx, &storage.Export{Source: "x", Query: "y"}); err == nil {
		t.Errorf("expected context error")
	}
}
