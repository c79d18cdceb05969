package csvbackend

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"testing"
	"time"

	"github.com/FranksOps/gleaner/internal/export"
	"github.com/FranksOps/gleaner/internal/storage"
	"github.com/google/go-cmp/cmp"
)

func TestCSVBackend(t *testing.T) {
	tmpDir := t.TempDir()

	b, err := New(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create CSV backend: %v", err)
	}
	defer b.Close()

	e := &storage.Export{
		Source:  "instagram",
		Query:   "brand",
		Schema:  export.FollowerSchema.Name,
		Columns: export.FollowerSchema.Columns,
		Rows: [][]any{
			{"brand", "a", "Alice, \"A\""},
			{"brand", "b", nil},
		},
		CreatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := b.Save(context.Background(), e); err != nil {
		t.Fatalf("Failed to save export: %v", err)
	}

	data, err := os.ReadFile(PathFor(tmpDir, e))
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if !bytes.HasPrefix(data, bom) {
		t.Errorf("expected UTF-8 byte order mark")
	}

	records, err := csv.NewReader(bytes.NewReader(data[len(bom):])).ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse csv: %v", err)
	}
	want := [][]string{
		{"계정", "팔로워 아이디", "팔로워 이름"},
		{"brand", "a", "Alice, \"A\""},
		{"brand", "b", ""},
	}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestCell(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"x", "x"},
		{4.5, "4.5"},
		{5.0, "5"},
		{12, "12"},
		{true, "true"},
	}
	for _, tt := range tests {
		if got := cell(tt.in); got != tt.want {
			t.Errorf("cell(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
