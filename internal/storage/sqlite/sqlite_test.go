package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/FranksOps/gleaner/internal/storage"
	"github.com/google/go-cmp/cmp"
)

func TestSQLiteBackend(t *testing.T) {
	b, err := New(filepath.Join(t.TempDir(), "gleaner.db"))
	if err != nil {
		t.Fatalf("Failed to create SQLite backend: %v", err)
	}
	defer b.Close()

	ctx := context.Background()
	now := time.Now().UTC()

	older := &storage.Export{
		ID:        "run1",
		Source:    "musinsa",
		Query:     "셔츠",
		Schema:    "review",
		Columns:   []string{"상품번호", "평점"},
		Rows:      [][]any{{"100", 4.5}, {"101", 5.0}},
		Calls:     7,
		CreatedAt: now.Add(-time.Hour),
	}
	newer := &storage.Export{
		ID:              "run2",
		Source:          "instagram",
		Query:           "brand",
		Schema:          "follower",
		Columns:         []string{"계정"},
		Rows:            [][]any{{"brand"}},
		EndedDueToError: true,
		Error:           "rate limited",
		CreatedAt:       now,
	}

	for _, e := range []*storage.Export{older, newer} {
		if err := b.Save(ctx, e); err != nil {
			t.Fatalf("Failed to save %s: %v", e.ID, err)
		}
	}

	all, err := b.Query(ctx, storage.Filter{})
	if err != nil {
		t.Fatalf("Failed to query exports: %v", err)
	}
	if len(all) != 2 || all[0].ID != "run2" {
		t.Fatalf("Expected 2 exports newest first, got %d", len(all))
	}

	got := all[1]
	if diff := cmp.Diff(older.Columns, got.Columns); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}
	// numbers come back as float64 through JSON
	wantRows := [][]any{{"100", 4.5}, {"101", 5.0}}
	if diff := cmp.Diff(wantRows, got.Rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
	if got.Calls != 7 || got.EndedDueToError || got.Schema != "review" {
		t.Errorf("unexpected export %+v", got)
	}
	if !got.CreatedAt.Equal(older.CreatedAt) {
		t.Errorf("Expected CreatedAt %v, got %v", older.CreatedAt, got.CreatedAt)
	}

	errored := true
	filtered, err := b.Query(ctx, storage.Filter{EndedDueToError: &errored})
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Error != "rate limited" {
		t.Errorf("Expected the errored run, got %+v", filtered)
	}

	paged, err := b.Query(ctx, storage.Filter{Offset: 1})
	if err != nil {
		t.Fatalf("Failed to query with offset: %v", err)
	}
	if len(paged) != 1 || paged[0].ID != "run1" {
		t.Errorf("Expected run1 after offset, got %+v", paged)
	}

	since := now.Add(-time.Minute)
	recent, err := b.Query(ctx, storage.Filter{Since: &since, Source: "instagram"})
	if err != nil {
		t.Fatalf("Failed to query since: %v", err)
	}
	if len(recent) != 1 || recent[0].ID != "run2" {
		t.Errorf("Expected run2, got %+v", recent)
	}
}
