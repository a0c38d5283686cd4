package index

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryIndexSearchOrdersBestFirst(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	vectors := map[string][]float32{
		"far":     {0, 1},
		"near":    {1, 0.1},
		"nearest": {1, 0},
	}
	for id, vector := range vectors {
		if err := idx.Add(ctx, id, vector); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}

	results, err := idx.Search(ctx, []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ChunkID != "nearest" || results[1].ChunkID != "near" {
		t.Fatalf("unexpected order: %q then %q", results[0].ChunkID, results[1].ChunkID)
	}
	if results[0].Score < results[1].Score {
		t.Fatalf("scores not best-first: %f then %f", results[0].Score, results[1].Score)
	}
}

func TestMemoryIndexSearchIsDeterministicWithTies(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	// Identical vectors score identically; insertion order breaks the tie.
	for _, id := range []string{"first", "second", "third"} {
		if err := idx.Add(ctx, id, []float32{1, 1}); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}

	for run := 0; run < 5; run++ {
		results, err := idx.Search(ctx, []float32{1, 1}, 3)
		if err != nil {
			t.Fatalf("search failed: %v", err)
		}
		want := []string{"first", "second", "third"}
		for i, id := range want {
			if results[i].ChunkID != id {
				t.Fatalf("run %d: position %d got %q, want %q", run, i, results[i].ChunkID, id)
			}
		}
	}
}

func TestMemoryIndexEmptySearch(t *testing.T) {
	results, err := NewMemoryIndex().Search(context.Background(), []float32{1, 2, 3}, 5)
	if err != nil {
		t.Fatalf("empty search must not error, got %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

func TestMemoryIndexDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	if err := idx.Add(ctx, "a", []float32{1, 2, 3}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if err := idx.Add(ctx, "b", []float32{1, 2}); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch on add, got %v", err)
	}
	if _, err := idx.Search(ctx, []float32{1, 2}, 1); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch on search, got %v", err)
	}
}

func TestMemoryIndexAddReplacesVector(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	if err := idx.Add(ctx, "a", []float32{0, 1}); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := idx.Add(ctx, "b", []float32{1, 0}); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	// Replace "a" so it becomes the best match.
	if err := idx.Add(ctx, "a", []float32{1, 0}); err != nil {
		t.Fatalf("replace failed: %v", err)
	}

	results, err := idx.Search(ctx, []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("replace must not grow the index: got %d entries", len(results))
	}
	// Equal scores now; "a" was inserted first and keeps its slot.
	if results[0].ChunkID != "a" {
		t.Fatalf("expected replaced entry to keep insertion order, got %q first", results[0].ChunkID)
	}
}

func TestMemoryIndexRemove(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	for _, id := range []string{"a", "b", "c"} {
		if err := idx.Add(ctx, id, []float32{1, 0}); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	if err := idx.Remove(ctx, []string{"a", "c"}); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	results, err := idx.Search(ctx, []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 || results[0].ChunkID != "b" {
		t.Fatalf("expected only %q to remain, got %+v", "b", results)
	}
}
