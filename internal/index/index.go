package index

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

// ErrDimensionMismatch is returned when a vector does not match the
// dimensionality already established for the index.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Result is one similarity hit, best-first.
type Result struct {
	ChunkID string
	Score   float64
}

// Index is a per-job similarity-search structure over embedded chunks.
// Implementations must order results best-first with ties broken by
// insertion order, and return an empty result (never an error) when the
// index holds no vectors.
type Index interface {
	Add(ctx context.Context, chunkID string, vector []float32) error
	Remove(ctx context.Context, chunkIDs []string) error
	Search(ctx context.Context, query []float32, k int) ([]Result, error)
}

type memoryEntry struct {
	id     string
	vector []float32
	seq    int64
}

// MemoryIndex is a brute-force cosine-similarity index. Linear scan is fine
// at per-job scale (a few thousand chunks).
type MemoryIndex struct {
	mu        sync.RWMutex
	dimension int
	nextSeq   int64
	entries   []memoryEntry
	positions map[string]int
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{positions: make(map[string]int)}
}

// Add inserts or replaces a vector. Replacing keeps the original insertion
// order so tie-breaking stays stable.
func (m *MemoryIndex) Add(_ context.Context, chunkID string, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dimension == 0 {
		m.dimension = len(vector)
	}
	if len(vector) != m.dimension {
		return fmt.Errorf("%w: index holds %d-dimensional vectors, got %d", ErrDimensionMismatch, m.dimension, len(vector))
	}

	stored := append([]float32(nil), vector...)
	if pos, ok := m.positions[chunkID]; ok {
		m.entries[pos].vector = stored
		return nil
	}

	m.nextSeq++
	m.positions[chunkID] = len(m.entries)
	m.entries = append(m.entries, memoryEntry{id: chunkID, vector: stored, seq: m.nextSeq})
	return nil
}

func (m *MemoryIndex) Remove(_ context.Context, chunkIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	drop := make(map[string]struct{}, len(chunkIDs))
	for _, id := range chunkIDs {
		drop[id] = struct{}{}
	}

	kept := m.entries[:0]
	for _, entry := range m.entries {
		if _, gone := drop[entry.id]; gone {
			continue
		}
		kept = append(kept, entry)
	}
	m.entries = kept

	m.positions = make(map[string]int, len(m.entries))
	for pos, entry := range m.entries {
		m.positions[entry.id] = pos
	}
	if len(m.entries) == 0 {
		m.dimension = 0
	}
	return nil
}

func (m *MemoryIndex) Search(_ context.Context, query []float32, k int) ([]Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.entries) == 0 {
		return nil, nil
	}
	if len(query) != m.dimension {
		return nil, fmt.Errorf("%w: index holds %d-dimensional vectors, query has %d", ErrDimensionMismatch, m.dimension, len(query))
	}
	if k <= 0 {
		return nil, nil
	}

	type scored struct {
		entry memoryEntry
		score float64
	}
	candidates := make([]scored, 0, len(m.entries))
	for _, entry := range m.entries {
		candidates = append(candidates, scored{entry: entry, score: cosine(entry.vector, query)})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].entry.seq < candidates[j].entry.seq
	})

	if k > len(candidates) {
		k = len(candidates)
	}
	results := make([]Result, 0, k)
	for _, candidate := range candidates[:k] {
		results = append(results, Result{ChunkID: candidate.entry.id, Score: candidate.score})
	}
	return results, nil
}

func cosine(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
