package domain

import "time"

// SourceKind distinguishes where a knowledge-base chunk came from.
type SourceKind string

const (
	SourceTranscript SourceKind = "transcript"
	SourceDocument   SourceKind = "document"
)

// Chunk is a bounded slice of source text with provenance metadata and its
// embedding vector. Chunk order is insertion order; similarity search does
// not depend on it.
type Chunk struct {
	ID         string
	Text       string
	SourceKind SourceKind
	Speaker    string
	FileName   string
	PageNumber int
	Vector     []float32
}

// DocumentInfo reports one ingested document for stats.
type DocumentInfo struct {
	FileName   string    `json:"file_name"`
	ChunkCount int       `json:"chunk_count"`
	IngestedAt time.Time `json:"ingested_at"`
}

// RetrievedChunk is a ranked query hit with a bounded content preview,
// handed to the answer-generation collaborator and returned to callers.
type RetrievedChunk struct {
	SourceKind SourceKind `json:"type"`
	Preview    string     `json:"content_preview"`
	Text       string     `json:"-"`
	Speaker    string     `json:"speaker,omitempty"`
	FileName   string     `json:"file_name,omitempty"`
	PageNumber int        `json:"page_number,omitempty"`
	Score      float64    `json:"score"`
}

// KnowledgeBaseStats drives the "knowledge base ready" affordance.
type KnowledgeBaseStats struct {
	ChunkCount    int            `json:"chunk_count"`
	HasTranscript bool           `json:"has_transcript"`
	Documents     []DocumentInfo `json:"documents"`
}
