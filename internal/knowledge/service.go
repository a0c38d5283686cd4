package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/echoform/transcribe-chat-back/internal/ai"
	"github.com/echoform/transcribe-chat-back/internal/chunk"
	"github.com/echoform/transcribe-chat-back/internal/domain"
	"github.com/echoform/transcribe-chat-back/internal/index"
)

// ErrNotInitialized is returned when a knowledge base is queried before it
// exists. Callers surface this as "initialize first".
var ErrNotInitialized = errors.New("knowledge base not initialized")

// ErrEmptyDocument is returned when an uploaded document carries no
// extractable text. No state changes.
var ErrEmptyDocument = errors.New("no text extracted from document")

// IndexFactory builds the vector index for one job's knowledge base.
type IndexFactory func(jobID string) index.Index

// Config bounds retrieval behavior.
type Config struct {
	TopK         int
	PreviewChars int
}

// Service owns the per-job knowledge bases. Bases are created lazily and
// discarded with their job. Ingest operations take a base's write lock and
// queries its read lock, so a query never observes a half-inserted batch.
type Service struct {
	mu    sync.RWMutex
	bases map[string]*base

	chunker  *chunk.Chunker
	embedder ai.Embedder
	newIndex IndexFactory

	topK         int
	previewChars int
	logger       *log.Logger
}

type base struct {
	mu sync.RWMutex

	index         index.Index
	chunks        map[string]domain.Chunk
	transcriptIDs []string
	documents     map[string]domain.DocumentInfo
}

func NewService(
	cfg Config,
	chunker *chunk.Chunker,
	embedder ai.Embedder,
	newIndex IndexFactory,
	logger *log.Logger,
) *Service {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.PreviewChars <= 0 {
		cfg.PreviewChars = 150
	}
	return &Service{
		bases:        make(map[string]*base),
		chunker:      chunker,
		embedder:     embedder,
		newIndex:     newIndex,
		topK:         cfg.TopK,
		previewChars: cfg.PreviewChars,
		logger:       logger,
	}
}

// Initialize creates an empty knowledge base for the job if absent.
func (s *Service) Initialize(jobID string) {
	s.getOrCreate(jobID)
}

func (s *Service) getOrCreate(jobID string) *base {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.bases[jobID]; ok {
		return existing
	}
	created := &base{
		index:     s.newIndex(jobID),
		chunks:    make(map[string]domain.Chunk),
		documents: make(map[string]domain.DocumentInfo),
	}
	s.bases[jobID] = created
	return created
}

func (s *Service) get(jobID string) (*base, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bases[jobID]
	return b, ok
}

// IngestTranscript chunks the utterances grouped by speaker turn, embeds
// each chunk and replaces any transcript-sourced chunks already present.
// The base is auto-created, so ingestion never fails on set-up order.
func (s *Service) IngestTranscript(ctx context.Context, jobID string, utterances []domain.Utterance) (int, error) {
	b := s.getOrCreate(jobID)

	turns := chunk.GroupTurns(utterances)
	pending := make([]domain.Chunk, 0, len(turns))
	for _, turn := range turns {
		for _, text := range s.chunker.Split(turn.Text) {
			pending = append(pending, domain.Chunk{
				ID:         fmt.Sprintf("transcript:%s:%d", jobID, len(pending)),
				Text:       text,
				SourceKind: domain.SourceTranscript,
				Speaker:    turn.Speaker,
			})
		}
	}

	if err := s.embedChunks(ctx, pending); err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.transcriptIDs) > 0 {
		if err := b.index.Remove(ctx, b.transcriptIDs); err != nil {
			return 0, fmt.Errorf("drop previous transcript chunks: %w", err)
		}
		for _, id := range b.transcriptIDs {
			delete(b.chunks, id)
		}
		b.transcriptIDs = nil
	}

	for _, item := range pending {
		if err := b.index.Add(ctx, item.ID, item.Vector); err != nil {
			return 0, fmt.Errorf("index transcript chunk: %w", err)
		}
		b.chunks[item.ID] = item
		b.transcriptIDs = append(b.transcriptIDs, item.ID)
	}

	if s.logger != nil {
		s.logger.Printf("transcript ingested job_id=%s turns=%d chunks=%d", jobID, len(turns), len(pending))
	}
	return len(pending), nil
}

// IngestDocument chunks and embeds extracted document text, tagging chunks
// with the file name and page number. Documents accumulate; re-uploading
// the same file name replaces its chunks.
func (s *Service) IngestDocument(ctx context.Context, jobID, fileName, extractedText string) (int, error) {
	if strings.TrimSpace(extractedText) == "" {
		return 0, ErrEmptyDocument
	}
	b := s.getOrCreate(jobID)

	pending := make([]domain.Chunk, 0)
	for _, p := range splitPages(extractedText) {
		for _, text := range s.chunker.Split(p.text) {
			pending = append(pending, domain.Chunk{
				ID:         fmt.Sprintf("document:%s:%s:%d", jobID, fileName, len(pending)),
				Text:       text,
				SourceKind: domain.SourceDocument,
				FileName:   fileName,
				PageNumber: p.number,
			})
		}
	}
	if len(pending) == 0 {
		return 0, ErrEmptyDocument
	}

	if err := s.embedChunks(ctx, pending); err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	stale := make([]string, 0)
	for id, existing := range b.chunks {
		if existing.SourceKind == domain.SourceDocument && existing.FileName == fileName {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		if err := b.index.Remove(ctx, stale); err != nil {
			return 0, fmt.Errorf("drop previous document chunks: %w", err)
		}
		for _, id := range stale {
			delete(b.chunks, id)
		}
	}

	for _, item := range pending {
		if err := b.index.Add(ctx, item.ID, item.Vector); err != nil {
			return 0, fmt.Errorf("index document chunk: %w", err)
		}
		b.chunks[item.ID] = item
	}
	b.documents[fileName] = domain.DocumentInfo{
		FileName:   fileName,
		ChunkCount: len(pending),
		IngestedAt: time.Now().UTC(),
	}

	if s.logger != nil {
		s.logger.Printf("document ingested job_id=%s file=%s chunks=%d", jobID, fileName, len(pending))
	}
	return len(pending), nil
}

// Query embeds the question and returns the top-K chunks with bounded
// previews and source metadata. Unlike ingestion, querying a job without a
// knowledge base is a hard ErrNotInitialized.
func (s *Service) Query(ctx context.Context, jobID, question string, topK int) ([]domain.RetrievedChunk, error) {
	b, ok := s.get(jobID)
	if !ok {
		return nil, ErrNotInitialized
	}
	if topK <= 0 {
		topK = s.topK
	}

	vectors, err := s.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if len(vectors) != 1 {
		return nil, errors.New("embedding question returned unexpected vector count")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	hits, err := b.index.Search(ctx, vectors[0], topK)
	if err != nil {
		return nil, fmt.Errorf("search knowledge base: %w", err)
	}

	results := make([]domain.RetrievedChunk, 0, len(hits))
	for _, hit := range hits {
		item, ok := b.chunks[hit.ChunkID]
		if !ok {
			continue
		}
		results = append(results, domain.RetrievedChunk{
			SourceKind: item.SourceKind,
			Preview:    preview(item.Text, s.previewChars),
			Text:       item.Text,
			Speaker:    item.Speaker,
			FileName:   item.FileName,
			PageNumber: item.PageNumber,
			Score:      hit.Score,
		})
	}
	return results, nil
}

// Stats reports chunk counts and transcript presence for the job.
func (s *Service) Stats(jobID string) (domain.KnowledgeBaseStats, error) {
	b, ok := s.get(jobID)
	if !ok {
		return domain.KnowledgeBaseStats{}, ErrNotInitialized
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	documents := make([]domain.DocumentInfo, 0, len(b.documents))
	for _, info := range b.documents {
		documents = append(documents, info)
	}
	sort.Slice(documents, func(i, j int) bool {
		return documents[i].IngestedAt.Before(documents[j].IngestedAt)
	})

	return domain.KnowledgeBaseStats{
		ChunkCount:    len(b.chunks),
		HasTranscript: len(b.transcriptIDs) > 0,
		Documents:     documents,
	}, nil
}

// Delete discards the job's knowledge base and clears its index entries.
func (s *Service) Delete(ctx context.Context, jobID string) error {
	s.mu.Lock()
	b, ok := s.bases[jobID]
	delete(s.bases, jobID)
	s.mu.Unlock()

	if !ok {
		return ErrNotInitialized
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]string, 0, len(b.chunks))
	for id := range b.chunks {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil
	}
	if err := b.index.Remove(ctx, ids); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	return nil
}

func (s *Service) embedChunks(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, item := range chunks {
		texts[i] = item.Text
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return errors.New("embedding returned unexpected vector count")
	}
	for i := range chunks {
		chunks[i].Vector = vectors[i]
	}
	return nil
}

type page struct {
	number int
	text   string
}

// splitPages treats form feeds as page breaks, the convention used by text
// extractors for paginated formats. Plain text is a single page. Blank
// pages keep their slot so later pages carry their real numbers.
func splitPages(text string) []page {
	raw := strings.Split(text, "\f")
	pages := make([]page, 0, len(raw))
	for i, pageText := range raw {
		if strings.TrimSpace(pageText) == "" {
			continue
		}
		pages = append(pages, page{number: i + 1, text: pageText})
	}
	return pages
}

func preview(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
