package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/echoform/transcribe-chat-back/internal/ai"
	"github.com/echoform/transcribe-chat-back/internal/cache"
	"github.com/echoform/transcribe-chat-back/internal/domain"
	"github.com/echoform/transcribe-chat-back/internal/knowledge"
)

// ErrTranscriptNotReady is returned when chat initialization is requested
// before the transcription reached the completed stage.
var ErrTranscriptNotReady = errors.New("transcription is not completed yet")

const noContextAnswer = "I don't have any relevant information to answer this question. " +
	"Please ensure your transcript or documents have been processed."

var suggestedQuestions = []string{
	"What are the main topics discussed?",
	"What were the key decisions made?",
	"Who were the main participants?",
	"What action items were mentioned?",
	"Can you summarize the main points?",
}

// AskResult is a grounded answer with its retrieval attributions.
type AskResult struct {
	Answer      string                  `json:"answer"`
	Sources     []domain.RetrievedChunk `json:"sources"`
	ContextUsed bool                    `json:"context_used"`
}

// StatusProvider resolves job snapshots for chat initialization.
type StatusProvider interface {
	Status(ctx context.Context, jobID string) (domain.Snapshot, error)
}

// ChatService exposes the per-job knowledge base: initialization from the
// transcript, document ingestion, retrieval-grounded answering and stats.
type ChatService struct {
	status    StatusProvider
	knowledge *knowledge.Service
	generator ai.Generator
	answers   *cache.AnswerCache
	chatModel string
	logger    *log.Logger
}

func NewChatService(
	status StatusProvider,
	kb *knowledge.Service,
	generator ai.Generator,
	answers *cache.AnswerCache,
	chatModel string,
	logger *log.Logger,
) *ChatService {
	return &ChatService{
		status:    status,
		knowledge: kb,
		generator: generator,
		answers:   answers,
		chatModel: chatModel,
		logger:    logger,
	}
}

// Initialize seeds the job's knowledge base from its completed
// transcript. Re-initializing replaces the transcript chunks and leaves
// uploaded documents intact.
func (s *ChatService) Initialize(ctx context.Context, jobID string) (domain.KnowledgeBaseStats, error) {
	snapshot, err := s.status.Status(ctx, jobID)
	if err != nil {
		return domain.KnowledgeBaseStats{}, err
	}
	if snapshot.Stage != domain.StageCompleted {
		return domain.KnowledgeBaseStats{}, ErrTranscriptNotReady
	}

	if _, err := s.knowledge.IngestTranscript(ctx, jobID, snapshot.Result); err != nil {
		return domain.KnowledgeBaseStats{}, fmt.Errorf("ingest transcript: %w", err)
	}
	s.invalidate(jobID)

	return s.knowledge.Stats(jobID)
}

// Ask retrieves the most relevant chunks and generates a grounded answer.
// When retrieval comes back empty the canned no-context answer is
// returned without calling the model.
func (s *ChatService) Ask(ctx context.Context, jobID, question string, topK int) (AskResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return AskResult{}, errors.New("question must not be empty")
	}

	var signature string
	if s.answers != nil {
		signature = s.answers.BuildSignature(jobID, question, s.chatModel)
		if entry, ok := s.answers.Get(signature); ok {
			return AskResult{
				Answer:      entry.Answer,
				Sources:     entry.Sources,
				ContextUsed: entry.ContextUsed,
			}, nil
		}
	}

	hits, err := s.knowledge.Query(ctx, jobID, question, topK)
	if err != nil {
		return AskResult{}, err
	}
	if len(hits) == 0 {
		return AskResult{
			Answer:      noContextAnswer,
			Sources:     []domain.RetrievedChunk{},
			ContextUsed: false,
		}, nil
	}

	answer, err := s.generator.Answer(ctx, question, formatContext(hits))
	if err != nil {
		return AskResult{}, fmt.Errorf("generate answer: %w", err)
	}

	sources := make([]domain.RetrievedChunk, len(hits))
	copy(sources, hits)

	result := AskResult{Answer: answer, Sources: sources, ContextUsed: true}
	if s.answers != nil {
		s.answers.Set(jobID, signature, cache.Entry{
			Answer:      result.Answer,
			Sources:     result.Sources,
			ContextUsed: true,
		})
	}
	if s.logger != nil {
		s.logger.Printf("question answered job_id=%s sources=%d", jobID, len(sources))
	}
	return result, nil
}

// UploadDocument ingests extracted document text into the knowledge base.
func (s *ChatService) UploadDocument(ctx context.Context, jobID, fileName, extractedText string) (int, error) {
	count, err := s.knowledge.IngestDocument(ctx, jobID, fileName, extractedText)
	if err != nil {
		return 0, err
	}
	s.invalidate(jobID)
	return count, nil
}

// Stats reports the knowledge base contents for the job.
func (s *ChatService) Stats(jobID string) (domain.KnowledgeBaseStats, error) {
	return s.knowledge.Stats(jobID)
}

// Suggestions lists starter questions for the chat session.
func (s *ChatService) Suggestions(jobID string) ([]string, error) {
	if _, err := s.knowledge.Stats(jobID); err != nil {
		return nil, err
	}
	suggestions := make([]string, len(suggestedQuestions))
	copy(suggestions, suggestedQuestions)
	return suggestions, nil
}

// Delete drops the job's knowledge base and cached answers.
func (s *ChatService) Delete(ctx context.Context, jobID string) error {
	if err := s.knowledge.Delete(ctx, jobID); err != nil {
		return err
	}
	s.invalidate(jobID)
	return nil
}

func (s *ChatService) invalidate(jobID string) {
	if s.answers != nil {
		s.answers.InvalidateJob(jobID)
	}
}

// formatContext renders retrieved chunks as the context block handed to
// the model, each prefixed with its source attribution.
func formatContext(hits []domain.RetrievedChunk) string {
	parts := make([]string, 0, len(hits))
	for i, hit := range hits {
		var source string
		switch hit.SourceKind {
		case domain.SourceTranscript:
			speaker := hit.Speaker
			if speaker == "" {
				speaker = "Unknown Speaker"
			}
			source = fmt.Sprintf("[Transcript - Speaker: %s]", speaker)
		case domain.SourceDocument:
			source = fmt.Sprintf("[Document: %s", hit.FileName)
			if hit.PageNumber > 0 {
				source += fmt.Sprintf(", Page %d", hit.PageNumber)
			}
			source += "]"
		default:
			source = fmt.Sprintf("[Source %d]", i+1)
		}
		parts = append(parts, source+"\n"+hit.Text+"\n")
	}
	return strings.Join(parts, "\n")
}
