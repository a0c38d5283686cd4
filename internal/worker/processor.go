package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/echoform/transcribe-chat-back/internal/ai"
	"github.com/echoform/transcribe-chat-back/internal/domain"
	"github.com/echoform/transcribe-chat-back/internal/jobs"
	"github.com/echoform/transcribe-chat-back/internal/knowledge"
	"github.com/echoform/transcribe-chat-back/internal/queue"
	"github.com/echoform/transcribe-chat-back/internal/repository"
	"github.com/echoform/transcribe-chat-back/internal/storage"
)

// Processor consumes transcription submissions and drives each job from
// pending through processing to a terminal stage. Collaborator failures
// and deadline hits become terminal failed records with a subscriber
// visible message; they are never returned to the queue as retryable
// errors, so a job fails exactly once.
type Processor struct {
	consumer    queue.Consumer
	registry    *jobs.Registry
	repo        repository.JobsRepository
	blobs       storage.BlobStore
	transcriber ai.Transcriber
	knowledge   *knowledge.Service
	jobTimeout  time.Duration
	logger      *log.Logger
}

func NewProcessor(
	consumer queue.Consumer,
	registry *jobs.Registry,
	repo repository.JobsRepository,
	blobs storage.BlobStore,
	transcriber ai.Transcriber,
	kb *knowledge.Service,
	jobTimeout time.Duration,
	logger *log.Logger,
) *Processor {
	return &Processor{
		consumer:    consumer,
		registry:    registry,
		repo:        repo,
		blobs:       blobs,
		transcriber: transcriber,
		knowledge:   kb,
		jobTimeout:  jobTimeout,
		logger:      logger,
	}
}

func (p *Processor) Start(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := p.consumer.Consume(ctx, p.processMessage)
		if err == nil || ctx.Err() != nil {
			return
		}
		if p.logger != nil {
			p.logger.Printf("worker consume loop error: %v", err)
		}

		timer := time.NewTimer(2 * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (p *Processor) processMessage(ctx context.Context, message domain.SubmissionMessage) error {
	p.registry.MarkProcessing(message.JobID)

	utterances, err := p.transcribe(ctx, message)
	if err != nil {
		p.registry.FailTranscription(message.JobID, failureMessage(err))
		if p.logger != nil {
			p.logger.Printf("transcription failed job_id=%s err=%v", message.JobID, err)
		}
		p.persist(ctx, message.JobID)
		return nil
	}

	p.registry.CompleteTranscription(message.JobID, utterances)

	// Seeding the knowledge base is best-effort: chat can re-initialize
	// from the stored result later.
	if p.knowledge != nil {
		if _, err := p.knowledge.IngestTranscript(ctx, message.JobID, utterances); err != nil && p.logger != nil {
			p.logger.Printf("seed knowledge base failed job_id=%s err=%v", message.JobID, err)
		}
	}

	p.persist(ctx, message.JobID)
	if p.logger != nil {
		p.logger.Printf("job transcribed job_id=%s utterances=%d", message.JobID, len(utterances))
	}
	return nil
}

func (p *Processor) transcribe(ctx context.Context, message domain.SubmissionMessage) ([]domain.Utterance, error) {
	audio, err := p.blobs.Open(ctx, message.MediaRef)
	if err != nil {
		return nil, fmt.Errorf("open media %s: %w", message.MediaRef, err)
	}
	defer audio.Close()

	callCtx := ctx
	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
	}

	return p.transcriber.Transcribe(callCtx, audio, message.MediaRef, message.Diarize)
}

// persist mirrors the registry's current record into durable storage.
func (p *Processor) persist(ctx context.Context, jobID string) {
	if p.repo == nil {
		return
	}
	snapshot, err := p.registry.Snapshot(jobID)
	if err != nil {
		return
	}

	job := &domain.Job{
		ID:           snapshot.JobID,
		Stage:        snapshot.Stage,
		Result:       snapshot.Result,
		ErrorMessage: snapshot.Error,
		MediaRef:     snapshot.MediaRef,
		SummaryStage: snapshot.SummaryStage,
		SummaryText:  snapshot.SummaryText,
		SummaryError: snapshot.SummaryError,
		UpdatedAt:    snapshot.UpdatedAt,
	}
	if err := p.repo.UpdateJob(ctx, job); err != nil && p.logger != nil {
		p.logger.Printf("persist job failed job_id=%s err=%v", jobID, err)
	}
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "transcription timed out"
	case errors.Is(err, ai.ErrUnavailable):
		return "transcription provider is not configured"
	case errors.Is(err, storage.ErrNotFound):
		return "submitted media is no longer available"
	default:
		return fmt.Sprintf("transcription failed: %v", err)
	}
}
