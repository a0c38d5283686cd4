package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/echoform/transcribe-chat-back/internal/ai"
	"github.com/echoform/transcribe-chat-back/internal/domain"
	"github.com/echoform/transcribe-chat-back/internal/jobs"
	"github.com/echoform/transcribe-chat-back/internal/queue"
	"github.com/echoform/transcribe-chat-back/internal/repository"
	"github.com/echoform/transcribe-chat-back/internal/storage"
)

// ErrJobNotFound is returned when a job id resolves neither in the
// registry nor in the durable mirror.
var ErrJobNotFound = errors.New("job not found")

// TranscriptionsService accepts audio submissions and exposes job status.
// The registry is authoritative for live jobs; the repository mirror
// answers for jobs from before a restart.
type TranscriptionsService struct {
	registry  *jobs.Registry
	repo      repository.JobsRepository
	producer  queue.Producer
	blobs     storage.BlobStore
	generator ai.Generator

	summaryTimeout time.Duration
	logger         *log.Logger
}

func NewTranscriptionsService(
	registry *jobs.Registry,
	repo repository.JobsRepository,
	producer queue.Producer,
	blobs storage.BlobStore,
	generator ai.Generator,
	summaryTimeout time.Duration,
	logger *log.Logger,
) *TranscriptionsService {
	if summaryTimeout <= 0 {
		summaryTimeout = time.Minute
	}
	return &TranscriptionsService{
		registry:       registry,
		repo:           repo,
		producer:       producer,
		blobs:          blobs,
		generator:      generator,
		summaryTimeout: summaryTimeout,
		logger:         logger,
	}
}

// Submit stores the audio, registers a pending job and dispatches it to
// the queue. The returned snapshot is the job's initial pending state.
func (s *TranscriptionsService) Submit(
	ctx context.Context,
	fileName string,
	audio io.Reader,
	diarize bool,
) (domain.Snapshot, error) {
	jobID := uuid.NewString()

	mediaName := jobID + mediaExtension(fileName)
	mediaRef, err := s.blobs.Save(ctx, mediaName, audio)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("store media: %w", err)
	}

	snapshot, err := s.registry.Create(jobID, mediaRef, diarize)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("register job: %w", err)
	}

	if s.repo != nil {
		now := time.Now().UTC()
		mirror := &domain.Job{
			ID:           jobID,
			Stage:        domain.StagePending,
			MediaRef:     mediaRef,
			Diarized:     diarize,
			SummaryStage: domain.SummaryNone,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.repo.CreateJob(ctx, mirror); err != nil && s.logger != nil {
			s.logger.Printf("mirror job failed job_id=%s err=%v", jobID, err)
		}
	}

	message := domain.SubmissionMessage{
		JobID:       jobID,
		MediaRef:    mediaRef,
		Diarize:     diarize,
		Attempt:     0,
		RequestedAt: time.Now().UTC(),
	}
	if err := s.producer.Enqueue(ctx, message); err != nil {
		s.registry.FailTranscription(jobID, "could not dispatch job for processing")
		s.persist(ctx, jobID)
		return domain.Snapshot{}, fmt.Errorf("enqueue job: %w", err)
	}

	if s.logger != nil {
		s.logger.Printf("job submitted job_id=%s media_ref=%s diarize=%t", jobID, mediaRef, diarize)
	}
	return snapshot, nil
}

// Status returns the current snapshot, falling back to the durable
// mirror for jobs the registry no longer holds.
func (s *TranscriptionsService) Status(ctx context.Context, jobID string) (domain.Snapshot, error) {
	snapshot, err := s.registry.Snapshot(jobID)
	if err == nil {
		return snapshot, nil
	}
	if !errors.Is(err, jobs.ErrNotFound) {
		return domain.Snapshot{}, err
	}

	if s.repo == nil {
		return domain.Snapshot{}, ErrJobNotFound
	}
	job, repoErr := s.repo.GetJob(ctx, jobID)
	if repoErr != nil {
		if errors.Is(repoErr, repository.ErrNotFound) {
			return domain.Snapshot{}, ErrJobNotFound
		}
		return domain.Snapshot{}, repoErr
	}
	return job.Snapshot(), nil
}

// Subscribe attaches a live snapshot stream to the job.
func (s *TranscriptionsService) Subscribe(jobID string) (jobs.Subscription, error) {
	sub, err := s.registry.Subscribe(jobID)
	if errors.Is(err, jobs.ErrNotFound) {
		return jobs.Subscription{}, ErrJobNotFound
	}
	return sub, err
}

// RequestSummary starts summarization for a completed transcription.
// Repeat requests while a run is pending or finished are no-ops that
// return the current snapshot, so the endpoint is idempotent.
func (s *TranscriptionsService) RequestSummary(ctx context.Context, jobID string) (domain.Snapshot, error) {
	snapshot, started, err := s.registry.BeginSummary(jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			return domain.Snapshot{}, ErrJobNotFound
		}
		return domain.Snapshot{}, err
	}
	if !started {
		return snapshot, nil
	}

	go s.runSummary(jobID, snapshot)
	return snapshot, nil
}

func (s *TranscriptionsService) runSummary(jobID string, snapshot domain.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), s.summaryTimeout)
	defer cancel()

	transcript := FormatTranscript(snapshot.Result)
	diarized := hasSpeakers(snapshot.Result)

	summary, err := s.generator.Summarize(ctx, transcript, diarized)
	if err != nil {
		s.registry.FailSummary(jobID, summaryFailureMessage(err))
		if s.logger != nil {
			s.logger.Printf("summary failed job_id=%s err=%v", jobID, err)
		}
	} else {
		s.registry.CompleteSummary(jobID, summary)
		if s.logger != nil {
			s.logger.Printf("summary completed job_id=%s chars=%d", jobID, len(summary))
		}
	}
	s.persist(ctx, jobID)
}

func (s *TranscriptionsService) persist(ctx context.Context, jobID string) {
	if s.repo == nil {
		return
	}
	snapshot, err := s.registry.Snapshot(jobID)
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
	if err := s.repo.UpdateJob(ctx, job); err != nil && s.logger != nil {
		s.logger.Printf("persist job failed job_id=%s err=%v", jobID, err)
	}
}

// FormatTranscript renders utterances as the plain text fed to the
// summarizer, one line per utterance with the speaker label when known.
func FormatTranscript(utterances []domain.Utterance) string {
	var builder strings.Builder
	for _, utterance := range utterances {
		if utterance.Speaker != "" {
			builder.WriteString(utterance.Speaker)
			builder.WriteString(": ")
		}
		builder.WriteString(utterance.Text)
		builder.WriteString("\n")
	}
	return builder.String()
}

func hasSpeakers(utterances []domain.Utterance) bool {
	for _, utterance := range utterances {
		if utterance.Speaker != "" {
			return true
		}
	}
	return false
}

func summaryFailureMessage(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "summarization timed out"
	case errors.Is(err, ai.ErrUnavailable):
		return "summarization provider is not configured"
	default:
		return fmt.Sprintf("summarization failed: %v", err)
	}
}

func mediaExtension(fileName string) string {
	if idx := strings.LastIndex(fileName, "."); idx >= 0 && idx < len(fileName)-1 {
		return fileName[idx:]
	}
	return ""
}
