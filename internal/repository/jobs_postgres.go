package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/echoform/transcribe-chat-back/internal/domain"
)

type PostgresJobsRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresJobsRepository(ctx context.Context, pool *pgxpool.Pool) (*PostgresJobsRepository, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	repo := &PostgresJobsRepository{pool: pool}
	if err := repo.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *PostgresJobsRepository) ensureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS transcription_jobs (
			id            TEXT PRIMARY KEY,
			stage         TEXT NOT NULL,
			result        JSONB,
			error_message TEXT NOT NULL DEFAULT '',
			media_ref     TEXT NOT NULL DEFAULT '',
			diarized      BOOLEAN NOT NULL DEFAULT FALSE,
			summary_stage TEXT NOT NULL DEFAULT 'none',
			summary_text  TEXT NOT NULL DEFAULT '',
			summary_error TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure jobs schema: %w", err)
	}
	return nil
}

func (r *PostgresJobsRepository) CreateJob(ctx context.Context, job *domain.Job) error {
	result, err := marshalResult(job.Result)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO transcription_jobs (
			id,
			stage,
			result,
			error_message,
			media_ref,
			diarized,
			summary_stage,
			summary_text,
			summary_error,
			created_at,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		job.ID,
		string(job.Stage),
		result,
		job.ErrorMessage,
		job.MediaRef,
		job.Diarized,
		string(job.SummaryStage),
		job.SummaryText,
		job.SummaryError,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *PostgresJobsRepository) UpdateJob(ctx context.Context, job *domain.Job) error {
	result, err := marshalResult(job.Result)
	if err != nil {
		return err
	}

	command, err := r.pool.Exec(ctx, `
		UPDATE transcription_jobs
		SET stage = $2,
			result = $3,
			error_message = $4,
			summary_stage = $5,
			summary_text = $6,
			summary_error = $7,
			updated_at = $8
		WHERE id = $1
	`,
		job.ID,
		string(job.Stage),
		result,
		job.ErrorMessage,
		string(job.SummaryStage),
		job.SummaryText,
		job.SummaryError,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresJobsRepository) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var (
		job          domain.Job
		stage        string
		summaryStage string
		result       []byte
		createdAt    time.Time
		updatedAt    time.Time
	)

	err := r.pool.QueryRow(ctx, `
		SELECT id, stage, result, error_message, media_ref, diarized,
		       summary_stage, summary_text, summary_error, created_at, updated_at
		FROM transcription_jobs
		WHERE id = $1
	`, jobID).Scan(
		&job.ID,
		&stage,
		&result,
		&job.ErrorMessage,
		&job.MediaRef,
		&job.Diarized,
		&summaryStage,
		&job.SummaryText,
		&job.SummaryError,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query job: %w", err)
	}

	job.Stage = domain.JobStage(stage)
	job.SummaryStage = domain.SummaryStage(summaryStage)
	job.CreatedAt = createdAt
	job.UpdatedAt = updatedAt

	if len(result) > 0 {
		if err := json.Unmarshal(result, &job.Result); err != nil {
			return nil, fmt.Errorf("decode job result: %w", err)
		}
	}
	return &job, nil
}

func marshalResult(utterances []domain.Utterance) ([]byte, error) {
	if len(utterances) == 0 {
		return nil, nil
	}
	encoded, err := json.Marshal(utterances)
	if err != nil {
		return nil, fmt.Errorf("encode job result: %w", err)
	}
	return encoded, nil
}
