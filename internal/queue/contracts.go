package queue

import (
	"context"

	"github.com/echoform/transcribe-chat-back/internal/domain"
)

// Producer dispatches transcription submissions to a queue backend.
type Producer interface {
	Enqueue(ctx context.Context, message domain.SubmissionMessage) error
}

// Consumer receives submissions and executes handlers.
type Consumer interface {
	Consume(ctx context.Context, handler func(context.Context, domain.SubmissionMessage) error) error
}
