package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/echoform/transcribe-chat-back/internal/domain"
)

// Transcriber converts audio into an ordered utterance sequence.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, fileName string, diarize bool) ([]domain.Utterance, error)
}

// WhisperTranscriber calls the audio transcription endpoint of an
// OpenAI-compatible provider with verbose segment output.
type WhisperTranscriber struct {
	client *openai.Client
	model  string
	apiKey string
}

func NewWhisperTranscriber(client *openai.Client, model, apiKey string) *WhisperTranscriber {
	if strings.TrimSpace(model) == "" {
		model = openai.Whisper1
	}
	return &WhisperTranscriber{client: client, model: model, apiKey: strings.TrimSpace(apiKey)}
}

func (t *WhisperTranscriber) Transcribe(
	ctx context.Context,
	audio io.Reader,
	fileName string,
	diarize bool,
) ([]domain.Utterance, error) {
	if t.apiKey == "" {
		return nil, ErrUnavailable
	}

	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		Reader:   audio,
		FilePath: fileName,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("create transcription: %w", err)
	}

	if len(resp.Segments) == 0 {
		text := strings.TrimSpace(resp.Text)
		if text == "" {
			return nil, errors.New("empty transcription result")
		}
		return []domain.Utterance{{Text: text}}, nil
	}

	utterances := make([]domain.Utterance, 0, len(resp.Segments))
	for _, segment := range resp.Segments {
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		// Whisper-compatible providers do not attribute speakers; the
		// diarize flag still selects the diarized summary prompt for
		// providers that do.
		utterances = append(utterances, domain.Utterance{
			Text:  text,
			Start: secondsToDuration(segment.Start),
			End:   secondsToDuration(segment.End),
		})
	}
	if len(utterances) == 0 {
		return nil, errors.New("empty transcription result")
	}
	return utterances, nil
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
