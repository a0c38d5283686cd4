package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const diarizedSummaryPrompt = "Summarize the following transcript, which includes speaker labels. " +
	"Provide a concise summary of the key points, decisions, and action items. " +
	"Pay close attention to who said what and attribute points to the correct speakers. " +
	"Do not include any introductory or concluding remarks, just the summary itself:\n\n"

const plainSummaryPrompt = "Summarize the following transcript. " +
	"Provide a concise summary of the key points and topics discussed. " +
	"Do not include any introductory or concluding remarks, just the summary itself:\n\n"

const answerSystemPrompt = `You are an AI assistant that answers questions based on provided context from transcripts and documents.

Instructions:
1. Answer the question based ONLY on the provided context
2. If the context doesn't contain enough information to answer the question, say "I don't have enough information in the provided context to answer this question."
3. When referencing specific information, mention the source (transcript speaker or document name)
4. Be concise but thorough in your response
5. If there are timestamps or speakers mentioned, include them in your answer`

// Generator produces summaries and grounded answers via an LLM.
type Generator interface {
	Summarize(ctx context.Context, transcript string, diarized bool) (string, error)
	Answer(ctx context.Context, question, contextBlock string) (string, error)
}

// ChatGenerator uses the chat completions endpoint of an OpenAI-compatible
// provider. Low temperature keeps answers factual.
type ChatGenerator struct {
	client *openai.Client
	model  string
	apiKey string
}

func NewChatGenerator(client *openai.Client, model, apiKey string) *ChatGenerator {
	if strings.TrimSpace(model) == "" {
		model = "gpt-4.1-mini"
	}
	return &ChatGenerator{client: client, model: model, apiKey: strings.TrimSpace(apiKey)}
}

func (g *ChatGenerator) Summarize(ctx context.Context, transcript string, diarized bool) (string, error) {
	prompt := plainSummaryPrompt
	if diarized {
		prompt = diarizedSummaryPrompt
	}
	return g.complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: prompt + transcript},
	})
}

func (g *ChatGenerator) Answer(ctx context.Context, question, contextBlock string) (string, error) {
	user := fmt.Sprintf("Context Information:\n%s\n\nQuestion: %s\n\nAnswer:", contextBlock, question)
	return g.complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: answerSystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: user},
	})
}

func (g *ChatGenerator) complete(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	if g.apiKey == "" {
		return "", ErrUnavailable
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: 0.1,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("chat completion returned empty text")
	}
	return text, nil
}
