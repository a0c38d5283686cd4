package ai

import (
	"errors"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ErrUnavailable is returned when no API key is configured.
var ErrUnavailable = errors.New("ai client unavailable")

// ClientConfig targets any OpenAI-compatible provider. BaseURL lets the
// transcription calls go to a Whisper-compatible host (e.g. Groq) while the
// API surface stays the same.
type ClientConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

func NewClient(config ClientConfig) *openai.Client {
	clientConfig := openai.DefaultConfig(strings.TrimSpace(config.APIKey))
	if base := strings.TrimSpace(config.BaseURL); base != "" {
		clientConfig.BaseURL = strings.TrimSuffix(base, "/")
	}
	if config.HTTPClient != nil {
		clientConfig.HTTPClient = config.HTTPClient
	} else if config.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: config.Timeout}
	}
	return openai.NewClientWithConfig(clientConfig)
}
