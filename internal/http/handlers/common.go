package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/echoform/transcribe-chat-back/internal/http/middleware"
	"github.com/echoform/transcribe-chat-back/internal/service"
)

var errInvalidPayload = errors.New("invalid payload")

type API struct {
	transcriptions *service.TranscriptionsService
	chat           *service.ChatService

	streamIdleTimeout time.Duration
	maxUploadBytes    int64
	startedAt         time.Time
}

type Config struct {
	StreamIdleTimeout time.Duration
	MaxUploadBytes    int64
}

func NewAPI(transcriptions *service.TranscriptionsService, chat *service.ChatService, cfg Config) *API {
	if cfg.StreamIdleTimeout <= 0 {
		cfg.StreamIdleTimeout = 5 * time.Minute
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 100 << 20
	}
	return &API{
		transcriptions:    transcriptions,
		chat:              chat,
		streamIdleTimeout: cfg.StreamIdleTimeout,
		maxUploadBytes:    cfg.MaxUploadBytes,
		startedAt:         time.Now(),
	}
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

func decodeJSON(r *http.Request, value any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}
