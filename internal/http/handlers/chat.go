package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/echoform/transcribe-chat-back/internal/knowledge"
	"github.com/echoform/transcribe-chat-back/internal/service"
)

type askRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k,omitempty"`
}

type documentRequest struct {
	FileName string `json:"file_name"`
	Text     string `json:"text"`
}

// ChatByID routes /v1/chat/{id}[/initialize|/ask|/documents|/stats|/suggestions].
func (api *API) ChatByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/chat/")
	segments := strings.Split(strings.Trim(rest, "/"), "/")

	jobID := strings.TrimSpace(segments[0])
	if jobID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job id is required")
		return
	}

	if len(segments) == 1 {
		api.deleteChat(w, r, jobID)
		return
	}
	if len(segments) != 2 {
		writeError(w, r, http.StatusNotFound, "not_found", "unknown resource")
		return
	}

	switch segments[1] {
	case "initialize":
		api.initializeChat(w, r, jobID)
	case "ask":
		api.ask(w, r, jobID)
	case "documents":
		api.uploadDocument(w, r, jobID)
	case "stats":
		api.chatStats(w, r, jobID)
	case "suggestions":
		api.suggestions(w, r, jobID)
	default:
		writeError(w, r, http.StatusNotFound, "not_found", "unknown resource")
	}
}

func (api *API) initializeChat(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	stats, err := api.chat.Initialize(r.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrJobNotFound):
			writeError(w, r, http.StatusNotFound, "not_found", "job not found")
		case errors.Is(err, service.ErrTranscriptNotReady):
			writeError(w, r, http.StatusConflict, "transcript_not_ready", "transcription is not completed yet")
		default:
			writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to initialize chat")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"job_id": jobID,
		"stats":  stats,
	})
}

func (api *API) ask(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var request askRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "question is required")
		return
	}

	result, err := api.chat.Ask(r.Context(), jobID, request.Question, request.TopK)
	if err != nil {
		if errors.Is(err, knowledge.ErrNotInitialized) {
			writeError(w, r, http.StatusNotFound, "not_initialized", "chat session not found, initialize it first")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to answer question")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (api *API) uploadDocument(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var request documentRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	if strings.TrimSpace(request.FileName) == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "file_name is required")
		return
	}

	count, err := api.chat.UploadDocument(r.Context(), jobID, request.FileName, request.Text)
	if err != nil {
		if errors.Is(err, knowledge.ErrEmptyDocument) {
			writeError(w, r, http.StatusUnprocessableEntity, "empty_document", "no text extracted from document")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to ingest document")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":    jobID,
		"file_name": request.FileName,
		"chunks":    count,
	})
}

func (api *API) chatStats(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	stats, err := api.chat.Stats(jobID)
	if err != nil {
		if errors.Is(err, knowledge.ErrNotInitialized) {
			writeError(w, r, http.StatusNotFound, "not_initialized", "chat session not found, initialize it first")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (api *API) suggestions(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	suggestions, err := api.chat.Suggestions(jobID)
	if err != nil {
		if errors.Is(err, knowledge.ErrNotInitialized) {
			writeError(w, r, http.StatusNotFound, "not_initialized", "chat session not found, initialize it first")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load suggestions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

func (api *API) deleteChat(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodDelete {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	if err := api.chat.Delete(r.Context(), jobID); err != nil {
		if errors.Is(err, knowledge.ErrNotInitialized) {
			writeError(w, r, http.StatusNotFound, "not_initialized", "chat session not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to delete chat session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "deleted": true})
}
