package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/echoform/transcribe-chat-back/internal/domain"
	"github.com/echoform/transcribe-chat-back/internal/service"
)

// SubmitTranscription accepts a multipart audio upload and dispatches an
// asynchronous transcription job.
func (api *API) SubmitTranscription(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, api.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "multipart form with a file field is required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "file field is required")
		return
	}
	defer file.Close()

	diarize := false
	if raw := strings.TrimSpace(r.FormValue("diarize")); raw != "" {
		diarize, err = strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "diarize must be a boolean")
			return
		}
	}

	snapshot, err := api.transcriptions.Submit(r.Context(), header.Filename, file, diarize)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to accept transcription job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      snapshot.JobID,
		"stage":       snapshot.Stage,
		"status_url":  "/v1/transcriptions/" + snapshot.JobID,
		"stream_url":  "/v1/transcriptions/" + snapshot.JobID + "/stream",
		"accepted_at": snapshot.UpdatedAt.Format(time.RFC3339Nano),
	})
}

// TranscriptionByID routes /v1/transcriptions/{id}[/stream|/summary].
func (api *API) TranscriptionByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/transcriptions/")
	segments := strings.Split(strings.Trim(rest, "/"), "/")

	jobID := strings.TrimSpace(segments[0])
	if jobID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job id is required")
		return
	}

	switch {
	case len(segments) == 1:
		api.transcriptionStatus(w, r, jobID)
	case len(segments) == 2 && segments[1] == "stream":
		api.transcriptionStream(w, r, jobID)
	case len(segments) == 2 && segments[1] == "summary":
		api.requestSummary(w, r, jobID)
	default:
		writeError(w, r, http.StatusNotFound, "not_found", "unknown resource")
	}
}

func (api *API) transcriptionStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	snapshot, err := api.transcriptions.Status(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "job not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (api *API) requestSummary(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	snapshot, err := api.transcriptions.RequestSummary(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "job not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to request summary")
		return
	}

	status := http.StatusAccepted
	if snapshot.SummaryStage.Terminal() {
		status = http.StatusOK
	}
	writeJSON(w, status, snapshot)
}

// transcriptionStream pushes snapshots as server-sent events. The stream
// ends once the snapshot is terminal for streaming purposes (failed, or
// completed with a finished summary run), on client disconnect, or after
// the idle timeout with no transitions. Disconnecting never cancels the
// underlying job.
func (api *API) transcriptionStream(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "streaming is not supported")
		return
	}

	sub, err := api.transcriptions.Subscribe(jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "job not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to open stream")
		return
	}
	defer sub.Cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	idle := time.NewTimer(api.streamIdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-idle.C:
			return
		case snapshot, open := <-sub.C:
			if !open {
				return
			}
			if err := writeEvent(w, flusher, snapshot); err != nil {
				return
			}
			if snapshot.Terminal() {
				return
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(api.streamIdleTimeout)
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, snapshot domain.Snapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	if _, err := w.Write([]byte("\n\n")); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
