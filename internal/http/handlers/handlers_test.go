package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/echoform/transcribe-chat-back/internal/cache"
	"github.com/echoform/transcribe-chat-back/internal/chunk"
	"github.com/echoform/transcribe-chat-back/internal/domain"
	"github.com/echoform/transcribe-chat-back/internal/index"
	"github.com/echoform/transcribe-chat-back/internal/jobs"
	"github.com/echoform/transcribe-chat-back/internal/knowledge"
	"github.com/echoform/transcribe-chat-back/internal/queue"
	"github.com/echoform/transcribe-chat-back/internal/repository"
	"github.com/echoform/transcribe-chat-back/internal/service"
	"github.com/echoform/transcribe-chat-back/internal/storage"
)

type staticEmbedder struct{}

func (staticEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = []float32{float32(len(text) % 7), 1}
	}
	return vectors, nil
}

type staticGenerator struct{}

func (staticGenerator) Summarize(_ context.Context, _ string, _ bool) (string, error) {
	return "a summary", nil
}

func (staticGenerator) Answer(_ context.Context, _, _ string) (string, error) {
	return "an answer", nil
}

type testEnv struct {
	api      *API
	registry *jobs.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	registry := jobs.NewRegistry(time.Minute, 8, nil)
	repo := repository.NewMemoryJobsRepository()
	blobs := storage.NewMemoryBlobStore()
	localQueue := queue.NewLocalQueue(8, 3, nil)

	transcriptions := service.NewTranscriptionsService(
		registry, repo, localQueue, blobs, staticGenerator{}, time.Second, nil,
	)

	chunker, err := chunk.New(80, 10)
	if err != nil {
		t.Fatalf("chunker: %v", err)
	}
	kb := knowledge.NewService(
		knowledge.Config{TopK: 3, PreviewChars: 150},
		chunker,
		staticEmbedder{},
		func(string) index.Index { return index.NewMemoryIndex() },
		nil,
	)
	chat := service.NewChatService(
		transcriptions, kb, staticGenerator{},
		cache.NewAnswerCache(cache.Config{}), "test-model", nil,
	)

	api := NewAPI(transcriptions, chat, Config{StreamIdleTimeout: 200 * time.Millisecond})
	return &testEnv{api: api, registry: registry}
}

func multipartAudio(t *testing.T, diarize string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "meeting.wav")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("audio-bytes")); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if diarize != "" {
		if err := writer.WriteField("diarize", diarize); err != nil {
			t.Fatalf("write diarize field: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func (env *testEnv) submitJob(t *testing.T) string {
	t.Helper()
	body, contentType := multipartAudio(t, "")
	request := httptest.NewRequest(http.MethodPost, "/v1/transcriptions", body)
	request.Header.Set("Content-Type", contentType)
	recorder := httptest.NewRecorder()

	env.api.SubmitTranscription(recorder, request)
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var response struct {
		JobID string `json:"job_id"`
		Stage string `json:"stage"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.Stage != "pending" {
		t.Fatalf("expected pending stage, got %q", response.Stage)
	}
	return response.JobID
}

func TestSubmitReturnsAcceptedWithJobID(t *testing.T) {
	env := newTestEnv(t)
	jobID := env.submitJob(t)
	if jobID == "" {
		t.Fatal("expected a job id")
	}
}

func TestSubmitRejectsMissingFile(t *testing.T) {
	env := newTestEnv(t)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	_ = writer.WriteField("diarize", "true")
	_ = writer.Close()

	request := httptest.NewRequest(http.MethodPost, "/v1/transcriptions", body)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	recorder := httptest.NewRecorder()

	env.api.SubmitTranscription(recorder, request)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestStatusReturnsSnapshotAnd404(t *testing.T) {
	env := newTestEnv(t)
	jobID := env.submitJob(t)
	env.registry.CompleteTranscription(jobID, []domain.Utterance{{Speaker: "A", Text: "hello"}})

	request := httptest.NewRequest(http.MethodGet, "/v1/transcriptions/"+jobID, nil)
	recorder := httptest.NewRecorder()
	env.api.TranscriptionByID(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var snapshot domain.Snapshot
	if err := json.Unmarshal(recorder.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snapshot.Stage != domain.StageCompleted || len(snapshot.Result) != 1 {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}

	request = httptest.NewRequest(http.MethodGet, "/v1/transcriptions/ghost", nil)
	recorder = httptest.NewRecorder()
	env.api.TranscriptionByID(recorder, request)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestStreamDeliversTerminalEventAndEnds(t *testing.T) {
	env := newTestEnv(t)
	jobID := env.submitJob(t)
	env.registry.FailTranscription(jobID, "boom")

	request := httptest.NewRequest(http.MethodGet, "/v1/transcriptions/"+jobID+"/stream", nil)
	recorder := httptest.NewRecorder()
	env.api.TranscriptionByID(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if got := recorder.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("expected SSE content type, got %q", got)
	}

	scanner := bufio.NewScanner(recorder.Body)
	var frames []domain.Snapshot
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var snapshot domain.Snapshot
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &snapshot); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		frames = append(frames, snapshot)
	}
	if len(frames) != 1 {
		t.Fatalf("expected exactly the terminal frame, got %d", len(frames))
	}
	if frames[0].Stage != domain.StageFailed || frames[0].Error != "boom" {
		t.Fatalf("unexpected terminal frame: %+v", frames[0])
	}
}

func TestStreamObservesLiveTransitions(t *testing.T) {
	env := newTestEnv(t)
	jobID := env.submitJob(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/transcriptions/", env.api.TranscriptionByID)
	server := httptest.NewServer(mux)
	defer server.Close()

	response, err := http.Get(server.URL + "/v1/transcriptions/" + jobID + "/stream")
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer response.Body.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		env.registry.MarkProcessing(jobID)
		env.registry.CompleteTranscription(jobID, []domain.Utterance{{Text: "hello"}})
		env.registry.FailSummary(jobID, "unused") // no-op, summary never started
	}()

	scanner := bufio.NewScanner(response.Body)
	var stages []domain.JobStage
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var snapshot domain.Snapshot
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &snapshot); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		stages = append(stages, snapshot.Stage)
	}

	// pending (replay), processing, completed; then the idle timeout closes
	// the stream because the summary never runs.
	want := []domain.JobStage{domain.StagePending, domain.StageProcessing, domain.StageCompleted}
	if len(stages) != len(want) {
		t.Fatalf("expected stages %v, got %v", want, stages)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Fatalf("expected stages %v, got %v", want, stages)
		}
	}
}

func TestSummaryEndpointIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	jobID := env.submitJob(t)
	env.registry.CompleteTranscription(jobID, []domain.Utterance{{Speaker: "A", Text: "hello"}})

	request := httptest.NewRequest(http.MethodPost, "/v1/transcriptions/"+jobID+"/summary", nil)
	recorder := httptest.NewRecorder()
	env.api.TranscriptionByID(recorder, request)
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", recorder.Code, recorder.Body.String())
	}

	// Wait for the background run to finish, then re-request.
	deadline := time.Now().Add(2 * time.Second)
	for {
		snapshot, err := env.registry.Snapshot(jobID)
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		if snapshot.SummaryStage.Terminal() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("summary never finished")
		}
		time.Sleep(10 * time.Millisecond)
	}

	request = httptest.NewRequest(http.MethodPost, "/v1/transcriptions/"+jobID+"/summary", nil)
	recorder = httptest.NewRecorder()
	env.api.TranscriptionByID(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 for finished summary, got %d", recorder.Code)
	}
	var snapshot domain.Snapshot
	if err := json.Unmarshal(recorder.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snapshot.SummaryText != "a summary" {
		t.Fatalf("expected stored summary, got %q", snapshot.SummaryText)
	}
}

func TestChatFlow(t *testing.T) {
	env := newTestEnv(t)
	jobID := env.submitJob(t)

	// Initialize before completion conflicts.
	request := httptest.NewRequest(http.MethodPost, "/v1/chat/"+jobID+"/initialize", nil)
	recorder := httptest.NewRecorder()
	env.api.ChatByID(recorder, request)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409 before completion, got %d", recorder.Code)
	}

	env.registry.CompleteTranscription(jobID, []domain.Utterance{
		{Speaker: "A", Text: "We decided to launch next week"},
	})

	request = httptest.NewRequest(http.MethodPost, "/v1/chat/"+jobID+"/initialize", nil)
	recorder = httptest.NewRecorder()
	env.api.ChatByID(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	ask := bytes.NewBufferString(`{"question":"What was decided?"}`)
	request = httptest.NewRequest(http.MethodPost, "/v1/chat/"+jobID+"/ask", ask)
	recorder = httptest.NewRecorder()
	env.api.ChatByID(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var answer service.AskResult
	if err := json.Unmarshal(recorder.Body.Bytes(), &answer); err != nil {
		t.Fatalf("decode answer: %v", err)
	}
	if answer.Answer != "an answer" || !answer.ContextUsed {
		t.Fatalf("unexpected answer: %+v", answer)
	}

	request = httptest.NewRequest(http.MethodGet, "/v1/chat/"+jobID+"/stats", nil)
	recorder = httptest.NewRecorder()
	env.api.ChatByID(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 stats, got %d", recorder.Code)
	}

	request = httptest.NewRequest(http.MethodDelete, "/v1/chat/"+jobID, nil)
	recorder = httptest.NewRecorder()
	env.api.ChatByID(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 delete, got %d", recorder.Code)
	}

	request = httptest.NewRequest(http.MethodGet, "/v1/chat/"+jobID+"/stats", nil)
	recorder = httptest.NewRecorder()
	env.api.ChatByID(recorder, request)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", recorder.Code)
	}
}

func TestUploadEmptyDocumentIsUnprocessable(t *testing.T) {
	env := newTestEnv(t)
	jobID := env.submitJob(t)
	env.registry.CompleteTranscription(jobID, []domain.Utterance{{Text: "hello"}})

	request := httptest.NewRequest(http.MethodPost, "/v1/chat/"+jobID+"/initialize", nil)
	recorder := httptest.NewRecorder()
	env.api.ChatByID(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("initialize: %d", recorder.Code)
	}

	payload := bytes.NewBufferString(`{"file_name":"empty.pdf","text":"  "}`)
	request = httptest.NewRequest(http.MethodPost, "/v1/chat/"+jobID+"/documents", payload)
	recorder = httptest.NewRecorder()
	env.api.ChatByID(recorder, request)
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", recorder.Code)
	}
}

func TestAskWithoutInitializeIs404(t *testing.T) {
	env := newTestEnv(t)

	payload := bytes.NewBufferString(`{"question":"anything?"}`)
	request := httptest.NewRequest(http.MethodPost, "/v1/chat/ghost/ask", payload)
	recorder := httptest.NewRecorder()
	env.api.ChatByID(recorder, request)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestMethodGuards(t *testing.T) {
	env := newTestEnv(t)
	jobID := env.submitJob(t)

	cases := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/v1/transcriptions/" + jobID + "/summary"},
		{http.MethodPost, "/v1/transcriptions/" + jobID},
		{http.MethodGet, "/v1/chat/" + jobID + "/initialize"},
		{http.MethodPost, "/v1/chat/" + jobID + "/stats"},
	}
	for _, tc := range cases {
		request := httptest.NewRequest(tc.method, tc.path, nil)
		recorder := httptest.NewRecorder()
		if strings.HasPrefix(tc.path, "/v1/chat/") {
			env.api.ChatByID(recorder, request)
		} else {
			env.api.TranscriptionByID(recorder, request)
		}
		if recorder.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s %s: expected 405, got %d", tc.method, tc.path, recorder.Code)
		}
	}
}
