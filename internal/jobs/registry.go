package jobs

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/echoform/transcribe-chat-back/internal/domain"
)

var (
	// ErrNotFound is returned for job IDs the registry has never seen.
	ErrNotFound = errors.New("job not found")
	// ErrAlreadyExists is returned when a job ID is created twice.
	ErrAlreadyExists = errors.New("job already exists")
)

// Registry owns the live job records. Each entry has a single logical
// writer (the worker that processes it, plus the watchdog); readers get
// immutable snapshots. Terminal stages are immutable: any transition
// attempt against a terminal job is a silent no-op, so a late worker
// result cannot overwrite a watchdog timeout or vice versa.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	jobTimeout time.Duration
	bufferSize int
	logger     *log.Logger
}

type entry struct {
	mu          sync.Mutex
	job         domain.Job
	broadcaster *Broadcaster
	watchdog    *time.Timer
}

func NewRegistry(jobTimeout time.Duration, subscriberBuffer int, logger *log.Logger) *Registry {
	return &Registry{
		entries:    make(map[string]*entry),
		jobTimeout: jobTimeout,
		bufferSize: subscriberBuffer,
		logger:     logger,
	}
}

// Create registers a new pending job and arms its watchdog. The watchdog
// force-fails the job if no terminal transition happens within the job
// timeout, so subscribers are never left waiting on a crashed worker.
func (r *Registry) Create(id, mediaRef string, diarize bool) (domain.Snapshot, error) {
	now := time.Now().UTC()
	job := domain.Job{
		ID:           id,
		Stage:        domain.StagePending,
		MediaRef:     mediaRef,
		Diarized:     diarize,
		SummaryStage: domain.SummaryNone,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	snapshot := job.Snapshot()

	e := &entry{
		job:         job,
		broadcaster: NewBroadcaster(snapshot, r.bufferSize),
	}

	r.mu.Lock()
	if _, exists := r.entries[id]; exists {
		r.mu.Unlock()
		return domain.Snapshot{}, ErrAlreadyExists
	}
	r.entries[id] = e
	r.mu.Unlock()

	if r.jobTimeout > 0 {
		e.watchdog = time.AfterFunc(r.jobTimeout, func() {
			r.failFromWatchdog(id)
		})
	}
	return snapshot, nil
}

func (r *Registry) failFromWatchdog(id string) {
	changed := r.transition(id, func(job *domain.Job) bool {
		if job.Stage.Terminal() {
			return false
		}
		job.Stage = domain.StageFailed
		job.ErrorMessage = "transcription timed out"
		return true
	})
	if changed && r.logger != nil {
		r.logger.Printf("job force-failed by watchdog job_id=%s", id)
	}
}

// transition applies mutate under the entry lock and broadcasts the new
// snapshot when mutate reports a change. Missing IDs are ignored.
func (r *Registry) transition(id string, mutate func(*domain.Job) bool) bool {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !mutate(&e.job) {
		return false
	}
	e.job.UpdatedAt = time.Now().UTC()
	if e.job.Stage.Terminal() && e.watchdog != nil {
		e.watchdog.Stop()
	}
	// Published under the entry lock: Publish never blocks, and two
	// writers racing on one entry must emit snapshots in mutation order.
	e.broadcaster.Publish(e.job.Snapshot())
	return true
}

// MarkProcessing moves a pending job into the processing stage.
func (r *Registry) MarkProcessing(id string) {
	r.transition(id, func(job *domain.Job) bool {
		if job.Stage != domain.StagePending {
			return false
		}
		job.Stage = domain.StageProcessing
		return true
	})
}

// CompleteTranscription records the full result and completes the job.
// A job already in a terminal stage is left untouched.
func (r *Registry) CompleteTranscription(id string, utterances []domain.Utterance) {
	r.transition(id, func(job *domain.Job) bool {
		if job.Stage.Terminal() {
			return false
		}
		job.Stage = domain.StageCompleted
		job.Result = utterances
		job.ErrorMessage = ""
		return true
	})
}

// FailTranscription terminates the job with a subscriber-visible message.
func (r *Registry) FailTranscription(id, message string) {
	r.transition(id, func(job *domain.Job) bool {
		if job.Stage.Terminal() {
			return false
		}
		job.Stage = domain.StageFailed
		job.ErrorMessage = message
		return true
	})
}

// BeginSummary gates summarization: it starts only when transcription has
// completed and no summary run is pending or finished. A failed run may be
// retried by a fresh request. Duplicate requests return the current
// snapshot with started=false, so callers can answer idempotently without
// kicking off a second run.
func (r *Registry) BeginSummary(id string) (domain.Snapshot, bool, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return domain.Snapshot{}, false, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	startable := e.job.SummaryStage == domain.SummaryNone || e.job.SummaryStage == domain.SummaryFailed
	if e.job.Stage != domain.StageCompleted || !startable {
		return e.job.Snapshot(), false, nil
	}
	e.job.SummaryStage = domain.SummaryPending
	e.job.SummaryError = ""
	e.job.UpdatedAt = time.Now().UTC()
	snapshot := e.job.Snapshot()
	e.broadcaster.Publish(snapshot)
	return snapshot, true, nil
}

// CompleteSummary records the summary text for a pending summary run.
func (r *Registry) CompleteSummary(id, text string) {
	r.transition(id, func(job *domain.Job) bool {
		if job.SummaryStage != domain.SummaryPending {
			return false
		}
		job.SummaryStage = domain.SummaryCompleted
		job.SummaryText = text
		return true
	})
}

// FailSummary records a summary failure. The transcription result stays
// intact; only the summary stage is affected.
func (r *Registry) FailSummary(id, message string) {
	r.transition(id, func(job *domain.Job) bool {
		if job.SummaryStage != domain.SummaryPending {
			return false
		}
		job.SummaryStage = domain.SummaryFailed
		job.SummaryError = message
		return true
	})
}

// Snapshot returns the current state of the job.
func (r *Registry) Snapshot(id string) (domain.Snapshot, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return domain.Snapshot{}, ErrNotFound
	}
	return e.broadcaster.Latest(), nil
}

// Subscribe attaches a live status stream to the job. The subscription's
// first delivery is the current snapshot, even when already terminal.
func (r *Registry) Subscribe(id string) (Subscription, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return Subscription{}, ErrNotFound
	}
	return e.broadcaster.Subscribe(), nil
}

// Delete removes the job, stopping its watchdog and ending all
// subscriptions.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	e.mu.Lock()
	if e.watchdog != nil {
		e.watchdog.Stop()
	}
	e.mu.Unlock()

	e.broadcaster.Close()
	return nil
}
