package jobs

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/echoform/transcribe-chat-back/internal/domain"
)

func newTestRegistry(timeout time.Duration) *Registry {
	return NewRegistry(timeout, 8, nil)
}

func mustCreate(t *testing.T, r *Registry, id string) domain.Snapshot {
	t.Helper()
	snapshot, err := r.Create(id, "media/"+id, false)
	if err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
	return snapshot
}

func collectUntilTerminal(t *testing.T, sub Subscription) []domain.Snapshot {
	t.Helper()
	var seen []domain.Snapshot
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snapshot, ok := <-sub.C:
			if !ok {
				t.Fatalf("subscription closed before terminal snapshot, saw %d", len(seen))
			}
			seen = append(seen, snapshot)
			if snapshot.Stage.Terminal() {
				return seen
			}
		case <-deadline:
			t.Fatalf("no terminal snapshot within deadline, saw %d", len(seen))
		}
	}
}

func TestCreateStartsPendingAndRejectsDuplicates(t *testing.T) {
	r := newTestRegistry(time.Minute)

	snapshot := mustCreate(t, r, "j1")
	if snapshot.Stage != domain.StagePending {
		t.Fatalf("expected pending stage, got %q", snapshot.Stage)
	}
	if snapshot.SummaryStage != domain.SummaryNone {
		t.Fatalf("expected no summary stage, got %q", snapshot.SummaryStage)
	}

	if _, err := r.Create("j1", "media/j1", false); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestSubscriberObservesFullLifecycle(t *testing.T) {
	r := newTestRegistry(time.Minute)
	mustCreate(t, r, "j1")

	sub, err := r.Subscribe("j1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Cancel()

	r.MarkProcessing("j1")
	r.CompleteTranscription("j1", []domain.Utterance{{Speaker: "A", Text: "hello"}})

	seen := collectUntilTerminal(t, sub)
	stages := make([]domain.JobStage, len(seen))
	for i, snapshot := range seen {
		stages[i] = snapshot.Stage
	}
	want := []domain.JobStage{domain.StagePending, domain.StageProcessing, domain.StageCompleted}
	if len(stages) != len(want) {
		t.Fatalf("expected stages %v, got %v", want, stages)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Fatalf("expected stages %v, got %v", want, stages)
		}
	}

	final := seen[len(seen)-1]
	if len(final.Result) != 1 || final.Result[0].Text != "hello" {
		t.Fatalf("terminal snapshot missing result: %+v", final.Result)
	}
	if final.Error != "" {
		t.Fatalf("completed snapshot must not carry an error, got %q", final.Error)
	}
}

func TestLateSubscriberGetsTerminalSnapshotImmediately(t *testing.T) {
	r := newTestRegistry(time.Minute)
	mustCreate(t, r, "j1")
	r.MarkProcessing("j1")
	r.FailTranscription("j1", "provider unavailable")

	sub, err := r.Subscribe("j1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Cancel()

	snapshot := receiveOne(t, sub)
	if snapshot.Stage != domain.StageFailed {
		t.Fatalf("expected immediate failed snapshot, got %q", snapshot.Stage)
	}
	if snapshot.Error != "provider unavailable" {
		t.Fatalf("expected failure message, got %q", snapshot.Error)
	}
}

func TestTerminalStageIsImmutable(t *testing.T) {
	r := newTestRegistry(time.Minute)
	mustCreate(t, r, "j1")
	r.FailTranscription("j1", "boom")

	// Late worker results and further failures must not disturb the
	// terminal record.
	r.CompleteTranscription("j1", []domain.Utterance{{Text: "late"}})
	r.FailTranscription("j1", "boom again")
	r.MarkProcessing("j1")

	snapshot, err := r.Snapshot("j1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.Stage != domain.StageFailed || snapshot.Error != "boom" {
		t.Fatalf("terminal record mutated: stage=%q error=%q", snapshot.Stage, snapshot.Error)
	}
	if len(snapshot.Result) != 0 {
		t.Fatalf("failed job must not carry a result, got %d utterances", len(snapshot.Result))
	}
}

func TestWatchdogFailsStuckJobExactlyOnce(t *testing.T) {
	r := newTestRegistry(30 * time.Millisecond)
	mustCreate(t, r, "j1")
	r.MarkProcessing("j1")

	sub, err := r.Subscribe("j1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Cancel()

	seen := collectUntilTerminal(t, sub)
	final := seen[len(seen)-1]
	if final.Stage != domain.StageFailed {
		t.Fatalf("expected watchdog failure, got %q", final.Stage)
	}
	if final.Error == "" {
		t.Fatal("watchdog failure must carry an error message")
	}

	terminalCount := 0
	for _, snapshot := range seen {
		if snapshot.Stage.Terminal() {
			terminalCount++
		}
	}
	if terminalCount != 1 {
		t.Fatalf("expected exactly one terminal snapshot, got %d", terminalCount)
	}

	// A worker finishing after the watchdog fired is ignored.
	r.CompleteTranscription("j1", []domain.Utterance{{Text: "too late"}})
	snapshot, _ := r.Snapshot("j1")
	if snapshot.Stage != domain.StageFailed {
		t.Fatalf("late completion overwrote watchdog failure: %q", snapshot.Stage)
	}
}

func TestWatchdogDisarmedByCompletion(t *testing.T) {
	r := newTestRegistry(40 * time.Millisecond)
	mustCreate(t, r, "j1")
	r.CompleteTranscription("j1", []domain.Utterance{{Text: "done"}})

	time.Sleep(80 * time.Millisecond)

	snapshot, err := r.Snapshot("j1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.Stage != domain.StageCompleted {
		t.Fatalf("watchdog fired after completion: %q", snapshot.Stage)
	}
}

func TestBeginSummaryGatesAndDeduplicates(t *testing.T) {
	r := newTestRegistry(time.Minute)
	mustCreate(t, r, "j1")

	// Summaries cannot start before transcription completes.
	if _, started, err := r.BeginSummary("j1"); err != nil || started {
		t.Fatalf("summary must not start on pending job: started=%v err=%v", started, err)
	}

	r.CompleteTranscription("j1", []domain.Utterance{{Text: "hello"}})

	snapshot, started, err := r.BeginSummary("j1")
	if err != nil || !started {
		t.Fatalf("expected summary to start: started=%v err=%v", started, err)
	}
	if snapshot.SummaryStage != domain.SummaryPending {
		t.Fatalf("expected pending summary stage, got %q", snapshot.SummaryStage)
	}

	// Duplicate request while pending is a no-op.
	dup, started, err := r.BeginSummary("j1")
	if err != nil || started {
		t.Fatalf("duplicate summary request must not start: started=%v err=%v", started, err)
	}
	if dup.SummaryStage != domain.SummaryPending {
		t.Fatalf("duplicate must report the in-flight run, got %q", dup.SummaryStage)
	}

	r.CompleteSummary("j1", "the summary")

	// Request after completion returns the finished run.
	done, started, err := r.BeginSummary("j1")
	if err != nil || started {
		t.Fatalf("summary request after completion must not restart: started=%v err=%v", started, err)
	}
	if done.SummaryStage != domain.SummaryCompleted || done.SummaryText != "the summary" {
		t.Fatalf("expected completed summary, got stage=%q text=%q", done.SummaryStage, done.SummaryText)
	}
}

func TestFailSummaryKeepsTranscription(t *testing.T) {
	r := newTestRegistry(time.Minute)
	mustCreate(t, r, "j1")
	r.CompleteTranscription("j1", []domain.Utterance{{Text: "hello"}})

	if _, started, _ := r.BeginSummary("j1"); !started {
		t.Fatal("expected summary to start")
	}
	r.FailSummary("j1", "model unavailable")

	snapshot, err := r.Snapshot("j1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.Stage != domain.StageCompleted {
		t.Fatalf("summary failure must not affect transcription stage, got %q", snapshot.Stage)
	}
	if snapshot.SummaryStage != domain.SummaryFailed || snapshot.SummaryError != "model unavailable" {
		t.Fatalf("expected failed summary, got stage=%q error=%q", snapshot.SummaryStage, snapshot.SummaryError)
	}
	if !snapshot.Terminal() {
		t.Fatal("completed job with failed summary should be stream-terminal")
	}
}

func TestBeginSummaryRetriesAfterFailure(t *testing.T) {
	r := newTestRegistry(time.Minute)
	mustCreate(t, r, "j1")
	r.CompleteTranscription("j1", []domain.Utterance{{Text: "hello"}})

	if _, started, _ := r.BeginSummary("j1"); !started {
		t.Fatal("expected first summary run to start")
	}
	r.FailSummary("j1", "model unavailable")

	snapshot, started, err := r.BeginSummary("j1")
	if err != nil || !started {
		t.Fatalf("expected a fresh run after summary failure: started=%v err=%v", started, err)
	}
	if snapshot.SummaryStage != domain.SummaryPending {
		t.Fatalf("expected pending summary stage on retry, got %q", snapshot.SummaryStage)
	}
	if snapshot.SummaryError != "" {
		t.Fatalf("retry must clear the previous summary error, got %q", snapshot.SummaryError)
	}

	r.CompleteSummary("j1", "second attempt")

	done, started, err := r.BeginSummary("j1")
	if err != nil || started {
		t.Fatalf("completed summary must not restart: started=%v err=%v", started, err)
	}
	if done.SummaryStage != domain.SummaryCompleted || done.SummaryText != "second attempt" {
		t.Fatalf("expected completed retry, got stage=%q text=%q", done.SummaryStage, done.SummaryText)
	}
}

func TestConcurrentWritersPublishInMutationOrder(t *testing.T) {
	// Worker and watchdog may race on one entry. Snapshots must reach
	// subscribers in mutation order, so nothing follows the terminal one.
	for i := 0; i < 200; i++ {
		r := newTestRegistry(time.Minute)
		id := fmt.Sprintf("j%d", i)
		mustCreate(t, r, id)

		sub, err := r.Subscribe(id)
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.MarkProcessing(id)
		}()
		go func() {
			defer wg.Done()
			r.FailTranscription(id, "raced")
		}()
		wg.Wait()

		var seen []domain.Snapshot
	drain:
		for {
			select {
			case snapshot := <-sub.C:
				seen = append(seen, snapshot)
			default:
				break drain
			}
		}
		sub.Cancel()

		terminalSeen := false
		for _, snapshot := range seen {
			if terminalSeen && snapshot.Stage != domain.StageFailed {
				t.Fatalf("iteration %d: stage %q published after terminal snapshot", i, snapshot.Stage)
			}
			if snapshot.Stage.Terminal() {
				terminalSeen = true
			}
		}
		if !terminalSeen {
			t.Fatalf("iteration %d: no terminal snapshot observed", i)
		}
	}
}

func TestSnapshotAndSubscribeUnknownJob(t *testing.T) {
	r := newTestRegistry(time.Minute)

	if _, err := r.Snapshot("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from snapshot, got %v", err)
	}
	if _, err := r.Subscribe("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from subscribe, got %v", err)
	}
	if err := r.Delete("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from delete, got %v", err)
	}
}

func TestDeleteClosesSubscriptions(t *testing.T) {
	r := newTestRegistry(time.Minute)
	mustCreate(t, r, "j1")

	sub, err := r.Subscribe("j1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	receiveOne(t, sub)

	if err := r.Delete("j1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := <-sub.C; ok {
		t.Fatal("expected closed subscription after delete")
	}
	if _, err := r.Snapshot("j1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
