package jobs

import (
	"testing"
	"time"

	"github.com/echoform/transcribe-chat-back/internal/domain"
)

func snapshotAt(stage domain.JobStage, seq int) domain.Snapshot {
	return domain.Snapshot{
		JobID:     "j1",
		Stage:     stage,
		UpdatedAt: time.Unix(int64(seq), 0),
	}
}

func receiveOne(t *testing.T, sub Subscription) domain.Snapshot {
	t.Helper()
	select {
	case snapshot, ok := <-sub.C:
		if !ok {
			t.Fatal("subscription closed before delivery")
		}
		return snapshot
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
		return domain.Snapshot{}
	}
}

func TestSubscribeReplaysCurrentSnapshot(t *testing.T) {
	b := NewBroadcaster(snapshotAt(domain.StagePending, 0), 4)
	b.Publish(snapshotAt(domain.StageProcessing, 1))

	sub := b.Subscribe()
	defer sub.Cancel()

	first := receiveOne(t, sub)
	if first.Stage != domain.StageProcessing {
		t.Fatalf("expected replay of latest snapshot, got stage %q", first.Stage)
	}
}

func TestPublishReachesAllSubscribersInOrder(t *testing.T) {
	b := NewBroadcaster(snapshotAt(domain.StagePending, 0), 8)

	subs := []Subscription{b.Subscribe(), b.Subscribe(), b.Subscribe()}
	defer func() {
		for _, sub := range subs {
			sub.Cancel()
		}
	}()

	b.Publish(snapshotAt(domain.StageProcessing, 1))
	b.Publish(snapshotAt(domain.StageCompleted, 2))

	want := []domain.JobStage{domain.StagePending, domain.StageProcessing, domain.StageCompleted}
	for i, sub := range subs {
		for _, stage := range want {
			got := receiveOne(t, sub)
			if got.Stage != stage {
				t.Fatalf("subscriber %d: expected stage %q, got %q", i, stage, got.Stage)
			}
		}
	}
}

func TestSlowSubscriberDropsOldestButKeepsTerminal(t *testing.T) {
	b := NewBroadcaster(snapshotAt(domain.StagePending, 0), 2)
	sub := b.Subscribe()
	defer sub.Cancel()

	// Subscriber never reads while a burst of updates lands.
	for i := 1; i <= 10; i++ {
		b.Publish(snapshotAt(domain.StageProcessing, i))
	}
	b.Publish(snapshotAt(domain.StageCompleted, 11))

	var last domain.Snapshot
	received := 0
	for {
		select {
		case snapshot := <-sub.C:
			last = snapshot
			received++
			continue
		default:
		}
		break
	}

	if received != 2 {
		t.Fatalf("expected buffer-bounded delivery of 2 snapshots, got %d", received)
	}
	if last.Stage != domain.StageCompleted {
		t.Fatalf("terminal snapshot lost: last stage %q", last.Stage)
	}
}

func TestSlowSubscriberDoesNotAffectOthers(t *testing.T) {
	b := NewBroadcaster(snapshotAt(domain.StagePending, 0), 2)
	slow := b.Subscribe()
	defer slow.Cancel()
	fast := b.Subscribe()
	defer fast.Cancel()

	receiveOne(t, fast) // drain the replayed snapshot

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= 50; i++ {
			b.Publish(snapshotAt(domain.StageProcessing, i))
		}
	}()

	// The fast subscriber keeps reading while slow never does; Publish
	// must not block on the slow subscriber's full buffer.
	for i := 0; i < 50; i++ {
		receiveOne(t, fast)
	}
	<-done
}

func TestCancelStopsDeliveryAndClosesChannel(t *testing.T) {
	b := NewBroadcaster(snapshotAt(domain.StagePending, 0), 4)
	sub := b.Subscribe()
	receiveOne(t, sub)

	sub.Cancel()
	sub.Cancel() // idempotent

	b.Publish(snapshotAt(domain.StageCompleted, 1))
	if _, ok := <-sub.C; ok {
		t.Fatal("expected closed channel after cancel")
	}
}

func TestCloseEndsSubscriptionsAfterBufferedDelivery(t *testing.T) {
	b := NewBroadcaster(snapshotAt(domain.StagePending, 0), 4)
	sub := b.Subscribe()

	b.Publish(snapshotAt(domain.StageFailed, 1))
	b.Close()

	if got := receiveOne(t, sub); got.Stage != domain.StagePending {
		t.Fatalf("expected buffered replay first, got %q", got.Stage)
	}
	if got := receiveOne(t, sub); got.Stage != domain.StageFailed {
		t.Fatalf("expected buffered terminal snapshot, got %q", got.Stage)
	}
	if _, ok := <-sub.C; ok {
		t.Fatal("expected closed channel after Close")
	}

	late := b.Subscribe()
	if got := receiveOne(t, late); got.Stage != domain.StageFailed {
		t.Fatalf("late subscriber should still replay latest, got %q", got.Stage)
	}
	if _, ok := <-late.C; ok {
		t.Fatal("late subscription on closed broadcaster must be closed after replay")
	}
}
