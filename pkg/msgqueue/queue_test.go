package msgqueue

import (
	"testing"
	"time"
)

type fakeMsg struct {
	id        string
	expiresAt int64
}

func expiryOf(m fakeMsg) int64 { return m.expiresAt }

func TestEnqueueDrainFIFOOrder(t *testing.T) {
	q := New(expiryOf)
	q.Enqueue("P", fakeMsg{id: "1", expiresAt: time.Now().Add(time.Hour).UnixMilli()})
	q.Enqueue("P", fakeMsg{id: "2", expiresAt: time.Now().Add(time.Hour).UnixMilli()})

	got := q.Drain("P")
	if len(got) != 2 || got[0].id != "1" || got[1].id != "2" {
		t.Fatalf("unexpected drain order: %+v", got)
	}
	if !q.Empty("P") {
		t.Error("expected queue empty after drain")
	}
}

func TestRemoveOutdated(t *testing.T) {
	q := New(expiryOf)
	past := time.Now().Add(-time.Hour).UnixMilli()
	future := time.Now().Add(time.Hour).UnixMilli()

	q.Enqueue("P", fakeMsg{id: "expired", expiresAt: past})
	q.Enqueue("P", fakeMsg{id: "alive", expiresAt: future})

	removed := q.RemoveOutdated(time.Now())
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	got := q.Drain("P")
	if len(got) != 1 || got[0].id != "alive" {
		t.Fatalf("unexpected survivors: %+v", got)
	}
}

func TestSize(t *testing.T) {
	q := New(expiryOf)
	q.Enqueue("A", fakeMsg{id: "1", expiresAt: time.Now().Add(time.Hour).UnixMilli()})
	q.Enqueue("B", fakeMsg{id: "2", expiresAt: time.Now().Add(time.Hour).UnixMilli()})
	if q.Size() != 2 {
		t.Errorf("expected size 2, got %d", q.Size())
	}
}
