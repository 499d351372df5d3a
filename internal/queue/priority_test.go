package queue

import (
	"testing"
	"time"

	"transcription-scheduler/internal/models"
)

func TestDequeueOrderAcrossTiers(t *testing.T) {
	q := New()
	submissions := []struct {
		id       string
		priority string
	}{
		{"j1", models.PriorityLow},
		{"j2", models.PriorityUrgent},
		{"j3", models.PriorityNormal},
		{"j4", models.PriorityUrgent},
		{"j5", models.PriorityLow},
	}
	for _, s := range submissions {
		if err := q.Enqueue(s.id, s.priority); err != nil {
			t.Fatalf("enqueue %s: %v", s.id, err)
		}
	}

	want := []string{"j2", "j4", "j3", "j1", "j5"}
	for i, expect := range want {
		got, ok := q.Dequeue()
		if !ok {
			t.Fatalf("dequeue %d: queue reported closed", i)
		}
		if got != expect {
			t.Fatalf("dequeue %d: got %s want %s", i, got, expect)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, len=%d", q.Len())
	}
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	q := New()
	got := make(chan string, 1)
	go func() {
		id, ok := q.Dequeue()
		if !ok {
			id = "closed"
		}
		got <- id
	}()

	select {
	case id := <-got:
		t.Fatalf("dequeue returned %q before enqueue", id)
	case <-time.After(20 * time.Millisecond):
	}

	if err := q.Enqueue("j1", models.PriorityNormal); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case id := <-got:
		if id != "j1" {
			t.Fatalf("got %q want j1", id)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not wake after enqueue")
	}
}

func TestCloseAbortReturnsSentinel(t *testing.T) {
	q := New()
	_ = q.Enqueue("j1", models.PriorityNormal)
	q.Close(false)

	if _, ok := q.Dequeue(); ok {
		t.Fatal("expected sentinel after abort close")
	}
	if err := q.Enqueue("j2", models.PriorityNormal); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	remaining := q.Remaining()
	if len(remaining) != 1 || remaining[0] != "j1" {
		t.Fatalf("expected abandoned j1, got %v", remaining)
	}
}

func TestCloseDrainHandsOutRemaining(t *testing.T) {
	q := New()
	_ = q.Enqueue("j1", models.PriorityLow)
	_ = q.Enqueue("j2", models.PriorityUrgent)
	q.Close(true)

	if id, ok := q.Dequeue(); !ok || id != "j2" {
		t.Fatalf("first drain dequeue: got %q ok=%v", id, ok)
	}
	if id, ok := q.Dequeue(); !ok || id != "j1" {
		t.Fatalf("second drain dequeue: got %q ok=%v", id, ok)
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatal("expected sentinel after drain exhausted")
	}
}

func TestCloseWakesBlockedDequeue(t *testing.T) {
	q := New()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Dequeue()
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close(false)
	select {
	case ok := <-done:
		if ok {
			t.Fatal("blocked dequeue should observe the closed sentinel")
		}
	case <-time.After(time.Second):
		t.Fatal("close did not wake blocked dequeue")
	}
}
