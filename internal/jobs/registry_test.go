package jobs

import (
	"testing"

	"transcription-scheduler/internal/models"
)

func newPendingRecord(t *testing.T, reg *Registry) *Record {
	t.Helper()
	return reg.Create("fp-1", models.PriorityNormal, models.Input{SHA256: "abc"}, models.Options{})
}

func TestStatusTransitionsAreForwardOnly(t *testing.T) {
	reg := NewRegistry()
	rec := newPendingRecord(t, reg)

	if !rec.MarkRunning(nil) {
		t.Fatal("pending -> running should succeed")
	}
	if rec.MarkRunning(nil) {
		t.Fatal("running -> running must be rejected")
	}
	if !rec.Complete(models.Result{Text: "done"}) {
		t.Fatal("running -> completed should succeed")
	}
	if rec.Fail(models.NewJobError(models.KindTimeout, "late")) {
		t.Fatal("terminal status must not regress to failed")
	}
	if rec.MarkCancelled() {
		t.Fatal("terminal status must not regress to cancelled")
	}
	snap := rec.Snapshot()
	if snap.Status != models.StatusCompleted || snap.Result == nil || snap.FinishedAt == nil {
		t.Fatalf("bad terminal snapshot: %+v", snap)
	}
}

func TestActiveFingerprintReleasedOnTerminal(t *testing.T) {
	reg := NewRegistry()
	rec := newPendingRecord(t, reg)

	if _, ok := reg.Active("fp-1"); !ok {
		t.Fatal("fingerprint should be active while pending")
	}
	rec.MarkRunning(nil)
	rec.Complete(models.Result{Text: "x"})
	if _, ok := reg.Active("fp-1"); ok {
		t.Fatal("fingerprint must be released once the job is terminal")
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	reg := NewRegistry()
	rec := newPendingRecord(t, reg)

	rec.SetProgress(50)
	if rec.Snapshot().Progress != 0 {
		t.Fatal("progress must not move before running")
	}
	rec.MarkRunning(nil)
	rec.SetProgress(40)
	rec.SetProgress(20) // lower, ignored
	rec.SetProgress(140)
	if got := rec.Snapshot().Progress; got != 100 {
		t.Fatalf("expected clamped progress 100, got %d", got)
	}
}

func TestCoalescedCancelIsPerSubscriber(t *testing.T) {
	reg := NewRegistry()
	rec := newPendingRecord(t, reg)
	rec.AddRef() // second coalesced submitter

	if !rec.Cancel() {
		t.Fatal("first cancel should report cancellable")
	}
	if rec.CancelRequested() {
		t.Fatal("one remaining subscriber: job must keep running")
	}
	if !rec.Cancel() {
		t.Fatal("second cancel should report cancellable")
	}
	if !rec.CancelRequested() {
		t.Fatal("last subscriber cancelled: job must be flagged")
	}
	rec.MarkCancelled()
	if rec.Cancel() {
		t.Fatal("cancel on a terminal job must return false")
	}
}

func TestSubscribeEndsAtTerminal(t *testing.T) {
	reg := NewRegistry()
	rec := newPendingRecord(t, reg)

	ch := rec.Subscribe()
	first := <-ch
	if first.Status != models.StatusPending {
		t.Fatalf("stream should open with current state, got %s", first.Status)
	}

	rec.MarkRunning(nil)
	rec.Complete(models.Result{Text: "x"})

	var last models.Job
	for snap := range ch {
		if prev, cur := last.Status, snap.Status; prev != "" && prev != cur && !models.ValidTransition(prev, cur) {
			t.Fatalf("observed regression %s -> %s", prev, cur)
		}
		last = snap
	}
	if last.Status != models.StatusCompleted {
		t.Fatalf("stream must end with the terminal snapshot, got %s", last.Status)
	}

	// Subscribing after the fact yields just the terminal snapshot.
	ch2 := rec.Subscribe()
	snap, open := <-ch2
	if !open || snap.Status != models.StatusCompleted {
		t.Fatalf("late subscribe: got open=%v status=%s", open, snap.Status)
	}
	if _, open := <-ch2; open {
		t.Fatal("late subscribe stream must close after terminal snapshot")
	}
}
