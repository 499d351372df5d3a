package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"transcription-scheduler/internal/cache"
	"transcription-scheduler/internal/config"
	"transcription-scheduler/internal/models"
	"transcription-scheduler/internal/resource"
	"transcription-scheduler/internal/scheduler"
	"transcription-scheduler/internal/transcribe"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Config{
		WorkerCount:        2,
		ResourceMaxHolders: 1,
		JobTimeout:         5 * time.Second,
		MaxAttempts:        2,
		BackoffInitial:     5 * time.Millisecond,
		BackoffMax:         20 * time.Millisecond,
		CacheCapacity:      16,
		CacheSweep:         time.Hour,
	}
	tr := transcribe.Func(func(ctx context.Context, req transcribe.Request, progress func(int)) (models.Result, error) {
		progress(50)
		return models.Result{Text: "transcribed " + req.Input.SHA256}, nil
	})
	hooks := resource.Hooks{Load: func(context.Context) (any, error) { return "model", nil }}
	sched := scheduler.New(cfg, cache.NewMemory(cfg.CacheCapacity, 0), hooks, tr, nil)
	sched.Start()
	ts := httptest.NewServer(New(sched).Router())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sched.Shutdown(ctx, false)
	})
	return ts
}

func submitJob(t *testing.T, ts *httptest.Server, sha string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]any{
		"input":    map[string]string{"sha256": sha},
		"priority": "high",
	})
	resp, err := http.Post(ts.URL+"/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status: %d", resp.StatusCode)
	}
	var out struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out.JobID
}

func TestSubmitStatusResultRoundtrip(t *testing.T) {
	ts := newTestServer(t)
	id := submitJob(t, ts, "clip-1")

	deadline := time.Now().Add(3 * time.Second)
	var job models.Job
	for {
		resp, err := http.Get(ts.URL + "/jobs/" + id)
		if err != nil {
			t.Fatalf("get status: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status code: %d", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		resp.Body.Close()
		if models.IsTerminal(job.Status) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never finished: %+v", job)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if job.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %+v", job)
	}

	resp, err := http.Get(ts.URL + "/jobs/" + id + "/result")
	if err != nil {
		t.Fatalf("get result: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("result status: %d", resp.StatusCode)
	}
	var result models.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Text != "transcribed clip-1" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestUnknownJobReturns404(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := http.Get(ts.URL + "/jobs/does-not-exist")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	resp, _ = http.Post(ts.URL+"/jobs/does-not-exist/cancel", "application/json", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cancel: %d", resp.StatusCode)
	}
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Post(ts.URL+"/jobs", "application/json", strings.NewReader(`{"input":{}}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestEventStreamEndsAtTerminal(t *testing.T) {
	ts := newTestServer(t)
	id := submitJob(t, ts, "clip-sse")

	resp, err := http.Get(ts.URL + "/jobs/" + id + "/events")
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: %s", ct)
	}

	var last models.Job
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &last); err != nil {
			t.Fatalf("decode event: %v", err)
		}
	}
	if !models.IsTerminal(last.Status) {
		t.Fatalf("stream ended before terminal status: %+v", last)
	}
}

func TestHealthReportsStats(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status: %d", resp.StatusCode)
	}
	var out struct {
		Status string          `json:"status"`
		Stats  scheduler.Stats `json:"stats"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if out.Status != "ok" {
		t.Fatalf("unexpected health payload: %+v", out)
	}
}
