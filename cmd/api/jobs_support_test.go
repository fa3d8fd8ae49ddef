package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/sheet-bridge/internal/jobs"
)

func newJobsRouter(script string) (*gin.Engine, *jobs.Store) {
	gin.SetMode(gin.TestMode)
	store := jobs.NewStore(time.Hour, time.Hour, nil)
	procedures := map[string]jobs.Procedure{
		jobs.JobKindSync:   {Command: "sh", Args: []string{"-c", script, "sh"}},
		jobs.JobKindVerify: {Command: "sh", Args: []string{"-c", script, "sh"}},
	}
	runner := jobs.NewRunner(store, procedures, nil)

	router := gin.New()
	router.POST("/jobs", submitJobHandler(store, runner))
	router.GET("/jobs/kinds", jobKindsHandler(runner))
	router.GET("/jobs/:id", jobStatusHandler(store))
	return router, store
}

func postJob(t *testing.T, router *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	return rec
}

func TestSubmitAndPollJob(t *testing.T) {
	router, _ := newJobsRouter(`echo "PROGRESS 50"; echo '{"ok": true}'`)

	rec := postJob(t, router, `{"kind": "sync", "options": {"tableId": "tbl1"}}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}

	var submitted struct {
		TaskID string `json:"taskId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &submitted); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if submitted.TaskID == "" {
		t.Fatal("taskId must not be empty")
	}

	// 終端状態に達するまでポーリングする
	deadline := time.Now().Add(10 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("job did not finish in time")
		}
		poll := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/jobs/"+submitted.TaskID, nil)
		router.ServeHTTP(poll, req)
		if poll.Code != http.StatusOK {
			t.Fatalf("unexpected poll status: %d", poll.Code)
		}

		var status struct {
			Status     string     `json:"status"`
			Progress   int        `json:"progress"`
			FinishedAt *time.Time `json:"finishedAt"`
			Result     any        `json:"result"`
		}
		if err := json.Unmarshal(poll.Body.Bytes(), &status); err != nil {
			t.Fatalf("failed to decode poll response: %v", err)
		}
		if status.Status == "completed" {
			if status.Progress != 100 {
				t.Fatalf("unexpected progress: %d", status.Progress)
			}
			if status.FinishedAt == nil {
				t.Fatal("finishedAt must be set on terminal state")
			}
			if status.Result == nil {
				t.Fatal("result must be set on completion")
			}
			return
		}
		if status.Status == "failed" {
			t.Fatalf("job failed unexpectedly: %s", poll.Body.String())
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestSubmitJobBusy(t *testing.T) {
	// 終わらないジョブで single-flight ゲートを塞ぐ
	router, store := newJobsRouter(`sleep 30`)

	first := postJob(t, router, `{"kind": "sync"}`)
	if first.Code != http.StatusAccepted {
		t.Fatalf("unexpected status: %d", first.Code)
	}

	second := postJob(t, router, `{"kind": "sync"}`)
	if second.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body=%s", second.Code, second.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(second.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["code"] != "JOB_BUSY" {
		t.Fatalf("unexpected error code: %q", body["code"])
	}
	if store.Len() != 1 {
		t.Fatalf("rejected submission must not create a task: %d", store.Len())
	}
}

func TestSubmitJobUnknownKind(t *testing.T) {
	router, _ := newJobsRouter(`true`)

	rec := postJob(t, router, `{"kind": "nope"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestSubmitJobInvalidOptions(t *testing.T) {
	router, store := newJobsRouter(`true`)

	rec := postJob(t, router, `{"kind": "sync", "options": {"tableId": 123}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if store.Len() != 0 {
		t.Fatalf("invalid submission must not create a task: %d", store.Len())
	}
}

func TestListJobKinds(t *testing.T) {
	router, _ := newJobsRouter(`true`)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/jobs/kinds", nil)
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var body struct {
		Kinds []string `json:"kinds"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Kinds) != 2 || body.Kinds[0] != "sync" || body.Kinds[1] != "verify" {
		t.Fatalf("unexpected kinds: %#v", body.Kinds)
	}
}

func TestPollUnknownTask(t *testing.T) {
	router, _ := newJobsRouter(`true`)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/jobs/no-such-task", nil)
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["code"] != "TASK_NOT_FOUND" {
		t.Fatalf("unexpected error code: %q", body["code"])
	}
}

func TestSplitCommand(t *testing.T) {
	parts := splitCommand("scripts/sync_external.sh --full")
	if len(parts) != 2 || parts[0] != "scripts/sync_external.sh" || parts[1] != "--full" {
		t.Fatalf("unexpected parts: %#v", parts)
	}
	if len(splitCommand("  ")) != 0 {
		t.Fatal("blank command must produce no parts")
	}
}
