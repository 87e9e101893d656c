package jobs

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

	"github.com/gin-gonic/gin"

	"github.com/yourusername/easypdf/internal/auth"
	"github.com/yourusername/easypdf/internal/models"
	"github.com/yourusername/easypdf/internal/pdf"
)

func newRouter(h *harness, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if userID != "" {
		r.Use(func(c *gin.Context) {
			c.Set(auth.ContextUserKey, userID)
			c.Next()
		})
	}
	handler := NewHandler(h.orch)
	r.POST("/api/pdf/merge", handler.Tool(pdf.OperationMerge))
	r.POST("/api/pdf/esign", handler.Tool(pdf.OperationESign))
	r.POST("/api/pdf/batch", handler.Batch)
	r.POST("/api/jobs", handler.Create)
	r.GET("/api/jobs/:id", handler.Get)
	r.GET("/api/jobs/:id/events", handler.Events)
	return r
}

func postJSON(r http.Handler, path string, body any) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestToolMergeResponse(t *testing.T) {
	h := newHarness(t)
	r := newRouter(h, "")
	a := h.addPDF("a.pdf", 3)
	b := h.addPDF("b.pdf", 5)

	rec := postJSON(r, "/api/pdf/merge", gin.H{"fileIds": []string{a, b}})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["success"] != true || body["totalPages"] != float64(8) {
		t.Fatalf("unexpected body: %#v", body)
	}
	if path, _ := body["filePath"].(string); !strings.HasPrefix(path, "/outputs/") {
		t.Fatalf("unexpected filePath: %v", body["filePath"])
	}
	if body["jobId"] == "" || body["downloadUrl"] == "" {
		t.Fatalf("missing job id or download url: %#v", body)
	}
}

func TestToolMergeRejectsSingleFile(t *testing.T) {
	h := newHarness(t)
	r := newRouter(h, "")
	a := h.addPDF("a.pdf", 1)

	rec := postJSON(r, "/api/pdf/merge", gin.H{"fileIds": []string{a}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["code"] != "INVALID_INPUT" {
		t.Fatalf("unexpected body: %#v", body)
	}
	if n := h.jobCount(); n != 0 {
		t.Fatalf("expected no job rows, found %d", n)
	}
}

func TestToolFailureIncludesJobID(t *testing.T) {
	h := newHarness(t)
	r := newRouter(h, "")
	a := h.addPDF("a.pdf", 1)

	rec := postJSON(r, "/api/pdf/merge", gin.H{"fileIds": []string{a, "missing"}})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["code"] != "FILE_NOT_FOUND" || body["jobId"] == nil {
		t.Fatalf("unexpected body: %#v", body)
	}
}

func TestToolESignRequiresPremium(t *testing.T) {
	h := newHarness(t)
	a := h.addPDF("a.pdf", 1)

	rec := postJSON(newRouter(h, "free-user"), "/api/pdf/esign", gin.H{"fileId": a, "signatureData": "Sato"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}

	rec = postJSON(newRouter(h, "premium-user"), "/api/pdf/esign", gin.H{
		"fileId":        a,
		"signatureData": "Sato",
		"options":       gin.H{"signerName": "Sato"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	info, ok := decodeBody(t, rec)["signatureInfo"].(map[string]any)
	if !ok || info["signerName"] != "Sato" {
		t.Fatalf("unexpected signatureInfo: %#v", info)
	}
}

func TestBatchResponse(t *testing.T) {
	h := newHarness(t)
	r := newRouter(h, "premium-user")
	ids := []string{h.addPDF("1.pdf", 1), h.addPDF("2.pdf", 2)}

	rec := postJSON(r, "/api/pdf/batch", gin.H{"operation": "compress", "fileIds": ids})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	summary, _ := body["summary"].(map[string]any)
	if body["status"] != "completed" || summary["success"] != float64(2) {
		t.Fatalf("unexpected body: %#v", body)
	}
}

func TestCreateAndGetJob(t *testing.T) {
	h := newHarness(t)
	d := NewInlineDispatcher(h.orch.log)
	h.orch.Dispatcher = d
	if err := d.Start(h.orch); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r := newRouter(h, "owner")
	id := h.addPDF("a.pdf", 2)

	rec := postJSON(r, "/api/jobs", gin.H{
		"operation":  "rotate",
		"fileIds":    []string{id},
		"parameters": gin.H{"rotation": 180},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	job, _ := decodeBody(t, rec)["job"].(map[string]any)
	jobID, _ := job["id"].(string)
	if jobID == "" || job["status"] != "pending" {
		t.Fatalf("unexpected job: %#v", job)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+jobID, nil)
	get := httptest.NewRecorder()
	r.ServeHTTP(get, req)
	if get.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", get.Code, get.Body.String())
	}
	view, _ := decodeBody(t, get)["job"].(map[string]any)
	if view["status"] != "completed" || view["progress"] != float64(100) || view["result"] == nil {
		t.Fatalf("unexpected view: %#v", view)
	}

	other := httptest.NewRecorder()
	newRouter(h, "intruder").ServeHTTP(other, httptest.NewRequest(http.MethodGet, "/api/jobs/"+jobID, nil))
	if other.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another user, got %d", other.Code)
	}
}

func TestCreateRequiresLogin(t *testing.T) {
	h := newHarness(t)
	id := h.addPDF("a.pdf", 1)

	rec := postJSON(newRouter(h, ""), "/api/jobs", gin.H{"operation": "rotate", "fileIds": []string{id}})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["code"] != "UNAUTHORIZED" {
		t.Fatalf("unexpected body: %#v", body)
	}
	if n := h.jobCount(); n != 0 {
		t.Fatalf("expected no job rows, got %d", n)
	}
}

func TestCreateBatchPrefix(t *testing.T) {
	h := newHarness(t)
	d := NewInlineDispatcher(h.orch.log)
	h.orch.Dispatcher = d
	if err := d.Start(h.orch); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Shutdown(context.Background())
	ids := []string{h.addPDF("1.pdf", 1), h.addPDF("2.pdf", 1)}

	rec := postJSON(newRouter(h, "premium-user"), "/api/jobs", gin.H{"operation": "batch_compress", "fileIds": ids})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	job, _ := decodeBody(t, rec)["job"].(map[string]any)
	if job["operation"] != "batch_compress" {
		t.Fatalf("unexpected job: %#v", job)
	}
}

type snapshotNotifier struct {
	*MemoryNotifier
	latest *Event
}

func (n snapshotNotifier) Latest(_ context.Context, jobID string) (*Event, error) {
	if n.latest == nil || n.latest.JobID != jobID {
		return nil, nil
	}
	return n.latest, nil
}

func TestEventsSendsLatestSnapshot(t *testing.T) {
	h := newHarness(t)
	job := &models.ProcessingJob{FileIDs: `["x"]`, Operation: "compress", Status: models.JobProcessing, Progress: 10}
	if err := h.jobs.Create(context.Background(), job); err != nil {
		t.Fatalf("jobs.Create: %v", err)
	}
	h.orch.Notifier = snapshotNotifier{
		MemoryNotifier: NewMemoryNotifier(),
		latest:         &Event{JobID: job.ID, Status: models.JobCompleted, Progress: 100, Stage: "done"},
	}

	rec := httptest.NewRecorder()
	newRouter(h, "").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/"+job.ID+"/events", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	out := rec.Body.String()
	if !strings.Contains(out, "event:status") || !strings.Contains(out, "event:progress") {
		t.Fatalf("expected status and progress events, got %q", out)
	}
	if !strings.Contains(out, `"stage":"done"`) {
		t.Fatalf("expected snapshot stage in stream, got %q", out)
	}
}

func TestEventsForFinishedJob(t *testing.T) {
	h := newHarness(t)
	id := h.addPDF("a.pdf", 1)
	out, err := h.orch.Run(context.Background(), Request{Operation: pdf.OperationCompress, FileIDs: []string{id}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	rec := httptest.NewRecorder()
	newRouter(h, "").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/"+out.Job.ID+"/events", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	var event, data string
	sc := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	for sc.Scan() {
		line := sc.Text()
		if v, ok := strings.CutPrefix(line, "event:"); ok && event == "" {
			event = v
		}
		if v, ok := strings.CutPrefix(line, "data:"); ok && data == "" {
			data = v
		}
	}
	if event != "status" {
		t.Fatalf("expected status event, got %q in %q", event, rec.Body.String())
	}
	var view StatusView
	if err := json.Unmarshal([]byte(data), &view); err != nil {
		t.Fatalf("invalid event data %q: %v", data, err)
	}
	if view.Status != models.JobCompleted {
		t.Fatalf("unexpected status: %s", view.Status)
	}
}

func TestWithField(t *testing.T) {
	got, err := withField(json.RawMessage(`{"page":2}`), "signatureData", "abc")
	if err != nil {
		t.Fatalf("withField: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(got, &fields); err != nil {
		t.Fatal(err)
	}
	if fields["page"] != float64(2) || fields["signatureData"] != "abc" {
		t.Fatalf("unexpected fields: %#v", fields)
	}
	if _, err := withField(json.RawMessage(`[1]`), "k", "v"); err == nil {
		t.Fatal("expected error for non-object options")
	}
	if got, err := withField(nil, "k", "v"); err != nil || string(got) != `{"k":"v"}` {
		t.Fatalf("unexpected result for nil options: %s %v", got, err)
	}
}
