package jobs

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/easypdf/internal/apperr"
	"github.com/yourusername/easypdf/internal/auth"
	"github.com/yourusername/easypdf/internal/pdf"
)

const heartbeatInterval = 15 * time.Second

// Handler はジョブ関連の HTTP ハンドラーです。
type Handler struct {
	orch *Orchestrator
}

func NewHandler(orch *Orchestrator) *Handler {
	return &Handler{orch: orch}
}

type toolRequest struct {
	FileID        string          `json:"fileId"`
	FileIDs       []string        `json:"fileIds"`
	Operation     string          `json:"operation"`
	Options       json.RawMessage `json:"options"`
	Parameters    json.RawMessage `json:"parameters"`
	SignatureData string          `json:"signatureData"`
}

func (r *toolRequest) ids() []string {
	if len(r.FileIDs) > 0 {
		return r.FileIDs
	}
	if r.FileID != "" {
		return []string{r.FileID}
	}
	return nil
}

func bindToolRequest(c *gin.Context) (*toolRequest, bool) {
	var req toolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.New(apperr.CodeInvalidInput, "リクエストの形式が正しくありません。", err))
		return nil, false
	}
	return &req, true
}

func newRequest(c *gin.Context, op pdf.OperationType, fileIDs []string, options json.RawMessage) Request {
	return Request{
		Operation: op,
		FileIDs:   fileIDs,
		Options:   options,
		UserID:    auth.UserID(c),
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// Tool は単体操作 POST /api/pdf/{op} のハンドラーを返します。
func (h *Handler) Tool(op pdf.OperationType) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := bindToolRequest(c)
		if !ok {
			return
		}
		options := req.Options
		if op == pdf.OperationESign && req.SignatureData != "" {
			merged, err := withField(options, "signatureData", req.SignatureData)
			if err != nil {
				apperr.Respond(c, apperr.New(apperr.CodeInvalidInput, "options の形式が正しくありません。", err))
				return
			}
			options = merged
		}

		out, err := h.orch.Run(c.Request.Context(), newRequest(c, op, req.ids(), options))
		if err != nil {
			respondJobError(c, out, err)
			return
		}
		c.JSON(http.StatusOK, singleResponse(out))
	}
}

// Batch は POST /api/pdf/batch のハンドラーです。
func (h *Handler) Batch(c *gin.Context) {
	req, ok := bindToolRequest(c)
	if !ok {
		return
	}
	r := newRequest(c, pdf.OperationType(req.Operation), req.ids(), req.Options)
	r.Batch = true

	out, err := h.orch.Run(c.Request.Context(), r)
	if err != nil {
		respondJobError(c, out, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"jobId":   out.Job.ID,
		"status":  out.Job.Status,
		"results": out.Batch.Results,
		"summary": out.Batch.Summary,
	})
}

// Create は POST /api/jobs のハンドラーです。ジョブは非同期に実行されます。
// ログインしていない利用者は 401 を返します。
func (h *Handler) Create(c *gin.Context) {
	if auth.UserID(c) == "" {
		apperr.Respond(c, apperr.New(apperr.CodeUnauthorized, "ログインが必要です。", nil))
		return
	}
	req, ok := bindToolRequest(c)
	if !ok {
		return
	}
	params := req.Parameters
	if len(params) == 0 {
		params = req.Options
	}
	op := req.Operation
	r := newRequest(c, pdf.OperationType(op), req.ids(), params)
	if rest, found := strings.CutPrefix(op, batchPrefix); found {
		r.Operation = pdf.OperationType(rest)
		r.Batch = true
	}

	job, err := h.orch.Submit(c.Request.Context(), r)
	if err != nil {
		if job != nil {
			apperr.RespondWith(c, err, gin.H{"jobId": job.ID})
			return
		}
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"job":     job,
	})
}

// Get は GET /api/jobs/:id のハンドラーです。
func (h *Handler) Get(c *gin.Context) {
	view, err := h.orch.Status(c.Request.Context(), c.Param("id"), auth.UserID(c))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": view})
}

// Events は GET /api/jobs/:id/events のハンドラーです（Server-Sent Events）。
// 最初に現在の状態を送り、終端状態になるまで進捗を配信します。
func (h *Handler) Events(c *gin.Context) {
	ctx := c.Request.Context()
	jobID := c.Param("id")

	events, unsubscribe, err := h.orch.Notifier.Subscribe(ctx, jobID)
	if err != nil {
		apperr.Respond(c, apperr.New(apperr.CodeInternal, "進捗の購読に失敗しました。", err))
		return
	}
	defer unsubscribe()

	view, err := h.orch.Status(ctx, jobID, auth.UserID(c))
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("status", view)
	if !view.Status.Terminal() {
		if ev := h.latestEvent(ctx, jobID); ev != nil {
			c.SSEvent("progress", ev)
			if ev.Status.Terminal() {
				c.Writer.Flush()
				return
			}
		}
	}
	c.Writer.Flush()
	if view.Status.Terminal() {
		return
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("progress", ev)
			return !ev.Status.Terminal()
		case <-ticker.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			return true
		}
	})
}

// latestEvent は Notifier が保持する最新イベントを返します。保持しない実装や取得失敗時は nil です。
func (h *Handler) latestEvent(ctx context.Context, jobID string) *Event {
	snap, ok := h.orch.Notifier.(snapshotter)
	if !ok {
		return nil
	}
	ev, err := snap.Latest(ctx, jobID)
	if err != nil {
		h.orch.log.Warn("failed to read latest job event", "job_id", jobID, "error", err)
		return nil
	}
	return ev
}

func respondJobError(c *gin.Context, out *Outcome, err error) {
	if out != nil && out.Job != nil {
		apperr.RespondWith(c, err, gin.H{"jobId": out.Job.ID})
		return
	}
	apperr.Respond(c, err)
}

func singleResponse(out *Outcome) gin.H {
	body := gin.H{
		"success":     true,
		"jobId":       out.Job.ID,
		"filePath":    out.FilePath,
		"fileName":    out.Result.OutputFilename,
		"fileSize":    out.Result.OutputSize,
		"downloadUrl": out.DownloadURL,
		"meta":        out.Result.Meta,
	}
	switch meta := out.Result.Meta.(type) {
	case *pdf.MergeMeta:
		body["totalPages"] = meta.TotalPages
	case *pdf.SignatureInfo:
		body["signatureInfo"] = meta
	case *pdf.OCRMeta:
		body["text"] = meta.Text
		body["confidence"] = meta.Confidence
	}
	return body
}

// withField は JSON オブジェクトにフィールドを追加します。
func withField(raw json.RawMessage, key, value string) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if trimmed := strings.TrimSpace(string(raw)); trimmed != "" && trimmed != "null" {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	fields[key] = encoded
	return json.Marshal(fields)
}
