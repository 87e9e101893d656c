// Package account はログイン中の利用者向けのプロフィール・履歴・契約APIを提供します。
package account

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/easypdf/internal/apperr"
	"github.com/yourusername/easypdf/internal/auth"
	"github.com/yourusername/easypdf/internal/models"
	"github.com/yourusername/easypdf/internal/repository"
)

const (
	historyLimit  = 50
	activityLimit = 10
)

// Entitlements はプレミアム判定です（auth.SubscriptionEntitlements が実装）。
type Entitlements interface {
	IsPremium(ctx context.Context, userID string) (bool, error)
}

// Handler は /api/user 以下のハンドラーです。すべて RequireLogin の後に置きます。
type Handler struct {
	users        repository.UserRepository
	files        repository.FileRepository
	history      repository.HistoryRepository
	subs         repository.SubscriptionRepository
	entitlements Entitlements
	log          *slog.Logger
	now          func() time.Time
}

func NewHandler(users repository.UserRepository, files repository.FileRepository, history repository.HistoryRepository,
	subs repository.SubscriptionRepository, entitlements Entitlements, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		users:        users,
		files:        files,
		history:      history,
		subs:         subs,
		entitlements: entitlements,
		log:          logger,
		now:          time.Now,
	}
}

// HistoryEntry は履歴1件のレスポンス形式です。result は保存済みJSONを解析したものです。
type HistoryEntry struct {
	ID        string    `json:"id"`
	JobID     string    `json:"jobId"`
	FileID    *string   `json:"fileId"`
	Operation string    `json:"operation"`
	Status    string    `json:"status"`
	Result    any       `json:"result"`
	Error     *string   `json:"error"`
	CreatedAt time.Time `json:"createdAt"`
}

// Stats は利用状況の集計です。
type Stats struct {
	TotalFiles      int64 `json:"totalFiles"`
	TotalOperations int64 `json:"totalOperations"`
	ThisMonth       int64 `json:"thisMonth"`
	IsPremium       bool  `json:"isPremium"`
}

type profileRequest struct {
	Name  string `json:"name" binding:"max=100"`
	Email string `json:"email" binding:"required,email"`
}

// GetProfile は GET /api/user/profile のハンドラーです。
func (h *Handler) GetProfile(c *gin.Context) {
	user, err := h.users.GetByID(c.Request.Context(), auth.UserID(c))
	if err != nil {
		respondUserError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// UpdateProfile は PUT /api/user/profile のハンドラーです。
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.New(apperr.CodeInvalidInput, "name と email を正しく指定してください。", err))
		return
	}

	userID := auth.UserID(c)
	user, err := h.users.UpdateProfile(c.Request.Context(), userID,
		strings.TrimSpace(req.Name), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			apperr.Respond(c, apperr.New(apperr.CodeInvalidInput, "このメールアドレスは既に登録されています。", err))
			return
		}
		respondUserError(c, err)
		return
	}
	h.log.Info("profile updated", "user_id", userID)
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// History は GET /api/user/history のハンドラーです。新しい順に最大50件を返します。
func (h *Handler) History(c *gin.Context) {
	entries, err := h.listHistory(c.Request.Context(), auth.UserID(c), historyLimit)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}

// Activity は GET /api/user/activity のハンドラーです。
func (h *Handler) Activity(c *gin.Context) {
	entries, err := h.listHistory(c.Request.Context(), auth.UserID(c), activityLimit)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": entries})
}

// Stats は GET /api/user/stats のハンドラーです。
func (h *Handler) Stats(c *gin.Context) {
	ctx := c.Request.Context()
	userID := auth.UserID(c)

	var (
		stats Stats
		err   error
	)
	if stats.TotalFiles, err = h.files.CountByUser(ctx, userID); err != nil {
		apperr.Respond(c, apperr.New(apperr.CodeStorageFailure, "利用状況の取得に失敗しました。", err))
		return
	}
	if stats.TotalOperations, err = h.history.CountByUser(ctx, userID, time.Time{}); err != nil {
		apperr.Respond(c, apperr.New(apperr.CodeStorageFailure, "利用状況の取得に失敗しました。", err))
		return
	}
	if stats.ThisMonth, err = h.history.CountByUser(ctx, userID, monthStart(h.now())); err != nil {
		apperr.Respond(c, apperr.New(apperr.CodeStorageFailure, "利用状況の取得に失敗しました。", err))
		return
	}
	if h.entitlements != nil {
		if stats.IsPremium, err = h.entitlements.IsPremium(ctx, userID); err != nil {
			h.log.Warn("entitlement lookup failed", "user_id", userID, "err", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// CancelSubscription は POST /api/user/subscription/cancel のハンドラーです。
// 即時解約ではなく、現在の期間終了時に解約されるよう予約します。
func (h *Handler) CancelSubscription(c *gin.Context) {
	userID := auth.UserID(c)
	sub, err := h.subs.CancelAtPeriodEnd(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apperr.Respond(c, apperr.New(apperr.CodeNotFound, "有効な契約が見つかりません。", err))
			return
		}
		apperr.Respond(c, apperr.New(apperr.CodeStorageFailure, "解約の予約に失敗しました。", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

func (h *Handler) listHistory(ctx context.Context, userID string, limit int) ([]HistoryEntry, error) {
	rows, err := h.history.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, apperr.New(apperr.CodeStorageFailure, "履歴の取得に失敗しました。", err)
	}
	entries := make([]HistoryEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, toEntry(r))
	}
	return entries, nil
}

func toEntry(r models.ProcessingHistory) HistoryEntry {
	return HistoryEntry{
		ID:        r.ID,
		JobID:     r.JobID,
		FileID:    r.FileID,
		Operation: r.Operation,
		Status:    r.Status,
		Result:    parseResult(r.Result),
		Error:     r.Error,
		CreatedAt: r.CreatedAt,
	}
}

// parseResult は解析できない結果を nil として扱います。
func parseResult(raw *string) any {
	if raw == nil || *raw == "" {
		return nil
	}
	var v map[string]any
	if err := json.Unmarshal([]byte(*raw), &v); err != nil {
		return nil
	}
	return v
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func respondUserError(c *gin.Context, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		apperr.Respond(c, apperr.New(apperr.CodeUnauthorized, "ログインが必要です。", err))
		return
	}
	apperr.Respond(c, apperr.New(apperr.CodeStorageFailure, "利用者情報の取得に失敗しました。", err))
}
