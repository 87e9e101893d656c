package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/yourusername/easypdf/internal/apperr"
	"github.com/yourusername/easypdf/internal/models"
	"github.com/yourusername/easypdf/internal/repository"
)

// StatusView はジョブ状態の読み取り専用ビューです。
type StatusView struct {
	ID          string           `json:"id"`
	Operation   string           `json:"operation"`
	Status      models.JobStatus `json:"status"`
	Progress    int              `json:"progress"`
	Error       *string          `json:"error"`
	Result      any              `json:"result"`
	CreatedAt   time.Time        `json:"createdAt"`
	StartedAt   *time.Time       `json:"startedAt,omitempty"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
}

// batchItemView はバッチジョブの結果に含めるファイル単位の履歴です。
type batchItemView struct {
	FileID string  `json:"fileId,omitempty"`
	Status string  `json:"status"`
	Result any     `json:"result,omitempty"`
	Error  *string `json:"error,omitempty"`
}

// Status はジョブ状態を返します。他の利用者のジョブは存在しないものとして扱います。
//
// 完了済みジョブは履歴から結果を補います。履歴の解析に失敗した場合は結果なしとし、
// エラーにはしません。読み取りのみで状態は変更しません。
func (o *Orchestrator) Status(ctx context.Context, jobID, callerID string) (*StatusView, error) {
	notFound := apperr.New(apperr.CodeJobNotFound, "指定されたジョブは存在しません。", nil)
	if strings.TrimSpace(jobID) == "" {
		return nil, apperr.New(apperr.CodeInvalidInput, "jobId を指定してください。", nil)
	}
	job, err := o.Jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFound
		}
		return nil, apperr.New(apperr.CodeStorageFailure, "ジョブ情報の取得に失敗しました。", err)
	}
	if job.UserID != nil && *job.UserID != callerID {
		return nil, notFound
	}

	view := &StatusView{
		ID:          job.ID,
		Operation:   job.Operation,
		Status:      job.Status,
		Progress:    job.Progress,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}

	switch {
	case strings.HasPrefix(job.Operation, batchPrefix) && job.Status.Terminal():
		view.Result = o.batchResult(ctx, job.ID)
	case job.Status == models.JobCompleted:
		view.Result = o.latestResult(ctx, job.ID)
	}
	return view, nil
}

func (o *Orchestrator) latestResult(ctx context.Context, jobID string) any {
	entry, err := o.History.LatestCompletedForJob(ctx, jobID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			o.log.Warn("history lookup failed", "job_id", jobID, "err", err)
		}
		return nil
	}
	return parseResult(entry.Result)
}

func (o *Orchestrator) batchResult(ctx context.Context, jobID string) any {
	entries, err := o.History.ListByJob(ctx, jobID)
	if err != nil {
		o.log.Warn("history lookup failed", "job_id", jobID, "err", err)
		return nil
	}
	items := make([]batchItemView, 0, len(entries))
	for _, e := range entries {
		item := batchItemView{Status: e.Status, Result: parseResult(e.Result), Error: e.Error}
		if e.FileID != nil {
			item.FileID = *e.FileID
		}
		items = append(items, item)
	}
	return items
}

// parseResult は保存済みの結果JSONを解析します。解析できない場合は nil です。
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
