package jobs

import (
	"context"
	"fmt"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/yourusername/easypdf/internal/apperr"
	"github.com/yourusername/easypdf/internal/models"
	"github.com/yourusername/easypdf/internal/pdf"
)

// runBatch はファイルごとにアダプターを呼び出します。1ファイルの失敗は他に影響しません。
func (o *Orchestrator) runBatch(ctx context.Context, job *models.ProcessingJob, p *plan) (*Outcome, error) {
	bg := context.WithoutCancel(ctx)
	total := len(p.fileIDs)
	results := make([]FileResult, total)

	var (
		mu   sync.Mutex
		done int
	)

	g := new(errgroup.Group)
	g.SetLimit(o.BatchConcurrency)
	for i, id := range p.fileIDs {
		i, id := i, id
		g.Go(func() error {
			results[i] = o.runBatchItem(ctx, job, p, id)

			mu.Lock()
			done++
			o.progress(ctx, job.ID, "batch", done*99/total)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	summary := summarize(results)
	status := models.JobCompleted
	var errMsg *string
	if summary.Failed > 0 {
		status = models.JobPartial
		msg := fmt.Sprintf("%d of %d files failed", summary.Failed, summary.Total)
		errMsg = &msg
	}

	out := &Outcome{Job: job, Batch: &BatchOutcome{Results: results, Summary: summary}}
	if err := o.Jobs.Finish(bg, job.ID, status, errMsg); err != nil {
		o.log.Error("failed to finish batch job", "job_id", job.ID, "err", err)
		return out, apperr.New(apperr.CodeStorageFailure, "ジョブ状態の更新に失敗しました。", err)
	}
	o.markTerminal(bg, job, status, errMsg)
	o.log.Info("batch job finished", "job_id", job.ID, "status", status,
		"success", summary.Success, "failed", summary.Failed)
	return out, nil
}

func (o *Orchestrator) runBatchItem(ctx context.Context, job *models.ProcessingJob, p *plan, fileID string) FileResult {
	bg := context.WithoutCancel(ctx)
	fid := fileID
	result := FileResult{FileID: fileID}

	in, release, err := o.resolveFile(ctx, fileID)
	defer release()
	if err == nil {
		result.FileName = in.Name
		var res *pdf.Result
		res, err = o.apply(ctx, "", p.opts, []pdf.Input{in})
		if err == nil {
			result.Success = true
			result.FilePath = o.publicPath(res.OutputPath)
			result.FileSize = res.OutputSize
			result.DownloadURL = o.downloadURL(result.FilePath, p.userID)
			result.Meta = res.Meta
			o.mirror(bg, res.OutputPath)
			o.appendHistory(bg, job, p, &fid, models.JobCompleted, res, "")
			return result
		}
	}

	result.Error = pdf.ErrorDetail(err)
	o.log.Warn("batch item failed", "job_id", job.ID, "file_id", fileID, "detail", result.Error)
	o.appendHistory(bg, job, p, &fid, models.JobFailed, nil, result.Error)
	return result
}

// summarize は成功率を小数第2位までで計算します。
func summarize(results []FileResult) BatchSummary {
	s := BatchSummary{Total: len(results)}
	for _, r := range results {
		if r.Success {
			s.Success++
		} else {
			s.Failed++
		}
	}
	if s.Total > 0 {
		s.SuccessRate = math.Round(float64(s.Success)/float64(s.Total)*10000) / 100
	}
	return s
}
