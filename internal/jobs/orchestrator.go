package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/yourusername/easypdf/internal/apperr"
	"github.com/yourusername/easypdf/internal/models"
	"github.com/yourusername/easypdf/internal/pdf"
	"github.com/yourusername/easypdf/internal/repository"
)

const defaultJobTimeout = 2 * time.Minute

// Deps は Orchestrator の依存関係です。Notifier, Dispatcher, Sources, Mirror, Entitlements は省略できます。
type Deps struct {
	Jobs         repository.JobRepository
	Files        repository.FileRepository
	History      repository.HistoryRepository
	Processor    Processor
	Entitlements Entitlements
	Notifier     Notifier
	Dispatcher   Dispatcher
	Links        LinkBuilder
	Paths        PathMapper
	Sources      SourceReader
	Mirror       Mirror
	Logger       *slog.Logger

	Timeout          time.Duration
	BatchConcurrency int
}

// Orchestrator はジョブの作成から終端状態までを管理します。
type Orchestrator struct {
	Deps
	log *slog.Logger
}

// plan は検証済みのジョブ要求です。
type plan struct {
	op      pdf.OperationType
	batch   bool
	opts    pdf.Options
	fileIDs []string
	userID  string
	ip      string
	ua      string
}

// NewOrchestrator は Orchestrator を作成します。
func NewOrchestrator(d Deps) *Orchestrator {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Timeout <= 0 {
		d.Timeout = defaultJobTimeout
	}
	if d.BatchConcurrency <= 0 {
		d.BatchConcurrency = 1
	}
	if d.Notifier == nil {
		d.Notifier = NewMemoryNotifier()
	}
	return &Orchestrator{Deps: d, log: d.Logger}
}

// Run はジョブを作成し、同じリクエスト内で終端状態まで処理します。
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Outcome, error) {
	p, err := o.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	job, err := o.createJob(ctx, p, models.JobProcessing)
	if err != nil {
		return nil, err
	}
	return o.process(ctx, job, p)
}

// Submit はジョブを pending で作成し、Dispatcher に実行を委ねます。
func (o *Orchestrator) Submit(ctx context.Context, req Request) (*models.ProcessingJob, error) {
	if o.Dispatcher == nil {
		return nil, apperr.New(apperr.CodeInternal, "ジョブキューが設定されていません。", errors.New("dispatcher is nil"))
	}
	p, err := o.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	job, err := o.createJob(ctx, p, models.JobPending)
	if err != nil {
		return nil, err
	}
	task := Task{JobID: job.ID, IPAddress: req.IPAddress, UserAgent: req.UserAgent}
	if err := o.Dispatcher.Dispatch(ctx, task); err != nil {
		o.failPending(context.WithoutCancel(ctx), job.ID, "dispatch failed: "+err.Error())
		return job, apperr.New(apperr.CodeInternal, "ジョブの投入に失敗しました。", err)
	}
	o.log.Info("job submitted", "job_id", job.ID, "operation", job.Operation)
	return job, nil
}

// Execute は pending のジョブを実行します。既に開始済みのジョブは何もしません。
func (o *Orchestrator) Execute(ctx context.Context, task Task) (*Outcome, error) {
	job, err := o.Jobs.Get(ctx, task.JobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.CodeJobNotFound, "指定されたジョブは存在しません。", err)
		}
		return nil, err
	}
	if job.Status != models.JobPending {
		o.log.Warn("skip job not pending", "job_id", job.ID, "status", job.Status)
		return &Outcome{Job: job}, nil
	}

	p, err := planFromJob(job)
	if err != nil {
		o.failPending(ctx, job.ID, err.Error())
		return &Outcome{Job: job}, err
	}
	p.ip, p.ua = task.IPAddress, task.UserAgent

	if err := o.Jobs.MarkProcessing(ctx, job.ID); err != nil {
		if errors.Is(err, repository.ErrTransition) {
			o.log.Warn("job already started", "job_id", job.ID)
			return &Outcome{Job: job}, nil
		}
		return nil, err
	}
	job.Status = models.JobProcessing
	return o.process(ctx, job, p)
}

// failPending は実行前のジョブを processing を経由して failed にします。
func (o *Orchestrator) failPending(ctx context.Context, jobID, detail string) {
	if err := o.Jobs.MarkProcessing(ctx, jobID); err != nil {
		o.log.Error("failed to start job before failing it", "job_id", jobID, "err", err)
		return
	}
	if err := o.Jobs.Finish(ctx, jobID, models.JobFailed, &detail); err != nil {
		o.log.Error("failed to mark job failed", "job_id", jobID, "err", err)
		return
	}
	o.publish(ctx, jobID, models.JobFailed, 100, "failed", detail)
}

// prepare は要求を検証し、プレミアム判定まで行います。ここで失敗した場合ジョブは作成しません。
func (o *Orchestrator) prepare(ctx context.Context, req Request) (*plan, error) {
	if len(req.FileIDs) == 0 {
		return nil, apperr.New(apperr.CodeInvalidInput, "fileIds を指定してください。", nil)
	}
	for _, id := range req.FileIDs {
		if strings.TrimSpace(id) == "" {
			return nil, apperr.New(apperr.CodeInvalidInput, "空の fileId が含まれています。", nil)
		}
	}
	if !pdf.IsKnownOperation(string(req.Operation)) {
		return nil, apperr.New(apperr.CodeInvalidInput, fmt.Sprintf("未対応の操作です: %s", req.Operation), nil)
	}

	if req.Batch {
		if !batchOperations[req.Operation] {
			return nil, apperr.New(apperr.CodeInvalidInput, "バッチ処理できる操作は compress / rotate / watermark / unlock のみです。", nil)
		}
	} else {
		switch {
		case req.Operation == pdf.OperationMerge && len(req.FileIDs) < 2:
			return nil, apperr.New(apperr.CodeInvalidInput, "結合には2つ以上のPDFファイルが必要です。", nil)
		case req.Operation != pdf.OperationMerge && len(req.FileIDs) != 1:
			return nil, apperr.New(apperr.CodeInvalidInput, "この操作は1つのPDFファイルのみ指定できます。", nil)
		}
	}

	opts, err := pdf.DecodeOptions(req.Operation, req.Options)
	if err != nil {
		return nil, err
	}

	if req.Batch || premiumOperations[req.Operation] {
		if err := o.checkPremium(ctx, req.UserID); err != nil {
			return nil, err
		}
	}

	return &plan{
		op:      req.Operation,
		batch:   req.Batch,
		opts:    opts,
		fileIDs: req.FileIDs,
		userID:  req.UserID,
		ip:      req.IPAddress,
		ua:      req.UserAgent,
	}, nil
}

func (o *Orchestrator) checkPremium(ctx context.Context, userID string) error {
	denied := apperr.New(apperr.CodePermissionDenied, "この機能はプレミアムプラン限定です。", nil)
	if userID == "" || o.Entitlements == nil {
		return denied
	}
	ok, err := o.Entitlements.IsPremium(ctx, userID)
	if err != nil {
		o.log.Error("entitlement check failed", "user_id", userID, "err", err)
		return apperr.New(apperr.CodeInternal, "契約状態の確認に失敗しました。", err)
	}
	if !ok {
		return denied
	}
	return nil
}

func (o *Orchestrator) createJob(ctx context.Context, p *plan, status models.JobStatus) (*models.ProcessingJob, error) {
	fileIDs, err := json.Marshal(p.fileIDs)
	if err != nil {
		return nil, err
	}
	params, err := json.Marshal(p.opts)
	if err != nil {
		return nil, err
	}
	job := &models.ProcessingJob{
		FileIDs:    string(fileIDs),
		Operation:  p.operationName(),
		Parameters: string(params),
		Status:     status,
		Progress:   0,
	}
	if p.userID != "" {
		uid := p.userID
		job.UserID = &uid
	}
	if err := o.Jobs.Create(ctx, job); err != nil {
		return nil, apperr.New(apperr.CodeStorageFailure, "ジョブの作成に失敗しました。", err)
	}
	o.publish(ctx, job.ID, status, 0, "created", "")
	return job, nil
}

func (p *plan) operationName() string {
	if p.batch {
		return batchPrefix + string(p.op)
	}
	return string(p.op)
}

// planFromJob は保存済みジョブから実行計画を復元します。
func planFromJob(job *models.ProcessingJob) (*plan, error) {
	p := &plan{op: pdf.OperationType(job.Operation)}
	if rest, ok := strings.CutPrefix(job.Operation, batchPrefix); ok {
		p.op = pdf.OperationType(rest)
		p.batch = true
	}
	if err := json.Unmarshal([]byte(job.FileIDs), &p.fileIDs); err != nil {
		return nil, fmt.Errorf("invalid fileIds on job %s: %w", job.ID, err)
	}
	opts, err := pdf.DecodeOptions(p.op, json.RawMessage(job.Parameters))
	if err != nil {
		return nil, fmt.Errorf("invalid parameters on job %s: %w", job.ID, err)
	}
	p.opts = opts
	if job.UserID != nil {
		p.userID = *job.UserID
	}
	return p, nil
}

func (o *Orchestrator) process(ctx context.Context, job *models.ProcessingJob, p *plan) (*Outcome, error) {
	if p.batch {
		return o.runBatch(ctx, job, p)
	}
	return o.runSingle(ctx, job, p)
}

// runSingle は全ファイルを解決してからアダプターを1回呼び出します。
// 解決できないファイルがあればアダプターを呼ばずに失敗させます。
func (o *Orchestrator) runSingle(ctx context.Context, job *models.ProcessingJob, p *plan) (*Outcome, error) {
	out := &Outcome{Job: job}
	bg := context.WithoutCancel(ctx)

	inputs := make([]pdf.Input, 0, len(p.fileIDs))
	for _, id := range p.fileIDs {
		in, release, err := o.resolveFile(ctx, id)
		if err != nil {
			o.fail(bg, job, p, firstFileID(p.fileIDs), err)
			return out, err
		}
		defer release()
		inputs = append(inputs, in)
	}

	res, err := o.apply(ctx, job.ID, p.opts, inputs)
	if err != nil {
		o.fail(bg, job, p, firstFileID(p.fileIDs), err)
		return out, err
	}

	out.Result = res
	out.FilePath = o.publicPath(res.OutputPath)
	out.DownloadURL = o.downloadURL(out.FilePath, p.userID)
	o.mirror(bg, res.OutputPath)

	o.appendHistory(bg, job, p, firstFileID(p.fileIDs), models.JobCompleted, res, "")
	if err := o.Jobs.Finish(bg, job.ID, models.JobCompleted, nil); err != nil {
		o.log.Error("failed to finish job", "job_id", job.ID, "err", err)
		return out, apperr.New(apperr.CodeStorageFailure, "ジョブ状態の更新に失敗しました。", err)
	}
	o.markTerminal(bg, job, models.JobCompleted, nil)
	return out, nil
}

// apply はタイムアウト付きでアダプターを呼び出し、進捗をジョブに反映します。
// jobID が空の場合は進捗を反映しません（バッチはファイル単位で集計します）。
func (o *Orchestrator) apply(ctx context.Context, jobID string, opts pdf.Options, inputs []pdf.Input) (*pdf.Result, error) {
	actx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()

	var report pdf.ProgressReporter
	if jobID != "" {
		report = func(stage string, percent int) {
			o.progress(ctx, jobID, stage, percent)
		}
	}
	res, err := o.Processor.Apply(actx, opts, inputs, report)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return nil, apperr.New(apperr.CodeAdapterFailure, "処理がタイムアウトしました。",
				fmt.Errorf("processing timed out after %s", o.Timeout))
		case errors.Is(err, context.Canceled):
			return nil, apperr.New(apperr.CodeAdapterFailure, "処理がキャンセルされました。", errors.New("processing canceled"))
		}
		return nil, err
	}
	return res, nil
}

func (o *Orchestrator) progress(ctx context.Context, jobID, stage string, percent int) {
	if percent > 99 {
		percent = 99
	}
	bg := context.WithoutCancel(ctx)
	if err := o.Jobs.UpdateProgress(bg, jobID, percent); err != nil {
		o.log.Warn("progress update failed", "job_id", jobID, "err", err)
		return
	}
	o.publish(bg, jobID, models.JobProcessing, percent, stage, "")
}

// resolveFile は PDFFile を取得し、実ファイルの存在も確認します。
// 暗号化されたアップロードは一時ファイルに復号し、release で削除します。
func (o *Orchestrator) resolveFile(ctx context.Context, id string) (pdf.Input, func(), error) {
	release := func() {}
	file, err := o.Files.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return pdf.Input{}, release, apperr.New(apperr.CodeFileNotFound, "指定されたファイルが見つかりません。",
				fmt.Errorf("file not found: %s", id))
		}
		return pdf.Input{}, release, apperr.New(apperr.CodeStorageFailure, "ファイル情報の取得に失敗しました。", err)
	}
	if _, err := os.Stat(file.FilePath); err != nil {
		return pdf.Input{}, release, apperr.New(apperr.CodeFileNotFound, "指定されたファイルが見つかりません。",
			fmt.Errorf("file not found on disk: %s", id))
	}

	path := file.FilePath
	if o.Sources != nil {
		plain, cleanup, err := o.Sources.PlainPath(file.FilePath)
		if err != nil {
			return pdf.Input{}, release, apperr.New(apperr.CodeStorageFailure, "ファイルの復号に失敗しました。",
				fmt.Errorf("decrypt %s: %w", id, err))
		}
		path, release = plain, cleanup
	}
	return pdf.Input{ID: file.ID, Name: file.OriginalName, Path: path, Size: file.FileSize}, release, nil
}

// fail はジョブを failed にし、エラー詳細をそのまま記録します。
func (o *Orchestrator) fail(ctx context.Context, job *models.ProcessingJob, p *plan, fileID *string, cause error) {
	detail := pdf.ErrorDetail(cause)
	o.log.Warn("job failed", "job_id", job.ID, "operation", job.Operation, "code", apperr.CodeOf(cause), "detail", detail)

	o.appendHistory(ctx, job, p, fileID, models.JobFailed, nil, detail)
	if err := o.Jobs.Finish(ctx, job.ID, models.JobFailed, &detail); err != nil {
		o.log.Error("failed to mark job failed", "job_id", job.ID, "err", err)
		return
	}
	o.markTerminal(ctx, job, models.JobFailed, &detail)
}

func (o *Orchestrator) markTerminal(ctx context.Context, job *models.ProcessingJob, status models.JobStatus, errMsg *string) {
	now := time.Now().UTC()
	job.Status = status
	job.Progress = 100
	job.Error = errMsg
	job.CompletedAt = &now
	msg := ""
	if errMsg != nil {
		msg = *errMsg
	}
	o.publish(ctx, job.ID, status, 100, "completed", msg)
}

func (o *Orchestrator) appendHistory(ctx context.Context, job *models.ProcessingJob, p *plan, fileID *string, status models.JobStatus, res *pdf.Result, errMsg string) {
	entry := &models.ProcessingHistory{
		JobID:      job.ID,
		FileID:     fileID,
		Operation:  job.Operation,
		Status:     string(status),
		Parameters: job.Parameters,
		IPAddress:  p.ip,
		UserAgent:  p.ua,
	}
	if p.userID != "" {
		uid := p.userID
		entry.UserID = &uid
	}
	if res != nil {
		payload, err := json.Marshal(historyResult{
			FilePath: o.publicPath(res.OutputPath),
			FileName: res.OutputFilename,
			FileSize: res.OutputSize,
			Kind:     string(res.Kind),
			Meta:     res.Meta,
		})
		if err == nil {
			s := string(payload)
			entry.Result = &s
		}
	}
	if errMsg != "" {
		entry.Error = &errMsg
	}
	if err := o.History.Create(ctx, entry); err != nil {
		o.log.Error("failed to write history", "job_id", job.ID, "err", err)
	}
}

func (o *Orchestrator) publish(ctx context.Context, jobID string, status models.JobStatus, percent int, stage, errMsg string) {
	ev := Event{JobID: jobID, Status: status, Progress: percent, Stage: stage, Error: errMsg, At: time.Now().UTC()}
	if err := o.Notifier.Publish(ctx, ev); err != nil {
		o.log.Debug("progress publish failed", "job_id", jobID, "err", err)
	}
}

func (o *Orchestrator) publicPath(abs string) string {
	if o.Paths == nil {
		return abs
	}
	if p := o.Paths.PublicPath(abs); p != "" {
		return p
	}
	return abs
}

func (o *Orchestrator) downloadURL(publicPath, userID string) string {
	if o.Links == nil {
		return ""
	}
	u, err := o.Links.DownloadURL(publicPath, userID)
	if err != nil {
		o.log.Warn("failed to build download url", "path", publicPath, "err", err)
		return ""
	}
	return u
}

func (o *Orchestrator) mirror(ctx context.Context, path string) {
	if o.Mirror == nil {
		return
	}
	if err := o.Mirror.Mirror(ctx, path); err != nil {
		o.log.Warn("output mirror failed", "path", path, "err", err)
	}
}

func firstFileID(ids []string) *string {
	if len(ids) != 1 {
		return nil
	}
	id := ids[0]
	return &id
}
