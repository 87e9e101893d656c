package repository

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/yourusername/easypdf/internal/models"
)

// JobRepository は ProcessingJob の永続化と状態遷移を扱います。
//
// 遷移は pending → processing → {completed, failed, partial} の一方向のみで、
// 条件付き UPDATE により逆戻りを防ぎます。
type JobRepository interface {
	Create(ctx context.Context, job *models.ProcessingJob) error
	Get(ctx context.Context, id string) (*models.ProcessingJob, error)
	MarkProcessing(ctx context.Context, id string) error
	UpdateProgress(ctx context.Context, id string, progress int) error
	Finish(ctx context.Context, id string, status models.JobStatus, errMsg *string) error
}

type jobRepository struct {
	db  *gorm.DB
	log *slog.Logger
	now func() time.Time
}

func NewJobRepository(db *gorm.DB, log *slog.Logger) JobRepository {
	return &jobRepository{db: db, log: orDefault(log), now: time.Now}
}

func (r *jobRepository) Create(ctx context.Context, job *models.ProcessingJob) error {
	if job.Status == "" {
		job.Status = models.JobPending
	}
	if job.Status == models.JobProcessing && job.StartedAt == nil {
		now := r.now().UTC()
		job.StartedAt = &now
	}
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		r.log.Error("processing_job create failed", "operation", job.Operation, "err", err)
		return err
	}
	r.log.Info("processing_job created", "job_id", job.ID, "operation", job.Operation, "status", job.Status)
	return nil
}

func (r *jobRepository) Get(ctx context.Context, id string) (*models.ProcessingJob, error) {
	var job models.ProcessingJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &job, nil
}

func (r *jobRepository) MarkProcessing(ctx context.Context, id string) error {
	now := r.now().UTC()
	res := r.db.WithContext(ctx).Model(&models.ProcessingJob{}).
		Where("id = ? AND status = ?", id, models.JobPending).
		Updates(map[string]any{
			"status":     models.JobProcessing,
			"progress":   0,
			"started_at": now,
		})
	if res.Error != nil {
		r.log.Error("processing_job start failed", "job_id", id, "err", res.Error)
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTransition
	}
	return nil
}

// UpdateProgress は処理中のジョブの進捗を更新します。
// 100 は終端状態専用のため 99 に丸め、現在値より小さい値は無視します。
func (r *jobRepository) UpdateProgress(ctx context.Context, id string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 99 {
		progress = 99
	}
	res := r.db.WithContext(ctx).Model(&models.ProcessingJob{}).
		Where("id = ? AND status = ? AND progress <= ?", id, models.JobProcessing, progress).
		Update("progress", progress)
	if res.Error != nil {
		r.log.Warn("processing_job progress update failed", "job_id", id, "err", res.Error)
		return res.Error
	}
	return nil
}

func (r *jobRepository) Finish(ctx context.Context, id string, status models.JobStatus, errMsg *string) error {
	if !status.Terminal() {
		return ErrTransition
	}
	now := r.now().UTC()
	res := r.db.WithContext(ctx).Model(&models.ProcessingJob{}).
		Where("id = ? AND status = ?", id, models.JobProcessing).
		Updates(map[string]any{
			"status":       status,
			"progress":     100,
			"error":        errMsg,
			"completed_at": now,
		})
	if res.Error != nil {
		r.log.Error("processing_job finish failed", "job_id", id, "status", status, "err", res.Error)
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTransition
	}
	r.log.Info("processing_job finished", "job_id", id, "status", status)
	return nil
}
