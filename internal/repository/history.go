package repository

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/yourusername/easypdf/internal/models"
)

// HistoryRepository は追記専用の処理履歴を扱います。
type HistoryRepository interface {
	Create(ctx context.Context, entry *models.ProcessingHistory) error
	ListByUser(ctx context.Context, userID string, limit int) ([]models.ProcessingHistory, error)
	ListByJob(ctx context.Context, jobID string) ([]models.ProcessingHistory, error)
	LatestCompletedForJob(ctx context.Context, jobID string) (*models.ProcessingHistory, error)
	CountByUser(ctx context.Context, userID string, since time.Time) (int64, error)
}

type historyRepository struct {
	db  *gorm.DB
	log *slog.Logger
}

func NewHistoryRepository(db *gorm.DB, log *slog.Logger) HistoryRepository {
	return &historyRepository{db: db, log: orDefault(log)}
}

func (r *historyRepository) Create(ctx context.Context, entry *models.ProcessingHistory) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		r.log.Error("processing_history create failed", "job_id", entry.JobID, "err", err)
		return err
	}
	return nil
}

// ListByUser は新しい順に最大 limit 件の履歴を返します。
func (r *historyRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.ProcessingHistory, error) {
	var entries []models.ProcessingHistory
	q := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		r.log.Error("failed to list history", "user_id", userID, "err", err)
		return nil, err
	}
	return entries, nil
}

func (r *historyRepository) ListByJob(ctx context.Context, jobID string) ([]models.ProcessingHistory, error) {
	var entries []models.ProcessingHistory
	if err := r.db.WithContext(ctx).Where("job_id = ?", jobID).Order("created_at ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *historyRepository) LatestCompletedForJob(ctx context.Context, jobID string) (*models.ProcessingHistory, error) {
	var entry models.ProcessingHistory
	err := r.db.WithContext(ctx).
		Where("job_id = ? AND status = ?", jobID, string(models.JobCompleted)).
		Order("created_at DESC").
		First(&entry).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &entry, nil
}

// CountByUser は since 以降（ゼロ値なら全期間）の件数を返します。
func (r *historyRepository) CountByUser(ctx context.Context, userID string, since time.Time) (int64, error) {
	var count int64
	q := r.db.WithContext(ctx).Model(&models.ProcessingHistory{}).Where("user_id = ?", userID)
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since)
	}
	err := q.Count(&count).Error
	return count, err
}
