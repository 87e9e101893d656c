package repository

import (
	"context"
	"log/slog"

	"gorm.io/gorm"

	"github.com/yourusername/easypdf/internal/models"
)

type FileRepository interface {
	Create(ctx context.Context, file *models.PDFFile) error
	Get(ctx context.Context, id string) (*models.PDFFile, error)
	CountByUser(ctx context.Context, userID string) (int64, error)
}

type fileRepository struct {
	db  *gorm.DB
	log *slog.Logger
}

func NewFileRepository(db *gorm.DB, log *slog.Logger) FileRepository {
	return &fileRepository{db: db, log: orDefault(log)}
}

func (r *fileRepository) Create(ctx context.Context, file *models.PDFFile) error {
	if err := r.db.WithContext(ctx).Create(file).Error; err != nil {
		r.log.Error("pdf_file create failed", "name", file.OriginalName, "err", err)
		return err
	}
	r.log.Info("pdf_file created", "file_id", file.ID, "size", file.FileSize)
	return nil
}

func (r *fileRepository) Get(ctx context.Context, id string) (*models.PDFFile, error) {
	var file models.PDFFile
	if err := r.db.WithContext(ctx).First(&file, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &file, nil
}

func (r *fileRepository) CountByUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.PDFFile{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}
