package repository

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/yourusername/easypdf/internal/models"
)

type SubscriptionRepository interface {
	Create(ctx context.Context, sub *models.Subscription) error
	ActiveForUser(ctx context.Context, userID string, at time.Time) (*models.Subscription, error)
	CancelAtPeriodEnd(ctx context.Context, userID string) (*models.Subscription, error)
}

type subscriptionRepository struct {
	db  *gorm.DB
	log *slog.Logger
}

func NewSubscriptionRepository(db *gorm.DB, log *slog.Logger) SubscriptionRepository {
	return &subscriptionRepository{db: db, log: orDefault(log)}
}

func (r *subscriptionRepository) Create(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

// ActiveForUser は at の時点で有効な購読を返します。
func (r *subscriptionRepository) ActiveForUser(ctx context.Context, userID string, at time.Time) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND current_period_end > ?", userID, models.SubscriptionActive, at).
		Order("current_period_end DESC").
		First(&sub).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &sub, nil
}

// CancelAtPeriodEnd は解約予約されていない有効な購読を期間終了時の解約に切り替えます。
func (r *subscriptionRepository) CancelAtPeriodEnd(ctx context.Context, userID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND status = ? AND cancel_at_period_end = ?", userID, models.SubscriptionActive, false).
			First(&sub).Error; err != nil {
			return notFound(err)
		}
		if err := tx.Model(&models.Subscription{}).Where("id = ?", sub.ID).Update("cancel_at_period_end", true).Error; err != nil {
			return err
		}
		sub.CancelAtPeriodEnd = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.log.Info("subscription cancel scheduled", "user_id", userID, "subscription_id", sub.ID)
	return &sub, nil
}
