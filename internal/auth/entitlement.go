package auth

import (
	"context"
	"errors"
	"time"

	"github.com/yourusername/easypdf/internal/repository"
)

// SubscriptionEntitlements は購読テーブルからプレミアム権限を判定します。
type SubscriptionEntitlements struct {
	subs repository.SubscriptionRepository
	now  func() time.Time
}

func NewSubscriptionEntitlements(subs repository.SubscriptionRepository) *SubscriptionEntitlements {
	return &SubscriptionEntitlements{subs: subs, now: time.Now}
}

// IsPremium は現在有効な購読があれば true を返します。解約予約中でも期間内は有効です。
func (e *SubscriptionEntitlements) IsPremium(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	_, err := e.subs.ActiveForUser(ctx, userID, e.now().UTC())
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, repository.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}
