package repository

import (
	"context"
	"fmt"

	"referral-engine/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type deliveryRepository struct {
	db *gorm.DB
}

func (r *deliveryRepository) Seen(ctx context.Context, topic, deliveryID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.WebhookDelivery{}).
		Where("topic = ? AND delivery_id = ?", topic, deliveryID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check webhook delivery: %w", err)
	}
	return count > 0, nil
}

// Record is a no-op when the delivery was already stored by a concurrent request.
func (r *deliveryRepository) Record(ctx context.Context, delivery *models.WebhookDelivery) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "topic"}, {Name: "delivery_id"}},
			DoNothing: true,
		}).
		Create(delivery).Error
	if err != nil {
		return fmt.Errorf("record webhook delivery: %w", err)
	}
	return nil
}
