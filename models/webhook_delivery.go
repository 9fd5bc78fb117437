package models

import "time"

// WebhookDelivery remembers processed webhook deliveries so replays short-circuit.
type WebhookDelivery struct {
	ID          string    `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Shop        string    `gorm:"type:varchar(255);not null;index" json:"shop"`
	Topic       string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_webhook_topic_delivery" json:"topic"`
	DeliveryID  string    `gorm:"type:varchar(128);not null;uniqueIndex:idx_webhook_topic_delivery" json:"delivery_id"`
	OrderID     string    `gorm:"type:varchar(64);index" json:"order_id"`
	Outcome     string    `gorm:"type:varchar(32)" json:"outcome"`
	ProcessedAt time.Time `gorm:"not null" json:"processed_at"`
}
