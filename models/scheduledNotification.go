package models

import "time"

// ScheduledNotification is the durable delayed-queue row. The insert commit is the
// enqueue acknowledgement; the outbox dispatcher publishes it to Pub/Sub once FireAt passes.
type ScheduledNotification struct {
	ID          int       `gorm:"primary_key;index:idx_notification_dispatch,priority:4" json:"id"`
	MessageId   string    `gorm:"size:36;not null;uniqueIndex" json:"message_id"`
	CallbackUrl string    `gorm:"size:1024;not null" json:"callback_url"`
	Payload     string    `gorm:"type:text;not null" json:"payload"`
	FireAt      time.Time `gorm:"not null;precision:6;index:idx_notification_dispatch,priority:2" json:"fire_at"`

	PublishStatus    string     `gorm:"size:20;not null;default:'PENDING';index:idx_notification_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index:idx_notification_dispatch,priority:3" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`

	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
