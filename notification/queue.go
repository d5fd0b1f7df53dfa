package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/songcast/songcast_backend/models"
	"github.com/songcast/songcast_backend/utils"
	"gorm.io/gorm"
)

// OutboxQueue is the DelayedQueue backed by the scheduled_notifications table.
// A committed insert is the durable acknowledgement; the outbox dispatcher
// publishes the row once its fire time passes.
type OutboxQueue struct {
	db  *gorm.DB
	now func() time.Time
}

func NewOutboxQueue(db *gorm.DB) *OutboxQueue {
	return &OutboxQueue{db: db, now: time.Now}
}

func (q *OutboxQueue) WithClock(now func() time.Time) *OutboxQueue {
	q.now = now
	return q
}

func (q *OutboxQueue) PublishJSON(ctx context.Context, req PublishRequest) (string, error) {
	delay := req.DelaySeconds
	if delay < 0 {
		delay = 0
	}
	correlationID, _ := utils.GetCorrelationIdFromContext(ctx)
	row := models.ScheduledNotification{
		MessageId:     uuid.NewString(),
		CallbackUrl:   req.URL,
		Payload:       string(req.Body),
		FireAt:        q.now().UTC().Add(time.Duration(delay) * time.Second),
		PublishStatus: models.OutboxPublishStatusPending,
		CorrelationId: correlationID,
	}
	if err := q.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", err
	}
	return row.MessageId, nil
}
