package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/songcast/songcast_backend/config"
)

// PublishRequest asks the delayed queue to POST Body to URL after DelaySeconds.
type PublishRequest struct {
	URL          string
	Body         []byte
	DelaySeconds int
}

// DelayedQueue is a durable at-least-once queue with per-message delay.
// A nil error means the message is durably accepted.
type DelayedQueue interface {
	PublishJSON(ctx context.Context, req PublishRequest) (messageID string, err error)
}

// Receipt describes what happened to one schedule call.
type Receipt struct {
	MessageID    string `json:"message_id,omitempty"`
	DelaySeconds int    `json:"delay_seconds"`
	Skipped      bool   `json:"skipped"`
}

type Scheduler struct {
	queue   DelayedQueue
	baseURL string
	logger  *logrus.Logger
}

// NewScheduler schedules callbacks against baseURL. An empty or loopback baseURL
// puts the scheduler in local mode, where nothing is enqueued.
func NewScheduler(queue DelayedQueue, baseURL string, logger *logrus.Logger) *Scheduler {
	return &Scheduler{queue: queue, baseURL: baseURL, logger: logger}
}

func (s *Scheduler) ScheduleForAll(ctx context.Context, title, body string, delaySeconds int) (Receipt, error) {
	return s.schedule(ctx, Job{Scope: ScopeAll, Title: title, Body: body}, delaySeconds)
}

func (s *Scheduler) ScheduleForOwnership(ctx context.Context, title, body string, songID int64, didCollect bool, delaySeconds int) (Receipt, error) {
	return s.schedule(ctx, Job{
		Scope:      ScopeOwnership,
		Title:      title,
		Body:       body,
		SongId:     &songID,
		DidCollect: &didCollect,
	}, delaySeconds)
}

func (s *Scheduler) ScheduleExplicit(ctx context.Context, title, body string, fids []int64, delaySeconds int) (Receipt, error) {
	return s.schedule(ctx, Job{Scope: ScopeExplicit, Title: title, Body: body, Fids: fids}, delaySeconds)
}

// Schedule enqueues an already-built job.
func (s *Scheduler) Schedule(ctx context.Context, job Job, delaySeconds int) (Receipt, error) {
	return s.schedule(ctx, job, delaySeconds)
}

func (s *Scheduler) schedule(ctx context.Context, job Job, delaySeconds int) (Receipt, error) {
	if delaySeconds < 0 {
		delaySeconds = 0
	}
	if err := job.Validate(); err != nil {
		return Receipt{}, err
	}
	receipt := Receipt{DelaySeconds: delaySeconds}

	if config.IsLocalMode(s.baseURL) {
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{
				"field":         "NotificationScheduler",
				"scope":         job.Scope,
				"delay_seconds": delaySeconds,
			}).Warn("no public base url; skipping scheduled notification")
		}
		receipt.Skipped = true
		return receipt, nil
	}

	body, err := json.Marshal(job)
	if err != nil {
		return Receipt{}, err
	}
	id, err := s.queue.PublishJSON(ctx, PublishRequest{
		URL:          s.baseURL + CallbackPath,
		Body:         body,
		DelaySeconds: delaySeconds,
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("enqueue %s notification: %w", job.Scope, err)
	}
	receipt.MessageID = id
	return receipt, nil
}
