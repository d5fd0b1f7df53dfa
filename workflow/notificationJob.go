package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/songcast/songcast_backend/config"
	"github.com/songcast/songcast_backend/notification"
	"github.com/songcast/songcast_backend/utils"
	"gorm.io/gorm"
)

const NotificationJobHandlerName = "notification_job"

// PushMessage is one delivery of a scheduled notification job.
type PushMessage struct {
	MessageID   string
	CallbackURL string
	Signature   string
	Data        []byte
}

// JobResult tells the push endpoint whether to ack or ask for redelivery.
type JobResult struct {
	Outcome notification.Outcome
	// Duplicate is set when this message id already completed.
	Duplicate bool
	// Retry asks the queue to deliver again later.
	Retry bool
}

var ErrRejectedJob = errors.New("rejected notification job")

type NotificationJobHandler struct {
	DB       *gorm.DB
	Resolver notification.TargetResolver
	Sender   notification.Sender
	Secret   []byte
	// ExpectedURL is our own callback URL; signatures for any other URL are rejected.
	ExpectedURL string
	Logger      *logrus.Logger
}

// Handle verifies, deduplicates and dispatches one job. ErrRejectedJob means the
// message can never succeed and should be acked without processing.
func (h *NotificationJobHandler) Handle(ctx context.Context, msg PushMessage) (JobResult, error) {
	url := h.ExpectedURL
	if url == "" {
		url = msg.CallbackURL
	}
	if err := utils.VerifyCallback(h.Secret, msg.Signature, url, msg.Data); err != nil {
		return JobResult{}, fmt.Errorf("%w: %v", ErrRejectedJob, err)
	}
	job, err := notification.DecodeJob(msg.Data)
	if err != nil {
		return JobResult{}, fmt.Errorf("%w: %v", ErrRejectedJob, err)
	}
	if msg.MessageID == "" {
		return JobResult{}, fmt.Errorf("%w: missing message id", ErrRejectedJob)
	}

	db := h.DB.WithContext(ctx)
	skip, err := BeginIdempotency(db, NotificationJobHandlerName, msg.MessageID)
	if err != nil {
		if errors.Is(err, ErrIdempotencyInProgress) {
			return JobResult{Retry: true}, nil
		}
		return JobResult{}, err
	}
	if skip {
		return JobResult{Duplicate: true, Outcome: notification.OutcomeSuccess()}, nil
	}

	fids, err := h.Resolver.Resolve(ctx, job)
	if err != nil {
		_ = MarkIdempotencyFailed(db, NotificationJobHandlerName, msg.MessageID, notification.Error.String(), err)
		return JobResult{}, err
	}

	outcome := h.Sender.Dispatch(ctx, fids, job.Title, job.Body)
	fields := logrus.Fields{
		"field":      "NotificationJob",
		"message_id": msg.MessageID,
		"scope":      job.Scope,
		"targets":    len(fids),
		"outcome":    outcome.String(),
	}

	switch outcome.State {
	case notification.Error, notification.RateLimited:
		if err := MarkIdempotencyFailed(db, NotificationJobHandlerName, msg.MessageID, outcome.State.String(), errors.New(outcome.String())); err != nil {
			config.LogError(h.Logger, "workflow", "NotificationJob", "MarkIdempotencyFailed", msg.MessageID, err)
		}
		if h.Logger != nil {
			h.Logger.WithFields(fields).Warn("notification job will be redelivered")
		}
		return JobResult{Outcome: outcome, Retry: true}, nil
	}

	if err := MarkIdempotencySucceeded(db, NotificationJobHandlerName, msg.MessageID, outcome.State.String()); err != nil {
		return JobResult{Outcome: outcome}, err
	}
	if h.Logger != nil {
		h.Logger.WithFields(fields).Info("notification job done")
	}
	return JobResult{Outcome: outcome}, nil
}
