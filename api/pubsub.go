package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/songcast/songcast_backend/config"
	"github.com/songcast/songcast_backend/utils"
	"github.com/songcast/songcast_backend/workflow"
)

// PushEnvelope is the body Pub/Sub push subscriptions POST to us.
type PushEnvelope struct {
	Message struct {
		Data        []byte            `json:"data,omitempty"`
		ID          string            `json:"messageId"`
		LegacyID    string            `json:"message_id"`
		Attributes  map[string]string `json:"attributes"`
		PublishTime time.Time         `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

const signatureHeader = "X-Queue-Signature"

// notificationPush runs a due notification job. 204 acks; 5xx asks Pub/Sub to redeliver.
func (s *Server) notificationPush(c *gin.Context) {
	logger := s.Logger
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		config.LogError(logger, "api", "notificationPush", "io.ReadAll", nil, err)
		// malformed request: ack/drop to avoid infinite retries
		c.Status(http.StatusNoContent)
		return
	}

	// byte slice unmarshalling handles base64 decoding
	var env PushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		config.LogError(logger, "api", "notificationPush", "Unmarshal body", string(body), err)
		c.Status(http.StatusNoContent)
		return
	}

	attrs := env.Message.Attributes
	msg := workflow.PushMessage{
		MessageID:   attrs[workflow.AttrMessageID],
		CallbackURL: attrs[workflow.AttrCallbackURL],
		Signature:   attrs[workflow.AttrSignature],
		Data:        env.Message.Data,
	}
	if msg.Signature == "" {
		msg.Signature = c.GetHeader(signatureHeader)
	}
	if msg.MessageID == "" {
		msg.MessageID = env.Message.ID
	}
	if msg.MessageID == "" {
		msg.MessageID = env.Message.LegacyID
	}

	ctx := c.Request.Context()
	if _, ok := utils.GetCorrelationIdFromContext(ctx); !ok && msg.MessageID != "" {
		ctx = utils.SetCorrelationIdInContext(ctx, msg.MessageID)
	}
	fields := logrus.Fields{
		"field":      "notificationPush",
		"message_id": msg.MessageID,
	}

	// Redis lock is best effort; the idempotency key is what makes delivery safe.
	if s.Locker != nil && msg.MessageID != "" {
		lock, err := s.Locker.Obtain(ctx, fmt.Sprintf("lock:notification:%s", msg.MessageID), 60*time.Second, nil)
		switch {
		case errors.Is(err, redislock.ErrNotObtained):
			if logger != nil {
				logger.WithFields(fields).Warn("notification job already running elsewhere; asking for redelivery")
			}
			c.Status(http.StatusServiceUnavailable)
			return
		case err != nil:
			if logger != nil {
				logger.WithFields(fields).Warn("error obtaining redis lock; proceeding without redis lock: " + err.Error())
			}
		default:
			defer func() {
				if releaseErr := lock.Release(ctx); releaseErr != nil && logger != nil {
					logger.WithFields(fields).Warn("failed to release redis lock: " + releaseErr.Error())
				}
			}()
		}
	}

	res, err := s.Jobs.Handle(ctx, msg)
	if err != nil {
		if errors.Is(err, workflow.ErrRejectedJob) {
			config.LogError(logger, "api", "notificationPush", "rejected", msg.MessageID, err)
			c.Status(http.StatusNoContent)
			return
		}
		config.LogError(logger, "api", "notificationPush", "Handle", msg.MessageID, err)
		c.Status(http.StatusInternalServerError)
		return
	}
	if res.Retry {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Status(http.StatusNoContent)
}
