package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/songcast/songcast_backend/accounts"
	"github.com/songcast/songcast_backend/config"
	"github.com/songcast/songcast_backend/farcaster"
)

const maxWebhookBody = 64 << 10

// farcasterWebhook applies mini-app lifecycle events to the caller's notification endpoint.
func (s *Server) farcasterWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	ctx := c.Request.Context()
	ev, err := farcaster.ParseWebhook(ctx, body, s.Verifier)
	if err != nil {
		if errors.Is(err, farcaster.ErrInvalidWebhook) {
			config.LogError(s.Logger, "api", "farcasterWebhook", "ParseWebhook", nil, err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid event"})
			return
		}
		s.fail(c, err)
		return
	}

	if err := s.applyEvent(ctx, ev); err != nil {
		s.fail(c, err)
		return
	}
	if s.Logger != nil {
		s.Logger.WithFields(logrus.Fields{
			"field": "FarcasterWebhook",
			"fid":   ev.Fid,
			"event": ev.Event,
		}).Info("mini app event applied")
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) applyEvent(ctx context.Context, ev farcaster.WebhookEvent) error {
	switch ev.Event {
	case farcaster.EventAppAdded, farcaster.EventNotificationsEnabled:
		if err := s.Accounts.Ensure(ctx, s.lookupProfile(ctx, ev.Fid)); err != nil {
			return err
		}
		if ev.NotificationDetails == nil {
			return nil
		}
		return s.Accounts.SetNotificationDetails(ctx, ev.Fid, ev.NotificationDetails.Url, ev.NotificationDetails.Token)
	case farcaster.EventAppRemoved, farcaster.EventNotificationsDisabled:
		return s.Accounts.ClearNotificationDetails(ctx, ev.Fid)
	}
	return nil
}

// lookupProfile enriches a new account from the identity directory. Failures only cost the enrichment.
func (s *Server) lookupProfile(ctx context.Context, fid int64) accounts.Profile {
	p := accounts.Profile{Fid: fid}
	if s.Profiles == nil {
		return p
	}
	users, err := s.Profiles.UsersByFids(ctx, []int64{fid})
	if err != nil {
		config.LogError(s.Logger, "api", "farcasterWebhook", "UsersByFids", fid, err)
		return p
	}
	for _, u := range users {
		if u.Fid != fid {
			continue
		}
		p.Username = u.Username
		p.DisplayName = u.DisplayName
		p.PfpUrl = u.PfpUrl
		p.Addresses = u.VerifiedAddresses.EthAddresses
	}
	return p
}
