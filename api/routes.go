package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/songcast/songcast_backend/accounts"
	"github.com/songcast/songcast_backend/farcaster"
	"github.com/songcast/songcast_backend/ledger"
	"github.com/songcast/songcast_backend/middlewares"
	"github.com/songcast/songcast_backend/notification"
	"github.com/songcast/songcast_backend/utils"
	"github.com/songcast/songcast_backend/workflow"
	"gorm.io/gorm"
)

// Locker is the subset of *redislock.Client used to serialize push deliveries.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)
}

// ProfileSource looks up Farcaster profiles by fid.
type ProfileSource interface {
	UsersByFids(ctx context.Context, fids []int64) ([]farcaster.User, error)
}

type Server struct {
	DB         *gorm.DB
	Accounts   *accounts.Store
	Ledger     *ledger.Ledger
	Dispatcher notification.Sender
	Scheduler  *notification.Scheduler
	Mint       *workflow.MintWorkflow
	Jobs       *workflow.NotificationJobHandler
	Verifier   farcaster.KeyVerifier
	Profiles   ProfileSource
	Locker     Locker
	Logger     *logrus.Logger
	Now        func() time.Time
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Register mounts every route. The session middleware must already be installed on r.
func (s *Server) Register(r gin.IRouter) {
	r.POST("/api/collections", middlewares.RequireSession(), s.createCollection)
	r.GET("/api/songs/:id/collectors", s.collectors)
	r.GET("/api/songs/:id/position/:fid", s.position)
	r.GET("/api/songs/:id/held/:fid", s.held)

	admin := r.Group("/api/admin", middlewares.RequireAdmin())
	admin.PUT("/songs/:id", s.upsertSong)
	admin.POST("/songs/:id/reminders", s.scheduleReminders)
	admin.POST("/notifications/send", s.sendNotification)
	admin.POST("/notifications/schedule", s.scheduleNotification)

	r.POST("/webhooks/farcaster", s.farcasterWebhook)
	r.POST(notification.CallbackPath, s.notificationPush)
}

func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, utils.ErrorInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func int64Param(c *gin.Context, name string) (int64, error) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		return 0, utils.ErrorInvalidInput
	}
	return v, nil
}
