package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/songcast/songcast_backend/accounts"
	"github.com/songcast/songcast_backend/api"
	"github.com/songcast/songcast_backend/config"
	"github.com/songcast/songcast_backend/farcaster"
	"github.com/songcast/songcast_backend/ledger"
	"github.com/songcast/songcast_backend/middlewares"
	"github.com/songcast/songcast_backend/models"
	"github.com/songcast/songcast_backend/notification"
	"github.com/songcast/songcast_backend/utils"
	"github.com/songcast/songcast_backend/workflow"
)

const defaultPort = "8080"

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	limit  int64
	window time.Duration
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

// logoutHandler revokes the caller's session token.
func logoutHandler(c *gin.Context) {
	token, _ := utils.GetTokenFromContext(c.Request.Context())
	if err := config.RemoveRedisKey(c.Request.Context(), "Token:"+token); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.Status(http.StatusNoContent)
}

// wire builds the application services once the database and redis are connected.
func wire(s *api.Server, logger *logrus.Logger) {
	db := config.GetDB()
	store := accounts.NewStore(db)
	l := ledger.New(db)

	dispatcher := notification.NewDispatcher(store, farcaster.NewHTTPTransport(10*time.Second), config.AppURL(), logger)
	baseURL := config.PublicBaseURL()
	scheduler := notification.NewScheduler(notification.NewOutboxQueue(db), baseURL, logger)

	s.DB = db
	s.Accounts = store
	s.Ledger = l
	s.Dispatcher = dispatcher
	s.Scheduler = scheduler
	s.Logger = logger
	s.Mint = &workflow.MintWorkflow{Accounts: store, Ledger: l, Sender: dispatcher, Logger: logger}
	s.Jobs = &workflow.NotificationJobHandler{
		DB:       db,
		Resolver: notification.TargetResolver{Audience: store, Holders: l},
		Sender:   dispatcher,
		Secret:   config.CallbackSecret(),
		Logger:   logger,
	}
	if !config.IsLocalMode(baseURL) {
		s.Jobs.ExpectedURL = baseURL + notification.CallbackPath
	}

	if client, err := farcaster.NewClientFromEnv(); err == nil {
		s.Profiles = client
	} else {
		logger.WithFields(logrus.Fields{"field": "farcaster"}).Warn("profile lookups disabled: " + err.Error())
	}
	if hub := strings.TrimSpace(os.Getenv("FARCASTER_HUB_URL")); hub != "" {
		s.Verifier = farcaster.NewHubVerifier(hub)
	} else {
		logger.WithFields(logrus.Fields{"field": "farcaster"}).Error("FARCASTER_HUB_URL not set; mini app webhook events will be rejected")
	}
	if lock := config.GetRedisLock(); lock != nil {
		s.Locker = lock
	}
	if len(s.Jobs.Secret) == 0 {
		logger.WithFields(logrus.Fields{"field": "notification"}).Error("QUEUE_SIGNING_SECRET not set; scheduled notifications will not be published or accepted")
	}
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server first; app endpoints answer 503 until dependencies are wired.
	var ready atomic.Bool
	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if !ready.Load() {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		// deny all unless an allowlist is configured
		corsConfig.AllowOrigins = utils.SplitAndTrim(allowedOrigins)
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(middlewares.SessionMiddleware(middlewares.RedisSessions, config.AdminFids()))
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	app := &api.Server{}
	app.Register(r)
	r.DELETE("/api/session", middlewares.RequireSession(), logoutHandler)
	r.NoRoute(customNotFoundHandler)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	policy := config.DefaultRetryPolicy()
	if err := config.ConnectDatabaseWithRetry(sigCtx, policy); err != nil {
		logger.WithFields(logrus.Fields{"field": "database"}).Fatal("could not connect: " + err.Error())
	}
	if err := config.ConnectRedisWithRetry(sigCtx, policy); err != nil {
		logger.WithFields(logrus.Fields{"field": "redis"}).Fatal("could not connect: " + err.Error())
	}

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can hold DDL locks; production may run it as a separate job.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		if err := models.MigrateTable(db); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Fatal(err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// The outbox claim query relies on READ COMMITTED with SKIP LOCKED.
	if err := policy.Do(sigCtx, "isolation level", func(int) error {
		return db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
	}); err != nil {
		logger.WithFields(logrus.Fields{"field": "database"}).Warn("failed to set isolation level: " + err.Error())
	}

	wire(app, logger)
	ready.Store(true)

	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	go workflow.NewOutboxDispatcher(db, logger).Run(dispatcherCtx)

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on port ", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers before draining requests.
	cancelDispatcher()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// NewRateLimiter counts requests per client IP in redis. It runs behind the
// readiness gate, so redis is connected by the time it is called.
func NewRateLimiter(limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	ctx := c.Request.Context()
	key := "rate:" + c.ClientIP()

	_, exists, err := config.GetRedisValue(ctx, key)
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	if !exists {
		if err := config.SetRedisValue(ctx, key, "1", rl.window); err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	count, err := config.GetRedisDB().Incr(ctx, key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}
