package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/songcast/songcast_backend/models"
	"github.com/songcast/songcast_backend/notification"
	"github.com/songcast/songcast_backend/utils"
)

func (s *Server) upsertSong(c *gin.Context) {
	id, err := int64Param(c, "id")
	if err != nil {
		s.fail(c, err)
		return
	}
	var input models.NewSong
	if err := c.ShouldBindJSON(&input); err != nil {
		s.fail(c, fmt.Errorf("%w: %v", utils.ErrorInvalidInput, err))
		return
	}
	song, err := models.SaveSong(c.Request.Context(), s.DB, id, input)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, song)
}

func (s *Server) scheduleReminders(c *gin.Context) {
	id, err := int64Param(c, "id")
	if err != nil {
		s.fail(c, err)
		return
	}
	song, err := models.GetSong(c.Request.Context(), s.DB, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	now := s.now()
	receipts, err := s.Scheduler.ScheduleSaleReminders(c.Request.Context(), *song, now)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"song_id":  song.ID,
		"plan":     notification.SaleReminderPlan(*song, now),
		"receipts": receipts,
	})
}

type sendRequest struct {
	Title string  `json:"title" validate:"required,max=32"`
	Body  string  `json:"body" validate:"required,max=128"`
	Fids  []int64 `json:"fids" validate:"required,min=1,dive,gt=0"`
}

func (s *Server) sendNotification(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, fmt.Errorf("%w: %v", utils.ErrorInvalidInput, err))
		return
	}
	if err := utils.Validate(req); err != nil {
		s.fail(c, err)
		return
	}
	outcome := s.Dispatcher.Dispatch(c.Request.Context(), utils.UniqueSlice(req.Fids), req.Title, req.Body)
	c.JSON(http.StatusOK, gin.H{"outcome": outcome})
}

type scheduleRequest struct {
	notification.Job
	DelaySeconds int `json:"delay_seconds"`
}

func (s *Server) scheduleNotification(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, fmt.Errorf("%w: %v", utils.ErrorInvalidInput, err))
		return
	}
	receipt, err := s.Scheduler.Schedule(c.Request.Context(), req.Job, req.DelaySeconds)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, receipt)
}
