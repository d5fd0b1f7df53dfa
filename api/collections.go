package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/songcast/songcast_backend/utils"
	"github.com/songcast/songcast_backend/workflow"
)

type collectRequest struct {
	SongId      int64    `json:"song_id"`
	Amount      int64    `json:"amount"`
	Username    string   `json:"username"`
	DisplayName string   `json:"display_name"`
	PfpUrl      string   `json:"pfp_url"`
	Addresses   []string `json:"addresses"`
}

func (s *Server) createCollection(c *gin.Context) {
	var req collectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, fmt.Errorf("%w: %v", utils.ErrorInvalidInput, err))
		return
	}
	fid, _ := utils.GetFidFromContext(c.Request.Context())

	res, err := s.Mint.Collect(c.Request.Context(), workflow.CollectInput{
		Fid:         fid,
		SongId:      req.SongId,
		Amount:      req.Amount,
		Username:    req.Username,
		DisplayName: req.DisplayName,
		PfpUrl:      req.PfpUrl,
		Addresses:   req.Addresses,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	c.JSON(status, res)
}

type collectorView struct {
	Position    int       `json:"position"`
	Fid         int64     `json:"fid"`
	Amount      int64     `json:"amount"`
	Username    string    `json:"username,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	PfpUrl      string    `json:"pfp_url,omitempty"`
	CollectedAt time.Time `json:"collected_at"`
}

func (s *Server) collectors(c *gin.Context) {
	songID, err := int64Param(c, "id")
	if err != nil {
		s.fail(c, err)
		return
	}
	rows, err := s.Ledger.CollectorsOf(c.Request.Context(), songID)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]collectorView, 0, len(rows))
	for i, r := range rows {
		v := collectorView{Position: i + 1, Fid: r.Fid, Amount: r.Amount, CollectedAt: r.CreatedAt}
		if r.Account != nil {
			v.Username = r.Account.Username
			v.DisplayName = r.Account.DisplayName
			v.PfpUrl = r.Account.PfpUrl
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, gin.H{"song_id": songID, "collectors": out})
}

func (s *Server) position(c *gin.Context) {
	songID, err := int64Param(c, "id")
	if err != nil {
		s.fail(c, err)
		return
	}
	fid, err := int64Param(c, "fid")
	if err != nil {
		s.fail(c, err)
		return
	}
	rank, ok, err := s.Ledger.PositionOf(c.Request.Context(), songID, fid)
	if err != nil {
		s.fail(c, err)
		return
	}
	if !ok {
		s.fail(c, utils.ErrorRecordNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"song_id": songID, "fid": fid, "position": rank, "ordinal": utils.Ordinal(rank)})
}

func (s *Server) held(c *gin.Context) {
	songID, err := int64Param(c, "id")
	if err != nil {
		s.fail(c, err)
		return
	}
	fid, err := int64Param(c, "fid")
	if err != nil {
		s.fail(c, err)
		return
	}
	held, err := s.Ledger.IsHeld(c.Request.Context(), fid, songID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"song_id": songID, "fid": fid, "held": held})
}
