package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/talkspace/internal/models"
	"github.com/yoockh/talkspace/internal/services"
	"github.com/yoockh/talkspace/internal/utils"
)

type MatchHandler struct {
	svc services.MatchService
}

func NewMatchHandler(svc services.MatchService) *MatchHandler {
	return &MatchHandler{svc: svc}
}

type FindMatchRequest struct {
	Region      string             `json:"region" binding:"required"`
	SessionType models.SessionKind `json:"session_type" binding:"required"`
	LevelFilter string             `json:"level_filter"`
}

func (h *MatchHandler) FindMatch(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req FindMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "MatchHandler.FindMatch", "invalid request body", err))
		return
	}

	res, err := h.svc.FindMatch(c.Request.Context(), userID, req.Region, req.SessionType, req.LevelFilter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *MatchHandler) ListGroups(c *gin.Context) {
	if _, ok := requireUserID(c); !ok {
		return
	}

	groups, err := h.svc.ListGroups(c.Request.Context(), c.Query("region"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

func (h *MatchHandler) GetGroupByCode(c *gin.Context) {
	if _, ok := requireUserID(c); !ok {
		return
	}

	sess, err := h.svc.GetGroupByCode(c.Request.Context(), c.Param("join_code"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}
