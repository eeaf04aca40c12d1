package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/talkspace/internal/services"
	"github.com/yoockh/talkspace/internal/utils"
)

type LectureHandler struct {
	svc services.LectureService
}

func NewLectureHandler(svc services.LectureService) *LectureHandler {
	return &LectureHandler{svc: svc}
}

type UpdateProgressRequest struct {
	PositionSeconds *int64 `json:"position_seconds" binding:"required"`
	Action          string `json:"action"` // progress|bookmark
}

func (h *LectureHandler) UpdateProgress(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req UpdateProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "LectureHandler.UpdateProgress", "invalid request body", err))
		return
	}

	res, err := h.svc.UpdateProgress(c.Request.Context(), c.Param("session_id"), userID, *req.PositionSeconds, req.Action)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
