package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/talkspace/internal/services"
	"github.com/yoockh/talkspace/internal/utils"
)

type GameHandler struct {
	svc services.GameService
}

func NewGameHandler(svc services.GameService) *GameHandler {
	return &GameHandler{svc: svc}
}

type RecordAnswerRequest struct {
	QuestionIndex *int   `json:"question_index" binding:"required"`
	Answer        string `json:"answer" binding:"required"`
}

func (h *GameHandler) RecordAnswer(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req RecordAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "GameHandler.RecordAnswer", "invalid request body", err))
		return
	}

	res, err := h.svc.RecordAnswer(c.Request.Context(), c.Param("session_id"), userID, *req.QuestionIndex, req.Answer)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
