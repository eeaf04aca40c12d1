package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/talkspace/internal/models"
	"github.com/yoockh/talkspace/internal/services"
	"github.com/yoockh/talkspace/internal/utils"
)

type ChatHandler struct {
	svc services.ChatService
}

func NewChatHandler(svc services.ChatService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

type AppendMessageRequest struct {
	Body string             `json:"body" binding:"required"`
	Type models.MessageType `json:"type"`
}

func (h *ChatHandler) Append(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req AppendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "ChatHandler.Append", "invalid request body", err))
		return
	}

	msg, err := h.svc.AppendMessage(c.Request.Context(), c.Param("session_id"), userID, req.Body, req.Type)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *ChatHandler) List(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	msgs, err := h.svc.ListMessages(c.Request.Context(), c.Param("session_id"), userID, intQuery(c, "limit", 50))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}
