package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/talkspace/internal/models"
	"github.com/yoockh/talkspace/internal/services"
	"github.com/yoockh/talkspace/internal/utils"
)

type SessionHandler struct {
	svc services.SessionService
}

func NewSessionHandler(svc services.SessionService) *SessionHandler {
	return &SessionHandler{svc: svc}
}

type CreateSessionRequest struct {
	Kind        models.SessionKind `json:"kind" binding:"required"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Region      string             `json:"region"`

	InitialParticipants []string `json:"initial_participants"`

	IsPrivate    bool   `json:"is_private"`
	AccessSecret string `json:"access_secret"`

	MaxParticipants int                 `json:"max_participants"`
	CallSettings    models.CallSettings `json:"call_settings"`

	Level string `json:"level"`

	Questions        []models.GameQuestion `json:"questions"`
	TimeLimitSeconds int                   `json:"time_limit_seconds"`

	LectureID              string `json:"lecture_id"`
	LectureDurationSeconds int64  `json:"lecture_duration_seconds"`
}

func (h *SessionHandler) Create(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "SessionHandler.Create", "invalid request body", err))
		return
	}

	sess, err := h.svc.Create(c.Request.Context(), services.CreateSessionParams{
		Kind:                   req.Kind,
		HostID:                 userID,
		Title:                  req.Title,
		Description:            req.Description,
		Region:                 req.Region,
		InitialParticipants:    req.InitialParticipants,
		IsPrivate:              req.IsPrivate,
		AccessSecret:           req.AccessSecret,
		MaxParticipants:        req.MaxParticipants,
		CallSettings:           req.CallSettings,
		Level:                  req.Level,
		Questions:              req.Questions,
		TimeLimitSeconds:       req.TimeLimitSeconds,
		LectureID:              req.LectureID,
		LectureDurationSeconds: req.LectureDurationSeconds,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, sess)
}

func (h *SessionHandler) Get(c *gin.Context) {
	if _, ok := requireUserID(c); !ok {
		return
	}

	sess, err := h.svc.Get(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *SessionHandler) ListMine(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	sessions, err := h.svc.ListByUser(c.Request.Context(), userID, intQuery(c, "limit", 50))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

type JoinSessionRequest struct {
	Secret   string                 `json:"secret"`
	RoleHint models.ParticipantRole `json:"role_hint"`
}

func (h *SessionHandler) Join(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req JoinSessionRequest
	// body optional: public sessions join with no payload
	_ = c.ShouldBindJSON(&req)

	sess, err := h.svc.Join(c.Request.Context(), c.Param("session_id"), userID, req.Secret, req.RoleHint)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *SessionHandler) Leave(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	res, err := h.svc.Leave(c.Request.Context(), c.Param("session_id"), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *SessionHandler) UpdateState(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var delta services.ParticipantStateDelta
	if err := c.ShouldBindJSON(&delta); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "SessionHandler.UpdateState", "invalid request body", err))
		return
	}

	p, err := h.svc.UpdateParticipantState(c.Request.Context(), c.Param("session_id"), userID, delta)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *SessionHandler) Pause(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	sess, err := h.svc.Pause(c.Request.Context(), c.Param("session_id"), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *SessionHandler) Resume(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	sess, err := h.svc.Resume(c.Request.Context(), c.Param("session_id"), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *SessionHandler) End(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	sess, err := h.svc.End(c.Request.Context(), c.Param("session_id"), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// Expire cancels a scheduled session on demand, ahead of the reaper. Admin
// only; active sessions are reported as not expired rather than touched.
func (h *SessionHandler) Expire(c *gin.Context) {
	if _, ok := requireUserID(c); !ok {
		return
	}

	expired, err := h.svc.ExpireScheduled(c.Request.Context(), c.Param("session_id"), time.Now().UTC())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired": expired})
}

type UpgradeRequest struct {
	CallType string `json:"call_type" binding:"required"` // voice|video
}

func (h *SessionHandler) Upgrade(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req UpgradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "SessionHandler.Upgrade", "invalid request body", err))
		return
	}

	sess, err := h.svc.UpgradeToCall(c.Request.Context(), c.Param("session_id"), userID, req.CallType)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}
