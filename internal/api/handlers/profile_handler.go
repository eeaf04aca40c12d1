package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"
	"github.com/yoockh/talkspace/internal/models"
	"github.com/yoockh/talkspace/internal/services"
	"github.com/yoockh/talkspace/internal/utils"
	"gorm.io/datatypes"
)

type ProfileHandler struct {
	svc services.ProfileService
}

func NewProfileHandler(svc services.ProfileService) *ProfileHandler {
	return &ProfileHandler{svc: svc}
}

func (h *ProfileHandler) Me(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	p, err := h.svc.GetMe(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type UpdateProfileRequest struct {
	DisplayName string         `json:"display_name"`
	Region      string         `json:"region"`
	Level       string         `json:"level"`
	Languages   []string       `json:"languages"`
	Preferences map[string]any `json:"preferences"`
}

func (h *ProfileHandler) Update(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "ProfileHandler.Update", "invalid request body", err))
		return
	}

	p := &models.Profile{
		UserID:      userID,
		DisplayName: req.DisplayName,
		Region:      req.Region,
		Level:       req.Level,
		Languages:   pq.StringArray(req.Languages),
	}
	if req.Preferences != nil {
		b, err := json.Marshal(req.Preferences)
		if err != nil {
			writeError(c, utils.E(utils.CodeInvalidArgument, "ProfileHandler.Update", "invalid preferences", err))
			return
		}
		p.Preferences = datatypes.JSON(b)
	}

	if err := h.svc.Upsert(c.Request.Context(), p); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
