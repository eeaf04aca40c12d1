package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/yoockh/talkspace/internal/api/handlers"
	"github.com/yoockh/talkspace/internal/api/middleware"
)

type Deps struct {
	Session *handlers.SessionHandler
	Chat    *handlers.ChatHandler
	Game    *handlers.GameHandler
	Lecture *handlers.LectureHandler
	Match   *handlers.MatchHandler
	Profile *handlers.ProfileHandler
	WS      *handlers.WSHandler
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	// Protected routes (JWT)
	auth := r.Group("/")
	auth.Use(middleware.JWTAuth())

	auth.POST("/sessions", d.Session.Create)
	auth.GET("/sessions", d.Session.ListMine)
	auth.GET("/sessions/:session_id", d.Session.Get)
	auth.POST("/sessions/:session_id/join", d.Session.Join)
	auth.POST("/sessions/:session_id/leave", d.Session.Leave)
	auth.PATCH("/sessions/:session_id/state", d.Session.UpdateState)
	auth.POST("/sessions/:session_id/pause", d.Session.Pause)
	auth.POST("/sessions/:session_id/resume", d.Session.Resume)
	auth.POST("/sessions/:session_id/end", d.Session.End)
	auth.POST("/sessions/:session_id/upgrade", d.Session.Upgrade)

	auth.POST("/sessions/:session_id/messages", d.Chat.Append)
	auth.GET("/sessions/:session_id/messages", d.Chat.List)

	auth.POST("/sessions/:session_id/answers", d.Game.RecordAnswer)
	auth.POST("/sessions/:session_id/progress", d.Lecture.UpdateProgress)

	auth.POST("/match", d.Match.FindMatch)
	auth.GET("/groups", d.Match.ListGroups)
	auth.GET("/groups/code/:join_code", d.Match.GetGroupByCode)

	auth.GET("/profile/me", d.Profile.Me)
	auth.PUT("/profile/update", d.Profile.Update)

	// Admin
	admin := auth.Group("/admin")
	admin.Use(middleware.RequireAdmin())
	admin.POST("/sessions/:session_id/expire", d.Session.Expire)

	// WebSocket
	auth.GET("/ws/sessions/:session_id", d.WS.SessionWS)
}
