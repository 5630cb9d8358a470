package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/suPer8Hu/community-chat/internal/common"
	"github.com/suPer8Hu/community-chat/internal/config"
	"github.com/suPer8Hu/community-chat/internal/httpapi/handlers"
	"github.com/suPer8Hu/community-chat/internal/httpapi/middleware"
	"github.com/suPer8Hu/community-chat/internal/realtime"
	"gorm.io/gorm"
)

func NewRouter(db *gorm.DB, cfg config.Config, reg *realtime.Registry, deps handlers.Deps) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(db, cfg, reg, deps)

	r.GET("/ping", h.Ping)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// sockets carry the token in the query string
	r.GET("/ws/chat/:recipient_id", h.DirectSocket)
	r.GET("/ws/group/:group_id", h.GroupSocket)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/me", h.Me)
	authGroup.GET("/threads", h.Threads)

	// direct messages
	authGroup.GET("/messages/direct/:user_id", h.DirectHistory)
	authGroup.POST("/messages/direct", h.SendDirect)
	authGroup.POST("/messages/async", h.SendAsync)
	authGroup.GET("/jobs/:job_id", h.GetJob)

	// groups
	authGroup.GET("/groups", h.ListGroups)
	authGroup.POST("/groups", h.CreateGroup)
	authGroup.POST("/groups/:group_id/join", h.JoinGroup)
	authGroup.POST("/groups/:group_id/leave", h.LeaveGroup)
	authGroup.GET("/groups/:group_id/messages", h.GroupHistory)
	authGroup.POST("/groups/:group_id/messages", h.SendGroup)
	authGroup.POST("/groups/:group_id/read", h.MarkGroupRead)
	return r
}
