package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/suPer8Hu/community-chat/internal/auth"
	"github.com/suPer8Hu/community-chat/internal/chat"
	"github.com/suPer8Hu/community-chat/internal/config"
	"github.com/suPer8Hu/community-chat/internal/realtime"
	"gorm.io/gorm"
)

// JobPublisher enqueues an async send job for the worker.
type JobPublisher interface {
	PublishJob(ctx context.Context, jobID string) error
}

type Handler struct {
	DB       *gorm.DB
	Cfg      config.Config
	ChatSvc  *chat.Service
	Identity *auth.Verifier
	Registry *realtime.Registry

	// optional
	Broadcaster realtime.Broadcaster
	Limiter     realtime.Limiter
	Rabbit      JobPublisher

	upgrader websocket.Upgrader
}

// Deps carries the optional collaborators. Nil fields disable the feature:
// no Broadcaster means in-process delivery only, no Limiter means no rate
// limit, no Rabbit means async sends answer 503.
type Deps struct {
	Broadcaster realtime.Broadcaster
	Limiter     realtime.Limiter
	Rabbit      JobPublisher
}

func NewHandler(db *gorm.DB, cfg config.Config, reg *realtime.Registry, d Deps) *Handler {
	if d.Broadcaster == nil {
		d.Broadcaster = reg
	}
	repo := chat.NewRepo(db)
	chatSvc := chat.NewService(repo, realtime.Announcer{B: d.Broadcaster}, cfg.HistoryPageSize)

	h := &Handler{
		DB:          db,
		Cfg:         cfg,
		ChatSvc:     chatSvc,
		Identity:    auth.NewVerifier(cfg.JWTSecret, repo.UserExists),
		Registry:    reg,
		Broadcaster: d.Broadcaster,
		Limiter:     d.Limiter,
		Rabbit:      d.Rabbit,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if cfg.WSAllowAnyOrigin {
		h.upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}
	return h
}
