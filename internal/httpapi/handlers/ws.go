package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/community-chat/internal/common"
	"github.com/suPer8Hu/community-chat/internal/realtime"
)

// DirectSocket serves /ws/chat/:recipient_id.
func (h *Handler) DirectSocket(c *gin.Context) {
	rid, ok := paramID(c, "recipient_id")
	if !ok {
		return
	}
	h.serveSocket(c, realtime.DirectTarget(rid))
}

// GroupSocket serves /ws/group/:group_id.
func (h *Handler) GroupSocket(c *gin.Context) {
	gid, ok := paramID(c, "group_id")
	if !ok {
		return
	}
	h.serveSocket(c, realtime.GroupTarget(gid))
}

func (h *Handler) newSession() *realtime.Session {
	return realtime.NewSession(realtime.Deps{
		Identity:    h.Identity,
		Store:       h.ChatSvc.Repo(),
		Registry:    h.Registry,
		Broadcaster: h.Broadcaster,
		Limiter:     h.Limiter,
	})
}

// serveSocket authenticates before upgrading so a refused connection gets a
// plain HTTP error with the usual envelope.
func (h *Handler) serveSocket(c *gin.Context, target realtime.Target) {
	sess := h.newSession()
	if err := sess.Authenticate(c.Request.Context(), c.Query("token"), target); err != nil {
		if errors.Is(err, realtime.ErrUnauthenticated) {
			common.Fail(c, http.StatusUnauthorized, 40102, "invalid token")
			return
		}
		failChat(c, "WS", err)
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already wrote the error response
		log.Printf("[WS] upgrade failed user=%d err=%v", sess.UserID(), err)
		sess.Close()
		return
	}

	client := realtime.NewClient(ws, h.Cfg.WSSendBuffer, h.Cfg.WSWriteTimeout)
	if err := sess.Join(client); err != nil {
		log.Printf("[WS] join failed user=%d err=%v", sess.UserID(), err)
		_ = ws.Close()
		return
	}

	go client.WritePump()
	client.ReadPump(c.Request.Context(), sess.Handle)
	sess.Close()
}
