package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/community-chat/internal/common"
)

func (h *Handler) Threads(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	threads, err := h.ChatSvc.Threads(c.Request.Context(), uid)
	if err != nil {
		failChat(c, "Threads", err)
		return
	}
	common.OK(c, gin.H{"threads": threads})
}
