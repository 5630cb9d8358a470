package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/community-chat/internal/chat"
	"github.com/suPer8Hu/community-chat/internal/common"
)

// Me returns the caller's profile as stored by the identity service.
func (h *Handler) Me(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	users, err := h.ChatSvc.Repo().GetUsers(c.Request.Context(), []uint64{uid})
	if err != nil {
		failChat(c, "Me", err)
		return
	}
	u, found := users[uid]
	if !found {
		failChat(c, "Me", chat.ErrInvalidRecipient)
		return
	}
	common.OK(c, gin.H{"user": u})
}
