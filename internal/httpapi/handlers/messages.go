package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/community-chat/internal/common"
)

// DirectHistory returns one page of the conversation and marks it read.
func (h *Handler) DirectHistory(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	other, ok := paramID(c, "user_id")
	if !ok {
		return
	}

	msgs, err := h.ChatSvc.DirectHistory(c.Request.Context(), uid, other, pageFromQuery(c))
	if err != nil {
		failChat(c, "DirectHistory", err)
		return
	}

	// ascending page; the oldest id is the cursor for the previous page
	var nextBeforeID uint64
	if len(msgs) > 0 {
		nextBeforeID = msgs[0].ID
	}
	common.OK(c, gin.H{
		"messages":       msgs,
		"next_before_id": nextBeforeID,
	})
}

type sendDirectReq struct {
	RecipientID uint64 `json:"recipient_id" binding:"required"`
	Content     string `json:"content" binding:"required"`
}

func (h *Handler) SendDirect(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	var req sendDirectReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	m, err := h.ChatSvc.SendDirect(c.Request.Context(), uid, req.RecipientID, req.Content)
	if err != nil {
		failChat(c, "SendDirect", err)
		return
	}
	common.Created(c, gin.H{"message": m})
}
