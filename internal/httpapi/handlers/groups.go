package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/community-chat/internal/common"
)

func (h *Handler) ListGroups(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	groups, err := h.ChatSvc.ListGroups(c.Request.Context(), uid)
	if err != nil {
		failChat(c, "ListGroups", err)
		return
	}
	common.OK(c, gin.H{"groups": groups})
}

type createGroupReq struct {
	Name string `json:"name"`
}

func (h *Handler) CreateGroup(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	var req createGroupReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	g, err := h.ChatSvc.CreateGroup(c.Request.Context(), uid, req.Name)
	if err != nil {
		failChat(c, "CreateGroup", err)
		return
	}
	common.Created(c, gin.H{"group": g})
}

func (h *Handler) JoinGroup(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	gid, ok := paramID(c, "group_id")
	if !ok {
		return
	}
	if err := h.ChatSvc.JoinGroup(c.Request.Context(), uid, gid); err != nil {
		failChat(c, "JoinGroup", err)
		return
	}
	common.OK(c, gin.H{"group_id": gid, "joined": true})
}

func (h *Handler) LeaveGroup(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	gid, ok := paramID(c, "group_id")
	if !ok {
		return
	}
	if err := h.ChatSvc.LeaveGroup(c.Request.Context(), uid, gid); err != nil {
		failChat(c, "LeaveGroup", err)
		return
	}
	common.OK(c, gin.H{"group_id": gid, "left": true})
}

func (h *Handler) GroupHistory(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	gid, ok := paramID(c, "group_id")
	if !ok {
		return
	}
	msgs, err := h.ChatSvc.GroupHistory(c.Request.Context(), uid, gid, pageFromQuery(c))
	if err != nil {
		failChat(c, "GroupHistory", err)
		return
	}
	var nextBeforeID uint64
	if len(msgs) > 0 {
		nextBeforeID = msgs[0].ID
	}
	common.OK(c, gin.H{
		"messages":       msgs,
		"next_before_id": nextBeforeID,
	})
}

type sendGroupReq struct {
	Content string `json:"content" binding:"required"`
}

func (h *Handler) SendGroup(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	gid, ok := paramID(c, "group_id")
	if !ok {
		return
	}
	var req sendGroupReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	m, err := h.ChatSvc.SendGroup(c.Request.Context(), gid, uid, req.Content)
	if err != nil {
		failChat(c, "SendGroup", err)
		return
	}
	common.Created(c, gin.H{"message": m})
}

func (h *Handler) MarkGroupRead(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	gid, ok := paramID(c, "group_id")
	if !ok {
		return
	}
	n, err := h.ChatSvc.MarkGroupRead(c.Request.Context(), uid, gid)
	if err != nil {
		failChat(c, "MarkGroupRead", err)
		return
	}
	common.OK(c, gin.H{"marked": n})
}
