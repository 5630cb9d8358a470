package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/community-chat/internal/chat"
	"github.com/suPer8Hu/community-chat/internal/common"
	"github.com/suPer8Hu/community-chat/internal/httpapi/middleware"
)

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

// mustUser writes 401 and returns false when the auth middleware did not run.
func mustUser(c *gin.Context) (uint64, bool) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
	}
	return uid, ok
}

func paramID(c *gin.Context, name string) (uint64, bool) {
	n, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || n == 0 {
		common.Fail(c, http.StatusBadRequest, 10002, "invalid "+name)
		return 0, false
	}
	return n, true
}

func pageFromQuery(c *gin.Context) chat.Page {
	var p chat.Page
	p.Limit, _ = strconv.Atoi(c.Query("limit"))
	if v := c.Query("before_id"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			p.BeforeID = n
		}
	}
	return p
}

// failChat maps domain errors to status and business code.
func failChat(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyContent):
		common.Fail(c, http.StatusBadRequest, 10010, "content required")
	case errors.Is(err, chat.ErrSelfMessage):
		common.Fail(c, http.StatusBadRequest, 10011, "cannot message yourself")
	case errors.Is(err, chat.ErrGroupNameRequired):
		common.Fail(c, http.StatusBadRequest, 10012, "group name required")
	case errors.Is(err, chat.ErrInvalidJob):
		common.Fail(c, http.StatusBadRequest, 10013, "kind must be direct or group")
	case errors.Is(err, chat.ErrNotAMember):
		common.Fail(c, http.StatusForbidden, 40301, "not a member of this group")
	case errors.Is(err, chat.ErrInvalidRecipient):
		common.Fail(c, http.StatusNotFound, 40401, "user not found")
	case errors.Is(err, chat.ErrGroupNotFound):
		common.Fail(c, http.StatusNotFound, 40403, "group not found")
	case errors.Is(err, chat.ErrJobNotFound):
		common.Fail(c, http.StatusNotFound, 40402, "job not found")
	default:
		log.Printf("[%s] failed err=%v", op, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}
