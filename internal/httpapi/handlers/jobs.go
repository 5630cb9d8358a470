package handlers

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/community-chat/internal/chat"
	"github.com/suPer8Hu/community-chat/internal/common"
)

type sendAsyncReq struct {
	Kind     chat.JobKind `json:"kind" binding:"required"`
	TargetID uint64       `json:"target_id" binding:"required"`
	Content  string       `json:"content" binding:"required"`
}

// SendAsync stores a send job and hands it to the worker. Repeating a request
// with the same Idempotency-Key returns the first job and publishes nothing.
// A job that fails to publish is rolled back so the client can retry.
func (h *Handler) SendAsync(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	if h.Rabbit == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50003, "async sending unavailable")
		return
	}

	var req sendAsyncReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	// read idempotency key
	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(idempoKey) > 128 {
		common.Fail(c, http.StatusBadRequest, 10003, "idempotency key too long")
		return
	}
	var idempoKeyPtr *string
	if idempoKey != "" {
		idempoKeyPtr = &idempoKey
	}

	jobID, err := common.NewULID()
	if err != nil {
		log.Printf("[SendAsync] NewULID failed uid=%d err=%v", uid, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	j, created, err := h.ChatSvc.CreateSendJob(c.Request.Context(), &chat.Job{
		ID:             jobID,
		UserID:         uid,
		Kind:           req.Kind,
		TargetID:       req.TargetID,
		Content:        req.Content,
		IdempotencyKey: idempoKeyPtr,
	})
	if err != nil {
		failChat(c, "SendAsync", err)
		return
	}

	// Enqueue only when a new job was created
	if created {
		if err := h.Rabbit.PublishJob(c.Request.Context(), j.ID); err != nil {
			log.Printf("[SendAsync] PublishJob failed uid=%d job_id=%s err=%v", uid, j.ID, err)
			if delErr := h.ChatSvc.AbandonSendJob(context.WithoutCancel(c.Request.Context()), j.ID); delErr != nil {
				log.Printf("[SendAsync] rollback failed job_id=%s err=%v", j.ID, delErr)
			}
			common.Fail(c, http.StatusInternalServerError, 50002, "enqueue failed")
			return
		}
	}

	c.JSON(http.StatusAccepted, gin.H{
		"code":    0,
		"message": "ok",
		"data":    gin.H{"job_id": j.ID, "created": created},
	})
}

func (h *Handler) GetJob(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	jobID := c.Param("job_id")
	if jobID == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "job_id required")
		return
	}

	j, err := h.ChatSvc.GetJob(c.Request.Context(), uid, jobID)
	if err != nil {
		failChat(c, "GetJob", err)
		return
	}
	common.OK(c, gin.H{"job": j})
}
