package admin

import (
	"time"

	"github.com/lumina-pay/internal/http/response"

	"github.com/gin-gonic/gin"
)

// AdminGetSubscription 查询用户的权威订阅状态与当前生效档位。
func (h *Handler) AdminGetSubscription(c *gin.Context) {
	userID := c.Param("user_id")
	state, plan, err := h.SubscriptionService.GetEffective(userID, time.Now())
	if err != nil {
		respondError(c, response.CodeInternal, "查询订阅失败", err)
		return
	}
	if state == nil {
		response.Success(c, gin.H{
			"user_id":        userID,
			"effective_plan": plan,
			"state":          nil,
		})
		return
	}
	response.Success(c, gin.H{
		"user_id":        userID,
		"effective_plan": plan,
		"state":          state,
	})
}

// AdminResyncMirror 手工触发一次镜像同步，用于补偿 failed 任务。
func (h *Handler) AdminResyncMirror(c *gin.Context) {
	userID := c.Param("user_id")
	if err := h.MirrorService.SyncUser(c.Request.Context(), 0, userID, false); err != nil {
		respondError(c, response.CodeInternal, "镜像同步失败", err)
		return
	}
	response.Success(c, gin.H{"user_id": userID, "synced": true})
}
