package public

import (
	"errors"
	"time"

	"github.com/lumina-pay/internal/cache"
	"github.com/lumina-pay/internal/constants"
	"github.com/lumina-pay/internal/http/response"
	"github.com/lumina-pay/internal/payment"
	"github.com/lumina-pay/internal/service"

	"github.com/gin-gonic/gin"
)

// GetPaymentMethods 返回当前区域可用的支付方式。
func (h *Handler) GetPaymentMethods(c *gin.Context) {
	response.Success(c, gin.H{
		"region":  h.Config.Region.Name,
		"methods": h.PaymentService.AvailableMethods(),
	})
}

type createPaymentRequest struct {
	UserID       string `json:"user_id" binding:"required"`
	Email        string `json:"email"`
	Method       string `json:"method" binding:"required"`
	Plan         string `json:"plan" binding:"required"`
	BillingCycle string `json:"billing_cycle" binding:"required"`
}

// CreatePayment 创建支付单。
func (h *Handler) CreatePayment(c *gin.Context) {
	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "请求参数错误", err)
		return
	}

	result, err := h.PaymentService.CreatePayment(c.Request.Context(), service.CreatePaymentInput{
		UserID:       req.UserID,
		Email:        req.Email,
		Method:       req.Method,
		Plan:         req.Plan,
		BillingCycle: req.BillingCycle,
		ClientIP:     c.ClientIP(),
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMethodNotAvailable):
			respondError(c, response.CodeBadRequest, "该区域不支持此支付方式", nil)
		case errors.Is(err, service.ErrInvalidPlan):
			respondError(c, response.CodeBadRequest, "无效的订阅档位或计费周期", nil)
		case errors.Is(err, payment.ErrConfiguration):
			respondError(c, response.CodeInternal, "支付通道未配置", err)
		default:
			respondError(c, response.CodeInternal, "创建支付失败", err)
		}
		return
	}
	response.Success(c, result)
}

// GetPaymentByOrderID 按业务单号查询支付状态。
func (h *Handler) GetPaymentByOrderID(c *gin.Context) {
	orderID := c.Param("order_id")
	record, err := h.PaymentService.QueryByOrderID(c.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, service.ErrOrderNotFound) {
			response.NotFound(c, "订单不存在")
			return
		}
		respondError(c, response.CodeInternal, "查询支付失败", err)
		return
	}
	response.Success(c, record)
}

// CancelPayment 取消未完成的支付单。
func (h *Handler) CancelPayment(c *gin.Context) {
	orderID := c.Param("order_id")
	if err := h.PaymentService.Cancel(c.Request.Context(), orderID); err != nil {
		switch {
		case errors.Is(err, service.ErrOrderNotFound):
			response.NotFound(c, "订单不存在")
		case errors.Is(err, service.ErrOrderNotRefundable):
			respondError(c, response.CodeBadRequest, "订单已处于终态", nil)
		default:
			respondError(c, response.CodeInternal, "取消支付失败", err)
		}
		return
	}
	response.Success(c, nil)
}

// GetSubscription 查询用户生效中的订阅视图。
// 读路径优先命中 Redis 镜像，未命中回源权威表并回填。
func (h *Handler) GetSubscription(c *gin.Context) {
	userID := c.Param("user_id")
	now := time.Now()

	if cache.Enabled() {
		var snapshot service.SubscriptionSnapshot
		hit, err := cache.GetJSON(c.Request.Context(), cache.SubscriptionKey(userID), &snapshot)
		if err == nil && hit {
			response.Success(c, snapshot)
			return
		}
	}

	state, plan, err := h.SubscriptionService.GetEffective(userID, now)
	if err != nil {
		respondError(c, response.CodeInternal, "查询订阅失败", err)
		return
	}

	snapshot := service.SubscriptionSnapshot{
		UserID: userID,
		Plan:   plan,
		Status: constants.SubscriptionStatusExpired,
	}
	if state != nil {
		snapshot.Cycle = state.BillingCycle
		snapshot.Status = state.Status
		snapshot.EndsAt = state.EndsAt
	}
	if cache.Enabled() {
		ttl := time.Duration(h.Config.Mirror.CacheTTLSeconds) * time.Second
		if err := cache.SetJSON(c.Request.Context(), cache.SubscriptionKey(userID), snapshot, ttl); err != nil {
			requestLog(c).Debugw("subscription_cache_backfill_failed", "user_id", userID, "error", err)
		}
	}
	response.Success(c, snapshot)
}
