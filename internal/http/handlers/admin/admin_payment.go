package admin

import (
	"errors"
	"strconv"
	"time"

	handlershared "github.com/lumina-pay/internal/http/handlers/shared"
	"github.com/lumina-pay/internal/http/response"
	"github.com/lumina-pay/internal/repository"
	"github.com/lumina-pay/internal/service"

	"github.com/gin-gonic/gin"
)

// AdminListPayments 分页查询支付流水。
func (h *Handler) AdminListPayments(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	page, pageSize = handlershared.NormalizePagination(page, pageSize)

	filter := repository.PaymentListFilter{
		Page:          page,
		PageSize:      pageSize,
		UserID:        c.Query("user_id"),
		Method:        c.Query("method"),
		Status:        c.Query("status"),
		Plan:          c.Query("plan"),
		TransactionID: c.Query("transaction_id"),
		Search:        c.Query("search"),
	}
	if raw := c.Query("created_from"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.CreatedFrom = &t
		}
	}
	if raw := c.Query("created_to"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.CreatedTo = &t
		}
	}

	records, total, err := h.PaymentRepo.List(filter)
	if err != nil {
		respondError(c, response.CodeInternal, "查询流水失败", err)
		return
	}
	response.SuccessWithPage(c, records, response.Pagination{
		Page:      page,
		PageSize:  pageSize,
		Total:     total,
		TotalPage: (total + int64(pageSize) - 1) / int64(pageSize),
	})
}

// AdminGetPaymentStats 流水汇总统计。
func (h *Handler) AdminGetPaymentStats(c *gin.Context) {
	stats, err := h.PaymentRepo.Stats()
	if err != nil {
		respondError(c, response.CodeInternal, "统计查询失败", err)
		return
	}
	response.Success(c, stats)
}

type refundRequest struct {
	Reason string `json:"reason"`
}

// AdminRefundPayment 对已完成交易发起退款。
func (h *Handler) AdminRefundPayment(c *gin.Context) {
	transactionID := c.Param("transaction_id")
	// 请求体可为空，退款原因是可选的
	var req refundRequest
	_ = c.ShouldBindJSON(&req)

	result, err := h.PaymentService.Refund(c.Request.Context(), transactionID, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrOrderNotFound):
			response.NotFound(c, "交易不存在")
		case errors.Is(err, service.ErrOrderNotRefundable):
			respondError(c, response.CodeBadRequest, "交易状态不允许退款", nil)
		default:
			respondError(c, response.CodeInternal, "退款失败", err)
		}
		return
	}
	requestLog(c).Infow("admin_refund_submitted",
		"transaction_id", transactionID,
		"refund_id", result.RefundID,
	)
	response.Success(c, result)
}
