package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lumina-pay/internal/config"
	"github.com/lumina-pay/internal/constants"
	"github.com/lumina-pay/internal/logger"
	"github.com/lumina-pay/internal/models"
	"github.com/lumina-pay/internal/payment"
	"github.com/lumina-pay/internal/queue"
	"github.com/lumina-pay/internal/repository"

	"github.com/google/uuid"
)

var (
	ErrMethodNotAvailable = errors.New("payment method not available in this region")
	ErrInvalidPlan        = errors.New("invalid plan or billing cycle")
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderNotRefundable = errors.New("order is not refundable")
)

// 主动查询兜底的延迟梯度
var pollDelays = []time.Duration{2 * time.Minute, 10 * time.Minute, 30 * time.Minute}

// PaymentService 统一门面：区域路由、定价、下单、查询、取消、退款。
type PaymentService struct {
	cfg *config.Config

	adapters map[string]payment.Adapter

	paymentRepo repository.PaymentRepository
	queueClient *queue.Client
}

// NewPaymentService 创建支付门面服务
func NewPaymentService(
	cfg *config.Config,
	adapters map[string]payment.Adapter,
	paymentRepo repository.PaymentRepository,
	queueClient *queue.Client,
) *PaymentService {
	return &PaymentService{
		cfg:         cfg,
		adapters:    adapters,
		paymentRepo: paymentRepo,
		queueClient: queueClient,
	}
}

// AvailableMethods 当前区域允许、且完成了适配器装配的支付方式。
func (s *PaymentService) AvailableMethods() []string {
	methods := make([]string, 0, 2)
	for _, m := range constants.MethodsForRegion(s.cfg.Region.Name) {
		if _, ok := s.adapters[m]; ok {
			methods = append(methods, m)
		}
	}
	return methods
}

// CreatePaymentInput 下单请求。金额不由客户端上送，按档位查表定价。
type CreatePaymentInput struct {
	UserID       string
	Email        string
	Method       string
	Plan         string
	BillingCycle string
	ClientIP     string
}

// CreatePaymentResult 下单应答。
type CreatePaymentResult struct {
	OrderID       string     `json:"order_id"`
	TransactionID string     `json:"transaction_id"`
	Method        string     `json:"method"`
	Interaction   string     `json:"interaction"`
	PayURL        string     `json:"pay_url"`
	Amount        string     `json:"amount"`
	Currency      string     `json:"currency"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// CreatePayment 下单：区域校验 → 查价 → 调提供方 → pending 流水 → 轮询兜底。
func (s *PaymentService) CreatePayment(ctx context.Context, input CreatePaymentInput) (*CreatePaymentResult, error) {
	method := strings.ToLower(strings.TrimSpace(input.Method))
	if !s.methodAllowed(method) {
		return nil, fmt.Errorf("%w: %s in region %s", ErrMethodNotAvailable, method, s.cfg.Region.Name)
	}
	adapter, ok := s.adapters[method]
	if !ok {
		return nil, fmt.Errorf("%w: adapter for %s not configured", payment.ErrConfiguration, method)
	}

	plan := strings.ToLower(strings.TrimSpace(input.Plan))
	cycle := strings.ToLower(strings.TrimSpace(input.BillingCycle))
	currency := s.currency()
	price, ok := constants.PlanPrice(plan, cycle, currency)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s/%s", ErrInvalidPlan, plan, cycle, currency)
	}

	orderID := newOrderID()
	result, err := adapter.CreateOrder(ctx, payment.CreateOrderInput{
		OrderID:      orderID,
		UserID:       input.UserID,
		Email:        input.Email,
		AmountValue:  price.String(),
		Currency:     currency,
		Plan:         plan,
		BillingCycle: cycle,
		Description:  fmt.Sprintf("Lumina %s (%s)", plan, cycle),
		ClientIP:     input.ClientIP,
	})
	if err != nil {
		logger.Errorw("payment_create_failed",
			"method", method,
			"order_id", orderID,
			"user_id", input.UserID,
			"error", err.Error(),
		)
		return nil, err
	}

	record := &models.PaymentRecord{
		TransactionID: result.TransactionID,
		OrderID:       orderID,
		UserID:        input.UserID,
		Email:         input.Email,
		Method:        method,
		Status:        constants.PaymentStatusPending,
		Amount:        models.NewMoney(price),
		Currency:      currency,
		Plan:          plan,
		BillingCycle:  cycle,
		Metadata:      models.JSONMap{"interaction": string(result.Interaction)},
	}
	if err := s.paymentRepo.UpsertByTransactionID(record); err != nil {
		logger.Errorw("payment_pending_record_failed",
			"order_id", orderID,
			"transaction_id", result.TransactionID,
			"error", err.Error(),
		)
		return nil, err
	}

	s.schedulePolls(result.TransactionID, method)

	logger.Infow("payment_created",
		"method", method,
		"order_id", orderID,
		"transaction_id", result.TransactionID,
		"user_id", input.UserID,
		"plan", plan,
		"cycle", cycle,
		"amount", price.String(),
		"currency", currency,
	)

	return &CreatePaymentResult{
		OrderID:       orderID,
		TransactionID: result.TransactionID,
		Method:        method,
		Interaction:   string(result.Interaction),
		PayURL:        result.PayURL,
		Amount:        price.String(),
		Currency:      currency,
		ExpiresAt:     result.ExpiresAt,
	}, nil
}

// QueryByOrderID 查流水；未终态时向提供方确认一次并回写。
func (s *PaymentService) QueryByOrderID(ctx context.Context, orderID string) (*models.PaymentRecord, error) {
	record, err := s.paymentRepo.GetByOrderID(orderID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrOrderNotFound
	}
	if constants.IsPaymentStatusTerminal(record.Status) {
		return record, nil
	}
	return s.refreshFromProvider(ctx, record), nil
}

// RefreshByTransactionID 队列轮询入口：按交易号向提供方对一次账。
func (s *PaymentService) RefreshByTransactionID(ctx context.Context, transactionID string) (*models.PaymentRecord, error) {
	record, err := s.paymentRepo.GetByTransactionID(transactionID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrOrderNotFound
	}
	if constants.IsPaymentStatusTerminal(record.Status) {
		return record, nil
	}
	return s.refreshFromProvider(ctx, record), nil
}

// refreshFromProvider 主动查询只推进 pending/approved 的流水状态，
// 授予权益仍以回调管线为准：查询路径不发权益、不写 granted_at，
// 回调到达时按 granted_at 为空补授。
func (s *PaymentService) refreshFromProvider(ctx context.Context, record *models.PaymentRecord) *models.PaymentRecord {
	adapter, ok := s.adapters[record.Method]
	if !ok {
		return record
	}
	result, err := adapter.QueryOrder(ctx, record.TransactionID)
	if err != nil {
		if !errors.Is(err, payment.ErrNotFound) {
			logger.Warnw("payment_query_provider_failed",
				"method", record.Method,
				"transaction_id", record.TransactionID,
				"error", err.Error(),
			)
		}
		return record
	}
	if result.Status == "" || result.Status == record.Status {
		return record
	}

	update := &models.PaymentRecord{
		TransactionID: record.TransactionID,
		OrderID:       record.OrderID,
		UserID:        record.UserID,
		Email:         record.Email,
		Method:        record.Method,
		Status:        result.Status,
		Amount:        record.Amount,
		Currency:      record.Currency,
		Plan:          record.Plan,
		BillingCycle:  record.BillingCycle,
	}
	if result.Status == constants.PaymentStatusCompleted {
		completedAt := time.Now()
		if result.PaidAt != nil {
			completedAt = *result.PaidAt
		}
		update.CompletedAt = &completedAt
	}
	if err := s.paymentRepo.UpsertByTransactionID(update); err != nil {
		logger.Errorw("payment_query_upsert_failed",
			"transaction_id", record.TransactionID,
			"error", err.Error(),
		)
		return record
	}
	logger.Infow("payment_status_refreshed",
		"method", record.Method,
		"transaction_id", record.TransactionID,
		"from", record.Status,
		"to", result.Status,
	)
	record.Status = update.Status
	record.CompletedAt = update.CompletedAt
	return record
}

// Cancel 取消未完成订单：先尽力关提供方侧的单，再落本地流水。
// 提供方关单失败不阻塞本地取消，回调幂等兜底。
func (s *PaymentService) Cancel(ctx context.Context, orderID string) error {
	record, err := s.paymentRepo.GetByOrderID(orderID)
	if err != nil {
		return err
	}
	if record == nil {
		return ErrOrderNotFound
	}
	if record.Status == constants.PaymentStatusCancelled {
		return nil
	}
	if constants.IsPaymentStatusTerminal(record.Status) {
		return fmt.Errorf("%w: status %s", ErrOrderNotRefundable, record.Status)
	}
	if adapter, ok := s.adapters[record.Method]; ok {
		if err := adapter.CancelOrder(ctx, record.TransactionID); err != nil {
			logger.Warnw("payment_provider_close_failed",
				"method", record.Method,
				"order_id", orderID,
				"transaction_id", record.TransactionID,
				"error", err.Error(),
			)
		}
	}
	record.Status = constants.PaymentStatusCancelled
	if err := s.paymentRepo.Update(record); err != nil {
		return err
	}
	logger.Infow("payment_cancelled",
		"order_id", orderID,
		"transaction_id", record.TransactionID,
	)
	return nil
}

// Refund 管理端退款。退款成功只改流水，不回收订阅时长。
func (s *PaymentService) Refund(ctx context.Context, transactionID, reason string) (*payment.RefundResult, error) {
	record, err := s.paymentRepo.GetByTransactionID(transactionID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrOrderNotFound
	}
	if !record.IsCompleted() {
		return nil, fmt.Errorf("%w: status %s", ErrOrderNotRefundable, record.Status)
	}
	adapter, ok := s.adapters[record.Method]
	if !ok {
		return nil, fmt.Errorf("%w: adapter for %s not configured", payment.ErrConfiguration, record.Method)
	}

	result, err := adapter.Refund(ctx, payment.RefundInput{
		TransactionID: record.TransactionID,
		ProviderRef:   record.ProviderRef,
		AmountValue:   record.Amount.Decimal.String(),
		Currency:      record.Currency,
		Reason:        reason,
	})
	if err != nil {
		logger.Errorw("payment_refund_failed",
			"method", record.Method,
			"transaction_id", transactionID,
			"error", err.Error(),
		)
		return nil, err
	}

	record.Status = constants.PaymentStatusRefunded
	if err := s.paymentRepo.Update(record); err != nil {
		logger.Errorw("payment_refund_record_failed",
			"transaction_id", transactionID,
			"error", err.Error(),
		)
		return result, err
	}
	logger.Infow("payment_refunded",
		"method", record.Method,
		"transaction_id", transactionID,
		"refund_id", result.RefundID,
	)
	return result, nil
}

// schedulePolls 回调可能丢，按梯度安排几次主动查询兜底。
func (s *PaymentService) schedulePolls(transactionID, method string) {
	if s.queueClient == nil || !s.queueClient.Enabled() {
		return
	}
	for _, delay := range pollDelays {
		payload := queue.PaymentPollPayload{TransactionID: transactionID, Method: method}
		if err := s.queueClient.EnqueuePaymentPoll(payload, delay); err != nil {
			logger.Warnw("payment_poll_enqueue_failed",
				"transaction_id", transactionID,
				"delay", delay.String(),
				"error", err.Error(),
			)
			return
		}
	}
}

func (s *PaymentService) methodAllowed(method string) bool {
	for _, m := range constants.MethodsForRegion(s.cfg.Region.Name) {
		if m == method {
			return true
		}
	}
	return false
}

func (s *PaymentService) currency() string {
	if s.cfg.Region.DefaultCurrency != "" {
		return s.cfg.Region.DefaultCurrency
	}
	return constants.DefaultCurrencyForRegion(s.cfg.Region.Name)
}

// newOrderID 业务单号：微信/支付宝把它当 out_trade_no，长度与字符集都受限。
func newOrderID() string {
	return "LP" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
