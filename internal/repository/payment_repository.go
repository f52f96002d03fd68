package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/lumina-pay/internal/constants"
	"github.com/lumina-pay/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PaymentRepository 支付流水数据访问接口
type PaymentRepository interface {
	UpsertByTransactionID(record *models.PaymentRecord) error
	Update(record *models.PaymentRecord) error
	MarkGranted(transactionID string, grantedAt time.Time) error
	GetByTransactionID(transactionID string) (*models.PaymentRecord, error)
	GetByOrderID(orderID string) (*models.PaymentRecord, error)
	GetByProviderRef(providerRef string) (*models.PaymentRecord, error)
	GetByID(id uint) (*models.PaymentRecord, error)
	List(filter PaymentListFilter) ([]models.PaymentRecord, int64, error)
	Stats() (*PaymentStats, error)
	WithTx(tx *gorm.DB) *GormPaymentRepository
}

// revenueWindowDays 营收统计只看最近一个结算窗口
const revenueWindowDays = 30

// PaymentStats 支付流水聚合统计
type PaymentStats struct {
	TotalCount     int64                      `json:"total_count"`
	CompletedCount int64                      `json:"completed_count"`
	RefundedCount  int64                      `json:"refunded_count"`
	Revenue        map[string]decimal.Decimal `json:"revenue"` // 近 30 天完成收款按币种汇总
	CountByMethod  map[string]int64           `json:"count_by_method"`
	CountByStatus  map[string]int64           `json:"count_by_status"`
}

// GormPaymentRepository GORM 实现
type GormPaymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository 创建支付流水仓库
func NewPaymentRepository(db *gorm.DB) *GormPaymentRepository {
	return &GormPaymentRepository{db: db}
}

// WithTx 绑定事务
func (r *GormPaymentRepository) WithTx(tx *gorm.DB) *GormPaymentRepository {
	if tx == nil {
		return r
	}
	return &GormPaymentRepository{db: tx}
}

// UpsertByTransactionID 按 transaction_id 幂等落库。
// 冲突时保留 created_at；已知 user_id 不被空值覆盖；
// refunded 是最终态，任何后续状态都改不动；已完成的记录只能被退款改写；
// completed_at / granted_at 只写一次。
func (r *GormPaymentRepository) UpsertByTransactionID(record *models.PaymentRecord) error {
	if record == nil || strings.TrimSpace(record.TransactionID) == "" {
		return errors.New("transaction_id is required")
	}
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "transaction_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"status": gorm.Expr(
				"CASE WHEN status = ? THEN status"+
					" WHEN status = ? AND excluded.status NOT IN (?, ?) THEN status"+
					" ELSE excluded.status END",
				constants.PaymentStatusRefunded,
				constants.PaymentStatusCompleted,
				constants.PaymentStatusCompleted,
				constants.PaymentStatusRefunded,
			),
			"user_id":       gorm.Expr("CASE WHEN user_id <> '' THEN user_id ELSE excluded.user_id END"),
			"email":         gorm.Expr("CASE WHEN excluded.email <> '' THEN excluded.email ELSE email END"),
			"order_id":      gorm.Expr("CASE WHEN excluded.order_id <> '' THEN excluded.order_id ELSE order_id END"),
			"provider_ref":  gorm.Expr("CASE WHEN excluded.provider_ref <> '' THEN excluded.provider_ref ELSE provider_ref END"),
			"amount":        gorm.Expr("excluded.amount"),
			"currency":      gorm.Expr("CASE WHEN excluded.currency <> '' THEN excluded.currency ELSE currency END"),
			"plan":          gorm.Expr("CASE WHEN excluded.plan <> '' THEN excluded.plan ELSE plan END"),
			"billing_cycle": gorm.Expr("CASE WHEN excluded.billing_cycle <> '' THEN excluded.billing_cycle ELSE billing_cycle END"),
			"metadata":      gorm.Expr("excluded.metadata"),
			"completed_at":  gorm.Expr("COALESCE(completed_at, excluded.completed_at)"),
			"granted_at":    gorm.Expr("COALESCE(granted_at, excluded.granted_at)"),
			"updated_at":    gorm.Expr("excluded.updated_at"),
		}),
	}).Create(record).Error
}

// Update 更新支付流水
func (r *GormPaymentRepository) Update(record *models.PaymentRecord) error {
	return r.db.Save(record).Error
}

// MarkGranted 记录该笔交易的订阅权益已发放，只写一次。
func (r *GormPaymentRepository) MarkGranted(transactionID string, grantedAt time.Time) error {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return errors.New("transaction_id is required")
	}
	return r.db.Model(&models.PaymentRecord{}).
		Where("transaction_id = ? AND granted_at IS NULL", transactionID).
		Updates(map[string]interface{}{"granted_at": grantedAt, "updated_at": grantedAt}).Error
}

// GetByTransactionID 按提供方交易号查询
func (r *GormPaymentRepository) GetByTransactionID(transactionID string) (*models.PaymentRecord, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, nil
	}
	var record models.PaymentRecord
	result := r.db.Where("transaction_id = ?", transactionID).Limit(1).Find(&record)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &record, nil
}

// GetByOrderID 按业务单号查询最新一条
func (r *GormPaymentRepository) GetByOrderID(orderID string) (*models.PaymentRecord, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, nil
	}
	var record models.PaymentRecord
	result := r.db.Where("order_id = ?", orderID).Order("id desc").Limit(1).Find(&record)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &record, nil
}

// GetByProviderRef 按提供方二级引用查询最新一条
func (r *GormPaymentRepository) GetByProviderRef(providerRef string) (*models.PaymentRecord, error) {
	providerRef = strings.TrimSpace(providerRef)
	if providerRef == "" {
		return nil, nil
	}
	var record models.PaymentRecord
	result := r.db.Where("provider_ref = ?", providerRef).Order("id desc").Limit(1).Find(&record)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &record, nil
}

// GetByID 按主键查询
func (r *GormPaymentRepository) GetByID(id uint) (*models.PaymentRecord, error) {
	var record models.PaymentRecord
	if err := r.db.First(&record, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// List 管理端支付流水列表
func (r *GormPaymentRepository) List(filter PaymentListFilter) ([]models.PaymentRecord, int64, error) {
	query := r.db.Model(&models.PaymentRecord{})

	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Method != "" {
		query = query.Where("method = ?", filter.Method)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Plan != "" {
		query = query.Where("plan = ?", filter.Plan)
	}
	if filter.TransactionID != "" {
		query = query.Where("transaction_id = ?", filter.TransactionID)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		condition, argCount := buildSearchCondition(r.db, []string{
			"email",
			"order_id",
			"transaction_id",
			jsonTextExpr(r.db, "metadata", "provider_event"),
		})
		if condition != "" {
			query = query.Where(condition, repeatLikeArgs("%"+search+"%", argCount)...)
		}
	}
	if filter.CreatedFrom != nil {
		query = query.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		query = query.Where("created_at <= ?", *filter.CreatedTo)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = applyPagination(query, filter.Page, filter.PageSize)

	var records []models.PaymentRecord
	if err := query.Order("id desc").Find(&records).Error; err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// Stats 汇总统计
func (r *GormPaymentRepository) Stats() (*PaymentStats, error) {
	stats := &PaymentStats{
		Revenue:       map[string]decimal.Decimal{},
		CountByMethod: map[string]int64{},
		CountByStatus: map[string]int64{},
	}
	if err := r.db.Model(&models.PaymentRecord{}).Count(&stats.TotalCount).Error; err != nil {
		return nil, err
	}

	type statusRow struct {
		Status string
		Count  int64
	}
	var statusRows []statusRow
	if err := r.db.Model(&models.PaymentRecord{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&statusRows).Error; err != nil {
		return nil, err
	}
	for _, row := range statusRows {
		stats.CountByStatus[row.Status] = row.Count
		switch row.Status {
		case constants.PaymentStatusCompleted:
			stats.CompletedCount = row.Count
		case constants.PaymentStatusRefunded:
			stats.RefundedCount = row.Count
		}
	}

	type methodRow struct {
		Method string
		Count  int64
	}
	var methodRows []methodRow
	if err := r.db.Model(&models.PaymentRecord{}).
		Select("method, COUNT(*) as count").
		Group("method").
		Scan(&methodRows).Error; err != nil {
		return nil, err
	}
	for _, row := range methodRows {
		stats.CountByMethod[row.Method] = row.Count
	}

	type revenueRow struct {
		Currency string
		Total    string
	}
	var revenueRows []revenueRow
	revenueSince := time.Now().AddDate(0, 0, -revenueWindowDays)
	if err := r.db.Model(&models.PaymentRecord{}).
		Select("currency, SUM(CAST(amount AS DECIMAL(14,2))) as total").
		Where("status = ? AND completed_at >= ?", constants.PaymentStatusCompleted, revenueSince).
		Group("currency").
		Scan(&revenueRows).Error; err != nil {
		return nil, err
	}
	for _, row := range revenueRows {
		total, err := decimal.NewFromString(strings.TrimSpace(row.Total))
		if err != nil {
			continue
		}
		stats.Revenue[row.Currency] = total.Round(2)
	}
	return stats, nil
}
