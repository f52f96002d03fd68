package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/lumina-pay/internal/constants"
	"github.com/lumina-pay/internal/models"

	"gorm.io/gorm"
)

// ErrVersionConflict 乐观锁版本冲突，调用方应重读后重试。
var ErrVersionConflict = errors.New("subscription version conflict")

// SubscriptionRepository 订阅权威状态数据访问接口
type SubscriptionRepository interface {
	GetByUserID(userID string) (*models.SubscriptionState, error)
	Create(state *models.SubscriptionState) error
	UpdateWithVersion(state *models.SubscriptionState) error
	ListExpiringBefore(deadline time.Time, limit int) ([]models.SubscriptionState, error)
	WithTx(tx *gorm.DB) *GormSubscriptionRepository
}

// GormSubscriptionRepository GORM 实现
type GormSubscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository 创建订阅仓库
func NewSubscriptionRepository(db *gorm.DB) *GormSubscriptionRepository {
	return &GormSubscriptionRepository{db: db}
}

// WithTx 绑定事务
func (r *GormSubscriptionRepository) WithTx(tx *gorm.DB) *GormSubscriptionRepository {
	if tx == nil {
		return r
	}
	return &GormSubscriptionRepository{db: tx}
}

// GetByUserID 按用户查询订阅状态
func (r *GormSubscriptionRepository) GetByUserID(userID string) (*models.SubscriptionState, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil
	}
	var state models.SubscriptionState
	result := r.db.Where("user_id = ?", userID).Limit(1).Find(&state)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &state, nil
}

// Create 创建订阅状态，user_id 唯一索引冲突时由调用方走更新路径。
func (r *GormSubscriptionRepository) Create(state *models.SubscriptionState) error {
	return r.db.Create(state).Error
}

// UpdateWithVersion 乐观锁更新：只有版本号匹配才生效，
// 并发回调下叠加算术不丢更新。
func (r *GormSubscriptionRepository) UpdateWithVersion(state *models.SubscriptionState) error {
	currentVersion := state.Version
	state.Version = currentVersion + 1
	result := r.db.Model(&models.SubscriptionState{}).
		Where("id = ? AND version = ?", state.ID, currentVersion).
		Updates(map[string]interface{}{
			"plan":                state.Plan,
			"billing_cycle":       state.BillingCycle,
			"status":              state.Status,
			"ends_at":             state.EndsAt,
			"last_transaction_id": state.LastTransactionID,
			"version":             state.Version,
			"updated_at":          state.UpdatedAt,
		})
	if result.Error != nil {
		state.Version = currentVersion
		return result.Error
	}
	if result.RowsAffected == 0 {
		state.Version = currentVersion
		return ErrVersionConflict
	}
	return nil
}

// ListExpiringBefore 查询在 deadline 前到期且仍标记活跃的订阅。
func (r *GormSubscriptionRepository) ListExpiringBefore(deadline time.Time, limit int) ([]models.SubscriptionState, error) {
	if limit <= 0 {
		limit = 100
	}
	var states []models.SubscriptionState
	if err := r.db.Where("status = ? AND ends_at IS NOT NULL AND ends_at <= ?", constants.SubscriptionStatusActive, deadline).
		Order("ends_at asc").Limit(limit).Find(&states).Error; err != nil {
		return nil, err
	}
	return states, nil
}
