package repository

import (
	"strings"
	"time"

	"github.com/lumina-pay/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProfileRepository 订阅镜像数据访问接口
type ProfileRepository interface {
	Upsert(mirror *models.ProfileMirror) error
	GetByUserID(userID string) (*models.ProfileMirror, error)
	WithTx(tx *gorm.DB) *GormProfileRepository
}

// GormProfileRepository GORM 实现
type GormProfileRepository struct {
	db *gorm.DB
}

// NewProfileRepository 创建镜像仓库
func NewProfileRepository(db *gorm.DB) *GormProfileRepository {
	return &GormProfileRepository{db: db}
}

// WithTx 绑定事务
func (r *GormProfileRepository) WithTx(tx *gorm.DB) *GormProfileRepository {
	if tx == nil {
		return r
	}
	return &GormProfileRepository{db: tx}
}

// Upsert 按 user_id 覆盖镜像，镜像以最新同步为准。
func (r *GormProfileRepository) Upsert(mirror *models.ProfileMirror) error {
	if mirror.SyncedAt.IsZero() {
		mirror.SyncedAt = time.Now()
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"plan", "ends_at", "synced_at", "updated_at"}),
	}).Create(mirror).Error
}

// GetByUserID 按用户查镜像
func (r *GormProfileRepository) GetByUserID(userID string) (*models.ProfileMirror, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil
	}
	var mirror models.ProfileMirror
	result := r.db.Where("user_id = ?", userID).Limit(1).Find(&mirror)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &mirror, nil
}
