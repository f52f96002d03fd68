package repository

import (
	"errors"

	"github.com/lumina-pay/internal/models"

	"gorm.io/gorm"
)

// MirrorTaskRepository 镜像同步任务数据访问接口
type MirrorTaskRepository interface {
	Create(task *models.MirrorSyncTask) error
	GetByID(id uint) (*models.MirrorSyncTask, error)
	MarkDone(id uint) error
	MarkFailed(id uint, lastErr string) error
	RecordAttempt(id uint, lastErr string) error
	List(filter MirrorTaskListFilter) ([]models.MirrorSyncTask, int64, error)
	WithTx(tx *gorm.DB) *GormMirrorTaskRepository
}

// GormMirrorTaskRepository GORM 实现
type GormMirrorTaskRepository struct {
	db *gorm.DB
}

// NewMirrorTaskRepository 创建镜像任务仓库
func NewMirrorTaskRepository(db *gorm.DB) *GormMirrorTaskRepository {
	return &GormMirrorTaskRepository{db: db}
}

// WithTx 绑定事务
func (r *GormMirrorTaskRepository) WithTx(tx *gorm.DB) *GormMirrorTaskRepository {
	if tx == nil {
		return r
	}
	return &GormMirrorTaskRepository{db: tx}
}

// Create 创建待办
func (r *GormMirrorTaskRepository) Create(task *models.MirrorSyncTask) error {
	if task.Status == "" {
		task.Status = models.MirrorSyncPending
	}
	return r.db.Create(task).Error
}

// GetByID 按主键查询
func (r *GormMirrorTaskRepository) GetByID(id uint) (*models.MirrorSyncTask, error) {
	var task models.MirrorSyncTask
	if err := r.db.First(&task, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

// MarkDone 标记完成
func (r *GormMirrorTaskRepository) MarkDone(id uint) error {
	return r.db.Model(&models.MirrorSyncTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":   models.MirrorSyncDone,
			"last_err": "",
		}).Error
}

// MarkFailed 重试用尽后标记失败，供管理端补偿。
func (r *GormMirrorTaskRepository) MarkFailed(id uint, lastErr string) error {
	return r.db.Model(&models.MirrorSyncTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":   models.MirrorSyncFailed,
			"last_err": truncateErr(lastErr),
		}).Error
}

// RecordAttempt 记录一次失败尝试
func (r *GormMirrorTaskRepository) RecordAttempt(id uint, lastErr string) error {
	return r.db.Model(&models.MirrorSyncTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts": gorm.Expr("attempts + 1"),
			"last_err": truncateErr(lastErr),
		}).Error
}

// List 管理端任务列表
func (r *GormMirrorTaskRepository) List(filter MirrorTaskListFilter) ([]models.MirrorSyncTask, int64, error) {
	query := r.db.Model(&models.MirrorSyncTask{})
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query = applyPagination(query, filter.Page, filter.PageSize)

	var tasks []models.MirrorSyncTask
	if err := query.Order("id desc").Find(&tasks).Error; err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

func truncateErr(msg string) string {
	if len(msg) > 512 {
		return msg[:512]
	}
	return msg
}
