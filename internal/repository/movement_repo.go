package repository

import (
	"context"
	"time"

	"debitledger/internal/model"

	"gorm.io/gorm"
)

type MovementRepository struct {
	db *gorm.DB
}

func NewMovementRepository(db *gorm.DB) *MovementRepository {
	return &MovementRepository{db: db}
}

func (r *MovementRepository) Create(ctx context.Context, tx *gorm.DB, movement *model.Movement) error {
	return conn(r.db, tx).WithContext(ctx).Create(movement).Error
}

// ListByCustomer 时间区间 [from, to)，新的在前
func (r *MovementRepository) ListByCustomer(ctx context.Context, customerID int64, scopeID *int64, from, to time.Time) ([]*model.Movement, error) {
	var movements []*model.Movement
	query := r.db.WithContext(ctx).
		Where("customer_id = ? AND created_at >= ? AND created_at < ?", customerID, from, to)
	if scopeID != nil {
		query = query.Where("merchant_scope_id = ?", *scopeID)
	}
	err := query.Order("created_at DESC, id DESC").Find(&movements).Error
	return movements, err
}

// ListForReplay 按写入顺序返回全部流水
func (r *MovementRepository) ListForReplay(ctx context.Context, tx *gorm.DB, customerID int64, scopeID *int64) ([]*model.Movement, error) {
	var movements []*model.Movement
	query := conn(r.db, tx).WithContext(ctx).Where("customer_id = ?", customerID)
	if scopeID != nil {
		query = query.Where("merchant_scope_id = ?", *scopeID)
	}
	err := query.Order("id ASC").Find(&movements).Error
	return movements, err
}

// CustomersActiveSince 对账任务用，since 之后有流水的客户
func (r *MovementRepository) CustomersActiveSince(ctx context.Context, since time.Time, limit int) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.Movement{}).
		Where("created_at >= ?", since).
		Distinct().
		Order("customer_id ASC").
		Limit(limit).
		Pluck("customer_id", &ids).Error
	return ids, err
}
