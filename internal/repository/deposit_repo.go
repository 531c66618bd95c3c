package repository

import (
	"context"
	"errors"

	"debitledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrDepositNotFound = errors.New("存款不存在")
	ErrDepositChanged  = errors.New("存款已被并发修改")
)

type DepositRepository struct {
	db *gorm.DB
}

func NewDepositRepository(db *gorm.DB) *DepositRepository {
	return &DepositRepository{db: db}
}

func (r *DepositRepository) Create(ctx context.Context, tx *gorm.DB, deposit *model.Deposit) error {
	return conn(r.db, tx).WithContext(ctx).Create(deposit).Error
}

func (r *DepositRepository) GetByIDAndCustomer(ctx context.Context, id, customerID int64) (*model.Deposit, error) {
	var deposit model.Deposit
	err := r.db.WithContext(ctx).Where("id = ? AND customer_id = ?", id, customerID).First(&deposit).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDepositNotFound
		}
		return nil, err
	}
	return &deposit, nil
}

func (r *DepositRepository) ListByCustomer(ctx context.Context, customerID int64, page, pageSize int) ([]*model.Deposit, int64, error) {
	var deposits []*model.Deposit
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Deposit{}).Where("customer_id = ?", customerID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC, id DESC").
		Offset(pageOffset(page, pageSize)).
		Limit(pageSize).
		Find(&deposits).Error

	return deposits, total, err
}

// ListAvailableForUpdate 按 FIFO 顺序锁住客户在该范围内仍有余额的存款
func (r *DepositRepository) ListAvailableForUpdate(ctx context.Context, tx *gorm.DB, customerID, scopeID int64) ([]*model.Deposit, error) {
	var deposits []*model.Deposit
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("customer_id = ? AND merchant_scope_id = ? AND active = ? AND amount > amount_used",
			customerID, scopeID, true).
		Order("created_at ASC, id ASC").
		Find(&deposits).Error
	return deposits, err
}

// Consume 条件更新 amount_used，期望值不符或会超过 amount 时返回 ErrDepositChanged
func (r *DepositRepository) Consume(ctx context.Context, tx *gorm.DB, id int64, usedBefore, usedAfter decimal.Decimal) error {
	result := tx.WithContext(ctx).
		Model(&model.Deposit{}).
		Where("id = ? AND amount_used = ? AND amount >= ?", id, usedBefore, usedAfter).
		Update("amount_used", usedAfter)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrDepositChanged
	}
	return nil
}

// SumRemaining 有效存款的剩余金额之和，scopeID 为空时跨所有范围
func (r *DepositRepository) SumRemaining(ctx context.Context, tx *gorm.DB, customerID int64, scopeID *int64) (decimal.Decimal, error) {
	query := conn(r.db, tx).WithContext(ctx).Model(&model.Deposit{}).
		Where("customer_id = ? AND active = ?", customerID, true)
	if scopeID != nil {
		query = query.Where("merchant_scope_id = ?", *scopeID)
	}
	return sumOf(query, "amount - amount_used")
}

// SumRemainingAll 对账用，不区分 active
func (r *DepositRepository) SumRemainingAll(ctx context.Context, tx *gorm.DB, customerID int64, scopeID *int64) (decimal.Decimal, error) {
	query := conn(r.db, tx).WithContext(ctx).Model(&model.Deposit{}).Where("customer_id = ?", customerID)
	if scopeID != nil {
		query = query.Where("merchant_scope_id = ?", *scopeID)
	}
	return sumOf(query, "amount - amount_used")
}

// ScopeIDsByCustomer 客户持有存款的全部商户范围
func (r *DepositRepository) ScopeIDsByCustomer(ctx context.Context, tx *gorm.DB, customerID int64) ([]int64, error) {
	var ids []int64
	err := conn(r.db, tx).WithContext(ctx).
		Model(&model.Deposit{}).
		Where("customer_id = ?", customerID).
		Distinct().
		Order("merchant_scope_id ASC").
		Pluck("merchant_scope_id", &ids).Error
	return ids, err
}
