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
	ErrPaymentNotFound      = errors.New("支付不存在")
	ErrPaymentStatusInvalid = errors.New("支付状态不合法")
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, tx *gorm.DB, payment *model.Payment) error {
	return conn(r.db, tx).WithContext(ctx).Create(payment).Error
}

func (r *PaymentRepository) GetByID(ctx context.Context, tx *gorm.DB, id string) (*model.Payment, error) {
	var payment model.Payment
	err := conn(r.db, tx).WithContext(ctx).Where("id = ?", id).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

func (r *PaymentRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id string) (*model.Payment, error) {
	var payment model.Payment
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// HasOpenForGiftCard 卡上是否已有 RESERVED 或 CONFIRMED 的支付
func (r *PaymentRepository) HasOpenForGiftCard(ctx context.Context, tx *gorm.DB, giftCardID int64) (bool, error) {
	var count int64
	err := conn(r.db, tx).WithContext(ctx).
		Model(&model.Payment{}).
		Where("gift_card_id = ? AND status IN ?", giftCardID,
			[]string{model.PaymentStatusReserved, model.PaymentStatusConfirmed}).
		Count(&count).Error
	return count > 0, err
}

// UpdateStatus 带旧状态条件的状态迁移，extra 为同时写入的其它列
func (r *PaymentRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id string, fromStatus, toStatus string, extra map[string]interface{}) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrPaymentStatusInvalid
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	for k, v := range extra {
		updates[k] = v
	}

	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.Payment{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPaymentStatusInvalid
	}
	return nil
}

// SumReserved 客户直接出资且仍为 RESERVED 的支付之和，礼品卡支付已体现在卡面额里
func (r *PaymentRepository) SumReserved(ctx context.Context, tx *gorm.DB, customerID int64, scopeID *int64) (decimal.Decimal, error) {
	query := conn(r.db, tx).WithContext(ctx).Model(&model.Payment{}).
		Where("customer_id = ? AND status = ?", customerID, model.PaymentStatusReserved)
	if scopeID != nil {
		query = query.Where("merchant_scope_id = ?", *scopeID)
	}
	return sumOf(query, "amount")
}

func (r *PaymentRepository) CreateFundsTracks(ctx context.Context, tx *gorm.DB, tracks []*model.PaymentFundsTrack) error {
	if len(tracks) == 0 {
		return nil
	}
	return conn(r.db, tx).WithContext(ctx).Create(&tracks).Error
}

func (r *PaymentRepository) ListFundsTracks(ctx context.Context, tx *gorm.DB, paymentID string) ([]*model.PaymentFundsTrack, error) {
	var tracks []*model.PaymentFundsTrack
	err := conn(r.db, tx).WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("id ASC").
		Find(&tracks).Error
	return tracks, err
}
