package repository

import (
	"context"
	"errors"
	"time"

	"debitledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrGiftCardNotFound = errors.New("礼品卡不存在")
	ErrGiftCardRedeemed = errors.New("礼品卡已兑换")
)

type GiftCardRepository struct {
	db *gorm.DB
}

func NewGiftCardRepository(db *gorm.DB) *GiftCardRepository {
	return &GiftCardRepository{db: db}
}

func (r *GiftCardRepository) Create(ctx context.Context, tx *gorm.DB, card *model.GiftCard) error {
	return conn(r.db, tx).WithContext(ctx).Create(card).Error
}

func (r *GiftCardRepository) KeyExists(ctx context.Context, tx *gorm.DB, key string) (bool, error) {
	var count int64
	err := conn(r.db, tx).WithContext(ctx).Model(&model.GiftCard{}).Where("card_key = ?", key).Count(&count).Error
	return count > 0, err
}

func (r *GiftCardRepository) GetByKey(ctx context.Context, key string) (*model.GiftCard, error) {
	var card model.GiftCard
	err := r.db.WithContext(ctx).Where("card_key = ?", key).First(&card).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGiftCardNotFound
		}
		return nil, err
	}
	return &card, nil
}

// GetByKeyForUpdate 锁住卡行，同一张卡的预留互斥
func (r *GiftCardRepository) GetByKeyForUpdate(ctx context.Context, tx *gorm.DB, key string) (*model.GiftCard, error) {
	var card model.GiftCard
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("card_key = ?", key).
		First(&card).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGiftCardNotFound
		}
		return nil, err
	}
	return &card, nil
}

func (r *GiftCardRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.GiftCard, error) {
	var card model.GiftCard
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&card).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGiftCardNotFound
		}
		return nil, err
	}
	return &card, nil
}

func (r *GiftCardRepository) GetByIDAndCustomer(ctx context.Context, id, customerID int64) (*model.GiftCard, error) {
	var card model.GiftCard
	err := r.db.WithContext(ctx).Where("id = ? AND customer_id = ?", id, customerID).First(&card).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGiftCardNotFound
		}
		return nil, err
	}
	return &card, nil
}

func (r *GiftCardRepository) ListByCustomer(ctx context.Context, customerID int64, page, pageSize int) ([]*model.GiftCard, int64, error) {
	var cards []*model.GiftCard
	var total int64

	query := r.db.WithContext(ctx).Model(&model.GiftCard{}).Where("customer_id = ?", customerID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC, id DESC").
		Offset(pageOffset(page, pageSize)).
		Limit(pageSize).
		Find(&cards).Error

	return cards, total, err
}

// Redeem 一张卡只能兑换一次
func (r *GiftCardRepository) Redeem(ctx context.Context, tx *gorm.DB, id int64, amountUsed decimal.Decimal) error {
	result := tx.WithContext(ctx).
		Model(&model.GiftCard{}).
		Where("id = ? AND redeemed = ?", id, false).
		Updates(map[string]interface{}{
			"amount_used": amountUsed,
			"redeemed":    true,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrGiftCardRedeemed
	}
	return nil
}

// SumCommitted 未兑换且 expiration_at >= asOf 的卡面额之和
func (r *GiftCardRepository) SumCommitted(ctx context.Context, tx *gorm.DB, customerID int64, scopeID *int64, asOf time.Time) (decimal.Decimal, error) {
	query := conn(r.db, tx).WithContext(ctx).Model(&model.GiftCard{}).
		Where("customer_id = ? AND redeemed = ? AND expiration_at >= ?", customerID, false, asOf)
	if scopeID != nil {
		query = query.Where("merchant_scope_id = ?", *scopeID)
	}
	return sumOf(query, "amount")
}

// SumOutstanding 对账用，只看是否兑换，不看过期
func (r *GiftCardRepository) SumOutstanding(ctx context.Context, tx *gorm.DB, customerID int64, scopeID *int64) (decimal.Decimal, error) {
	query := conn(r.db, tx).WithContext(ctx).Model(&model.GiftCard{}).
		Where("customer_id = ? AND redeemed = ?", customerID, false)
	if scopeID != nil {
		query = query.Where("merchant_scope_id = ?", *scopeID)
	}
	return sumOf(query, "amount")
}
