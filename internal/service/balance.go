package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// BalanceView total = subtotal - committed_gift_cards - reserved_funds
type BalanceView struct {
	Subtotal           decimal.Decimal `json:"subtotal"`
	CommittedGiftCards decimal.Decimal `json:"committed_gift_cards"`
	ReservedFunds      decimal.Decimal `json:"reserved_funds"`
	Total              decimal.Decimal `json:"total"`
}

// ScopeBalance 单个商户范围下的余额
type ScopeBalance struct {
	MerchantScopeID int64  `json:"merchant_scope_id"`
	ExternalID      string `json:"external_id"`
	Name            string `json:"name"`
	BalanceView
}

// BalanceCalculator 只读聚合，不产生任何写入
//
// RESERVED 支付不会减少存款的 amount_used，只通过 reserved_funds 从可用余额里扣除；
// 礼品卡支付已经以卡面额计入 committed_gift_cards，不再计入 reserved_funds。
type BalanceCalculator struct {
	unitOfWork
	repos
	logger *zap.Logger
	clock  Clock
}

// GetBalance scopeID 为空时汇总客户的全部商户范围，asOf 默认当前时间
func (c *BalanceCalculator) GetBalance(ctx context.Context, customerID int64, scopeID *int64, asOf *time.Time) (*BalanceView, error) {
	at := c.clock()
	if asOf != nil {
		at = asOf.UTC()
	}

	var view *BalanceView
	err := c.run(ctx, "get balance", func(tx *gorm.DB) error {
		if _, err := c.customer(ctx, tx, customerID); err != nil {
			return err
		}
		if scopeID != nil {
			if _, err := c.scope(ctx, tx, *scopeID); err != nil {
				return err
			}
		}

		var err error
		view, err = c.compute(ctx, tx, customerID, scopeID, at)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.checkNegative(customerID, scopeID, view)
	return view, nil
}

// GetBalanceByScope 客户持有存款的每个商户范围各自的余额
func (c *BalanceCalculator) GetBalanceByScope(ctx context.Context, customerID int64, asOf *time.Time) ([]ScopeBalance, error) {
	at := c.clock()
	if asOf != nil {
		at = asOf.UTC()
	}

	var result []ScopeBalance
	err := c.run(ctx, "get balance by scope", func(tx *gorm.DB) error {
		if _, err := c.customer(ctx, tx, customerID); err != nil {
			return err
		}

		scopeIDs, err := c.deposits.ScopeIDsByCustomer(ctx, tx, customerID)
		if err != nil {
			return err
		}
		scopes, err := c.scopes.ListByIDs(ctx, tx, scopeIDs)
		if err != nil {
			return err
		}

		result = make([]ScopeBalance, 0, len(scopes))
		for _, scope := range scopes {
			view, err := c.compute(ctx, tx, customerID, &scope.ID, at)
			if err != nil {
				return err
			}
			c.checkNegative(customerID, &scope.ID, view)
			result = append(result, ScopeBalance{
				MerchantScopeID: scope.ID,
				ExternalID:      scope.ExternalID,
				Name:            scope.Name,
				BalanceView:     *view,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// compute 调用方负责传入当前事务，保证与后续写入读到同一快照
func (c *BalanceCalculator) compute(ctx context.Context, tx *gorm.DB, customerID int64, scopeID *int64, asOf time.Time) (*BalanceView, error) {
	subtotal, err := c.deposits.SumRemaining(ctx, tx, customerID, scopeID)
	if err != nil {
		return nil, storageError("sum deposits", err)
	}
	committed, err := c.giftCards.SumCommitted(ctx, tx, customerID, scopeID, asOf)
	if err != nil {
		return nil, storageError("sum gift cards", err)
	}
	reserved, err := c.payments.SumReserved(ctx, tx, customerID, scopeID)
	if err != nil {
		return nil, storageError("sum reserved payments", err)
	}

	return &BalanceView{
		Subtotal:           subtotal,
		CommittedGiftCards: committed,
		ReservedFunds:      reserved,
		Total:              subtotal.Sub(committed).Sub(reserved),
	}, nil
}

// checkNegative 负余额只可能来自账本不一致，不作为可用余额对外解释
func (c *BalanceCalculator) checkNegative(customerID int64, scopeID *int64, view *BalanceView) {
	if !view.Total.IsNegative() {
		return
	}
	logFields := []zap.Field{
		zap.Int64("customer_id", customerID),
		zap.String("subtotal", view.Subtotal.String()),
		zap.String("committed_gift_cards", view.CommittedGiftCards.String()),
		zap.String("reserved_funds", view.ReservedFunds.String()),
		zap.String("total", view.Total.String()),
	}
	if scopeID != nil {
		logFields = append(logFields, zap.Int64("scope_id", *scopeID))
	}
	c.logger.Error("余额为负，账本不一致", logFields...)
}
