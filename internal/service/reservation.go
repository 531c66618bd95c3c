package service

import (
	"context"
	"errors"
	"fmt"

	"debitledger/internal/model"
	"debitledger/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// FundingSource 客户余额或礼品卡，二者必须且只能有一个
type FundingSource struct {
	CustomerID  *int64
	GiftCardKey string
}

func CustomerFunds(customerID int64) FundingSource {
	return FundingSource{CustomerID: &customerID}
}

func GiftCardFunds(key string) FundingSource {
	return FundingSource{GiftCardKey: key}
}

type ReserveRequest struct {
	MerchantScopeID int64
	Amount          decimal.Decimal
	Source          FundingSource
	RequestedBy     string
}

// ReservationManager 创建 RESERVED 支付，只做记账上的软占用，不锁定具体存款
type ReservationManager struct {
	unitOfWork
	repos
	balances    *BalanceCalculator
	movementLog *MovementLog
	locker      Locker
	logger      *zap.Logger
	clock       Clock
}

func (m *ReservationManager) Reserve(ctx context.Context, req ReserveRequest) (*model.Payment, error) {
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}

	hasCustomer := req.Source.CustomerID != nil
	hasCard := req.Source.GiftCardKey != ""
	if hasCustomer == hasCard {
		return nil, newError(CodeInvalidFundingSource, "exactly one of customer or gift card key is required", nil)
	}

	var (
		payment *model.Payment
		err     error
	)
	if hasCustomer {
		payment, err = m.reserveFromCustomer(ctx, req, *req.Source.CustomerID)
	} else {
		payment, err = m.reserveFromGiftCard(ctx, req, req.Source.GiftCardKey)
	}
	if err != nil {
		return nil, err
	}

	m.logger.Info("资金已预留",
		zap.String("payment_id", payment.ID),
		zap.Int64("scope_id", payment.MerchantScopeID),
		zap.String("amount", payment.Amount.String()),
		zap.Bool("gift_card", payment.FundedByGiftCard()),
		zap.String("created_by", payment.CreatedBy))
	return payment, nil
}

// reserveFromCustomer Redis 锁挡住同一 (客户, 范围) 的并发请求，客户行锁兜底
func (m *ReservationManager) reserveFromCustomer(ctx context.Context, req ReserveRequest, customerID int64) (*model.Payment, error) {
	release, err := m.locker.Acquire(ctx, reservationLockKey(customerID, req.MerchantScopeID))
	if err != nil {
		return nil, &LedgerError{Code: CodeTransientStorage, Message: "reservation lock busy", Err: err}
	}
	defer release()

	var payment *model.Payment
	err = m.run(ctx, "reserve payment", func(tx *gorm.DB) error {
		// 行锁必须是事务里的第一个读：REPEATABLE READ 下首个普通读就确定了快照，
		// 先读别的表会让后面的余额计算看到加锁之前的数据
		if _, err := m.lockCustomer(ctx, tx, customerID); err != nil {
			return err
		}
		scope, err := m.scope(ctx, tx, req.MerchantScopeID)
		if err != nil {
			return err
		}

		now := m.clock()
		balance, err := m.balances.compute(ctx, tx, customerID, &req.MerchantScopeID, now)
		if err != nil {
			return err
		}
		if req.Amount.GreaterThan(balance.Total) {
			return newError(CodeInsufficientFunds, "", fields{
				"customer_id":       customerID,
				"merchant_scope_id": req.MerchantScopeID,
				"amount":            req.Amount,
				"available":         balance.Total,
			})
		}

		payment = &model.Payment{
			ID:              uuid.NewString(),
			MerchantScopeID: req.MerchantScopeID,
			CustomerID:      &customerID,
			Amount:          req.Amount,
			AmountConfirmed: decimal.Zero,
			Status:          model.PaymentStatusReserved,
			CreatedBy:       req.RequestedBy,
			CreatedAt:       now,
		}
		if err := m.payments.Create(ctx, tx, payment); err != nil {
			return err
		}

		return m.movementLog.Append(ctx, tx, &model.Movement{
			Type:            model.MovementTypeFundsReserved,
			Amount:          req.Amount,
			Description:     fmt.Sprintf("funds reserved in %s", scope.Name),
			CustomerID:      customerID,
			MerchantScopeID: req.MerchantScopeID,
			PaymentID:       &payment.ID,
			CreatedAt:       now,
		})
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// reserveFromGiftCard 卡行加锁，同一张卡同一时刻只会有一笔未结束的支付
func (m *ReservationManager) reserveFromGiftCard(ctx context.Context, req ReserveRequest, key string) (*model.Payment, error) {
	var payment *model.Payment
	err := m.run(ctx, "reserve payment", func(tx *gorm.DB) error {
		// 同上，先锁卡再读，占用检查才能看到已提交的预留
		card, err := m.giftCards.GetByKeyForUpdate(ctx, tx, key)
		if errors.Is(err, repository.ErrGiftCardNotFound) {
			return newError(CodeCardNotFound, "", fields{"card_key": maskKey(key)})
		}
		if err != nil {
			return err
		}

		scope, err := m.scope(ctx, tx, req.MerchantScopeID)
		if err != nil {
			return err
		}

		now := m.clock()
		if err := checkCardUsable(card, key, req.MerchantScopeID, now); err != nil {
			return err
		}

		inUse, err := m.payments.HasOpenForGiftCard(ctx, tx, card.ID)
		if err != nil {
			return err
		}
		if inUse {
			return newError(CodeCardInUse, "", fields{"card_key": maskKey(key), "gift_card_id": card.ID})
		}

		if req.Amount.GreaterThan(card.Amount) {
			return newError(CodeInsufficientFunds, "", fields{
				"gift_card_id":      card.ID,
				"merchant_scope_id": req.MerchantScopeID,
				"amount":            req.Amount,
				"available":         card.Amount,
			})
		}

		payment = &model.Payment{
			ID:              uuid.NewString(),
			MerchantScopeID: req.MerchantScopeID,
			GiftCardID:      &card.ID,
			Amount:          req.Amount,
			AmountConfirmed: decimal.Zero,
			Status:          model.PaymentStatusReserved,
			CreatedBy:       req.RequestedBy,
			CreatedAt:       now,
		}
		if err := m.payments.Create(ctx, tx, payment); err != nil {
			return err
		}

		return m.movementLog.Append(ctx, tx, &model.Movement{
			Type:            model.MovementTypeFundsReserved,
			Amount:          req.Amount,
			Description:     fmt.Sprintf("funds reserved by gift card in %s", scope.Name),
			CustomerID:      card.CustomerID,
			MerchantScopeID: req.MerchantScopeID,
			GiftCardID:      &card.ID,
			PaymentID:       &payment.ID,
			CreatedAt:       now,
		})
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}
