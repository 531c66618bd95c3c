package service

import (
	"context"
	"errors"
	"fmt"

	"debitledger/internal/infrastructure/alert"
	"debitledger/internal/model"
	"debitledger/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ConfirmResult Alert 非空表示发生了资金不足，确认依然已提交
type ConfirmResult struct {
	Payment     *model.Payment             `json:"payment"`
	FundsTracks []*model.PaymentFundsTrack `json:"funds_tracks"`
	Shortfall   decimal.Decimal            `json:"shortfall"`
	Alert       *LedgerError               `json:"-"`
}

type PaymentDetail struct {
	Payment     *model.Payment             `json:"payment"`
	FundsTracks []*model.PaymentFundsTrack `json:"funds_tracks"`
}

// PaymentService 支付状态机：RESERVED -> CONFIRMED | CANCELLED
type PaymentService struct {
	unitOfWork
	repos
	allocator   *SettlementAllocator
	movementLog *MovementLog
	alerter     alert.Alerter
	logger      *zap.Logger
	clock       Clock
}

// Confirm 客户出资走 FIFO 结算；礼品卡出资消耗卡主人的存款后兑换该卡
//
// 存款不足以覆盖 amount 时仍然确认已分配的部分，amount_confirmed = amount - shortfall，
// 并通过日志、outbox 和 Sentry 上报 RECONCILIATION_SHORTFALL。
func (s *PaymentService) Confirm(ctx context.Context, paymentID string, amount decimal.Decimal, requestedBy string) (*ConfirmResult, error) {
	var result *ConfirmResult
	err := s.run(ctx, "confirm payment", func(tx *gorm.DB) error {
		payment, err := s.lockPayment(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if payment.Status != model.PaymentStatusReserved {
			return invalidTransition(payment, model.PaymentStatusConfirmed)
		}
		// 状态优先：非 RESERVED 的支付无论金额如何都返回 INVALID_STATE_TRANSITION
		if err := validateAmount(amount); err != nil {
			return err
		}
		if amount.GreaterThan(payment.Amount) {
			return newError(CodeAmountExceedsReserved, "", fields{
				"payment_id": payment.ID,
				"amount":     amount,
				"reserved":   payment.Amount,
			})
		}

		var card *model.GiftCard
		var ownerID int64
		if payment.FundedByGiftCard() {
			if card, err = s.giftCards.GetByIDForUpdate(ctx, tx, *payment.GiftCardID); err != nil {
				return err
			}
			ownerID = card.CustomerID
		} else {
			ownerID = *payment.CustomerID
		}
		if _, err := s.lockCustomer(ctx, tx, ownerID); err != nil {
			return err
		}

		settled, err := s.allocator.Settle(ctx, tx, payment.ID, ownerID, payment.MerchantScopeID, amount)
		if err != nil {
			return err
		}
		confirmed := amount.Sub(settled.Shortfall)

		err = s.payments.UpdateStatus(ctx, tx, payment.ID, model.PaymentStatusReserved, model.PaymentStatusConfirmed,
			map[string]interface{}{
				"amount_confirmed": confirmed,
				"updated_by":       requestedBy,
			})
		if errors.Is(err, repository.ErrPaymentStatusInvalid) {
			return invalidTransition(payment, model.PaymentStatusConfirmed)
		}
		if err != nil {
			return err
		}

		now := s.clock()
		movement := &model.Movement{
			Amount:          confirmed,
			CustomerID:      ownerID,
			MerchantScopeID: payment.MerchantScopeID,
			PaymentID:       &payment.ID,
			CreatedAt:       now,
		}
		if card != nil {
			if err := s.giftCards.Redeem(ctx, tx, card.ID, confirmed); err != nil {
				if errors.Is(err, repository.ErrGiftCardRedeemed) {
					return newError(CodeCardExpiredOrRedeemed, "", fields{"gift_card_id": card.ID})
				}
				return err
			}
			movement.Type = model.MovementTypeGiftCardRedemption
			movement.GiftCardID = &card.ID
			movement.Description = fmt.Sprintf("gift card redeemed for %s", confirmed.StringFixed(2))
		} else {
			movement.Type = model.MovementTypeFundsConfirmation
			movement.Description = fmt.Sprintf("payment confirmed for %s", confirmed.StringFixed(2))
		}
		if err := s.movementLog.Append(ctx, tx, movement); err != nil {
			return err
		}

		payment.Status = model.PaymentStatusConfirmed
		payment.AmountConfirmed = confirmed
		payment.UpdatedBy = requestedBy
		result = &ConfirmResult{Payment: payment, FundsTracks: settled.FundsTracks, Shortfall: settled.Shortfall}

		if settled.Shortfall.IsPositive() {
			result.Alert = newError(CodeReconciliationShortfall, "deposits exhausted during settlement", fields{
				"payment_id":        payment.ID,
				"customer_id":       ownerID,
				"merchant_scope_id": payment.MerchantScopeID,
				"requested":         amount,
				"confirmed":         confirmed,
				"shortfall":         settled.Shortfall,
			})
			return s.movementLog.EnqueueShortfall(ctx, tx, &ShortfallEvent{
				PaymentID:       payment.ID,
				CustomerID:      ownerID,
				MerchantScopeID: payment.MerchantScopeID,
				Requested:       amount,
				Confirmed:       confirmed,
				Shortfall:       settled.Shortfall,
				OccurredAt:      now,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Alert != nil {
		s.reportShortfall(ctx, result)
	} else {
		s.logger.Info("支付已确认",
			zap.String("payment_id", result.Payment.ID),
			zap.String("amount", result.Payment.AmountConfirmed.String()),
			zap.Int("deposits_touched", len(result.FundsTracks)))
	}
	return result, nil
}

func (s *PaymentService) reportShortfall(ctx context.Context, result *ConfirmResult) {
	p := result.Payment
	s.logger.Error("结算资金不足，已按可分配金额确认",
		zap.String("payment_id", p.ID),
		zap.Int64("scope_id", p.MerchantScopeID),
		zap.String("reserved", p.Amount.String()),
		zap.String("confirmed", p.AmountConfirmed.String()),
		zap.String("shortfall", result.Shortfall.String()))

	s.alerter.Capture(ctx, result.Alert,
		map[string]string{
			"code":       string(CodeReconciliationShortfall),
			"payment_id": p.ID,
		},
		result.Alert.Fields)
}

// Cancel 只改状态，不触碰存款和礼品卡
func (s *PaymentService) Cancel(ctx context.Context, paymentID string, requestedBy string) (*model.Payment, error) {
	var payment *model.Payment
	err := s.run(ctx, "cancel payment", func(tx *gorm.DB) error {
		var err error
		payment, err = s.lockPayment(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if payment.Status != model.PaymentStatusReserved {
			return invalidTransition(payment, model.PaymentStatusCancelled)
		}

		var ownerID int64
		if payment.FundedByGiftCard() {
			card, err := s.giftCards.GetByIDForUpdate(ctx, tx, *payment.GiftCardID)
			if err != nil {
				return err
			}
			ownerID = card.CustomerID
		} else {
			ownerID = *payment.CustomerID
		}

		err = s.payments.UpdateStatus(ctx, tx, payment.ID, model.PaymentStatusReserved, model.PaymentStatusCancelled,
			map[string]interface{}{
				"canceled_by": requestedBy,
				"updated_by":  requestedBy,
			})
		if errors.Is(err, repository.ErrPaymentStatusInvalid) {
			return invalidTransition(payment, model.PaymentStatusCancelled)
		}
		if err != nil {
			return err
		}

		payment.Status = model.PaymentStatusCancelled
		payment.CanceledBy = requestedBy
		payment.UpdatedBy = requestedBy

		return s.movementLog.Append(ctx, tx, &model.Movement{
			Type:            model.MovementTypePaymentCanceled,
			Amount:          payment.Amount,
			Description:     "payment canceled",
			CustomerID:      ownerID,
			MerchantScopeID: payment.MerchantScopeID,
			GiftCardID:      payment.GiftCardID,
			PaymentID:       &payment.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("支付已取消",
		zap.String("payment_id", payment.ID),
		zap.String("amount", payment.Amount.String()),
		zap.String("canceled_by", requestedBy))
	return payment, nil
}

func (s *PaymentService) GetPayment(ctx context.Context, paymentID string) (*PaymentDetail, error) {
	payment, err := s.payments.GetByID(ctx, nil, paymentID)
	if errors.Is(err, repository.ErrPaymentNotFound) {
		return nil, newError(CodePaymentNotFound, "", fields{"payment_id": paymentID})
	}
	if err != nil {
		return nil, storageError("load payment", err)
	}
	tracks, err := s.payments.ListFundsTracks(ctx, nil, paymentID)
	if err != nil {
		return nil, storageError("load funds tracks", err)
	}
	return &PaymentDetail{Payment: payment, FundsTracks: tracks}, nil
}

func (s *PaymentService) lockPayment(ctx context.Context, tx *gorm.DB, paymentID string) (*model.Payment, error) {
	payment, err := s.payments.GetByIDForUpdate(ctx, tx, paymentID)
	if errors.Is(err, repository.ErrPaymentNotFound) {
		return nil, newError(CodePaymentNotFound, "", fields{"payment_id": paymentID})
	}
	return payment, err
}

func invalidTransition(payment *model.Payment, target string) error {
	return newError(CodeInvalidStateTransition, "", fields{
		"payment_id": payment.ID,
		"status":     payment.Status,
		"target":     target,
	})
}
