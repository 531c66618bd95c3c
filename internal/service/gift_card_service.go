package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"debitledger/internal/model"
	"debitledger/internal/repository"
	"debitledger/pkg/idgen"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const cardKeyAttempts = 5

type IssueGiftCardRequest struct {
	CustomerID      int64
	MerchantScopeID int64
	Amount          decimal.Decimal
}

type GiftCardService struct {
	unitOfWork
	repos
	balances    *BalanceCalculator
	movementLog *MovementLog
	locker      Locker
	validity    time.Duration
	logger      *zap.Logger
	clock       Clock
}

// IssueGiftCard 发卡会占用客户在该范围内的可用余额，余额检查与写入在同一事务内
func (s *GiftCardService) IssueGiftCard(ctx context.Context, req IssueGiftCardRequest) (*model.GiftCard, error) {
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, reservationLockKey(req.CustomerID, req.MerchantScopeID))
	if err != nil {
		return nil, &LedgerError{Code: CodeTransientStorage, Message: "balance lock busy", Err: err}
	}
	defer release()

	var card *model.GiftCard
	err = s.run(ctx, "issue gift card", func(tx *gorm.DB) error {
		if _, err := s.lockCustomer(ctx, tx, req.CustomerID); err != nil {
			return err
		}
		scope, err := s.scope(ctx, tx, req.MerchantScopeID)
		if err != nil {
			return err
		}

		now := s.clock()
		balance, err := s.balances.compute(ctx, tx, req.CustomerID, &req.MerchantScopeID, now)
		if err != nil {
			return err
		}
		if req.Amount.GreaterThan(balance.Total) {
			return newError(CodeInsufficientFunds, "", fields{
				"customer_id":       req.CustomerID,
				"merchant_scope_id": req.MerchantScopeID,
				"amount":            req.Amount,
				"available":         balance.Total,
			})
		}

		key, err := s.newCardKey(ctx, tx)
		if err != nil {
			return err
		}
		card = &model.GiftCard{
			CardKey:         key,
			CustomerID:      req.CustomerID,
			MerchantScopeID: req.MerchantScopeID,
			Amount:          req.Amount,
			AmountUsed:      decimal.Zero,
			ExpirationAt:    now.Add(s.validity),
			CreatedAt:       now,
		}
		if err := s.giftCards.Create(ctx, tx, card); err != nil {
			return err
		}

		return s.movementLog.Append(ctx, tx, &model.Movement{
			Type:            model.MovementTypeGiftCardCreation,
			Amount:          req.Amount,
			Description:     fmt.Sprintf("gift card of %s in %s", req.Amount.StringFixed(2), scope.Name),
			CustomerID:      req.CustomerID,
			MerchantScopeID: req.MerchantScopeID,
			GiftCardID:      &card.ID,
			CreatedAt:       now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("礼品卡已发行",
		zap.Int64("gift_card_id", card.ID),
		zap.Int64("customer_id", req.CustomerID),
		zap.Int64("scope_id", req.MerchantScopeID),
		zap.String("amount", req.Amount.String()),
		zap.Time("expiration_at", card.ExpirationAt))
	return card, nil
}

func (s *GiftCardService) newCardKey(ctx context.Context, tx *gorm.DB) (string, error) {
	for i := 0; i < cardKeyAttempts; i++ {
		key, err := idgen.GenerateCardKey()
		if err != nil {
			return "", err
		}
		exists, err := s.giftCards.KeyExists(ctx, tx, key)
		if err != nil {
			return "", err
		}
		if !exists {
			return key, nil
		}
	}
	return "", fmt.Errorf("no unique gift card key after %d attempts", cardKeyAttempts)
}

func (s *GiftCardService) ListGiftCards(ctx context.Context, customerID int64, page, pageSize int) ([]*model.GiftCard, int64, error) {
	if _, err := s.customer(ctx, nil, customerID); err != nil {
		return nil, 0, err
	}
	cards, total, err := s.giftCards.ListByCustomer(ctx, customerID, page, pageSize)
	if err != nil {
		return nil, 0, storageError("list gift cards", err)
	}
	return cards, total, nil
}

func (s *GiftCardService) GetGiftCard(ctx context.Context, customerID, cardID int64) (*model.GiftCard, error) {
	card, err := s.giftCards.GetByIDAndCustomer(ctx, cardID, customerID)
	if errors.Is(err, repository.ErrGiftCardNotFound) {
		return nil, newError(CodeCardNotFound, "", fields{"customer_id": customerID, "gift_card_id": cardID})
	}
	if err != nil {
		return nil, storageError("load gift card", err)
	}
	return card, nil
}

// LookupGiftCard 商户按卡号查询，卡必须属于该商户范围且仍可使用
func (s *GiftCardService) LookupGiftCard(ctx context.Context, key string, scopeID int64) (*model.GiftCard, error) {
	card, err := s.giftCards.GetByKey(ctx, key)
	if errors.Is(err, repository.ErrGiftCardNotFound) {
		return nil, newError(CodeCardNotFound, "", fields{"card_key": maskKey(key)})
	}
	if err != nil {
		return nil, storageError("load gift card", err)
	}
	if err := checkCardUsable(card, key, scopeID, s.clock()); err != nil {
		return nil, err
	}
	return card, nil
}

// checkCardUsable 已兑换或已过期优先于范围不匹配
func checkCardUsable(card *model.GiftCard, key string, scopeID int64, now time.Time) error {
	if card.Redeemed || card.IsExpired(now) {
		return newError(CodeCardExpiredOrRedeemed, "", fields{
			"card_key":      maskKey(key),
			"redeemed":      card.Redeemed,
			"expiration_at": card.ExpirationAt,
		})
	}
	if card.MerchantScopeID != scopeID {
		return newError(CodeCardScopeMismatch, "", fields{
			"card_key":          maskKey(key),
			"merchant_scope_id": scopeID,
		})
	}
	return nil
}
