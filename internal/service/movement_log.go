package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"debitledger/internal/model"
	"debitledger/pkg/idgen"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// MovementEvent 每条流水投递到 Kafka 的消息体
type MovementEvent struct {
	MovementNo      string          `json:"movement_no"`
	Type            string          `json:"type"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description"`
	CustomerID      int64           `json:"customer_id"`
	MerchantScopeID int64           `json:"merchant_scope_id"`
	DepositID       *int64          `json:"deposit_id,omitempty"`
	GiftCardID      *int64          `json:"gift_card_id,omitempty"`
	PaymentID       *string         `json:"payment_id,omitempty"`
	OccurredAt      time.Time       `json:"occurred_at"`
}

// ShortfallEvent 结算资金不足时的告警事件
type ShortfallEvent struct {
	EventKey        string          `json:"event_key"`
	Code            ErrorCode       `json:"code"`
	PaymentID       string          `json:"payment_id"`
	CustomerID      int64           `json:"customer_id"`
	MerchantScopeID int64           `json:"merchant_scope_id"`
	Requested       decimal.Decimal `json:"requested"`
	Confirmed       decimal.Decimal `json:"confirmed"`
	Shortfall       decimal.Decimal `json:"shortfall"`
	OccurredAt      time.Time       `json:"occurred_at"`
}

// MovementLog 只追加的资金流水
//
// Append 必须在业务写入的同一事务里调用：流水和 outbox 消息要么随业务一起提交，要么一起回滚。
type MovementLog struct {
	repos
	topics Topics
	clock  Clock
}

func (l *MovementLog) Append(ctx context.Context, tx *gorm.DB, m *model.Movement) error {
	m.ID = 0
	m.MovementNo = idgen.GenerateMovementNo()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = l.clock()
	}
	if err := l.movements.Create(ctx, tx, m); err != nil {
		return storageError("append movement", err)
	}

	payload, err := json.Marshal(MovementEvent{
		MovementNo:      m.MovementNo,
		Type:            m.Type,
		Amount:          m.Amount,
		Description:     m.Description,
		CustomerID:      m.CustomerID,
		MerchantScopeID: m.MerchantScopeID,
		DepositID:       m.DepositID,
		GiftCardID:      m.GiftCardID,
		PaymentID:       m.PaymentID,
		OccurredAt:      m.CreatedAt,
	})
	if err != nil {
		return err
	}

	return storageError("enqueue movement event", l.outbox.Create(ctx, tx, &model.OutboxMessage{
		MessageKey: customerKey(m.CustomerID),
		Topic:      l.topics.Movements,
		EventType:  m.Type,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}))
}

// EnqueueShortfall 告警随确认一起提交
func (l *MovementLog) EnqueueShortfall(ctx context.Context, tx *gorm.DB, event *ShortfallEvent) error {
	event.EventKey = idgen.GenerateEventKey()
	event.Code = CodeReconciliationShortfall
	if event.OccurredAt.IsZero() {
		event.OccurredAt = l.clock()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return storageError("enqueue shortfall event", l.outbox.Create(ctx, tx, &model.OutboxMessage{
		MessageKey: customerKey(event.CustomerID),
		Topic:      l.topics.Alerts,
		EventType:  string(CodeReconciliationShortfall),
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}))
}

// List 区间 [from, to)，新的在前
func (l *MovementLog) List(ctx context.Context, customerID int64, scopeID *int64, from, to time.Time) ([]*model.Movement, error) {
	if !from.Before(to) {
		return nil, newError(CodeInvalidDateRange, "from must be before to", fields{"from": from, "to": to})
	}
	if _, err := l.customer(ctx, nil, customerID); err != nil {
		return nil, err
	}
	movements, err := l.movements.ListByCustomer(ctx, customerID, scopeID, from.UTC(), to.UTC())
	if err != nil {
		return nil, storageError("list movements", err)
	}
	return movements, nil
}

// Replay 只根据流水重建各项余额
func (l *MovementLog) Replay(ctx context.Context, customerID int64, scopeID *int64) (*LedgerTotals, error) {
	if _, err := l.customer(ctx, nil, customerID); err != nil {
		return nil, err
	}
	movements, err := l.movements.ListForReplay(ctx, nil, customerID, scopeID)
	if err != nil {
		return nil, storageError("load movements", err)
	}
	totals := ReplayMovements(movements)
	return &totals, nil
}

// LedgerTotals 不随时间变化的三项累计值，过期不影响它们
type LedgerTotals struct {
	DepositRemaining     decimal.Decimal `json:"deposit_remaining"`
	OutstandingGiftCards decimal.Decimal `json:"outstanding_gift_cards"`
	ReservedFunds        decimal.Decimal `json:"reserved_funds"`
}

// ReplayMovements 按写入顺序回放
//
//	DEPOSIT               deposit_remaining += amount
//	GIFT_CARD_CREATION    outstanding += amount
//	FUNDS_RESERVED        reserved += amount（仅客户直接出资）
//	PAYMENT_CANCELED      reserved -= 该支付预留的金额
//	FUNDS_CONFIRMATION    reserved -= 该支付预留的金额，deposit_remaining -= amount
//	GIFT_CARD_REDEMPTION  outstanding -= 卡面额，deposit_remaining -= amount
func ReplayMovements(movements []*model.Movement) LedgerTotals {
	totals := LedgerTotals{
		DepositRemaining:     decimal.Zero,
		OutstandingGiftCards: decimal.Zero,
		ReservedFunds:        decimal.Zero,
	}
	cardAmounts := make(map[int64]decimal.Decimal)
	reservedByPayment := make(map[string]decimal.Decimal)

	release := func(m *model.Movement) {
		if m.PaymentID == nil {
			return
		}
		if amount, ok := reservedByPayment[*m.PaymentID]; ok {
			totals.ReservedFunds = totals.ReservedFunds.Sub(amount)
			delete(reservedByPayment, *m.PaymentID)
		}
	}

	for _, m := range movements {
		switch m.Type {
		case model.MovementTypeDeposit:
			totals.DepositRemaining = totals.DepositRemaining.Add(m.Amount)
		case model.MovementTypeGiftCardCreation:
			if m.GiftCardID != nil {
				cardAmounts[*m.GiftCardID] = m.Amount
			}
			totals.OutstandingGiftCards = totals.OutstandingGiftCards.Add(m.Amount)
		case model.MovementTypeFundsReserved:
			if m.GiftCardID == nil && m.PaymentID != nil {
				reservedByPayment[*m.PaymentID] = m.Amount
				totals.ReservedFunds = totals.ReservedFunds.Add(m.Amount)
			}
		case model.MovementTypePaymentCanceled:
			release(m)
		case model.MovementTypeFundsConfirmation:
			release(m)
			totals.DepositRemaining = totals.DepositRemaining.Sub(m.Amount)
		case model.MovementTypeGiftCardRedemption:
			if m.GiftCardID != nil {
				if amount, ok := cardAmounts[*m.GiftCardID]; ok {
					totals.OutstandingGiftCards = totals.OutstandingGiftCards.Sub(amount)
					delete(cardAmounts, *m.GiftCardID)
				}
			}
			totals.DepositRemaining = totals.DepositRemaining.Sub(m.Amount)
		}
	}
	return totals
}

func customerKey(customerID int64) string {
	return fmt.Sprintf("customer-%d", customerID)
}
