package service

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"debitledger/internal/model"
	"debitledger/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMovementLog_EveryMutationWritesOneMovement(t *testing.T) {
	h := newHarness(t)

	h.deposit("100")
	card := h.issueCard("20")
	p1, err := h.reserve("30")
	require.NoError(t, err)
	p2, err := h.reserve("10")
	require.NoError(t, err)
	_, err = h.ledger.Payments.Confirm(h.ctx, p1.ID, testutil.Amount("30"), "merchant_app")
	require.NoError(t, err)
	_, err = h.ledger.Payments.Cancel(h.ctx, p2.ID, "merchant_app")
	require.NoError(t, err)
	p3, err := h.reserveCard(card.CardKey, "20")
	require.NoError(t, err)
	_, err = h.ledger.Payments.Confirm(h.ctx, p3.ID, testutil.Amount("20"), "merchant_app")
	require.NoError(t, err)

	var movements []model.Movement
	require.NoError(t, h.db.Order("id").Find(&movements).Error)
	types := make([]string, 0, len(movements))
	for _, m := range movements {
		types = append(types, m.Type)
		assert.NotEmpty(t, m.MovementNo)
		assert.Equal(t, h.customer.ID, m.CustomerID)
	}
	assert.Equal(t, []string{
		model.MovementTypeDeposit,
		model.MovementTypeGiftCardCreation,
		model.MovementTypeFundsReserved,
		model.MovementTypeFundsReserved,
		model.MovementTypeFundsConfirmation,
		model.MovementTypePaymentCanceled,
		model.MovementTypeFundsReserved,
		model.MovementTypeGiftCardRedemption,
	}, types)

	// 每条流水对应一条待投递的 outbox 消息
	var outbox []model.OutboxMessage
	require.NoError(t, h.db.Where("topic = ?", testTopics.Movements).Order("id").Find(&outbox).Error)
	require.Len(t, outbox, len(movements))
	for i, msg := range outbox {
		assert.Equal(t, model.OutboxStatusPending, msg.Status)
		assert.Equal(t, movements[i].Type, msg.EventType)
		var event MovementEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
		assert.Equal(t, movements[i].MovementNo, event.MovementNo)
	}
}

func TestMovementLog_ListRange(t *testing.T) {
	h := newHarness(t)
	start := h.now
	h.deposit("10")
	h.deposit("20")
	mid := h.now.Add(30 * time.Second)
	h.deposit("30")

	all, err := h.ledger.Movements.List(h.ctx, h.customer.ID, nil, start, h.now.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, all, 3)
	assertAmount(t, "30.00", all[0].Amount, "newest first")
	assertAmount(t, "10.00", all[2].Amount)

	early, err := h.ledger.Movements.List(h.ctx, h.customer.ID, &h.scope.ID, start, mid)
	require.NoError(t, err)
	assert.Len(t, early, 2)

	_, err = h.ledger.Movements.List(h.ctx, h.customer.ID, nil, mid, mid)
	requireCode(t, err, CodeInvalidDateRange)
	_, err = h.ledger.Movements.List(h.ctx, h.customer.ID, nil, mid, start)
	requireCode(t, err, CodeInvalidDateRange)
	_, err = h.ledger.Movements.List(h.ctx, 999, nil, start, mid)
	requireCode(t, err, CodeCustomerNotFound)
}

func TestReplayMovements_Rules(t *testing.T) {
	cardID := int64(7)
	paid := "p-1"
	cancelled := "p-2"
	carded := "p-3"
	m := func(typ, amount string, payment *string, card *int64) *model.Movement {
		return &model.Movement{Type: typ, Amount: testutil.Amount(amount), PaymentID: payment, GiftCardID: card}
	}

	totals := ReplayMovements([]*model.Movement{
		m(model.MovementTypeDeposit, "100", nil, nil),
		m(model.MovementTypeGiftCardCreation, "25", nil, &cardID),
		m(model.MovementTypeFundsReserved, "40", &paid, nil),
		m(model.MovementTypeFundsReserved, "15", &cancelled, nil),
		m(model.MovementTypeFundsReserved, "25", &carded, &cardID),
		m(model.MovementTypeFundsConfirmation, "35", &paid, nil),
		m(model.MovementTypePaymentCanceled, "15", &cancelled, nil),
		m(model.MovementTypeGiftCardRedemption, "20", &carded, &cardID),
	})

	assertAmount(t, "45.00", totals.DepositRemaining)
	assertAmount(t, "0.00", totals.OutstandingGiftCards)
	assertAmount(t, "0.00", totals.ReservedFunds)
}

// 随机操作序列之后，流水回放结果始终等于表中的冗余余额
func TestReplay_ReproducesStoredTotals(t *testing.T) {
	for _, seed := range []int64{1, 7, 2024} {
		seed := seed
		t.Run(fmt.Sprintf("seed_%d", seed), func(t *testing.T) {
			h := newHarness(t)
			rng := rand.New(rand.NewSource(seed))
			cents := func(limit int64) decimal.Decimal {
				return decimal.New(rng.Int63n(limit)+1, -2)
			}

			var open []*model.Payment
			var cards []*model.GiftCard
			for step := 0; step < 60; step++ {
				var err error
				switch op := rng.Intn(7); op {
				case 0:
					h.deposit(cents(10000).StringFixed(2))
				case 1:
					var card *model.GiftCard
					card, err = h.ledger.GiftCards.IssueGiftCard(h.ctx, IssueGiftCardRequest{
						CustomerID:      h.customer.ID,
						MerchantScopeID: h.scope.ID,
						Amount:          cents(3000),
					})
					if err == nil {
						cards = append(cards, card)
					}
				case 2:
					var p *model.Payment
					p, err = h.reserve(cents(5000).StringFixed(2))
					if err == nil {
						open = append(open, p)
					}
				case 3:
					if len(cards) == 0 {
						continue
					}
					card := cards[rng.Intn(len(cards))]
					var p *model.Payment
					p, err = h.reserveCard(card.CardKey, decimal.Min(card.Amount, cents(3000)).StringFixed(2))
					if err == nil {
						open = append(open, p)
					}
				case 4, 5:
					if len(open) == 0 {
						continue
					}
					i := rng.Intn(len(open))
					p := open[i]
					open = append(open[:i], open[i+1:]...)
					amount := decimal.Min(p.Amount, cents(p.Amount.Shift(2).IntPart()))
					_, err = h.ledger.Payments.Confirm(h.ctx, p.ID, amount, "merchant_app")
				case 6:
					if len(open) == 0 {
						h.advance(time.Duration(rng.Intn(20)) * 24 * time.Hour)
						continue
					}
					i := rng.Intn(len(open))
					p := open[i]
					open = append(open[:i], open[i+1:]...)
					_, err = h.ledger.Payments.Cancel(h.ctx, p.ID, "merchant_app")
				}

				if err != nil {
					le, ok := AsLedgerError(err)
					require.True(t, ok, err)
					require.False(t, le.Retryable(), err)
				}

				replayed, err := h.ledger.Movements.Replay(h.ctx, h.customer.ID, nil)
				require.NoError(t, err)
				report, err := h.ledger.Reconciler.Reconcile(h.ctx, h.customer.ID, nil)
				require.NoError(t, err)
				require.Truef(t, report.Balanced(), "step %d: %v", step, report.Mismatches)
				assertAmount(t, report.Replayed.DepositRemaining.StringFixed(2), replayed.DepositRemaining)
				assertAmount(t, report.Replayed.OutstandingGiftCards.StringFixed(2), replayed.OutstandingGiftCards)
				assertAmount(t, report.Replayed.ReservedFunds.StringFixed(2), replayed.ReservedFunds)
			}
		})
	}
}
