package service

import (
	"regexp"
	"testing"
	"time"

	"debitledger/internal/model"
	"debitledger/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueGiftCard(t *testing.T) {
	h := newHarness(t)
	h.deposit("100")

	card := h.issueCard("60")
	assert.Regexp(t, regexp.MustCompile(`^\d{4}-\d{4}-\d{4}-\d{4}$`), card.CardKey)
	assert.False(t, card.Redeemed)
	assert.Equal(t, h.now.Add(15*24*time.Hour), card.ExpirationAt)
	assertAmount(t, "0.00", card.AmountUsed)

	var movement model.Movement
	require.NoError(t, h.db.Where("gift_card_id = ? AND type = ?", card.ID, model.MovementTypeGiftCardCreation).First(&movement).Error)
	assertAmount(t, "60.00", movement.Amount)

	before := h.snapshot()
	_, err := h.ledger.GiftCards.IssueGiftCard(h.ctx, IssueGiftCardRequest{
		CustomerID:      h.customer.ID,
		MerchantScopeID: h.scope.ID,
		Amount:          testutil.Amount("40.01"),
	})
	requireCode(t, err, CodeInsufficientFunds)
	assert.Equal(t, before, h.snapshot())

	h.issueCard("40")
	assertAmount(t, "0.00", h.balance().Total)
}

func TestLookupGiftCard(t *testing.T) {
	h := newHarness(t)
	h.deposit("100")
	card := h.issueCard("25")
	other := h.fx.Scope("legal_002", "Other Shop")

	found, err := h.ledger.GiftCards.LookupGiftCard(h.ctx, card.CardKey, h.scope.ID)
	require.NoError(t, err)
	assert.Equal(t, card.ID, found.ID)

	_, err = h.ledger.GiftCards.LookupGiftCard(h.ctx, card.CardKey, other.ID)
	requireCode(t, err, CodeCardScopeMismatch)

	_, err = h.ledger.GiftCards.LookupGiftCard(h.ctx, "9999-9999-9999-9999", h.scope.ID)
	requireCode(t, err, CodeCardNotFound)
	le, _ := AsLedgerError(err)
	assert.Equal(t, "****-****-****-9999", le.Fields["card_key"])

	h.advance(16 * 24 * time.Hour)
	_, err = h.ledger.GiftCards.LookupGiftCard(h.ctx, card.CardKey, h.scope.ID)
	requireCode(t, err, CodeCardExpiredOrRedeemed)
}

func TestListAndGetGiftCards(t *testing.T) {
	h := newHarness(t)
	h.deposit("100")
	card := h.issueCard("10")
	h.issueCard("15")
	stranger := h.fx.Customer("cus_002")

	cards, total, err := h.ledger.GiftCards.ListGiftCards(h.ctx, h.customer.ID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, cards, 2)

	got, err := h.ledger.GiftCards.GetGiftCard(h.ctx, h.customer.ID, card.ID)
	require.NoError(t, err)
	assert.Equal(t, card.CardKey, got.CardKey)

	_, err = h.ledger.GiftCards.GetGiftCard(h.ctx, stranger.ID, card.ID)
	requireCode(t, err, CodeCardNotFound)
}

func TestCheckCardUsable(t *testing.T) {
	now := testEpoch
	card := &model.GiftCard{MerchantScopeID: 1, ExpirationAt: now.Add(time.Hour)}

	assert.NoError(t, checkCardUsable(card, "1234-5678-9012-3456", 1, now))
	requireCode(t, checkCardUsable(card, "1234-5678-9012-3456", 2, now), CodeCardScopeMismatch)
	requireCode(t, checkCardUsable(card, "1234-5678-9012-3456", 1, now.Add(2*time.Hour)), CodeCardExpiredOrRedeemed)

	card.Redeemed = true
	requireCode(t, checkCardUsable(card, "1234-5678-9012-3456", 2, now), CodeCardExpiredOrRedeemed)
}
