package service

import (
	"math/rand"
	"testing"
	"time"

	"debitledger/internal/model"
	"debitledger/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deposit(id int64, amount, used string, createdAt time.Time) *model.Deposit {
	return &model.Deposit{
		ID:         id,
		Amount:     testutil.Amount(amount),
		AmountUsed: testutil.Amount(used),
		CreatedAt:  createdAt,
	}
}

func TestAllocate_OldestFirst(t *testing.T) {
	t1 := testEpoch
	t2 := testEpoch.Add(time.Hour)

	allocations, shortfall := Allocate([]*model.Deposit{
		deposit(2, "50", "0", t2),
		deposit(1, "100", "0", t1),
	}, testutil.Amount("120"))

	require.Len(t, allocations, 2)
	assert.Equal(t, int64(1), allocations[0].DepositID)
	assertAmount(t, "100.00", allocations[0].Amount)
	assertAmount(t, "100.00", allocations[0].RemainingBefore)
	assert.Equal(t, int64(2), allocations[1].DepositID)
	assertAmount(t, "20.00", allocations[1].Amount)
	assertAmount(t, "50.00", allocations[1].RemainingBefore)
	assert.True(t, shortfall.IsZero())
}

func TestAllocate_TieBreaksOnID(t *testing.T) {
	allocations, _ := Allocate([]*model.Deposit{
		deposit(9, "10", "0", testEpoch),
		deposit(3, "10", "0", testEpoch),
	}, testutil.Amount("15"))

	require.Len(t, allocations, 2)
	assert.Equal(t, int64(3), allocations[0].DepositID)
	assert.Equal(t, int64(9), allocations[1].DepositID)
	assertAmount(t, "5.00", allocations[1].Amount)
}

func TestAllocate_SkipsExhaustedAndReportsShortfall(t *testing.T) {
	allocations, shortfall := Allocate([]*model.Deposit{
		deposit(1, "40", "40", testEpoch),
		deposit(2, "25.50", "5.25", testEpoch.Add(time.Minute)),
	}, testutil.Amount("30"))

	require.Len(t, allocations, 1)
	assert.Equal(t, int64(2), allocations[0].DepositID)
	assertAmount(t, "20.25", allocations[0].Amount)
	assertAmount(t, "9.75", shortfall)
}

func TestAllocate_DoesNotReorderInput(t *testing.T) {
	input := []*model.Deposit{
		deposit(2, "1", "0", testEpoch.Add(time.Hour)),
		deposit(1, "1", "0", testEpoch),
	}
	Allocate(input, testutil.Amount("2"))
	assert.Equal(t, int64(2), input[0].ID)
}

// 随机存款集合上的不变量：不超额、按时间非递减、分配额加差额等于请求额
func TestAllocate_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		n := rng.Intn(6)
		deposits := make([]*model.Deposit, 0, n)
		for j := 0; j < n; j++ {
			amount := decimal.New(int64(rng.Intn(10000)+1), -2)
			used := decimal.New(rng.Int63n(amount.Shift(2).IntPart()+1), -2)
			deposits = append(deposits, &model.Deposit{
				ID:         int64(j + 1),
				Amount:     amount,
				AmountUsed: used,
				CreatedAt:  testEpoch.Add(time.Duration(rng.Intn(4)) * time.Hour),
			})
		}
		requested := decimal.New(int64(rng.Intn(20000)+1), -2)

		allocations, shortfall := Allocate(deposits, requested)

		byID := make(map[int64]*model.Deposit, n)
		for _, d := range deposits {
			byID[d.ID] = d
		}
		total := decimal.Zero
		var last time.Time
		for k, a := range allocations {
			d := byID[a.DepositID]
			require.True(t, a.Amount.IsPositive())
			require.True(t, a.Amount.LessThanOrEqual(d.Remaining()), "over-allocated deposit %d", d.ID)
			require.True(t, a.RemainingBefore.Equal(d.Remaining()))
			if k > 0 {
				require.False(t, d.CreatedAt.Before(last), "allocation order went backwards")
			}
			last = d.CreatedAt
			total = total.Add(a.Amount)
		}
		require.False(t, shortfall.IsNegative())
		require.True(t, total.Add(shortfall).Equal(requested))
	}
}

// 情景 A：两笔存款按时间先后结算
func TestSettlement_ScenarioA(t *testing.T) {
	h := newHarness(t)
	d1 := h.deposit("100")
	d2 := h.deposit("50")

	payment, err := h.reserve("120")
	require.NoError(t, err)
	assertAmount(t, "120.00", h.balance().ReservedFunds)

	result, err := h.ledger.Payments.Confirm(h.ctx, payment.ID, testutil.Amount("120"), "merchant_app")
	require.NoError(t, err)
	assert.Nil(t, result.Alert)
	assert.True(t, result.Shortfall.IsZero())

	require.Len(t, result.FundsTracks, 2)
	assert.Equal(t, d1.ID, result.FundsTracks[0].DepositID)
	assertAmount(t, "100.00", result.FundsTracks[0].AmountAllocated)
	assertAmount(t, "100.00", result.FundsTracks[0].DepositRemainingBefore)
	assert.Equal(t, d2.ID, result.FundsTracks[1].DepositID)
	assertAmount(t, "20.00", result.FundsTracks[1].AmountAllocated)
	assertAmount(t, "50.00", result.FundsTracks[1].DepositRemainingBefore)

	assertAmount(t, "0.00", h.reload(d1.ID).Remaining())
	assertAmount(t, "30.00", h.reload(d2.ID).Remaining())

	detail, err := h.ledger.Payments.GetPayment(h.ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusConfirmed, detail.Payment.Status)
	assertAmount(t, "120.00", detail.Payment.AmountConfirmed)
	assert.Equal(t, "merchant_app", detail.Payment.UpdatedBy)
	require.Len(t, detail.FundsTracks, 2)

	sum := decimal.Zero
	for _, track := range detail.FundsTracks {
		sum = sum.Add(track.AmountAllocated)
	}
	assertAmount(t, "120.00", sum)

	view := h.balance()
	assertAmount(t, "30.00", view.Subtotal)
	assertAmount(t, "0.00", view.ReservedFunds)
	assertAmount(t, "30.00", view.Total)
	h.requireBalanced()
}

// 存款按 created_at 排序，与主键顺序无关
func TestSettlement_OrdersByCreatedAtNotID(t *testing.T) {
	h := newHarness(t)
	later := h.fx.Deposit(h.customer.ID, h.scope.ID, "10", testEpoch.Add(2*time.Hour))
	earlier := h.fx.Deposit(h.customer.ID, h.scope.ID, "10", testEpoch.Add(time.Hour))
	require.Less(t, later.ID, earlier.ID)

	payment, err := h.reserve("12")
	require.NoError(t, err)
	result, err := h.ledger.Payments.Confirm(h.ctx, payment.ID, testutil.Amount("12"), "merchant_app")
	require.NoError(t, err)

	require.Len(t, result.FundsTracks, 2)
	assert.Equal(t, earlier.ID, result.FundsTracks[0].DepositID)
	assertAmount(t, "10.00", result.FundsTracks[0].AmountAllocated)
	assert.Equal(t, later.ID, result.FundsTracks[1].DepositID)
	assertAmount(t, "2.00", result.FundsTracks[1].AmountAllocated)
}

func TestSettlement_IgnoresInactiveAndOtherScopes(t *testing.T) {
	h := newHarness(t)
	other := h.fx.Scope("legal_002", "Other Shop")
	inactive := h.fx.Deposit(h.customer.ID, h.scope.ID, "500", testEpoch)
	require.NoError(t, h.db.Model(inactive).Update("active", false).Error)
	foreign := h.fx.Deposit(h.customer.ID, other.ID, "500", testEpoch)
	usable := h.fx.Deposit(h.customer.ID, h.scope.ID, "40", testEpoch.Add(time.Minute))

	payment, err := h.reserve("40")
	require.NoError(t, err)
	result, err := h.ledger.Payments.Confirm(h.ctx, payment.ID, testutil.Amount("40"), "merchant_app")
	require.NoError(t, err)

	require.Len(t, result.FundsTracks, 1)
	assert.Equal(t, usable.ID, result.FundsTracks[0].DepositID)
	assertAmount(t, "500.00", h.reload(inactive.ID).Remaining())
	assertAmount(t, "500.00", h.reload(foreign.ID).Remaining())
}
