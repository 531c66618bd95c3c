package service

import (
	"context"
	"errors"
	"sort"

	"debitledger/internal/model"
	"debitledger/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Allocation 一笔结算从单个存款扣减的金额
type Allocation struct {
	DepositID       int64           `json:"deposit_id"`
	Amount          decimal.Decimal `json:"amount"`
	RemainingBefore decimal.Decimal `json:"remaining_before"`
}

// Allocate 按 created_at 从旧到新（相同时按 ID）消耗存款，返回分配明细和未能覆盖的差额
//
// 单个存款的分配额不会超过它当时的剩余金额；差额为正说明预留时看到的余额已被并发消耗。
func Allocate(deposits []*model.Deposit, amount decimal.Decimal) ([]Allocation, decimal.Decimal) {
	ordered := make([]*model.Deposit, len(deposits))
	copy(ordered, deposits)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	toDiscount := amount
	var allocations []Allocation
	for _, d := range ordered {
		if !toDiscount.IsPositive() {
			break
		}
		remaining := d.Remaining()
		if !remaining.IsPositive() {
			continue
		}
		take := decimal.Min(remaining, toDiscount)
		allocations = append(allocations, Allocation{
			DepositID:       d.ID,
			Amount:          take,
			RemainingBefore: remaining,
		})
		toDiscount = toDiscount.Sub(take)
	}
	return allocations, toDiscount
}

type SettlementResult struct {
	FundsTracks []*model.PaymentFundsTrack
	Allocated   decimal.Decimal
	Shortfall   decimal.Decimal
}

// SettlementAllocator 在调用方的事务里锁住并消耗存款
type SettlementAllocator struct {
	deposits *repository.DepositRepository
	payments *repository.PaymentRepository
}

// Settle 写入每个被触及存款的 amount_used 和对应的 funds track
func (a *SettlementAllocator) Settle(ctx context.Context, tx *gorm.DB, paymentID string, customerID, scopeID int64, amount decimal.Decimal) (*SettlementResult, error) {
	deposits, err := a.deposits.ListAvailableForUpdate(ctx, tx, customerID, scopeID)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*model.Deposit, len(deposits))
	for _, d := range deposits {
		byID[d.ID] = d
	}

	allocations, shortfall := Allocate(deposits, amount)
	result := &SettlementResult{
		FundsTracks: make([]*model.PaymentFundsTrack, 0, len(allocations)),
		Allocated:   decimal.Zero,
		Shortfall:   shortfall,
	}

	for _, alloc := range allocations {
		d := byID[alloc.DepositID]
		usedAfter := d.AmountUsed.Add(alloc.Amount)
		if err := a.deposits.Consume(ctx, tx, d.ID, d.AmountUsed, usedAfter); err != nil {
			if errors.Is(err, repository.ErrDepositChanged) {
				return nil, &LedgerError{
					Code:    CodeTransientStorage,
					Message: "deposit changed during settlement",
					Fields:  fields{"deposit_id": d.ID, "payment_id": paymentID},
					Err:     err,
				}
			}
			return nil, err
		}
		d.AmountUsed = usedAfter

		result.FundsTracks = append(result.FundsTracks, &model.PaymentFundsTrack{
			PaymentID:              paymentID,
			DepositID:              d.ID,
			AmountAllocated:        alloc.Amount,
			DepositRemainingBefore: alloc.RemainingBefore,
		})
		result.Allocated = result.Allocated.Add(alloc.Amount)
	}

	if err := a.payments.CreateFundsTracks(ctx, tx, result.FundsTracks); err != nil {
		return nil, err
	}
	return result, nil
}
