package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ReconciliationReport 流水回放结果与表中冗余余额的比对
type ReconciliationReport struct {
	CustomerID      int64        `json:"customer_id"`
	MerchantScopeID *int64       `json:"merchant_scope_id,omitempty"`
	Replayed        LedgerTotals `json:"replayed"`
	Stored          LedgerTotals `json:"stored"`
	Mismatches      []string     `json:"mismatches,omitempty"`
}

func (r *ReconciliationReport) Balanced() bool {
	return len(r.Mismatches) == 0
}

// Reconciler 只读，不修正任何数据
type Reconciler struct {
	unitOfWork
	repos
}

// Reconcile 回放与冗余值在同一事务里读取
func (r *Reconciler) Reconcile(ctx context.Context, customerID int64, scopeID *int64) (*ReconciliationReport, error) {
	report := &ReconciliationReport{CustomerID: customerID, MerchantScopeID: scopeID}

	err := r.run(ctx, "reconcile", func(tx *gorm.DB) error {
		if _, err := r.customer(ctx, tx, customerID); err != nil {
			return err
		}

		movements, err := r.movements.ListForReplay(ctx, tx, customerID, scopeID)
		if err != nil {
			return err
		}
		report.Replayed = ReplayMovements(movements)

		if report.Stored.DepositRemaining, err = r.deposits.SumRemainingAll(ctx, tx, customerID, scopeID); err != nil {
			return err
		}
		if report.Stored.OutstandingGiftCards, err = r.giftCards.SumOutstanding(ctx, tx, customerID, scopeID); err != nil {
			return err
		}
		if report.Stored.ReservedFunds, err = r.payments.SumReserved(ctx, tx, customerID, scopeID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	compare := func(name string, replayed, stored decimal.Decimal) {
		if !replayed.Equal(stored) {
			report.Mismatches = append(report.Mismatches,
				fmt.Sprintf("%s: replayed=%s stored=%s", name, replayed.StringFixed(2), stored.StringFixed(2)))
		}
	}
	compare("deposit_remaining", report.Replayed.DepositRemaining, report.Stored.DepositRemaining)
	compare("outstanding_gift_cards", report.Replayed.OutstandingGiftCards, report.Stored.OutstandingGiftCards)
	compare("reserved_funds", report.Replayed.ReservedFunds, report.Stored.ReservedFunds)

	return report, nil
}

// ActiveCustomers since 之后有流水的客户
func (r *Reconciler) ActiveCustomers(ctx context.Context, since time.Time, limit int) ([]int64, error) {
	ids, err := r.movements.CustomersActiveSince(ctx, since.UTC(), limit)
	if err != nil {
		return nil, storageError("list active customers", err)
	}
	return ids, nil
}
