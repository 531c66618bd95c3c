package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Deposit 预付存款
// 只有结算会增加 amount_used，且 0 <= amount_used <= amount
type Deposit struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	CustomerID       int64           `gorm:"index:idx_deposit_owner,priority:1;not null" json:"customer_id"`
	MerchantScopeID  int64           `gorm:"index:idx_deposit_owner,priority:2;not null" json:"merchant_scope_id"`
	Amount           decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	AmountUsed       decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount_used"`
	CaptureReference string          `gorm:"type:varchar(128);not null" json:"capture_reference"`
	Active           bool            `gorm:"not null" json:"active"`
	CreatedAt        time.Time       `gorm:"index;not null" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Customer      *Customer      `gorm:"foreignKey:CustomerID" json:"-"`
	MerchantScope *MerchantScope `gorm:"foreignKey:MerchantScopeID" json:"-"`
}

func (Deposit) TableName() string {
	return "deposits"
}

// Remaining 剩余可用金额
func (d *Deposit) Remaining() decimal.Decimal {
	return d.Amount.Sub(d.AmountUsed)
}
