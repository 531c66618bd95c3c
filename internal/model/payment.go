package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentStatusReserved  = "RESERVED"
	PaymentStatusConfirmed = "CONFIRMED"
	PaymentStatusCancelled = "CANCELLED"
)

// CONFIRMED 和 CANCELLED 都是终态
var ValidStatusTransitions = map[string][]string{
	PaymentStatusReserved: {PaymentStatusConfirmed, PaymentStatusCancelled},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// Payment 支付
// CustomerID 与 GiftCardID 有且只有一个非空，表示资金来源
type Payment struct {
	ID              string          `gorm:"type:char(36);primaryKey" json:"id"`
	MerchantScopeID int64           `gorm:"index;not null" json:"merchant_scope_id"`
	CustomerID      *int64          `gorm:"index" json:"customer_id,omitempty"`
	GiftCardID      *int64          `gorm:"index" json:"gift_card_id,omitempty"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	AmountConfirmed decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount_confirmed"`
	Status          string          `gorm:"type:varchar(20);index;not null" json:"status"`
	CreatedBy       string          `gorm:"type:varchar(64)" json:"created_by"`
	UpdatedBy       string          `gorm:"type:varchar(64)" json:"updated_by,omitempty"`
	CanceledBy      string          `gorm:"type:varchar(64)" json:"canceled_by,omitempty"`
	CreatedAt       time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Customer      *Customer      `gorm:"foreignKey:CustomerID" json:"-"`
	GiftCard      *GiftCard      `gorm:"foreignKey:GiftCardID" json:"-"`
	MerchantScope *MerchantScope `gorm:"foreignKey:MerchantScopeID" json:"-"`
}

func (Payment) TableName() string {
	return "payments"
}

func (p *Payment) FundedByGiftCard() bool {
	return p.GiftCardID != nil
}

// PaymentFundsTrack 结算时每个 (支付, 存款) 的扣减记录，只追加
type PaymentFundsTrack struct {
	ID                     int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	PaymentID              string          `gorm:"type:char(36);index;not null" json:"payment_id"`
	DepositID              int64           `gorm:"index;not null" json:"deposit_id"`
	AmountAllocated        decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount_allocated"`
	DepositRemainingBefore decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"deposit_remaining_before"`
	CreatedAt              time.Time       `gorm:"autoCreateTime" json:"created_at"`

	Payment *Payment `gorm:"foreignKey:PaymentID" json:"-"`
	Deposit *Deposit `gorm:"foreignKey:DepositID" json:"-"`
}

func (PaymentFundsTrack) TableName() string {
	return "payment_funds_tracks"
}
