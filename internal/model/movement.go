package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	MovementTypeDeposit            = "DEPOSIT"
	MovementTypeFundsReserved      = "FUNDS_RESERVED"
	MovementTypeFundsConfirmation  = "FUNDS_CONFIRMATION"
	MovementTypePaymentCanceled    = "PAYMENT_CANCELED"
	MovementTypeGiftCardCreation   = "GIFT_CARD_CREATION"
	MovementTypeGiftCardRedemption = "GIFT_CARD_REDEMPTION"
)

// Movement 资金变动流水
// 只追加，不修改，不删除；按 ID 顺序回放可以重建各项余额
type Movement struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	MovementNo      string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"movement_no"`
	Type            string          `gorm:"type:varchar(32);not null" json:"type"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Description     string          `gorm:"type:varchar(256)" json:"description"`
	CustomerID      int64           `gorm:"index:idx_movement_owner,priority:1;not null" json:"customer_id"`
	MerchantScopeID int64           `gorm:"index:idx_movement_owner,priority:2;not null" json:"merchant_scope_id"`
	DepositID       *int64          `gorm:"index" json:"deposit_id,omitempty"`
	GiftCardID      *int64          `gorm:"index" json:"gift_card_id,omitempty"`
	PaymentID       *string         `gorm:"type:char(36);index" json:"payment_id,omitempty"`
	CreatedAt       time.Time       `gorm:"index;not null" json:"created_at"`

	Customer *Customer `gorm:"foreignKey:CustomerID" json:"-"`
	Deposit  *Deposit  `gorm:"foreignKey:DepositID" json:"-"`
	GiftCard *GiftCard `gorm:"foreignKey:GiftCardID" json:"-"`
	Payment  *Payment  `gorm:"foreignKey:PaymentID" json:"-"`
}

func (Movement) TableName() string {
	return "movements"
}
