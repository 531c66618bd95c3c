package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// GiftCard 礼品卡
// 一次性使用：结算时写入 amount_used 并置 redeemed，之后不再变更
type GiftCard struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	CardKey         string          `gorm:"column:card_key;type:varchar(32);uniqueIndex;not null" json:"key"`
	CustomerID      int64           `gorm:"index;not null" json:"customer_id"`
	MerchantScopeID int64           `gorm:"index;not null" json:"merchant_scope_id"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	AmountUsed      decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount_used"`
	Redeemed        bool            `gorm:"not null" json:"redeemed"`
	ExpirationAt    time.Time       `gorm:"index;not null" json:"expiration_at"`
	CreatedAt       time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Customer      *Customer      `gorm:"foreignKey:CustomerID" json:"-"`
	MerchantScope *MerchantScope `gorm:"foreignKey:MerchantScopeID" json:"-"`
}

func (GiftCard) TableName() string {
	return "gift_cards"
}

// IsExpired now 严格晚于过期时间才算过期
func (g *GiftCard) IsExpired(now time.Time) bool {
	return now.After(g.ExpirationAt)
}

// Committed 未兑换且未过期的卡占用客户余额
func (g *GiftCard) Committed(asOf time.Time) bool {
	return !g.Redeemed && !g.IsExpired(asOf)
}
