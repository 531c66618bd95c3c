package model

import (
	"time"
)

// Customer 客户
// 外部身份第一次出现时创建，本系统内永不删除
type Customer struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ExternalID string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"external_id"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Customer) TableName() string {
	return "customers"
}

// MerchantScope 商户范围（法人主体），存款、礼品卡、支付都按它隔离
type MerchantScope struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ExternalID string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"external_id"`
	Name       string    `gorm:"type:varchar(128);not null" json:"name"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (MerchantScope) TableName() string {
	return "merchant_scopes"
}
