// Package testutil 提供基于内存 SQLite 的 gorm 连接与数据构造，仅供测试使用。
package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"debitledger/internal/infrastructure/database"
	"debitledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq int64

// NewDB 每个测试一个独立的内存库，单连接保证事务串行
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, atomic.AddInt64(&dbSeq, 1))

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// Amount 测试里用字符串写金额
func Amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Fixtures 绕过业务层直接落库，用于构造前置状态
type Fixtures struct {
	DB *gorm.DB
	t  *testing.T
}

func NewFixtures(t *testing.T, db *gorm.DB) *Fixtures {
	return &Fixtures{DB: db, t: t}
}

func (f *Fixtures) create(v interface{}) {
	f.t.Helper()
	if err := f.DB.Create(v).Error; err != nil {
		f.t.Fatalf("create fixture %T: %v", v, err)
	}
}

func (f *Fixtures) Customer(externalID string) *model.Customer {
	f.t.Helper()
	c := &model.Customer{ExternalID: externalID}
	f.create(c)
	return c
}

func (f *Fixtures) Scope(externalID, name string) *model.MerchantScope {
	f.t.Helper()
	s := &model.MerchantScope{ExternalID: externalID, Name: name}
	f.create(s)
	return s
}

func (f *Fixtures) Deposit(customerID, scopeID int64, amount string, createdAt time.Time) *model.Deposit {
	f.t.Helper()
	d := &model.Deposit{
		CustomerID:       customerID,
		MerchantScopeID:  scopeID,
		Amount:           Amount(amount),
		AmountUsed:       decimal.Zero,
		CaptureReference: fmt.Sprintf("cap_%d", atomic.AddInt64(&dbSeq, 1)),
		Active:           true,
		CreatedAt:        createdAt.UTC(),
	}
	f.create(d)
	return d
}

func (f *Fixtures) GiftCard(customerID, scopeID int64, key, amount string, expiresAt time.Time) *model.GiftCard {
	f.t.Helper()
	g := &model.GiftCard{
		CardKey:         key,
		CustomerID:      customerID,
		MerchantScopeID: scopeID,
		Amount:          Amount(amount),
		AmountUsed:      decimal.Zero,
		ExpirationAt:    expiresAt.UTC(),
		CreatedAt:       expiresAt.UTC().Add(-15 * 24 * time.Hour),
	}
	f.create(g)
	return g
}

// Reload 按主键重新读取
func (f *Fixtures) Reload(dest interface{}, id interface{}) {
	f.t.Helper()
	if err := f.DB.First(dest, "id = ?", id).Error; err != nil {
		f.t.Fatalf("reload %T: %v", dest, err)
	}
}

func (f *Fixtures) Count(v interface{}, query string, args ...interface{}) int64 {
	f.t.Helper()
	var n int64
	q := f.DB.Model(v)
	if query != "" {
		q = q.Where(query, args...)
	}
	if err := q.Count(&n).Error; err != nil {
		f.t.Fatalf("count %T: %v", v, err)
	}
	return n
}
