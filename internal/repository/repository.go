package repository

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// conn 事务内用 tx，否则退回到仓储自己的连接
func conn(db, tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return db
	}
	return tx
}

type sumResult struct {
	Total decimal.Decimal
}

// sumOf 对已带过滤条件的查询执行 COALESCE(SUM(expr), 0)
func sumOf(query *gorm.DB, expr string) (decimal.Decimal, error) {
	var out sumResult
	err := query.Select("COALESCE(SUM(" + expr + "), 0) AS total").Scan(&out).Error
	if err != nil {
		return decimal.Zero, err
	}
	return out.Total.Round(2), nil
}

func pageOffset(page, pageSize int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * pageSize
}
