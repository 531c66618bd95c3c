package service

import (
	"context"
	"errors"

	"debitledger/internal/model"
	"debitledger/internal/repository"

	"gorm.io/gorm"
)

func (r repos) customer(ctx context.Context, tx *gorm.DB, id int64) (*model.Customer, error) {
	customer, err := r.customers.GetByID(ctx, tx, id)
	if errors.Is(err, repository.ErrCustomerNotFound) {
		return nil, newError(CodeCustomerNotFound, "", fields{"customer_id": id})
	}
	return customer, storageError("load customer", err)
}

func (r repos) lockCustomer(ctx context.Context, tx *gorm.DB, id int64) (*model.Customer, error) {
	customer, err := r.customers.GetByIDForUpdate(ctx, tx, id)
	if errors.Is(err, repository.ErrCustomerNotFound) {
		return nil, newError(CodeCustomerNotFound, "", fields{"customer_id": id})
	}
	return customer, storageError("lock customer", err)
}

func (r repos) scope(ctx context.Context, tx *gorm.DB, id int64) (*model.MerchantScope, error) {
	scope, err := r.scopes.GetByID(ctx, tx, id)
	if errors.Is(err, repository.ErrMerchantScopeNotFound) {
		return nil, newError(CodeMerchantScopeNotFound, "", fields{"merchant_scope_id": id})
	}
	return scope, storageError("load merchant scope", err)
}

// maskKey 错误和日志里只保留卡号后四位
func maskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****-****-****-" + key[len(key)-4:]
}
