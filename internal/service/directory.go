package service

import (
	"context"
	"errors"
	"strings"

	"debitledger/internal/model"
	"debitledger/internal/repository"
)

// CustomerDirectory 外部身份到客户的映射，首次出现时创建
type CustomerDirectory struct {
	customers *repository.CustomerRepository
}

func (d *CustomerDirectory) ResolveExternalCustomer(ctx context.Context, externalID string) (*model.Customer, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, newError(CodeCustomerNotFound, "external id is empty", nil)
	}
	customer, err := d.customers.GetOrCreate(ctx, externalID)
	if err != nil {
		return nil, storageError("resolve customer", err)
	}
	return customer, nil
}

// MerchantDirectory 商户范围的本地镜像，由外部目录同步写入
type MerchantDirectory struct {
	scopes *repository.MerchantScopeRepository
}

func (d *MerchantDirectory) Resolve(ctx context.Context, externalID string) (*model.MerchantScope, error) {
	scope, err := d.scopes.GetByExternalID(ctx, externalID)
	if errors.Is(err, repository.ErrMerchantScopeNotFound) {
		return nil, newError(CodeMerchantScopeNotFound, "", fields{"external_id": externalID})
	}
	if err != nil {
		return nil, storageError("resolve merchant scope", err)
	}
	return scope, nil
}

func (d *MerchantDirectory) Upsert(ctx context.Context, externalID, name string) (*model.MerchantScope, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, newError(CodeMerchantScopeNotFound, "external id is empty", nil)
	}
	scope, err := d.scopes.Upsert(ctx, externalID, name)
	if err != nil {
		return nil, storageError("upsert merchant scope", err)
	}
	return scope, nil
}
