package repository

import (
	"context"
	"errors"

	"debitledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrCustomerNotFound      = errors.New("客户不存在")
	ErrMerchantScopeNotFound = errors.New("商户范围不存在")
)

type CustomerRepository struct {
	db *gorm.DB
}

func NewCustomerRepository(db *gorm.DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

func (r *CustomerRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Customer, error) {
	var customer model.Customer
	err := conn(r.db, tx).WithContext(ctx).Where("id = ?", id).First(&customer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	return &customer, nil
}

// GetByIDForUpdate 锁住客户行，同一客户的预留、发卡、结算在此串行
func (r *CustomerRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.Customer, error) {
	var customer model.Customer
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&customer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	return &customer, nil
}

func (r *CustomerRepository) GetByExternalID(ctx context.Context, externalID string) (*model.Customer, error) {
	var customer model.Customer
	err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&customer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	return &customer, nil
}

// GetOrCreate 并发首次出现时依赖唯一索引 + DO NOTHING，最终都读回同一行
func (r *CustomerRepository) GetOrCreate(ctx context.Context, externalID string) (*model.Customer, error) {
	customer, err := r.GetByExternalID(ctx, externalID)
	if err == nil {
		return customer, nil
	}

	if !errors.Is(err, ErrCustomerNotFound) {
		return nil, err
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}},
			DoNothing: true,
		}).
		Create(&model.Customer{ExternalID: externalID}).Error
	if err != nil {
		return nil, err
	}

	return r.GetByExternalID(ctx, externalID)
}

type MerchantScopeRepository struct {
	db *gorm.DB
}

func NewMerchantScopeRepository(db *gorm.DB) *MerchantScopeRepository {
	return &MerchantScopeRepository{db: db}
}

func (r *MerchantScopeRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.MerchantScope, error) {
	var scope model.MerchantScope
	err := conn(r.db, tx).WithContext(ctx).Where("id = ?", id).First(&scope).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMerchantScopeNotFound
		}
		return nil, err
	}
	return &scope, nil
}

func (r *MerchantScopeRepository) GetByExternalID(ctx context.Context, externalID string) (*model.MerchantScope, error) {
	var scope model.MerchantScope
	err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&scope).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMerchantScopeNotFound
		}
		return nil, err
	}
	return &scope, nil
}

func (r *MerchantScopeRepository) ListByIDs(ctx context.Context, tx *gorm.DB, ids []int64) ([]*model.MerchantScope, error) {
	var scopes []*model.MerchantScope
	if len(ids) == 0 {
		return scopes, nil
	}
	err := conn(r.db, tx).WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&scopes).Error
	return scopes, err
}

// Upsert 目录同步写入，external_id 冲突时只更新名称
func (r *MerchantScopeRepository) Upsert(ctx context.Context, externalID, name string) (*model.MerchantScope, error) {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "updated_at"}),
		}).
		Create(&model.MerchantScope{ExternalID: externalID, Name: name}).Error
	if err != nil {
		return nil, err
	}
	return r.GetByExternalID(ctx, externalID)
}
