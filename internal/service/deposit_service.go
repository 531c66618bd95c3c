package service

import (
	"context"
	"errors"
	"fmt"

	"debitledger/internal/infrastructure/gateway"
	"debitledger/internal/model"
	"debitledger/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type FundDepositRequest struct {
	CustomerID       int64
	MerchantScopeID  int64
	Amount           decimal.Decimal
	CaptureReference string
}

type TopUpRequest struct {
	CustomerID      int64
	MerchantScopeID int64
	Amount          decimal.Decimal
	SourceRef       string
}

type DepositService struct {
	unitOfWork
	repos
	movementLog *MovementLog
	gateway     gateway.CaptureGateway
	logger      *zap.Logger
	clock       Clock
}

// FundDeposit 外部网关确认扣款后入账
func (s *DepositService) FundDeposit(ctx context.Context, req FundDepositRequest) (*model.Deposit, error) {
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}

	var deposit *model.Deposit
	err := s.run(ctx, "fund deposit", func(tx *gorm.DB) error {
		if _, err := s.customer(ctx, tx, req.CustomerID); err != nil {
			return err
		}
		scope, err := s.scope(ctx, tx, req.MerchantScopeID)
		if err != nil {
			return err
		}

		deposit = &model.Deposit{
			CustomerID:       req.CustomerID,
			MerchantScopeID:  req.MerchantScopeID,
			Amount:           req.Amount,
			AmountUsed:       decimal.Zero,
			CaptureReference: req.CaptureReference,
			Active:           true,
			CreatedAt:        s.clock(),
		}
		if err := s.deposits.Create(ctx, tx, deposit); err != nil {
			return err
		}

		return s.movementLog.Append(ctx, tx, &model.Movement{
			Type:            model.MovementTypeDeposit,
			Amount:          req.Amount,
			Description:     fmt.Sprintf("deposit of %s in %s", req.Amount.StringFixed(2), scope.Name),
			CustomerID:      req.CustomerID,
			MerchantScopeID: req.MerchantScopeID,
			DepositID:       &deposit.ID,
			CreatedAt:       deposit.CreatedAt,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("存款入账",
		zap.Int64("deposit_id", deposit.ID),
		zap.Int64("customer_id", req.CustomerID),
		zap.Int64("scope_id", req.MerchantScopeID),
		zap.String("amount", req.Amount.String()),
		zap.String("capture_reference", req.CaptureReference))
	return deposit, nil
}

// TopUp 先向网关扣款，成功后入账；网关拒绝时不写任何数据
func (s *DepositService) TopUp(ctx context.Context, req TopUpRequest) (*model.Deposit, error) {
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}
	customer, err := s.customer(ctx, nil, req.CustomerID)
	if err != nil {
		return nil, err
	}
	scope, err := s.scope(ctx, nil, req.MerchantScopeID)
	if err != nil {
		return nil, err
	}
	if s.gateway == nil {
		return nil, newError(CodeCaptureUnavailable, "no capture gateway configured", nil)
	}

	captureRef, err := s.gateway.Charge(ctx, gateway.ChargeRequest{
		CustomerExternalID: customer.ExternalID,
		SourceRef:          req.SourceRef,
		Amount:             req.Amount,
		Description:        fmt.Sprintf("top-up %s", scope.Name),
	})
	if err != nil {
		f := fields{"customer_id": req.CustomerID, "merchant_scope_id": req.MerchantScopeID, "amount": req.Amount}
		if errors.Is(err, gateway.ErrChargeDeclined) {
			return nil, &LedgerError{Code: CodeCaptureDeclined, Fields: f, Err: err}
		}
		return nil, &LedgerError{Code: CodeCaptureUnavailable, Fields: f, Err: err}
	}

	deposit, err := s.FundDeposit(ctx, FundDepositRequest{
		CustomerID:       req.CustomerID,
		MerchantScopeID:  req.MerchantScopeID,
		Amount:           req.Amount,
		CaptureReference: captureRef,
	})
	if err != nil {
		// 钱已经扣了但没入账，需要人工按 capture_reference 补录
		s.logger.Error("扣款成功但存款入账失败",
			zap.Int64("customer_id", req.CustomerID),
			zap.Int64("scope_id", req.MerchantScopeID),
			zap.String("amount", req.Amount.String()),
			zap.String("capture_reference", captureRef),
			zap.Error(err))
		return nil, err
	}
	return deposit, nil
}

func (s *DepositService) ListDeposits(ctx context.Context, customerID int64, page, pageSize int) ([]*model.Deposit, int64, error) {
	if _, err := s.customer(ctx, nil, customerID); err != nil {
		return nil, 0, err
	}
	deposits, total, err := s.deposits.ListByCustomer(ctx, customerID, page, pageSize)
	if err != nil {
		return nil, 0, storageError("list deposits", err)
	}
	return deposits, total, nil
}

func (s *DepositService) GetDeposit(ctx context.Context, customerID, depositID int64) (*model.Deposit, error) {
	deposit, err := s.deposits.GetByIDAndCustomer(ctx, depositID, customerID)
	if errors.Is(err, repository.ErrDepositNotFound) {
		return nil, newError(CodeDepositNotFound, "", fields{"customer_id": customerID, "deposit_id": depositID})
	}
	if err != nil {
		return nil, storageError("load deposit", err)
	}
	return deposit, nil
}
