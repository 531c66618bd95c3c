package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"debitledger/internal/infrastructure/alert"
	"debitledger/internal/infrastructure/gateway"
	"debitledger/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Locker 按 key 串行化临界区，release 必须被调用
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

type nopLocker struct{}

func (nopLocker) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}

func reservationLockKey(customerID, scopeID int64) string {
	return fmt.Sprintf("ledger:lock:customer:%d:scope:%d", customerID, scopeID)
}

type Clock func() time.Time

func utcNow() time.Time {
	return time.Now().UTC()
}

// Topics outbox 事件的 Kafka 主题
type Topics struct {
	Movements string
	Alerts    string
}

type Options struct {
	DB               *gorm.DB
	TxOptions        *sql.TxOptions
	Locker           Locker
	Gateway          gateway.CaptureGateway
	Alerter          alert.Alerter
	Logger           *zap.Logger
	Topics           Topics
	GiftCardValidity time.Duration
	Clock            Clock
}

// unitOfWork 每个公开操作一个事务，事务内的读写都必须使用同一个 tx
type unitOfWork struct {
	db     *gorm.DB
	txOpts *sql.TxOptions
}

func (u unitOfWork) run(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	err := u.db.WithContext(ctx).Transaction(fn, u.txOpts)
	return storageError(op, err)
}

type repos struct {
	customers *repository.CustomerRepository
	scopes    *repository.MerchantScopeRepository
	deposits  *repository.DepositRepository
	giftCards *repository.GiftCardRepository
	payments  *repository.PaymentRepository
	movements *repository.MovementRepository
	outbox    *repository.OutboxRepository
}

// Ledger 账本各组件的组合，handler 与 job 通过它访问
type Ledger struct {
	Balances     *BalanceCalculator
	Movements    *MovementLog
	Reconciler   *Reconciler
	Deposits     *DepositService
	GiftCards    *GiftCardService
	Reservations *ReservationManager
	Settlement   *SettlementAllocator
	Payments     *PaymentService
	Customers    *CustomerDirectory
	Merchants    *MerchantDirectory
}

func NewLedger(opts Options) *Ledger {
	if opts.Locker == nil {
		opts.Locker = nopLocker{}
	}
	if opts.Alerter == nil {
		opts.Alerter = alert.NopAlerter{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = utcNow
	}
	if opts.GiftCardValidity <= 0 {
		opts.GiftCardValidity = 15 * 24 * time.Hour
	}

	r := repos{
		customers: repository.NewCustomerRepository(opts.DB),
		scopes:    repository.NewMerchantScopeRepository(opts.DB),
		deposits:  repository.NewDepositRepository(opts.DB),
		giftCards: repository.NewGiftCardRepository(opts.DB),
		payments:  repository.NewPaymentRepository(opts.DB),
		movements: repository.NewMovementRepository(opts.DB),
		outbox:    repository.NewOutboxRepository(opts.DB),
	}
	uow := unitOfWork{db: opts.DB, txOpts: opts.TxOptions}
	clock := func() time.Time { return opts.Clock().UTC() }

	balances := &BalanceCalculator{unitOfWork: uow, repos: r, logger: opts.Logger.Named("balance"), clock: clock}
	movements := &MovementLog{repos: r, topics: opts.Topics, clock: clock}
	settlement := &SettlementAllocator{deposits: r.deposits, payments: r.payments}

	return &Ledger{
		Balances:   balances,
		Movements:  movements,
		Reconciler: &Reconciler{unitOfWork: uow, repos: r},
		Deposits: &DepositService{
			unitOfWork: uow, repos: r, movementLog: movements, gateway: opts.Gateway,
			logger: opts.Logger.Named("deposit"), clock: clock,
		},
		GiftCards: &GiftCardService{
			unitOfWork: uow, repos: r, balances: balances, movementLog: movements, locker: opts.Locker,
			validity: opts.GiftCardValidity, logger: opts.Logger.Named("gift_card"), clock: clock,
		},
		Reservations: &ReservationManager{
			unitOfWork: uow, repos: r, balances: balances, movementLog: movements, locker: opts.Locker,
			logger: opts.Logger.Named("reservation"), clock: clock,
		},
		Settlement: settlement,
		Payments: &PaymentService{
			unitOfWork: uow, repos: r, allocator: settlement, movementLog: movements, alerter: opts.Alerter,
			logger: opts.Logger.Named("payment"), clock: clock,
		},
		Customers: &CustomerDirectory{customers: r.customers},
		Merchants: &MerchantDirectory{scopes: r.scopes},
	}
}
