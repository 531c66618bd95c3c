package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"debitledger/internal/infrastructure/gateway"
	"debitledger/internal/model"
	"debitledger/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testEpoch = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

var testTopics = Topics{Movements: "ledger.movements", Alerts: "ledger.alerts"}

type capturedAlert struct {
	err    error
	tags   map[string]string
	extras map[string]interface{}
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []capturedAlert
}

func (a *recordingAlerter) Capture(_ context.Context, err error, tags map[string]string, extras map[string]interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, capturedAlert{err: err, tags: tags, extras: extras})
}

func (a *recordingAlerter) captured() []capturedAlert {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]capturedAlert(nil), a.alerts...)
}

type fakeGateway struct {
	ref   string
	err   error
	calls []gateway.ChargeRequest
}

func (g *fakeGateway) Charge(_ context.Context, req gateway.ChargeRequest) (string, error) {
	g.calls = append(g.calls, req)
	if g.err != nil {
		return "", g.err
	}
	return g.ref, nil
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	db       *gorm.DB
	fx       *testutil.Fixtures
	ledger   *Ledger
	alerts   *recordingAlerter
	gw       *fakeGateway
	now      time.Time
	customer *model.Customer
	scope    *model.MerchantScope
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.NewDB(t)
	h := &harness{
		t:      t,
		ctx:    context.Background(),
		db:     db,
		fx:     testutil.NewFixtures(t, db),
		alerts: &recordingAlerter{},
		gw:     &fakeGateway{ref: "ch_test_001"},
		now:    testEpoch,
	}
	h.ledger = NewLedger(Options{
		DB:               db,
		Gateway:          h.gw,
		Alerter:          h.alerts,
		Topics:           testTopics,
		GiftCardValidity: 15 * 24 * time.Hour,
		Clock:            func() time.Time { return h.now },
	})
	h.customer = h.fx.Customer("cus_001")
	h.scope = h.fx.Scope("legal_001", "Acme Coffee")
	return h
}

func (h *harness) advance(d time.Duration) {
	h.now = h.now.Add(d)
}

// deposit 每笔存款间隔一分钟，保证 created_at 严格递增
func (h *harness) deposit(amount string) *model.Deposit {
	h.t.Helper()
	h.advance(time.Minute)
	d, err := h.ledger.Deposits.FundDeposit(h.ctx, FundDepositRequest{
		CustomerID:       h.customer.ID,
		MerchantScopeID:  h.scope.ID,
		Amount:           testutil.Amount(amount),
		CaptureReference: "cap_" + amount,
	})
	require.NoError(h.t, err)
	return d
}

func (h *harness) reserve(amount string) (*model.Payment, error) {
	return h.ledger.Reservations.Reserve(h.ctx, ReserveRequest{
		MerchantScopeID: h.scope.ID,
		Amount:          testutil.Amount(amount),
		Source:          CustomerFunds(h.customer.ID),
		RequestedBy:     "merchant_app",
	})
}

func (h *harness) reserveCard(key, amount string) (*model.Payment, error) {
	return h.ledger.Reservations.Reserve(h.ctx, ReserveRequest{
		MerchantScopeID: h.scope.ID,
		Amount:          testutil.Amount(amount),
		Source:          GiftCardFunds(key),
		RequestedBy:     "merchant_app",
	})
}

func (h *harness) issueCard(amount string) *model.GiftCard {
	h.t.Helper()
	card, err := h.ledger.GiftCards.IssueGiftCard(h.ctx, IssueGiftCardRequest{
		CustomerID:      h.customer.ID,
		MerchantScopeID: h.scope.ID,
		Amount:          testutil.Amount(amount),
	})
	require.NoError(h.t, err)
	return card
}

func (h *harness) balance() *BalanceView {
	h.t.Helper()
	view, err := h.ledger.Balances.GetBalance(h.ctx, h.customer.ID, &h.scope.ID, nil)
	require.NoError(h.t, err)
	return view
}

func (h *harness) reload(id int64) *model.Deposit {
	h.t.Helper()
	var d model.Deposit
	h.fx.Reload(&d, id)
	return &d
}

func (h *harness) requireBalanced() {
	h.t.Helper()
	report, err := h.ledger.Reconciler.Reconcile(h.ctx, h.customer.ID, nil)
	require.NoError(h.t, err)
	require.Truef(h.t, report.Balanced(), "mismatches: %v", report.Mismatches)
}

// tableSnapshot 全部可变表的内容，用于断言失败调用没有副作用
type tableSnapshot struct {
	Deposits  []model.Deposit
	GiftCards []model.GiftCard
	Payments  []model.Payment
	Tracks    []model.PaymentFundsTrack
	Movements []model.Movement
	Outbox    []model.OutboxMessage
}

func (h *harness) snapshot() tableSnapshot {
	h.t.Helper()
	var s tableSnapshot
	for _, dest := range []interface{}{&s.Deposits, &s.GiftCards, &s.Payments, &s.Tracks, &s.Movements, &s.Outbox} {
		require.NoError(h.t, h.db.Order("id").Find(dest).Error)
	}
	return s
}

func requireCode(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	le, ok := AsLedgerError(err)
	require.Truef(t, ok, "expected %s, got %v", code, err)
	require.Equal(t, code, le.Code, le.Error())
}

func assertAmount(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Equal(t, want, got.StringFixed(2), msgAndArgs...)
}

// readLog 记录每条 SELECT 读的表以及是否带 FOR UPDATE
type readLog struct {
	mu    sync.Mutex
	reads []string
}

func recordReads(t *testing.T, db *gorm.DB) *readLog {
	t.Helper()
	log := &readLog{}
	record := func(tx *gorm.DB) {
		entry := tx.Statement.Table
		if _, locked := tx.Statement.Clauses["FOR"]; locked {
			entry += " FOR UPDATE"
		}
		log.mu.Lock()
		log.reads = append(log.reads, entry)
		log.mu.Unlock()
	}
	require.NoError(t, db.Callback().Query().After("gorm:query").Register("test:record_reads", record))
	require.NoError(t, db.Callback().Row().After("gorm:row").Register("test:record_reads", record))
	return log
}

func (l *readLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reads = nil
}

func (l *readLog) first() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.reads) == 0 {
		return ""
	}
	return l.reads[0]
}
