package job

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"debitledger/internal/config"
	"debitledger/internal/infrastructure/alert"
	"debitledger/internal/service"

	"go.uber.org/zap"
)

var ErrLedgerMismatch = errors.New("movement replay does not match stored balances")

// ReconcileAuditJob 定期对最近有流水的客户做回放对账，只告警不修正
type ReconcileAuditJob struct {
	reconciler *service.Reconciler
	alerter    alert.Alerter
	logger     *zap.Logger
	stopCh     chan struct{}
	stopOnce   sync.Once
	interval   time.Duration
	lookback   time.Duration
	batchSize  int
	now        func() time.Time
}

func NewReconcileAuditJob(reconciler *service.Reconciler, alerter alert.Alerter, cfg config.BusinessConfig, logger *zap.Logger) *ReconcileAuditJob {
	j := &ReconcileAuditJob{
		reconciler: reconciler,
		alerter:    alerter,
		logger:     logger.Named("reconcile_audit"),
		stopCh:     make(chan struct{}),
		interval:   cfg.AuditInterval,
		lookback:   cfg.AuditLookback,
		batchSize:  cfg.AuditBatchSize,
		now:        func() time.Time { return time.Now().UTC() },
	}
	if j.interval <= 0 {
		j.interval = 10 * time.Minute
	}
	if j.lookback <= 0 {
		j.lookback = 24 * time.Hour
	}
	if j.batchSize <= 0 {
		j.batchSize = 500
	}
	if j.alerter == nil {
		j.alerter = alert.NopAlerter{}
	}
	return j
}

func (j *ReconcileAuditJob) Start(ctx context.Context) {
	j.logger.Info("对账任务启动", zap.Duration("interval", j.interval), zap.Duration("lookback", j.lookback))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.logger.Info("任务停止")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

func (j *ReconcileAuditJob) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
}

// RunOnce 返回本轮检查的客户数和不平的客户数
func (j *ReconcileAuditJob) RunOnce(ctx context.Context) (checked, mismatched int) {
	customerIDs, err := j.reconciler.ActiveCustomers(ctx, j.now().Add(-j.lookback), j.batchSize)
	if err != nil {
		j.logger.Error("查询活跃客户失败", zap.Error(err))
		return 0, 0
	}
	if len(customerIDs) == 0 {
		return 0, 0
	}

	for _, customerID := range customerIDs {
		if ctx.Err() != nil {
			break
		}
		report, err := j.reconciler.Reconcile(ctx, customerID, nil)
		if err != nil {
			j.logger.Error("对账失败", zap.Int64("customer_id", customerID), zap.Error(err))
			continue
		}
		checked++
		if report.Balanced() {
			continue
		}
		mismatched++
		j.report(ctx, report)
	}

	j.logger.Info("本轮对账完成", zap.Int("checked", checked), zap.Int("mismatched", mismatched))
	return checked, mismatched
}

func (j *ReconcileAuditJob) report(ctx context.Context, report *service.ReconciliationReport) {
	j.logger.Error("流水回放与余额不一致",
		zap.Int64("customer_id", report.CustomerID),
		zap.Strings("mismatches", report.Mismatches))

	j.alerter.Capture(ctx, ErrLedgerMismatch,
		map[string]string{"job": "reconcile_audit"},
		map[string]interface{}{
			"customer_id": report.CustomerID,
			"mismatches":  strings.Join(report.Mismatches, "; "),
			"replayed":    report.Replayed,
			"stored":      report.Stored,
		})
}
