package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"debitledger/internal/handler"
	"debitledger/internal/infrastructure/alert"
	"debitledger/internal/infrastructure/cache"
	"debitledger/internal/infrastructure/database"
	"debitledger/internal/infrastructure/gateway"
	"debitledger/internal/infrastructure/lock"
	"debitledger/internal/infrastructure/mq"
	"debitledger/internal/job"
	"debitledger/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the outbox sender and the reconciliation audit",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.bootstrap()
			if err != nil {
				return err
			}
			defer app.close()
			return serve(app)
		},
	}
}

func serve(app *bootstrap) error {
	cfg, logger := app.cfg, app.logger

	if err := alert.InitSentry(cfg.Sentry); err != nil {
		return fmt.Errorf("初始化 Sentry 失败: %w", err)
	}
	defer alert.Flush(2 * time.Second)

	redisClient, err := cache.InitRedis(&cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	producer, err := mq.NewProducer(&cfg.Kafka)
	if err != nil {
		return err
	}
	defer producer.Close()

	// 没有配置网关时 TopUp 返回 CAPTURE_UNAVAILABLE，FundDeposit 不受影响
	var captureGateway gateway.CaptureGateway
	if cfg.Gateway.BaseURL != "" {
		captureGateway = gateway.NewHTTPGateway(cfg.Gateway, nil, logger.Named("gateway"))
	} else {
		logger.Warn("未配置扣款网关，充值接口不可用")
	}

	alerter := alert.NewSentryAlerter(nil)
	ledger := service.NewLedger(service.Options{
		DB:               app.db,
		TxOptions:        database.TxOptions(cfg.Ledger.IsolationLevel),
		Locker:           lock.NewRedisLocker(redisClient, cfg.Ledger.LockTTL, cfg.Ledger.LockRetryInterval, cfg.Ledger.LockMaxRetries),
		Gateway:          captureGateway,
		Alerter:          alerter,
		Logger:           logger,
		Topics:           service.Topics{Movements: cfg.Kafka.Topic.Movements, Alerts: cfg.Kafka.Topic.Alerts},
		GiftCardValidity: cfg.Ledger.GiftCardValidity(),
	})

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outboxSender := job.NewOutboxSender(app.db, producer, cfg.Business, logger)
	go outboxSender.Start(ctx)

	auditJob := job.NewReconcileAuditJob(ledger.Reconciler, alerter, cfg.Business, logger)
	go auditJob.Start(ctx)

	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handler.SetupRouter(ledger, logger),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("服务启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		return fmt.Errorf("服务启动失败: %w", err)
	}

	logger.Info("正在关闭服务...")

	// 先停后台任务，再等待进行中的请求（最多5秒）
	cancel()
	outboxSender.Stop()
	auditJob.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("服务关闭异常", zap.Error(err))
	}

	logger.Info("服务已关闭")
	return nil
}
