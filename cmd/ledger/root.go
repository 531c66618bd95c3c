package main

import (
	"fmt"

	"debitledger/internal/config"
	"debitledger/internal/infrastructure/database"
	"debitledger/internal/infrastructure/logging"
	"debitledger/pkg/idgen"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "ledger",
		Short:        "Prepaid funds ledger and payment settlement service",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config/config.yaml", "配置文件路径")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newReconcileCmd(opts))
	cmd.AddCommand(newOutboxCmd(opts))
	return cmd
}

// bootstrap 各子命令共用：配置、日志、ID 生成器、数据库
type bootstrap struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *gorm.DB
}

func (o *rootOptions) bootstrap() (*bootstrap, error) {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	if err := idgen.Init(int64(cfg.Server.WorkerID)); err != nil {
		return nil, fmt.Errorf("初始化 ID 生成器失败: %w", err)
	}

	db, err := database.InitMySQL(&cfg.MySQL, logger)
	if err != nil {
		return nil, err
	}
	return &bootstrap{cfg: cfg, logger: logger, db: db}, nil
}

func (b *bootstrap) close() {
	if sqlDB, err := b.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = b.logger.Sync()
}
