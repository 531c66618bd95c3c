package main

import (
	"encoding/json"
	"io"

	"debitledger/internal/infrastructure/database"
	"debitledger/internal/job"
	"debitledger/internal/service"

	"github.com/spf13/cobra"
)

func newReconcileCmd(opts *rootOptions) *cobra.Command {
	var (
		customerID int64
		scopeID    int64
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Replay a customer's movements and compare them with stored balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.bootstrap()
			if err != nil {
				return err
			}
			defer app.close()

			ledger := service.NewLedger(service.Options{
				DB:        app.db,
				TxOptions: database.TxOptions(app.cfg.Ledger.IsolationLevel),
				Logger:    app.logger,
			})

			var scope *int64
			if scopeID > 0 {
				scope = &scopeID
			}
			report, err := ledger.Reconciler.Reconcile(cmd.Context(), customerID, scope)
			if err != nil {
				return err
			}

			return writeReport(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().Int64Var(&customerID, "customer", 0, "客户 ID")
	cmd.Flags().Int64Var(&scopeID, "scope", 0, "商户范围 ID，不传则汇总全部范围")
	_ = cmd.MarkFlagRequired("customer")
	return cmd
}

// writeReport 输出报告，不平时返回 job.ErrLedgerMismatch 让进程以非零码退出
func writeReport(w io.Writer, report *service.ReconciliationReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if !report.Balanced() {
		return job.ErrLedgerMismatch
	}
	return nil
}
