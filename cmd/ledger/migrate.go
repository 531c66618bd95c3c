package main

import (
	"debitledger/internal/infrastructure/database"

	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the ledger tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.bootstrap()
			if err != nil {
				return err
			}
			defer app.close()

			if err := database.Migrate(app.db); err != nil {
				return err
			}
			app.logger.Info("数据库迁移完成")
			return nil
		},
	}
}
