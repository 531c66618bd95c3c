package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"debitledger/internal/job"

	"github.com/spf13/cobra"
)

func newOutboxCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and requeue ledger events that exhausted their retries",
	}
	cmd.AddCommand(newOutboxFailedCmd(opts))
	cmd.AddCommand(newOutboxRequeueCmd(opts))
	return cmd
}

func newOutboxFailedCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "failed",
		Short: "List FAILED outbox messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.bootstrap()
			if err != nil {
				return err
			}
			defer app.close()

			// 只读写 outbox 表，不需要 Kafka
			sender := job.NewOutboxSender(app.db, nil, app.cfg.Business, app.logger)
			messages, err := sender.Failed(cmd.Context(), limit)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(messages)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "最多返回条数")
	return cmd
}

func newOutboxRequeueCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <id>",
		Short: "Put a FAILED outbox message back into the send queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid outbox id %q: %w", args[0], err)
			}

			app, err := opts.bootstrap()
			if err != nil {
				return err
			}
			defer app.close()

			sender := job.NewOutboxSender(app.db, nil, app.cfg.Business, app.logger)
			if err := sender.Requeue(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "outbox message %d requeued\n", id)
			return nil
		},
	}
}
