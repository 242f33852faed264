package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mpesa-token-bridge/internal/bridge_processor/components"
	"github.com/mpesa-token-bridge/internal/bridge_processor/reconciler"
	"github.com/mpesa-token-bridge/internal/data/mongo"
	"github.com/mpesa-token-bridge/internal/platform/chain"
	"github.com/mpesa-token-bridge/internal/platform/mpesa"
	"github.com/mpesa-token-bridge/internal/platform/persistence"
	"github.com/mpesa-token-bridge/internal/platform/whatsapp"
)

func reconcileCmd() *cobra.Command {
	var drainTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass",
		Long: `Query the provider for pending records past their settlement deadline and
resume transfers for completed records that were never claimed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			store, closeStore, err := env.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			mongoDB, err := persistence.NewMongoDB(ctx, env.log, &env.cfg.MongoDB)
			if err != nil {
				return err
			}
			defer mongoDB.Close(ctx)
			eventRepo := mongo.NewWorkflowEventRepository(env.log, mongoDB.Database())

			transferer, err := chain.Dial(ctx, env.log, &env.cfg.Chain)
			if err != nil {
				return err
			}
			defer transferer.Close()

			gateway := mpesa.NewClient(env.log, &env.cfg.Mpesa, nil)
			processor := components.CreateProcessor(
				store,
				eventRepo,
				components.Collaborators{
					Gateway:   gateway,
					Notifier:  whatsapp.NewClient(env.log, &env.cfg.WhatsApp),
					Transfers: transferer,
				},
				env.log,
				env.cfg,
			)
			defer func() {
				if processor.Pool != nil {
					processor.Pool.Shutdown()
				}
			}()

			recon := reconciler.NewReconciler(
				&env.cfg.Reconciler,
				env.cfg.Workflow.SettlementTimeout,
				store,
				gateway,
				processor.Orchestrator,
				env.log,
			)

			report, runErr := recon.RunOnce(ctx)

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
			defer cancel()
			if err := processor.Orchestrator.Shutdown(shutdownCtx); err != nil {
				env.log.Warn("Failed to drain orchestrator", "error", err)
			}

			if runErr != nil {
				return fmt.Errorf("reconciliation failed: %w", runErr)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Stale pending:     %d\n", report.StalePending)
			fmt.Fprintf(out, "Settled:           %d\n", report.Settled)
			fmt.Fprintf(out, "Still pending:     %d\n", report.StillPending)
			fmt.Fprintf(out, "Transfers resumed: %d\n", report.UnclaimedResumed)
			fmt.Fprintf(out, "Failure notices:   %d\n", report.FailureNotices)
			fmt.Fprintf(out, "Errors:            %d\n", report.Errors)
			return nil
		},
	}

	cmd.Flags().DurationVar(&drainTimeout, "drain-timeout", 30*time.Second, "maximum wait for in-flight side effects")
	return cmd
}
