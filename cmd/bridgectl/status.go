package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/mpesa-token-bridge/internal/data/mongo"
	"github.com/mpesa-token-bridge/internal/domain/payment"
	"github.com/mpesa-token-bridge/internal/domain/workflow"
	"github.com/mpesa-token-bridge/internal/platform/persistence"
)

var errNoRecord = errors.New("no transaction record found")

func statusCmd() *cobra.Command {
	var (
		byReference bool
		withEvents  bool
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "status [request-id]",
		Short: "Show a transaction record",
		Long: `Show the durable record of one STK push.

Examples:
  bridgectl status ws_CO_191220191020363925
  bridgectl status order-1001 --reference --events`,
		Args: cobra.ExactArgs(1),
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

			var rec *payment.TransactionRecord
			if byReference {
				rec, err = store.FindByReference(ctx, args[0])
			} else {
				rec, err = store.FindByRequestID(ctx, args[0])
			}
			if err != nil {
				if errors.Is(err, payment.ErrRecordNotFound{}) {
					return fmt.Errorf("%w: %s", errNoRecord, args[0])
				}
				return fmt.Errorf("failed to read transaction record: %w", err)
			}

			var events []*workflow.Event
			if withEvents {
				mongoDB, err := persistence.NewMongoDB(ctx, env.log, &env.cfg.MongoDB)
				if err != nil {
					return err
				}
				defer mongoDB.Close(ctx)

				events, err = mongo.NewWorkflowEventRepository(env.log, mongoDB.Database()).ListByRequestID(ctx, rec.RequestID)
				if err != nil {
					return fmt.Errorf("failed to read workflow events: %w", err)
				}
			}

			if asJSON {
				return writeStatusJSON(cmd.OutOrStdout(), rec, events)
			}
			writeStatus(cmd.OutOrStdout(), rec, events)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&byReference, "reference", "r", false, "treat the argument as the caller reference")
	cmd.Flags().BoolVarP(&withEvents, "events", "e", false, "include the workflow audit log")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func writeStatusJSON(w io.Writer, rec *payment.TransactionRecord, events []*workflow.Event) error {
	output := struct {
		Record *payment.TransactionRecord `json:"record"`
		Events []*workflow.Event          `json:"events,omitempty"`
	}{
		Record: rec,
		Events: events,
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}

func writeStatus(w io.Writer, rec *payment.TransactionRecord, events []*workflow.Event) {
	fmt.Fprintf(w, "Request ID:   %s\n", rec.RequestID)
	fmt.Fprintf(w, "Reference:    %s\n", rec.Reference)
	fmt.Fprintf(w, "Payer:        %s\n", rec.PayerIdentifier)
	fmt.Fprintf(w, "Destination:  %s\n", rec.DestinationAccountID)
	fmt.Fprintf(w, "Amount:       %d\n", rec.Amount)
	fmt.Fprintf(w, "Status:       %s\n", rec.Status)
	if rec.ResultCode != nil {
		fmt.Fprintf(w, "Result:       %d %s\n", *rec.ResultCode, deref(rec.ResultDescription))
	}
	if rec.SettlementReceiptID != nil {
		fmt.Fprintf(w, "Receipt:      %s\n", *rec.SettlementReceiptID)
	}
	fmt.Fprintf(w, "Transfer:     %s %s\n", rec.TransferStatus, rec.TransferAmount.String())
	if rec.TransferReceiptID != nil {
		fmt.Fprintf(w, "Transfer tx:  %s\n", *rec.TransferReceiptID)
	}
	if rec.TransferError != nil {
		fmt.Fprintf(w, "Transfer err: %s\n", *rec.TransferError)
	}
	fmt.Fprintf(w, "Created:      %s\n", rec.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Updated:      %s\n", rec.UpdatedAt.Format(time.RFC3339))

	if len(events) == 0 {
		return
	}
	fmt.Fprintln(w, "\nEvents:")
	for _, e := range events {
		fmt.Fprintf(w, "  %s  %-20s %s\n", e.OccurredAt.Format(time.RFC3339), e.State, e.Detail)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
