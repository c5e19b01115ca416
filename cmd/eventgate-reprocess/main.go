// eventgate-reprocess is the operator tool for dead-letter recovery: it
// drains a module's DLQ queue, replays the captured events through the
// governed publish path, and reports the outcome.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	eventgate "github.com/biotrace/eventgate"
	"github.com/biotrace/eventgate/config"
	"github.com/biotrace/eventgate/contracts"
	"github.com/biotrace/eventgate/schema"
	"github.com/biotrace/eventgate/transports/rabbitmq"
)

var (
	version = "dev"
)

func main() {
	var (
		configPath string
		user       string
		verbose    bool
	)

	rootCmd := &cobra.Command{
		Use:     "eventgate-reprocess",
		Short:   "Drain and replay dead-lettered events",
		Version: version,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to eventgate YAML config")
	rootCmd.PersistentFlags().StringVarP(&user, "user", "u", "", "Operator identity recorded in the audit trail")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	drainCmd := &cobra.Command{
		Use:   "drain",
		Short: "Drain the module's DLQ queue and reprocess every record",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrain(cmd.Context(), configPath, user, verbose)
		},
	}

	rootCmd.AddCommand(drainCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDrain(ctx context.Context, configPath, user string, verbose bool) error {
	if user == "" {
		return fmt.Errorf("--user is required: reprocessing is audited per operator")
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	transport, err := rabbitmq.Connect(cfg.Broker.URL, cfg.Broker.Exchange,
		rabbitmq.WithTransportLogger(logger))
	if err != nil {
		return err
	}
	defer transport.Close()

	registry := schema.NewHTTPRegistry(cfg.Registry.Endpoint,
		schema.WithRegistryLogger(logger),
		schema.WithFetchAttempts(cfg.Registry.FetchAttempts))

	client, err := eventgate.NewClient(cfg, transport, registry, eventgate.WithLogger(logger))
	if err != nil {
		return err
	}
	defer client.Close()

	// Pull the captured records off the wire into the store first, so the
	// replay below works against a stable snapshot.
	store := client.DlqStore()
	drained, err := transport.Drain(ctx, cfg.Reprocess.Queue, func(body []byte) error {
		record, err := contracts.UnmarshalDlqRecord(body)
		if err != nil {
			return err
		}
		if saveErr := store.Save(ctx, record); saveErr != nil {
			// Duplicate delivery of an already-drained record; ack and move on.
			logger.Debug("skipping duplicate dlq record", "dlqEventId", record.DlqEventID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("drain %s: %w", cfg.Reprocess.Queue, err)
	}
	logger.Info("dlq queue drained", "queue", cfg.Reprocess.Queue, "records", drained)

	start := time.Now()
	report, err := client.Reprocessor().BulkReprocess(ctx, cfg.Module, "", 0, user)
	if err != nil {
		return err
	}

	fmt.Printf("reprocessed %d records in %s: %d resolved, %d failed, %d skipped\n",
		report.Requested, time.Since(start).Round(time.Millisecond),
		report.Resolved, report.Failed, report.Skipped)

	if report.Failed > 0 {
		failed, listErr := store.List(ctx, cfg.Module, contracts.StatusPermanentlyFailed, 0)
		if listErr == nil {
			for _, record := range failed {
				fmt.Printf("  still failing: %s %s (%s, priority %s)\n",
					record.DlqEventID, record.EventType, record.ErrorCategory, record.Priority)
			}
		}
	}

	return nil
}
