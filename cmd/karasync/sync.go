package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/agentworkforce/karasync/internal/karakeep"
	"github.com/agentworkforce/karasync/internal/reconcile"
	"github.com/agentworkforce/karasync/internal/source"
	"github.com/agentworkforce/karasync/internal/state"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one synchronization pass and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		logger, closeLogger := newLogger(cfg)
		defer closeLogger()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		runner, cleanup, err := newRunner(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		summary, err := runner.Run(ctx)
		if err != nil {
			return err
		}
		printSummary(summary)
		return nil
	},
}

// newRunner wires the collaborators for one or more runs. A failure here is
// a setup failure: the process should exit non-zero without touching the
// watermark.
func newRunner(ctx context.Context, cfg Config, logger *log.Logger) (*reconcile.Reconciler, func(), error) {
	reader, err := source.Open(ctx, cfg.SourceBackend, cfg.sourceLocation())
	if err != nil {
		return nil, nil, fmt.Errorf("source database connection failed: %w", err)
	}
	store, err := state.NewStoreFromDSN(cfg.StateDSN, logger)
	if err != nil {
		_ = reader.Close()
		return nil, nil, err
	}
	client := karakeep.NewClient(karakeep.ClientOptions{
		BaseURL:    cfg.KarakeepURL,
		APIKey:     cfg.KarakeepKey,
		PageDelay:  cfg.PageDelay,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	runner, err := reconcile.New(reconcile.Options{
		Source:         reader,
		Destination:    client,
		State:          store,
		ListName:       cfg.ListName,
		MaxTitleLength: cfg.MaxTitleLength,
		RecordDelay:    cfg.RecordDelay,
		Logger:         logger,
	})
	if err != nil {
		_ = reader.Close()
		_ = store.Close()
		return nil, nil, err
	}
	cleanup := func() {
		_ = reader.Close()
		_ = store.Close()
	}
	return runner, cleanup, nil
}

func printSummary(sum reconcile.Summary) {
	fmt.Printf("Chats found:    %d\n", sum.Found)
	fmt.Printf("Sync attempted: %d\n", sum.Attempted)
	if sum.Synced > 0 {
		fmt.Printf("Synced:         %s\n", color.GreenString("%d", sum.Synced))
	} else {
		fmt.Printf("Synced:         %d\n", sum.Synced)
	}
	if sum.Failed > 0 {
		fmt.Printf("Failed:         %s\n", color.RedString("%d", sum.Failed))
	} else {
		fmt.Printf("Failed:         %d\n", sum.Failed)
	}
	if sum.Advanced {
		fmt.Printf("Watermark:      %s\n", state.ISOTimestamp(sum.Watermark))
	} else {
		fmt.Printf("Watermark:      unchanged\n")
	}
	fmt.Printf("Duration:       %s\n", sum.Duration.Round(time.Millisecond))
}
