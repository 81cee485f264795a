package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/socialdesk/internal/ingest"
	"github.com/zulandar/socialdesk/internal/models"
)

func newFetchCmd() *cobra.Command {
	var (
		configPath string
		channel    string
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Run one fetch cycle",
		Long:  "Fetches all configured sources of every active channel (or of one channel) and imports new items as tickets.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, configPath, channel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Socialdesk config file")
	cmd.Flags().StringVar(&channel, "channel", "", "fetch only this channel (by name)")
	return cmd
}

func runFetch(cmd *cobra.Command, configPath, channel string) error {
	env, err := openEnv(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if channel == "" {
		reports, err := env.orchestrator.RunAll(ctx)
		for _, r := range reports {
			printReport(cmd.OutOrStdout(), r)
		}
		if len(reports) == 0 && err == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "No active channels.")
		}
		return err
	}

	var ch models.Channel
	if err := env.db.Where("name = ?", channel).First(&ch).Error; err != nil {
		return fmt.Errorf("channel %q: %w", channel, err)
	}
	report, err := env.orchestrator.RunCycle(ctx, ch.ID)
	if report != nil {
		printReport(cmd.OutOrStdout(), report)
	}
	return err
}

func printReport(out io.Writer, r *ingest.CycleReport) {
	fmt.Fprintf(out, "%s: %s (imported %d, new tickets %d, duplicates %d, own %d, failed %d)\n",
		r.Channel, r.Status, r.Imported, r.TicketsCreated, r.Duplicates, r.SelfAuthored, r.Failed)
	for _, e := range r.SourceErrors {
		fmt.Fprintf(out, "  source error: %v\n", e)
	}
}
