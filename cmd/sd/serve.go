package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/zulandar/socialdesk/internal/api"
	"github.com/zulandar/socialdesk/internal/scheduler"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
		noSync     bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the fetch scheduler and the ticket API",
		Long: `Starts the cron-driven fetch scheduler and the ticket-management HTTP API.
Both stop gracefully on SIGINT or SIGTERM; a running fetch cycle is allowed to finish.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port, noSync)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Socialdesk config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "API port (overrides api.port)")
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "serve the API without the fetch scheduler")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int, noSync bool) error {
	env, err := openEnv(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer env.Close()

	if port == 0 {
		port = env.cfg.API.Port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	if !noSync {
		sched, err := scheduler.New(env.cfg.Sync.Schedule, env.orchestrator)
		if err != nil {
			return err
		}
		g.Go(func() error { return sched.Run(ctx) })
	}
	g.Go(func() error {
		return api.Start(ctx, api.StartOpts{
			DB:      env.db,
			Tickets: env.tickets,
			Fetcher: env.orchestrator,
			Port:    port,
			Out:     cmd.OutOrStdout(),
		})
	})

	err = g.Wait()
	log.Info().Msg("socialdesk stopped")
	return err
}
