package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/socialdesk/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the Socialdesk database",
		Long:  "Migrates all tables and seeds groups and channels from the config file. Safe to re-run after config changes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Socialdesk config file")
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if sqlDB, err := gormDB.DB(); err == nil {
		defer sqlDB.Close()
	}
	fmt.Fprintf(out, "Connected to %s database %s\n", cfg.Database.Driver, cfg.Database.Name)

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))

	if err := db.SeedGroups(gormDB, cfg.Groups); err != nil {
		return err
	}
	fmt.Fprintf(out, "Seeded %d groups\n", len(cfg.Groups))

	if err := db.SeedChannels(gormDB, cfg.Channels); err != nil {
		return err
	}
	fmt.Fprintf(out, "Seeded %d channels:", len(cfg.Channels))
	for _, ch := range cfg.Channels {
		fmt.Fprintf(out, " %s", ch.Name)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "\nSocialdesk database initialized successfully.")
	return nil
}
