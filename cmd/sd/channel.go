package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/socialdesk/internal/db"
	"github.com/zulandar/socialdesk/internal/models"
)

func newChannelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channel",
		Short: "Channel commands",
	}

	cmd.AddCommand(newChannelListCmd())
	return cmd
}

func newChannelListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List channels with their routing and last sync run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChannelList(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Socialdesk config file")
	return cmd
}

func runChannelList(cmd *cobra.Command, configPath string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if sqlDB, err := gormDB.DB(); err == nil {
		defer sqlDB.Close()
	}

	var channels []models.Channel
	if err := gormDB.Order("id").Find(&channels).Error; err != nil {
		return fmt.Errorf("list channels: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(channels) == 0 {
		fmt.Fprintln(out, "No channels found. Run `sd db init` first.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPLATFORM\tACCOUNT\tACTIVE\tROUTES\tLAST RUN")
	for _, ch := range channels {
		routes := "-"
		if opts, err := db.DecodeChannelOptions(ch); err == nil {
			routes = fmt.Sprintf("search:%d mentions:%s dm:%s",
				len(opts.Search), groupOrDash(opts.MentionsGroup), groupOrDash(opts.DMGroup))
		}
		last := "never"
		var run models.SyncRun
		if err := gormDB.Where("channel_id = ?", ch.ID).Order("id DESC").Limit(1).Find(&run).Error; err == nil && run.ID != 0 {
			last = fmt.Sprintf("%s %s", run.Status, run.StartedAt.Format(time.DateTime))
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%v\t%s\t%s\n", ch.ID, ch.Name, ch.Platform, ch.Account, ch.Active, routes, last)
	}
	return w.Flush()
}

func groupOrDash(id uint) string {
	if id == 0 {
		return "-"
	}
	return fmt.Sprint(id)
}
