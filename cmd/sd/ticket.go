package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/socialdesk/internal/ingest"
	"github.com/zulandar/socialdesk/internal/models"
	"github.com/zulandar/socialdesk/internal/ticket"
)

func newTicketCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ticket",
		Short: "Ticket management commands",
	}

	cmd.AddCommand(newTicketListCmd())
	cmd.AddCommand(newTicketShowCmd())
	cmd.AddCommand(newTicketStateCmd())
	cmd.AddCommand(newTicketReplyCmd())
	cmd.AddCommand(newTicketPublishCmd())
	return cmd
}

func newTicketListCmd() *cobra.Command {
	var (
		configPath string
		f          ticket.Filter
		state      string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tickets, most recently updated first",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.State = models.TicketState(state)
			if state != "" && !f.State.Valid() {
				return fmt.Errorf("unknown state %q", state)
			}
			return runTicketList(cmd, configPath, f)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Socialdesk config file")
	cmd.Flags().UintVar(&f.GroupID, "group", 0, "filter by group ID")
	cmd.Flags().UintVar(&f.ChannelID, "channel", 0, "filter by channel ID")
	cmd.Flags().StringVar(&state, "state", "", "filter by state (new, open, pending_reminder, closed)")
	cmd.Flags().StringVar(&f.Customer, "customer", "", "filter by customer handle")
	cmd.Flags().IntVar(&f.Limit, "limit", ticket.DefaultListLimit, "max tickets to show")
	return cmd
}

func runTicketList(cmd *cobra.Command, configPath string, f ticket.Filter) error {
	env, err := openEnv(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer env.Close()

	tickets, err := env.tickets.List(context.Background(), f)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(tickets) == 0 {
		fmt.Fprintln(out, "No tickets found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tGROUP\tSTATE\tCUSTOMER\tUPDATED\tTITLE")
	for _, t := range tickets {
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\n",
			t.ID, t.GroupID, t.State, t.CustomerHandle, t.UpdatedAt.Format(time.DateTime), t.Title)
	}
	return w.Flush()
}

func newTicketShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a ticket with its articles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return runTicketShow(cmd, configPath, id)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Socialdesk config file")
	return cmd
}

func runTicketShow(cmd *cobra.Command, configPath string, id uint) error {
	env, err := openEnv(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer env.Close()

	t, err := env.tickets.Get(context.Background(), id)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Ticket #%d: %s\n", t.ID, t.Title)
	fmt.Fprintf(out, "Group: %d  State: %s  Customer: %s\n", t.GroupID, t.State, t.CustomerHandle)
	fmt.Fprintf(out, "Created: %s  Updated: %s\n", t.CreatedAt.Format(time.DateTime), t.UpdatedAt.Format(time.DateTime))
	for _, a := range t.Articles {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "[%d] %s %s from %s", a.ID, a.Sender, a.Kind, a.From)
		if a.To != nil {
			fmt.Fprintf(out, " to %s", *a.To)
		}
		switch {
		case a.Internal:
			fmt.Fprint(out, " (internal)")
		case a.MessageID == nil:
			fmt.Fprint(out, " (unpublished)")
		}
		fmt.Fprintln(out)
		fmt.Fprintf(out, "    %s\n", strings.ReplaceAll(a.Body, "\n", "\n    "))
	}
	return nil
}

func newTicketStateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "state <id> <state>",
		Short: "Change a ticket's state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return runTicketState(cmd, configPath, id, models.TicketState(args[1]))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Socialdesk config file")
	return cmd
}

func runTicketState(cmd *cobra.Command, configPath string, id uint, to models.TicketState) error {
	env, err := openEnv(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer env.Close()

	t, err := env.tickets.SetState(context.Background(), id, to)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Ticket #%d is now %s\n", t.ID, t.State)
	return nil
}

func newTicketReplyCmd() *cobra.Command {
	var (
		configPath string
		internal   bool
		from       string
	)

	cmd := &cobra.Command{
		Use:   "reply <id> <body>",
		Short: "Add an agent article and publish it",
		Long:  "Adds an agent article to the ticket and publishes it on the ticket's channel. Internal notes are stored only.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			in := ticket.ArticleInput{Body: args[1], From: from, Internal: internal}
			return runTicketReply(cmd, configPath, id, in)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Socialdesk config file")
	cmd.Flags().BoolVar(&internal, "internal", false, "store as an internal note without publishing")
	cmd.Flags().StringVar(&from, "from", "", "agent handle (defaults to the channel account)")
	return cmd
}

func runTicketReply(cmd *cobra.Command, configPath string, id uint, in ticket.ArticleInput) error {
	env, err := openEnv(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer env.Close()

	a, err := env.tickets.AddArticle(context.Background(), id, in)
	if err != nil {
		var pe *ingest.PublishError
		if errors.As(err, &pe) {
			return fmt.Errorf("%w (article stored; retry with: sd ticket publish %d)", err, pe.ArticleID)
		}
		return err
	}
	out := cmd.OutOrStdout()
	if a.MessageID == nil {
		fmt.Fprintf(out, "Stored note %d on ticket #%d\n", a.ID, id)
		return nil
	}
	fmt.Fprintf(out, "Published article %d as %s\n", a.ID, *a.MessageID)
	return nil
}

func newTicketPublishCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "publish <article-id>",
		Short: "Publish a stored agent article",
		Long:  "Publishes an agent article that is not yet on the platform, e.g. after a failed reply.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			env, err := openEnv(configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer env.Close()

			a, err := env.tickets.Publish(context.Background(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published article %d as %s\n", a.ID, *a.MessageID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Socialdesk config file")
	return cmd
}

func parseID(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return uint(id), nil
}
