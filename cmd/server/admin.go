package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dkeye/Beacon/internal/domain"
)

func (c *cli) roomsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "rooms", Short: "Inspect persistent rooms"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored rooms",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := c.openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			rooms, err := store.ListRooms(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSLUG\tNAME\tDIRECTION\tPUBLIC\tOWNER")
			for _, r := range rooms {
				owner := ""
				if r.OwnerID != nil {
					owner = string(*r.OwnerID)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n", r.ID, r.Slug, r.Name, r.Direction(), r.IsPublic, owner)
			}
			return w.Flush()
		},
	})
	return cmd
}

func (c *cli) plansCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "plans", Short: "Inspect plans and subscriptions"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List plans",
			RunE: func(cmd *cobra.Command, _ []string) error {
				store, err := c.openStore(cmd)
				if err != nil {
					return err
				}
				defer store.Close()
				plans, err := store.ListPlans(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tMINUTES\tLISTENERS\tLANGUAGES")
				for _, p := range plans {
					fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n", p.ID, p.Name, p.MinutesPerMonth, p.MaxListeners, p.MaxLanguages)
				}
				return w.Flush()
			},
		},
		&cobra.Command{
			Use:   "subscribe <user-id> <plan-id>",
			Short: "Start a one-month subscription for a user",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := c.openStore(cmd)
				if err != nil {
					return err
				}
				defer store.Close()
				id, err := store.Subscribe(cmd.Context(), domain.UserID(args[0]), args[1], time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "subscription %s active\n", id)
				return nil
			},
		},
		&cobra.Command{
			Use:   "usage <user-id>",
			Short: "Show the current period and recent broadcasts",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := c.openStore(cmd)
				if err != nil {
					return err
				}
				defer store.Close()
				uid := domain.UserID(args[0])
				q, err := store.CurrentQuota(cmd.Context(), uid)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "plan %s: %d/%d minutes used, period ends %s\n",
					q.Plan.ID, q.MinutesUsed, q.Plan.MinutesPerMonth, q.PeriodEnd.Format(time.DateOnly))
				logs, err := store.BroadcastHistory(cmd.Context(), uid, 10)
				if err != nil {
					return err
				}
				for _, l := range logs {
					fmt.Fprintf(out, "  %s room=%s %dmin peak=%d\n", l.StartedAt.Format(time.DateTime), l.RoomID, l.DurationMinutes, l.PeakListeners)
				}
				return nil
			},
		},
	)
	return cmd
}
