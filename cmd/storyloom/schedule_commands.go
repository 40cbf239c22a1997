package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"storyloom/internal/api"
	"storyloom/internal/queue"
	"storyloom/internal/schedule"
)

func newScheduleCommand(ctx *commandContext) *cobra.Command {
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Review and schedule finished videos",
	}

	scheduleCmd.AddCommand(newScheduleListCommand(ctx))
	scheduleCmd.AddCommand(newScheduleNextCommand(ctx))
	scheduleCmd.AddCommand(newScheduleApproveCommand(ctx))
	scheduleCmd.AddCommand(newScheduleRejectCommand(ctx))

	return scheduleCmd
}

func newScheduleListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	cmd := &cobra.Command{
		Use:   "list <project-id>",
		Short: "List a project's publications",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := make([]queue.PublicationStatus, 0, len(statuses))
			for _, value := range statuses {
				filter = append(filter, queue.PublicationStatus(value))
			}
			return ctx.withStore(func(store *queue.Store) error {
				pubs, err := store.ListPublications(cmd.Context(), args[0], filter...)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					out := make([]api.Publication, 0, len(pubs))
					for _, pub := range pubs {
						out = append(out, api.FromPublication(pub))
					}
					return writeJSON(cmd, out)
				}
				out := cmd.OutOrStdout()
				if len(pubs) == 0 {
					fmt.Fprintln(out, "No publications")
					return nil
				}
				rows := make([][]string, 0, len(pubs))
				for _, pub := range pubs {
					rows = append(rows, []string{
						pub.ID,
						pub.Title,
						string(pub.Status),
						formatWhenPtr(pub.ScheduledAt),
						formatWhenPtr(pub.PublishedAt),
						pub.VideoRef,
					})
				}
				fmt.Fprint(out, renderTable(out,
					[]string{"ID", "Title", "Status", "Scheduled", "Published", "Video"},
					rows, nil,
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status: pending_review, scheduled, published, rejected")
	return cmd
}

func newScheduleNextCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "next <project-id>",
		Short: "Show the slot the next approval would receive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				orch, err := ctx.orchestrator(store)
				if err != nil {
					return err
				}
				slot, ok, err := orch.PreviewSlot(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !ok {
					fmt.Fprintf(out, "No free slot within %d days\n", schedule.HorizonDays)
					return nil
				}
				project, err := store.GetProject(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				local := slot.In(schedule.Location(project.PublicationTimezone))
				fmt.Fprintf(out, "Next slot: %s\n", local.Format("Mon 2006-01-02 15:04 MST"))
				return nil
			})
		},
	}
}

func newScheduleApproveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "approve <publication-id>",
		Short: "Schedule a publication waiting for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				orch, err := ctx.orchestrator(store)
				if err != nil {
					return err
				}
				pub, err := orch.ApprovePublication(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.FromPublication(pub))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Scheduled %q for %s\n", pub.Title, formatWhenPtr(pub.ScheduledAt))
				return nil
			})
		},
	}
}

func newScheduleRejectCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reject <publication-id>",
		Short: "Reject a publication and retire its topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				orch, err := ctx.orchestrator(store)
				if err != nil {
					return err
				}
				if err := orch.RejectPublication(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rejected publication %s\n", args[0])
				return nil
			})
		},
	}
}
