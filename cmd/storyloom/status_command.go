package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"storyloom/internal/api"
	"storyloom/internal/daemonctl"
	"storyloom/internal/preflight"
	"storyloom/internal/queue"
	"storyloom/internal/stage"
)

type statusSnapshot struct {
	Daemon    *api.DaemonStatus   `json:"daemon,omitempty"`
	Queue     api.Stats           `json:"queue"`
	Handlers  []api.HandlerHealth `json:"handlers"`
	Preflight []preflightRow      `json:"preflight"`
}

type preflightRow struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, queue, and dependency status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			snapshot := statusSnapshot{}

			probeCtx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
			daemonStatus, daemonErr := daemonctl.NewClient(cfg).Status(probeCtx)
			cancel()
			if daemonErr == nil {
				snapshot.Daemon = daemonStatus
			}

			registry, err := stage.NewRegistryFromConfig(cfg)
			if err != nil {
				return err
			}
			for _, result := range preflight.RunAll(cmd.Context(), cfg, registry) {
				snapshot.Preflight = append(snapshot.Preflight, preflightRow{Name: result.Name, Passed: result.Passed, Detail: result.Detail})
			}
			snapshot.Handlers = api.FromHandlerHealth(registry.Health(cmd.Context()))

			err = ctx.withStore(func(store *queue.Store) error {
				stats, err := store.Stats(cmd.Context(), queue.StatsFilter{})
				if err != nil {
					return err
				}
				snapshot.Queue = api.FromStats(stats)
				return nil
			})
			if err != nil {
				return err
			}

			if ctx.jsonOutput() {
				return writeJSON(cmd, snapshot)
			}
			renderStatus(cmd.OutOrStdout(), snapshot)
			return nil
		},
	}
}

func renderStatus(out io.Writer, snapshot statusSnapshot) {
	if d := snapshot.Daemon; d != nil && d.Running {
		fmt.Fprintf(out, "Daemon: %s (pid %d)\n", colorize(out, "running", text.Colors{text.FgGreen}), d.PID)
		fmt.Fprintf(out, "Engine leader: %s\n", yesNo(d.EngineLeader))
		fmt.Fprintf(out, "Worker: %s (%d in flight, max %d)\n", d.Workflow.WorkerID, len(d.Workflow.InFlight), d.Workflow.MaxConcurrent)
		if d.Workflow.LastError != "" {
			fmt.Fprintf(out, "Last error: %s\n", d.Workflow.LastError)
		}
	} else {
		fmt.Fprintf(out, "Daemon: %s\n", colorize(out, "not running", text.Colors{text.FgYellow}))
	}
	fmt.Fprintln(out)

	rows := make([][]string, 0, len(queue.AllJobStatuses))
	for _, status := range queue.AllJobStatuses {
		rows = append(rows, []string{statusColor(out, status), strconv.Itoa(snapshot.Queue.ByStatus[string(status)])})
	}
	rows = append(rows, []string{"total", strconv.Itoa(snapshot.Queue.Total)})
	fmt.Fprint(out, renderTable(out, []string{"Jobs", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))

	if len(snapshot.Handlers) > 0 {
		rows = rows[:0]
		for _, h := range snapshot.Handlers {
			rows = append(rows, []string{h.Name, yesNo(h.Ready), h.Detail})
		}
		fmt.Fprint(out, renderTable(out, []string{"Handler", "Ready", "Detail"}, rows, nil))
	}

	rows = rows[:0]
	for _, check := range snapshot.Preflight {
		result := colorize(out, "ok", text.Colors{text.FgGreen})
		if !check.Passed {
			result = colorize(out, "fail", text.Colors{text.FgRed})
		}
		rows = append(rows, []string{check.Name, result, check.Detail})
	}
	fmt.Fprint(out, renderTable(out, []string{"Check", "Result", "Detail"}, rows, nil))
}
