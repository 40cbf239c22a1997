package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"storyloom/internal/api"
	"storyloom/internal/daemonctl"
	"storyloom/internal/queue"
)

func newEngineCommand(ctx *commandContext) *cobra.Command {
	engineCmd := &cobra.Command{
		Use:   "engine",
		Short: "Drive the content engine",
	}

	engineCmd.AddCommand(newEngineRunCommand(ctx))
	engineCmd.AddCommand(newEngineTriggerCommand(ctx))
	engineCmd.AddCommand(newEngineToggleCommand(ctx, "pause"))
	engineCmd.AddCommand(newEngineToggleCommand(ctx, "resume"))

	return engineCmd
}

func newEngineRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Evaluate every active project once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				eng, err := ctx.engine(store)
				if err != nil {
					return err
				}
				decisions, cycleErr := eng.RunCycle(cmd.Context())
				out := make([]api.EngineDecision, 0, len(decisions))
				for _, decision := range decisions {
					out = append(out, api.FromDecision(decision))
				}
				if ctx.jsonOutput() {
					if err := writeJSON(cmd, out); err != nil {
						return err
					}
					return cycleErr
				}
				if len(out) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No active projects")
					return cycleErr
				}
				writeDecisions(cmd.OutOrStdout(), out)
				return cycleErr
			})
		},
	}
}

// daemonClient returns a control API client when a daemon answers.
func (c *commandContext) daemonClient(parent context.Context) *daemonctl.Client {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil
	}
	client := daemonctl.NewClient(cfg)
	probeCtx, cancel := context.WithTimeout(parent, time.Second)
	defer cancel()
	if status, err := client.Status(probeCtx); err != nil || !status.Running {
		return nil
	}
	return client
}

func newEngineTriggerCommand(ctx *commandContext) *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "trigger <project-id>",
		Short: "Evaluate one project now, bypassing the settings cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var decision *api.EngineDecision
			if client := ctx.daemonClientUnless(cmd, local); client != nil {
				var err error
				decision, err = client.EngineAction(cmd.Context(), args[0], "trigger")
				if err != nil {
					return err
				}
				if decision == nil {
					return errNoDecision
				}
			} else {
				err := ctx.withStore(func(store *queue.Store) error {
					eng, err := ctx.engine(store)
					if err != nil {
						return err
					}
					result, err := eng.TriggerProject(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					converted := api.FromDecision(result)
					decision = &converted
					return nil
				})
				if err != nil {
					return err
				}
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, decision)
			}
			writeDecisions(cmd.OutOrStdout(), []api.EngineDecision{*decision})
			return nil
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "Evaluate in this process even when a daemon is running")
	return cmd
}

func newEngineToggleCommand(ctx *commandContext, action string) *cobra.Command {
	short := "Stop the engine from admitting topics for a project"
	if action == "resume" {
		short = "Let the engine admit topics for a project again"
	}
	return &cobra.Command{
		Use:   action + " <project-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if client := ctx.daemonClientUnless(cmd, false); client != nil {
				if _, err := client.EngineAction(cmd.Context(), args[0], action); err != nil {
					return err
				}
			} else {
				err := ctx.withStore(func(store *queue.Store) error {
					return store.SetEngineEnabled(cmd.Context(), args[0], action == "resume")
				})
				if err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Engine %sd for project %s\n", action, args[0])
			return nil
		},
	}
}

// daemonClientUnless returns nil when local is set or no daemon answers, so
// callers fall back to acting on the database directly.
func (c *commandContext) daemonClientUnless(cmd *cobra.Command, local bool) *daemonctl.Client {
	if local {
		return nil
	}
	return c.daemonClient(cmd.Context())
}

var errNoDecision = errors.New("engine returned no decision")
