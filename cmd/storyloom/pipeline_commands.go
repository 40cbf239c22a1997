package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"storyloom/internal/api"
	"storyloom/internal/queue"
)

func newPipelineCommand(ctx *commandContext) *cobra.Command {
	pipelineCmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Inspect topics and drive them through the pipeline",
	}

	pipelineCmd.AddCommand(newPipelineTopicsCommand(ctx))
	pipelineCmd.AddCommand(newPipelineTriggerSourceCommand(ctx))
	pipelineCmd.AddCommand(newPipelineTriggerTopicCommand(ctx))
	pipelineCmd.AddCommand(newPipelineRestartCommand(ctx))
	pipelineCmd.AddCommand(newPipelinePauseCommand(ctx, true))
	pipelineCmd.AddCommand(newPipelinePauseCommand(ctx, false))

	return pipelineCmd
}

func newPipelineTopicsCommand(ctx *commandContext) *cobra.Command {
	var stages []string
	cmd := &cobra.Command{
		Use:   "topics <project-id>",
		Short: "List a project's topics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter []queue.TopicStage
			for _, value := range stages {
				stage, ok := queue.ParseTopicStage(value)
				if !ok {
					return fmt.Errorf("unknown topic stage %q", value)
				}
				filter = append(filter, stage)
			}
			return ctx.withStore(func(store *queue.Store) error {
				topics, err := store.ListTopics(cmd.Context(), args[0], filter...)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					out := make([]api.Topic, 0, len(topics))
					for _, topic := range topics {
						out = append(out, api.FromTopic(topic))
					}
					return writeJSON(cmd, out)
				}
				out := cmd.OutOrStdout()
				if len(topics) == 0 {
					fmt.Fprintln(out, "No topics")
					return nil
				}
				fmt.Fprint(out, renderTable(out,
					[]string{"ID", "Title", "Score", "Stage", "Admitted", "Error"},
					buildTopicRows(topics),
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&stages, "stage", nil, "Filter by stage (repeatable)")
	return cmd
}

func buildTopicRows(topics []*queue.Topic) [][]string {
	rows := make([][]string, 0, len(topics))
	for _, topic := range topics {
		rows = append(rows, []string{
			shortID(topic.ID),
			topic.Title,
			fmt.Sprintf("%.2f", topic.RichnessScore),
			topic.Stage.Label(),
			formatWhenPtr(topic.AdmittedAt),
			topic.PipelineError,
		})
	}
	return rows
}

func newPipelineTriggerSourceCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger-source <source-id>",
		Short: "Start extraction for an ingested source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				orch, err := ctx.orchestrator(store)
				if err != nil {
					return err
				}
				job, err := orch.TriggerFromSource(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return reportJob(cmd, ctx, job)
			})
		},
	}
}

func newPipelineTriggerTopicCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger-topic <topic-id>",
		Short: "Admit a generated topic into production",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				orch, err := ctx.orchestrator(store)
				if err != nil {
					return err
				}
				job, err := orch.TriggerFromTopic(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return reportJob(cmd, ctx, job)
			})
		},
	}
}

func newPipelineRestartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <topic-id> <stage>",
		Short: "Cancel a topic's open jobs and rerun it from a stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, ok := queue.ParseTopicStage(args[1])
			if !ok {
				return fmt.Errorf("unknown topic stage %q", args[1])
			}
			return ctx.withStore(func(store *queue.Store) error {
				orch, err := ctx.orchestrator(store)
				if err != nil {
					return err
				}
				job, err := orch.RestartFromStage(cmd.Context(), args[0], stage)
				if err != nil {
					return fmt.Errorf("%w (restartable stages: %s)", err, joinStages(orch.RestartableStages()))
				}
				return reportJob(cmd, ctx, job)
			})
		},
	}
}

func newPipelinePauseCommand(ctx *commandContext, pause bool) *cobra.Command {
	use, short, verb := "pause", "Stop workers from claiming a project's jobs", "paused"
	if !pause {
		use, short, verb = "resume", "Let workers claim a project's jobs again", "resumed"
	}
	return &cobra.Command{
		Use:   use + " <project-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				if err := store.SetPipelinePaused(cmd.Context(), args[0], pause); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pipeline %s for project %s\n", verb, args[0])
				return nil
			})
		},
	}
}

func reportJob(cmd *cobra.Command, ctx *commandContext, job *queue.Job) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, api.JobResponse{Job: api.FromJob(job)})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %s job %s\n", job.Type, job.ID)
	return nil
}

func joinStages(stages []queue.TopicStage) string {
	names := make([]string, 0, len(stages))
	for _, stage := range stages {
		names = append(names, string(stage))
	}
	return strings.Join(names, ", ")
}

// writeDecisions prints engine decisions as a table.
func writeDecisions(out io.Writer, decisions []api.EngineDecision) {
	rows := make([][]string, 0, len(decisions))
	for _, d := range decisions {
		result := "skipped"
		if d.Triggered {
			result = "admitted"
		}
		rows = append(rows, []string{
			shortID(d.ProjectID),
			result,
			d.Reason,
			fmt.Sprintf("%d/%d", d.Buffer, d.BufferTarget),
			shortID(d.TopicID),
			shortID(d.JobID),
		})
	}
	fmt.Fprint(out, renderTable(out,
		[]string{"Project", "Result", "Reason", "Buffer", "Topic", "Job"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	))
}
