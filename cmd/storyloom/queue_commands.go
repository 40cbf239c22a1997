package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"storyloom/internal/api"
	"storyloom/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the job queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueEnqueueCommand(ctx))
	queueCmd.AddCommand(newQueueCancelCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show job counts by status and type",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				stats, err := store.Stats(cmd.Context(), queue.StatsFilter{ProjectID: projectID})
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.FromStats(stats))
				}
				out := cmd.OutOrStdout()
				if stats.Total == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}
				fmt.Fprint(out, renderTable(out, queueStatusHeaders(), buildQueueStatusRows(out, stats), queueStatusAligns()))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&projectID, "project", "p", "", "Limit counts to one project")
	return cmd
}

func queueStatusHeaders() []string {
	headers := []string{"Type"}
	for _, status := range queue.AllJobStatuses {
		headers = append(headers, strings.ToUpper(string(status[:1]))+string(status[1:]))
	}
	return headers
}

func queueStatusAligns() []columnAlignment {
	aligns := []columnAlignment{alignLeft}
	for range queue.AllJobStatuses {
		aligns = append(aligns, alignRight)
	}
	return aligns
}

// buildQueueStatusRows lists one row per job type in pipeline order followed
// by a totals row.
func buildQueueStatusRows(out io.Writer, stats queue.Stats) [][]string {
	var rows [][]string
	for _, jobType := range queue.AllJobTypes {
		counts, ok := stats.ByType[jobType]
		if !ok {
			continue
		}
		row := []string{jobType.Label()}
		for _, status := range queue.AllJobStatuses {
			row = append(row, strconv.Itoa(counts[status]))
		}
		rows = append(rows, row)
	}
	total := []string{"All"}
	for _, status := range queue.AllJobStatuses {
		total = append(total, strconv.Itoa(stats.ByStatus[status]))
	}
	return append(rows, total)
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var (
		statuses  []string
		jobType   string
		projectID string
		topicID   string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := queue.ListFilter{ProjectID: projectID, TopicID: topicID, Limit: limit}
			for _, value := range statuses {
				status, ok := queue.ParseJobStatus(value)
				if !ok {
					return fmt.Errorf("unknown job status %q", value)
				}
				filter.Statuses = append(filter.Statuses, status)
			}
			if jobType != "" {
				parsed, ok := queue.ParseJobType(jobType)
				if !ok {
					return fmt.Errorf("unknown job type %q", jobType)
				}
				filter.Type = parsed
			}
			return ctx.withStore(func(store *queue.Store) error {
				jobs, err := store.ListJobs(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.JobListResponse{Jobs: api.FromJobs(jobs)})
				}
				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "No jobs match")
					return nil
				}
				fmt.Fprint(out, renderTable(out,
					[]string{"ID", "Type", "Status", "Attempt", "Topic", "Run After", "Updated"},
					buildQueueListRows(out, jobs),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by job status (repeatable)")
	cmd.Flags().StringVarP(&jobType, "type", "t", "", "Filter by job type")
	cmd.Flags().StringVarP(&projectID, "project", "p", "", "Filter by project")
	cmd.Flags().StringVar(&topicID, "topic", "", "Filter by topic")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of jobs")
	return cmd
}

func buildQueueListRows(out io.Writer, jobs []*queue.Job) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		topic := "-"
		if job.TopicID != "" {
			topic = shortID(job.TopicID)
		}
		rows = append(rows, []string{
			shortID(job.ID),
			string(job.Type),
			statusColor(out, job.Status),
			fmt.Sprintf("%d/%d", job.Attempt, job.MaxAttempts),
			topic,
			formatWhen(job.RunAfter),
			formatWhen(job.UpdatedAt),
		})
	}
	return rows
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job with its payload and result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				job, err := store.GetJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.FromJob(job))
				}
				renderJob(cmd.OutOrStdout(), job)
				return nil
			})
		},
	}
}

func renderJob(out io.Writer, job *queue.Job) {
	fields := [][2]string{
		{"ID", job.ID},
		{"Type", job.Type.Label()},
		{"Status", statusColor(out, job.Status)},
		{"Project", job.ProjectID},
		{"Topic", job.TopicID},
		{"Source", job.SourceID},
		{"Priority", strconv.Itoa(job.Priority)},
		{"Attempt", fmt.Sprintf("%d of %d", job.Attempt, job.MaxAttempts)},
		{"Run after", formatWhen(job.RunAfter)},
		{"Locked by", job.LockedBy},
		{"Started", formatWhenPtr(job.StartedAt)},
		{"Completed", formatWhenPtr(job.CompletedAt)},
		{"Error", job.ErrorMessage},
	}
	for _, field := range fields {
		if field[1] == "" {
			continue
		}
		fmt.Fprintf(out, "%-10s %s\n", field[0]+":", field[1])
	}
	printMap(out, "Payload", job.Payload)
	printMap(out, "Result", job.Result)
}

func printMap(out io.Writer, label string, values map[string]any) {
	if len(values) == 0 {
		return
	}
	fmt.Fprintf(out, "%s:\n", label)
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		encoded, err := json.Marshal(values[key])
		if err != nil {
			encoded = []byte(fmt.Sprint(values[key]))
		}
		fmt.Fprintf(out, "  %s = %s\n", key, encoded)
	}
}

func newQueueEnqueueCommand(ctx *commandContext) *cobra.Command {
	var (
		req     api.EnqueueRequest
		payload string
	)
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue a single job",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(payload) != "" {
				if err := json.Unmarshal([]byte(payload), &req.Payload); err != nil {
					return fmt.Errorf("payload must be a JSON object: %w", err)
				}
			}
			params, err := req.Params()
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *queue.Store) error {
				job, err := store.Enqueue(cmd.Context(), params)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.JobResponse{Job: api.FromJob(job)})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %s job %s\n", job.Type, job.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&req.Type, "type", "t", "", "Job type (required)")
	cmd.Flags().StringVarP(&req.ProjectID, "project", "p", "", "Project id (required)")
	cmd.Flags().StringVar(&req.TopicID, "topic", "", "Topic id")
	cmd.Flags().StringVar(&req.SourceID, "source", "", "Source id")
	cmd.Flags().StringVar(&payload, "payload", "", "JSON object payload")
	cmd.Flags().IntVar(&req.Priority, "priority", 0, "Priority; higher runs first within a job type")
	cmd.Flags().IntVar(&req.MaxAttempts, "max-attempts", 0, "Attempts before the job fails permanently")
	cmd.Flags().StringVar(&req.RunAfter, "run-after", "", "Earliest run time (RFC3339)")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func newQueueCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>...",
		Short: "Cancel pending or processing jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				out := cmd.OutOrStdout()
				for _, id := range args {
					if _, err := store.GetJob(cmd.Context(), id); err != nil {
						return err
					}
					cancelled, err := store.CancelJob(cmd.Context(), id)
					if err != nil {
						return err
					}
					if cancelled {
						fmt.Fprintf(out, "Cancelled %s\n", id)
					} else {
						fmt.Fprintf(out, "%s is already finished\n", id)
					}
				}
				return nil
			})
		},
	}
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the queue database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				health, err := store.CheckHealth(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, health)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Database: %s\n", health.DBPath)
				fmt.Fprintf(out, "Readable: %s\n", yesNo(health.DatabaseReadable))
				fmt.Fprintf(out, "Schema version: %d\n", health.SchemaVersion)
				fmt.Fprintf(out, "Integrity check: %s\n", yesNo(health.IntegrityCheck))
				fmt.Fprintf(out, "Jobs: %d\n", health.TotalJobs)
				if len(health.MissingTables) > 0 {
					fmt.Fprintf(out, "Missing tables: %s\n", strings.Join(health.MissingTables, ", "))
				}
				if health.Error != "" {
					fmt.Fprintf(out, "Error: %s\n", health.Error)
				}
				return nil
			})
		},
	}
}
