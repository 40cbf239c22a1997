package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"storyloom/internal/api"
	"storyloom/internal/queue"
	"storyloom/internal/schedule"
)

func newProjectCommand(ctx *commandContext) *cobra.Command {
	projectCmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects and their sources",
	}

	projectCmd.AddCommand(newProjectListCommand(ctx))
	projectCmd.AddCommand(newProjectShowCommand(ctx))
	projectCmd.AddCommand(newProjectCreateCommand(ctx))
	projectCmd.AddCommand(newProjectSetCommand(ctx))
	projectCmd.AddCommand(newProjectAddSourceCommand(ctx))

	return projectCmd
}

// projectSettings binds the flags shared by create and set.
type projectSettings struct {
	name          string
	engineEnabled bool
	bufferTarget  int
	maxGenPerDay  int
	minRichness   float64
	autoPublish   bool
	maxPerDay     int
	days          []string
	times         []string
	timezone      string
	archived      bool
}

func (s *projectSettings) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&s.name, "name", "", "Project name")
	flags.BoolVar(&s.engineEnabled, "engine", true, "Let the content engine admit topics")
	flags.IntVar(&s.bufferTarget, "buffer-target", 3, "Finished videos to keep ready for publishing")
	flags.IntVar(&s.maxGenPerDay, "max-gen-per-day", 1, "Topics the engine may admit per day")
	flags.Float64Var(&s.minRichness, "min-richness", 0.5, "Minimum richness score for admission")
	flags.BoolVar(&s.autoPublish, "auto-publish", false, "Schedule finished videos without review")
	flags.IntVar(&s.maxPerDay, "max-publications-per-day", 1, "Publications per local day")
	flags.StringSliceVar(&s.days, "days", nil, "Publication weekdays (sun..sat or 0-6); empty means every day")
	flags.StringSliceVar(&s.times, "times", []string{"09:00"}, "Publication times of day (HH:MM)")
	flags.StringVar(&s.timezone, "timezone", "UTC", "IANA timezone for publication times")
}

// apply copies flag values onto project. With onlyChanged set, flags the user
// did not pass keep the project's current values.
func (s *projectSettings) apply(cmd *cobra.Command, project *queue.Project, onlyChanged bool) error {
	changed := func(name string) bool {
		return !onlyChanged || cmd.Flags().Changed(name)
	}
	if changed("name") {
		project.Name = strings.TrimSpace(s.name)
	}
	if changed("engine") {
		project.EngineEnabled = s.engineEnabled
	}
	if changed("buffer-target") {
		if s.bufferTarget < 0 {
			return fmt.Errorf("buffer-target must not be negative")
		}
		project.BufferTarget = s.bufferTarget
	}
	if changed("max-gen-per-day") {
		project.MaxGenPerDay = s.maxGenPerDay
	}
	if changed("min-richness") {
		project.MinRichness = s.minRichness
	}
	if changed("auto-publish") {
		project.AutoPublish = s.autoPublish
	}
	if changed("max-publications-per-day") {
		project.MaxPublicationsPerDay = s.maxPerDay
	}
	if changed("days") {
		days, err := parseDays(s.days)
		if err != nil {
			return err
		}
		project.PublicationDays = days
	}
	if changed("times") {
		for _, value := range s.times {
			if _, _, err := schedule.ParseTimeOfDay(value); err != nil {
				return err
			}
		}
		project.PublicationTimes = append([]string(nil), s.times...)
	}
	if changed("timezone") {
		if _, err := time.LoadLocation(s.timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", s.timezone, err)
		}
		project.PublicationTimezone = s.timezone
	}
	if onlyChanged && cmd.Flags().Changed("archived") {
		project.Status = queue.ProjectActive
		if s.archived {
			project.Status = queue.ProjectArchived
		}
	}
	return nil
}

func newProjectListCommand(ctx *commandContext) *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				projects, err := store.ListProjects(cmd.Context(), activeOnly)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					out := make([]api.Project, 0, len(projects))
					for _, project := range projects {
						out = append(out, api.FromProject(project))
					}
					return writeJSON(cmd, out)
				}
				out := cmd.OutOrStdout()
				if len(projects) == 0 {
					fmt.Fprintln(out, "No projects")
					return nil
				}
				rows := make([][]string, 0, len(projects))
				for _, p := range projects {
					rows = append(rows, []string{
						p.ID,
						p.Name,
						string(p.Status),
						yesNo(p.EngineEnabled),
						yesNo(p.PipelinePaused),
						strconv.Itoa(p.BufferTarget),
						yesNo(p.AutoPublish),
					})
				}
				fmt.Fprint(out, renderTable(out,
					[]string{"ID", "Name", "Status", "Engine", "Paused", "Buffer", "Auto-publish"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "Only list active projects")
	return cmd
}

func newProjectShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project's settings and pipeline load",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				project, err := store.GetProject(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.FromProject(project))
				}
				buffer, err := store.CountTopicsInStages(cmd.Context(), project.ID, queue.BufferStages)
				if err != nil {
					return err
				}
				active, err := store.CountActivePipeline(cmd.Context(), project.ID)
				if err != nil {
					return err
				}
				renderProject(cmd.OutOrStdout(), project, buffer, active)
				return nil
			})
		},
	}
}

func renderProject(out io.Writer, p *queue.Project, buffer, active int) {
	fmt.Fprintf(out, "%s (%s)\n", p.Name, p.ID)
	fmt.Fprintf(out, "  Status:            %s\n", p.Status)
	fmt.Fprintf(out, "  Engine enabled:    %s\n", yesNo(p.EngineEnabled))
	fmt.Fprintf(out, "  Pipeline paused:   %s\n", yesNo(p.PipelinePaused))
	fmt.Fprintf(out, "  Buffer:            %d of %d\n", buffer, p.BufferTarget)
	fmt.Fprintf(out, "  In production:     %d\n", active)
	fmt.Fprintf(out, "  Admissions/day:    %d\n", p.MaxGenPerDay)
	fmt.Fprintf(out, "  Min richness:      %.2f\n", p.MinRichness)
	fmt.Fprintf(out, "  Auto-publish:      %s\n", yesNo(p.AutoPublish))
	fmt.Fprintf(out, "  Publications/day:  %d\n", p.MaxPublicationsPerDay)
	fmt.Fprintf(out, "  Publication days:  %s\n", formatDays(p.PublicationDays))
	fmt.Fprintf(out, "  Publication times: %s (%s)\n", strings.Join(p.PublicationTimes, ", "), p.PublicationTimezone)
}

func newProjectCreateCommand(ctx *commandContext) *cobra.Command {
	settings := &projectSettings{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			project := queue.Project{Status: queue.ProjectActive}
			if err := settings.apply(cmd, &project, false); err != nil {
				return err
			}
			if project.Name == "" {
				return fmt.Errorf("--name is required")
			}
			return ctx.withStore(func(store *queue.Store) error {
				created, err := store.CreateProject(cmd.Context(), project)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.FromProject(created))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created project %s (%s)\n", created.Name, created.ID)
				return nil
			})
		},
	}
	settings.register(cmd)
	return cmd
}

func newProjectSetCommand(ctx *commandContext) *cobra.Command {
	settings := &projectSettings{}
	cmd := &cobra.Command{
		Use:   "set <project-id>",
		Short: "Change project settings; unspecified flags keep their values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				project, err := store.GetProject(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if err := settings.apply(cmd, project, true); err != nil {
					return err
				}
				if project.Name == "" {
					return fmt.Errorf("project name must not be empty")
				}
				if err := store.UpdateProjectSettings(cmd.Context(), *project); err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.FromProject(project))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated project %s\n", project.ID)
				return nil
			})
		},
	}
	settings.register(cmd)
	cmd.Flags().BoolVar(&settings.archived, "archived", false, "Archive (true) or reactivate (false) the project")
	return cmd
}

func newProjectAddSourceCommand(ctx *commandContext) *cobra.Command {
	var (
		kind    string
		uri     string
		trigger bool
	)
	cmd := &cobra.Command{
		Use:   "add-source <project-id>",
		Short: "Register raw material for topic discovery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(uri) == "" {
				return fmt.Errorf("--uri is required")
			}
			return ctx.withStore(func(store *queue.Store) error {
				if _, err := store.GetProject(cmd.Context(), args[0]); err != nil {
					return err
				}
				source, err := store.CreateSource(cmd.Context(), args[0], kind, uri)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Added source %s\n", source.ID)
				if !trigger {
					return nil
				}
				orch, err := ctx.orchestrator(store)
				if err != nil {
					return err
				}
				job, err := orch.TriggerFromSource(cmd.Context(), source.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Enqueued %s job %s\n", job.Type, job.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "url", "Source kind passed to the extract handler")
	cmd.Flags().StringVar(&uri, "uri", "", "Source location")
	cmd.Flags().BoolVar(&trigger, "trigger", false, "Enqueue extraction immediately")
	return cmd
}
