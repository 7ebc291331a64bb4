package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"redub/internal/config"
	"redub/internal/daemon"
	"redub/internal/jobs"
	"redub/internal/preflight"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var flags jobFlags
	cmd := &cobra.Command{
		Use:   "submit <source-key>",
		Short: "Queue a dubbing job for the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.newJob(args[0])
			if err != nil {
				return err
			}
			return ctx.withStore(func(_ *config.Config, store *jobs.Store) error {
				if req.VoicePresetID != "" {
					if _, err := store.GetPreset(cmd.Context(), req.VoicePresetID); err != nil {
						return fmt.Errorf("voice preset %s: %w", req.VoicePresetID, err)
					}
				}
				job, err := store.Create(cmd.Context(), req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued job %s (%s -> %s)\n", job.ID, job.SourceKey, job.TargetLanguage)
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *jobs.Store) error {
				job, err := store.Get(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, daemon.NewJobView(job))
				}
				fields := [][2]string{
					{"ID", job.ID},
					{"Status", string(job.Status)},
					{"Step", job.StepLabel()},
					{"Source", job.SourceKey},
					{"Language", job.TargetLanguage},
					{"User", job.UserID},
					{"Voice preset", job.VoicePresetID},
					{"Output", job.OutputKey},
					{"Error", job.Error},
					{"Created", formatTime(job.CreatedAt)},
					{"Updated", formatTime(job.UpdatedAt)},
				}
				if job.CompletedAt != nil {
					fields = append(fields, [2]string{"Completed", formatTime(*job.CompletedAt)})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderFields(fields))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the job as JSON")
	return cmd
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var statusFlags []string
	var user string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			var statuses []jobs.Status
			for _, value := range statusFlags {
				status, ok := jobs.ParseStatus(value)
				if !ok {
					return fmt.Errorf("unknown status %q", value)
				}
				statuses = append(statuses, status)
			}
			return ctx.withStore(func(_ *config.Config, store *jobs.Store) error {
				var (
					list []*jobs.Job
					err  error
				)
				if strings.TrimSpace(user) != "" {
					list, err = store.ListByUser(cmd.Context(), user, 0)
				} else {
					list, err = store.List(cmd.Context(), statuses...)
				}
				if err != nil {
					return err
				}
				if asJSON {
					views := make([]daemon.JobView, 0, len(list))
					for _, job := range list {
						views = append(views, daemon.NewJobView(job))
					}
					return writeJSON(cmd, daemon.JobListResponse{Jobs: views})
				}
				if len(list) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}
				rows := make([][]string, 0, len(list))
				for _, job := range list {
					rows = append(rows, []string{
						job.ID,
						string(job.Status),
						job.StepLabel(),
						job.TargetLanguage,
						job.SourceKey,
						formatTime(job.UpdatedAt),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Status", "Step", "Lang", "Source", "Updated"}, rows, nil))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statusFlags, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().StringVar(&user, "user", "", "Only jobs owned by this user, newest first")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print jobs as JSON")
	return cmd
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>...",
		Short: "Requeue failed jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *jobs.Store) error {
				for _, id := range args {
					if err := store.Requeue(cmd.Context(), strings.TrimSpace(id)); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Requeued %s\n", id)
				}
				return nil
			})
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var probe bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and job store status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *jobs.Store) error {
				running, err := daemonRunning(cfg)
				if err != nil {
					return err
				}
				counts, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprint(out, renderFields([][2]string{
					{"Daemon running", yesNo(running)},
					{"API", cfg.Paths.APIBind},
					{"Database", store.Path()},
				}))
				fmt.Fprintln(out)

				rows := make([][]string, 0, 4)
				for _, status := range []jobs.Status{jobs.StatusPending, jobs.StatusProcessing, jobs.StatusCompleted, jobs.StatusFailed} {
					rows = append(rows, []string{string(status), strconv.Itoa(counts[status])})
				}
				fmt.Fprintln(out, renderTable([]string{"Status", "Jobs"}, rows, []columnAlignment{alignLeft, alignRight}))

				checks := preflight.RunAll(cmd.Context(), cfg, preflight.Options{ProbeEndpoints: probe})
				fmt.Fprintln(out, renderChecks(checks))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", false, "Also probe remote synthesis and lip-sync endpoints")
	return cmd
}

func renderChecks(results []preflight.Result) string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		state := "ok"
		switch {
		case !r.Passed && r.Optional:
			state = "warn"
		case !r.Passed:
			state = "FAIL"
		}
		rows = append(rows, []string{r.Name, state, r.Detail})
	}
	return renderTable([]string{"Check", "State", "Detail"}, rows, nil)
}

// daemonRunning probes the daemon lock without holding it.
func daemonRunning(cfg *config.Config) (bool, error) {
	lock := flock.New(cfg.LockPath())
	acquired, err := lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("probe daemon lock: %w", err)
	}
	if acquired {
		_ = lock.Unlock()
		return false, nil
	}
	return true, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
