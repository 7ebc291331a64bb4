package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"redub/internal/config"
	"redub/internal/jobs"
	"redub/internal/language"
	"redub/internal/pipeline"
)

type jobFlags struct {
	language string
	preset   string
	project  string
	user     string
	glossary []string
}

func (f *jobFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.language, "lang", "l", "", "Target language (code or English name)")
	cmd.Flags().StringVar(&f.preset, "preset", "", "Voice preset ID")
	cmd.Flags().StringVar(&f.project, "project", "", "Project name used to prefix the job ID")
	cmd.Flags().StringVar(&f.user, "user", "", "Owning user ID")
	cmd.Flags().StringSliceVar(&f.glossary, "term", nil, "Glossary entry as source=target (repeatable)")
	_ = cmd.MarkFlagRequired("lang")
}

func (f *jobFlags) newJob(sourceKey string) (jobs.NewJob, error) {
	lang, err := language.Normalize(f.language)
	if err != nil {
		return jobs.NewJob{}, err
	}
	var glossary map[string]string
	for _, entry := range f.glossary {
		source, target, ok := strings.Cut(entry, "=")
		source = strings.TrimSpace(source)
		if !ok || source == "" {
			return jobs.NewJob{}, fmt.Errorf("glossary entry %q must be source=target", entry)
		}
		if glossary == nil {
			glossary = make(map[string]string)
		}
		glossary[source] = strings.TrimSpace(target)
	}
	return jobs.NewJob{
		Project:        f.project,
		UserID:         f.user,
		SourceKey:      strings.TrimSpace(sourceKey),
		TargetLanguage: lang,
		VoicePresetID:  strings.TrimSpace(f.preset),
		Glossary:       glossary,
	}, nil
}

func newDubCommand(ctx *commandContext) *cobra.Command {
	var flags jobFlags
	cmd := &cobra.Command{
		Use:   "dub <source-key>",
		Short: "Create a job and run the full pipeline in this process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.newJob(args[0])
			if err != nil {
				return err
			}
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			return ctx.withStore(func(cfg *config.Config, store *jobs.Store) error {
				rt, err := newRuntime(cfg, store, logger)
				if err != nil {
					return err
				}
				defer rt.close()

				job, err := store.Create(signalCtx, req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Dubbing %s as job %s\n", job.SourceKey, job.ID)

				outcome, runErr := rt.orchestrator.Run(signalCtx, pipeline.Request{JobID: job.ID})
				out := cmd.OutOrStdout()
				fmt.Fprint(out, renderFields([][2]string{
					{"Job", outcome.JobID},
					{"Status", string(outcome.Status)},
					{"Output", outcome.OutputKey},
					{"Failed stage", outcome.FailedStage},
					{"Error", outcome.Error},
					{"Segments", countOrEmpty(outcome.Segments)},
					{"Elapsed", outcome.Elapsed.Round(time.Millisecond).String()},
				}))
				fmt.Fprintln(out)
				if runErr != nil {
					if errors.Is(runErr, context.Canceled) || outcome.Status == jobs.StatusProcessing {
						return fmt.Errorf("interrupted; job %s is requeued when the daemon next starts: %w", job.ID, runErr)
					}
					return runErr
				}
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func countOrEmpty(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}
