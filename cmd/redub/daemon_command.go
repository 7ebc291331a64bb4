package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"redub/internal/daemon"
	"redub/internal/jobs"
	"redub/internal/logging"
	"redub/internal/preflight"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the job poller and HTTP API in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}

			if failed := preflight.Failed(preflight.RunAll(signalCtx, cfg, preflight.Options{})); len(failed) > 0 {
				for _, check := range failed {
					logging.ErrorWithContext(logger, "preflight check failed", "preflight_failed",
						logging.String("check", check.Name),
						logging.String("detail", check.Detail),
						logging.String(logging.FieldErrorHint, "run redub status for the full readiness report"),
					)
				}
				return fmt.Errorf("preflight: %d required check(s) failed", len(failed))
			}

			store, err := jobs.Open(cfg.DatabasePath())
			if err != nil {
				logger.Error("open job store", logging.Error(err))
				return err
			}
			defer store.Close()

			rt, err := newRuntime(cfg, store, logger)
			if err != nil {
				return err
			}
			defer rt.close()

			d, err := daemon.New(cfg, store, rt.orchestrator, logger)
			if err != nil {
				return fmt.Errorf("create daemon: %w", err)
			}
			if err := d.Start(signalCtx); err != nil {
				return fmt.Errorf("start daemon: %w", err)
			}

			<-signalCtx.Done()
			logger.Info("redub daemon shutting down")
			d.Stop()
			return nil
		},
	}
}
