package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"redub/internal/config"
	"redub/internal/jobs"
)

func newPresetCommand(ctx *commandContext) *cobra.Command {
	presetCmd := &cobra.Command{
		Use:   "preset",
		Short: "Manage voice presets",
	}
	presetCmd.AddCommand(newPresetCreateCommand(ctx))
	presetCmd.AddCommand(newPresetListCommand(ctx))
	presetCmd.AddCommand(newPresetReadyCommand(ctx))
	presetCmd.AddCommand(newPresetFailCommand(ctx))
	return presetCmd
}

func newPresetCreateCommand(ctx *commandContext) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Register a PENDING voice preset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *jobs.Store) error {
				preset, err := store.CreatePreset(cmd.Context(), user, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created preset %s (%s)\n", preset.ID, preset.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "Owning user ID")
	return cmd
}

func newPresetListCommand(ctx *commandContext) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List voice presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *jobs.Store) error {
				presets, err := store.ListPresets(cmd.Context(), user)
				if err != nil {
					return err
				}
				if len(presets) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No voice presets")
					return nil
				}
				rows := make([][]string, 0, len(presets))
				for _, p := range presets {
					rows = append(rows, []string{p.ID, p.Name, string(p.Status), p.ConditioningRef, p.Error})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Name", "Status", "Conditioning", "Error"}, rows, nil))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "Only presets owned by this user")
	return cmd
}

func newPresetReadyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ready <preset-id> <conditioning-ref>",
		Short: "Mark a preset READY with its stored conditioning reference",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := strings.TrimSpace(args[1])
			if ref == "" {
				return fmt.Errorf("conditioning reference is required")
			}
			return ctx.withStore(func(_ *config.Config, store *jobs.Store) error {
				if err := store.MarkPresetReady(cmd.Context(), args[0], ref); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Preset %s is READY\n", args[0])
				return nil
			})
		},
	}
}

func newPresetFailCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "fail <preset-id> <reason>",
		Short: "Mark a preset FAILED",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *jobs.Store) error {
				if err := store.MarkPresetFailed(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Preset %s is FAILED\n", args[0])
				return nil
			})
		},
	}
}
