package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-canvas/pkg/config"
	"github.com/vango-go/vai-canvas/pkg/core/history"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect saved sessions",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List saved sessions, newest first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withHistory(cmd.Context(), func(store history.Store) error {
					snaps, err := store.List(cmd.Context())
					if err != nil {
						return fmt.Errorf("list sessions: %w", err)
					}
					writeHistoryList(cmd.OutOrStdout(), snaps)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "show <session-id>",
			Short: "Print the transcript and items of a session",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withHistory(cmd.Context(), func(store history.Store) error {
					snap, err := history.Find(cmd.Context(), store, args[0])
					if err != nil {
						return fmt.Errorf("show %s: %w", args[0], err)
					}
					writeSnapshot(cmd.OutOrStdout(), snap)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "delete <session-id>",
			Short: "Delete a saved session",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withHistory(cmd.Context(), func(store history.Store) error {
					if err := store.Delete(cmd.Context(), args[0]); err != nil {
						return fmt.Errorf("delete %s: %w", args[0], err)
					}
					fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("Deleted "+args[0]))
					return nil
				})
			},
		},
	)
	return cmd
}

func withHistory(ctx context.Context, fn func(history.Store) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := history.Open(ctx, cfg.HistoryBackend, cfg.HistoryDSN)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer store.Close()
	return fn(store)
}
