package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-canvas/pkg/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func newRootCmd() *cobra.Command {
	var envFiles []string

	root := &cobra.Command{
		Use:   "vai-canvas",
		Short: "Talk to a live model that works on a shared canvas",
		Long: `vai-canvas streams your microphone (and optionally your screen) to a live
voice model, plays its spoken answers, and lets it act through tools: opening
apps, generating images, playing videos and keeping workspace items.

Quick Start:
  vai-canvas run                 # start the interactive console
  vai-canvas run --dual          # share the screen as soon as it connects
  vai-canvas history list        # list saved sessions`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(envFiles...)
		},
	}
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "KEY=VALUE files loaded before reading the environment")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(newRunCmd(), newHistoryCmd())
	return root
}
