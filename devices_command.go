package main

import (
	"github.com/spf13/cobra"
)

func newDevicesCommand(ctx *commandContext) *cobra.Command {
	var backend string

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List audio input devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if backend == "" {
				backend = cfg.Snapshot().AudioBackend
			}
			return printJSON(cmd, devices(backend))
		},
	}

	cmd.Flags().StringVar(&backend, "backend", "", "Capture backend to query: exec or miniaudio (default: configured backend)")
	return cmd
}
