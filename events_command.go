package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/eventlog"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/server"
)

func newEventsCommand(ctx *commandContext) *cobra.Command {
	var filter string
	var limit int
	var offset int

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent recording and submit events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			f := eventlog.TypeFilter(filter)
			switch f {
			case eventlog.FilterAll, eventlog.FilterRecording, eventlog.FilterSubmit:
			default:
				return fmt.Errorf("invalid filter %q: use recording or submit", filter)
			}

			snap := cfg.Snapshot()
			path := snap.EventLogPath
			if path == "" {
				path = eventlog.DefaultLogPath(snap.WebPort)
			}

			events, hasMore, err := eventlog.ReadLast(path, limit, offset, f)
			if err != nil {
				return fmt.Errorf("read event log: %w", err)
			}
			return printJSON(cmd, server.EventsViewResult{Events: events, HasMore: hasMore})
		},
	}

	cmd.Flags().StringVar(&filter, "filter", "", "Only show recording or submit events")
	cmd.Flags().IntVarP(&limit, "limit", "n", server.DefaultEventsLimit, "Maximum number of events")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of events to skip")
	return cmd
}
