package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/catalog"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/server"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/util"
)

func newClipsCommand(ctx *commandContext) *cobra.Command {
	var topicID string
	var limit int
	var offset int

	withCatalog := func(fn func(*catalog.Store) error) error {
		cfg, err := ctx.ensureConfig()
		if err != nil {
			return err
		}
		snap := cfg.Snapshot()
		if !snap.HasCatalog() {
			return errors.New("clip catalog not configured")
		}
		store, err := catalog.Open(snap.CatalogPath)
		if err != nil {
			return fmt.Errorf("open catalog: %w", err)
		}
		defer util.SafeClose(store, "catalog")
		return fn(store)
	}

	cmd := &cobra.Command{
		Use:   "clips",
		Short: "List catalogued clips, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCatalog(func(store *catalog.Store) error {
				var (
					clips []*catalog.Clip
					err   error
				)
				if topicID != "" {
					clips, err = store.ListByTopic(cmd.Context(), topicID, limit, offset)
				} else {
					clips, err = store.Recent(cmd.Context(), limit, offset)
				}
				if err != nil {
					return err
				}
				total, err := store.Count(cmd.Context(), topicID)
				if err != nil {
					return err
				}
				return printJSON(cmd, server.ClipsListResult{Clips: clips, Total: total})
			})
		},
	}

	cmd.Flags().StringVar(&topicID, "topic", "", "Only list clips for this topic")
	cmd.Flags().IntVarP(&limit, "limit", "n", server.DefaultClipsLimit, "Maximum number of clips")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of clips to skip")

	cmd.AddCommand(&cobra.Command{
		Use:   "show <clip-id>",
		Short: "Show one catalogued clip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCatalog(func(store *catalog.Store) error {
				clip, err := store.Get(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("get clip %s: %w", args[0], err)
				}
				return printJSON(cmd, clip)
			})
		},
	})

	return cmd
}
