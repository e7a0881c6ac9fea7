package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/recording"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/util"
)

type recordOptions struct {
	preset  string
	preview bool
	discard bool
	meta    types.Metadata
}

func newRecordCommand(ctx *commandContext) *cobra.Command {
	var opts recordOptions
	var kind, rating string

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record one clip from the microphone and submit it",
		Long: "Records until Enter is pressed or the preset maximum is reached,\n" +
			"optionally plays the take back, then submits it to the configured storage.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if opts.preset == "" {
				opts.preset = cfg.Snapshot().Preset
			}
			opts.meta.Kind = types.ClipKind(kind)
			if opts.meta.Kind == "" {
				opts.meta.Kind = types.ClipKind(opts.preset)
			}
			opts.meta.ContentRating = types.ContentRating(rating)
			if !opts.discard {
				if err := types.Validate(&opts.meta); err != nil {
					return err
				}
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), util.ShutdownSignals()...)
			defer stop()

			changes := make(chan struct{}, 1)
			app, err := newApp(cfg, func(types.ControllerStatus) {
				select {
				case changes <- struct{}{}:
				default:
				}
			})
			if err != nil {
				return err
			}
			defer app.Close()

			receipt, err := runRecord(runCtx, cmd, app, &opts, changes)
			if err != nil {
				return err
			}
			if receipt == nil {
				return nil
			}
			return printJSON(cmd, receipt)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.preset, "preset", "", "Recording preset: "+strings.Join(recording.PresetNames(), ", ")+" (default: configured preset)")
	f.StringVar(&kind, "kind", "", "Clip kind (default: the preset name)")
	f.StringVar(&opts.meta.TopicID, "topic", "", "Topic the clip belongs to")
	f.StringVar(&opts.meta.ParentClipID, "parent", "", "Clip this one replies to")
	f.StringVar(&opts.meta.Mood, "mood", "", "Mood tag")
	f.StringVar(&opts.meta.Title, "title", "", "Clip title")
	f.StringVar(&opts.meta.Caption, "caption", "", "Clip caption")
	f.StringVar(&rating, "rating", "", "Content rating: general or sensitive")
	f.BoolVar(&opts.preview, "preview", false, "Play the take back before submitting")
	f.BoolVar(&opts.discard, "discard", false, "Discard the take instead of submitting it")
	return cmd
}

// runRecord drives one take through the controller. It returns a nil receipt
// when the take was discarded.
func runRecord(ctx context.Context, cmd *cobra.Command, app *App, opts *recordOptions, changes <-chan struct{}) (*types.Receipt, error) {
	ctrl := app.controller
	out := cmd.ErrOrStderr()

	snap := app.config.Snapshot()
	preset, err := presetFor(&snap, opts.preset)
	if err != nil {
		return nil, err
	}
	if err := ctrl.SetPreset(preset); err != nil {
		return nil, err
	}

	if err := ctrl.Start(ctx); err != nil {
		return nil, noticeError(err)
	}
	fmt.Fprintf(out, "Recording (max %s), press Enter to stop...\n", util.FormatDuration(preset.MaxDuration.Milliseconds()))

	enter := make(chan struct{})
	go func() {
		_, _ = bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		close(enter)
	}()

	if err := waitForTake(ctx, ctrl, enter, changes); err != nil {
		return nil, err
	}

	st := ctrl.Status()
	fmt.Fprintf(out, "Recorded %ds of %s (%d bytes)\n", st.DurationSeconds, st.MimeType, st.BlobSize)

	if opts.preview {
		if err := previewTake(ctx, ctrl, changes, out); err != nil {
			return nil, err
		}
	}

	if opts.discard {
		fmt.Fprintln(out, "Take discarded")
		return nil, ctrl.Discard()
	}

	fmt.Fprintln(out, "Submitting...")
	receipt, err := ctrl.Submit(ctx, opts.meta)
	if err != nil {
		return nil, noticeError(err)
	}
	return receipt, nil
}

// waitForTake stops the recording on Enter and returns once a take is ready
// for review. An auto-stop at the preset maximum also ends the wait.
func waitForTake(ctx context.Context, ctrl *recording.Controller, enter, changes <-chan struct{}) error {
	for ctrl.State() == types.StateRecording {
		select {
		case <-ctx.Done():
			ctrl.Close()
			return context.Cause(ctx)
		case <-enter:
			if err := ctrl.Stop(); err != nil && !errors.Is(err, recording.ErrNotRecording) {
				return noticeError(err)
			}
		case <-changes:
		}
	}
	if st := ctrl.Status(); st.State != types.StateReviewing {
		if st.Notice != nil {
			return fmt.Errorf("%s: recording ended without a take", st.Notice.Message)
		}
		return errors.New("recording ended without a take")
	}
	return nil
}

// previewTake plays the take to the end.
func previewTake(ctx context.Context, ctrl *recording.Controller, changes <-chan struct{}, out io.Writer) error {
	fmt.Fprintln(out, "Playing back...")
	if err := ctrl.Play(ctx); err != nil {
		return noticeError(err)
	}
	for ctrl.Status().Playing {
		select {
		case <-ctx.Done():
			ctrl.Close()
			return context.Cause(ctx)
		case <-changes:
		}
	}
	if notice := ctrl.Status().Notice; notice != nil {
		return fmt.Errorf("%s: %s", notice.Kind, notice.Message)
	}
	return nil
}

// noticeError prefers the user-facing notice err carries, if any.
func noticeError(err error) error {
	var nerr *recording.NoticeError
	if errors.As(err, &nerr) {
		return fmt.Errorf("%s: %w", nerr.Notice.Message, err)
	}
	return err
}
