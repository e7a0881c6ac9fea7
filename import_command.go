package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/audio"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/capture"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/playback"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/recording"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/util"
)

// importTimeout bounds decoding and uploading one file.
const importTimeout = 2 * time.Minute

// errTooLong is returned for files longer than the bulk preset allows.
var errTooLong = errors.New("clip too long")

func newImportCommand(ctx *commandContext) *cobra.Command {
	var meta types.Metadata
	var rating string

	cmd := &cobra.Command{
		Use:   "import <file>...",
		Short: "Submit existing audio files as bulk clips",
		Long: "Decodes each file to compute its waveform and levels, then submits it\n" +
			"through the upload queue as a bulk clip.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			meta.Kind = types.KindBulk
			meta.ContentRating = types.ContentRating(rating)
			if err := types.Validate(&meta); err != nil {
				return err
			}

			app, err := newApp(cfg, nil)
			if err != nil {
				return err
			}
			defer app.Close()

			receipts := make([]*types.Receipt, 0, len(args))
			for _, path := range args {
				receipt, err := importClip(cmd.Context(), app, path, meta)
				if err != nil {
					return util.WrapError("import "+filepath.Base(path), err)
				}
				receipts = append(receipts, receipt)
			}
			return printJSON(cmd, receipts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&meta.TopicID, "topic", "", "Topic the clips belong to")
	f.StringVar(&meta.ParentClipID, "parent", "", "Clip these reply to")
	f.StringVar(&meta.Mood, "mood", "", "Mood tag")
	f.StringVar(&meta.Title, "title", "", "Clip title")
	f.StringVar(&meta.Caption, "caption", "", "Clip caption")
	f.StringVar(&rating, "rating", "", "Content rating: general or sensitive")
	return cmd
}

// importClip decodes one audio file and submits it with meta.
func importClip(ctx context.Context, app *App, path string, meta types.Metadata) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, importTimeout)
	defer cancel()

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	mimeType := capture.MimeTypeForExtension(filepath.Ext(path))
	if mimeType == "" {
		return nil, fmt.Errorf("unknown audio type for %s", filepath.Ext(path))
	}

	format, pcm, err := playback.Decode(ctx, path, mimeType, app.ffmpegPath)
	if err != nil {
		return nil, err
	}
	bps := format.BytesPerSecond()
	if bps == 0 || len(pcm) == 0 {
		return nil, fmt.Errorf("%s holds no audio", filepath.Base(path))
	}

	snap := app.config.Snapshot()
	preset, err := presetFor(&snap, string(types.KindBulk))
	if err != nil {
		return nil, err
	}
	duration := time.Duration(len(pcm)) * time.Second / time.Duration(bps)
	switch {
	case duration < preset.MinDuration:
		return nil, fmt.Errorf("%w: %s is under %s", recording.ErrTooShort, duration.Round(time.Millisecond), preset.MinDuration)
	case preset.MaxDuration > 0 && duration > preset.MaxDuration:
		return nil, fmt.Errorf("%w: %s is over %s", errTooLong, duration.Round(time.Millisecond), preset.MaxDuration)
	}

	var data audio.LevelData
	audio.ProcessSamples(pcm, &data)
	levels := audio.CalculateLevels(&data)

	id := uuid.NewString()
	waveform := audio.WaveformFromPCM(pcm, preset.BarCount)
	if !audio.HasSignal(waveform) {
		waveform = audio.PlaceholderWaveform(id, preset.BarCount)
	}

	return app.queue.Upload(ctx, &types.UploadRequest{
		ID:              id,
		Audio:           blob,
		MimeType:        mimeType,
		DurationSeconds: util.RoundSeconds(duration),
		Waveform:        waveform,
		Metadata:        meta,
		Identity:        types.Identity{ProfileID: snap.ProfileID, DeviceID: snap.DeviceID},
		PeakDB:          levels.Peak,
		RMSDB:           levels.RMS,
		RecordedAt:      info.ModTime(),
	})
}
