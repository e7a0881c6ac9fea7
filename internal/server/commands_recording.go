package server

import (
	"errors"
	"fmt"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/recording"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
)

// resultFor sends the outcome of a controller action. A failure that set a
// notice is reported with that notice; other errors are sent as they are.
func (h *CommandHandler) resultFor(cmd WSCommand, send chan<- any, err error) {
	if err == nil {
		SendSuccess(send, cmd.Type, h.ctrl.Status())
		return
	}
	var verr *types.ValidationError
	if errors.As(err, &verr) {
		SendValidationErrors(send, cmd.Type, verr)
		return
	}
	var nerr *recording.NoticeError
	if errors.As(err, &nerr) {
		SendNotice(send, cmd.Type, nerr.Notice)
		return
	}
	SendError(send, cmd.Type, err)
}

// presetFromConfig resolves a preset name with the configured overrides.
func (h *CommandHandler) presetFromConfig(name string) (recording.Preset, error) {
	p, ok := recording.PresetFor(name)
	if !ok {
		return recording.Preset{}, fmt.Errorf("unknown preset %q", name)
	}
	snap := h.cfg.Snapshot()
	return p.WithOverrides(snap.MinSeconds, snap.MaxSeconds, snap.BarCount), nil
}

func (h *CommandHandler) handleStart(cmd WSCommand, send chan<- any) {
	var req StartRequest
	if !DecodeAndValidate(cmd, send, &req) {
		return
	}

	if req.Preset != "" && req.Preset != h.ctrl.Preset().Name {
		preset, err := h.presetFromConfig(req.Preset)
		if err == nil {
			err = h.ctrl.SetPreset(preset)
		}
		if err != nil {
			SendError(send, cmd.Type, err)
			return
		}
	}

	h.resultFor(cmd, send, h.ctrl.Start(h.ctx))
}

func (h *CommandHandler) handleStop(cmd WSCommand, send chan<- any) {
	h.resultFor(cmd, send, h.ctrl.Stop())
}

func (h *CommandHandler) handleDiscard(cmd WSCommand, send chan<- any) {
	h.resultFor(cmd, send, h.ctrl.Discard())
}

// handleSubmit uploads in the background so the socket keeps serving level
// and status updates.
func (h *CommandHandler) handleSubmit(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	var req SubmitRequest
	if !DecodeAndValidate(cmd, send, &req) {
		return
	}

	HandleActionAsync(cmd, send, func() (any, error) {
		return h.ctrl.Submit(h.ctx, req.Metadata)
	}, triggerStatusUpdate)
}

// handlePreset switches the controller preset while idle.
func (h *CommandHandler) handlePreset(cmd WSCommand, send chan<- any) {
	HandleCommand(cmd, send, func(req *PresetRequest) error {
		preset, err := h.presetFromConfig(req.Preset)
		if err != nil {
			return err
		}
		return h.ctrl.SetPreset(preset)
	})
}

func (h *CommandHandler) handleClose(cmd WSCommand, send chan<- any) {
	h.ctrl.Close()
	SendSuccess(send, cmd.Type, h.ctrl.Status())
}

func (h *CommandHandler) handlePlay(cmd WSCommand, send chan<- any) {
	h.resultFor(cmd, send, h.ctrl.Play(h.ctx))
}

func (h *CommandHandler) handlePause(cmd WSCommand, send chan<- any) {
	h.resultFor(cmd, send, h.ctrl.Pause())
}
