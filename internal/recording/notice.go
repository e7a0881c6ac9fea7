package recording

import (
	"errors"
	"fmt"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/capture"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/media"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/playback"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
)

// Sentinel errors for controller operations.
var (
	// ErrBusy is returned when an operation does not apply to the current state.
	ErrBusy = errors.New("recorder is busy")

	// ErrAlreadyRecording is returned by Start while a take is being recorded.
	ErrAlreadyRecording = errors.New("recorder is already recording")

	// ErrNotRecording is returned by Stop when nothing is being recorded.
	ErrNotRecording = errors.New("recorder is not recording")

	// ErrNothingToReview is returned when no finished take is held.
	ErrNothingToReview = errors.New("no recording to review")

	// ErrTooShort is returned when a take is shorter than the minimum duration.
	ErrTooShort = errors.New("recording too short")

	// ErrSubmitFailed wraps upload failures. The take is kept for a retry.
	ErrSubmitFailed = errors.New("submit failed")

	// ErrNoUploader is returned by Submit when no upload collaborator is set.
	ErrNoUploader = errors.New("no uploader configured")

	// ErrCancelled is returned by Submit when Close interrupted it.
	ErrCancelled = errors.New("submit cancelled")

	// ErrClosed is returned by Start when Close aborted it.
	ErrClosed = errors.New("recorder closed")
)

// NoticeError is a failure that left a user-facing notice on the controller.
// It unwraps to the underlying error.
type NoticeError struct {
	Notice *types.Notice
	Err    error
}

func (e *NoticeError) Error() string { return e.Err.Error() }

func (e *NoticeError) Unwrap() error { return e.Err }

// withNotice attaches notice to err. It returns err unchanged when either is nil.
func withNotice(err error, notice *types.Notice) error {
	if err == nil || notice == nil {
		return err
	}
	return &NoticeError{Notice: notice, Err: err}
}

// noticeFor converts a pipeline failure into a user-facing notice.
func noticeFor(err error, p Preset) *types.Notice {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, capture.ErrEncodingFailure):
		return &types.Notice{Kind: types.ErrorEncodingFailure, Message: "Recording failed. Please try again."}
	case errors.Is(err, media.ErrPermissionDenied):
		return &types.Notice{Kind: types.ErrorPermissionDenied, Message: "Microphone access was denied."}
	case errors.Is(err, media.ErrDeviceUnavailable):
		return &types.Notice{Kind: types.ErrorDeviceUnavailable, Message: "No microphone is available."}
	case errors.Is(err, ErrTooShort):
		return &types.Notice{
			Kind:    types.ErrorTooShort,
			Message: fmt.Sprintf("Recording is too short. Record at least %s.", p.MinDuration),
		}
	case errors.Is(err, capture.ErrEmptyRecording):
		return &types.Notice{Kind: types.ErrorEmptyRecording, Message: "Nothing was recorded."}
	case errors.Is(err, playback.ErrPlaybackFailed):
		return &types.Notice{Kind: types.ErrorPlaybackFailure, Message: "The preview could not be played."}
	case errors.Is(err, ErrSubmitFailed):
		return &types.Notice{Kind: types.ErrorSubmitFailure, Message: "Upload failed. Your recording was kept, try again."}
	default:
		return &types.Notice{Kind: types.ErrorEncodingFailure, Message: "Recording failed. Please try again."}
	}
}
