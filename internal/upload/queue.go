package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/eventlog"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/util"
)

// Queue defaults.
const (
	DefaultQueueCapacity  = 8
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 30 * time.Second
)

// QueueOptions configures a Queue.
type QueueOptions struct {
	Capacity       int
	MaxRetries     int // Retries after the first attempt
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Clock          clockwork.Clock
	EventLog       *eventlog.Logger
}

type job struct {
	ctx    context.Context
	req    *types.UploadRequest
	result chan jobResult
}

type jobResult struct {
	receipt *types.Receipt
	err     error
}

// Queue runs uploads on a single worker with bounded capacity and retries.
// It implements Uploader so callers block until their own upload finishes.
type Queue struct {
	uploader Uploader
	opts     QueueOptions

	mu     sync.Mutex
	closed bool
	jobs   chan *job
	wg     sync.WaitGroup
}

// NewQueue starts a queue in front of uploader.
func NewQueue(uploader Uploader, opts QueueOptions) *Queue {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultQueueCapacity
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultInitialBackoff
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = max(DefaultMaxBackoff, opts.InitialBackoff)
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	q := &Queue{
		uploader: uploader,
		opts:     opts,
		jobs:     make(chan *job, opts.Capacity),
	}
	q.wg.Add(1)
	go q.worker()
	return q
}

// Upload implements Uploader. It returns ErrQueueFull without waiting when
// every slot is taken.
func (q *Queue) Upload(ctx context.Context, req *types.UploadRequest) (*types.Receipt, error) {
	j := &job{ctx: ctx, req: req, result: make(chan jobResult, 1)}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	select {
	case q.jobs <- j:
	default:
		q.mu.Unlock()
		slog.Warn("upload queue full", "clip_id", req.ID, "capacity", q.opts.Capacity)
		return nil, ErrQueueFull
	}
	q.mu.Unlock()

	select {
	case res := <-j.result:
		return res.receipt, res.err
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

// Pending returns the number of queued uploads.
func (q *Queue) Pending() int {
	return len(q.jobs)
}

// Close stops accepting uploads and waits for queued ones to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	q.wg.Wait()
}

// worker processes the queue, draining remaining items on shutdown.
func (q *Queue) worker() {
	defer q.wg.Done()
	for j := range q.jobs {
		receipt, err := q.run(j)
		j.result <- jobResult{receipt: receipt, err: err}
	}
}

func (q *Queue) run(j *job) (*types.Receipt, error) {
	backoff := util.NewBackoff(q.opts.InitialBackoff, q.opts.MaxBackoff)

	var lastErr error
	for attempt := 0; attempt <= q.opts.MaxRetries; attempt++ {
		if err := j.ctx.Err(); err != nil {
			return nil, context.Cause(j.ctx)
		}
		if attempt > 0 {
			slog.Warn("retrying upload", "clip_id", j.req.ID, "attempt", attempt, "error", lastErr)
			q.logRetry(j.req, attempt, lastErr)
			if err := backoff.Wait(j.ctx, q.opts.Clock); err != nil {
				return nil, err
			}
		}

		receipt, err := q.uploader.Upload(j.ctx, j.req)
		if err == nil {
			return receipt, nil
		}
		if errors.Is(err, ErrRejected) || j.ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("upload failed after %d attempts: %w", q.opts.MaxRetries+1, lastErr)
}

func (q *Queue) logRetry(req *types.UploadRequest, attempt int, err error) {
	if q.opts.EventLog == nil {
		return
	}
	_ = q.opts.EventLog.LogSubmit(eventlog.UploadRetry, "", &eventlog.SubmitDetails{
		ClipID:     req.ID,
		TopicID:    req.Metadata.TopicID,
		Kind:       string(req.Metadata.Kind),
		Error:      err.Error(),
		RetryCount: attempt,
	})
}
