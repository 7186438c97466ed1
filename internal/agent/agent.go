// Package agent implements the edge CaptureAgent: on every trigger it takes
// one frame from each registered camera, in registration order, and uploads
// each frame to the ingestion service.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"snapcmd/internal/camera"
	"snapcmd/internal/event"
)

// ErrNoFrame is returned by UploadResult for a result without image data.
var ErrNoFrame = errors.New("agent: no frame to upload")

// State is the per-trigger state of the agent.
type State int32

const (
	Idle State = iota
	Capturing
	Uploading
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Uploading:
		return "uploading"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Result is the outcome of one camera for one trigger. Image is nil when the
// retry budget was exhausted.
type Result struct {
	CorrelationID string
	CameraID      string
	Start         time.Time
	End           time.Time
	Image         []byte
}

// Uploader delivers a result to the ingestion service and returns the path
// the service stored it under.
type Uploader interface {
	Upload(ctx context.Context, r Result) (string, error)
}

// Options tunes capture retries and trigger queueing.
type Options struct {
	RetryBudget int
	RetryDelay  time.Duration
	SettleDelay time.Duration
	// QueueSize bounds triggers waiting behind the one in progress; newer
	// triggers are dropped while the queue is full.
	QueueSize int
}

// DefaultOptions matches the deployed edge agents.
func DefaultOptions() Options {
	return Options{
		RetryBudget: 3,
		RetryDelay:  time.Second,
		SettleDelay: 500 * time.Millisecond,
		QueueSize:   4,
	}
}

// Stats counts what the agent has done since it started.
type Stats struct {
	Triggers uint64
	Dropped  uint64
	Captured uint64
	Failed   uint64
	Uploaded uint64
}

// Agent owns its cameras exclusively; they are only touched from Run.
type Agent struct {
	cams []camera.Camera
	up   Uploader
	opts Options
	log  *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	queue chan event.Trigger
	state atomic.Int32

	triggers, dropped, captured, failed, uploaded atomic.Uint64
}

// New returns an agent with no cameras.
func New(up Uploader, opts Options, log *zap.Logger) *Agent {
	if opts.RetryBudget <= 0 {
		opts.RetryBudget = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	return &Agent{
		up:    up,
		opts:  opts,
		log:   log,
		now:   time.Now,
		sleep: sleepCtx,
		queue: make(chan event.Trigger, opts.QueueSize),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Register probes cam with one start/settle/stop cycle and adds it on
// success. A camera that fails the probe is not registered.
func (a *Agent) Register(ctx context.Context, cam camera.Camera) error {
	if err := cam.Start(); err != nil {
		cam.Stop()
		return fmt.Errorf("agent: probe %s: %w", cam.ID(), err)
	}
	if err := a.sleep(ctx, a.opts.SettleDelay); err != nil {
		cam.Stop()
		return fmt.Errorf("agent: probe %s: %w", cam.ID(), err)
	}
	if err := cam.Stop(); err != nil {
		return fmt.Errorf("agent: release %s: %w", cam.ID(), err)
	}
	a.cams = append(a.cams, cam)
	a.log.Info("camera initialized", zap.String("camera_id", cam.ID()))
	return nil
}

// Cameras returns the registered camera ids in processing order.
func (a *Agent) Cameras() []string {
	ids := make([]string, len(a.cams))
	for i, c := range a.cams {
		ids[i] = c.ID()
	}
	return ids
}

// State returns the current capture state.
func (a *Agent) State() State { return State(a.state.Load()) }

// Stats returns a snapshot of the trigger and capture counters.
func (a *Agent) Stats() Stats {
	return Stats{
		Triggers: a.triggers.Load(),
		Dropped:  a.dropped.Load(),
		Captured: a.captured.Load(),
		Failed:   a.failed.Load(),
		Uploaded: a.uploaded.Load(),
	}
}

// OnTrigger queues t for Run. It never blocks, so it can be used directly
// as a bus.Handler.
func (a *Agent) OnTrigger(t event.Trigger) {
	log := a.log.With(zap.String("folder_name", t.FolderName))
	if err := t.Validate(); err != nil {
		log.Error("rejecting capture request", zap.Error(err))
		return
	}
	a.triggers.Add(1)
	select {
	case a.queue <- t:
		log.Info("capture request received", zap.String("message", t.Message))
	default:
		a.dropped.Add(1)
		log.Warn("capture queue full, dropping capture request")
	}
}

// Run processes queued triggers one at a time until ctx is done.
func (a *Agent) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-a.queue:
			a.HandleTrigger(ctx, t)
		}
	}
}

// HandleTrigger captures and uploads one frame per camera for t and returns
// the number of successful uploads. A failing camera never stops the cameras
// after it.
func (a *Agent) HandleTrigger(ctx context.Context, t event.Trigger) int {
	defer a.state.Store(int32(Idle))

	ok := 0
	for _, cam := range a.cams {
		a.state.Store(int32(Capturing))
		r := Result{CorrelationID: t.FolderName, CameraID: cam.ID(), Start: a.now()}
		r.Image = a.CaptureOneFrame(ctx, cam)
		r.End = a.now()

		a.state.Store(int32(Uploading))
		if err := a.UploadResult(ctx, r); err == nil {
			ok++
		}
	}
	return ok
}

// CaptureOneFrame tries up to the retry budget to get a frame from cam and
// returns nil once the budget is exhausted. The camera is stopped after every
// attempt.
func (a *Agent) CaptureOneFrame(ctx context.Context, cam camera.Camera) []byte {
	log := a.log.With(zap.String("camera_id", cam.ID()))
	for attempt := 1; attempt <= a.opts.RetryBudget; attempt++ {
		if attempt > 1 {
			if err := a.sleep(ctx, a.opts.RetryDelay); err != nil {
				break
			}
		}
		frame, err := a.attempt(ctx, cam)
		if err == nil {
			a.captured.Add(1)
			log.Info("image captured", zap.Int("attempt", attempt), zap.Int("bytes", len(frame)))
			return frame
		}
		log.Warn("capture attempt failed",
			zap.Int("attempt", attempt), zap.Int("budget", a.opts.RetryBudget), zap.Error(err))
	}
	return nil
}

func (a *Agent) attempt(ctx context.Context, cam camera.Camera) (frame []byte, err error) {
	defer func() {
		if stopErr := cam.Stop(); stopErr != nil {
			a.log.Warn("camera stop failed", zap.String("camera_id", cam.ID()), zap.Error(stopErr))
		}
	}()
	if err := cam.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	// Exposure and white balance settle after start.
	if err := a.sleep(ctx, a.opts.SettleDelay); err != nil {
		return nil, err
	}
	frame, err = cam.Capture(ctx)
	if err == nil && len(frame) == 0 {
		err = camera.ErrEmptyFrame
	}
	return frame, err
}

// UploadResult sends r once. Results without a frame are recorded as local
// failures and never reach the network.
func (a *Agent) UploadResult(ctx context.Context, r Result) error {
	log := a.log.With(zap.String("folder_name", r.CorrelationID), zap.String("camera_id", r.CameraID))
	if r.Image == nil {
		a.failed.Add(1)
		log.Error("skipping upload, no frame captured")
		return ErrNoFrame
	}
	path, err := a.up.Upload(ctx, r)
	if err != nil {
		a.failed.Add(1)
		log.Error("upload failed", zap.Error(err))
		return err
	}
	a.uploaded.Add(1)
	log.Info("image uploaded", zap.String("path", path))
	return nil
}
