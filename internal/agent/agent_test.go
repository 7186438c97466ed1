package agent

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"snapcmd/internal/camera"
	"snapcmd/internal/event"
)

// fakeCamera fails the first failures captures, then returns frame.
type fakeCamera struct {
	id       string
	failures int
	startErr error
	frame    []byte

	mu       sync.Mutex
	starts   int
	stops    int
	captures int
	running  bool
}

func (c *fakeCamera) ID() string { return c.id }

func (c *fakeCamera) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	if c.startErr != nil {
		return c.startErr
	}
	c.running = true
	return nil
}

func (c *fakeCamera) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	c.running = false
	return nil
}

func (c *fakeCamera) Capture(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.captures++
	if !c.running {
		return nil, errors.New("capture on stopped camera")
	}
	if c.captures <= c.failures {
		return nil, errors.New("device busy")
	}
	return c.frame, nil
}

type fakeUploader struct {
	mu      sync.Mutex
	results []Result
	err     error
}

func (u *fakeUploader) Upload(ctx context.Context, r Result) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.results = append(u.results, r)
	if u.err != nil {
		return "", u.err
	}
	return r.CorrelationID + "/image_" + r.CameraID + ".jpeg", nil
}

func (u *fakeUploader) calls() []Result {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]Result(nil), u.results...)
}

// newTestAgent returns an agent whose sleeps are recorded instead of taken.
func newTestAgent(up Uploader, opts Options) (*Agent, *[]time.Duration) {
	a := New(up, opts, zap.NewNop())
	var slept []time.Duration
	a.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return a, &slept
}

func TestCaptureOneFrame_SucceedsOnLastAttempt(t *testing.T) {
	a, slept := newTestAgent(&fakeUploader{}, DefaultOptions())
	cam := &fakeCamera{id: "camera1", failures: 2, frame: []byte("jpeg")}

	frame := a.CaptureOneFrame(context.Background(), cam)
	if string(frame) != "jpeg" {
		t.Fatalf("expected frame from attempt 3, got %q", frame)
	}
	if cam.starts != 3 || cam.stops != 3 {
		t.Errorf("expected 3 starts and 3 stops, got %d and %d", cam.starts, cam.stops)
	}
	if cam.running {
		t.Error("camera left running")
	}

	want := []time.Duration{
		500 * time.Millisecond, // settle, attempt 1
		time.Second, 500 * time.Millisecond,
		time.Second, 500 * time.Millisecond,
	}
	if len(*slept) != len(want) {
		t.Fatalf("expected sleeps %v, got %v", want, *slept)
	}
	for i := range want {
		if (*slept)[i] != want[i] {
			t.Errorf("sleep %d: expected %v, got %v", i, want[i], (*slept)[i])
		}
	}
}

func TestCaptureOneFrame_BudgetExhausted(t *testing.T) {
	a, _ := newTestAgent(&fakeUploader{}, DefaultOptions())
	cam := &fakeCamera{id: "camera1", failures: 10, frame: []byte("jpeg")}

	if frame := a.CaptureOneFrame(context.Background(), cam); frame != nil {
		t.Errorf("expected nil frame, got %q", frame)
	}
	if cam.captures != 3 || cam.stops != 3 {
		t.Errorf("expected 3 captures and 3 stops, got %d and %d", cam.captures, cam.stops)
	}
}

func TestCaptureOneFrame_StartFailureStillStops(t *testing.T) {
	a, _ := newTestAgent(&fakeUploader{}, DefaultOptions())
	cam := &fakeCamera{id: "camera1", startErr: errors.New("no device")}

	if frame := a.CaptureOneFrame(context.Background(), cam); frame != nil {
		t.Errorf("expected nil frame, got %q", frame)
	}
	if cam.stops != 3 || cam.captures != 0 {
		t.Errorf("expected 3 stops and no captures, got %d and %d", cam.stops, cam.captures)
	}
}

func TestHandleTrigger_FailedCameraSkipsUpload(t *testing.T) {
	up := &fakeUploader{}
	a, _ := newTestAgent(up, DefaultOptions())
	broken := &fakeCamera{id: "camera1", failures: 3}
	healthy := &fakeCamera{id: "camera2", frame: []byte("jpeg")}
	for _, c := range []*fakeCamera{broken, healthy} {
		if err := a.Register(context.Background(), c); err != nil {
			t.Fatalf("register %s: %v", c.id, err)
		}
	}

	n := a.HandleTrigger(context.Background(), event.Trigger{FolderName: "images_2024-01-01___10-00-00"})
	if n != 1 {
		t.Errorf("expected 1 upload, got %d", n)
	}

	calls := up.calls()
	if len(calls) != 1 {
		t.Fatalf("expected exactly one upload call, got %d", len(calls))
	}
	if calls[0].CameraID != "camera2" || calls[0].CorrelationID != "images_2024-01-01___10-00-00" {
		t.Errorf("unexpected upload %+v", calls[0])
	}
	if calls[0].End.Before(calls[0].Start) {
		t.Error("end time before start time")
	}

	s := a.Stats()
	if s.Failed != 1 || s.Uploaded != 1 || s.Captured != 1 {
		t.Errorf("unexpected stats %+v", s)
	}
	if a.State() != Idle {
		t.Errorf("expected idle, got %s", a.State())
	}
}

func TestHandleTrigger_UploadErrorContinues(t *testing.T) {
	up := &fakeUploader{err: errors.New("502 bad gateway")}
	a, _ := newTestAgent(up, DefaultOptions())
	a.Register(context.Background(), &fakeCamera{id: "camera1", frame: []byte("a")})
	a.Register(context.Background(), &fakeCamera{id: "camera2", frame: []byte("b")})

	if n := a.HandleTrigger(context.Background(), event.Trigger{FolderName: "images_x"}); n != 0 {
		t.Errorf("expected 0 successful uploads, got %d", n)
	}
	calls := up.calls()
	if len(calls) != 2 {
		t.Fatalf("expected one attempt per camera, got %d", len(calls))
	}
	if calls[0].CameraID != "camera1" || calls[1].CameraID != "camera2" {
		t.Errorf("cameras not processed in registration order: %s, %s", calls[0].CameraID, calls[1].CameraID)
	}
}

func TestUploadResult_NoFrame(t *testing.T) {
	up := &fakeUploader{}
	a, _ := newTestAgent(up, DefaultOptions())

	err := a.UploadResult(context.Background(), Result{CorrelationID: "images_x", CameraID: "camera1"})
	if !errors.Is(err, ErrNoFrame) {
		t.Errorf("expected ErrNoFrame, got %v", err)
	}
	if len(up.calls()) != 0 {
		t.Error("uploader called for absent frame")
	}
}

func TestRegister_ProbeFailure(t *testing.T) {
	a, _ := newTestAgent(&fakeUploader{}, DefaultOptions())
	cam := &fakeCamera{id: "camera1", startErr: errors.New("no device")}

	if err := a.Register(context.Background(), cam); err == nil {
		t.Fatal("expected probe error")
	}
	if len(a.Cameras()) != 0 {
		t.Errorf("failed camera registered: %v", a.Cameras())
	}
	if cam.stops != 1 {
		t.Errorf("expected probe to release camera, got %d stops", cam.stops)
	}
}

func TestRegister_MissingDevice(t *testing.T) {
	a, _ := newTestAgent(&fakeUploader{}, DefaultOptions())
	dir := t.TempDir()

	if err := a.Register(context.Background(), camera.NewCommand("camera1", filepath.Join(dir, "libcamera-still"))); err == nil {
		t.Error("expected error for missing capture binary")
	}
	if err := a.Register(context.Background(), camera.NewFile("camera2", filepath.Join(dir, "frame.jpeg"))); err == nil {
		t.Error("expected error for missing image file")
	}
	if len(a.Cameras()) != 0 {
		t.Errorf("cameras without devices registered: %v", a.Cameras())
	}
}

func TestRegister_CancelledDuringSettle(t *testing.T) {
	a, _ := newTestAgent(&fakeUploader{}, DefaultOptions())
	cam := &fakeCamera{id: "camera1", frame: []byte("jpeg")}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := a.Register(ctx, cam); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(a.Cameras()) != 0 {
		t.Errorf("camera registered after cancel: %v", a.Cameras())
	}
	if cam.running {
		t.Error("camera left running")
	}
}

func TestOnTrigger_QueueAndDrop(t *testing.T) {
	opts := DefaultOptions()
	opts.QueueSize = 2
	a, _ := newTestAgent(&fakeUploader{}, opts)

	a.OnTrigger(event.Trigger{})
	for _, f := range []string{"images_1", "images_2", "images_3"} {
		a.OnTrigger(event.Trigger{FolderName: f})
	}

	s := a.Stats()
	if s.Triggers != 3 || s.Dropped != 1 {
		t.Errorf("expected 3 triggers and 1 dropped, got %+v", s)
	}
	if got := (<-a.queue).FolderName; got != "images_1" {
		t.Errorf("expected images_1 first, got %s", got)
	}
	if got := (<-a.queue).FolderName; got != "images_2" {
		t.Errorf("expected images_2 second, got %s", got)
	}
}

func TestRun_ProcessesQueuedTriggers(t *testing.T) {
	up := &fakeUploader{}
	a, _ := newTestAgent(up, DefaultOptions())
	a.Register(context.Background(), &fakeCamera{id: "camera1", frame: []byte("jpeg")})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	a.OnTrigger(event.Trigger{FolderName: "images_1"})
	a.OnTrigger(event.Trigger{FolderName: "images_2"})

	deadline := time.Now().Add(5 * time.Second)
	for len(up.calls()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 uploads, got %d", len(up.calls()))
		}
		time.Sleep(5 * time.Millisecond)
	}
	calls := up.calls()
	if calls[0].CorrelationID != "images_1" || calls[1].CorrelationID != "images_2" {
		t.Errorf("triggers processed out of order: %s, %s", calls[0].CorrelationID, calls[1].CorrelationID)
	}

	cancel()
	<-done
}
