// Package camera exposes camera hardware to the agent as a device that can
// be started, asked for one frame, and stopped.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"snapcmd/internal/config"
)

var (
	// ErrNotStarted is returned by Capture on a camera that is not started.
	ErrNotStarted = errors.New("camera: not started")
	// ErrEmptyFrame is returned when the device produced no image data.
	ErrEmptyFrame = errors.New("camera: empty frame")
)

// Camera is a single image source. Start and Stop bracket every capture.
type Camera interface {
	ID() string
	Start() error
	Capture(ctx context.Context) ([]byte, error)
	Stop() error
}

// New builds the camera described by cfg.
func New(cfg config.Camera) (Camera, error) {
	switch cfg.Driver {
	case "command":
		return NewCommand(cfg.ID, cfg.Command...), nil
	case "file":
		return NewFile(cfg.ID, cfg.Path), nil
	}
	return nil, fmt.Errorf("camera: unknown driver %q", cfg.Driver)
}

// gate tracks the started state shared by the drivers.
type gate struct {
	mu      sync.Mutex
	started bool
}

func (g *gate) start() {
	g.mu.Lock()
	g.started = true
	g.mu.Unlock()
}

func (g *gate) stop() {
	g.mu.Lock()
	g.started = false
	g.mu.Unlock()
}

func (g *gate) check() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.started {
		return ErrNotStarted
	}
	return nil
}

// Command captures by running a still-capture program that writes one JPEG
// to stdout, e.g. libcamera-still -n -o -.
type Command struct {
	id   string
	argv []string
	gate
}

func NewCommand(id string, argv ...string) *Command {
	return &Command{id: id, argv: argv}
}

func (c *Command) ID() string { return c.id }

// Start fails when the capture program cannot be found.
func (c *Command) Start() error {
	if len(c.argv) == 0 {
		return errors.New("camera: no capture command")
	}
	if _, err := exec.LookPath(c.argv[0]); err != nil {
		return fmt.Errorf("camera %s: %w", c.id, err)
	}
	c.start()
	return nil
}

func (c *Command) Stop() error { c.stop(); return nil }

func (c *Command) Capture(ctx context.Context) ([]byte, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	if len(c.argv) == 0 {
		return nil, errors.New("camera: no capture command")
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("camera %s: %w: %s", c.id, err, bytes.TrimSpace(stderr.Bytes()))
	}
	if stdout.Len() == 0 {
		return nil, ErrEmptyFrame
	}
	return stdout.Bytes(), nil
}

// File serves the contents of a fixed image file. Used on bench setups
// without camera hardware.
type File struct {
	id   string
	path string
	gate
}

func NewFile(id, path string) *File {
	return &File{id: id, path: path}
}

func (f *File) ID() string { return f.id }

// Start fails when the image file is missing.
func (f *File) Start() error {
	if _, err := os.Stat(f.path); err != nil {
		return fmt.Errorf("camera %s: %w", f.id, err)
	}
	f.start()
	return nil
}

func (f *File) Stop() error { f.stop(); return nil }

func (f *File) Capture(ctx context.Context) ([]byte, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("camera %s: %w", f.id, err)
	}
	if len(b) == 0 {
		return nil, ErrEmptyFrame
	}
	return b, nil
}
