package camera

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"snapcmd/internal/config"
)

func TestFile_Capture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.jpeg")
	if err := os.WriteFile(path, []byte("jpeg-bytes"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cam := NewFile("camera1", path)

	if _, err := cam.Capture(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Errorf("expected ErrNotStarted, got %v", err)
	}
	if err := cam.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	b, err := cam.Capture(context.Background())
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if string(b) != "jpeg-bytes" {
		t.Errorf("unexpected frame %q", b)
	}
	cam.Stop()
	if _, err := cam.Capture(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Errorf("expected ErrNotStarted after stop, got %v", err)
	}
}

func TestFile_Missing(t *testing.T) {
	cam := NewFile("camera1", filepath.Join(t.TempDir(), "nope.jpeg"))
	if err := cam.Start(); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected ErrNotExist from start, got %v", err)
	}
	if _, err := cam.Capture(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Errorf("expected ErrNotStarted, got %v", err)
	}
}

func TestFile_RemovedAfterStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.jpeg")
	if err := os.WriteFile(path, []byte("jpeg-bytes"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cam := NewFile("camera1", path)
	if err := cam.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	os.Remove(path)
	if _, err := cam.Capture(context.Background()); err == nil {
		t.Error("expected error for removed file")
	}
}

func TestCommand_MissingBinary(t *testing.T) {
	cam := NewCommand("camera1", filepath.Join(t.TempDir(), "libcamera-still"))
	if err := cam.Start(); err == nil {
		t.Error("expected start error for missing binary")
	}
	if err := NewCommand("camera2").Start(); err == nil {
		t.Error("expected start error for empty command")
	}
}

func TestCommand_Capture(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	cam := NewCommand("camera1", "sh", "-c", "printf frame")
	if err := cam.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer cam.Stop()

	b, err := cam.Capture(context.Background())
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if string(b) != "frame" {
		t.Errorf("expected frame, got %q", b)
	}

	empty := NewCommand("camera2", "sh", "-c", "true")
	empty.Start()
	if _, err := empty.Capture(context.Background()); !errors.Is(err, ErrEmptyFrame) {
		t.Errorf("expected ErrEmptyFrame, got %v", err)
	}

	failing := NewCommand("camera3", "sh", "-c", "echo busy >&2; exit 1")
	failing.Start()
	if _, err := failing.Capture(context.Background()); err == nil {
		t.Error("expected error from failing command")
	}
}

func TestNew(t *testing.T) {
	if _, err := New(config.Camera{ID: "a", Driver: "file", Path: "x"}); err != nil {
		t.Errorf("file driver: %v", err)
	}
	if _, err := New(config.Camera{ID: "a", Driver: "command", Command: []string{"true"}}); err != nil {
		t.Errorf("command driver: %v", err)
	}
	if _, err := New(config.Camera{ID: "a", Driver: "laser"}); err == nil {
		t.Error("expected error for unknown driver")
	}
}
