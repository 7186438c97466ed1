package ingest

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrMissingField is returned when upload metadata is incomplete.
	ErrMissingField = errors.New("missing required field")
	// ErrInvalidName is returned for folder or camera names that would
	// escape the partition root.
	ErrInvalidName = errors.New("invalid name")
)

// Metadata is the form metadata sent with every upload.
type Metadata struct {
	SessionID  string `form:"session_id"`
	CameraID   string `form:"camera_id"`
	StartTime  string `form:"start_time"`
	EndTime    string `form:"end_time"`
	FolderName string `form:"folder_name"`
}

// Validate checks that every field is present and that the names are safe
// to use as path elements.
func (m Metadata) Validate() error {
	required := []struct{ name, value string }{
		{"session_id", m.SessionID},
		{"camera_id", m.CameraID},
		{"start_time", m.StartTime},
		{"end_time", m.EndTime},
		{"folder_name", m.FolderName},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, f.name)
		}
	}
	if err := checkFolder(m.FolderName); err != nil {
		return err
	}
	if strings.ContainsAny(m.CameraID, `/\`) || m.CameraID == "." || m.CameraID == ".." {
		return fmt.Errorf("%w: camera_id %q", ErrInvalidName, m.CameraID)
	}
	return nil
}

// checkFolder allows nested relative folders but nothing that leaves the root.
func checkFolder(name string) error {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return fmt.Errorf("%w: folder_name %q", ErrInvalidName, name)
	}
	for _, part := range strings.FieldsFunc(name, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return fmt.Errorf("%w: folder_name %q", ErrInvalidName, name)
		}
	}
	return nil
}

// Store writes images under root/<folder_name>/image_<camera_id>.jpeg.
type Store struct {
	root string
}

// NewStore returns a store rooted at root.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Path returns where the image for md is stored.
func (s *Store) Path(md Metadata) string {
	return filepath.Join(s.root, md.FolderName, "image_"+md.CameraID+".jpeg")
}

// Save writes the image for md, replacing any earlier image for the same
// camera in the same partition. The file is renamed into place so readers
// never see a partial image.
func (s *Store) Save(md Metadata, image io.Reader) (string, error) {
	if err := md.Validate(); err != nil {
		return "", err
	}
	path := s.Path(md)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create partition: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, image); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("store image: %w", err)
	}
	return path, nil
}
