// Package ingest implements the IngestionService: it accepts multipart image
// uploads tagged with session metadata and stores them per session partition.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Service stores uploads and optionally indexes them.
type Service struct {
	store *Store
	index Index
	log   *zap.Logger
}

// New returns a Service. index may be nil.
func New(store *Store, index Index, log *zap.Logger) *Service {
	return &Service{store: store, index: index, log: log}
}

// Routes mounts the upload endpoint on r.
func (s *Service) Routes(r gin.IRouter) {
	r.POST("/upload_image", s.handleUpload)
}

// ReceiveUpload validates md, stores image and returns the stored path.
// Index failures are logged; the stored image stays authoritative.
func (s *Service) ReceiveUpload(ctx context.Context, md Metadata, image io.Reader) (string, error) {
	path, err := s.store.Save(md, image)
	if err != nil {
		return "", err
	}
	if s.index != nil {
		if err := s.index.Record(ctx, md, path); err != nil {
			s.log.Warn("failed to index upload", zap.String("path", path), zap.Error(err))
		}
	}
	return path, nil
}

func (s *Service) handleUpload(c *gin.Context) {
	var md Metadata
	if err := c.ShouldBind(&md); err != nil {
		s.fail(c, http.StatusBadRequest, fmt.Errorf("invalid form: %w", err))
		return
	}
	log := s.log.With(
		zap.String("session_id", md.SessionID),
		zap.String("camera_id", md.CameraID),
		zap.String("folder_name", md.FolderName),
		zap.String("start_time", md.StartTime),
		zap.String("end_time", md.EndTime),
	)
	log.Info("received image upload request")

	if err := md.Validate(); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	fh, err := c.FormFile("image")
	if err != nil {
		s.fail(c, http.StatusBadRequest, fmt.Errorf("%w: image", ErrMissingField))
		return
	}
	f, err := fh.Open()
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	defer f.Close()

	path, err := s.ReceiveUpload(c.Request.Context(), md, f)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrMissingField) || errors.Is(err, ErrInvalidName) {
			status = http.StatusBadRequest
		}
		s.fail(c, status, err)
		return
	}

	log.Info("image saved", zap.String("path", path), zap.Int64("bytes", fh.Size))
	c.JSON(http.StatusOK, gin.H{"status": "success", "path": path})
}

func (s *Service) fail(c *gin.Context, status int, err error) {
	s.log.Error("error saving image", zap.Int("status", status), zap.Error(err))
	c.JSON(status, gin.H{"status": "error", "message": err.Error()})
}
