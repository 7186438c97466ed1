package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/google/uuid"

	"snapcmd/internal/session"
)

// maxResponse bounds how much of an ingestion response is read.
const maxResponse = 64 << 10

// UploadError is returned for a rejected upload.
type UploadError struct {
	StatusCode int
	Message    string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload rejected: status %d: %s", e.StatusCode, e.Message)
}

// HTTPUploader posts results as multipart forms to the ingestion service.
type HTTPUploader struct {
	url    string
	client *http.Client
	loc    *time.Location
}

// NewHTTPUploader returns an uploader for the /upload_image endpoint at url.
// Timestamps are rendered in loc.
func NewHTTPUploader(url string, timeout time.Duration, loc *time.Location) *HTTPUploader {
	return &HTTPUploader{
		url:    url,
		client: &http.Client{Timeout: timeout},
		loc:    loc,
	}
}

type uploadResponse struct {
	Status  string `json:"status"`
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Upload performs a single POST; it does not retry.
func (u *HTTPUploader) Upload(ctx context.Context, r Result) (string, error) {
	body, contentType, err := u.encode(r)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, body)
	if err != nil {
		return "", fmt.Errorf("agent: build upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Request-ID", uuid.New().String())

	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("agent: upload: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return "", fmt.Errorf("agent: read upload response: %w", err)
	}
	var out uploadResponse
	jsonErr := json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := out.Message
		if jsonErr != nil || msg == "" {
			msg = string(bytes.TrimSpace(raw))
		}
		return "", &UploadError{StatusCode: resp.StatusCode, Message: msg}
	}
	if jsonErr != nil {
		return "", fmt.Errorf("agent: decode upload response: %w", jsonErr)
	}
	if out.Status != "success" {
		return "", &UploadError{StatusCode: resp.StatusCode, Message: out.Message}
	}
	return out.Path, nil
}

func (u *HTTPUploader) encode(r Result) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := []struct{ name, value string }{
		{"session_id", r.CorrelationID},
		{"camera_id", r.CameraID},
		{"start_time", session.FormatTime(r.Start, u.loc)},
		{"end_time", session.FormatTime(r.End, u.loc)},
		{"folder_name", r.CorrelationID},
	}
	for _, f := range fields {
		if err := mw.WriteField(f.name, f.value); err != nil {
			return nil, "", fmt.Errorf("agent: encode %s: %w", f.name, err)
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="image.jpeg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("agent: encode image: %w", err)
	}
	if _, err := part.Write(r.Image); err != nil {
		return nil, "", fmt.Errorf("agent: encode image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("agent: encode upload: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}
