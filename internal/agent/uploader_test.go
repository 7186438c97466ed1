package agent

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPUploader_Upload(t *testing.T) {
	fields := make(map[string]string)
	var requestID string
	var image []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, hdr, err := r.FormFile("image")
		if err != nil {
			t.Errorf("image part: %v", err)
			return
		}
		defer f.Close()
		image, _ = io.ReadAll(f)
		if ct := hdr.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("expected image/jpeg part, got %s", ct)
		}
		for k := range r.MultipartForm.Value {
			fields[k] = r.FormValue(k)
		}
		requestID = r.Header.Get("X-Request-ID")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","path":"images_x/image_camera1.jpeg"}`))
	}))
	defer server.Close()

	loc := time.FixedZone("ICT", 7*60*60)
	start := time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC)
	up := NewHTTPUploader(server.URL, 5*time.Second, loc)

	path, err := up.Upload(context.Background(), Result{
		CorrelationID: "images_x",
		CameraID:      "camera1",
		Start:         start,
		End:           start.Add(2 * time.Second),
		Image:         []byte("jpeg-bytes"),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if path != "images_x/image_camera1.jpeg" {
		t.Errorf("unexpected path %s", path)
	}

	want := map[string]string{
		"session_id":  "images_x",
		"camera_id":   "camera1",
		"start_time":  "2024-01-01 10:00:00",
		"end_time":    "2024-01-01 10:00:02",
		"folder_name": "images_x",
	}
	for k, v := range want {
		if g := fields[k]; g != v {
			t.Errorf("field %s: expected %q, got %q", k, v, g)
		}
	}
	if string(image) != "jpeg-bytes" {
		t.Errorf("unexpected image bytes %q", image)
	}
	if requestID == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestHTTPUploader_Rejected(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"status":"error","message":"disk full"}`},
		{"plain text error", http.StatusBadGateway, "bad gateway"},
		{"error with ok status", http.StatusOK, `{"status":"error","message":"disk full"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			up := NewHTTPUploader(server.URL, 5*time.Second, time.UTC)
			_, err := up.Upload(context.Background(), Result{CorrelationID: "images_x", CameraID: "camera1", Image: []byte("x")})
			var ue *UploadError
			if !errors.As(err, &ue) {
				t.Fatalf("expected UploadError, got %v", err)
			}
			if ue.StatusCode != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, ue.StatusCode)
			}
		})
	}
}

func TestHTTPUploader_TransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	up := NewHTTPUploader(url, time.Second, time.UTC)
	if _, err := up.Upload(context.Background(), Result{CorrelationID: "images_x", CameraID: "camera1", Image: []byte("x")}); err == nil {
		t.Error("expected transport error")
	}
}
