// Package relay implements a RelayLink: one upstream bus link feeding a Hub
// of downstream subscribers. Triggers only travel downstream.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"snapcmd/internal/bus"
	"snapcmd/internal/event"
)

// defaultFolder is used by /emit-capture when the caller names no folder.
const defaultFolder = "default_folder"

// Upstream is the outbound side of a RelayLink.
type Upstream interface {
	Run(ctx context.Context, h bus.Handler) error
	State() bus.State
}

// Options tunes a Link.
type Options struct {
	// BridgeURL routes upstream triggers through POST <BridgeURL>/emit-capture
	// instead of publishing to the hub directly.
	BridgeURL string
	// QueueSize bounds triggers received upstream but not yet forwarded.
	QueueSize int
}

// Link bridges one upstream connection to many downstream subscribers.
type Link struct {
	up     Upstream
	hub    *bus.Hub
	opts   Options
	client *http.Client
	log    *zap.Logger

	pending chan event.Trigger
}

// New returns a Link. Neither side starts until Run.
func New(up Upstream, hub *bus.Hub, opts Options, log *zap.Logger) *Link {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	opts.BridgeURL = strings.TrimRight(opts.BridgeURL, "/")
	return &Link{
		up:      up,
		hub:     hub,
		opts:    opts,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log,
		pending: make(chan event.Trigger, opts.QueueSize),
	}
}

// Hub returns the downstream side.
func (l *Link) Hub() *bus.Hub { return l.hub }

// Run starts the hub, the forwarder and the upstream link, and blocks until
// ctx is done or the upstream gives up.
func (l *Link) Run(ctx context.Context) error {
	go l.hub.Run(ctx)
	go l.forward(ctx)
	return l.up.Run(ctx, l.OnUpstreamEvent)
}

// OnUpstreamEvent queues t for downstream delivery. It never blocks the
// upstream read loop; when the queue is full the trigger is dropped.
func (l *Link) OnUpstreamEvent(t event.Trigger) {
	log := l.log.With(zap.String("folder_name", t.FolderName))
	select {
	case l.pending <- t:
		log.Info("capture request received from upstream")
	default:
		log.Warn("forward queue full, dropping capture request")
	}
}

func (l *Link) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-l.pending:
			var err error
			if l.opts.BridgeURL != "" {
				err = l.emitViaBridge(ctx, t)
			} else {
				err = l.hub.Publish(t)
			}
			if err != nil {
				l.log.Error("failed to relay capture request",
					zap.String("folder_name", t.FolderName), zap.Error(err))
				continue
			}
			l.log.Info("capture request relayed", zap.String("folder_name", t.FolderName))
		}
	}
}

type emitRequest struct {
	FolderName string `json:"folder_name"`
	Message    string `json:"message,omitempty"`
}

// emitViaBridge makes the single local HTTP hop. Failures are not retried.
func (l *Link) emitViaBridge(ctx context.Context, t event.Trigger) error {
	body, err := json.Marshal(emitRequest{FolderName: t.FolderName, Message: t.Message})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.opts.BridgeURL+"/emit-capture", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("bridge: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("bridge: status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	return nil
}

// Routes mounts the subscriber endpoint, the local bridge endpoint and the
// health check on r.
func (l *Link) Routes(r gin.IRouter) {
	r.GET(bus.HubPath, gin.WrapH(l.hub))
	r.POST("/emit-capture", l.handleEmitCapture)
	r.GET("/healthz", l.handleHealth)
}

func (l *Link) handleEmitCapture(c *gin.Context) {
	var req emitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.log.Error("error in emit-capture", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to emit capture request"})
		return
	}
	if req.FolderName == "" {
		req.FolderName = defaultFolder
	}
	if err := l.hub.Publish(event.Trigger{FolderName: req.FolderName, Message: req.Message}); err != nil {
		l.log.Error("error in emit-capture", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to emit capture request"})
		return
	}
	l.log.Info("emitting capture request", zap.String("folder_name", req.FolderName))
	c.JSON(http.StatusOK, gin.H{"message": "Capture request emitted"})
}

func (l *Link) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"upstream":    l.up.State().String(),
		"subscribers": l.hub.Subscribers(),
	})
}
