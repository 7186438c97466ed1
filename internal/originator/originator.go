// Package originator implements the SessionOriginator: it allocates a
// correlation id per capture session and publishes the trigger downstream.
package originator

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"snapcmd/internal/bus"
	"snapcmd/internal/event"
	"snapcmd/internal/session"
)

const submittedMessage = "Capture request sent to all clients!"

// Publisher fans a trigger out to downstream subscribers.
type Publisher interface {
	Publish(t event.Trigger) error
	Subscribers() int
}

// RedisPublisher mirrors triggers onto the Redis bus.
type RedisPublisher interface {
	Publish(ctx context.Context, t event.Trigger) (int64, error)
}

// Options tunes an Originator.
type Options struct {
	// Message is attached to every trigger.
	Message string
	// SnapshotRoot, when set, gets an empty partition directory per session.
	SnapshotRoot string
	// AcceptClientTriggers starts a session for capture_request frames
	// sent by subscribers.
	AcceptClientTriggers bool
}

// Originator is the top of the trigger chain.
type Originator struct {
	ids   *session.Generator
	hub   Publisher
	redis RedisPublisher
	opts  Options
	log   *zap.Logger
}

// New returns an Originator publishing to hub. redis may be nil.
func New(ids *session.Generator, hub Publisher, redis RedisPublisher, opts Options, log *zap.Logger) *Originator {
	return &Originator{ids: ids, hub: hub, redis: redis, opts: opts, log: log}
}

// Attach registers the originator for subscriber-sent triggers on hub.
func (o *Originator) Attach(hub *bus.Hub) {
	if !o.opts.AcceptClientTriggers {
		return
	}
	hub.OnMessage(func(subscriberID string, _ event.Trigger) {
		o.log.Info("capture request received from subscriber", zap.String("subscriber", subscriberID))
		o.Trigger(context.Background())
	})
}

// Trigger starts a session and returns its correlation id. It only reports
// that the trigger was submitted: downstream failures are logged, never
// returned.
func (o *Originator) Trigger(ctx context.Context) string {
	id := o.ids.Next()
	log := o.log.With(zap.String("folder_name", id))

	if o.opts.SnapshotRoot != "" {
		if err := os.MkdirAll(filepath.Join(o.opts.SnapshotRoot, id), 0o755); err != nil {
			log.Warn("failed to create snapshot folder", zap.Error(err))
		}
	}

	t := event.Trigger{FolderName: id, Message: o.opts.Message}
	if err := o.hub.Publish(t); err != nil {
		log.Error("failed to publish capture request", zap.Error(err))
	} else {
		log.Info("sending capture request to all clients", zap.Int("subscribers", o.hub.Subscribers()))
	}

	if o.redis != nil {
		n, err := o.redis.Publish(ctx, t)
		if err != nil {
			log.Error("failed to publish capture request to redis", zap.Error(err))
		} else {
			log.Info("published capture request to redis", zap.Int64("receivers", n))
		}
	}
	return id
}

// Routes mounts the trigger ingress and health check on r.
func (o *Originator) Routes(r gin.IRouter) {
	r.POST("/send_capture_request", o.handleTrigger)
	r.GET("/healthz", o.handleHealth)
}

func (o *Originator) handleTrigger(c *gin.Context) {
	// The caller only waits for submission, not for the Redis round trip.
	id := o.Trigger(context.WithoutCancel(c.Request.Context()))
	c.JSON(http.StatusOK, gin.H{"message": submittedMessage, "folder_name": id})
}

func (o *Originator) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"subscribers": o.hub.Subscribers(),
	})
}
