// Command originator is the top of the capture chain. It serves the trigger
// ingress and the broadcast hub that relays and agents subscribe to.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"snapcmd/internal/bus"
	"snapcmd/internal/config"
	"snapcmd/internal/logging"
	"snapcmd/internal/originator"
	"snapcmd/internal/server"
	"snapcmd/internal/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "originator: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := pflag.NewFlagSet("originator", pflag.ExitOnError)
	config.OriginatorFlags(fs)
	fs.Parse(os.Args[1:])

	cfg, err := config.LoadOriginator(fs)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer log.Sync()

	loc, err := session.LoadZone(cfg.TimeZone)
	if err != nil {
		return fmt.Errorf("time zone: %w", err)
	}

	var rp originator.RedisPublisher
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse redis URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		defer rdb.Close()
		rp = bus.NewRedisPublisher(rdb)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := bus.NewHub(log.Named("hub"))
	orig := originator.New(session.NewGenerator(loc, nil), hub, rp, originator.Options{
		Message:              cfg.Message,
		SnapshotRoot:         cfg.SnapshotRoot,
		AcceptClientTriggers: cfg.AcceptClientTriggers,
	}, log.Named("originator"))
	orig.Attach(hub)
	go hub.Run(ctx)

	r := server.NewRouter(log.Named("http"))
	r.GET(bus.HubPath, gin.WrapH(hub))
	orig.Routes(r)

	log.Info("originator starting", zap.String("listen", cfg.Listen), zap.Bool("redis", rp != nil))
	return server.Serve(ctx, cfg.Listen, r, log)
}
