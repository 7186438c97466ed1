// Command agent runs a CaptureAgent on an edge device.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"snapcmd/internal/agent"
	"snapcmd/internal/bus"
	"snapcmd/internal/camera"
	"snapcmd/internal/config"
	"snapcmd/internal/logging"
	"snapcmd/internal/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "agent: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := pflag.NewFlagSet("agent", pflag.ExitOnError)
	config.AgentFlags(fs)
	fs.Parse(os.Args[1:])

	cfg, err := config.LoadAgent(fs)
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := agent.New(
		agent.NewHTTPUploader(cfg.UploadURL, cfg.UploadTimeout.D(), loc),
		agent.Options{
			RetryBudget: cfg.RetryBudget,
			RetryDelay:  cfg.RetryDelay.D(),
			SettleDelay: cfg.SettleDelay.D(),
			QueueSize:   cfg.QueueSize,
		},
		log.Named("agent"),
	)
	for _, cc := range cfg.Cameras {
		cam, err := camera.New(cc)
		if err != nil {
			return err
		}
		if err := a.Register(ctx, cam); err != nil {
			log.Warn("camera not initialized", zap.String("camera_id", cc.ID), zap.Error(err))
		}
	}
	if len(a.Cameras()) == 0 {
		log.Warn("no cameras initialized; triggers will be acknowledged but produce no uploads")
	}

	up, err := bus.Dial(cfg.Upstream.Address, bus.Policy{
		Reconnect: cfg.Upstream.Reconnect,
		Backoff:   cfg.Upstream.Backoff.D(),
	}, log.Named("upstream"))
	if err != nil {
		return err
	}

	go a.Run(ctx)
	log.Info("agent starting",
		zap.String("upstream", cfg.Upstream.Address),
		zap.Strings("cameras", a.Cameras()),
		zap.String("upload_url", cfg.UploadURL))

	err = up.Run(ctx, a.OnTrigger)
	if errors.Is(err, bus.ErrGaveUp) {
		// Unhardened agents stop quietly once their single connection ends.
		log.Info("agent exiting", zap.Error(err))
		return nil
	}
	return err
}
