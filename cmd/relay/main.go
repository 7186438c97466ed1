// Command relay runs one RelayLink tier: the public broadcast tier under the
// originator, or a local relay bridging a private network segment to it.
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

	"snapcmd/internal/bus"
	"snapcmd/internal/config"
	"snapcmd/internal/logging"
	"snapcmd/internal/relay"
	"snapcmd/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "relay: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := pflag.NewFlagSet("relay", pflag.ExitOnError)
	config.RelayFlags(fs)
	fs.Parse(os.Args[1:])

	cfg, err := config.LoadRelay(fs)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer log.Sync()

	up, err := bus.Dial(cfg.Upstream.Address, bus.Policy{
		Reconnect: cfg.Upstream.Reconnect,
		Backoff:   cfg.Upstream.Backoff.D(),
	}, log.Named("upstream"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	link := relay.New(up, bus.NewHub(log.Named("hub")), relay.Options{
		BridgeURL: cfg.BridgeURL,
		QueueSize: cfg.QueueSize,
	}, log.Named("relay"))

	r := server.NewRouter(log.Named("http"))
	link.Routes(r)

	go func() {
		// The downstream side keeps serving when the upstream gives up.
		if err := link.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("upstream stopped", zap.Error(err))
		}
	}()

	log.Info("relay starting",
		zap.String("listen", cfg.Listen),
		zap.String("upstream", cfg.Upstream.Address),
		zap.Bool("reconnect", cfg.Upstream.Reconnect),
		zap.String("bridge_url", cfg.BridgeURL))
	return server.Serve(ctx, cfg.Listen, r, log)
}
