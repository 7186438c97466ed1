// Command ingest runs the IngestionService that stores uploaded images.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"snapcmd/internal/config"
	"snapcmd/internal/ingest"
	"snapcmd/internal/logging"
	"snapcmd/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ingest: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := pflag.NewFlagSet("ingest", pflag.ExitOnError)
	config.IngestFlags(fs)
	fs.Parse(os.Args[1:])

	cfg, err := config.LoadIngest(fs)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer log.Sync()

	var index ingest.Index
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse redis URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		defer rdb.Close()
		index = ingest.NewRedisIndex(rdb)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := ingest.New(ingest.NewStore(cfg.Root), index, log.Named("ingest"))
	r := server.NewRouter(log.Named("http"))
	svc.Routes(r)
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	log.Info("ingest starting", zap.String("listen", cfg.Listen), zap.String("root", cfg.Root))
	return server.Serve(ctx, cfg.Listen, r, log)
}
