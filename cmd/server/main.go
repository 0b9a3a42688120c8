package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	appserver "github.com/girderlabs/girder/internal/app/server"
	"github.com/girderlabs/girder/internal/platform/cmd"
	"github.com/girderlabs/girder/internal/platform/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg appserver.Config
	if err := cmd.ParseConfig(&cfg); err != nil {
		config.Exitf("server: %v", err)
	}
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	fs.IntVar(&cfg.Port, "port", cfg.Port, "gRPC listen port (0 for ephemeral)")
	fs.IntVar(&cfg.MaxMessageSize, "max-message-size", cfg.MaxMessageSize, "max message size in bytes (-1 for defaults)")
	fs.StringVar(&cfg.Compression, "compression", cfg.Compression, "default response compressor (e.g. gzip)")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "worker pool size (0 for one per CPU)")
	if err := cmd.ParseArgs(fs, os.Args[1:]); err != nil {
		config.Exitf("server: %v", err)
	}

	err := cmd.RunWithTelemetry(ctx, cmd.ServiceServer, func(ctx context.Context) error {
		return appserver.Run(ctx, cfg)
	})
	if err != nil {
		config.Exitf("server: %v", err)
	}
}
