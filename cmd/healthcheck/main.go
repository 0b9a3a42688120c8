package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/girderlabs/girder/internal/platform/cmd"
	"github.com/girderlabs/girder/internal/platform/config"
	platformgrpc "github.com/girderlabs/girder/internal/platform/grpc"
)

type healthcheckConfig struct {
	Addr    string        `env:"GIRDER_HEALTHCHECK_ADDR" envDefault:"127.0.0.1:8082"`
	Timeout time.Duration `env:"GIRDER_HEALTHCHECK_TIMEOUT" envDefault:"5s"`
}

func main() {
	var cfg healthcheckConfig
	fs := flag.NewFlagSet("healthcheck", flag.ExitOnError)
	if err := cmd.ParseConfig(&cfg); err != nil {
		config.Exitf("healthcheck: %v", err)
	}
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "server address to probe")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "probe timeout")
	if err := cmd.ParseArgs(fs, os.Args[1:]); err != nil {
		config.Exitf("healthcheck: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	conn, err := platformgrpc.DialWithHealth(ctx, nil, cfg.Addr, cfg.Timeout, log.Printf, platformgrpc.DefaultClientDialOptions()...)
	if err != nil {
		config.Exitf("healthcheck: %s: %v", cfg.Addr, err)
	}
	_ = conn.Close()
	log.Printf("healthcheck: %s is SERVING", cfg.Addr)
}
