// Package server assembles the production serving runtime from
// configuration and runs it until shutdown.
package server

import (
	"context"
	"fmt"

	"github.com/girderlabs/girder/internal/assembly"
	runtime "github.com/girderlabs/girder/internal/server"
	"github.com/girderlabs/girder/internal/workerpool"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// Config carries the runtime settings, loaded from GIRDER_* environment
// variables and overridable by flags.
type Config struct {
	// Port is the gRPC listen port. 0 asks the OS for an ephemeral port.
	Port int `env:"GIRDER_GRPC_PORT" envDefault:"8082"`
	// MaxMessageSize bounds message sizes in bytes. -1 keeps defaults.
	MaxMessageSize int `env:"GIRDER_MAX_MESSAGE_SIZE" envDefault:"-1"`
	// Compression names the default response compressor (e.g. "gzip").
	Compression string `env:"GIRDER_COMPRESSION"`
	// Workers sizes the worker pool. 0 lets the builder create a
	// CPU-sized pool owned by the server.
	Workers int `env:"GIRDER_WORKERS" envDefault:"0"`
}

// Server is the assembled serving runtime.
type Server struct {
	runtime *runtime.Server
	health  *health.Server
	pool    *workerpool.FixedPool
	port    int
}

// New assembles and starts a server from the configuration: the health
// service as the synchronous service, a generic not-found fallback, and a
// single listening endpoint.
func New(cfg Config) (*Server, error) {
	healthServer := health.NewServer()

	var boundPort int
	builder := assembly.New().
		RegisterService(runtime.NewService(&grpc_health_v1.Health_ServiceDesc, healthServer)).
		RegisterGenericService(notFoundHandler).
		SetMaxMessageSize(cfg.MaxMessageSize).
		AddListeningPort(fmt.Sprintf(":%d", cfg.Port), insecure.NewCredentials(), &boundPort)
	if cfg.Compression != "" {
		builder.SetCompressionOptions(runtime.CompressionOptions{DefaultAlgorithm: cfg.Compression})
	}
	var pool *workerpool.FixedPool
	if cfg.Workers > 0 {
		pool = workerpool.New(cfg.Workers)
		builder.SetWorkerPool(pool)
	}

	srv, err := builder.BuildAndStart()
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, fmt.Errorf("assemble server: %w", err)
	}
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{
		runtime: srv,
		health:  healthServer,
		pool:    pool,
		port:    boundPort,
	}, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() string {
	if s == nil || s.runtime == nil {
		return ""
	}
	return s.runtime.Addr()
}

// Port returns the resolved listen port.
func (s *Server) Port() int {
	if s == nil {
		return 0
	}
	return s.port
}

// Run assembles and serves a server until the context ends.
func Run(ctx context.Context, cfg Config) error {
	srv, err := New(cfg)
	if err != nil {
		return err
	}
	return srv.Serve(ctx)
}

// Serve blocks until the server stops or the context ends. Health flips to
// NOT_SERVING before the graceful stop so probes drain traffic first.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	stopHealth := context.AfterFunc(ctx, func() {
		s.health.Shutdown()
	})
	defer stopHealth()
	if s.pool != nil {
		defer s.pool.Close()
	}
	return s.runtime.Serve(ctx)
}

// notFoundHandler terminates calls to unregistered services with a
// consistent status instead of the transport default.
func notFoundHandler(_ any, stream gogrpc.ServerStream) error {
	method, _ := gogrpc.MethodFromServerStream(stream)
	return status.Errorf(codes.NotFound, "no service registered for %s", method)
}
