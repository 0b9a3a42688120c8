// Package server hosts the assembled gRPC server: the collaborator the
// builder constructs, wires, and starts. All registration happens before
// Start; after Start the server only serves.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"

	platformerrors "github.com/girderlabs/girder/internal/platform/errors"
	"github.com/girderlabs/girder/internal/queue"
	"github.com/girderlabs/girder/internal/workerpool"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/encoding"
	_ "google.golang.org/grpc/encoding/gzip" // registers the gzip compressor
)

// CompressionOptions carries server-wide compression defaults.
type CompressionOptions struct {
	// DefaultAlgorithm names the compressor preferred for responses when
	// the client advertises support for it. Empty means identity.
	DefaultAlgorithm string
}

// Options carries the resolved resource policy for server construction.
type Options struct {
	// Pool services synchronous handlers. May be nil for async-only servers.
	Pool workerpool.Pool
	// PoolOwned marks the pool as builder-created; the server closes it on
	// Stop. Caller-supplied pools are never closed here.
	PoolOwned bool
	// MaxMessageSize bounds send and receive sizes. -1 keeps the transport
	// defaults.
	MaxMessageSize int
	// Compression holds the compression defaults.
	Compression CompressionOptions
	// Logf receives diagnostics. Defaults to log.Printf.
	Logf func(string, ...any)
}

// CompressorRegistered reports whether a compressor with the given name is
// registered with the transport.
func CompressorRegistered(name string) bool {
	return encoding.GetCompressor(name) != nil
}

type registrationKey struct {
	service string
	host    string
}

// Server wraps a gRPC server with the registration and lifecycle surface
// the builder drives. It is not safe for concurrent registration; the
// builder performs all wiring on a single goroutine before Start.
type Server struct {
	opts       Options
	logf       func(string, ...any)
	grpcServer *gogrpc.Server

	queues        []*queue.CompletionQueue
	registrations map[registrationKey]struct{}
	serviceNames  map[string]struct{}
	asyncServices map[string]string
	generic       gogrpc.StreamHandler
	listeners     []net.Listener

	started  bool
	group    *errgroup.Group
	stopOnce sync.Once

	queueCursor cursor
}

// New constructs a server from the resolved resource policy. This is the
// first point at which a concrete server object exists; every registration
// that follows is wired into it by the builder.
func New(opts Options) *Server {
	logf := opts.Logf
	if logf == nil {
		logf = log.Printf
	}
	s := &Server{
		opts:          opts,
		logf:          logf,
		registrations: make(map[registrationKey]struct{}),
		serviceNames:  make(map[string]struct{}),
		asyncServices: make(map[string]string),
	}

	grpcOpts := []gogrpc.ServerOption{
		gogrpc.StatsHandler(otelgrpc.NewServerHandler()),
		gogrpc.UnknownServiceHandler(s.dispatchUnknown),
	}
	if opts.MaxMessageSize >= 0 {
		grpcOpts = append(grpcOpts,
			gogrpc.MaxRecvMsgSize(opts.MaxMessageSize),
			gogrpc.MaxSendMsgSize(opts.MaxMessageSize),
		)
	}
	if alg := opts.Compression.DefaultAlgorithm; alg != "" && alg != "identity" {
		grpcOpts = append(grpcOpts,
			gogrpc.ChainUnaryInterceptor(unaryCompression(alg)),
			gogrpc.ChainStreamInterceptor(streamCompression(alg)),
		)
	}
	s.grpcServer = gogrpc.NewServer(grpcOpts...)
	return s
}

// RegisterCompletionQueue retains a non-owning reference to a caller-owned
// queue so asynchronous calls can be delivered to it.
func (s *Server) RegisterCompletionQueue(q *queue.CompletionQueue) {
	if q == nil {
		return
	}
	s.queues = append(s.queues, q)
}

// CompletionQueues reports how many queues are registered.
func (s *Server) CompletionQueues() int {
	return len(s.queues)
}

// RegisterService registers a synchronous service, optionally scoped to a
// host. Handlers run on the worker pool.
func (s *Server) RegisterService(host string, svc Service) error {
	if s.started {
		return platformerrors.New(platformerrors.CodeServerStarted, "cannot register services after start")
	}
	if svc == nil {
		return platformerrors.New(platformerrors.CodeServiceRegistration, "service is required")
	}
	desc, impl := svc.Descriptor()
	if desc == nil || strings.TrimSpace(desc.ServiceName) == "" {
		return platformerrors.New(platformerrors.CodeServiceRegistration, "service descriptor is required")
	}
	if _, ok := s.asyncServices[desc.ServiceName]; ok {
		return platformerrors.WithMetadata(platformerrors.CodeDuplicateService,
			"service already registered asynchronously",
			map[string]string{"service": desc.ServiceName})
	}
	key := registrationKey{service: desc.ServiceName, host: host}
	if _, ok := s.registrations[key]; ok {
		return platformerrors.WithMetadata(platformerrors.CodeDuplicateService,
			"service already registered for host",
			map[string]string{"service": desc.ServiceName, "host": host})
	}
	s.registrations[key] = struct{}{}
	if _, ok := s.serviceNames[desc.ServiceName]; !ok {
		s.serviceNames[desc.ServiceName] = struct{}{}
		s.grpcServer.RegisterService(s.pooledDesc(desc), impl)
	}
	return nil
}

// RegisterAsyncService registers an asynchronous service, optionally scoped
// to a host. At least one completion queue must already be registered:
// asynchronous calls have nowhere to go without one.
func (s *Server) RegisterAsyncService(host string, svc AsyncService) error {
	if s.started {
		return platformerrors.New(platformerrors.CodeServerStarted, "cannot register services after start")
	}
	if svc == nil || strings.TrimSpace(svc.ServiceName()) == "" {
		return platformerrors.New(platformerrors.CodeServiceRegistration, "async service name is required")
	}
	if len(s.queues) == 0 {
		return platformerrors.WithMetadata(platformerrors.CodeQueueRequired,
			"async services require a registered completion queue",
			map[string]string{"service": svc.ServiceName()})
	}
	name := svc.ServiceName()
	if _, ok := s.asyncServices[name]; ok {
		return platformerrors.WithMetadata(platformerrors.CodeDuplicateService,
			"async service already registered",
			map[string]string{"service": name})
	}
	if _, ok := s.serviceNames[name]; ok {
		return platformerrors.WithMetadata(platformerrors.CodeDuplicateService,
			"service already registered synchronously",
			map[string]string{"service": name})
	}
	s.asyncServices[name] = host
	return nil
}

// RegisterGenericService installs the catch-all handler for methods no
// registered service matches.
func (s *Server) RegisterGenericService(handler gogrpc.StreamHandler) {
	s.generic = handler
}

// AddListeningPort binds the address immediately and returns the resolved
// port, supporting ephemeral-port allocation with ":0" addresses. The
// credential handshake is applied per endpoint.
func (s *Server) AddListeningPort(addr string, creds credentials.TransportCredentials) (int, error) {
	if s.started {
		return 0, platformerrors.New(platformerrors.CodeServerStarted, "cannot add endpoints after start")
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, platformerrors.WrapWithMetadata(platformerrors.CodeEndpointBind,
			"bind listening endpoint",
			map[string]string{"address": addr}, err)
	}
	port := 0
	if tcpAddr, ok := lis.Addr().(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}
	if creds != nil {
		lis = newCredentialedListener(lis, creds, s.logf)
	}
	s.listeners = append(s.listeners, lis)
	return port, nil
}

// Addr returns the first bound listener address, or "" before binding.
func (s *Server) Addr() string {
	if s == nil || len(s.listeners) == 0 {
		return ""
	}
	return s.listeners[0].Addr().String()
}

// PoolOwned reports whether the server owns its worker pool's teardown.
func (s *Server) PoolOwned() bool {
	return s.opts.PoolOwned
}

// Start begins accepting work on every bound endpoint. It is single-shot.
func (s *Server) Start() error {
	if s.started {
		return platformerrors.New(platformerrors.CodeServerStarted, "server already started")
	}
	s.started = true
	s.group = &errgroup.Group{}
	for _, lis := range s.listeners {
		lis := lis
		s.logf("server listening at %v", lis.Addr())
		s.group.Go(func() error {
			if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, gogrpc.ErrServerStopped) {
				return fmt.Errorf("serve %v: %w", lis.Addr(), err)
			}
			return nil
		})
	}
	return nil
}

// Wait blocks until every serve loop has returned.
func (s *Server) Wait() error {
	if s.group == nil {
		return nil
	}
	return s.group.Wait()
}

// Serve blocks until the server stops or the context ends, stopping
// gracefully on cancellation.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	done := make(chan error, 1)
	go func() {
		done <- s.Wait()
	}()

	select {
	case <-ctx.Done():
		s.grpcServer.GracefulStop()
		err := <-done
		s.Stop()
		return err
	case err := <-done:
		s.Stop()
		return err
	}
}

// Stop tears the server down: serving halts, listeners close, and the
// worker pool is closed when builder-owned. Registered completion queues
// are caller-owned and left untouched. Stop is idempotent and safe to call
// on a partially wired server, which makes it the explicit cleanup step for
// failed builds.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.grpcServer.Stop()
		for _, lis := range s.listeners {
			_ = lis.Close()
		}
		if s.opts.PoolOwned && s.opts.Pool != nil {
			s.opts.Pool.Close()
		}
	})
}
