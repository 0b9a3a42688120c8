// Package assembly implements server assembly and bootstrap: a single-use
// builder that accumulates configuration directives and, on demand,
// validates them and produces one fully initialized, running server.
//
// Accumulation performs no validation; every check is deferred to
// BuildAndStart, which is fail-fast and atomic. Either every step succeeds
// and a running server is handed back, or nothing is.
//
// The builder is a single-threaded configuration object: accumulation and
// the build call must run sequentially on one goroutine. Concurrent
// mutation is a caller error, not something the builder defends against.
package assembly

import (
	"log"

	platformerrors "github.com/girderlabs/girder/internal/platform/errors"
	"github.com/girderlabs/girder/internal/queue"
	"github.com/girderlabs/girder/internal/server"
	"github.com/girderlabs/girder/internal/workerpool"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// Sentinel build failures, matchable with errors.Is.
var (
	// ErrBuilderConsumed reports a second BuildAndStart on the same builder.
	ErrBuilderConsumed = platformerrors.New(platformerrors.CodeBuilderConsumed,
		"builder already consumed by a previous build")
	// ErrMixedServingModes reports sync and async services on one builder.
	ErrMixedServingModes = platformerrors.New(platformerrors.CodeMixedServingModes,
		"mixing synchronous and asynchronous services is unsupported")
)

type serviceEntry struct {
	host string
	svc  server.Service
}

type asyncEntry struct {
	host string
	svc  server.AsyncService
}

type endpointEntry struct {
	addr      string
	creds     credentials.TransportCredentials
	boundPort *int
}

// Builder accumulates configuration directives and assembles the server.
// The zero value is not usable; construct with New.
type Builder struct {
	services      []serviceEntry
	asyncServices []asyncEntry
	generic       gogrpc.StreamHandler
	queues        []*queue.CompletionQueue
	endpoints     []endpointEntry

	maxMessageSize int
	compression    server.CompressionOptions
	pool           workerpool.Pool

	warnings []string
	consumed bool
	logf     func(string, ...any)
}

// New creates an empty builder with transport-default limits.
func New() *Builder {
	return &Builder{
		maxMessageSize: -1,
		logf:           log.Printf,
	}
}

// SetLogf redirects builder diagnostics. Defaults to log.Printf.
func (b *Builder) SetLogf(logf func(string, ...any)) *Builder {
	if logf != nil {
		b.logf = logf
	}
	return b
}

// AddCompletionQueue creates a completion queue, retains a registration
// reference for build-time wiring, and returns ownership to the caller.
// Queues are wired into the server before any service, in creation order.
func (b *Builder) AddCompletionQueue() *queue.CompletionQueue {
	q := queue.New()
	b.queues = append(b.queues, q)
	return q
}

// RegisterService adds a synchronous service.
func (b *Builder) RegisterService(svc server.Service) *Builder {
	return b.RegisterServiceForHost("", svc)
}

// RegisterServiceForHost adds a synchronous service scoped to a host.
func (b *Builder) RegisterServiceForHost(host string, svc server.Service) *Builder {
	b.services = append(b.services, serviceEntry{host: host, svc: svc})
	return b
}

// RegisterAsyncService adds an asynchronous service.
func (b *Builder) RegisterAsyncService(svc server.AsyncService) *Builder {
	return b.RegisterAsyncServiceForHost("", svc)
}

// RegisterAsyncServiceForHost adds an asynchronous service scoped to a host.
func (b *Builder) RegisterAsyncServiceForHost(host string, svc server.AsyncService) *Builder {
	b.asyncServices = append(b.asyncServices, asyncEntry{host: host, svc: svc})
	return b
}

// RegisterGenericService sets the catch-all handler. The first registration
// wins: later calls record a warning and keep the original handler rather
// than failing the build.
func (b *Builder) RegisterGenericService(handler gogrpc.StreamHandler) *Builder {
	if b.generic != nil {
		const warning = "generic service already registered; keeping the first handler"
		b.warnings = append(b.warnings, warning)
		b.logf("register generic service: %s", warning)
		return b
	}
	b.generic = handler
	return b
}

// AddListeningPort declares a listening endpoint. Nothing binds until
// BuildAndStart. When boundPort is non-nil the resolved port is written to
// it after the real bind, so ":0" addresses report their OS-assigned port.
func (b *Builder) AddListeningPort(addr string, creds credentials.TransportCredentials, boundPort *int) *Builder {
	b.endpoints = append(b.endpoints, endpointEntry{addr: addr, creds: creds, boundPort: boundPort})
	return b
}

// SetMaxMessageSize bounds message sizes. -1 keeps transport defaults.
func (b *Builder) SetMaxMessageSize(size int) *Builder {
	b.maxMessageSize = size
	return b
}

// SetCompressionOptions sets server-wide compression defaults.
func (b *Builder) SetCompressionOptions(opts server.CompressionOptions) *Builder {
	b.compression = opts
	return b
}

// SetWorkerPool supplies a caller-owned worker pool. When absent and at
// least one synchronous service is registered, BuildAndStart creates a
// default pool owned by the built server.
func (b *Builder) SetWorkerPool(pool workerpool.Pool) *Builder {
	b.pool = pool
	return b
}

// Warnings returns the recoverable diagnostics recorded so far.
func (b *Builder) Warnings() []string {
	warnings := make([]string, len(b.warnings))
	copy(warnings, b.warnings)
	return warnings
}

// BuildAndStart validates the accumulated configuration, constructs the
// server, wires every directive into it in a fixed order (queues, then
// synchronous services, then asynchronous services, then the generic
// handler, then endpoints), and starts it. Any failing step stops the
// build, tears down whatever was constructed, and returns no server.
//
// The build consumes the builder: a second call fails with
// ErrBuilderConsumed and leaves no state corrupted.
func (b *Builder) BuildAndStart() (*server.Server, error) {
	if b.consumed {
		b.logf("build and start: %v", ErrBuilderConsumed)
		return nil, ErrBuilderConsumed
	}
	b.consumed = true

	if len(b.services) > 0 && len(b.asyncServices) > 0 {
		b.logf("build and start: %v", ErrMixedServingModes)
		return nil, ErrMixedServingModes
	}
	if alg := b.compression.DefaultAlgorithm; alg != "" && alg != "identity" && !server.CompressorRegistered(alg) {
		err := platformerrors.WithMetadata(platformerrors.CodeCompressorUnknown,
			"no registered compressor for default algorithm",
			map[string]string{"algorithm": alg})
		b.logf("build and start: %v", err)
		return nil, err
	}

	pool := b.pool
	poolOwned := false
	if pool == nil && len(b.services) > 0 {
		pool = workerpool.Default()
		poolOwned = true
	}

	srv := server.New(server.Options{
		Pool:           pool,
		PoolOwned:      poolOwned,
		MaxMessageSize: b.maxMessageSize,
		Compression:    b.compression,
		Logf:           b.logf,
	})
	abort := func(err error) (*server.Server, error) {
		b.logf("build and start: %v", err)
		srv.Stop()
		return nil, err
	}

	for _, q := range b.queues {
		srv.RegisterCompletionQueue(q)
	}
	for _, entry := range b.services {
		if err := srv.RegisterService(entry.host, entry.svc); err != nil {
			return abort(err)
		}
	}
	for _, entry := range b.asyncServices {
		if err := srv.RegisterAsyncService(entry.host, entry.svc); err != nil {
			return abort(err)
		}
	}
	if b.generic != nil {
		srv.RegisterGenericService(b.generic)
	}
	for i := range b.endpoints {
		entry := &b.endpoints[i]
		port, err := srv.AddListeningPort(entry.addr, entry.creds)
		if err != nil {
			return abort(err)
		}
		if entry.boundPort != nil {
			*entry.boundPort = port
		}
	}
	if err := srv.Start(); err != nil {
		return abort(platformerrors.Wrap(platformerrors.CodeServerStart, "start server", err))
	}
	return srv, nil
}
