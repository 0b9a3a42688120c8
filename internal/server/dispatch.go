package server

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/girderlabs/girder/internal/queue"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// cursor hands out round-robin indexes across concurrent RPC goroutines.
type cursor struct {
	n atomic.Uint64
}

func (c *cursor) next(size int) int {
	if size <= 0 {
		return 0
	}
	return int((c.n.Add(1) - 1) % uint64(size))
}

// pooledDesc rewraps a service descriptor so every handler runs on the
// worker pool instead of the transport goroutine.
func (s *Server) pooledDesc(desc *gogrpc.ServiceDesc) *gogrpc.ServiceDesc {
	if s.opts.Pool == nil {
		return desc
	}
	wrapped := *desc
	wrapped.Methods = make([]gogrpc.MethodDesc, len(desc.Methods))
	for i, method := range desc.Methods {
		handler := method.Handler
		wrapped.Methods[i] = method
		wrapped.Methods[i].Handler = func(srv any, ctx context.Context, dec func(any) error, interceptor gogrpc.UnaryServerInterceptor) (any, error) {
			return s.dispatchPooled(ctx, func() (any, error) {
				return handler(srv, ctx, dec, interceptor)
			})
		}
	}
	wrapped.Streams = make([]gogrpc.StreamDesc, len(desc.Streams))
	for i, stream := range desc.Streams {
		handler := stream.Handler
		wrapped.Streams[i] = stream
		wrapped.Streams[i].Handler = func(srv any, ss gogrpc.ServerStream) error {
			_, err := s.dispatchPooled(ss.Context(), func() (any, error) {
				return nil, handler(srv, ss)
			})
			return err
		}
	}
	return &wrapped
}

func (s *Server) dispatchPooled(ctx context.Context, call func() (any, error)) (any, error) {
	var (
		resp any
		err  error
	)
	done := make(chan struct{})
	if submitErr := s.opts.Pool.Submit(func() {
		resp, err = call()
		close(done)
	}); submitErr != nil {
		return nil, status.Error(codes.Unavailable, "worker pool is closed")
	}
	select {
	case <-done:
		return resp, err
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	}
}

// dispatchUnknown routes methods with no specific registration: calls to
// asynchronous services go to a completion queue, everything else to the
// generic handler when one is set.
func (s *Server) dispatchUnknown(srv any, stream gogrpc.ServerStream) error {
	method, _ := gogrpc.MethodFromServerStream(stream)
	if service := serviceFromMethod(method); service != "" {
		if _, ok := s.asyncServices[service]; ok {
			return s.dispatchAsync(method, stream)
		}
	}
	if s.generic != nil {
		return s.generic(srv, stream)
	}
	return status.Errorf(codes.Unimplemented, "unknown method %s", method)
}

func (s *Server) dispatchAsync(method string, stream gogrpc.ServerStream) error {
	if len(s.queues) == 0 {
		return status.Error(codes.Unavailable, "no completion queue registered")
	}
	task := queue.NewTask(method, stream)
	q := s.queues[s.queueCursor.next(len(s.queues))]
	if err := q.Push(stream.Context(), task); err != nil {
		return status.Error(codes.Unavailable, "completion queue is shut down")
	}
	select {
	case err := <-task.Done():
		return err
	case <-stream.Context().Done():
		return status.FromContextError(stream.Context().Err()).Err()
	}
}

// unaryCompression prefers the named compressor for responses; clients
// that never advertised it keep identity encoding.
func unaryCompression(name string) gogrpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *gogrpc.UnaryServerInfo, handler gogrpc.UnaryHandler) (any, error) {
		_ = gogrpc.SetSendCompressor(ctx, name)
		return handler(ctx, req)
	}
}

func streamCompression(name string) gogrpc.StreamServerInterceptor {
	return func(srv any, ss gogrpc.ServerStream, _ *gogrpc.StreamServerInfo, handler gogrpc.StreamHandler) error {
		_ = gogrpc.SetSendCompressor(ss.Context(), name)
		return handler(srv, ss)
	}
}

// serviceFromMethod extracts the service name from "/pkg.Service/Method".
func serviceFromMethod(method string) string {
	method = strings.TrimPrefix(method, "/")
	service, _, ok := strings.Cut(method, "/")
	if !ok {
		return ""
	}
	return service
}
