package server

import (
	gogrpc "google.golang.org/grpc"
)

// Service is a synchronous service implementation. It exposes the
// lower-level gRPC service descriptor plus the implementation the
// descriptor's handlers dispatch to.
type Service interface {
	Descriptor() (*gogrpc.ServiceDesc, any)
}

// AsyncService is an asynchronous service. The server never inspects it
// beyond its name: incoming calls for the service are delivered through
// registered completion queues for the owner to pull and finish.
type AsyncService interface {
	ServiceName() string
}

type descService struct {
	desc *gogrpc.ServiceDesc
	impl any
}

// NewService wraps a gRPC service descriptor and implementation as a
// synchronous service.
func NewService(desc *gogrpc.ServiceDesc, impl any) Service {
	return descService{desc: desc, impl: impl}
}

// Descriptor implements Service.
func (s descService) Descriptor() (*gogrpc.ServiceDesc, any) {
	return s.desc, s.impl
}

type asyncName string

// NewAsyncService declares an asynchronous service by its fully-qualified
// name (for example "probe.v1.Prober").
func NewAsyncService(name string) AsyncService {
	return asyncName(name)
}

// ServiceName implements AsyncService.
func (n asyncName) ServiceName() string {
	return string(n)
}
