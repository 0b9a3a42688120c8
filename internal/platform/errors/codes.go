// Package errors provides structured error handling for the serving runtime.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Builder errors
	CodeBuilderConsumed   Code = "BUILDER_CONSUMED"
	CodeMixedServingModes Code = "MIXED_SERVING_MODES"
	CodeCompressorUnknown Code = "COMPRESSOR_UNKNOWN"

	// Service wiring errors
	CodeServiceRegistration Code = "SERVICE_REGISTRATION_FAILED"
	CodeDuplicateService    Code = "DUPLICATE_SERVICE"
	CodeQueueRequired       Code = "COMPLETION_QUEUE_REQUIRED"

	// Endpoint and lifecycle errors
	CodeEndpointBind  Code = "ENDPOINT_BIND_FAILED"
	CodeServerStarted Code = "SERVER_ALREADY_STARTED"
	CodeServerStart   Code = "SERVER_START_FAILED"

	// Dispatch errors
	CodeQueueShutdown Code = "COMPLETION_QUEUE_SHUT_DOWN"
	CodePoolClosed    Code = "WORKER_POOL_CLOSED"
)

// GRPCCode maps the domain error code to a gRPC status code.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeBuilderConsumed, CodeMixedServingModes, CodeCompressorUnknown,
		CodeServiceRegistration, CodeDuplicateService, CodeQueueRequired,
		CodeServerStarted:
		return codes.FailedPrecondition
	case CodeEndpointBind, CodeServerStart, CodeQueueShutdown, CodePoolClosed:
		return codes.Unavailable
	default:
		return codes.Unknown
	}
}
