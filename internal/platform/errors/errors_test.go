package errors

import (
	"errors"
	"testing"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// TestIsMatchesByCode verifies errors.Is matches on the domain code.
func TestIsMatchesByCode(t *testing.T) {
	err := Wrap(CodeEndpointBind, "bind listening endpoint", errors.New("address in use"))

	if !errors.Is(err, New(CodeEndpointBind, "")) {
		t.Fatal("expected match on code")
	}
	if errors.Is(err, New(CodeServerStart, "")) {
		t.Fatal("expected mismatch on different code")
	}
}

// TestUnwrapExposesCause verifies the cause chain survives wrapping.
func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("address in use")
	err := Wrap(CodeEndpointBind, "bind listening endpoint", cause)

	if !errors.Is(err, cause) {
		t.Fatal("expected cause in chain")
	}
	if err.Error() != "bind listening endpoint" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}

// TestToGRPCStatusCarriesErrorInfo verifies the machine-readable code
// survives status conversion.
func TestToGRPCStatusCarriesErrorInfo(t *testing.T) {
	err := WithMetadata(CodeDuplicateService, "service already registered",
		map[string]string{"service": "probe.v1.Prober"})

	st, ok := status.FromError(err.ToGRPCStatus())
	if !ok {
		t.Fatal("expected a gRPC status")
	}
	if st.Code() != codes.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition, got %s", st.Code())
	}

	var info *errdetails.ErrorInfo
	for _, detail := range st.Details() {
		if ei, ok := detail.(*errdetails.ErrorInfo); ok {
			info = ei
		}
	}
	if info == nil {
		t.Fatal("expected ErrorInfo detail")
	}
	if info.GetReason() != string(CodeDuplicateService) {
		t.Fatalf("expected reason %s, got %s", CodeDuplicateService, info.GetReason())
	}
	if info.GetDomain() != Domain {
		t.Fatalf("expected domain %s, got %s", Domain, info.GetDomain())
	}
	if info.GetMetadata()["service"] != "probe.v1.Prober" {
		t.Fatalf("expected service metadata, got %v", info.GetMetadata())
	}
}

// TestGRPCCodeMapping spot-checks the code mapping.
func TestGRPCCodeMapping(t *testing.T) {
	if got := CodeMixedServingModes.GRPCCode(); got != codes.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition, got %s", got)
	}
	if got := CodeEndpointBind.GRPCCode(); got != codes.Unavailable {
		t.Fatalf("expected Unavailable, got %s", got)
	}
	if got := Code("BOGUS").GRPCCode(); got != codes.Unknown {
		t.Fatalf("expected Unknown, got %s", got)
	}
}
