package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"undocked"
)

var kindCodes = map[string]codes.Code{
	"EngineUnavailable":    codes.Unavailable,
	"PortInUse":            codes.FailedPrecondition,
	"AlreadyExists":        codes.AlreadyExists,
	"NotFound":             codes.NotFound,
	"OperationInProgress":  codes.Aborted,
	"ImagePullFailed":      codes.Internal,
	"ContainerStartFailed": codes.Internal,
	"ContainerStopFailed":  codes.Internal,
	"ContainerExited":      codes.Internal,
	"Timeout":              codes.DeadlineExceeded,
	"InvalidArgument":      codes.InvalidArgument,
	"PeerUnreachable":      codes.Unavailable,
}

// ToStatus converts err to a gRPC status error. The taxonomy kind travels as
// a "Kind: " prefix of the status message.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, err.Error())
	}
	kind := undocked.Kind(err)
	code, ok := kindCodes[kind]
	if !ok {
		return status.Error(codes.Internal, err.Error())
	}
	return status.Error(code, kind+": "+err.Error())
}

// FromStatus restores the taxonomy sentinel carried by a status error so
// callers can match it with errors.Is.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	msg := st.Message()
	kind, rest, found := strings.Cut(msg, ": ")
	if !found {
		return err
	}
	sentinel := undocked.KindError(kind)
	if sentinel == nil {
		return err
	}
	return fmt.Errorf("%w: %s", sentinel, rest)
}
