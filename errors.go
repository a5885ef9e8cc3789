package undocked

import (
	"errors"
	"fmt"
)

// Error taxonomy. Callers match with errors.Is; Kind maps an error back to
// its taxonomy name for API boundaries.
var (
	ErrEngineUnavailable    = errors.New("container engine unavailable")
	ErrPortInUse            = errors.New("host port in use")
	ErrAlreadyExists        = errors.New("service already exists")
	ErrNotFound             = errors.New("service not found")
	ErrOperationInProgress  = errors.New("operation in progress")
	ErrImagePullFailed      = errors.New("image pull failed")
	ErrContainerStartFailed = errors.New("container start failed")
	ErrContainerStopFailed  = errors.New("container stop failed")
	ErrTimeout              = errors.New("operation timed out")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrContainerExited      = errors.New("container exited")

	// ErrPeerUnreachable never leaves the gossip exchange.
	ErrPeerUnreachable = errors.New("peer unreachable")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrEngineUnavailable, "EngineUnavailable"},
	{ErrPortInUse, "PortInUse"},
	{ErrAlreadyExists, "AlreadyExists"},
	{ErrNotFound, "NotFound"},
	{ErrOperationInProgress, "OperationInProgress"},
	{ErrImagePullFailed, "ImagePullFailed"},
	{ErrContainerStartFailed, "ContainerStartFailed"},
	{ErrContainerStopFailed, "ContainerStopFailed"},
	{ErrTimeout, "Timeout"},
	{ErrInvalidArgument, "InvalidArgument"},
	{ErrContainerExited, "ContainerExited"},
	{ErrPeerUnreachable, "PeerUnreachable"},
}

// Kind returns the taxonomy name of err, or "Internal" when err matches no
// sentinel. Kind(nil) is "".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}

// KindError returns the sentinel for a taxonomy name, or nil if unknown.
func KindError(name string) error {
	for _, k := range kinds {
		if k.name == name {
			return k.err
		}
	}
	return nil
}

func invalidArgf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
