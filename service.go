package undocked

import (
	"strconv"
	"strings"
	"time"
)

// ServiceStatus is the lifecycle state of a locally managed service.
type ServiceStatus string

const (
	StatusStarting ServiceStatus = "starting"
	StatusRunning  ServiceStatus = "running"
	StatusStopping ServiceStatus = "stopping"
	StatusStopped  ServiceStatus = "stopped"
	StatusError    ServiceStatus = "error"
)

func (s ServiceStatus) String() string { return string(s) }

// Busy reports whether an operation is in flight for a service in this state.
func (s ServiceStatus) Busy() bool {
	return s == StatusStarting || s == StatusStopping
}

// CanTransition reports whether the lifecycle allows moving from s to next.
func (s ServiceStatus) CanTransition(next ServiceStatus) bool {
	switch s {
	case StatusStarting:
		return next == StatusRunning || next == StatusError
	case StatusRunning:
		return next == StatusStopping || next == StatusError
	case StatusStopping:
		return next == StatusStopped || next == StatusRunning || next == StatusError
	case StatusError:
		return next == StatusStopping
	default:
		return false
	}
}

// ServiceProfile is a catalog template for a launchable service.
// Profiles are immutable once listed.
type ServiceProfile struct {
	Name            string            `json:"name" yaml:"name"`
	Image           string            `json:"image" yaml:"image"`
	ContainerPort   int               `json:"containerPort" yaml:"containerPort"`
	Env             map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Command         []string          `json:"command,omitempty" yaml:"command,omitempty"`
	Recommended     bool              `json:"recommended" yaml:"recommended"`
	ExposeHTTP      bool              `json:"exposeHTTP" yaml:"exposeHTTP"`
	AuthRequired    bool              `json:"authRequired,omitempty" yaml:"authRequired,omitempty"`
	RateLimitPerMin int               `json:"rateLimitPerMin,omitempty" yaml:"rateLimitPerMin,omitempty"`
}

// Service is a running (or transitioning) containerized workload on this node.
// Requests, Errors, Bandwidth and ActiveConns mirror the latest stats.
type Service struct {
	ServiceID     string        `json:"serviceID"`
	DockerImage   string        `json:"dockerImage"`
	HostPort      string        `json:"hostPort"`
	ContainerPort int           `json:"containerPort,omitempty"`
	Profile       string        `json:"profile,omitempty"`
	Status        ServiceStatus `json:"status"`
	StartedAt     time.Time     `json:"startedAt"`
	Error         string        `json:"error,omitempty"`

	Requests    int64 `json:"requests"`
	Errors      int64 `json:"errors"`
	Bandwidth   int64 `json:"bandwidth"`
	ActiveConns int   `json:"activeConns"`
}

// WithStats returns a copy of s with its stat mirrors taken from st.
func (s Service) WithStats(st ServiceStats) Service {
	s.Requests = st.Requests
	s.Errors = st.Errors
	s.Bandwidth = st.Bandwidth
	s.ActiveConns = st.ActiveConns
	return s
}

// ServiceStats holds monotonic traffic counters for one service lifetime.
type ServiceStats struct {
	Requests    int64     `json:"requests"`
	Errors      int64     `json:"errors"`
	Bandwidth   int64     `json:"bandwidth"`
	ActiveConns int       `json:"activeConns"`
	LastUpdate  time.Time `json:"lastUpdate"`
}

// ParsePort validates a host port string and returns its numeric value.
func ParsePort(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, invalidArgf("host port is required")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, invalidArgf("host port %q is not a number", s)
	}
	if n < 1 || n > 65535 {
		return 0, invalidArgf("host port %d must be between 1 and 65535", n)
	}
	return n, nil
}
