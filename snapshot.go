package undocked

import "time"

// NodeSnapshot is an immutable point-in-time view of local services, known
// peers and service stats. Each publication is a fresh value; holders must not
// mutate the slices or map.
type NodeSnapshot struct {
	NodeID   string                  `json:"nodeID"`
	Services []Service               `json:"services"`
	Peers    []PeerInfo              `json:"peers"`
	Stats    map[string]ServiceStats `json:"stats"`
	TakenAt  time.Time               `json:"takenAt"`
}

// ServiceError is published when a service transitions to the error state.
type ServiceError struct {
	ServiceID string    `json:"serviceID"`
	Kind      string    `json:"kind"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

// EngineStatus reports container engine availability.
type EngineStatus struct {
	Available bool      `json:"available"`
	At        time.Time `json:"at"`
}

// Event names as seen by UI observers.
const (
	EventServiceStats = "service-stats"
	EventServiceError = "service-error"
	EventDockerStatus = "docker-status"
)
