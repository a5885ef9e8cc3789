package api

import "undocked"

type Empty struct{}

type ServicesResponse struct {
	Services []undocked.Service `json:"services"`
}

type PeersResponse struct {
	Peers []undocked.PeerInfo `json:"peers"`
}

type ProfilesResponse struct {
	Profiles []undocked.ServiceProfile `json:"profiles"`
}

// StartServiceRequest launches a raw image, or a catalog profile when
// Profile is set (Image is then ignored).
type StartServiceRequest struct {
	ServiceID string `json:"serviceID"`
	Image     string `json:"image,omitempty"`
	HostPort  string `json:"hostPort"`
	Profile   string `json:"profile,omitempty"`
}

type StartServiceResponse struct {
	Message string           `json:"message"`
	Service undocked.Service `json:"service"`
}

type ServiceRef struct {
	ServiceID string `json:"serviceID"`
}

type WatchRequest struct {
	// Types filters events by name; empty means all.
	Types []string `json:"types,omitempty"`
}

// Event is one observer notification. Exactly one payload field is set,
// matching Type.
type Event struct {
	Type   string                 `json:"type"`
	Stats  *undocked.NodeSnapshot `json:"stats,omitempty"`
	Error  *undocked.ServiceError `json:"error,omitempty"`
	Engine *undocked.EngineStatus `json:"engine,omitempty"`
}

type LogLine struct {
	Line string `json:"line"`
}

type SnapshotResponse struct {
	Snapshot undocked.NodeSnapshot `json:"snapshot"`
}

type EngineResponse struct {
	Status  undocked.EngineStatus `json:"status"`
	Message string                `json:"message,omitempty"`
}
