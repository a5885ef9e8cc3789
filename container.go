package undocked

// Labels applied to every container the node launches. Containers carrying
// LabelManaged are adopted on daemon restart.
const (
	LabelManaged   = "undocked.service"
	LabelServiceID = "undocked.id"
	LabelProfile   = "undocked.profile"
)

// ContainerSpec describes a container to launch for a service.
type ContainerSpec struct {
	ServiceID     string
	Image         string
	HostPort      string
	ContainerPort int
	Profile       string
	Env           map[string]string
	Command       []string
}

// TargetPort is the container-side port, defaulting to the host port.
func (s ContainerSpec) TargetPort() int {
	if s.ContainerPort > 0 {
		return s.ContainerPort
	}
	n, _ := ParsePort(s.HostPort)
	return n
}

// ContainerHandle identifies a launched container.
type ContainerHandle struct {
	ID   string
	Name string
}
