package plan

// =============================================================================
// Container Plan Types
// =============================================================================

// ContainerPlan represents a planned container configuration for one resolved
// service. This is the pure output of planning, ready for the shell to
// execute against a container engine.
type ContainerPlan struct {
	Name       string
	Image      string
	Command    []string
	Entrypoint []string
	EnvFile    string
	Env        map[string]string
	Labels     map[string]string
	Ports      []PortPlan
	Volumes    []VolumePlan

	// Networks maps engine network names to the aliases the container is
	// reachable under. The service name is always included so dependents can
	// address either the role alias or the concrete service.
	Networks map[string][]string

	RestartPolicy RestartPolicyPlan
}

// PortPlan represents a planned port binding.
type PortPlan struct {
	ContainerPort int
	HostPort      int
	Protocol      string
	HostIP        string
}

// VolumePlan represents a planned volume mount.
type VolumePlan struct {
	Source   string
	Target   string
	ReadOnly bool
}

// RestartPolicyPlan represents a restart policy.
type RestartPolicyPlan struct {
	Name              string
	MaximumRetryCount int
}

// =============================================================================
// Stackctl Container Labels
// =============================================================================

// Label keys used to identify stackctl-managed resources.
const (
	LabelManaged     = "com.stackctl.managed"
	LabelEnvironment = "com.stackctl.environment"
	LabelService     = "com.stackctl.service"
)
