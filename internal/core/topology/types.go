package topology

import "strings"

// =============================================================================
// Environment - Main Topology Type
// =============================================================================

// Environment represents one deployment target: the full declarative shape of
// the services, volumes and networks that make up a stack.
// This is the stackctl-specific representation, decoupled from compose-go types.
type Environment struct {
	// Name identifies the deployment target (e.g. "goerli", "gnosis").
	Name string `json:"name"`

	// Services in declaration order. Declaration order is significant: it
	// breaks ties in the dependency-ordered start sequence.
	Services []Service `json:"services"`

	Networks []Network `json:"networks,omitempty"`
	Volumes  []Volume  `json:"volumes,omitempty"`
}

// Service returns the service with the given name, or nil.
func (e *Environment) Service(name string) *Service {
	for i := range e.Services {
		if e.Services[i].Name == name {
			return &e.Services[i]
		}
	}
	return nil
}

// HasVolume reports whether a named volume is declared.
func (e *Environment) HasVolume(name string) bool {
	for _, v := range e.Volumes {
		if v.Name == name {
			return true
		}
	}
	return false
}

// HasNetwork reports whether a network is declared.
func (e *Environment) HasNetwork(name string) bool {
	for _, n := range e.Networks {
		if n.Name == name {
			return true
		}
	}
	return false
}

// Profiles returns the set of profile names used by any service, sorted is
// not guaranteed; callers needing determinism must sort.
func (e *Environment) Profiles() []string {
	seen := make(map[string]bool)
	var profiles []string
	for _, svc := range e.Services {
		for _, p := range svc.Profiles {
			if !seen[p] {
				seen[p] = true
				profiles = append(profiles, p)
			}
		}
	}
	return profiles
}

// =============================================================================
// Service Types
// =============================================================================

// Service represents a single service definition.
type Service struct {
	Name        string            `json:"name"`
	Image       string            `json:"image"`
	Command     []string          `json:"command,omitempty"`
	Entrypoint  []string          `json:"entrypoint,omitempty"`
	EnvFile     string            `json:"env_file,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Ports       []Port            `json:"ports,omitempty"`
	Volumes     []VolumeMount     `json:"volumes,omitempty"`

	// Networks maps a declared network name to the aliases this service is
	// reachable under on that network. An empty alias list means the service
	// joins the network under its own name only.
	Networks map[string][]string `json:"networks,omitempty"`

	// Profiles gate activation: a service with profiles starts only when at
	// least one of them is enabled. No profiles means always active.
	Profiles []string `json:"profiles,omitempty"`

	DependsOn []string      `json:"depends_on,omitempty"`
	Restart   RestartPolicy `json:"restart,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// HasProfile reports whether the service is gated behind the given profile.
func (s *Service) HasProfile(profile string) bool {
	for _, p := range s.Profiles {
		if p == profile {
			return true
		}
	}
	return false
}

// Port represents a port mapping.
type Port struct {
	Target    uint32 `json:"target"`              // Container port
	Published uint32 `json:"published,omitempty"` // Host port (0 = dynamic)
	Protocol  string `json:"protocol,omitempty"`  // tcp, udp
	HostIP    string `json:"host_ip,omitempty"`   // Bind IP
}

// VolumeMount represents a volume mount in a service.
type VolumeMount struct {
	Type     VolumeMountType `json:"type"`     // bind, volume, tmpfs
	Source   string          `json:"source"`   // Path or volume name
	Target   string          `json:"target"`   // Container path
	ReadOnly bool            `json:"readonly"`
}

// VolumeMountType represents the type of volume mount.
type VolumeMountType string

const (
	VolumeMountTypeBind   VolumeMountType = "bind"
	VolumeMountTypeVolume VolumeMountType = "volume"
	VolumeMountTypeTmpfs  VolumeMountType = "tmpfs"
)

// RestartPolicy represents the restart policy.
type RestartPolicy string

const (
	RestartNo            RestartPolicy = "no"
	RestartAlways        RestartPolicy = "always"
	RestartOnFailure     RestartPolicy = "on-failure"
	RestartUnlessStopped RestartPolicy = "unless-stopped"
)

// =============================================================================
// Network and Volume Types
// =============================================================================

// Network represents a network definition. Environments in practice declare a
// single bridge network that every service joins.
type Network struct {
	Name     string            `json:"name"`
	Driver   string            `json:"driver,omitempty"`
	External bool              `json:"external"`
	Labels   map[string]string `json:"labels,omitempty"`
}

// Volume represents a named persistent volume.
type Volume struct {
	Name     string            `json:"name"`
	Driver   string            `json:"driver,omitempty"`
	External bool              `json:"external"`
	Labels   map[string]string `json:"labels,omitempty"`
}

// =============================================================================
// Image References
// =============================================================================

// ImageRef is a parsed container image reference.
type ImageRef struct {
	Repository string // registry/repo portion
	Tag        string // tag or digest
}

// String reassembles the reference.
func (r ImageRef) String() string {
	if r.Tag == "" {
		return r.Repository
	}
	return r.Repository + ":" + r.Tag
}

// ParseImageRef splits an image reference into repository and tag. A digest
// reference (repo@sha256:...) counts as tagged. References without a tag are
// rejected: every service must pin an explicit version.
func ParseImageRef(image string) (ImageRef, error) {
	if image == "" {
		return ImageRef{}, ErrImageMissingTag
	}
	if at := strings.IndexByte(image, '@'); at > 0 {
		return ImageRef{Repository: image[:at], Tag: image[at+1:]}, nil
	}
	// The tag separator is the last colon after the last slash; a colon
	// before a slash belongs to a registry port (host:5000/repo).
	lastSlash := strings.LastIndexByte(image, '/')
	lastColon := strings.LastIndexByte(image, ':')
	if lastColon <= lastSlash || lastColon == len(image)-1 {
		return ImageRef{}, ErrImageMissingTag
	}
	return ImageRef{Repository: image[:lastColon], Tag: image[lastColon+1:]}, nil
}
