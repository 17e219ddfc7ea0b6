package topology

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Loader
// =============================================================================

// Load parses a topology description into an Environment.
// This is a pure function - no I/O, no side effects.
//
// The source uses the compose document shape: top-level services, volumes and
// networks. Variable placeholders ($NAME, ${NAME}) are NOT interpolated here;
// they stay literal until render time so the same topology can be rendered
// against different environments.
//
// Load fails with a *SchemaError when the input is malformed: invalid YAML,
// a service without a pinned image tag, a mount of an undeclared volume, or
// a reference to an undeclared network.
func Load(name, source string) (*Environment, error) {
	if strings.TrimSpace(source) == "" {
		return nil, NewSchemaError("", "topology is empty", ErrEmptyInput)
	}

	order, err := declarationOrder(source)
	if err != nil {
		return nil, err
	}

	project, err := loadProject(name, source)
	if err != nil {
		return nil, err
	}

	if err := checkUnsupportedFeatures(project); err != nil {
		return nil, err
	}

	if len(project.Services) == 0 {
		return nil, NewSchemaError("services", "topology must define at least one service", ErrNoServices)
	}

	env := &Environment{
		Name:     name,
		Services: make([]Service, 0, len(project.Services)),
		Networks: make([]Network, 0, len(project.Networks)),
		Volumes:  make([]Volume, 0, len(project.Volumes)),
	}

	// Convert services in declaration order. The order matters downstream:
	// Resolve breaks topological-sort ties by declaration order.
	for _, svcName := range order {
		svc, ok := project.Services[svcName]
		if !ok {
			continue
		}
		converted, err := convertService(svcName, svc)
		if err != nil {
			return nil, err
		}
		env.Services = append(env.Services, converted)
	}

	for _, volName := range sortedKeys(project.Volumes) {
		env.Volumes = append(env.Volumes, convertVolume(volName, project.Volumes[volName]))
	}
	for _, netName := range sortedKeys(project.Networks) {
		env.Networks = append(env.Networks, convertNetwork(netName, project.Networks[netName]))
	}

	if err := checkDeclaredReferences(env); err != nil {
		return nil, err
	}
	if err := validatePorts(env.Services); err != nil {
		return nil, err
	}

	return env, nil
}

// loadProject loads the document using compose-go.
func loadProject(name, source string) (*types.Project, error) {
	// Parse YAML into a map first; this also rejects duplicate service keys.
	var dict map[string]interface{}
	if err := yaml.Unmarshal([]byte(source), &dict); err != nil {
		return nil, NewSchemaError("", "invalid YAML syntax: "+err.Error(), ErrInvalidYAML)
	}
	if dict == nil {
		return nil, NewSchemaError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{
				Content: []byte(source),
				Config:  dict,
			},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName(name, false)
		// Graph checks stay out of the loader: Resolve reports cycles as
		// *CycleError with the full path, and Validate reports unknown
		// depends_on targets as violations. compose-go's own consistency
		// pass would surface both as opaque load failures first.
		opts.SkipValidation = true
		opts.SkipConsistencyCheck = true
		// Placeholders are substituted at render time, not load time.
		opts.SkipInterpolation = true
		// Load is pure: env_file paths stay literal, nothing is read from disk.
		opts.SkipResolveEnvironment = true
		// Don't resolve paths since we're in-memory
		opts.ResolvePaths = false
		opts.SkipNormalization = true
		opts.SkipExtends = true
		// Keep profile-gated services in the service set; activation is
		// decided by Resolve, not by the loader.
		opts.Profiles = []string{"*"}
	})
	if err != nil {
		return nil, NewSchemaError("", err.Error(), ErrInvalidYAML)
	}

	return project, nil
}

// declarationOrder extracts the order in which services appear in the source.
func declarationOrder(source string) ([]string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(source), &doc); err != nil {
		return nil, NewSchemaError("", "invalid YAML syntax: "+err.Error(), ErrInvalidYAML)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, NewSchemaError("", "invalid YAML syntax", ErrInvalidYAML)
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, NewSchemaError("", "topology must be a mapping", ErrInvalidYAML)
	}

	var order []string
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != "services" {
			continue
		}
		services := root.Content[i+1]
		if services.Kind != yaml.MappingNode {
			return nil, NewSchemaError("services", "services must be a mapping", ErrInvalidYAML)
		}
		for j := 0; j+1 < len(services.Content); j += 2 {
			order = append(order, services.Content[j].Value)
		}
	}
	return order, nil
}

// checkUnsupportedFeatures checks for compose features a topology must not use.
func checkUnsupportedFeatures(project *types.Project) error {
	if len(project.Secrets) > 0 {
		return NewSchemaError("secrets", "secrets are not supported", ErrUnsupportedFeature)
	}
	if len(project.Configs) > 0 {
		return NewSchemaError("configs", "configs are not supported", ErrUnsupportedFeature)
	}
	for name, svc := range project.Services {
		if svc.Build != nil {
			return NewSchemaError("services."+name+".build", "build is not supported; topologies reference prebuilt images", ErrUnsupportedFeature)
		}
		if svc.Extends != nil && svc.Extends.File != "" {
			return NewSchemaError("services."+name+".extends", "extends is not supported", ErrUnsupportedFeature)
		}
	}
	return nil
}

// convertService converts a compose-go service to our Service type.
func convertService(name string, svc types.ServiceConfig) (Service, error) {
	service := Service{
		Name:        name,
		Image:       svc.Image,
		Command:     svc.Command,
		Entrypoint:  svc.Entrypoint,
		Environment: make(map[string]string),
		Labels:      make(map[string]string),
		Networks:    make(map[string][]string),
	}

	if service.Image == "" {
		return Service{}, NewSchemaError("services."+name, "service must have an image", ErrServiceNoImage)
	}
	if _, err := ParseImageRef(service.Image); err != nil {
		return Service{}, NewSchemaError("services."+name+".image",
			fmt.Sprintf("image %q must include a tag", service.Image), ErrImageMissingTag)
	}

	// Env file (first one wins; topologies declare at most one per service)
	for _, ef := range svc.EnvFiles {
		service.EnvFile = ef.Path
		break
	}

	for k, v := range svc.Environment {
		if v != nil {
			service.Environment[k] = *v
		}
	}

	for _, p := range svc.Ports {
		var published uint32
		if p.Published != "" {
			pub, err := strconv.ParseUint(p.Published, 10, 32)
			if err != nil {
				return Service{}, NewSchemaError("services."+name+".ports",
					fmt.Sprintf("invalid published port %q", p.Published), ErrInvalidYAML)
			}
			published = uint32(pub)
		}
		service.Ports = append(service.Ports, Port{
			Target:    p.Target,
			Published: published,
			Protocol:  p.Protocol,
			HostIP:    p.HostIP,
		})
	}

	for _, v := range svc.Volumes {
		mount := VolumeMount{
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		}
		switch v.Type {
		case "bind":
			mount.Type = VolumeMountTypeBind
		case "volume":
			mount.Type = VolumeMountTypeVolume
		case "tmpfs":
			mount.Type = VolumeMountTypeTmpfs
		default:
			// Infer type from source
			if strings.HasPrefix(v.Source, "./") || strings.HasPrefix(v.Source, "/") || strings.HasPrefix(v.Source, "~") {
				mount.Type = VolumeMountTypeBind
			} else {
				mount.Type = VolumeMountTypeVolume
			}
		}
		service.Volumes = append(service.Volumes, mount)
	}

	for netName, netCfg := range svc.Networks {
		var aliases []string
		if netCfg != nil {
			aliases = append(aliases, netCfg.Aliases...)
		}
		service.Networks[netName] = aliases
	}

	for dep := range svc.DependsOn {
		service.DependsOn = append(service.DependsOn, dep)
	}
	sort.Strings(service.DependsOn)

	service.Profiles = append(service.Profiles, svc.Profiles...)
	service.Restart = RestartPolicy(svc.Restart)

	for k, v := range svc.Labels {
		service.Labels[k] = v
	}

	return service, nil
}

// convertNetwork converts a compose-go network to our Network type.
func convertNetwork(name string, net types.NetworkConfig) Network {
	return Network{
		Name:     name,
		Driver:   net.Driver,
		External: bool(net.External),
		Labels:   net.Labels,
	}
}

// convertVolume converts a compose-go volume to our Volume type.
func convertVolume(name string, vol types.VolumeConfig) Volume {
	return Volume{
		Name:     name,
		Driver:   vol.Driver,
		External: bool(vol.External),
		Labels:   vol.Labels,
	}
}

// checkDeclaredReferences verifies every named volume mount and every network
// a service joins is declared at the top level.
func checkDeclaredReferences(env *Environment) error {
	for _, svc := range env.Services {
		for i, mount := range svc.Volumes {
			if mount.Type != VolumeMountTypeVolume {
				continue
			}
			if !env.HasVolume(mount.Source) {
				return NewSchemaError(
					fmt.Sprintf("services.%s.volumes[%d]", svc.Name, i),
					fmt.Sprintf("volume %q is not declared", mount.Source),
					ErrUndeclaredVolume,
				)
			}
		}
		for netName := range svc.Networks {
			if !env.HasNetwork(netName) {
				return NewSchemaError(
					"services."+svc.Name+".networks",
					fmt.Sprintf("network %q is not declared", netName),
					ErrUndeclaredNetwork,
				)
			}
		}
	}
	return nil
}

// validatePorts validates all port configurations.
func validatePorts(services []Service) error {
	for _, svc := range services {
		for i, port := range svc.Ports {
			field := fmt.Sprintf("services.%s.ports[%d]", svc.Name, i)
			if port.Target == 0 {
				return NewSchemaError(field, "target port cannot be 0", ErrInvalidYAML)
			}
			if port.Target > 65535 {
				return NewSchemaError(field, "target port must be <= 65535", ErrInvalidYAML)
			}
			if port.Published > 65535 {
				return NewSchemaError(field, "published port must be <= 65535", ErrInvalidYAML)
			}
		}
	}
	return nil
}

// sortedKeys returns map keys in sorted order for deterministic conversion.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
