// Package plan provides pure functions for translating resolved topologies
// into container execution plans. All functions are pure (no I/O, no side
// effects); the imperative shell (internal/shell/docker) executes the plans.
package plan

import (
	"sort"
	"strconv"

	"github.com/artpar/stackctl/internal/core/render"
	"github.com/artpar/stackctl/internal/core/topology"
)

// =============================================================================
// Container Plan Building
// =============================================================================

// BuildParams contains all inputs for building a container plan.
type BuildParams struct {
	Environment string
	Service     topology.Service
	Variables   map[string]string

	// DefaultNetwork is the environment network a service joins when it does
	// not declare any network memberships itself.
	DefaultNetwork string

	// ExternalNetworks and ExternalVolumes name resources declared external in
	// the topology. They keep their declared names instead of getting the
	// environment prefix.
	ExternalNetworks map[string]bool
	ExternalVolumes  map[string]bool
}

// Build builds a ContainerPlan from a resolved service.
//
// The plan:
//   - names the container, volumes and networks with the environment prefix
//   - substitutes variable tokens in command, entrypoint and environment
//   - attaches the service to its networks with the service name plus any
//     declared role aliases
//
// It fails with a *render.RenderError when a token cannot be resolved, so an
// apply never reaches the engine with literal placeholders.
func Build(params BuildParams) (ContainerPlan, error) {
	svc := params.Service
	var missing []render.MissingToken

	p := ContainerPlan{
		Name:    ContainerName(params.Environment, svc.Name),
		Image:   svc.Image,
		EnvFile: svc.EnvFile,
		Env:     make(map[string]string),
		Labels: map[string]string{
			LabelManaged:     "true",
			LabelEnvironment: params.Environment,
			LabelService:     svc.Name,
		},
		Networks: make(map[string][]string),
	}

	p.Command = substituteArgs(svc.Command, params.Variables, "services."+svc.Name+".command", &missing)
	p.Entrypoint = substituteArgs(svc.Entrypoint, params.Variables, "services."+svc.Name+".entrypoint", &missing)

	for k, v := range svc.Environment {
		val, miss := render.Substitute(v, params.Variables)
		for _, tok := range miss {
			missing = append(missing, render.MissingToken{
				Token:    tok,
				Location: "services." + svc.Name + ".environment." + k,
			})
		}
		p.Env[k] = val
	}

	for _, port := range svc.Ports {
		p.Ports = append(p.Ports, PortPlan{
			ContainerPort: int(port.Target),
			HostPort:      int(port.Published),
			Protocol:      port.Protocol,
			HostIP:        port.HostIP,
		})
	}

	for _, mount := range svc.Volumes {
		source := mount.Source
		if mount.Type == topology.VolumeMountTypeVolume && !params.ExternalVolumes[mount.Source] {
			source = VolumeName(params.Environment, mount.Source)
		}
		p.Volumes = append(p.Volumes, VolumePlan{
			Source:   source,
			Target:   mount.Target,
			ReadOnly: mount.ReadOnly,
		})
	}

	if len(svc.Networks) == 0 {
		p.Networks[NetworkName(params.Environment, params.DefaultNetwork)] = []string{svc.Name}
	}
	for network, aliases := range svc.Networks {
		name := NetworkName(params.Environment, network)
		if params.ExternalNetworks[network] {
			name = network
		}
		p.Networks[name] = append([]string{svc.Name}, aliases...)
	}

	for k, v := range svc.Labels {
		p.Labels[k] = v
	}

	p.RestartPolicy = mapRestartPolicy(svc.Restart)

	if len(missing) > 0 {
		return ContainerPlan{}, &render.RenderError{Missing: missing}
	}
	return p, nil
}

func substituteArgs(args []string, variables map[string]string, location string, missing *[]render.MissingToken) []string {
	if len(args) == 0 {
		return nil
	}
	out, miss := render.SubstituteAll(args, variables)
	idxs := make([]int, 0, len(miss))
	for i := range miss {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	for _, i := range idxs {
		for _, tok := range miss[i] {
			*missing = append(*missing, render.MissingToken{
				Token:    tok,
				Location: location + "[" + strconv.Itoa(i) + "]",
			})
		}
	}
	return out
}

// mapRestartPolicy maps a topology restart policy to the engine format.
func mapRestartPolicy(policy topology.RestartPolicy) RestartPolicyPlan {
	switch policy {
	case topology.RestartAlways:
		return RestartPolicyPlan{Name: "always"}
	case topology.RestartOnFailure:
		return RestartPolicyPlan{Name: "on-failure", MaximumRetryCount: 3}
	case topology.RestartUnlessStopped:
		return RestartPolicyPlan{Name: "unless-stopped"}
	default:
		return RestartPolicyPlan{Name: "no"}
	}
}
