package topology

import (
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// Semantic Validation (batched)
// =============================================================================

// Validate checks an Environment for semantic inconsistencies under the given
// enabled profiles. It returns a *ValidationError carrying every violation
// found - not just the first - so a whole topology can be fixed in one pass.
// A nil return means the topology is consistent.
//
// Checks performed over the activation set:
//   - a named-volume mount or network membership that is not declared
//     (checked for every service; Load already rejects these in parsed
//     sources, this covers environments built in memory)
//   - a network alias claimed by more than one active service (role aliases
//     like "eth1-node" must resolve to exactly one implementation per run)
//   - two active services publishing the same host port
//   - depends_on naming a service that does not exist
//   - an active service depending on a service that is inactive under the
//     enabled profiles
func Validate(env *Environment, enabledProfiles []string) *ValidationError {
	enabled := make(map[string]bool, len(enabledProfiles))
	for _, p := range enabledProfiles {
		enabled[p] = true
	}

	activeSet := make(map[string]bool)
	var active []Service
	for _, svc := range env.Services {
		if serviceActive(svc, enabled) {
			activeSet[svc.Name] = true
			active = append(active, svc)
		}
	}

	declared := make(map[string]bool, len(env.Services))
	for _, svc := range env.Services {
		declared[svc.Name] = true
	}

	var violations []Violation
	violations = append(violations, checkDeclaredResources(env)...)
	violations = append(violations, checkDependencies(active, declared, activeSet)...)
	violations = append(violations, checkAliasConflicts(active)...)
	violations = append(violations, checkPublishedPorts(active)...)

	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: violations}
}

// checkDeclaredResources flags named-volume mounts and network memberships
// the environment does not declare. Load rejects these in parsed sources;
// this covers environments constructed in memory.
func checkDeclaredResources(env *Environment) []Violation {
	var violations []Violation
	for _, svc := range env.Services {
		for i, mount := range svc.Volumes {
			if mount.Type != VolumeMountTypeVolume {
				continue
			}
			if !env.HasVolume(mount.Source) {
				violations = append(violations, Violation{
					Service: svc.Name,
					Field:   fmt.Sprintf("volumes[%d]", i),
					Message: fmt.Sprintf("volume %q is not declared", mount.Source),
				})
			}
		}
		for _, network := range sortedKeys(svc.Networks) {
			if !env.HasNetwork(network) {
				violations = append(violations, Violation{
					Service: svc.Name,
					Field:   "networks",
					Message: fmt.Sprintf("network %q is not declared", network),
				})
			}
		}
	}
	return violations
}

// checkDependencies flags depends_on edges to unknown or inactive services.
func checkDependencies(active []Service, declared, activeSet map[string]bool) []Violation {
	var violations []Violation
	for _, svc := range active {
		for _, dep := range svc.DependsOn {
			switch {
			case !declared[dep]:
				violations = append(violations, Violation{
					Service: svc.Name,
					Field:   "depends_on",
					Message: fmt.Sprintf("depends on unknown service %q", dep),
				})
			case !activeSet[dep]:
				violations = append(violations, Violation{
					Service: svc.Name,
					Field:   "depends_on",
					Message: fmt.Sprintf("depends on service %q which is gated behind a profile that is not enabled", dep),
				})
			}
		}
	}
	return violations
}

// checkAliasConflicts flags aliases claimed by more than one active service
// on the same network.
func checkAliasConflicts(active []Service) []Violation {
	type key struct {
		network string
		alias   string
	}
	claims := make(map[key][]string)
	for _, svc := range active {
		for network, aliases := range svc.Networks {
			for _, alias := range aliases {
				k := key{network: network, alias: alias}
				claims[k] = append(claims[k], svc.Name)
			}
		}
	}

	keys := make([]key, 0, len(claims))
	for k := range claims {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].network != keys[j].network {
			return keys[i].network < keys[j].network
		}
		return keys[i].alias < keys[j].alias
	})

	var violations []Violation
	for _, k := range keys {
		services := claims[k]
		if len(services) < 2 {
			continue
		}
		sort.Strings(services)
		violations = append(violations, Violation{
			Field: fmt.Sprintf("networks.%s.aliases", k.network),
			Message: fmt.Sprintf("alias %q is claimed by services %s; only one may be active per run",
				k.alias, strings.Join(services, ", ")),
		})
	}
	return violations
}

// checkPublishedPorts flags host ports published by more than one active
// service.
func checkPublishedPorts(active []Service) []Violation {
	type key struct {
		hostIP   string
		port     uint32
		protocol string
	}
	claims := make(map[key][]string)
	for _, svc := range active {
		for _, p := range svc.Ports {
			if p.Published == 0 {
				continue // dynamically assigned, cannot collide
			}
			proto := p.Protocol
			if proto == "" {
				proto = "tcp"
			}
			k := key{hostIP: p.HostIP, port: p.Published, protocol: proto}
			claims[k] = append(claims[k], svc.Name)
		}
	}

	keys := make([]key, 0, len(claims))
	for k := range claims {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].port != keys[j].port {
			return keys[i].port < keys[j].port
		}
		if keys[i].protocol != keys[j].protocol {
			return keys[i].protocol < keys[j].protocol
		}
		return keys[i].hostIP < keys[j].hostIP
	})

	var violations []Violation
	for _, k := range keys {
		services := claims[k]
		if len(services) < 2 {
			continue
		}
		sort.Strings(services)
		violations = append(violations, Violation{
			Field: "ports",
			Message: fmt.Sprintf("host port %d/%s is published by services %s",
				k.port, k.protocol, strings.Join(services, ", ")),
		})
	}
	return violations
}
