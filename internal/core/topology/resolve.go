package topology

import "sort"

// =============================================================================
// Profile Resolution and Start Ordering
// =============================================================================

// Resolution is the result of resolving an Environment against a set of
// enabled profiles: the activation set in dependency-respecting start order.
type Resolution struct {
	// Environment the resolution was computed from.
	Environment string

	// Profiles that were enabled, sorted.
	Profiles []string

	// Services is the activation set in start order: every service either has
	// no profile or carries an enabled one, and every service appears after
	// all of its active dependencies. Ties are broken by declaration order,
	// so the sequence is deterministic for a given topology.
	Services []Service
}

// StartOrder returns just the service names in start order.
func (r *Resolution) StartOrder() []string {
	names := make([]string, len(r.Services))
	for i, svc := range r.Services {
		names[i] = svc.Name
	}
	return names
}

// Service returns the resolved service with the given name, or nil.
func (r *Resolution) Service(name string) *Service {
	for i := range r.Services {
		if r.Services[i].Name == name {
			return &r.Services[i]
		}
	}
	return nil
}

// Resolve filters the environment's service set down to the services active
// under the enabled profiles and orders them by their dependencies.
//
// A service is active when it declares no profiles, or when at least one of
// its profiles is enabled. Dependencies on inactive services are ignored for
// ordering purposes (Validate reports them separately).
//
// Resolve fails with a *CycleError if the active dependency graph contains a
// cycle; it never returns a partial order.
//
// Example:
//
//	// Services: A, B (depends_on A), C (depends_on B)
//	res, err := Resolve(env, nil)
//	// res.StartOrder() == []string{"A", "B", "C"}
func Resolve(env *Environment, enabledProfiles []string) (*Resolution, error) {
	enabled := make(map[string]bool, len(enabledProfiles))
	for _, p := range enabledProfiles {
		enabled[p] = true
	}

	// Activation set, in declaration order.
	var active []Service
	activeIdx := make(map[string]int) // name -> declaration index among active
	for _, svc := range env.Services {
		if !serviceActive(svc, enabled) {
			continue
		}
		activeIdx[svc.Name] = len(active)
		active = append(active, svc)
	}

	ordered, err := orderByDependencies(active, activeIdx)
	if err != nil {
		return nil, err
	}

	profiles := make([]string, 0, len(enabled))
	for p := range enabled {
		profiles = append(profiles, p)
	}
	sort.Strings(profiles)

	return &Resolution{
		Environment: env.Name,
		Profiles:    profiles,
		Services:    ordered,
	}, nil
}

// serviceActive reports whether a service belongs to the activation set.
func serviceActive(svc Service, enabled map[string]bool) bool {
	if len(svc.Profiles) == 0 {
		return true
	}
	for _, p := range svc.Profiles {
		if enabled[p] {
			return true
		}
	}
	return false
}

// orderByDependencies sorts active services with Kahn's algorithm.
//
// The ready queue always yields the service with the lowest declaration
// index, so the order is stable across runs: independent services start in
// the order they were declared.
func orderByDependencies(active []Service, activeIdx map[string]int) ([]Service, error) {
	if len(active) == 0 {
		return nil, nil
	}

	inDegree := make([]int, len(active))
	dependents := make(map[string][]int)

	for i, svc := range active {
		for _, dep := range svc.DependsOn {
			if _, ok := activeIdx[dep]; !ok {
				// Dependency is inactive under the enabled profiles; no edge.
				continue
			}
			inDegree[i]++
			dependents[dep] = append(dependents[dep], i)
		}
	}

	var ready []int
	for i, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, i)
		}
	}

	ordered := make([]Service, 0, len(active))
	for len(ready) > 0 {
		// Pop the lowest declaration index.
		sort.Ints(ready)
		idx := ready[0]
		ready = ready[1:]

		svc := active[idx]
		ordered = append(ordered, svc)

		for _, depIdx := range dependents[svc.Name] {
			inDegree[depIdx]--
			if inDegree[depIdx] == 0 {
				ready = append(ready, depIdx)
			}
		}
	}

	if len(ordered) < len(active) {
		return nil, &CycleError{Cycle: findCycle(active, activeIdx)}
	}
	return ordered, nil
}

// findCycle locates one dependency cycle among the active services with DFS.
// Called only when Kahn's algorithm could not place every service, so a
// cycle is guaranteed to exist.
func findCycle(active []Service, activeIdx map[string]int) []string {
	const (
		unvisited = iota
		inStack
		done
	)
	state := make(map[string]int, len(active))
	var stack []string

	var visit func(name string) []string
	visit = func(name string) []string {
		state[name] = inStack
		stack = append(stack, name)

		idx := activeIdx[name]
		for _, dep := range active[idx].DependsOn {
			if _, ok := activeIdx[dep]; !ok {
				continue
			}
			switch state[dep] {
			case inStack:
				// Found the cycle: slice the stack from the first occurrence.
				for i, n := range stack {
					if n == dep {
						cycle := append([]string{}, stack[i:]...)
						return append(cycle, dep)
					}
				}
			case unvisited:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[name] = done
		return nil
	}

	for _, svc := range active {
		if state[svc.Name] == unvisited {
			if cycle := visit(svc.Name); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}
