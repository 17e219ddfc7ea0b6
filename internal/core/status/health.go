// Package status provides pure functions for summarizing the health of an
// applied environment. Following the core/shell split - this package contains
// NO I/O; the shell feeds it container states observed from the engine.
package status

// =============================================================================
// Health Types
// =============================================================================

// Health is the aggregate health of a service or environment.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthDegraded  Health = "degraded"
	HealthUnhealthy Health = "unhealthy"
	HealthUnknown   Health = "unknown"
)

// ServiceState is the observed state of one service's container.
type ServiceState struct {
	Service  string
	State    string // engine state: running, exited, created, restarting...
	Health   string // engine health check result: healthy, unhealthy, starting, ""
	Restarts int
}

// =============================================================================
// Health Aggregation (Pure Functions)
// =============================================================================

// ServiceHealth maps one container's observed state to a health value.
func ServiceHealth(s ServiceState) Health {
	if s.State != "running" {
		return HealthUnhealthy
	}
	switch s.Health {
	case "unhealthy":
		return HealthUnhealthy
	case "starting":
		return HealthDegraded
	}
	// Frequent restarts indicate instability even while nominally running.
	if s.Restarts > 3 {
		return HealthDegraded
	}
	return HealthHealthy
}

// Aggregate determines the overall environment health from its services.
// All healthy = healthy; all unhealthy = unhealthy; any mix = degraded.
func Aggregate(states []ServiceState) Health {
	if len(states) == 0 {
		return HealthUnknown
	}

	unhealthy := 0
	degraded := 0
	for _, s := range states {
		switch ServiceHealth(s) {
		case HealthUnhealthy:
			unhealthy++
		case HealthDegraded:
			degraded++
		}
	}

	if unhealthy == len(states) {
		return HealthUnhealthy
	}
	if unhealthy > 0 || degraded > 0 {
		return HealthDegraded
	}
	return HealthHealthy
}
