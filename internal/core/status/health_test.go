package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Service Health Tests
// =============================================================================

func TestServiceHealth(t *testing.T) {
	tests := []struct {
		name  string
		state ServiceState
		want  Health
	}{
		{"running", ServiceState{State: "running"}, HealthHealthy},
		{"running with passing check", ServiceState{State: "running", Health: "healthy"}, HealthHealthy},
		{"exited", ServiceState{State: "exited"}, HealthUnhealthy},
		{"created", ServiceState{State: "created"}, HealthUnhealthy},
		{"restarting", ServiceState{State: "restarting"}, HealthUnhealthy},
		{"failing check", ServiceState{State: "running", Health: "unhealthy"}, HealthUnhealthy},
		{"starting check", ServiceState{State: "running", Health: "starting"}, HealthDegraded},
		{"restart loop", ServiceState{State: "running", Restarts: 5}, HealthDegraded},
		{"few restarts tolerated", ServiceState{State: "running", Restarts: 3}, HealthHealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ServiceHealth(tt.state))
		})
	}
}

// =============================================================================
// Aggregate Tests
// =============================================================================

func TestAggregate_Empty(t *testing.T) {
	assert.Equal(t, HealthUnknown, Aggregate(nil))
}

func TestAggregate_AllHealthy(t *testing.T) {
	states := []ServiceState{
		{Service: "oracle", State: "running"},
		{Service: "keeper", State: "running"},
	}
	assert.Equal(t, HealthHealthy, Aggregate(states))
}

func TestAggregate_AllUnhealthy(t *testing.T) {
	states := []ServiceState{
		{Service: "oracle", State: "exited"},
		{Service: "keeper", State: "exited"},
	}
	assert.Equal(t, HealthUnhealthy, Aggregate(states))
}

func TestAggregate_Mixed(t *testing.T) {
	states := []ServiceState{
		{Service: "oracle", State: "running"},
		{Service: "keeper", State: "exited"},
	}
	assert.Equal(t, HealthDegraded, Aggregate(states))
}

func TestAggregate_DegradedService(t *testing.T) {
	states := []ServiceState{
		{Service: "oracle", State: "running"},
		{Service: "prometheus", State: "running", Health: "starting"},
	}
	assert.Equal(t, HealthDegraded, Aggregate(states))
}
