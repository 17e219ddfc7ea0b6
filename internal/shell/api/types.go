package api

import (
	"sort"
	"time"

	"github.com/artpar/stackctl/internal/core/status"
	"github.com/artpar/stackctl/internal/core/topology"
	"github.com/artpar/stackctl/internal/shell/store"
)

// =============================================================================
// Request Types
// =============================================================================

// CreateEnvironmentRequest creates a stored environment from a raw topology
// document.
type CreateEnvironmentRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source"`
}

// UpdateEnvironmentRequest replaces the mutable fields of a stored
// environment. Empty fields are left unchanged.
type UpdateEnvironmentRequest struct {
	Description *string `json:"description,omitempty"`
	Source      *string `json:"source,omitempty"`
}

// ValidateRequest selects the profiles to validate under.
type ValidateRequest struct {
	Profiles []string `json:"profiles,omitempty"`
}

// ResolveRequest selects the profiles to resolve under.
type ResolveRequest struct {
	Profiles []string `json:"profiles,omitempty"`
}

// RenderRequest selects the profiles and variables for a render.
type RenderRequest struct {
	Profiles  []string          `json:"profiles,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
}

// =============================================================================
// Response Types
// =============================================================================

// EnvironmentResponse is the API shape of a stored environment. Profiles and
// services are derived from the parsed source on every read.
type EnvironmentResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Source      string    `json:"source"`
	Profiles    []string  `json:"profiles,omitempty"`
	Services    []string  `json:"services"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ViolationResponse is one semantic violation found by validation.
type ViolationResponse struct {
	Service string `json:"service,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ValidateResponse reports the outcome of a validation run.
type ValidateResponse struct {
	Valid      bool                `json:"valid"`
	Profiles   []string            `json:"profiles,omitempty"`
	Violations []ViolationResponse `json:"violations,omitempty"`
}

// ResolveResponse carries the activation set in start order.
type ResolveResponse struct {
	Environment string   `json:"environment"`
	Profiles    []string `json:"profiles,omitempty"`
	StartOrder  []string `json:"start_order"`
}

// RenderResponse carries a rendered document and the history record it was
// stored under.
type RenderResponse struct {
	RenderID    string   `json:"render_id"`
	Environment string   `json:"environment"`
	Profiles    []string `json:"profiles,omitempty"`
	Output      string   `json:"output"`
}

// RenderRecordResponse is one entry of an environment's render history. The
// rendered output is returned only by the single-record endpoint.
type RenderRecordResponse struct {
	ID            string            `json:"id"`
	EnvironmentID string            `json:"environment_id"`
	Profiles      []string          `json:"profiles,omitempty"`
	Variables     map[string]string `json:"variables,omitempty"`
	Output        string            `json:"output,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// ServiceStateResponse is one service's observed container state.
type ServiceStateResponse struct {
	Service  string `json:"service"`
	State    string `json:"state"`
	Health   string `json:"health"`
	Restarts int    `json:"restarts"`
}

// StatusResponse is the aggregate health of an applied environment.
type StatusResponse struct {
	Environment string                 `json:"environment"`
	Health      string                 `json:"health"`
	Services    []ServiceStateResponse `json:"services"`
}

// CatalogEnvironmentResponse is one built-in topology.
type CatalogEnvironmentResponse struct {
	Name     string   `json:"name"`
	Profiles []string `json:"profiles,omitempty"`
	Services []string `json:"services"`
}

// ErrorResponse is the error envelope for all non-2xx responses.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Code    string   `json:"code,omitempty"`
	Details []string `json:"details,omitempty"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// ReadyResponse is returned by the readiness endpoint.
type ReadyResponse struct {
	Ready  bool              `json:"ready"`
	Checks map[string]string `json:"checks,omitempty"`
}

// =============================================================================
// Conversions
// =============================================================================

// toEnvironmentResponse derives the API shape from a record. The source is
// parsed to surface profiles and service names; a source that no longer
// parses yields the stored fields only.
func toEnvironmentResponse(rec *store.EnvironmentRecord) EnvironmentResponse {
	resp := EnvironmentResponse{
		ID:          rec.ID,
		Name:        rec.Name,
		Description: rec.Description,
		Source:      rec.Source,
		Services:    []string{},
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
	env, err := topology.Load(rec.Name, rec.Source)
	if err != nil {
		return resp
	}
	resp.Profiles = sortedProfiles(env)
	for _, svc := range env.Services {
		resp.Services = append(resp.Services, svc.Name)
	}
	return resp
}

func toViolationResponses(violations []topology.Violation) []ViolationResponse {
	out := make([]ViolationResponse, len(violations))
	for i, v := range violations {
		out[i] = ViolationResponse{Service: v.Service, Field: v.Field, Message: v.Message}
	}
	return out
}

func toRenderRecordResponse(rec *store.RenderRecord, includeOutput bool) RenderRecordResponse {
	resp := RenderRecordResponse{
		ID:            rec.ID,
		EnvironmentID: rec.EnvironmentID,
		Profiles:      rec.Profiles,
		Variables:     rec.Variables,
		CreatedAt:     rec.CreatedAt,
	}
	if includeOutput {
		resp.Output = rec.Output
	}
	return resp
}

func toServiceStateResponses(states []status.ServiceState) []ServiceStateResponse {
	out := make([]ServiceStateResponse, len(states))
	for i, s := range states {
		out[i] = ServiceStateResponse{
			Service:  s.Service,
			State:    s.State,
			Health:   string(status.ServiceHealth(s)),
			Restarts: s.Restarts,
		}
	}
	return out
}

// sortedProfiles returns the environment's profile names, sorted.
func sortedProfiles(env *topology.Environment) []string {
	profiles := env.Profiles()
	sort.Strings(profiles)
	return profiles
}
