package store

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Persisted Entities
// =============================================================================

// EnvironmentRecord is a stored topology definition. Name is the handle
// users address it by; Source is the raw YAML document.
type EnvironmentRecord struct {
	ID          string
	Name        string
	Description string
	Source      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewEnvironmentRecord creates an environment record with a fresh ID.
func NewEnvironmentRecord(name, description, source string) *EnvironmentRecord {
	now := time.Now().UTC()
	return &EnvironmentRecord{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Source:      source,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Touch bumps the update timestamp.
func (r *EnvironmentRecord) Touch() {
	r.UpdatedAt = time.Now().UTC()
}

// RenderRecord is one materialized render of an environment: the profile
// selection and variables that produced it, plus the rendered document.
// Stored so operators can diff what is running against what would render now.
type RenderRecord struct {
	ID            string
	EnvironmentID string
	Profiles      []string
	Variables     map[string]string
	Output        string
	CreatedAt     time.Time
}

// NewRenderRecord creates a render record with a fresh ID.
func NewRenderRecord(environmentID string, profiles []string, variables map[string]string, output string) *RenderRecord {
	return &RenderRecord{
		ID:            uuid.NewString(),
		EnvironmentID: environmentID,
		Profiles:      profiles,
		Variables:     variables,
		Output:        output,
		CreatedAt:     time.Now().UTC(),
	}
}
