// Package topology contains pure functions for loading, validating and
// resolving deployment-topology definitions. This is part of the Functional
// Core - all functions are pure with no I/O.
package topology

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Input errors
	ErrEmptyInput  = errors.New("topology is empty")
	ErrInvalidYAML = errors.New("invalid YAML syntax")
	ErrNoServices  = errors.New("topology must define at least one service")

	// Schema errors
	ErrImageMissingTag    = errors.New("image reference must include a tag")
	ErrServiceNoImage     = errors.New("service must have an image")
	ErrUndeclaredVolume   = errors.New("service references an undeclared volume")
	ErrUndeclaredNetwork  = errors.New("service references an undeclared network")
	ErrDuplicateService   = errors.New("duplicate service name")
	ErrUnsupportedFeature = errors.New("unsupported topology feature")
)

// SchemaError reports malformed input: the topology could not be loaded into
// a well-formed Environment. It carries the field path where loading failed.
type SchemaError struct {
	Field   string // e.g. "services.oracle.volumes[0]"
	Message string
	Err     error
}

func (e *SchemaError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// NewSchemaError creates a new SchemaError.
func NewSchemaError(field, message string, err error) *SchemaError {
	return &SchemaError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// =============================================================================
// Validation Errors (batched)
// =============================================================================

// Violation is one semantic inconsistency found during validation.
type Violation struct {
	Service string // offending service, empty for environment-level issues
	Field   string // e.g. "networks.goerli.aliases"
	Message string
}

func (v Violation) String() string {
	switch {
	case v.Service != "" && v.Field != "":
		return fmt.Sprintf("service %s: %s: %s", v.Service, v.Field, v.Message)
	case v.Service != "":
		return fmt.Sprintf("service %s: %s", v.Service, v.Message)
	default:
		return v.Message
	}
}

// ValidationError reports semantically inconsistent but well-formed input.
// All violations are collected before returning so an operator can fix a
// whole topology in one pass.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 1 {
		return "validation failed: " + e.Violations[0].String()
	}
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.String()
	}
	return fmt.Sprintf("validation failed with %d violations:\n  %s",
		len(e.Violations), strings.Join(msgs, "\n  "))
}

// =============================================================================
// Cycle Errors
// =============================================================================

// CycleError reports that the active dependency graph is not a DAG.
// Cycle holds the service names forming the cycle, in edge order, with the
// first name repeated at the end.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return "dependency cycle detected: " + strings.Join(e.Cycle, " -> ")
}
