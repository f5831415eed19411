package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for violations that are logged but do not block.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that block the install.
	SeverityError Severity = "error"

	// SeverityCritical blocks the install like SeverityError.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity denies the request.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a named Rego module. Its package must define a "deny" set.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name" yaml:"name"`

	// Description provides a human-readable description.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego" yaml:"rego"`

	// Severity applies to violations that do not carry their own.
	Severity Severity `json:"severity" yaml:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Builtin marks policies shipped with the engine.
	Builtin bool `json:"builtin,omitempty" yaml:"-"`

	// Source is the file the policy was loaded from, if any.
	Source string `json:"source,omitempty" yaml:"-"`
}

// Violation is a single deny result.
type Violation struct {
	Policy   string   `json:"policy"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Host     string   `json:"host,omitempty"`
	Artifact string   `json:"artifact,omitempty"`
}

// Result is the outcome of evaluating every enabled policy against one
// install request.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists non-blocking violations.
	Warnings []Violation `json:"warnings,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies"`
	EvaluatedAt       time.Time     `json:"evaluated_at"`
	Duration          time.Duration `json:"duration"`
}

// Input is the document policies see as "input".
type Input struct {
	Host     string        `json:"host"`
	Artifact ArtifactInput `json:"artifact"`
	Context  InputContext  `json:"context"`
}

// ArtifactInput describes the artifact being installed.
type ArtifactInput struct {
	Name       string            `json:"name"`
	Parameters map[string]string `json:"parameters"`
}

// InputContext carries request metadata.
type InputContext struct {
	Operation string    `json:"operation"`
	User      string    `json:"user,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
