package policy

import (
	"time"

	"github.com/openfroyo/catalog/pkg/models"
)

// Policy is a Rego module that decides whether candidate facts are valid.
// A module may define a boolean rule named valid, a set rule named deny,
// or both. A candidate is valid when valid is not false and deny is empty.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Enabled indicates if the policy is active. Disabled policies accept every candidate.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Input is the document a policy sees as input.
type Input struct {
	// Value is the candidate's raw value, as produced by models.ToRaw.
	Value interface{} `json:"value"`

	// Type is the candidate's semantic type name.
	Type string `json:"type"`

	// Inherits lists the names of every supertype of Type.
	Inherits []string `json:"inherits,omitempty"`

	// Source is the candidate's provenance.
	Source models.DataSource `json:"source"`

	// IsNull is true for absent values.
	IsNull bool `json:"is_null"`

	// Context provides additional evaluation context.
	Context *Context `json:"context,omitempty"`
}

// Context provides context information for policy evaluation.
type Context struct {
	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// Operation is the operation being performed (e.g., "search").
	Operation string `json:"operation,omitempty"`

	// Metadata contains additional context metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Decision is the result of evaluating one policy against one candidate.
type Decision struct {
	// Policy is the name of the evaluated policy.
	Policy string `json:"policy"`

	// Allowed reports whether the candidate is valid.
	Allowed bool `json:"allowed"`

	// Reasons lists the messages produced by the deny rule.
	Reasons []string `json:"reasons,omitempty"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// PolicyBundle represents a collection of related policies.
type PolicyBundle struct {
	// Name is the unique name of the bundle.
	Name string `json:"name"`

	// Version is the bundle version.
	Version string `json:"version"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Policies are the policies in this bundle.
	Policies []Policy `json:"policies"`

	// CreatedAt is when the bundle was created.
	CreatedAt time.Time `json:"created_at"`
}
