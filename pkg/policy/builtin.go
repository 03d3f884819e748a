package policy

import (
	"time"
)

// Names of the built-in policies.
const (
	ExcludeFailedSources = "exclude_failed_sources"
	NonNullValues        = "non_null_values"
	ProvidedOnly         = "provided_only"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		excludeFailedSourcesPolicy(),
		nonNullValuesPolicy(),
		providedOnlyPolicy(),
	}
}

// excludeFailedSourcesPolicy rejects placeholders left by failed operations.
func excludeFailedSourcesPolicy() Policy {
	return Policy{
		Name:        ExcludeFailedSources,
		Description: "Rejects values whose production failed",
		Enabled:     true,
		Tags:        []string{"provenance"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package catalog.exclude_failed_sources

default valid := true

valid := false if input.source.kind == "failed"
`,
	}
}

// nonNullValuesPolicy rejects absent values.
func nonNullValuesPolicy() Policy {
	return Policy{
		Name:        NonNullValues,
		Description: "Rejects null values",
		Enabled:     true,
		Tags:        []string{"values"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package catalog.non_null_values

deny contains msg if {
	input.is_null
	msg := sprintf("%s is null", [input.type])
}
`,
	}
}

// providedOnlyPolicy accepts only values supplied by the caller or defined by the schema.
func providedOnlyPolicy() Policy {
	return Policy{
		Name:        ProvidedOnly,
		Description: "Accepts only provided or schema-defined values",
		Enabled:     true,
		Tags:        []string{"provenance"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package catalog.provided_only

allowed_kinds := {"provided", "defined"}

deny contains msg if {
	not allowed_kinds[input.source.kind]
	msg := sprintf("%s has %s provenance", [input.type, input.source.kind])
}
`,
	}
}
