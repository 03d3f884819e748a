package models

import (
	"fmt"

	"github.com/google/uuid"
)

// SourceKind classifies where a value came from.
type SourceKind string

const (
	// SourceProvided marks values supplied by the caller (inputs, fact files).
	SourceProvided SourceKind = "provided"
	// SourceDefined marks values that are constants of the schema.
	SourceDefined SourceKind = "defined"
	// SourceOperation marks values produced by an operation invocation.
	SourceOperation SourceKind = "operation"
	// SourceMixed marks values assembled from more than one source.
	SourceMixed SourceKind = "mixed"
	// SourceFailed marks placeholders for values whose production failed.
	SourceFailed SourceKind = "failed"
)

// DataSource is the provenance of a value. It is comparable, and two equal
// values with different provenance are not equal instances.
type DataSource struct {
	Kind   SourceKind `json:"kind" yaml:"kind"`
	ID     string     `json:"id" yaml:"id"`
	Detail string     `json:"detail,omitempty" yaml:"detail,omitempty"`
}

var (
	// Provided is the shared provenance of caller-supplied values.
	Provided = DataSource{Kind: SourceProvided, ID: string(SourceProvided)}

	// Defined is the shared provenance of schema constants.
	Defined = DataSource{Kind: SourceDefined, ID: string(SourceDefined)}

	// MixedSources is the provenance of values built from several sources.
	MixedSources = DataSource{Kind: SourceMixed, ID: string(SourceMixed)}
)

// NewOperationResult returns a fresh provenance for a value produced by the named operation.
func NewOperationResult(operation string) DataSource {
	return DataSource{Kind: SourceOperation, ID: uuid.NewString(), Detail: operation}
}

// NewFailedSource returns a fresh provenance for a value that could not be produced.
func NewFailedSource(reason string) DataSource {
	return DataSource{Kind: SourceFailed, ID: uuid.NewString(), Detail: reason}
}

// IsFailed reports whether the value behind this source failed to be produced.
func (d DataSource) IsFailed() bool {
	return d.Kind == SourceFailed
}

// String implements fmt.Stringer.
func (d DataSource) String() string {
	if d.Detail == "" {
		return fmt.Sprintf("%s(%s)", d.Kind, d.ID)
	}
	return fmt.Sprintf("%s(%s: %s)", d.Kind, d.ID, d.Detail)
}

// SingleSourceOrMixed returns the common source of the instances, or
// MixedSources when they disagree. An empty list yields Provided.
func SingleSourceOrMixed(instances []TypedInstance) DataSource {
	if len(instances) == 0 {
		return Provided
	}
	first := instances[0].Source()
	for _, inst := range instances[1:] {
		if inst.Source() != first {
			return MixedSources
		}
	}
	return first
}
