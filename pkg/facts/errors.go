package facts

import (
	"errors"
	"fmt"
)

// ErrorClass is the classification of a fact bag error.
type ErrorClass string

const (
	// ErrorClassUnsupported indicates an operation that the bag variant does not allow,
	// such as adding facts to an EmptyFactBag or a CascadingFactBag.
	ErrorClassUnsupported ErrorClass = "unsupported"

	// ErrorClassResolution indicates that a required fact could not be resolved.
	ErrorClassResolution ErrorClass = "resolution"
)

// Error codes.
const (
	ErrCodeImmutableBag   = "IMMUTABLE_BAG"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeScopeNotFound  = "SCOPE_NOT_FOUND"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
)

// Error is a classified fact bag error with search context.
type Error struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Code identifies the error for programmatic handling.
	Code string `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Type is the requested type name, if applicable.
	Type string `json:"type,omitempty"`

	// Strategy is the discovery strategy in use, if applicable.
	Strategy string `json:"strategy,omitempty"`

	// Operation is the bag operation that failed.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context.
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	switch {
	case e.Type != "" && e.Strategy != "":
		msg = fmt.Sprintf("%s (type=%s, strategy=%s)", msg, e.Type, e.Strategy)
	case e.Type != "":
		msg = fmt.Sprintf("%s (type=%s)", msg, e.Type)
	case e.Operation != "":
		msg = fmt.Sprintf("%s (operation=%s)", msg, e.Operation)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors of the same class and code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewUnsupportedOperationError reports a mutation attempted on an immutable bag.
func NewUnsupportedOperationError(operation, bag string) *Error {
	return &Error{
		Class:     ErrorClassUnsupported,
		Code:      ErrCodeImmutableBag,
		Message:   fmt.Sprintf("%s is not supported on %s", operation, bag),
		Operation: operation,
	}
}

// NewResolutionError reports that no fact matched a required lookup.
func NewResolutionError(message string, err error) *Error {
	return &Error{
		Class:   ErrorClassResolution,
		Code:    ErrCodeNotFound,
		Message: message,
		Err:     err,
	}
}

// WithType adds the requested type to the error.
func (e *Error) WithType(typeName string) *Error {
	e.Type = typeName
	return e
}

// WithStrategy adds the discovery strategy to the error.
func (e *Error) WithStrategy(strategy DiscoveryStrategy) *Error {
	e.Strategy = strategy.String()
	return e
}

// WithOperation adds the failed operation to the error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCode overrides the error code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// IsUnsupportedOperation reports whether err is an unsupported operation error.
func IsUnsupportedOperation(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassUnsupported
	}
	return false
}

// IsNotResolved reports whether err is a resolution failure.
func IsNotResolved(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassResolution
	}
	return false
}
