package registry

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrServiceNotFound    = errors.New("service not found")
	ErrDuplicateServiceID = errors.New("duplicate service id")
	ErrSealed             = errors.New("registry is sealed")
)

const (
	RuleRequired = "required"
	RuleType     = "type"
	RuleInvalid  = "invalid"
)

// FieldError describes one offending input field. Rule is "required", the
// field type for malformed values ("date", "int", ...) or the failing tag
// from Field.Rules ("max", "min", ...).
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

// ValidationError lists every field that failed, in field name order.
type ValidationError struct {
	ServiceID string
	Fields    []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+":"+f.Rule)
	}
	return fmt.Sprintf("service %s: invalid input (%s)", e.ServiceID, strings.Join(parts, ", "))
}

// Failure is a typed failure a service may return. ResourceKey, when set,
// names the user-facing message for it.
type Failure struct {
	Code        string
	ResourceKey string
	Err         error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return "failure: " + f.Code
	}
	return fmt.Sprintf("failure: %s: %v", f.Code, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// ExecutionError wraps anything that went wrong while running a service.
// Its message never includes the cause; use errors.Unwrap for logging.
type ExecutionError struct {
	ServiceID   string
	ResourceKey string
	TimedOut    bool
	Cause       error
}

func (e *ExecutionError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("service %s: execution timed out", e.ServiceID)
	}
	return fmt.Sprintf("service %s: execution failed", e.ServiceID)
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}
