package schema

import (
	"fmt"
	"strings"
)

// ValidationIssue is a single problem found while validating a workflow
// definition, located by a dotted path into the document.
type ValidationIssue struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (i ValidationIssue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return fmt.Sprintf("%s: %s", i.Path, i.Message)
}

// ValidationResult accumulates issues across validation stages.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// AddError records a blocking issue.
func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{Path: path, Code: code, Message: message})
}

// AddWarning records a non-blocking issue.
func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{Path: path, Code: code, Message: message})
}

// Merge appends all issues from other into r.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// Valid reports whether no blocking issues were recorded.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// ToError converts the result into a single *Error, or nil when valid.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}
	msgs := make([]string, len(r.Errors))
	for i, issue := range r.Errors {
		msgs[i] = issue.String()
	}
	return NewErrorf(ErrCodeValidation, "workflow validation failed: %s", strings.Join(msgs, "; ")).
		WithDetails(map[string]any{"errors": r.Errors})
}
