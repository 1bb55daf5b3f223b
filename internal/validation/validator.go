package validation

import (
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/stepflow/pkg/schema"
)

// Validator runs the structural and semantic validation stages over a
// workflow definition. Safe for concurrent use.
type Validator struct {
	workflowSchema *jsonschema.Schema
}

// NewValidator compiles the embedded workflow schema.
func NewValidator() (*Validator, error) {
	compiled, err := compileWorkflowSchema()
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "compile workflow schema").WithCause(err)
	}
	return &Validator{workflowSchema: compiled}, nil
}

// Validate checks a definition. Structural errors short-circuit the semantic
// stage since a malformed document makes reference checks meaningless.
func (v *Validator) Validate(def *schema.WorkflowDefinition, lookup ActionLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if def == nil {
		result.AddError("", schema.ErrCodeValidation, "workflow definition is nil")
		return result
	}

	structural := validateStructural(v.workflowSchema, def)
	result.Merge(structural)
	if !structural.Valid() {
		return result
	}

	result.Merge(validateSemantic(def, lookup))
	return result
}
