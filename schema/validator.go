package schema

import (
	"fmt"

	"github.com/biotrace/eventgate/contracts"
	json "github.com/goccy/go-json"
)

// Result is the outcome of validating a payload against a descriptor.
type Result struct {
	Valid   bool              `json:"valid"`
	Reasons []ValidationError `json:"reasons,omitempty"`
}

// ValidationError describes one structural mismatch.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error in field '%s': %s", e.Field, e.Message)
}

// Validation error codes.
const (
	CodeRequiredMissing = "REQUIRED_FIELD_MISSING"
	CodeTypeMismatch    = "TYPE_MISMATCH"
	CodeEnumViolation   = "ENUM_VIOLATION"
	CodeMalformed       = "MALFORMED_PAYLOAD"
)

// Validator structurally checks event payloads against schema descriptors.
// It is stateless and safe for concurrent use.
type Validator struct{}

// NewValidator creates a validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks the envelope payload against the descriptor's field set,
// honoring default values for optional fields. All mismatches are collected
// into the result; the caller treats any invalid result as a terminal,
// non-retryable outcome for the publish attempt.
func (v *Validator) Validate(envelope contracts.EventEnvelope, descriptor *Descriptor) (*Result, error) {
	if descriptor == nil || descriptor.Definition == nil {
		return nil, fmt.Errorf("schema: descriptor with definition is required")
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return nil, &contracts.PoisonMessageError{
			EventID: envelope.EventID,
			Reason:  "payload is not a JSON object",
			Err:     err,
		}
	}

	result := &Result{Valid: true}
	v.validateFields("", payload, descriptor.Definition.Fields, result)
	return result, nil
}

// Err converts an invalid result into the schema validation error for the
// given descriptor. Returns nil for valid results.
func (r *Result) Err(subject string, version int) error {
	if r.Valid {
		return nil
	}

	reasons := make([]string, len(r.Reasons))
	for i, reason := range r.Reasons {
		reasons[i] = reason.Error()
	}
	return &contracts.SchemaValidationError{
		Subject: subject,
		Version: fmt.Sprintf("%d", version),
		Reasons: reasons,
	}
}

func (v *Validator) validateFields(path string, data map[string]interface{}, fields []*Field, result *Result) {
	for _, field := range fields {
		fieldPath := joinPath(path, field.Name)
		value, present := data[field.Name]

		if !present || value == nil {
			if field.Required() {
				result.Valid = false
				result.Reasons = append(result.Reasons, ValidationError{
					Field:   fieldPath,
					Message: "required field is missing",
					Code:    CodeRequiredMissing,
				})
			}
			// Optional or defaulted fields may be absent.
			continue
		}

		v.validateValue(fieldPath, value, field, result)
	}
}

func (v *Validator) validateValue(path string, value interface{}, field *Field, result *Result) {
	if field.Type != "" && !matchesType(value, field.Type) {
		result.Valid = false
		result.Reasons = append(result.Reasons, ValidationError{
			Field:   path,
			Message: fmt.Sprintf("expected type %s, got %T", field.Type, value),
			Code:    CodeTypeMismatch,
		})
		return
	}

	if len(field.Enum) > 0 {
		if str, ok := value.(string); ok && !containsString(field.Enum, str) {
			result.Valid = false
			result.Reasons = append(result.Reasons, ValidationError{
				Field:   path,
				Message: fmt.Sprintf("value %q is not in allowed values %v", str, field.Enum),
				Code:    CodeEnumViolation,
			})
		}
	}

	if obj, ok := value.(map[string]interface{}); ok && len(field.Fields) > 0 {
		v.validateFields(path, obj, field.Fields, result)
	}

	if arr, ok := value.([]interface{}); ok && len(field.Fields) > 0 {
		for i, item := range arr {
			if obj, ok := item.(map[string]interface{}); ok {
				v.validateFields(fmt.Sprintf("%s[%d]", path, i), obj, field.Fields, result)
			}
		}
	}
}

// matchesType checks a decoded JSON value against a schema type name.
func matchesType(value interface{}, expected string) bool {
	switch expected {
	case "string":
		_, ok := value.(string)
		return ok
	case "number", "double", "float":
		_, ok := value.(float64)
		return ok
	case "integer", "int", "long":
		if f, ok := value.(float64); ok {
			return f == float64(int64(f))
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "object", "record":
		_, ok := value.(map[string]interface{})
		return ok
	case "array":
		_, ok := value.([]interface{})
		return ok
	default:
		// Unknown type names pass; the registry owns the vocabulary.
		return true
	}
}

func containsString(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}

func joinPath(parent, field string) string {
	if parent == "" {
		return field
	}
	return parent + "." + field
}
