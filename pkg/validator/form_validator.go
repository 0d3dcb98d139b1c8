package validator

import (
	"fmt"
	"strings"

	"github.com/rpattn/datalab/internal/domain"
)

// FormValidator checks entered form records against the form's field definitions.
type FormValidator struct{}

// NewFormValidator creates a new form validator
func NewFormValidator() *FormValidator {
	return &FormValidator{}
}

// ValidationError represents a validation error
type ValidationError struct {
	Row     int          `json:"row"`
	Field   string       `json:"field"`
	Message string       `json:"message"`
	Value   domain.Value `json:"value,omitempty"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Message)
}

// ValidationResult represents the result of validation
type ValidationResult struct {
	IsValid  bool              `json:"is_valid"`
	Errors   []ValidationError `json:"errors"`
	Warnings []ValidationError `json:"warnings"`
}

// Err joins the result's errors, or returns nil for a valid result.
func (r ValidationResult) Err() error {
	if r.IsValid {
		return nil
	}
	messages := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		messages = append(messages, e.Error())
	}
	return fmt.Errorf("invalid form data: %s", strings.Join(messages, "; "))
}

// ValidateForm validates every record of form.Data. Primary keys must be
// present and unique; undeclared properties are errors; values that do not
// fit their field type are errors, list values outside the options are warnings.
func (fv *FormValidator) ValidateForm(form domain.Form) ValidationResult {
	result := ValidationResult{
		IsValid:  true,
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}
	fail := func(row int, field, message string, value domain.Value) {
		result.IsValid = false
		result.Errors = append(result.Errors, ValidationError{Row: row, Field: field, Message: message, Value: value})
	}

	if _, ok := form.Field(form.Primary); !ok && form.Primary != "" {
		fail(-1, form.Primary, fmt.Sprintf("primary field '%s' is not a form field", form.Primary), domain.Null())
		return result
	}

	subColumns := make(map[string]struct{})
	for _, field := range form.Fields {
		if field.Type == domain.FieldTypeCheckboxGroup {
			for _, option := range field.Columns {
				subColumns[domain.CheckboxColumn(field.Name, option)] = struct{}{}
			}
		}
	}

	seen := make(map[string]int)
	for row, record := range form.Data {
		if form.Primary != "" {
			key, ok := record.Get(form.Primary).Key()
			if !ok {
				fail(row, form.Primary, fmt.Sprintf("primary field '%s' is missing", form.Primary), domain.Null())
			} else if first, dup := seen[key]; dup {
				fail(row, form.Primary, fmt.Sprintf("primary key '%s' already used by row %d", key, first), record.Get(form.Primary))
			} else {
				seen[key] = row
			}
		}

		for _, field := range form.Fields {
			value := record.Get(field.Name)
			if value.IsNull() {
				continue
			}
			if err := fv.validateFieldType(field, value); err != nil {
				fail(row, field.Name, err.Error(), value)
				continue
			}
			if warning := fv.checkOptions(field, value); warning != "" {
				result.Warnings = append(result.Warnings, ValidationError{Row: row, Field: field.Name, Message: warning, Value: value})
			}
		}

		// Check for extra properties not defined in the form
		for property, value := range record {
			if _, ok := form.Field(property); ok {
				continue
			}
			if _, ok := subColumns[property]; ok {
				if _, isBool := value.Bool(); !isBool && !value.IsNull() {
					fail(row, property, fmt.Sprintf("checkbox option '%s' must be a boolean", property), value)
				}
				continue
			}
			fail(row, property, fmt.Sprintf("property '%s' is not defined in form", property), value)
		}
	}

	return result
}

// validateFieldType validates the type of a field value
func (fv *FormValidator) validateFieldType(field domain.FormField, value domain.Value) error {
	switch field.Type.Normalize() {
	case domain.FieldTypeNumber:
		if _, ok := value.Float(); !ok {
			return fmt.Errorf("field '%s' must be a number, got %s", field.Name, value.Kind())
		}
	case domain.FieldTypeDate:
		if _, ok := value.Time(); !ok {
			return fmt.Errorf("field '%s' must be a date, got %q", field.Name, value.Text())
		}
	case domain.FieldTypeCheckbox:
		if _, ok := value.Bool(); !ok {
			return fmt.Errorf("field '%s' must be a boolean, got %s", field.Name, value.Kind())
		}
	case domain.FieldTypeCheckboxGroup:
		for _, member := range value.Members() {
			if !containsString(field.Columns, member.Text()) {
				return fmt.Errorf("field '%s' has no option '%s'", field.Name, member.Text())
			}
		}
	case domain.FieldTypeText:
		if value.Kind() == domain.KindList {
			return fmt.Errorf("field '%s' must be a single value, got a list", field.Name)
		}
	}
	return nil
}

// checkOptions reports list members that match none of the field's options.
func (fv *FormValidator) checkOptions(field domain.FormField, value domain.Value) string {
	if field.Type.Normalize() != domain.FieldTypeList || len(field.Options) == 0 {
		return ""
	}
	for _, member := range value.Members() {
		known := false
		for _, option := range field.Options {
			if option.Value.Equal(member) || option.Value.Text() == member.Text() {
				known = true
				break
			}
		}
		if !known {
			return fmt.Sprintf("field '%s' value '%s' is not one of its options", field.Name, member.Text())
		}
	}
	return ""
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
