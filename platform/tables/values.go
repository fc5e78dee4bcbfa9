package tables

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
)

// FieldError is the machine readable validation failure reported per batch
// item and on single record writes.
type FieldError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *FieldError) Error() string {
	return e.Message
}

func fieldError(code, field, format string, args ...interface{}) *FieldError {
	return &FieldError{Code: code, Field: field, Message: fmt.Sprintf(format, args...)}
}

const (
	CodeRequired      = "required"
	CodeUnknownField  = "unknown_field"
	CodeReadonly      = "readonly_field"
	CodeInvalidType   = "invalid_type"
	CodeInvalidEmail  = "invalid_email"
	CodeInvalidURL    = "invalid_url"
	CodeInvalidOption = "invalid_option"
)

func validateValue(field FieldSpec, value interface{}) *FieldError {
	if value == nil {
		return nil
	}

	switch field.Type {
	case TypeInteger:
		switch v := value.(type) {
		case float64:
			if v != float64(int64(v)) {
				return fieldError(CodeInvalidType, field.Name, "field '%v' must be an integer", field.Name)
			}
		case int, int64:
		case json.Number:
			if _, err := strconv.ParseInt(v.String(), 10, 64); err != nil {
				return fieldError(CodeInvalidType, field.Name, "field '%v' must be an integer", field.Name)
			}
		default:
			return fieldError(CodeInvalidType, field.Name, "field '%v' must be an integer", field.Name)
		}
	case TypeDecimal:
		switch value.(type) {
		case float64, int, int64, json.Number:
		default:
			return fieldError(CodeInvalidType, field.Name, "field '%v' must be a number", field.Name)
		}
	case TypeEmail:
		s, ok := value.(string)
		if !ok {
			return fieldError(CodeInvalidType, field.Name, "field '%v' must be a string", field.Name)
		}
		if _, err := mail.ParseAddress(s); err != nil {
			return fieldError(CodeInvalidEmail, field.Name, "field '%v' must be a valid email address", field.Name)
		}
	case TypeURL:
		s, ok := value.(string)
		if !ok {
			return fieldError(CodeInvalidType, field.Name, "field '%v' must be a string", field.Name)
		}
		u, err := url.Parse(s)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fieldError(CodeInvalidURL, field.Name, "field '%v' must be a valid url", field.Name)
		}
	case TypeStatus:
		s, ok := value.(string)
		if !ok {
			return fieldError(CodeInvalidType, field.Name, "field '%v' must be a string", field.Name)
		}
		for _, opt := range field.Options {
			if opt.Value == s {
				return nil
			}
		}
		values := make([]string, 0, len(field.Options))
		for _, opt := range field.Options {
			values = append(values, opt.Value)
		}
		return fieldError(CodeInvalidOption, field.Name, "value '%v' for field '%v' violates check constraint, allowed values: %v", s, field.Name, strings.Join(values, ", "))
	case TypeSingleLineText, TypeLongText, TypeDuration, TypeUser, TypeRelationship:
		if _, ok := value.(string); !ok {
			return fieldError(CodeInvalidType, field.Name, "field '%v' must be a string", field.Name)
		}
	}

	return nil
}

// ValidateRecord checks submitted values against the table schema. With
// partial set (PATCH semantics) required fields may be absent but not null.
func ValidateRecord(schema TableSchema, values map[string]interface{}, partial bool) *FieldError {
	for name := range values {
		field, ok := schema.Field(name)
		if !ok {
			return fieldError(CodeUnknownField, name, "table '%v' has no field '%v'", schema.Name, name)
		}
		if field.Type == TypeCreatedBy || field.Type == TypeLookup {
			return fieldError(CodeReadonly, name, "field '%v' cannot be written", name)
		}
	}

	for _, field := range schema.Fields {
		value, present := values[field.Name]

		if present {
			if value == nil && field.Required {
				return fieldError(CodeRequired, field.Name, "null value in field '%v' violates not-null constraint", field.Name)
			}
			if err := validateValue(field, value); err != nil {
				return err
			}
			continue
		}

		if !partial && field.Required && field.Default == "" && field.Type != TypeCreatedBy {
			return fieldError(CodeRequired, field.Name, "field '%v' is required", field.Name)
		}
	}

	return nil
}
