package tables_test

import (
	"testing"

	"sovrium/platform/tables"

	"github.com/stretchr/testify/assert"
)

func recordSchema() tables.TableSchema {
	return tables.TableSchema{
		Name: "contacts",
		Fields: []tables.FieldSpec{
			{Name: "name", Type: tables.TypeSingleLineText, Required: true},
			{Name: "email", Type: tables.TypeEmail},
			{Name: "homepage", Type: tables.TypeURL},
			{Name: "age", Type: tables.TypeInteger},
			{Name: "state", Type: tables.TypeStatus, Options: []tables.StatusOption{
				{Value: "active"}, {Value: "inactive"},
			}},
			{Name: "creator", Type: tables.TypeCreatedBy},
			{Name: "creator_name", Type: tables.TypeLookup, Target: "_sovrium_auth_users.name"},
		},
	}
}

func assertCode(t *testing.T, ferr *tables.FieldError, code, field string) {
	t.Helper()
	if assert.NotNil(t, ferr) {
		assert.Equal(t, code, ferr.Code)
		assert.Equal(t, field, ferr.Field)
	}
}

func TestValidateRecordAcceptsValidValues(t *testing.T) {
	values := map[string]interface{}{
		"name":     "ada",
		"email":    "ada@mail.com",
		"homepage": "https://example.com/ada",
		"age":      float64(36),
		"state":    "active",
	}
	assert.Nil(t, tables.ValidateRecord(recordSchema(), values, false))
}

func TestValidateRecordRequiredFields(t *testing.T) {
	ferr := tables.ValidateRecord(recordSchema(), map[string]interface{}{}, false)
	assertCode(t, ferr, tables.CodeRequired, "name")

	// Partial updates may omit required fields but not null them.
	assert.Nil(t, tables.ValidateRecord(recordSchema(), map[string]interface{}{"age": float64(1)}, true))

	ferr = tables.ValidateRecord(recordSchema(), map[string]interface{}{"name": nil}, true)
	assertCode(t, ferr, tables.CodeRequired, "name")

	// A declared default satisfies a required field on insert.
	schema := recordSchema()
	schema.Fields[0].Default = "anonymous"
	assert.Nil(t, tables.ValidateRecord(schema, map[string]interface{}{}, false))
}

func TestValidateRecordUnknownAndReadonlyFields(t *testing.T) {
	ferr := tables.ValidateRecord(recordSchema(), map[string]interface{}{"name": "ada", "bogus": 1}, false)
	assertCode(t, ferr, tables.CodeUnknownField, "bogus")

	// created-by and lookup fields are populated by the platform.
	ferr = tables.ValidateRecord(recordSchema(), map[string]interface{}{"name": "ada", "creator": "x"}, false)
	assertCode(t, ferr, tables.CodeReadonly, "creator")

	ferr = tables.ValidateRecord(recordSchema(), map[string]interface{}{"name": "ada", "creator_name": "x"}, false)
	assertCode(t, ferr, tables.CodeReadonly, "creator_name")
}

func TestValidateRecordValueTypes(t *testing.T) {
	base := map[string]interface{}{"name": "ada"}

	with := func(field string, value interface{}) map[string]interface{} {
		values := map[string]interface{}{}
		for k, v := range base {
			values[k] = v
		}
		values[field] = value
		return values
	}

	assertCode(t, tables.ValidateRecord(recordSchema(), with("email", "not-an-email"), false), tables.CodeInvalidEmail, "email")
	assertCode(t, tables.ValidateRecord(recordSchema(), with("homepage", "no-scheme"), false), tables.CodeInvalidURL, "homepage")
	assertCode(t, tables.ValidateRecord(recordSchema(), with("age", 1.5), false), tables.CodeInvalidType, "age")
	assertCode(t, tables.ValidateRecord(recordSchema(), with("age", "ten"), false), tables.CodeInvalidType, "age")
	assertCode(t, tables.ValidateRecord(recordSchema(), with("state", "archived"), false), tables.CodeInvalidOption, "state")
	assertCode(t, tables.ValidateRecord(recordSchema(), with("name", 42), false), tables.CodeInvalidType, "name")

	// Whole-valued floats are accepted for integers, json decodes numbers that way.
	assert.Nil(t, tables.ValidateRecord(recordSchema(), with("age", float64(30)), false))

	// Null clears optional fields.
	assert.Nil(t, tables.ValidateRecord(recordSchema(), with("email", nil), false))
}
