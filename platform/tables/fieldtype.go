package tables

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

type FieldType string

// The set of field types is closed: adding a type requires a new resolver
// case below, so an unhandled type is a compile-time visible change.
const (
	TypeInteger        FieldType = "integer"
	TypeDecimal        FieldType = "decimal"
	TypeSingleLineText FieldType = "single-line-text"
	TypeLongText       FieldType = "long-text"
	TypeEmail          FieldType = "email"
	TypeURL            FieldType = "url"
	TypeStatus         FieldType = "status"
	TypeDuration       FieldType = "duration"
	TypeUser           FieldType = "user"
	TypeCreatedBy      FieldType = "created-by"
	TypeRelationship   FieldType = "relationship"
	TypeLookup         FieldType = "lookup"
)

var (
	ErrUnknownFieldType = errors.New("unknown field type")
	ErrInvalidFieldSpec = errors.New("invalid field spec")
)

// StatusOption defines one allowed value of a status field. Label and Color
// are presentation only and are not enforced at the data layer.
type StatusOption struct {
	Value string `json:"value" yaml:"value"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
	Color string `json:"color,omitempty" yaml:"color,omitempty"`
}

type FieldSpec struct {
	Name     string    `json:"name" yaml:"name"`
	Type     FieldType `json:"type" yaml:"type"`
	Required bool      `json:"required,omitempty" yaml:"required,omitempty"`
	Unique   bool      `json:"unique,omitempty" yaml:"unique,omitempty"`
	Indexed  bool      `json:"indexed,omitempty" yaml:"indexed,omitempty"`
	Default  string    `json:"default,omitempty" yaml:"default,omitempty"`

	Options []StatusOption `json:"options,omitempty" yaml:"options,omitempty"`

	// Target table for relationship fields, "table.field" for lookup fields.
	Target string `json:"target,omitempty" yaml:"target,omitempty"`

	// Roles allowed to read/write the field, empty means every role.
	ReadRoles  []string `json:"readRoles,omitempty" yaml:"readRoles,omitempty"`
	WriteRoles []string `json:"writeRoles,omitempty" yaml:"writeRoles,omitempty"`
}

type TableSchema struct {
	Name   string      `json:"name" yaml:"name"`
	Fields []FieldSpec `json:"fields" yaml:"fields"`
}

func (s *TableSchema) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// ColumnSpec is the resolved column definition for a field. SQLType uses
// postgres type names; the executor maps them for other dialects.
type ColumnSpec struct {
	Name    string
	SQLType string
	NotNull bool
	Unique  bool
	Indexed bool

	// Rendered sql literal, empty when the field has no default.
	Default string

	// Check expression enforcing the status value set, empty otherwise.
	Check string

	// Referenced table for user/created-by/relationship fields.
	References string

	// Lookup fields are computed at read time and produce no column.
	// LookupTable/LookupField name the source the read joins against.
	Virtual     bool
	LookupTable string
	LookupField string
}

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func validIdentifier(name string) bool {
	return len(name) > 0 && len(name) <= 63 && identPattern.MatchString(name)
}

func quoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// UsersTable is the referenced table for user and created-by fields.
const UsersTable = "_sovrium_auth_users"

// Resolve maps a declarative field spec onto a column definition. It is a
// pure mapping with no side effects.
func Resolve(spec FieldSpec) (ColumnSpec, error) {
	if !validIdentifier(spec.Name) {
		return ColumnSpec{}, fmt.Errorf("%w: field name '%v' is not a valid sql identifier", ErrInvalidFieldSpec, spec.Name)
	}

	col := ColumnSpec{
		Name:    spec.Name,
		NotNull: spec.Required,
		Unique:  spec.Unique,
		Indexed: spec.Indexed,
	}

	literalDefault := func() string {
		if spec.Default == "" {
			return ""
		}
		return quoteLiteral(spec.Default)
	}

	switch spec.Type {
	case TypeInteger:
		col.SQLType = "INTEGER"
		col.Default = spec.Default
	case TypeDecimal:
		col.SQLType = "DECIMAL"
		col.Default = spec.Default
	case TypeSingleLineText, TypeEmail, TypeURL:
		col.SQLType = "VARCHAR(255)"
		col.Default = literalDefault()
	case TypeLongText:
		col.SQLType = "TEXT"
		col.Default = literalDefault()
	case TypeDuration:
		col.SQLType = "INTERVAL"
		col.Default = literalDefault()
	case TypeStatus:
		if len(spec.Options) == 0 {
			return ColumnSpec{}, fmt.Errorf("%w: status field '%v' requires options", ErrInvalidFieldSpec, spec.Name)
		}
		col.SQLType = "VARCHAR(64)"
		col.Default = literalDefault()
		col.Check = statusCheckExpr(spec)
	case TypeUser, TypeCreatedBy:
		col.SQLType = "UUID"
		col.References = UsersTable
	case TypeRelationship:
		if !validIdentifier(spec.Target) {
			return ColumnSpec{}, fmt.Errorf("%w: relationship field '%v' requires a valid target table", ErrInvalidFieldSpec, spec.Name)
		}
		col.SQLType = "UUID"
		col.References = spec.Target
	case TypeLookup:
		table, field, found := strings.Cut(spec.Target, ".")
		if !found || !validIdentifier(table) || !validIdentifier(field) {
			return ColumnSpec{}, fmt.Errorf("%w: lookup field '%v' requires a 'table.field' target", ErrInvalidFieldSpec, spec.Name)
		}
		col.Virtual = true
		col.LookupTable = table
		col.LookupField = field
	default:
		return ColumnSpec{}, fmt.Errorf("%w: '%v'", ErrUnknownFieldType, spec.Type)
	}

	if spec.Type != TypeStatus && len(spec.Options) > 0 {
		return ColumnSpec{}, fmt.Errorf("%w: options are only valid for status fields, found on '%v'", ErrInvalidFieldSpec, spec.Name)
	}

	return col, nil
}

func statusCheckExpr(spec FieldSpec) string {
	values := make([]string, 0, len(spec.Options))
	for _, opt := range spec.Options {
		values = append(values, quoteLiteral(opt.Value))
	}
	return fmt.Sprintf("%q IN (%v)", spec.Name, strings.Join(values, ", "))
}

// lookupSourceColumn finds the column a lookup field follows: the first
// sibling field referencing the lookup's source table.
func lookupSourceColumn(schema TableSchema, table string) string {
	for _, field := range schema.Fields {
		col, err := Resolve(field)
		if err != nil || col.Virtual {
			continue
		}
		if col.References == table {
			return field.Name
		}
	}
	return ""
}

// ValidateSchema checks table level invariants: valid identifiers, unique
// field names, resolvable field types, lookups anchored to a relationship.
func ValidateSchema(schema TableSchema) error {
	if !validIdentifier(schema.Name) {
		return fmt.Errorf("%w: table name '%v' is not a valid sql identifier", ErrInvalidFieldSpec, schema.Name)
	}

	seen := make(map[string]struct{}, len(schema.Fields))
	for _, field := range schema.Fields {
		if _, ok := seen[field.Name]; ok {
			return fmt.Errorf("%w: duplicate field name '%v'", ErrInvalidFieldSpec, field.Name)
		}
		seen[field.Name] = struct{}{}

		col, err := Resolve(field)
		if err != nil {
			return err
		}

		if col.Virtual && lookupSourceColumn(schema, col.LookupTable) == "" {
			return fmt.Errorf("%w: lookup field '%v' has no sibling field referencing table '%v'",
				ErrInvalidFieldSpec, field.Name, col.LookupTable)
		}
	}

	return nil
}
