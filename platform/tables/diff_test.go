package tables_test

import (
	"testing"

	"sovrium/platform/tables"

	"github.com/stretchr/testify/assert"
)

func baseSchema() tables.TableSchema {
	return tables.TableSchema{
		Name: "documents",
		Fields: []tables.FieldSpec{
			{Name: "title", Type: tables.TypeSingleLineText, Required: true},
			{Name: "views", Type: tables.TypeInteger, Indexed: true},
			{Name: "state", Type: tables.TypeStatus, Options: []tables.StatusOption{
				{Value: "draft", Label: "Draft"},
				{Value: "published", Label: "Published"},
			}},
		},
	}
}

func TestDiffIdenticalSchemasIsEmpty(t *testing.T) {
	assert.Empty(t, tables.Diff(baseSchema(), baseSchema()))
}

func TestDiffAddAndDropColumns(t *testing.T) {
	old := baseSchema()
	new := baseSchema()
	new.Fields = new.Fields[:2] // drop state
	new.Fields = append(new.Fields, tables.FieldSpec{Name: "body", Type: tables.TypeLongText})

	ops := tables.Diff(old, new)
	assert.Len(t, ops, 2)

	add, ok := ops[0].(tables.AddColumn)
	assert.True(t, ok)
	assert.Equal(t, "body", add.Field.Name)

	// Drops are always ordered after additions.
	drop, ok := ops[1].(tables.DropColumn)
	assert.True(t, ok)
	assert.Equal(t, "state", drop.Name)
}

func TestDiffIndexChanges(t *testing.T) {
	old := baseSchema()
	new := baseSchema()
	new.Fields[0].Indexed = true  // title gains an index
	new.Fields[1].Indexed = false // views loses its index

	ops := tables.Diff(old, new)
	assert.Len(t, ops, 2)
	assert.IsType(t, tables.AddIndex{}, ops[0])
	assert.IsType(t, tables.DropIndex{}, ops[1])
}

func TestDiffAlterOnConstraintChange(t *testing.T) {
	old := baseSchema()
	new := baseSchema()
	new.Fields[1].Required = true
	new.Fields[1].Default = "0"

	ops := tables.Diff(old, new)
	assert.Len(t, ops, 1)

	alter, ok := ops[0].(tables.AlterColumn)
	assert.True(t, ok)
	assert.Equal(t, "views", alter.New.Name)
	assert.False(t, alter.Old.Required)
	assert.True(t, alter.New.Required)
}

func TestDiffStatusOptions(t *testing.T) {
	old := baseSchema()

	// Changing only labels leaves the value set intact, so no operation.
	relabeled := baseSchema()
	relabeled.Fields[2].Options[0].Label = "Work in progress"
	assert.Empty(t, tables.Diff(old, relabeled))

	// Changing the value set replaces the check constraint.
	extended := baseSchema()
	extended.Fields[2].Options = append(extended.Fields[2].Options, tables.StatusOption{Value: "archived"})

	ops := tables.Diff(old, extended)
	assert.Len(t, ops, 1)
	replace, ok := ops[0].(tables.ReplaceCheck)
	assert.True(t, ok)
	assert.Equal(t, "state", replace.Field.Name)
}

func TestDiffOrdersBackfillBeforeTightening(t *testing.T) {
	old := baseSchema()
	new := baseSchema()
	new.Fields = append(new.Fields, tables.FieldSpec{Name: "body", Type: tables.TypeLongText})
	new.Fields[0].Unique = true

	ops := tables.Diff(old, new)
	assert.Len(t, ops, 2)
	assert.IsType(t, tables.AddColumn{}, ops[0])
	assert.IsType(t, tables.AlterColumn{}, ops[1])
}

func TestPlan(t *testing.T) {
	schema := baseSchema()

	// No prior deployment creates the table outright.
	ops := tables.Plan(nil, schema)
	assert.Len(t, ops, 1)
	assert.IsType(t, tables.CreateTable{}, ops[0])

	// A prior deployment diffs instead.
	prior := baseSchema()
	assert.Empty(t, tables.Plan(&prior, schema))
}
