package tables

import "fmt"

type Operation interface {
	Describe() string
}

type CreateTable struct {
	Schema TableSchema
}

func (op CreateTable) Describe() string {
	return fmt.Sprintf("create table %v", op.Schema.Name)
}

type AddColumn struct {
	Field FieldSpec
}

func (op AddColumn) Describe() string {
	return fmt.Sprintf("add column %v", op.Field.Name)
}

type AlterColumn struct {
	Old FieldSpec
	New FieldSpec
}

func (op AlterColumn) Describe() string {
	return fmt.Sprintf("alter column %v", op.New.Name)
}

type DropColumn struct {
	Name string
}

func (op DropColumn) Describe() string {
	return fmt.Sprintf("drop column %v", op.Name)
}

type AddIndex struct {
	Field FieldSpec
}

func (op AddIndex) Describe() string {
	return fmt.Sprintf("add index on %v", op.Field.Name)
}

type DropIndex struct {
	Field string
}

func (op DropIndex) Describe() string {
	return fmt.Sprintf("drop index on %v", op.Field)
}

// ReplaceCheck regenerates the check constraint of a status field whose
// options changed. The old check is dropped and recreated, never layered.
type ReplaceCheck struct {
	Field FieldSpec
}

func (op ReplaceCheck) Describe() string {
	return fmt.Sprintf("replace check on %v", op.Field.Name)
}

func statusOptionsEqual(a, b []StatusOption) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		// Labels and colors are presentation only, the data layer cares
		// about the value set.
		if a[i].Value != b[i].Value {
			return false
		}
	}
	return true
}

func columnChanged(old, new FieldSpec) bool {
	return old.Type != new.Type ||
		old.Required != new.Required ||
		old.Unique != new.Unique ||
		old.Default != new.Default
}

// Diff computes the ordered operations reconciling the previously applied
// schema with a newly submitted one. Additions come before constraint
// tightening so that backfill happens before NOT NULL applies, drops come
// last. Diffing identical schemas yields an empty list.
func Diff(old, new TableSchema) []Operation {
	var adds, alters, indexes, checks, drops []Operation

	for _, field := range new.Fields {
		prev, existed := old.Field(field.Name)
		if !existed {
			adds = append(adds, AddColumn{Field: field})
			continue
		}

		if columnChanged(prev, field) {
			alters = append(alters, AlterColumn{Old: prev, New: field})
		}
		if field.Indexed && !prev.Indexed {
			indexes = append(indexes, AddIndex{Field: field})
		}
		if !field.Indexed && prev.Indexed {
			indexes = append(indexes, DropIndex{Field: field.Name})
		}
		if field.Type == TypeStatus && !statusOptionsEqual(prev.Options, field.Options) {
			checks = append(checks, ReplaceCheck{Field: field})
		}
	}

	for _, field := range old.Fields {
		if _, kept := new.Field(field.Name); !kept {
			drops = append(drops, DropColumn{Name: field.Name})
		}
	}

	ops := make([]Operation, 0, len(adds)+len(indexes)+len(checks)+len(alters)+len(drops))
	ops = append(ops, adds...)
	ops = append(ops, indexes...)
	ops = append(ops, checks...)
	ops = append(ops, alters...)
	ops = append(ops, drops...)
	return ops
}
