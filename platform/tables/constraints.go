package tables

import "fmt"

// Constraint and index names are deterministic functions of table and field
// so that re-running a migration against an already migrated schema is a
// no-op rather than a duplicate-constraint error.

func UniqueConstraintName(table, field string) string {
	return fmt.Sprintf("%v_%v_unique", table, field)
}

func IndexName(table, field string) string {
	return fmt.Sprintf("idx_%v_%v", table, field)
}

func CheckConstraintName(table, field string) string {
	return fmt.Sprintf("%v_%v_check", table, field)
}
