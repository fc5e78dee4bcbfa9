package tables

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"gorm.io/gorm"
)

var ErrMigrationRequiresDefault = errors.New("adding a required field to a populated table requires a default value")

// MigrationError reports a failed DDL batch. The batch is rolled back as a
// whole, partial schema states are never persisted.
type MigrationError struct {
	Reason          error
	FailedOperation string
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration failed at '%v': %v", e.FailedOperation, e.Reason)
}

func (e *MigrationError) Unwrap() error {
	return e.Reason
}

type MigrationResult struct {
	Table   string   `json:"table"`
	Applied []string `json:"applied"`
}

// Migrator applies schema diffs as DDL inside a single transaction.
// Migrations are serialized per table so DDL on the same table never
// interleaves.
type Migrator struct {
	db *gorm.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewMigrator(db *gorm.DB) *Migrator {
	return &Migrator{db: db, locks: make(map[string]*sync.Mutex)}
}

func (m *Migrator) tableLock(table string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[table]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[table] = lock
	}
	return lock
}

func (m *Migrator) postgres() bool {
	return m.db.Dialector.Name() == "postgres"
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

func (m *Migrator) columnType(col ColumnSpec) string {
	if m.postgres() {
		return col.SQLType
	}
	// sqlite has no interval or uuid affinity
	switch col.SQLType {
	case "INTERVAL", "UUID":
		return "TEXT"
	default:
		return col.SQLType
	}
}

// Plan produces the operations reconciling the stored schema with the newly
// declared one. A nil old schema means the table has never been deployed.
func Plan(old *TableSchema, new TableSchema) []Operation {
	if old == nil {
		return []Operation{CreateTable{Schema: new}}
	}
	return Diff(*old, new)
}

// Apply runs the operation batch in one transaction. Any failure rolls back
// every operation, leaving the prior schema and data untouched.
func (m *Migrator) Apply(ctx context.Context, table string, ops []Operation) (MigrationResult, error) {
	lock := m.tableLock(table)
	lock.Lock()
	defer lock.Unlock()

	result := MigrationResult{Table: table, Applied: make([]string, 0, len(ops))}

	err := m.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		for _, op := range ops {
			if err := m.applyOne(txn, table, op); err != nil {
				return &MigrationError{Reason: err, FailedOperation: op.Describe()}
			}
			result.Applied = append(result.Applied, op.Describe())
		}
		return nil
	})

	if err != nil {
		slog.Error("migration rolled back", "table", table, "error", err)
		var merr *MigrationError
		if errors.As(err, &merr) {
			return MigrationResult{Table: table}, merr
		}
		return MigrationResult{Table: table}, &MigrationError{Reason: err, FailedOperation: "transaction"}
	}

	slog.Info("migration applied", "table", table, "operations", len(result.Applied))
	return result, nil
}

func (m *Migrator) applyOne(txn *gorm.DB, table string, op Operation) error {
	switch op := op.(type) {
	case CreateTable:
		return m.createTable(txn, op.Schema)
	case AddColumn:
		return m.addColumn(txn, table, op.Field)
	case AlterColumn:
		return m.alterColumn(txn, table, op.Old, op.New)
	case DropColumn:
		return m.dropColumn(txn, table, op.Name)
	case AddIndex:
		return m.createIndex(txn, table, op.Field.Name, false)
	case DropIndex:
		return exec(txn, fmt.Sprintf("DROP INDEX IF EXISTS %v", quoteIdent(IndexName(table, op.Field))))
	case ReplaceCheck:
		return m.replaceCheck(txn, table, op.Field)
	default:
		return fmt.Errorf("unsupported migration operation %T", op)
	}
}

func exec(txn *gorm.DB, sql string) error {
	if err := txn.Exec(sql).Error; err != nil {
		return fmt.Errorf("%v: %w", sql, err)
	}
	return nil
}

func (m *Migrator) createTable(txn *gorm.DB, schema TableSchema) error {
	if err := ValidateSchema(schema); err != nil {
		return err
	}

	idType := "UUID"
	if !m.postgres() {
		idType = "TEXT"
	}

	defs := []string{fmt.Sprintf("%v %v PRIMARY KEY", quoteIdent("id"), idType)}

	for _, field := range schema.Fields {
		col, err := Resolve(field)
		if err != nil {
			return err
		}
		if col.Virtual {
			continue
		}
		defs = append(defs, m.columnDef(schema.Name, field, col))
	}

	sql := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %v (%v)", quoteIdent(schema.Name), strings.Join(defs, ", "))
	if err := exec(txn, sql); err != nil {
		return err
	}

	for _, field := range schema.Fields {
		col, err := Resolve(field)
		if err != nil {
			return err
		}
		if col.Virtual {
			continue
		}
		if col.Unique {
			if err := m.createIndex(txn, schema.Name, field.Name, true); err != nil {
				return err
			}
		}
		if col.Indexed {
			if err := m.createIndex(txn, schema.Name, field.Name, false); err != nil {
				return err
			}
		}
	}

	return nil
}

func (m *Migrator) columnDef(table string, field FieldSpec, col ColumnSpec) string {
	parts := []string{quoteIdent(col.Name), m.columnType(col)}
	if col.NotNull {
		parts = append(parts, "NOT NULL")
	}
	if col.Default != "" {
		parts = append(parts, "DEFAULT "+col.Default)
	}
	if col.Check != "" {
		parts = append(parts, fmt.Sprintf("CONSTRAINT %v CHECK (%v)", quoteIdent(CheckConstraintName(table, field.Name)), col.Check))
	}
	if col.References != "" {
		parts = append(parts, fmt.Sprintf("REFERENCES %v (%v)", quoteIdent(col.References), quoteIdent("id")))
	}
	return strings.Join(parts, " ")
}

func rowCount(txn *gorm.DB, table string) (int64, error) {
	var count int64
	if err := txn.Raw(fmt.Sprintf("SELECT COUNT(*) FROM %v", quoteIdent(table))).Scan(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (m *Migrator) addColumn(txn *gorm.DB, table string, field FieldSpec) error {
	col, err := Resolve(field)
	if err != nil {
		return err
	}
	if col.Virtual {
		return nil
	}

	count, err := rowCount(txn, table)
	if err != nil {
		return err
	}

	if col.NotNull && col.Default == "" && count > 0 {
		return ErrMigrationRequiresDefault
	}

	parts := []string{fmt.Sprintf("ALTER TABLE %v ADD COLUMN %v %v", quoteIdent(table), quoteIdent(col.Name), m.columnType(col))}
	if col.Default != "" {
		parts = append(parts, "DEFAULT "+col.Default)
	}
	// sqlite rejects ADD COLUMN NOT NULL without a default even on an empty
	// table; required stays enforced at the record layer there.
	if col.NotNull && (col.Default != "" || m.postgres()) {
		parts = append(parts, "NOT NULL")
	}
	if col.References != "" && m.postgres() {
		parts = append(parts, fmt.Sprintf("REFERENCES %v (%v)", quoteIdent(col.References), quoteIdent("id")))
	}
	if err := exec(txn, strings.Join(parts, " ")); err != nil {
		return err
	}

	// Both dialects backfill the declared default into existing rows on ADD
	// COLUMN, the explicit update keeps the guarantee independent of that.
	if col.Default != "" && count > 0 {
		backfill := fmt.Sprintf("UPDATE %v SET %v = %v WHERE %v IS NULL", quoteIdent(table), quoteIdent(col.Name), col.Default, quoteIdent(col.Name))
		if err := exec(txn, backfill); err != nil {
			return err
		}
	}

	if col.Check != "" && m.postgres() {
		if err := m.replaceCheck(txn, table, field); err != nil {
			return err
		}
	}

	if col.Unique {
		if err := m.createIndex(txn, table, field.Name, true); err != nil {
			return err
		}
	}
	if col.Indexed {
		if err := m.createIndex(txn, table, field.Name, false); err != nil {
			return err
		}
	}

	return nil
}

func (m *Migrator) alterColumn(txn *gorm.DB, table string, old, new FieldSpec) error {
	col, err := Resolve(new)
	if err != nil {
		return err
	}
	if col.Virtual {
		return nil
	}

	if new.Required && !old.Required && col.Default == "" {
		var nulls int64
		q := fmt.Sprintf("SELECT COUNT(*) FROM %v WHERE %v IS NULL", quoteIdent(table), quoteIdent(col.Name))
		if err := txn.Raw(q).Scan(&nulls).Error; err != nil {
			return err
		}
		if nulls > 0 {
			return ErrMigrationRequiresDefault
		}
	}

	// Backfill before tightening so NOT NULL never sees a null row.
	if col.Default != "" {
		backfill := fmt.Sprintf("UPDATE %v SET %v = %v WHERE %v IS NULL", quoteIdent(table), quoteIdent(col.Name), col.Default, quoteIdent(col.Name))
		if err := exec(txn, backfill); err != nil {
			return err
		}
	}

	if m.postgres() {
		alter := fmt.Sprintf("ALTER TABLE %v ALTER COLUMN %v", quoteIdent(table), quoteIdent(col.Name))
		if new.Default != old.Default {
			if col.Default != "" {
				if err := exec(txn, fmt.Sprintf("%v SET DEFAULT %v", alter, col.Default)); err != nil {
					return err
				}
			} else if err := exec(txn, alter+" DROP DEFAULT"); err != nil {
				return err
			}
		}
		if new.Required != old.Required {
			action := " DROP NOT NULL"
			if new.Required {
				action = " SET NOT NULL"
			}
			if err := exec(txn, alter+action); err != nil {
				return err
			}
		}
	}

	if new.Unique && !old.Unique {
		if err := m.createIndex(txn, table, new.Name, true); err != nil {
			return err
		}
	}
	if !new.Unique && old.Unique {
		if err := exec(txn, fmt.Sprintf("DROP INDEX IF EXISTS %v", quoteIdent(UniqueConstraintName(table, new.Name)))); err != nil {
			return err
		}
	}

	return nil
}

func (m *Migrator) dropColumn(txn *gorm.DB, table, name string) error {
	for _, idx := range []string{IndexName(table, name), UniqueConstraintName(table, name)} {
		if err := exec(txn, fmt.Sprintf("DROP INDEX IF EXISTS %v", quoteIdent(idx))); err != nil {
			return err
		}
	}
	return exec(txn, fmt.Sprintf("ALTER TABLE %v DROP COLUMN %v", quoteIdent(table), quoteIdent(name)))
}

func (m *Migrator) createIndex(txn *gorm.DB, table, field string, unique bool) error {
	name := IndexName(table, field)
	kind := "INDEX"
	if unique {
		name = UniqueConstraintName(table, field)
		kind = "UNIQUE INDEX"
	}
	sql := fmt.Sprintf("CREATE %v IF NOT EXISTS %v ON %v (%v)", kind, quoteIdent(name), quoteIdent(table), quoteIdent(field))
	return exec(txn, sql)
}

// replaceCheck drops and recreates the status check constraint. The value
// set is additionally enforced at the record layer, which covers dialects
// that cannot add table constraints after creation.
func (m *Migrator) replaceCheck(txn *gorm.DB, table string, field FieldSpec) error {
	if !m.postgres() {
		return nil
	}

	name := CheckConstraintName(table, field.Name)
	if err := exec(txn, fmt.Sprintf("ALTER TABLE %v DROP CONSTRAINT IF EXISTS %v", quoteIdent(table), quoteIdent(name))); err != nil {
		return err
	}
	return exec(txn, fmt.Sprintf("ALTER TABLE %v ADD CONSTRAINT %v CHECK (%v)", quoteIdent(table), quoteIdent(name), statusCheckExpr(field)))
}
