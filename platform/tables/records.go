package tables

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrBatchTooLarge  = errors.New("batch exceeds the maximum of 1000 records")
)

// MaxBatchSize caps batch create/delete payloads.
const MaxBatchSize = 1000

// IsUniqueViolation reports whether a raw sql error came from a unique
// constraint, which the api surfaces as a conflict.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value violates unique constraint") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

// IsCheckViolation reports whether a raw sql error came from a check
// constraint on a status column.
func IsCheckViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "violates check constraint") ||
		strings.Contains(msg, "CHECK constraint failed")
}

// RecordStore reads and writes rows of dynamically migrated tables. All
// statements are built from validated identifiers only, values are always
// bound parameters.
type RecordStore struct {
	db *gorm.DB
}

func NewRecordStore(db *gorm.DB) *RecordStore {
	return &RecordStore{db: db}
}

// selectParts builds the select list and join clauses for reads. Lookup
// fields resolve through a left join on the relationship column they follow,
// so an unset reference yields null instead of dropping the row.
func (s *RecordStore) selectParts(schema TableSchema) (selectList, joins string) {
	cols := []string{"t." + quoteIdent("id")}
	var joinClauses []string

	for _, field := range schema.Fields {
		col, err := Resolve(field)
		if err != nil {
			continue
		}

		if !col.Virtual {
			cols = append(cols, "t."+quoteIdent(field.Name))
			continue
		}

		source := lookupSourceColumn(schema, col.LookupTable)
		if source == "" {
			continue
		}
		alias := fmt.Sprintf("l%d", len(joinClauses))
		joinClauses = append(joinClauses, fmt.Sprintf("LEFT JOIN %v %v ON %v.%v = t.%v",
			quoteIdent(col.LookupTable), alias, alias, quoteIdent("id"), quoteIdent(source)))
		cols = append(cols, fmt.Sprintf("%v.%v AS %v", alias, quoteIdent(col.LookupField), quoteIdent(field.Name)))
	}

	return strings.Join(cols, ", "), strings.Join(joinClauses, " ")
}

// Insert writes one record. created-by fields are filled with the calling
// user, never from the submitted values.
func (s *RecordStore) Insert(ctx context.Context, schema TableSchema, id uuid.UUID, values map[string]interface{}, userId uuid.UUID) error {
	return s.insert(s.db.WithContext(ctx), schema, id, values, userId)
}

func (s *RecordStore) insert(txn *gorm.DB, schema TableSchema, id uuid.UUID, values map[string]interface{}, userId uuid.UUID) error {
	cols := []string{quoteIdent("id")}
	placeholders := []string{"?"}
	args := []interface{}{id.String()}

	for _, field := range schema.Fields {
		if field.Type == TypeLookup {
			continue
		}
		if field.Type == TypeCreatedBy {
			cols = append(cols, quoteIdent(field.Name))
			placeholders = append(placeholders, "?")
			args = append(args, userId.String())
			continue
		}
		value, ok := values[field.Name]
		if !ok {
			// Absent fields fall through to the column default.
			continue
		}
		cols = append(cols, quoteIdent(field.Name))
		placeholders = append(placeholders, "?")
		args = append(args, value)
	}

	sql := fmt.Sprintf("INSERT INTO %v (%v) VALUES (%v)",
		quoteIdent(schema.Name), strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	return txn.Exec(sql, args...).Error
}

func (s *RecordStore) Get(ctx context.Context, schema TableSchema, id uuid.UUID) (map[string]interface{}, error) {
	selectList, joins := s.selectParts(schema)

	sql := fmt.Sprintf("SELECT %v FROM %v t %v WHERE t.%v = ?",
		selectList, quoteIdent(schema.Name), joins, quoteIdent("id"))

	row := map[string]interface{}{}
	result := s.db.WithContext(ctx).Raw(sql, id.String()).Scan(&row)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrRecordNotFound
	}
	return row, nil
}

func (s *RecordStore) List(ctx context.Context, schema TableSchema, limit, offset int) ([]map[string]interface{}, error) {
	selectList, joins := s.selectParts(schema)

	sql := fmt.Sprintf("SELECT %v FROM %v t %v ORDER BY t.%v LIMIT ? OFFSET ?",
		selectList, quoteIdent(schema.Name), joins, quoteIdent("id"))

	rows := []map[string]interface{}{}
	if err := s.db.WithContext(ctx).Raw(sql, limit, offset).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *RecordStore) Update(ctx context.Context, schema TableSchema, id uuid.UUID, values map[string]interface{}) error {
	if len(values) == 0 {
		return nil
	}

	sets := make([]string, 0, len(values))
	args := make([]interface{}, 0, len(values)+1)
	for _, field := range schema.Fields {
		value, ok := values[field.Name]
		if !ok {
			continue
		}
		sets = append(sets, fmt.Sprintf("%v = ?", quoteIdent(field.Name)))
		args = append(args, value)
	}
	args = append(args, id.String())

	sql := fmt.Sprintf("UPDATE %v SET %v WHERE %v = ?", quoteIdent(schema.Name), strings.Join(sets, ", "), quoteIdent("id"))

	result := s.db.WithContext(ctx).Exec(sql, args...)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *RecordStore) Delete(ctx context.Context, schema TableSchema, id uuid.UUID) error {
	sql := fmt.Sprintf("DELETE FROM %v WHERE %v = ?", quoteIdent(schema.Name), quoteIdent("id"))
	result := s.db.WithContext(ctx).Exec(sql, id.String())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// DeleteBatch removes the given records atomically: if any id is missing
// nothing is deleted.
func (s *RecordStore) DeleteBatch(ctx context.Context, schema TableSchema, ids []uuid.UUID) (int64, error) {
	if len(ids) > MaxBatchSize {
		return 0, ErrBatchTooLarge
	}

	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		sql := fmt.Sprintf("DELETE FROM %v WHERE %v = ?", quoteIdent(schema.Name), quoteIdent("id"))
		for _, id := range ids {
			result := txn.Exec(sql, id.String())
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return fmt.Errorf("%w: %v", ErrRecordNotFound, id)
			}
			deleted += result.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// BatchItemResult is reported per item in best-effort batch creates.
type BatchItemResult struct {
	Index  int         `json:"index"`
	Status int         `json:"status"`
	Id     *uuid.UUID  `json:"id,omitempty"`
	Error  *FieldError `json:"error,omitempty"`
}

// InsertBatch inserts records in best-effort mode: each item commits or
// fails independently and the outcome is reported per item.
func (s *RecordStore) InsertBatch(ctx context.Context, schema TableSchema, items []map[string]interface{}, userId uuid.UUID) ([]BatchItemResult, error) {
	if len(items) > MaxBatchSize {
		return nil, ErrBatchTooLarge
	}

	results := make([]BatchItemResult, 0, len(items))
	for i, values := range items {
		results = append(results, s.insertBatchItem(ctx, schema, i, values, userId))
	}
	return results, nil
}

func (s *RecordStore) insertBatchItem(ctx context.Context, schema TableSchema, index int, values map[string]interface{}, userId uuid.UUID) BatchItemResult {
	if ferr := ValidateRecord(schema, values, false); ferr != nil {
		return BatchItemResult{Index: index, Status: 400, Error: ferr}
	}

	id := uuid.New()
	if err := s.Insert(ctx, schema, id, values, userId); err != nil {
		if IsUniqueViolation(err) {
			return BatchItemResult{Index: index, Status: 409, Error: &FieldError{Code: "unique", Message: err.Error()}}
		}
		return BatchItemResult{Index: index, Status: 500, Error: &FieldError{Code: "internal", Message: err.Error()}}
	}

	return BatchItemResult{Index: index, Status: 201, Id: &id}
}

// AtomicBatchError carries the rollback detail for atomic batch creates.
type AtomicBatchError struct {
	FailedAtIndex     int         `json:"failedAtIndex"`
	RecordsRolledBack int         `json:"recordsRolledBack"`
	Cause             *FieldError `json:"error"`
}

func (e *AtomicBatchError) Error() string {
	return fmt.Sprintf("atomic batch failed at index %d: %v", e.FailedAtIndex, e.Cause.Message)
}

// InsertBatchAtomic inserts all records in one transaction; the first
// failure rolls back every prior insert.
func (s *RecordStore) InsertBatchAtomic(ctx context.Context, schema TableSchema, items []map[string]interface{}, userId uuid.UUID) ([]uuid.UUID, error) {
	if len(items) > MaxBatchSize {
		return nil, ErrBatchTooLarge
	}

	ids := make([]uuid.UUID, 0, len(items))
	err := s.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		for i, values := range items {
			if ferr := ValidateRecord(schema, values, false); ferr != nil {
				return &AtomicBatchError{FailedAtIndex: i, RecordsRolledBack: i, Cause: ferr}
			}

			id := uuid.New()
			if err := s.insert(txn, schema, id, values, userId); err != nil {
				cause := &FieldError{Code: "internal", Message: err.Error()}
				if IsUniqueViolation(err) {
					cause.Code = "unique"
				}
				return &AtomicBatchError{FailedAtIndex: i, RecordsRolledBack: i, Cause: cause}
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
