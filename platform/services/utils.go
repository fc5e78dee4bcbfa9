package services

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"sovrium/platform/auth"
	"sovrium/platform/schema"
	"sovrium/platform/tables"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

func CodedError(err error, code int) error {
	return &codedError{err: err, code: code}
}

func GetResponseCode(err error) int {
	var cerr *codedError
	if errors.As(err, &cerr) {
		return cerr.code
	}
	slog.Error("non coded error passed to GetResponseCode", "error", err)
	return http.StatusInternalServerError
}

func checkOrganizationExists(txn *gorm.DB, orgId uuid.UUID) error {
	if _, err := schema.GetOrganization(orgId, txn); err != nil {
		if errors.Is(err, schema.ErrOrganizationNotFound) {
			return CodedError(err, http.StatusNotFound)
		}
		return CodedError(err, http.StatusInternalServerError)
	}
	return nil
}

func checkUserExists(txn *gorm.DB, userId uuid.UUID) error {
	if _, err := schema.GetUser(userId, txn); err != nil {
		if errors.Is(err, schema.ErrUserNotFound) {
			return CodedError(err, http.StatusNotFound)
		}
		return CodedError(err, http.StatusInternalServerError)
	}
	return nil
}

func checkMemberExists(txn *gorm.DB, orgId, userId uuid.UUID) (schema.OrganizationMember, error) {
	member, err := schema.GetMember(orgId, userId, txn)
	if err != nil {
		if errors.Is(err, schema.ErrMemberNotFound) {
			return member, CodedError(err, http.StatusNotFound)
		}
		return member, CodedError(err, http.StatusInternalServerError)
	}
	return member, nil
}

func decodeJsonList(encoded string) []string {
	if encoded == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(encoded), &list); err != nil {
		slog.Error("error decoding json list column", "error", err)
		return nil
	}
	return list
}

func encodeJsonList(list []string) string {
	if len(list) == 0 {
		return ""
	}
	encoded, err := json.Marshal(list)
	if err != nil {
		slog.Error("error encoding json list column", "error", err)
		return ""
	}
	return string(encoded)
}

// fieldSpecFromDef rebuilds the declarative field spec from its stored
// metadata row.
func fieldSpecFromDef(def schema.FieldDef) tables.FieldSpec {
	spec := tables.FieldSpec{
		Name:       def.Name,
		Type:       tables.FieldType(def.Type),
		Required:   def.Required,
		Unique:     def.Unique,
		Indexed:    def.Indexed,
		Default:    def.Default,
		ReadRoles:  decodeJsonList(def.ReadRoles),
		WriteRoles: decodeJsonList(def.WriteRoles),
	}

	if def.Options != "" {
		if spec.Type == tables.TypeStatus {
			if err := json.Unmarshal([]byte(def.Options), &spec.Options); err != nil {
				slog.Error("error decoding field options", "field", def.Name, "error", err)
			}
		} else {
			spec.Target = def.Options
		}
	}

	return spec
}

func fieldDefFromSpec(tableId uuid.UUID, spec tables.FieldSpec) schema.FieldDef {
	def := schema.FieldDef{
		TableDefId: tableId,
		Name:       spec.Name,
		Type:       string(spec.Type),
		Required:   spec.Required,
		Unique:     spec.Unique,
		Indexed:    spec.Indexed,
		Default:    spec.Default,
		ReadRoles:  encodeJsonList(spec.ReadRoles),
		WriteRoles: encodeJsonList(spec.WriteRoles),
	}

	if len(spec.Options) > 0 {
		encoded, err := json.Marshal(spec.Options)
		if err != nil {
			slog.Error("error encoding field options", "field", spec.Name, "error", err)
		} else {
			def.Options = string(encoded)
		}
	} else if spec.Target != "" {
		def.Options = spec.Target
	}

	return def
}

func tableSchemaFromDef(def schema.TableDef) tables.TableSchema {
	fields := make([]tables.FieldSpec, 0, len(def.Fields))
	for _, f := range def.Fields {
		fields = append(fields, fieldSpecFromDef(f))
	}
	return tables.TableSchema{Name: def.Name, Fields: fields}
}

// recordActivity appends an entry to the organization activity log. Failure
// to record activity never fails the request itself.
func recordActivity(db *gorm.DB, orgId, userId uuid.UUID, action, detail, ip string) {
	entry := schema.ActivityLog{
		Id:             uuid.New(),
		OrganizationId: orgId,
		UserId:         userId,
		Action:         action,
		Detail:         detail,
		IpAddress:      ip,
		CreatedAt:      time.Now().UTC(),
	}
	if result := db.Create(&entry); result.Error != nil {
		slog.Error("sql error recording activity", "action", action, "error", result.Error)
	}
}

// resolveTable loads a table definition and applies the organization scope
// mask: a table owned by a different organization is reported as not found.
func resolveTable(db *gorm.DB, user schema.User, tableId uuid.UUID) (schema.TableDef, string, error) {
	table, err := schema.GetTableDef(tableId, db)
	if err != nil {
		if errors.Is(err, schema.ErrTableNotFound) {
			return table, "", CodedError(err, http.StatusNotFound)
		}
		return table, "", CodedError(err, http.StatusInternalServerError)
	}

	if table.OrganizationId == nil {
		role := schema.RoleMember
		if user.IsAdmin {
			role = schema.RoleOwner
		}
		return table, role, nil
	}

	role, err := auth.CheckOrgAccess(*table.OrganizationId, user, schema.RoleViewer, db)
	if err != nil {
		if errors.Is(err, schema.ErrOrganizationNotFound) {
			// masked: cross-organization access looks identical to a
			// missing table
			return table, "", CodedError(schema.ErrTableNotFound, http.StatusNotFound)
		}
		return table, "", CodedError(err, http.StatusInternalServerError)
	}

	return table, role, nil
}
