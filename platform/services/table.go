package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"sovrium/platform/auth"
	"sovrium/platform/schema"
	"sovrium/platform/tables"
	"sovrium/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TableService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
	migrator *tables.Migrator
	records  *RecordService
}

func (s *TableService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.AuthMiddleware()...)

		r.With(auth.AdminOnly(s.db)).Post("/", s.Deploy)
		r.With(auth.AdminOnly(s.db)).Delete("/{table_id}", s.Delete)

		r.Get("/", s.List)
		r.Get("/{table_id}", s.Get)
	})

	r.Mount("/{table_id}/records", s.records.Routes())

	return r
}

// DeployRequest declares one table: its schema plus an optional owning
// organization (absent means visible everywhere).
type DeployRequest struct {
	OrganizationId *uuid.UUID         `json:"organization_id,omitempty" yaml:"organization_id,omitempty"`
	Schema         tables.TableSchema `json:"schema" yaml:"schema"`
}

type deployResponse struct {
	TableId uuid.UUID              `json:"table_id"`
	Result  tables.MigrationResult `json:"migration"`
}

// Deploy reconciles the declared schema with the deployed one: registry
// resolution, diff against the stored definition, then the migration batch
// in one transaction. Re-deploying an unchanged schema applies nothing.
func (s *TableService) Deploy(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params DeployRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	tableId, result, err := s.deploy(r.Context(), params, user)
	if err != nil {
		utils.WriteJsonError(w, GetResponseCode(err), fmt.Sprintf("error deploying table: %v", err))
		return
	}

	utils.WriteJsonResponse(w, deployResponse{TableId: tableId, Result: result})
}

func (s *TableService) deploy(ctx context.Context, params DeployRequest, user schema.User) (uuid.UUID, tables.MigrationResult, error) {
	if err := tables.ValidateSchema(params.Schema); err != nil {
		return uuid.Nil, tables.MigrationResult{}, CodedError(err, http.StatusBadRequest)
	}

	if params.OrganizationId != nil {
		if err := checkOrganizationExists(s.db, *params.OrganizationId); err != nil {
			return uuid.Nil, tables.MigrationResult{}, err
		}
	}

	var old *tables.TableSchema
	existing, err := schema.GetTableDefByName(params.Schema.Name, s.db)
	if err == nil {
		prior := tableSchemaFromDef(existing)
		old = &prior
	} else if !errors.Is(err, schema.ErrTableNotFound) {
		return uuid.Nil, tables.MigrationResult{}, CodedError(err, http.StatusInternalServerError)
	}

	ops := tables.Plan(old, params.Schema)

	result, err := s.migrator.Apply(ctx, params.Schema.Name, ops)
	if err != nil {
		migrationFailedMetric.Inc()
		code := http.StatusInternalServerError
		if errors.Is(err, tables.ErrMigrationRequiresDefault) || errors.Is(err, tables.ErrInvalidFieldSpec) {
			code = http.StatusBadRequest
		}
		return uuid.Nil, tables.MigrationResult{}, CodedError(err, code)
	}
	migrationAppliedMetric.Inc()

	tableId := existing.Id
	if old == nil {
		tableId = uuid.New()
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if old == nil {
			def := schema.TableDef{
				Id:             tableId,
				OrganizationId: params.OrganizationId,
				Name:           params.Schema.Name,
				CreatedAt:      time.Now().UTC(),
				UpdatedAt:      time.Now().UTC(),
			}
			if result := txn.Create(&def); result.Error != nil {
				slog.Error("sql error creating table definition", "error", result.Error)
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
		} else {
			update := txn.Model(&schema.TableDef{Id: tableId}).Update("updated_at", time.Now().UTC())
			if update.Error != nil {
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
			if result := txn.Where("table_def_id = ?", tableId).Delete(&schema.FieldDef{}); result.Error != nil {
				slog.Error("sql error clearing field definitions", "error", result.Error)
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
		}

		for _, field := range params.Schema.Fields {
			def := fieldDefFromSpec(tableId, field)
			if result := txn.Create(&def); result.Error != nil {
				slog.Error("sql error creating field definition", "field", field.Name, "error", result.Error)
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
		}

		return nil
	})
	if err != nil {
		return uuid.Nil, tables.MigrationResult{}, err
	}

	slog.Info("table deployed", "table", params.Schema.Name, "operations", len(result.Applied), "user_id", user.Id)
	return tableId, result, nil
}

type tableInfo struct {
	Id             uuid.UUID          `json:"id"`
	OrganizationId *uuid.UUID         `json:"organization_id,omitempty"`
	Name           string             `json:"name"`
	Fields         []tables.FieldSpec `json:"fields"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// visibleFields drops the fields whose read permission list excludes the
// caller's role. Hidden fields are simply absent, not errors.
func visibleFields(def schema.TableDef, role string) []tables.FieldSpec {
	fields := make([]tables.FieldSpec, 0, len(def.Fields))
	for _, f := range def.Fields {
		spec := fieldSpecFromDef(f)
		if !auth.RoleInList(role, spec.ReadRoles) {
			continue
		}
		fields = append(fields, spec)
	}
	return fields
}

func (s *TableService) Get(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	tableId, err := utils.URLParamUUID(r, "table_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	table, role, err := resolveTable(s.db, user, tableId)
	if err != nil {
		utils.WriteJsonError(w, GetResponseCode(err), err.Error())
		return
	}

	utils.WriteJsonResponse(w, tableInfo{
		Id:             table.Id,
		OrganizationId: table.OrganizationId,
		Name:           table.Name,
		Fields:         visibleFields(table, role),
		CreatedAt:      table.CreatedAt,
		UpdatedAt:      table.UpdatedAt,
	})
}

func (s *TableService) List(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	orgIds, err := schema.GetUserOrganizationIds(user.Id, s.db)
	if err != nil {
		utils.WriteJsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var defs []schema.TableDef
	query := s.db.Preload("Fields").Order("name")
	if !user.IsAdmin {
		query = query.Where("organization_id IS NULL OR organization_id IN ?", orgIds)
	}
	if result := query.Find(&defs); result.Error != nil {
		slog.Error("sql error listing tables", "error", result.Error)
		utils.WriteJsonError(w, http.StatusInternalServerError, schema.ErrDbAccessFailed.Error())
		return
	}

	infos := make([]tableInfo, 0, len(defs))
	for _, def := range defs {
		role := schema.RoleMember
		if user.IsAdmin {
			role = schema.RoleOwner
		} else if def.OrganizationId != nil {
			memberRole, err := auth.GetOrgRole(*def.OrganizationId, user, s.db)
			if err != nil {
				continue
			}
			role = memberRole
		}
		infos = append(infos, tableInfo{
			Id:             def.Id,
			OrganizationId: def.OrganizationId,
			Name:           def.Name,
			Fields:         visibleFields(def, role),
			CreatedAt:      def.CreatedAt,
			UpdatedAt:      def.UpdatedAt,
		})
	}

	utils.WriteJsonResponse(w, infos)
}

// Delete drops a table explicitly. Schema reconciliation never drops a
// table on its own, removal is always this deliberate call.
func (s *TableService) Delete(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	tableId, err := utils.URLParamUUID(r, "table_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	table, _, err := resolveTable(s.db, user, tableId)
	if err != nil {
		utils.WriteJsonError(w, GetResponseCode(err), err.Error())
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if result := txn.Where("table_def_id = ?", tableId).Delete(&schema.FieldDef{}); result.Error != nil {
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result := txn.Delete(&schema.TableDef{Id: tableId}); result.Error != nil {
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if err := txn.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %q`, table.Name)).Error; err != nil {
			return CodedError(err, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		utils.WriteJsonError(w, GetResponseCode(err), fmt.Sprintf("error deleting table: %v", err))
		return
	}

	slog.Info("table deleted", "table", table.Name, "user_id", user.Id)
	utils.WriteSuccess(w)
}
