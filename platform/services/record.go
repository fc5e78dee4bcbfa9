package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"sovrium/platform/auth"
	"sovrium/platform/schema"
	"sovrium/platform/tables"
	"sovrium/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type RecordService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
	store    *tables.RecordStore
}

func (s *RecordService) Routes() chi.Router {
	r := chi.NewRouter()

	// Records accept either a session token or an api key.
	r.Use(eitherUserOrApiKeyAuthMiddleware(s.db, s.userAuth))

	r.Post("/", s.Create)
	r.Get("/", s.List)
	r.Post("/batch", s.CreateBatch)
	r.Delete("/batch", s.DeleteBatch)
	r.Get("/{record_id}", s.Get)
	r.Patch("/{record_id}", s.Update)
	r.Delete("/{record_id}", s.Delete)

	return r
}

// recordContext resolves the table, the caller's role within its scope, and
// the declared schema for one record request.
func (s *RecordService) recordContext(r *http.Request) (schema.User, tables.TableSchema, string, error) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		return user, tables.TableSchema{}, "", CodedError(err, http.StatusInternalServerError)
	}

	tableId, err := utils.URLParamUUID(r, "table_id")
	if err != nil {
		return user, tables.TableSchema{}, "", CodedError(err, http.StatusBadRequest)
	}

	table, role, err := resolveTable(s.db, user, tableId)
	if err != nil {
		return user, tables.TableSchema{}, "", err
	}

	return user, tableSchemaFromDef(table), role, nil
}

// checkFieldWrites enforces the per-field write permission lists and the
// viewer read-only rule for the submitted values.
func checkFieldWrites(tableSchema tables.TableSchema, values map[string]interface{}, role string) error {
	if !schema.RoleAtLeast(role, schema.RoleMember) {
		return CodedError(auth.ErrInsufficientRole, http.StatusForbidden)
	}

	for name := range values {
		field, ok := tableSchema.Field(name)
		if !ok {
			continue // reported as unknown_field by record validation
		}
		if !auth.RoleInList(role, field.WriteRoles) {
			return CodedError(fmt.Errorf("role '%v' may not write field '%v'", role, name), http.StatusForbidden)
		}
	}

	return nil
}

// filterReadFields drops values of fields the caller's role may not read.
func filterReadFields(tableSchema tables.TableSchema, row map[string]interface{}, role string) map[string]interface{} {
	filtered := make(map[string]interface{}, len(row))
	for name, value := range row {
		if name != "id" {
			if field, ok := tableSchema.Field(name); ok && !auth.RoleInList(role, field.ReadRoles) {
				continue
			}
		}
		filtered[name] = value
	}
	return filtered
}

func writeFieldError(w http.ResponseWriter, status int, ferr *tables.FieldError) {
	utils.WriteJsonResponseWithStatus(w, status, map[string]interface{}{
		"message": ferr.Message,
		"error":   ferr,
	})
}

// writeRecordError maps raw insert/update failures onto the api contract:
// unique violations conflict, check violations are invalid values.
func writeRecordError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tables.ErrRecordNotFound):
		utils.WriteJsonError(w, http.StatusNotFound, err.Error())
	case tables.IsUniqueViolation(err):
		utils.WriteJsonError(w, http.StatusConflict, err.Error())
	case tables.IsCheckViolation(err):
		utils.WriteJsonError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("sql error on record operation", "error", err)
		utils.WriteJsonError(w, http.StatusInternalServerError, schema.ErrDbAccessFailed.Error())
	}
}

type createRecordResponse struct {
	Id uuid.UUID `json:"id"`
}

func (s *RecordService) Create(w http.ResponseWriter, r *http.Request) {
	user, tableSchema, role, err := s.recordContext(r)
	if err != nil {
		utils.WriteJsonError(w, GetResponseCode(err), err.Error())
		return
	}

	var values map[string]interface{}
	if !utils.ParseRequestBody(w, r, &values) {
		return
	}

	if err := checkFieldWrites(tableSchema, values, role); err != nil {
		utils.WriteJsonError(w, GetResponseCode(err), err.Error())
		return
	}

	if ferr := tables.ValidateRecord(tableSchema, values, false); ferr != nil {
		writeFieldError(w, http.StatusBadRequest, ferr)
		return
	}

	id := uuid.New()
	if err := s.store.Insert(r.Context(), tableSchema, id, values, user.Id); err != nil {
		writeRecordError(w, err)
		return
	}

	recordWriteMetric.Inc()
	utils.WriteJsonResponseWithStatus(w, http.StatusCreated, createRecordResponse{Id: id})
}

func (s *RecordService) Get(w http.ResponseWriter, r *http.Request) {
	_, tableSchema, role, err := s.recordContext(r)
	if err != nil {
		utils.WriteJsonError(w, GetResponseCode(err), err.Error())
		return
	}

	recordId, err := utils.URLParamUUID(r, "record_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	row, err := s.store.Get(r.Context(), tableSchema, recordId)
	if err != nil {
		writeRecordError(w, err)
		return
	}

	recordReadMetric.Inc()
	utils.WriteJsonResponse(w, filterReadFields(tableSchema, row, role))
}

func (s *RecordService) List(w http.ResponseWriter, r *http.Request) {
	_, tableSchema, role, err := s.recordContext(r)
	if err != nil {
		utils.WriteJsonError(w, GetResponseCode(err), err.Error())
		return
	}

	limit := utils.QueryInt(r, "limit", 100)
	offset := utils.QueryInt(r, "offset", 0)

	rows, err := s.store.List(r.Context(), tableSchema, limit, offset)
	if err != nil {
		writeRecordError(w, err)
		return
	}

	filtered := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		filtered = append(filtered, filterReadFields(tableSchema, row, role))
	}

	recordReadMetric.Inc()
	utils.WriteJsonResponse(w, filtered)
}

func (s *RecordService) Update(w http.ResponseWriter, r *http.Request) {
	_, tableSchema, role, err := s.recordContext(r)
	if err != nil {
		utils.WriteJsonError(w, GetResponseCode(err), err.Error())
		return
	}

	recordId, err := utils.URLParamUUID(r, "record_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var values map[string]interface{}
	if !utils.ParseRequestBody(w, r, &values) {
		return
	}

	if err := checkFieldWrites(tableSchema, values, role); err != nil {
		utils.WriteJsonError(w, GetResponseCode(err), err.Error())
		return
	}

	if ferr := tables.ValidateRecord(tableSchema, values, true); ferr != nil {
		writeFieldError(w, http.StatusBadRequest, ferr)
		return
	}

	if err := s.store.Update(r.Context(), tableSchema, recordId, values); err != nil {
		writeRecordError(w, err)
		return
	}

	recordWriteMetric.Inc()
	utils.WriteSuccess(w)
}

func (s *RecordService) Delete(w http.ResponseWriter, r *http.Request) {
	_, tableSchema, role, err := s.recordContext(r)
	if err != nil {
		utils.WriteJsonError(w, GetResponseCode(err), err.Error())
		return
	}

	if !schema.RoleAtLeast(role, schema.RoleMember) {
		utils.WriteJsonError(w, http.StatusForbidden, auth.ErrInsufficientRole.Error())
		return
	}

	recordId, err := utils.URLParamUUID(r, "record_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.store.Delete(r.Context(), tableSchema, recordId); err != nil {
		writeRecordError(w, err)
		return
	}

	recordDeleteMetric.Inc()
	utils.WriteSuccess(w)
}

type batchCreateRequest struct {
	Records []map[string]interface{} `json:"records"`
	Atomic  bool                     `json:"atomic,omitempty"`
}

type batchCreateResponse struct {
	Results []tables.BatchItemResult `json:"results,omitempty"`
	Ids     []uuid.UUID              `json:"ids,omitempty"`
}

// CreateBatch inserts multiple records. Best-effort mode reports per-item
// outcomes with 207; atomic mode commits all records or none, a failure
// answers 409 with the rollback detail.
func (s *RecordService) CreateBatch(w http.ResponseWriter, r *http.Request) {
	user, tableSchema, role, err := s.recordContext(r)
	if err != nil {
		utils.WriteJsonError(w, GetResponseCode(err), err.Error())
		return
	}

	var params batchCreateRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if len(params.Records) > tables.MaxBatchSize {
		utils.WriteJsonError(w, http.StatusRequestEntityTooLarge, tables.ErrBatchTooLarge.Error())
		return
	}

	for _, values := range params.Records {
		if err := checkFieldWrites(tableSchema, values, role); err != nil {
			utils.WriteJsonError(w, GetResponseCode(err), err.Error())
			return
		}
	}

	batchRecordsMetric.Observe(float64(len(params.Records)))

	if params.Atomic {
		ids, err := s.store.InsertBatchAtomic(r.Context(), tableSchema, params.Records, user.Id)
		if err != nil {
			var berr *tables.AtomicBatchError
			if errors.As(err, &berr) {
				utils.WriteJsonResponseWithStatus(w, http.StatusConflict, berr)
				return
			}
			writeRecordError(w, err)
			return
		}
		recordWriteMetric.Add(float64(len(ids)))
		utils.WriteJsonResponseWithStatus(w, http.StatusCreated, batchCreateResponse{Ids: ids})
		return
	}

	results, err := s.store.InsertBatch(r.Context(), tableSchema, params.Records, user.Id)
	if err != nil {
		writeRecordError(w, err)
		return
	}

	for _, item := range results {
		if item.Status == http.StatusCreated {
			recordWriteMetric.Inc()
		}
	}

	utils.WriteJsonResponseWithStatus(w, http.StatusMultiStatus, batchCreateResponse{Results: results})
}

type batchDeleteRequest struct {
	Ids []uuid.UUID `json:"ids"`
}

type batchDeleteResponse struct {
	Deleted int64 `json:"deleted"`
}

// DeleteBatch removes records atomically: a single missing id rolls back
// the entire batch.
func (s *RecordService) DeleteBatch(w http.ResponseWriter, r *http.Request) {
	_, tableSchema, role, err := s.recordContext(r)
	if err != nil {
		utils.WriteJsonError(w, GetResponseCode(err), err.Error())
		return
	}

	if !schema.RoleAtLeast(role, schema.RoleMember) {
		utils.WriteJsonError(w, http.StatusForbidden, auth.ErrInsufficientRole.Error())
		return
	}

	var params batchDeleteRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if len(params.Ids) > tables.MaxBatchSize {
		utils.WriteJsonError(w, http.StatusRequestEntityTooLarge, tables.ErrBatchTooLarge.Error())
		return
	}

	batchRecordsMetric.Observe(float64(len(params.Ids)))

	deleted, err := s.store.DeleteBatch(r.Context(), tableSchema, params.Ids)
	if err != nil {
		writeRecordError(w, err)
		return
	}

	recordDeleteMetric.Add(float64(deleted))
	utils.WriteJsonResponse(w, batchDeleteResponse{Deleted: deleted})
}
