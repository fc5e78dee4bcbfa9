package services

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"sovrium/platform/auth"
	"sovrium/platform/schema"
	"sovrium/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ActivityService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *ActivityService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Get("/{org_id}", s.List)

	return r
}

type activityEntry struct {
	Id        uuid.UUID `json:"id"`
	UserId    uuid.UUID `json:"user_id"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
	IpAddress string    `json:"ip_address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// List returns the organization's activity log. Viewers are denied with
// 403; outsiders see 404, same as a missing organization.
func (s *ActivityService) List(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	orgId, err := utils.URLParamUUID(r, "org_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if _, err := auth.CheckOrgAccess(orgId, user, schema.RoleMember, s.db); err != nil {
		switch {
		case errors.Is(err, schema.ErrOrganizationNotFound):
			utils.WriteJsonError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, auth.ErrInsufficientRole):
			utils.WriteJsonError(w, http.StatusForbidden, err.Error())
		default:
			utils.WriteJsonError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	limit := utils.QueryInt(r, "limit", 100)
	offset := utils.QueryInt(r, "offset", 0)

	var entries []schema.ActivityLog
	result := s.db.Where("organization_id = ?", orgId).
		Order("created_at DESC").Limit(limit).Offset(offset).Find(&entries)
	if result.Error != nil {
		slog.Error("sql error listing activity", "org_id", orgId, "error", result.Error)
		utils.WriteJsonError(w, http.StatusInternalServerError, schema.ErrDbAccessFailed.Error())
		return
	}

	infos := make([]activityEntry, 0, len(entries))
	for _, entry := range entries {
		infos = append(infos, activityEntry{
			Id:        entry.Id,
			UserId:    entry.UserId,
			Action:    entry.Action,
			Detail:    entry.Detail,
			IpAddress: entry.IpAddress,
			CreatedAt: entry.CreatedAt,
		})
	}

	utils.WriteJsonResponse(w, infos)
}
