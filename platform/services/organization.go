package services

import (
	"encoding/json"
	"errors"
	"fmt"
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

var (
	ErrDuplicateMember  = errors.New("user is already a member of the organization")
	ErrMemberLimit      = errors.New("organization member limit reached")
	ErrLastOwner        = errors.New("organization must keep at least one owner")
	ErrRoleEscalation   = errors.New("cannot assign a role higher than your own")
	ErrInvalidRole      = errors.New("invalid role")
	ErrInvalidMetadata  = errors.New("metadata must be a json object")
	ErrDuplicateOrgSlug = errors.New("organization slug is already in use")
)

type OrganizationService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *OrganizationService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Post("/", s.Create)
	r.Get("/", s.List)

	r.Route("/{org_id}", func(r chi.Router) {
		r.With(auth.OrgRoleOnly(s.db, schema.RoleViewer)).Get("/", s.Get)
		r.With(auth.OrgRoleOnly(s.db, schema.RoleOwner)).Delete("/", s.Delete)
		r.With(auth.OrgRoleOnly(s.db, schema.RoleOwner)).Post("/metadata", s.UpdateMetadata)

		r.Group(func(r chi.Router) {
			r.Use(auth.OrgRoleOnly(s.db, schema.RoleAdmin))

			r.Post("/members", s.AddMember)
			r.Post("/members/{user_id}/role", s.UpdateMemberRole)
			r.Delete("/members/{user_id}", s.RemoveMember)

			r.Post("/teams", s.CreateTeam)
			r.Delete("/teams/{team_id}", s.DeleteTeam)
			r.Post("/teams/{team_id}/members", s.AddTeamMember)
			r.Delete("/teams/{team_id}/members/{user_id}", s.RemoveTeamMember)
		})

		r.With(auth.OrgRoleOnly(s.db, schema.RoleViewer)).Get("/members", s.ListMembers)
		r.With(auth.OrgRoleOnly(s.db, schema.RoleViewer)).Get("/teams", s.ListTeams)
	})

	return r
}

type createOrgRequest struct {
	Name        string                 `json:"name"`
	Slug        string                 `json:"slug"`
	MemberLimit int                    `json:"member_limit,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

type createOrgResponse struct {
	OrgId uuid.UUID `json:"org_id"`
}

func (s *OrganizationService) Create(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params createOrgRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Name == "" || params.Slug == "" {
		utils.WriteJsonError(w, http.StatusBadRequest, "name and slug are required")
		return
	}

	metadata := ""
	if params.Metadata != nil {
		encoded, err := json.Marshal(params.Metadata)
		if err != nil {
			utils.WriteJsonError(w, http.StatusBadRequest, ErrInvalidMetadata.Error())
			return
		}
		metadata = string(encoded)
	}

	org := schema.Organization{
		Id:          uuid.New(),
		Name:        params.Name,
		Slug:        params.Slug,
		Metadata:    metadata,
		MemberLimit: params.MemberLimit,
		CreatedAt:   time.Now().UTC(),
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		var existing schema.Organization
		result := txn.Limit(1).Find(&existing, "slug = ?", params.Slug)
		if result.Error != nil {
			slog.Error("sql error checking organization slug", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected != 0 {
			return CodedError(ErrDuplicateOrgSlug, http.StatusConflict)
		}

		if result := txn.Create(&org); result.Error != nil {
			slog.Error("sql error creating organization", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		owner := schema.OrganizationMember{
			UserId: user.Id, OrganizationId: org.Id, Role: schema.RoleOwner, CreatedAt: time.Now().UTC(),
		}
		if result := txn.Create(&owner); result.Error != nil {
			slog.Error("sql error creating organization owner", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		utils.WriteJsonError(w, GetResponseCode(err), fmt.Sprintf("error creating organization: %v", err))
		return
	}

	recordActivity(s.db, org.Id, user.Id, "organization.create", org.Name, auth.ClientIp(r))
	utils.WriteJsonResponse(w, createOrgResponse{OrgId: org.Id})
}

type orgInfo struct {
	Id          uuid.UUID              `json:"id"`
	Name        string                 `json:"name"`
	Slug        string                 `json:"slug"`
	MemberLimit int                    `json:"member_limit"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Role        string                 `json:"role,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

func orgInfoFromOrg(org schema.Organization, role string) orgInfo {
	info := orgInfo{
		Id: org.Id, Name: org.Name, Slug: org.Slug,
		MemberLimit: org.MemberLimit, Role: role, CreatedAt: org.CreatedAt,
	}
	if org.Metadata != "" {
		if err := json.Unmarshal([]byte(org.Metadata), &info.Metadata); err != nil {
			slog.Error("error decoding organization metadata", "org_id", org.Id, "error", err)
		}
	}
	return info
}

func (s *OrganizationService) List(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var members []schema.OrganizationMember
	result := s.db.Preload("Organization").Where("user_id = ?", user.Id).Find(&members)
	if result.Error != nil {
		slog.Error("sql error listing organizations", "error", result.Error)
		utils.WriteJsonError(w, http.StatusInternalServerError, schema.ErrDbAccessFailed.Error())
		return
	}

	infos := make([]orgInfo, 0, len(members))
	for _, m := range members {
		if m.Organization == nil {
			continue
		}
		infos = append(infos, orgInfoFromOrg(*m.Organization, m.Role))
	}

	utils.WriteJsonResponse(w, infos)
}

func (s *OrganizationService) Get(w http.ResponseWriter, r *http.Request) {
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

	org, err := schema.GetOrganization(orgId, s.db)
	if err != nil {
		utils.WriteJsonError(w, http.StatusNotFound, err.Error())
		return
	}

	role, err := auth.GetOrgRole(orgId, user, s.db)
	if err != nil {
		role = ""
	}

	utils.WriteJsonResponse(w, orgInfoFromOrg(org, role))
}

func (s *OrganizationService) Delete(w http.ResponseWriter, r *http.Request) {
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

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkOrganizationExists(txn, orgId); err != nil {
			return err
		}

		for _, cleanup := range []interface{}{
			&schema.OrganizationMember{}, &schema.ActivityLog{},
		} {
			if result := txn.Where("organization_id = ?", orgId).Delete(cleanup); result.Error != nil {
				slog.Error("sql error deleting organization data", "org_id", orgId, "error", result.Error)
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
		}

		var teams []schema.Team
		if result := txn.Where("organization_id = ?", orgId).Find(&teams); result.Error != nil {
			slog.Error("sql error loading organization teams", "org_id", orgId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		for _, team := range teams {
			if result := txn.Where("team_id = ?", team.Id).Delete(&schema.TeamMember{}); result.Error != nil {
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
		}
		if result := txn.Where("organization_id = ?", orgId).Delete(&schema.Team{}); result.Error != nil {
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		if result := txn.Delete(&schema.Organization{Id: orgId}); result.Error != nil {
			slog.Error("sql error deleting organization", "org_id", orgId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		utils.WriteJsonError(w, GetResponseCode(err), fmt.Sprintf("error deleting organization: %v", err))
		return
	}

	slog.Info("organization deleted", "org_id", orgId, "user_id", user.Id)
	utils.WriteSuccess(w)
}

type metadataRequest struct {
	Metadata json.RawMessage `json:"metadata"`
}

// UpdateMetadata replaces the organization metadata document. The payload
// must be a json object, anything else is rejected with 400.
func (s *OrganizationService) UpdateMetadata(w http.ResponseWriter, r *http.Request) {
	orgId, err := utils.URLParamUUID(r, "org_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params metadataRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	var object map[string]interface{}
	if err := json.Unmarshal(params.Metadata, &object); err != nil {
		utils.WriteJsonError(w, http.StatusBadRequest, ErrInvalidMetadata.Error())
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkOrganizationExists(txn, orgId); err != nil {
			return err
		}

		update := txn.Model(&schema.Organization{Id: orgId}).Update("metadata", string(params.Metadata))
		if update.Error != nil {
			slog.Error("sql error updating organization metadata", "org_id", orgId, "error", update.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		utils.WriteJsonError(w, GetResponseCode(err), fmt.Sprintf("error updating metadata: %v", err))
		return
	}

	utils.WriteSuccess(w)
}

type addMemberRequest struct {
	UserId uuid.UUID `json:"user_id"`
	Role   string    `json:"role"`
}

func (s *OrganizationService) AddMember(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	orgId, err := utils.URLParamUUID(r, "org_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params addMemberRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Role == "" {
		params.Role = schema.RoleMember
	}
	if !schema.ValidRole(params.Role) {
		utils.WriteJsonError(w, http.StatusBadRequest, ErrInvalidRole.Error())
		return
	}

	callerRole, err := auth.GetOrgRole(orgId, caller, s.db)
	if err != nil {
		utils.WriteJsonError(w, http.StatusNotFound, schema.ErrOrganizationNotFound.Error())
		return
	}
	if !schema.RoleAtLeast(callerRole, params.Role) {
		utils.WriteJsonError(w, http.StatusForbidden, ErrRoleEscalation.Error())
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		org, err := schema.GetOrganization(orgId, txn)
		if err != nil {
			return CodedError(err, http.StatusNotFound)
		}

		if err := checkUserExists(txn, params.UserId); err != nil {
			return err
		}

		var existing schema.OrganizationMember
		result := txn.Limit(1).Find(&existing, "organization_id = ? AND user_id = ?", orgId, params.UserId)
		if result.Error != nil {
			slog.Error("sql error checking membership", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected != 0 {
			return CodedError(ErrDuplicateMember, http.StatusConflict)
		}

		if org.MemberLimit > 0 {
			var count int64
			if result := txn.Model(&schema.OrganizationMember{}).Where("organization_id = ?", orgId).Count(&count); result.Error != nil {
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
			if count >= int64(org.MemberLimit) {
				return CodedError(ErrMemberLimit, http.StatusConflict)
			}
		}

		member := schema.OrganizationMember{
			UserId: params.UserId, OrganizationId: orgId, Role: params.Role, CreatedAt: time.Now().UTC(),
		}
		if result := txn.Create(&member); result.Error != nil {
			slog.Error("sql error adding member", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		utils.WriteJsonError(w, GetResponseCode(err), fmt.Sprintf("error adding member: %v", err))
		return
	}

	recordActivity(s.db, orgId, caller.Id, "member.add", params.UserId.String(), auth.ClientIp(r))
	utils.WriteSuccess(w)
}

type memberInfo struct {
	UserId    uuid.UUID `json:"user_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *OrganizationService) ListMembers(w http.ResponseWriter, r *http.Request) {
	orgId, err := utils.URLParamUUID(r, "org_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var members []schema.OrganizationMember
	result := s.db.Preload("User").Where("organization_id = ?", orgId).Find(&members)
	if result.Error != nil {
		slog.Error("sql error listing members", "org_id", orgId, "error", result.Error)
		utils.WriteJsonError(w, http.StatusInternalServerError, schema.ErrDbAccessFailed.Error())
		return
	}

	infos := make([]memberInfo, 0, len(members))
	for _, m := range members {
		info := memberInfo{UserId: m.UserId, Role: m.Role, CreatedAt: m.CreatedAt}
		if m.User != nil {
			info.Name = m.User.Name
			info.Email = m.User.Email
		}
		infos = append(infos, info)
	}

	utils.WriteJsonResponse(w, infos)
}

type updateRoleRequest struct {
	Role string `json:"role"`
}

// UpdateMemberRole changes an existing member's role. Assigning the role
// the member already holds is a no-op 200. Members cannot change their own
// role, and an organization always keeps at least one owner.
func (s *OrganizationService) UpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	orgId, err := utils.URLParamUUID(r, "org_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params updateRoleRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if !schema.ValidRole(params.Role) {
		utils.WriteJsonError(w, http.StatusBadRequest, ErrInvalidRole.Error())
		return
	}

	if userId == caller.Id && !caller.IsAdmin {
		utils.WriteJsonError(w, http.StatusForbidden, "members cannot change their own role")
		return
	}

	callerRole, err := auth.GetOrgRole(orgId, caller, s.db)
	if err != nil {
		utils.WriteJsonError(w, http.StatusNotFound, schema.ErrOrganizationNotFound.Error())
		return
	}
	if !schema.RoleAtLeast(callerRole, params.Role) {
		utils.WriteJsonError(w, http.StatusForbidden, ErrRoleEscalation.Error())
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		member, err := checkMemberExists(txn, orgId, userId)
		if err != nil {
			return err
		}

		if member.Role == params.Role {
			return nil
		}

		if member.Role == schema.RoleOwner && params.Role != schema.RoleOwner {
			var owners int64
			result := txn.Model(&schema.OrganizationMember{}).
				Where("organization_id = ? AND role = ?", orgId, schema.RoleOwner).Count(&owners)
			if result.Error != nil {
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
			if owners <= 1 {
				return CodedError(ErrLastOwner, http.StatusBadRequest)
			}
		}

		update := txn.Model(&schema.OrganizationMember{}).
			Where("organization_id = ? AND user_id = ?", orgId, userId).
			Update("role", params.Role)
		if update.Error != nil {
			slog.Error("sql error updating member role", "error", update.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		utils.WriteJsonError(w, GetResponseCode(err), fmt.Sprintf("error updating member role: %v", err))
		return
	}

	recordActivity(s.db, orgId, caller.Id, "member.role", fmt.Sprintf("%v -> %v", userId, params.Role), auth.ClientIp(r))
	utils.WriteSuccess(w)
}

func (s *OrganizationService) RemoveMember(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	orgId, err := utils.URLParamUUID(r, "org_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		member, err := checkMemberExists(txn, orgId, userId)
		if err != nil {
			return err
		}

		if member.Role == schema.RoleOwner {
			var owners int64
			result := txn.Model(&schema.OrganizationMember{}).
				Where("organization_id = ? AND role = ?", orgId, schema.RoleOwner).Count(&owners)
			if result.Error != nil {
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
			if owners <= 1 {
				return CodedError(ErrLastOwner, http.StatusBadRequest)
			}
		}

		result := txn.Where("organization_id = ? AND user_id = ?", orgId, userId).
			Delete(&schema.OrganizationMember{})
		if result.Error != nil {
			slog.Error("sql error removing member", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		// Drop the user from any team in the organization as well.
		var teams []schema.Team
		if result := txn.Where("organization_id = ?", orgId).Find(&teams); result.Error != nil {
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		for _, team := range teams {
			if result := txn.Where("team_id = ? AND user_id = ?", team.Id, userId).Delete(&schema.TeamMember{}); result.Error != nil {
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
		}

		return nil
	})

	if err != nil {
		utils.WriteJsonError(w, GetResponseCode(err), fmt.Sprintf("error removing member: %v", err))
		return
	}

	recordActivity(s.db, orgId, caller.Id, "member.remove", userId.String(), auth.ClientIp(r))
	utils.WriteSuccess(w)
}

type createTeamRequest struct {
	Name string `json:"name"`
}

type createTeamResponse struct {
	TeamId uuid.UUID `json:"team_id"`
}

func (s *OrganizationService) CreateTeam(w http.ResponseWriter, r *http.Request) {
	orgId, err := utils.URLParamUUID(r, "org_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params createTeamRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Name == "" {
		utils.WriteJsonError(w, http.StatusBadRequest, "team name is required")
		return
	}

	team := schema.Team{Id: uuid.New(), OrganizationId: orgId, Name: params.Name}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkOrganizationExists(txn, orgId); err != nil {
			return err
		}

		var existing schema.Team
		result := txn.Limit(1).Find(&existing, "organization_id = ? AND name = ?", orgId, params.Name)
		if result.Error != nil {
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected != 0 {
			return CodedError(errors.New("team name already in use"), http.StatusConflict)
		}

		if result := txn.Create(&team); result.Error != nil {
			slog.Error("sql error creating team", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		utils.WriteJsonError(w, GetResponseCode(err), fmt.Sprintf("error creating team: %v", err))
		return
	}

	utils.WriteJsonResponse(w, createTeamResponse{TeamId: team.Id})
}

type teamInfo struct {
	Id      uuid.UUID   `json:"id"`
	Name    string      `json:"name"`
	Members []uuid.UUID `json:"members"`
}

func (s *OrganizationService) ListTeams(w http.ResponseWriter, r *http.Request) {
	orgId, err := utils.URLParamUUID(r, "org_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var teams []schema.Team
	result := s.db.Preload("Members").Where("organization_id = ?", orgId).Find(&teams)
	if result.Error != nil {
		slog.Error("sql error listing teams", "org_id", orgId, "error", result.Error)
		utils.WriteJsonError(w, http.StatusInternalServerError, schema.ErrDbAccessFailed.Error())
		return
	}

	infos := make([]teamInfo, 0, len(teams))
	for _, team := range teams {
		members := make([]uuid.UUID, 0, len(team.Members))
		for _, m := range team.Members {
			members = append(members, m.UserId)
		}
		infos = append(infos, teamInfo{Id: team.Id, Name: team.Name, Members: members})
	}

	utils.WriteJsonResponse(w, infos)
}

// teamInOrg loads a team and applies the organization scope mask.
func teamInOrg(txn *gorm.DB, orgId, teamId uuid.UUID) (schema.Team, error) {
	team, err := schema.GetTeam(teamId, txn)
	if err != nil {
		if errors.Is(err, schema.ErrTeamNotFound) {
			return team, CodedError(err, http.StatusNotFound)
		}
		return team, CodedError(err, http.StatusInternalServerError)
	}
	if team.OrganizationId != orgId {
		return team, CodedError(schema.ErrTeamNotFound, http.StatusNotFound)
	}
	return team, nil
}

func (s *OrganizationService) DeleteTeam(w http.ResponseWriter, r *http.Request) {
	orgId, err := utils.URLParamUUID(r, "org_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	teamId, err := utils.URLParamUUID(r, "team_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if _, err := teamInOrg(txn, orgId, teamId); err != nil {
			return err
		}

		if result := txn.Where("team_id = ?", teamId).Delete(&schema.TeamMember{}); result.Error != nil {
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result := txn.Delete(&schema.Team{Id: teamId}); result.Error != nil {
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		utils.WriteJsonError(w, GetResponseCode(err), fmt.Sprintf("error deleting team: %v", err))
		return
	}

	utils.WriteSuccess(w)
}

type teamMemberRequest struct {
	UserId uuid.UUID `json:"user_id"`
}

func (s *OrganizationService) AddTeamMember(w http.ResponseWriter, r *http.Request) {
	orgId, err := utils.URLParamUUID(r, "org_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	teamId, err := utils.URLParamUUID(r, "team_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params teamMemberRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if _, err := teamInOrg(txn, orgId, teamId); err != nil {
			return err
		}

		// Team members must already belong to the organization.
		if _, err := checkMemberExists(txn, orgId, params.UserId); err != nil {
			return err
		}

		var existing schema.TeamMember
		result := txn.Limit(1).Find(&existing, "team_id = ? AND user_id = ?", teamId, params.UserId)
		if result.Error != nil {
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected != 0 {
			return CodedError(errors.New("user is already a team member"), http.StatusConflict)
		}

		if result := txn.Create(&schema.TeamMember{TeamId: teamId, UserId: params.UserId}); result.Error != nil {
			slog.Error("sql error adding team member", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		utils.WriteJsonError(w, GetResponseCode(err), fmt.Sprintf("error adding team member: %v", err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *OrganizationService) RemoveTeamMember(w http.ResponseWriter, r *http.Request) {
	orgId, err := utils.URLParamUUID(r, "org_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	teamId, err := utils.URLParamUUID(r, "team_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if _, err := teamInOrg(txn, orgId, teamId); err != nil {
			return err
		}

		result := txn.Where("team_id = ? AND user_id = ?", teamId, userId).Delete(&schema.TeamMember{})
		if result.Error != nil {
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected == 0 {
			return CodedError(schema.ErrMemberNotFound, http.StatusNotFound)
		}

		return nil
	})

	if err != nil {
		utils.WriteJsonError(w, GetResponseCode(err), fmt.Sprintf("error removing team member: %v", err))
		return
	}

	utils.WriteSuccess(w)
}
