package auth

import (
	"errors"
	"fmt"
	"net/http"

	"sovrium/platform/schema"
	"sovrium/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrInsufficientRole is surfaced as 403: the caller belongs to the
// organization but their role does not allow the operation.
var ErrInsufficientRole = errors.New("insufficient role for operation")

func AdminOnly(db *gorm.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			user, err := UserFromContext(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			if !user.IsAdmin {
				http.Error(w, fmt.Sprintf("user %v is not an admin", user.Id), http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(hfn)
	}
}

// GetOrgRole returns the caller's role within the organization. Platform
// admins act as owner everywhere. Non-members get ErrMemberNotFound, which
// callers must surface as 404, never 403, so an outsider cannot distinguish
// "exists but not mine" from "does not exist".
func GetOrgRole(orgId uuid.UUID, user schema.User, db *gorm.DB) (string, error) {
	if user.IsAdmin {
		return schema.RoleOwner, nil
	}

	member, err := schema.GetMember(orgId, user.Id, db)
	if err != nil {
		return "", err
	}

	return member.Role, nil
}

// CheckOrgAccess is the single decision point for organization scoped
// resources. It returns ErrOrganizationNotFound for cross-organization
// access (masked as 404) and ErrInsufficientRole when the member's role is
// below the required one.
func CheckOrgAccess(orgId uuid.UUID, user schema.User, minRole string, db *gorm.DB) (string, error) {
	role, err := GetOrgRole(orgId, user, db)
	if err != nil {
		if errors.Is(err, schema.ErrMemberNotFound) {
			return "", schema.ErrOrganizationNotFound
		}
		return "", err
	}

	if !schema.RoleAtLeast(role, minRole) {
		return role, ErrInsufficientRole
	}

	return role, nil
}

// OrgRoleOnly guards routes with an {org_id} url parameter.
func OrgRoleOnly(db *gorm.DB, minRole string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			orgId, err := utils.URLParamUUID(r, "org_id")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			user, err := UserFromContext(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			_, err = CheckOrgAccess(orgId, user, minRole, db)
			if err != nil {
				switch {
				case errors.Is(err, schema.ErrOrganizationNotFound):
					http.Error(w, err.Error(), http.StatusNotFound)
				case errors.Is(err, ErrInsufficientRole):
					http.Error(w, err.Error(), http.StatusForbidden)
				default:
					http.Error(w, err.Error(), http.StatusInternalServerError)
				}
				return
			}

			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(hfn)
	}
}

// RoleInList reports whether the role appears in a field permission list.
// An empty list allows every role.
func RoleInList(role string, list []string) bool {
	if len(list) == 0 {
		return true
	}
	for _, allowed := range list {
		if allowed == role {
			return true
		}
	}
	return false
}
