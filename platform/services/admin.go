package services

import (
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

type AdminService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *AdminService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)
	r.Use(auth.AdminOnly(s.db))

	r.Get("/users", s.ListUsers)
	r.Post("/users/{user_id}/ban", s.BanUser)
	r.Post("/users/{user_id}/unban", s.UnbanUser)
	r.Delete("/users/{user_id}", s.DeleteUser)
	r.Post("/users/{user_id}/role", s.SetRole)
	r.Post("/users/{user_id}/impersonate", s.Impersonate)

	return r
}

type userInfo struct {
	Id            uuid.UUID  `json:"id"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	IsAdmin       bool       `json:"is_admin"`
	EmailVerified bool       `json:"email_verified"`
	Banned        bool       `json:"banned"`
	BanReason     string     `json:"ban_reason,omitempty"`
	BanExpires    *time.Time `json:"ban_expires,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func userInfoFromUser(user schema.User) userInfo {
	return userInfo{
		Id:            user.Id,
		Name:          user.Name,
		Email:         user.Email,
		IsAdmin:       user.IsAdmin,
		EmailVerified: user.EmailVerified,
		Banned:        user.Banned,
		BanReason:     user.BanReason,
		BanExpires:    user.BanExpires,
		CreatedAt:     user.CreatedAt,
	}
}

func (s *AdminService) ListUsers(w http.ResponseWriter, r *http.Request) {
	var users []schema.User
	if result := s.db.Order("created_at").Find(&users); result.Error != nil {
		slog.Error("sql error listing users", "error", result.Error)
		utils.WriteJsonError(w, http.StatusInternalServerError, schema.ErrDbAccessFailed.Error())
		return
	}

	infos := make([]userInfo, 0, len(users))
	for _, user := range users {
		infos = append(infos, userInfoFromUser(user))
	}

	utils.WriteJsonResponse(w, infos)
}

type banRequest struct {
	Reason  string     `json:"reason"`
	Expires *time.Time `json:"expires,omitempty"`
}

// BanUser marks the user banned and revokes their active sessions. Banning
// an already banned user updates the reason and expiry and returns 200.
func (s *AdminService) BanUser(w http.ResponseWriter, r *http.Request) {
	admin, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if userId == admin.Id {
		utils.WriteJsonError(w, http.StatusBadRequest, "admins cannot ban themselves")
		return
	}

	var params banRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkUserExists(txn, userId); err != nil {
			return err
		}

		update := txn.Model(&schema.User{Id: userId}).Updates(map[string]interface{}{
			"banned": true, "ban_reason": params.Reason, "ban_expires": params.Expires,
		})
		if update.Error != nil {
			slog.Error("sql error banning user", "user_id", userId, "error", update.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		revoke := txn.Model(&schema.Session{}).
			Where("user_id = ? AND NOT revoked", userId).
			Update("revoked", true)
		if revoke.Error != nil {
			slog.Error("sql error revoking sessions for banned user", "user_id", userId, "error", revoke.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		utils.WriteJsonError(w, GetResponseCode(err), fmt.Sprintf("error banning user: %v", err))
		return
	}

	slog.Info("user banned", "user_id", userId, "admin_id", admin.Id, "reason", params.Reason)
	utils.WriteSuccess(w)
}

func (s *AdminService) UnbanUser(w http.ResponseWriter, r *http.Request) {
	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkUserExists(txn, userId); err != nil {
			return err
		}

		update := txn.Model(&schema.User{Id: userId}).Updates(map[string]interface{}{
			"banned": false, "ban_reason": "", "ban_expires": nil,
		})
		if update.Error != nil {
			slog.Error("sql error unbanning user", "user_id", userId, "error", update.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		utils.WriteJsonError(w, GetResponseCode(err), fmt.Sprintf("error unbanning user: %v", err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *AdminService) DeleteUser(w http.ResponseWriter, r *http.Request) {
	admin, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if userId == admin.Id {
		utils.WriteJsonError(w, http.StatusBadRequest, "admins cannot delete themselves")
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkUserExists(txn, userId); err != nil {
			return err
		}

		// Sessions, memberships, api keys and verifications cascade, but
		// sqlite does not always enforce that, so clear them explicitly.
		for _, cleanup := range []interface{}{
			&schema.Session{}, &schema.OrganizationMember{}, &schema.ApiKey{}, &schema.Verification{},
		} {
			if result := txn.Where("user_id = ?", userId).Delete(cleanup); result.Error != nil {
				slog.Error("sql error deleting user data", "user_id", userId, "error", result.Error)
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
		}

		if result := txn.Delete(&schema.User{Id: userId}); result.Error != nil {
			slog.Error("sql error deleting user", "user_id", userId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		utils.WriteJsonError(w, GetResponseCode(err), fmt.Sprintf("error deleting user: %v", err))
		return
	}

	slog.Info("user deleted", "user_id", userId, "admin_id", admin.Id)
	utils.WriteSuccess(w)
}

type setRoleRequest struct {
	IsAdmin bool `json:"is_admin"`
}

func (s *AdminService) SetRole(w http.ResponseWriter, r *http.Request) {
	admin, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params setRoleRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if userId == admin.Id && !params.IsAdmin {
		utils.WriteJsonError(w, http.StatusBadRequest, "admins cannot revoke their own admin role")
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkUserExists(txn, userId); err != nil {
			return err
		}

		update := txn.Model(&schema.User{Id: userId}).Update("is_admin", params.IsAdmin)
		if update.Error != nil {
			slog.Error("sql error updating admin role", "user_id", userId, "error", update.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		utils.WriteJsonError(w, GetResponseCode(err), fmt.Sprintf("error updating role: %v", err))
		return
	}

	utils.WriteSuccess(w)
}

type impersonateResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *AdminService) Impersonate(w http.ResponseWriter, r *http.Request) {
	admin, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if userId == admin.Id {
		utils.WriteJsonError(w, http.StatusBadRequest, "cannot impersonate yourself")
		return
	}

	login, err := s.userAuth.Impersonate(admin.Id, userId, auth.ClientIp(r), r.UserAgent())
	if err != nil {
		responseCode := http.StatusInternalServerError
		if errors.Is(err, schema.ErrUserNotFound) {
			responseCode = http.StatusNotFound
		}
		utils.WriteJsonError(w, responseCode, fmt.Sprintf("error impersonating user: %v", err))
		return
	}

	slog.Info("impersonation session started", "admin_id", admin.Id, "user_id", userId)
	utils.WriteJsonResponse(w, impersonateResponse{Token: login.Token, ExpiresAt: login.ExpiresAt})
}
