package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"sovrium/platform/auth"
	"sovrium/platform/mail"
	"sovrium/platform/schema"
	"sovrium/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const verificationDuration = 24 * time.Hour

type UserService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
	mailer   mail.Mailer
}

func (s *UserService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Post("/sign-up", s.SignUp)
		r.Post("/sign-in", s.SignIn)
		r.Post("/verify-email", s.VerifyEmail)

		// get-session answers null instead of 401 when there is no valid
		// session, so it sits outside the auth middleware chain.
		r.Get("/get-session", s.GetSession)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.AuthMiddleware()...)

		r.Post("/sign-out", s.SignOut)
		r.Post("/change-email", s.ChangeEmail)
	})

	return r
}

type signUpRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signUpResponse struct {
	UserId uuid.UUID `json:"user_id"`
}

func (s *UserService) SignUp(w http.ResponseWriter, r *http.Request) {
	var params signUpRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Email == "" || params.Password == "" {
		utils.WriteJsonError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	userId, err := s.userAuth.SignUp(params.Name, params.Email, params.Password)
	if err != nil {
		responseCode := http.StatusInternalServerError
		if errors.Is(err, auth.ErrEmailAlreadyInUse) {
			responseCode = http.StatusConflict
		}
		utils.WriteJsonError(w, responseCode, err.Error())
		return
	}

	utils.WriteJsonResponse(w, signUpResponse{UserId: userId})
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signInResponse struct {
	UserId    uuid.UUID `json:"user_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *UserService) SignIn(w http.ResponseWriter, r *http.Request) {
	var params signInRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	login, err := s.userAuth.SignIn(params.Email, params.Password, auth.ClientIp(r), r.UserAgent())
	if err != nil {
		responseCode := http.StatusInternalServerError
		switch {
		case errors.Is(err, auth.ErrUserNotFoundWithEmail):
			responseCode = http.StatusNotFound
		case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrUserBanned):
			responseCode = http.StatusUnauthorized
		}
		utils.WriteJsonError(w, responseCode, fmt.Sprintf("sign in failed: %v", err))
		return
	}

	utils.WriteJsonResponse(w, signInResponse{UserId: login.UserId, Token: login.Token, ExpiresAt: login.ExpiresAt})
}

func (s *UserService) SignOut(w http.ResponseWriter, r *http.Request) {
	session, err := auth.SessionFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := s.userAuth.SignOut(session.Id); err != nil {
		utils.WriteJsonError(w, http.StatusInternalServerError, fmt.Sprintf("sign out failed: %v", err))
		return
	}

	utils.WriteSuccess(w)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

type sessionInfo struct {
	SessionId      uuid.UUID  `json:"session_id"`
	UserId         uuid.UUID  `json:"user_id"`
	Email          string     `json:"email"`
	Name           string     `json:"name"`
	ExpiresAt      time.Time  `json:"expires_at"`
	ImpersonatedBy *uuid.UUID `json:"impersonated_by,omitempty"`
}

// GetSession returns the current session, or a null body with status 200
// when there is none. A token rejected because its user is banned is not
// "no session", it is a refused one, so that case answers 401.
func (s *UserService) GetSession(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		utils.WriteJsonResponse(w, nil)
		return
	}

	session, user, err := s.userAuth.SessionFromToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrUserBanned) {
			utils.WriteJsonError(w, http.StatusUnauthorized, err.Error())
			return
		}
		utils.WriteJsonResponse(w, nil)
		return
	}

	utils.WriteJsonResponse(w, sessionInfo{
		SessionId:      session.Id,
		UserId:         user.Id,
		Email:          user.Email,
		Name:           user.Name,
		ExpiresAt:      session.ExpiresAt,
		ImpersonatedBy: session.ImpersonatedBy,
	})
}

type changeEmailRequest struct {
	NewEmail string `json:"new_email"`
}

func (s *UserService) ChangeEmail(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params changeEmailRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.NewEmail == "" {
		utils.WriteJsonError(w, http.StatusBadRequest, "new_email is required")
		return
	}

	// Changing to the current address is already the desired state.
	if params.NewEmail == user.Email {
		utils.WriteSuccess(w)
		return
	}

	verification := schema.Verification{
		Id:         uuid.New(),
		UserId:     user.Id,
		Identifier: "change-email",
		Value:      params.NewEmail,
		Token:      uuid.NewString(),
		ExpiresAt:  time.Now().Add(verificationDuration).UTC(),
		CreatedAt:  time.Now().UTC(),
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		var existing schema.User
		result := txn.Limit(1).Find(&existing, "email = ?", params.NewEmail)
		if result.Error != nil {
			slog.Error("sql error checking for email conflict", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected != 0 {
			return CodedError(auth.ErrEmailAlreadyInUse, http.StatusConflict)
		}

		if result := txn.Create(&verification); result.Error != nil {
			slog.Error("sql error creating email verification", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		utils.WriteJsonError(w, GetResponseCode(err), fmt.Sprintf("error changing email: %v", err))
		return
	}

	// The verification goes to the new address, not the current one.
	subject, body := mail.ChangeEmailVerification(user.Name, params.NewEmail, verification.Token)
	if err := s.mailer.Send(params.NewEmail, subject, body); err != nil {
		utils.WriteJsonError(w, http.StatusInternalServerError, "error sending verification mail")
		return
	}

	utils.WriteSuccess(w)
}

type verifyEmailRequest struct {
	Token string `json:"token"`
}

func (s *UserService) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var params verifyEmailRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err := s.db.Transaction(func(txn *gorm.DB) error {
		var verification schema.Verification
		result := txn.First(&verification, "token = ?", params.Token)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return CodedError(errors.New("invalid verification token"), http.StatusNotFound)
			}
			slog.Error("sql error loading verification", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		if time.Now().After(verification.ExpiresAt) {
			return CodedError(errors.New("verification token has expired"), http.StatusBadRequest)
		}

		update := txn.Model(&schema.User{Id: verification.UserId}).
			Updates(map[string]interface{}{"email": verification.Value, "email_verified": true})
		if update.Error != nil {
			slog.Error("sql error applying email change", "user_id", verification.UserId, "error", update.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		if result := txn.Delete(&schema.Verification{Id: verification.Id}); result.Error != nil {
			slog.Error("sql error deleting used verification", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		utils.WriteJsonError(w, GetResponseCode(err), fmt.Sprintf("error verifying email: %v", err))
		return
	}

	utils.WriteSuccess(w)
}
