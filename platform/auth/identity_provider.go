package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"sovrium/platform/schema"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrUserNotFoundWithEmail = errors.New("no user found for given email")
	ErrInvalidCredentials    = errors.New("invalid login credentials")
	ErrGeneratingToken       = errors.New("error generating session token")
	ErrEmailAlreadyInUse     = errors.New("email is already in use")
	ErrSessionExpired        = errors.New("session has expired")
	ErrSessionRevoked        = errors.New("session has been revoked")
	ErrUserBanned            = errors.New("user is banned")
)

type LoginResult struct {
	UserId    uuid.UUID
	SessionId uuid.UUID
	Token     string
	ExpiresAt time.Time
}

// IdentityProvider is the embedded auth surface: account creation, session
// issuance and the middleware chain protecting authenticated routes.
type IdentityProvider interface {
	AuthMiddleware() chi.Middlewares

	// AuditMiddleware logs the authenticated request. AuthMiddleware already
	// ends with it; auth paths that bypass the session chain (api keys) must
	// apply it themselves after putting the user into the context.
	AuditMiddleware() func(http.Handler) http.Handler

	SignUp(name, email, password string) (uuid.UUID, error)

	SignIn(email, password, ipAddress, userAgent string) (LoginResult, error)

	SignOut(sessionId uuid.UUID) error

	// Impersonate opens a session for userId on behalf of an admin. The
	// session records the impersonating admin for the audit trail.
	Impersonate(adminId, userId uuid.UUID, ipAddress, userAgent string) (LoginResult, error)

	// SessionFromToken resolves a bearer token without failing the request,
	// used by get-session which answers null instead of 401.
	SessionFromToken(token string) (schema.Session, schema.User, error)
}

func addInitialAdminToDb(db *gorm.DB, userId uuid.UUID, name, email string, password []byte) error {
	user := schema.User{
		Id:            userId,
		Name:          name,
		Email:         email,
		Password:      password,
		IsAdmin:       true,
		EmailVerified: true,
		CreatedAt:     time.Now().UTC(),
	}

	err := db.Transaction(func(txn *gorm.DB) error {
		var existingUser schema.User
		result := txn.Limit(1).Find(&existingUser, "id = ? or email = ?", userId, email)
		if result.Error != nil {
			slog.Error("sql error checking if admin has already been added", "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		if result.RowsAffected == 0 {
			result := txn.Create(&user)
			if result.Error != nil {
				slog.Error("sql error creating initial admin user", "error", result.Error)
				return schema.ErrDbAccessFailed
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("error adding initial admin to db: %w", err)
	}

	return nil
}

type requestContextKey string

const (
	UserRequestContextKey    requestContextKey = "user"
	SessionRequestContextKey requestContextKey = "session"
	ContextAPIKeyExpiry      requestContextKey = "api_key_expiry"
)
