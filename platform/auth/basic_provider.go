package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"sovrium/platform/schema"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const sessionDuration = 7 * 24 * time.Hour

type BasicIdentityProvider struct {
	jwtManager *JwtManager
	db         *gorm.DB
	auditLog   AuditLogger
}

type BasicProviderArgs struct {
	Secret        []byte
	AdminName     string
	AdminEmail    string
	AdminPassword string
}

func NewBasicIdentityProvider(db *gorm.DB, auditLog AuditLogger, args BasicProviderArgs) (IdentityProvider, error) {
	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(args.AdminPassword), 10)
	if err != nil {
		return nil, fmt.Errorf("error encrypting admin password: %w", err)
	}

	err = addInitialAdminToDb(db, uuid.New(), args.AdminName, args.AdminEmail, hashedPwd)
	if err != nil {
		return nil, fmt.Errorf("error adding initial admin to db: %w", err)
	}

	return &BasicIdentityProvider{
		jwtManager: NewJwtManager(args.Secret),
		db:         db,
		auditLog:   auditLog,
	}, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// checkSession rejects requests whose session row is gone, expired, revoked,
// or whose user has been banned in the meantime. This is the single point
// that makes sign-out, revocation, and bans observable on the next request.
// The ban check runs first: banning revokes the user's sessions, and the
// ban must win over plain revocation so callers can tell the two apart.
func checkSession(session *schema.Session, user *schema.User) error {
	if user.Banned && (user.BanExpires == nil || time.Now().Before(*user.BanExpires)) {
		return ErrUserBanned
	}
	if session.Revoked {
		return ErrSessionRevoked
	}
	if time.Now().After(session.ExpiresAt) {
		return ErrSessionExpired
	}
	return nil
}

func (auth *BasicIdentityProvider) addSessionToContext() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := func(w http.ResponseWriter, r *http.Request) {
			sessionId, err := SessionIdFromClaims(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			var session schema.Session
			result := auth.db.Preload("User").First(&session, "id = ?", sessionId)
			if result.Error != nil {
				if errors.Is(result.Error, gorm.ErrRecordNotFound) {
					http.Error(w, schema.ErrSessionNotFound.Error(), http.StatusUnauthorized)
					return
				}
				slog.Error("sql error loading session", "session_id", sessionId, "error", result.Error)
				http.Error(w, schema.ErrDbAccessFailed.Error(), http.StatusInternalServerError)
				return
			}

			if err := checkSession(&session, session.User); err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			user := *session.User
			session.User = nil

			reqCtx := r.Context()
			reqCtx = context.WithValue(reqCtx, UserRequestContextKey, user)
			reqCtx = context.WithValue(reqCtx, SessionRequestContextKey, session)
			next.ServeHTTP(w, r.WithContext(reqCtx))
		}

		return http.HandlerFunc(handler)
	}
}

func (auth *BasicIdentityProvider) AuthMiddleware() chi.Middlewares {
	return chi.Middlewares{auth.jwtManager.Verifier(), auth.jwtManager.Authenticator(), auth.addSessionToContext(), auth.auditLog.Middleware}
}

func (auth *BasicIdentityProvider) AuditMiddleware() func(http.Handler) http.Handler {
	return auth.auditLog.Middleware
}

func (auth *BasicIdentityProvider) SignUp(name, email, password string) (uuid.UUID, error) {
	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(password), 10)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("error encrypting password: %w", err)
	}

	newUser := schema.User{Id: uuid.New(), Name: name, Email: email, Password: hashedPwd, CreatedAt: time.Now().UTC()}

	err = auth.db.Transaction(func(txn *gorm.DB) error {
		var existingUser schema.User
		result := txn.Limit(1).Find(&existingUser, "email = ?", email)
		if result.Error != nil {
			slog.Error("sql error checking for existing email", "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		if result.RowsAffected != 0 {
			return ErrEmailAlreadyInUse
		}

		result = txn.Create(&newUser)
		if result.Error != nil {
			slog.Error("sql error creating new user entry", "error", result.Error)
			return schema.ErrDbAccessFailed
		}

		return nil
	})

	if err != nil {
		return uuid.UUID{}, fmt.Errorf("error creating new user: %w", err)
	}

	return newUser.Id, nil
}

func (auth *BasicIdentityProvider) newSession(user *schema.User, impersonatedBy *uuid.UUID, ipAddress, userAgent string) (LoginResult, error) {
	sessionId := uuid.New()
	expiresAt := time.Now().Add(sessionDuration).UTC()

	token, err := auth.jwtManager.CreateSessionToken(sessionId, user.Id, expiresAt)
	if err != nil {
		return LoginResult{}, ErrGeneratingToken
	}

	session := schema.Session{
		Id:             sessionId,
		UserId:         user.Id,
		TokenHash:      hashToken(token),
		ExpiresAt:      expiresAt,
		IpAddress:      ipAddress,
		UserAgent:      userAgent,
		ImpersonatedBy: impersonatedBy,
		CreatedAt:      time.Now().UTC(),
	}

	result := auth.db.Create(&session)
	if result.Error != nil {
		slog.Error("sql error creating session", "user_id", user.Id, "error", result.Error)
		return LoginResult{}, schema.ErrDbAccessFailed
	}

	return LoginResult{UserId: user.Id, SessionId: sessionId, Token: token, ExpiresAt: expiresAt}, nil
}

func (auth *BasicIdentityProvider) SignIn(email, password, ipAddress, userAgent string) (LoginResult, error) {
	var user schema.User
	result := auth.db.First(&user, "email = ?", email)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return LoginResult{}, ErrUserNotFoundWithEmail
		}
		slog.Error("sql error looking up user by email", "error", result.Error)
		return LoginResult{}, schema.ErrDbAccessFailed
	}

	if err := bcrypt.CompareHashAndPassword(user.Password, []byte(password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	if user.Banned && (user.BanExpires == nil || time.Now().Before(*user.BanExpires)) {
		return LoginResult{}, ErrUserBanned
	}

	return auth.newSession(&user, nil, ipAddress, userAgent)
}

func (auth *BasicIdentityProvider) SignOut(sessionId uuid.UUID) error {
	result := auth.db.Model(&schema.Session{Id: sessionId}).Update("revoked", true)
	if result.Error != nil {
		slog.Error("sql error revoking session", "session_id", sessionId, "error", result.Error)
		return schema.ErrDbAccessFailed
	}
	return nil
}

func (auth *BasicIdentityProvider) Impersonate(adminId, userId uuid.UUID, ipAddress, userAgent string) (LoginResult, error) {
	user, err := schema.GetUser(userId, auth.db)
	if err != nil {
		return LoginResult{}, err
	}

	return auth.newSession(&user, &adminId, ipAddress, userAgent)
}

func (auth *BasicIdentityProvider) SessionFromToken(token string) (schema.Session, schema.User, error) {
	sessionId, err := auth.jwtManager.DecodeToken(token)
	if err != nil {
		return schema.Session{}, schema.User{}, err
	}

	var session schema.Session
	result := auth.db.Preload("User").First(&session, "id = ?", sessionId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return schema.Session{}, schema.User{}, schema.ErrSessionNotFound
		}
		slog.Error("sql error loading session by token", "error", result.Error)
		return schema.Session{}, schema.User{}, schema.ErrDbAccessFailed
	}

	if session.TokenHash != hashToken(token) {
		return schema.Session{}, schema.User{}, schema.ErrSessionNotFound
	}

	user := *session.User
	session.User = nil

	if err := checkSession(&session, &user); err != nil {
		return schema.Session{}, schema.User{}, err
	}

	return session, user, nil
}
