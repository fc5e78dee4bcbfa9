package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"sovrium/platform/schema"

	"github.com/go-chi/jwtauth/v5"
	"github.com/google/uuid"
)

// JwtManager issues and verifies the bearer tokens wrapping session ids.
// Token validity alone is not sufficient to authenticate: the session row
// must still exist, be unexpired and unrevoked, so revocation is observable
// on the very next request.
type JwtManager struct {
	auth *jwtauth.JWTAuth
}

func NewJwtManager(secret []byte) *JwtManager {
	return &JwtManager{auth: jwtauth.New("HS256", secret, nil)}
}

func (m *JwtManager) Verifier() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return jwtauth.Verifier(m.auth)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
		}))
	}
}

func (m *JwtManager) Authenticator() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return jwtauth.Authenticator(m.auth)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
		}))
	}
}

const (
	sessionIdKey = "session_id"
	userIdKey    = "user_id"
)

func (m *JwtManager) CreateSessionToken(sessionId, userId uuid.UUID, exp time.Time) (string, error) {
	claims := map[string]interface{}{
		sessionIdKey: sessionId.String(),
		userIdKey:    userId.String(),
		"exp":        exp,
	}
	_, token, err := m.auth.Encode(claims)
	if err != nil {
		slog.Error("error generating session token", "error", err)
		return "", fmt.Errorf("error generating session token: %w", err)
	}
	return token, nil
}

// DecodeToken validates the signature and expiry of a raw token and returns
// the session id claim.
func (m *JwtManager) DecodeToken(token string) (uuid.UUID, error) {
	decoded, err := jwtauth.VerifyToken(m.auth, token)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid token: %w", err)
	}

	claim, ok := decoded.Get(sessionIdKey)
	if !ok {
		return uuid.Nil, fmt.Errorf("invalid token: missing %v claim", sessionIdKey)
	}
	value, ok := claim.(string)
	if !ok {
		return uuid.Nil, fmt.Errorf("invalid token: %v claim has invalid type", sessionIdKey)
	}

	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid session uuid '%v': %w", value, err)
	}
	return id, nil
}

func ValueFromContext(r *http.Request, key string) (string, error) {
	_, claims, err := jwtauth.FromContext(r.Context())
	if err != nil {
		return "", fmt.Errorf("error retrieving auth claims: %w", err)
	}

	valueUncasted, ok := claims[key]
	if !ok {
		return "", fmt.Errorf("invalid token: unable to locate key %v in claims", key)
	}

	value, ok := valueUncasted.(string)
	if !ok {
		return "", fmt.Errorf("invalid token: value for key %v has invalid type", key)
	}

	return value, nil
}

func SessionIdFromClaims(r *http.Request) (uuid.UUID, error) {
	value, err := ValueFromContext(r, sessionIdKey)
	if err != nil {
		return uuid.Nil, err
	}

	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid uuid '%v' provided: %w", value, err)
	}
	return id, nil
}

func UserFromContext(r *http.Request) (schema.User, error) {
	userUntyped := r.Context().Value(UserRequestContextKey)
	if userUntyped == nil {
		return schema.User{}, fmt.Errorf("user field not found in request context")
	}
	user, ok := userUntyped.(schema.User)
	if !ok {
		return schema.User{}, fmt.Errorf("invalid value for user field")
	}
	return user, nil
}

func SessionFromContext(r *http.Request) (schema.Session, error) {
	sessionUntyped := r.Context().Value(SessionRequestContextKey)
	if sessionUntyped == nil {
		return schema.Session{}, fmt.Errorf("session field not found in request context")
	}
	session, ok := sessionUntyped.(schema.Session)
	if !ok {
		return schema.Session{}, fmt.Errorf("invalid value for session field")
	}
	return session, nil
}
