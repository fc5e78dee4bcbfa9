package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"sovrium/platform/auth"
	"sovrium/platform/schema"
	"sovrium/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const apiKeyPrefix = "sovrium"

var (
	ErrMissingAPIKey  = errors.New("missing api key")
	ErrInvalidAPIKey  = errors.New("invalid api key")
	ErrExpiredAPIKey  = errors.New("api key has expired")
	ErrDisabledAPIKey = errors.New("api key is disabled")
)

func removeApiKeyPrefix(input string) (string, error) {
	expectedPrefix := apiKeyPrefix + "-"
	if strings.HasPrefix(input, expectedPrefix) {
		return strings.TrimPrefix(input, expectedPrefix), nil
	}
	return "", fmt.Errorf("key must start with the prefix '%s-'", apiKeyPrefix)
}

func generateRandomString(n int) (string, error) {
	bytes := make([]byte, n)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	str := base64.RawURLEncoding.EncodeToString(bytes)
	if len(str) < n {
		return "", errors.New("insufficient length in generated string")
	}
	return str[:n], nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func generateApiKey() (string, string, error) {
	secret, err := generateRandomString(32)
	if err != nil {
		return "", "", err
	}
	fullKey := fmt.Sprintf("%s-%s", apiKeyPrefix, secret)
	return fullKey, hashSecret(secret), nil
}

func validateApiKey(db *gorm.DB, fullKey string) (schema.ApiKey, error) {
	if fullKey == "" {
		return schema.ApiKey{}, ErrMissingAPIKey
	}

	secret, err := removeApiKeyPrefix(fullKey)
	if err != nil {
		return schema.ApiKey{}, ErrInvalidAPIKey
	}

	var record schema.ApiKey
	if err := db.Where("key_hash = ?", hashSecret(secret)).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return schema.ApiKey{}, ErrInvalidAPIKey
		}
		return schema.ApiKey{}, fmt.Errorf("database error: %w", err)
	}

	if !record.Enabled {
		return schema.ApiKey{}, ErrDisabledAPIKey
	}
	if record.ExpiresAt != nil && time.Now().After(*record.ExpiresAt) {
		return schema.ApiKey{}, ErrExpiredAPIKey
	}

	return record, nil
}

// eitherUserOrApiKeyAuthMiddleware accepts a session token or an X-API-Key
// header. A request carrying an api key acts as the key's owning user. Both
// paths end in the audit logger once the user is in the context.
func eitherUserOrApiKeyAuthMiddleware(db *gorm.DB, userAuth auth.IdentityProvider) func(http.Handler) http.Handler {
	userAuthChain := chi.Chain(userAuth.AuthMiddleware()...)
	audit := userAuth.AuditMiddleware()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				userAuthChain.Handler(next).ServeHTTP(w, r)
				return
			}

			record, err := validateApiKey(db, apiKey)
			if err != nil {
				switch {
				case errors.Is(err, ErrInvalidAPIKey):
					http.Error(w, err.Error(), http.StatusUnauthorized)
				case errors.Is(err, ErrExpiredAPIKey), errors.Is(err, ErrDisabledAPIKey):
					http.Error(w, err.Error(), http.StatusForbidden)
				default:
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
				return
			}

			user, err := schema.GetUser(record.UserId, db)
			if err != nil {
				http.Error(w, fmt.Sprintf("unable to get user: %v", err), http.StatusInternalServerError)
				return
			}
			if user.Banned {
				http.Error(w, auth.ErrUserBanned.Error(), http.StatusUnauthorized)
				return
			}

			reqCtx := context.WithValue(r.Context(), auth.UserRequestContextKey, user)
			if record.ExpiresAt != nil {
				reqCtx = context.WithValue(reqCtx, auth.ContextAPIKeyExpiry, *record.ExpiresAt)
			}

			audit(next).ServeHTTP(w, r.WithContext(reqCtx))
		})
	}
}

type ApiKeyService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *ApiKeyService) Routes() chi.Router {
	r := chi.NewRouter()

	// verify authenticates via the key itself, not a session.
	r.Post("/verify", s.Verify)

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.AuthMiddleware()...)

		r.Post("/", s.Create)
		r.Get("/", s.List)
		r.Delete("/{key_id}", s.Delete)
	})

	return r
}

type createApiKeyRequest struct {
	Name        string     `json:"name"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Permissions []string   `json:"permissions,omitempty"`
}

type createApiKeyResponse struct {
	KeyId uuid.UUID `json:"key_id"`

	// The full secret, returned exactly once. It is stored only as a hash
	// and cannot be recovered later.
	Key string `json:"key"`
}

func (s *ApiKeyService) Create(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params createApiKeyRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Name == "" {
		utils.WriteJsonError(w, http.StatusBadRequest, "key name is required")
		return
	}
	if params.ExpiresAt != nil && params.ExpiresAt.Before(time.Now()) {
		utils.WriteJsonError(w, http.StatusBadRequest, "expiry must be in the future")
		return
	}

	fullKey, keyHash, err := generateApiKey()
	if err != nil {
		slog.Error("error generating api key", "error", err)
		utils.WriteJsonError(w, http.StatusInternalServerError, "error generating api key")
		return
	}

	record := schema.ApiKey{
		Id:          uuid.New(),
		UserId:      user.Id,
		KeyHash:     keyHash,
		Name:        params.Name,
		Enabled:     true,
		ExpiresAt:   params.ExpiresAt,
		Permissions: encodeJsonList(params.Permissions),
		CreatedAt:   time.Now().UTC(),
	}

	if result := s.db.Create(&record); result.Error != nil {
		slog.Error("sql error creating api key", "error", result.Error)
		utils.WriteJsonError(w, http.StatusInternalServerError, schema.ErrDbAccessFailed.Error())
		return
	}

	utils.WriteJsonResponse(w, createApiKeyResponse{KeyId: record.Id, Key: fullKey})
}

type apiKeyInfo struct {
	Id          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Enabled     bool       `json:"enabled"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Permissions []string   `json:"permissions,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func apiKeyInfoFromRecord(record schema.ApiKey) apiKeyInfo {
	return apiKeyInfo{
		Id:          record.Id,
		Name:        record.Name,
		Enabled:     record.Enabled,
		ExpiresAt:   record.ExpiresAt,
		Permissions: decodeJsonList(record.Permissions),
		CreatedAt:   record.CreatedAt,
	}
}

func (s *ApiKeyService) List(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var records []schema.ApiKey
	if result := s.db.Where("user_id = ?", user.Id).Order("created_at").Find(&records); result.Error != nil {
		slog.Error("sql error listing api keys", "error", result.Error)
		utils.WriteJsonError(w, http.StatusInternalServerError, schema.ErrDbAccessFailed.Error())
		return
	}

	infos := make([]apiKeyInfo, 0, len(records))
	for _, record := range records {
		infos = append(infos, apiKeyInfoFromRecord(record))
	}

	utils.WriteJsonResponse(w, infos)
}

func (s *ApiKeyService) Delete(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	keyId, err := utils.URLParamUUID(r, "key_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		var record schema.ApiKey
		result := txn.Limit(1).Find(&record, "id = ?", keyId)
		if result.Error != nil {
			slog.Error("sql error loading api key", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		// Another user's key is reported as missing.
		if result.RowsAffected == 0 || (record.UserId != user.Id && !user.IsAdmin) {
			return CodedError(schema.ErrApiKeyNotFound, http.StatusNotFound)
		}

		if result := txn.Delete(&schema.ApiKey{Id: keyId}); result.Error != nil {
			slog.Error("sql error deleting api key", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		utils.WriteJsonError(w, GetResponseCode(err), fmt.Sprintf("error deleting api key: %v", err))
		return
	}

	utils.WriteSuccess(w)
}

type verifyApiKeyResponse struct {
	Valid       bool       `json:"valid"`
	KeyId       uuid.UUID  `json:"key_id,omitempty"`
	Name        string     `json:"name,omitempty"`
	UserId      uuid.UUID  `json:"user_id,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Permissions []string   `json:"permissions,omitempty"`
}

// Verify reports whether the X-API-Key header names a usable key. The
// response carries key metadata but never the secret.
func (s *ApiKeyService) Verify(w http.ResponseWriter, r *http.Request) {
	record, err := validateApiKey(s.db, r.Header.Get("X-API-Key"))
	if err != nil {
		if errors.Is(err, ErrMissingAPIKey) {
			utils.WriteJsonError(w, http.StatusBadRequest, err.Error())
			return
		}
		utils.WriteJsonResponse(w, verifyApiKeyResponse{Valid: false})
		return
	}

	utils.WriteJsonResponse(w, verifyApiKeyResponse{
		Valid:       true,
		KeyId:       record.Id,
		Name:        record.Name,
		UserId:      record.UserId,
		ExpiresAt:   record.ExpiresAt,
		Permissions: decodeJsonList(record.Permissions),
	})
}
