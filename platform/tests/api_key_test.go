package tests

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"sovrium/platform/schema"
)

func TestCreateAndListApiKeys(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	keyId, key, err := user.createApiKey("ci-key")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(key, "sovrium-") {
		t.Fatalf("key should carry the sovrium prefix: %v", key)
	}

	var keys []map[string]interface{}
	if err := user.Get("/api-keys").Do(&keys); err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected 1 key, got %d", len(keys))
	}
	if keys[0]["id"] != keyId || keys[0]["name"] != "ci-key" {
		t.Fatalf("unexpected key info %v", keys[0])
	}

	// The secret is returned at creation and never again.
	if _, ok := keys[0]["key"]; ok {
		t.Fatalf("listing must not expose the secret: %v", keys[0])
	}

	// A nameless key is rejected.
	err = user.Post("/api-keys").Json(map[string]string{}).Do(nil)
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("nameless key should be rejected with 400: %v", err)
	}

	// As is an expiry in the past.
	expired := map[string]interface{}{"name": "old", "expires_at": time.Now().Add(-time.Hour)}
	err = user.Post("/api-keys").Json(expired).Do(nil)
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("past expiry should be rejected with 400: %v", err)
	}
}

func TestApiKeyRecordAccess(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	tableId, err := admin.deployTable(documentsSchema())
	if err != nil {
		t.Fatal(err)
	}

	_, key, err := admin.createApiKey("ci-key")
	if err != nil {
		t.Fatal(err)
	}

	// No session token, just the api key header.
	anon := env.newClient()

	var created map[string]string
	err = anon.Post(fmt.Sprintf("/tables/%v/records", tableId)).
		Header("X-API-Key", key).
		Json(map[string]interface{}{"title": "via key"}).
		Expect(201).Do(&created)
	if err != nil {
		t.Fatal(err)
	}

	var record map[string]interface{}
	err = anon.Get(fmt.Sprintf("/tables/%v/records/%v", tableId, created["id"])).
		Header("X-API-Key", key).Do(&record)
	if err != nil {
		t.Fatal(err)
	}
	if record["title"] != "via key" {
		t.Fatalf("unexpected record %v", record)
	}

	// The key acts as its owning user, so created-by holds the owner.
	if record["author"] != admin.userId {
		t.Fatalf("created-by should hold the key owner: %v", record)
	}

	// A bad key is rejected outright.
	err = anon.Get(fmt.Sprintf("/tables/%v/records", tableId)).
		Header("X-API-Key", "sovrium-notarealkey").Do(nil)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("invalid key should be unauthorized, got %v", err)
	}
}

func TestApiKeyRequestsAreAudited(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	tableId, err := admin.deployTable(documentsSchema())
	if err != nil {
		t.Fatal(err)
	}

	_, key, err := admin.createApiKey("ci-key")
	if err != nil {
		t.Fatal(err)
	}

	env.audit.Reset()

	endpoint := fmt.Sprintf("/tables/%v/records", tableId)
	if err := env.newClient().Get(endpoint).Header("X-API-Key", key).Do(nil); err != nil {
		t.Fatal(err)
	}

	// Key-authenticated requests land in the audit log like session ones.
	entries := env.audit.String()
	if !strings.Contains(entries, endpoint) {
		t.Fatalf("audit log should record the request path, got %q", entries)
	}
	if !strings.Contains(entries, adminEmail) {
		t.Fatalf("audit log should record the key owner, got %q", entries)
	}
}

func TestDisabledAndExpiredApiKeys(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	tableId, err := admin.deployTable(documentsSchema())
	if err != nil {
		t.Fatal(err)
	}

	keyId, key, err := admin.createApiKey("ci-key")
	if err != nil {
		t.Fatal(err)
	}

	anon := env.newClient()
	records := anon.Get(fmt.Sprintf("/tables/%v/records", tableId))

	if err := records.Header("X-API-Key", key).Do(nil); err != nil {
		t.Fatal(err)
	}

	if err := env.db.Model(&schema.ApiKey{}).Where("id = ?", keyId).Update("enabled", false).Error; err != nil {
		t.Fatal(err)
	}

	err = anon.Get(fmt.Sprintf("/tables/%v/records", tableId)).Header("X-API-Key", key).Do(nil)
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("disabled key should be forbidden: %v", err)
	}

	expiry := time.Now().Add(-time.Hour)
	err = env.db.Model(&schema.ApiKey{}).Where("id = ?", keyId).
		Updates(map[string]interface{}{"enabled": true, "expires_at": expiry}).Error
	if err != nil {
		t.Fatal(err)
	}

	err = anon.Get(fmt.Sprintf("/tables/%v/records", tableId)).Header("X-API-Key", key).Do(nil)
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expired key should be forbidden: %v", err)
	}
}

func TestVerifyApiKey(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	keyId, key, err := user.createApiKey("ci-key")
	if err != nil {
		t.Fatal(err)
	}

	anon := env.newClient()

	var res map[string]interface{}
	if err := anon.Post("/api-keys/verify").Header("X-API-Key", key).Do(&res); err != nil {
		t.Fatal(err)
	}
	if res["valid"] != true || res["key_id"] != keyId || res["user_id"] != user.userId {
		t.Fatalf("unexpected verify response %v", res)
	}
	if _, ok := res["key"]; ok {
		t.Fatalf("verify must not echo the secret: %v", res)
	}

	res = nil
	if err := anon.Post("/api-keys/verify").Header("X-API-Key", "sovrium-bogus").Do(&res); err != nil {
		t.Fatal(err)
	}
	if res["valid"] != false {
		t.Fatalf("bogus key should verify false: %v", res)
	}

	err = anon.Post("/api-keys/verify").Do(nil)
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("missing header should 400: %v", err)
	}
}

func TestDeleteApiKey(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}
	other, err := env.newUser("xyz")
	if err != nil {
		t.Fatal(err)
	}

	keyId, key, err := user.createApiKey("ci-key")
	if err != nil {
		t.Fatal(err)
	}

	// Another user's key is indistinguishable from a missing one.
	err = other.Delete(fmt.Sprintf("/api-keys/%v", keyId)).Do(nil)
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("foreign key delete should 404: %v", err)
	}

	if err := user.Delete(fmt.Sprintf("/api-keys/%v", keyId)).Do(nil); err != nil {
		t.Fatal(err)
	}

	var res map[string]interface{}
	if err := env.newClient().Post("/api-keys/verify").Header("X-API-Key", key).Do(&res); err != nil {
		t.Fatal(err)
	}
	if res["valid"] != false {
		t.Fatalf("deleted key should verify false: %v", res)
	}
}
