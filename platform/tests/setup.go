package tests

import (
	"bytes"
	"testing"

	"sovrium/platform/auth"
	"sovrium/platform/mail"
	"sovrium/platform/pages"
	"sovrium/platform/schema"
	"sovrium/platform/services"

	"github.com/go-chi/chi/v5"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testEnv struct {
	platform services.Platform
	api      chi.Router
	db       *gorm.DB
	mailer   *mail.MemoryMailer
	audit    *bytes.Buffer
}

const (
	adminName     = "admin123"
	adminEmail    = "admin123@mail.com"
	adminPassword = "admin_password123"
)

var testPages = []pages.Page{
	{
		Path:  "/home",
		Title: "Home",
		Props: map[string]interface{}{"welcome": "hello"},
		Scripts: []pages.Script{
			{Src: "/static/app.js"},
			{Src: "/static/beta.js", Flag: "beta"},
		},
		FeatureFlags: map[string]bool{"beta": false},
	},
}

func setupTestEnv(t *testing.T) *testEnv {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}

	if err := db.AutoMigrate(schema.All()...); err != nil {
		t.Fatal(err)
	}

	secret := []byte("290zcv02ai249")

	auditLog := new(bytes.Buffer)

	userAuth, err := auth.NewBasicIdentityProvider(
		db,
		auth.NewAuditLogger(auditLog),
		auth.BasicProviderArgs{
			Secret:        secret,
			AdminName:     adminName,
			AdminEmail:    adminEmail,
			AdminPassword: adminPassword,
		},
	)
	if err != nil {
		t.Fatal(err)
	}

	mailer := &mail.MemoryMailer{}

	platform := services.NewPlatform(db, userAuth, mailer, &pages.Config{Pages: testPages})

	return &testEnv{platform: platform, api: platform.Routes(), db: db, mailer: mailer, audit: auditLog}
}

func (t *testEnv) newClient() *client {
	return &client{api: t.api}
}

func (t *testEnv) newUser(name string) (*client, error) {
	c := t.newClient()
	login, err := c.signup(name, name+"@mail.com", name+"_password")
	if err != nil {
		return nil, err
	}

	if err := c.signin(login); err != nil {
		return nil, err
	}

	return c, nil
}

func (t *testEnv) adminClient() (*client, error) {
	c := t.newClient()
	err := c.signin(loginInfo{Email: adminEmail, Password: adminPassword})
	return c, err
}
