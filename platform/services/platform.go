package services

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"sovrium/platform/auth"
	"sovrium/platform/mail"
	"sovrium/platform/pages"
	"sovrium/platform/schema"
	"sovrium/platform/tables"
	"sovrium/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"
)

// Platform aggregates the resource services and owns shared background
// work (session sweeping).
type Platform struct {
	user         UserService
	admin        AdminService
	organization OrganizationService
	apiKey       ApiKeyService
	table        TableService
	activity     ActivityService
	page         PageService

	db   *gorm.DB
	stop chan bool
}

func NewPlatform(
	db *gorm.DB, userAuth auth.IdentityProvider, mailer mail.Mailer, pageConfig *pages.Config,
) Platform {
	records := &RecordService{db: db, userAuth: userAuth, store: tables.NewRecordStore(db)}

	return Platform{
		user:         UserService{db: db, userAuth: userAuth, mailer: mailer},
		admin:        AdminService{db: db, userAuth: userAuth},
		organization: OrganizationService{db: db, userAuth: userAuth},
		apiKey:       ApiKeyService{db: db, userAuth: userAuth},
		table: TableService{
			db:       db,
			userAuth: userAuth,
			migrator: tables.NewMigrator(db),
			records:  records,
		},
		activity: ActivityService{db: db, userAuth: userAuth},
		page:     PageService{config: pageConfig},
		db:       db,
		stop:     make(chan bool, 1),
	}
}

func (p *Platform) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger: log.New(os.Stderr, "", log.LstdFlags), NoColor: false,
	}))

	r.Mount("/auth", p.user.Routes())
	r.Mount("/admin", p.admin.Routes())
	r.Mount("/organizations", p.organization.Routes())
	r.Mount("/api-keys", p.apiKey.Routes())
	r.Mount("/tables", p.table.Routes())
	r.Mount("/activity", p.activity.Routes())
	r.Mount("/pages", p.page.Routes())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteSuccess(w)
	})

	return r
}

// DeployDeclaredTables reconciles the tables declared in the app config on
// startup. Unchanged tables apply nothing, so rerunning is a no-op.
func (p *Platform) DeployDeclaredTables(ctx context.Context, declared []DeployRequest) error {
	system := schema.User{Name: "system", IsAdmin: true}
	for _, req := range declared {
		if _, _, err := p.table.deploy(ctx, req, system); err != nil {
			return fmt.Errorf("error deploying declared table '%v': %w", req.Schema.Name, err)
		}
	}
	return nil
}

// sweepSessions deletes expired sessions and verification tokens, and lifts
// bans whose expiry has passed.
func (p *Platform) sweepSessions() {
	now := time.Now().UTC()

	result := p.db.Where("expires_at < ? OR revoked", now).Delete(&schema.Session{})
	if result.Error != nil {
		slog.Error("session sweep: sql error deleting stale sessions", "error", result.Error)
	} else if result.RowsAffected > 0 {
		slog.Info("session sweep: removed stale sessions", "count", result.RowsAffected)
	}

	if result := p.db.Where("expires_at < ?", now).Delete(&schema.Verification{}); result.Error != nil {
		slog.Error("session sweep: sql error deleting expired verifications", "error", result.Error)
	}

	unban := p.db.Model(&schema.User{}).
		Where("banned AND ban_expires IS NOT NULL AND ban_expires < ?", now).
		Updates(map[string]interface{}{"banned": false, "ban_reason": "", "ban_expires": nil})
	if unban.Error != nil {
		slog.Error("session sweep: sql error lifting expired bans", "error", unban.Error)
	} else if unban.RowsAffected > 0 {
		slog.Info("session sweep: lifted expired bans", "count", unban.RowsAffected)
	}
}

// SessionSweep runs the sweep loop until StopSessionSweep is called.
func (p *Platform) SessionSweep(interval time.Duration) {
	slog.Info("session sweep: starting")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.sweepSessions()
		case <-p.stop:
			slog.Info("session sweep: process stopped")
			return
		}
	}
}

func (p *Platform) StopSessionSweep() {
	close(p.stop)
}
