package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"sovrium/platform/auth"
	"sovrium/platform/mail"
	"sovrium/platform/pages"
	"sovrium/platform/schema"
	"sovrium/platform/services"
	"sovrium/utils/logging"

	"github.com/caarlos0/env/v10"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type sovriumEnv struct {
	DatabaseUri string `env:"DATABASE_URI,required"`
	JwtSecret   string `env:"JWT_SECRET,required"`

	AdminName     string `env:"ADMIN_NAME" envDefault:"admin"`
	AdminEmail    string `env:"ADMIN_EMAIL,required"`
	AdminPassword string `env:"ADMIN_PASSWORD,required"`

	LogDir        string `env:"LOG_DIR" envDefault:"logs"`
	AppConfigPath string `env:"APP_CONFIG"`

	SmtpAddr string `env:"SMTP_ADDR" envDefault:"localhost:1025"`
	MailFrom string `env:"MAIL_FROM" envDefault:"noreply@sovrium.local"`

	PublicOrigin string `env:"PUBLIC_ORIGIN" envDefault:"http://localhost:3000"`
}

func loadEnvFile(envFile string) {
	slog.Info(fmt.Sprintf("loading env from file %v", envFile))
	if err := godotenv.Load(envFile); err != nil {
		log.Fatalf("error loading .env file '%v': %v", envFile, err)
	}
}

func (e *sovriumEnv) postgresDsn() string {
	parts, err := url.Parse(e.DatabaseUri)
	if err != nil {
		log.Fatalf("error parsing db uri: %v", err)
	}
	pwd, _ := parts.User.Password()
	dbname := strings.TrimPrefix(parts.Path, "/")
	return fmt.Sprintf("host=%v user=%v password=%v dbname=%v port=%v", parts.Hostname(), parts.User.Username(), pwd, dbname, parts.Port())
}

func initDb(dsn string) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("error opening database connection: %v", err)
	}

	migration := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			// Placeholder representing the initial metadata schema.
			ID:      "0",
			Migrate: func(*gorm.DB) error { return nil },
		},
	})

	migration.InitSchema(func(txn *gorm.DB) error {
		log.Println("clean database detected, running full schema initialization")
		return txn.AutoMigrate(schema.All()...)
	})

	if err := migration.Migrate(); err != nil {
		log.Fatalf("error migrating metadata schema: %v", err)
	}

	return db
}

// appConfig declares the pages and tables of the deployment. Yaml is a
// superset of json so either format loads.
type appConfig struct {
	Pages  []pages.Page             `json:"pages" yaml:"pages"`
	Tables []services.DeployRequest `json:"tables" yaml:"tables"`
}

func loadAppConfig(path string) appConfig {
	if path == "" {
		return appConfig{}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("error reading app config '%v': %v", path, err)
	}

	var config appConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		log.Fatalf("error parsing app config '%v': %v", path, err)
	}

	return config
}

func main() {
	envFile := flag.String("env", "", "File to load env variables from. If not specified will just load them from the environment variables already defined.")
	port := flag.Int("port", 8000, "Port to run server on")
	skipSweep := flag.Bool("skip_sweep", false, "If specified will not run the background session sweep.")
	flag.Parse()

	if *envFile != "" {
		loadEnvFile(*envFile)
	}

	var cfg sovriumEnv
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing environment: %v", err)
	}

	if err := os.MkdirAll(cfg.LogDir, 0777); err != nil {
		log.Fatalf("error creating log dir: %v", err)
	}

	logFile, err := os.OpenFile(filepath.Join(cfg.LogDir, "sovrium.log"), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer logFile.Close()

	auditLog, err := os.OpenFile(filepath.Join(cfg.LogDir, "audit.log"), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
	if err != nil {
		log.Fatalf("error opening audit log file: %v", err)
	}
	defer auditLog.Close()

	logging.Setup(logFile, "sovrium")

	db := initDb(cfg.postgresDsn())

	identityProvider, err := auth.NewBasicIdentityProvider(
		db,
		auth.NewAuditLogger(auditLog),
		auth.BasicProviderArgs{
			Secret:        []byte(cfg.JwtSecret),
			AdminName:     cfg.AdminName,
			AdminEmail:    cfg.AdminEmail,
			AdminPassword: cfg.AdminPassword,
		},
	)
	if err != nil {
		log.Fatalf("error creating identity provider: %v", err)
	}

	config := loadAppConfig(cfg.AppConfigPath)

	pageConfig := &pages.Config{Pages: config.Pages}
	if err := pageConfig.Validate(); err != nil {
		log.Fatalf("invalid page config: %v", err)
	}

	mailer := mail.NewSmtpMailer(cfg.SmtpAddr, cfg.MailFrom)

	platform := services.NewPlatform(db, identityProvider, mailer, pageConfig)

	if err := platform.DeployDeclaredTables(context.Background(), config.Tables); err != nil {
		log.Fatalf("error deploying declared tables: %v", err)
	}

	if !*skipSweep {
		go platform.SessionSweep(time.Minute)
	}

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.PublicOrigin},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Mount("/api", platform.Routes())
	r.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: fmt.Sprintf(":%d", *port), Handler: r}

	go func() {
		slog.Info("starting server", "port", *port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen and serve returned error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")

	if !*skipSweep {
		platform.StopSessionSweep()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("error shutting down server: %v", err)
	}
}
