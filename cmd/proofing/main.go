package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"suipic/proofing/auth"
	"suipic/proofing/media"
	"suipic/proofing/schema"
	"suipic/proofing/services"
	"suipic/proofing/storage"
	"syscall"

	"github.com/caarlos0/env/v10"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type s3Env struct {
	Endpoint  string `env:"S3_ENDPOINT"`
	Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	AccessKey string `env:"S3_ACCESS_KEY"`
	SecretKey string `env:"S3_SECRET_KEY"`
	Bucket    string `env:"S3_BUCKET"`
}

type keycloakEnv struct {
	ServerUrl     string `env:"KEYCLOAK_SERVER_URL"`
	Realm         string `env:"KEYCLOAK_REALM" envDefault:"suipic"`
	AdminUsername string `env:"KEYCLOAK_ADMIN_USER"`
	AdminPassword string `env:"KEYCLOAK_ADMIN_PASSWORD"`
	SkipTlsVerify bool   `env:"KEYCLOAK_SKIP_TLS_VERIFY"`
	Verbose       bool   `env:"KEYCLOAK_VERBOSE"`
}

/**
 * ==========================================================================
 * ==== All variables used by the proofing server must be loaded here.   ====
 * ==== This is to make the data flow clear so that a user can see what  ====
 * ==== variables are exposed, and how the values are propagated through ====
 * ==== the system.                                                      ====
 * ==========================================================================
 */
type proofingEnv struct {
	PublicUrl   string `env:"PUBLIC_URL,required"`
	DatabaseUri string `env:"DATABASE_URI,required"`
	DataDir     string `env:"DATA_DIR,required"`
	JwtSecret   string `env:"JWT_SECRET,required"`

	AdminEmail    string `env:"ADMIN_MAIL,required"`
	AdminPassword string `env:"ADMIN_PASSWORD"`

	// AdminIdentityKey is required when the identity provider is keycloak, it
	// is the subject of the bootstrap admin in the identity realm.
	IdentityProvider string `env:"IDENTITY_PROVIDER" envDefault:"basic"`
	AdminIdentityKey string `env:"ADMIN_IDENTITY_KEY"`

	Keycloak keycloakEnv `env:""`
	S3       s3Env       `env:""`
}

func loadEnv() (*proofingEnv, error) {
	cfg := &proofingEnv{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	switch cfg.IdentityProvider {
	case "basic":
		if cfg.AdminPassword == "" {
			return nil, fmt.Errorf("ADMIN_PASSWORD is required with the basic identity provider")
		}
	case "keycloak":
		if cfg.Keycloak.ServerUrl == "" || cfg.AdminIdentityKey == "" {
			return nil, fmt.Errorf("KEYCLOAK_SERVER_URL and ADMIN_IDENTITY_KEY are required with the keycloak identity provider")
		}
	default:
		return nil, fmt.Errorf("IDENTITY_PROVIDER must be 'basic' or 'keycloak', got '%v'", cfg.IdentityProvider)
	}

	return cfg, nil
}

func initLogging(logFile *os.File) {
	log.SetFlags(log.Lshortfile | log.Ltime | log.Ldate)
	log.SetOutput(io.MultiWriter(logFile, os.Stderr))
	slog.Info("logging initialized", "log_file", logFile.Name())
}

func postgresDsn(databaseUri string) string {
	parts, err := url.Parse(databaseUri)
	if err != nil {
		log.Fatalf("error parsing db uri: %v", err)
	}
	pwd, _ := parts.User.Password()
	dbname := strings.TrimPrefix(parts.Path, "/")
	return fmt.Sprintf("host=%v user=%v password=%v dbname=%v port=%v", parts.Hostname(), parts.User.Username(), pwd, dbname, parts.Port())
}

func initDb(databaseUri string) *gorm.DB {
	var dialector gorm.Dialector
	if strings.HasPrefix(databaseUri, "postgres://") || strings.HasPrefix(databaseUri, "postgresql://") {
		dialector = postgres.Open(postgresDsn(databaseUri))
	} else {
		dialector = sqlite.Open(databaseUri)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		log.Fatalf("error opening database connection: %v", err)
	}

	err = db.AutoMigrate(
		&schema.User{}, &schema.Album{}, &schema.AlbumCollaborator{},
		&schema.AlbumClient{}, &schema.Image{}, &schema.Rating{},
		&schema.Flag{}, &schema.Comment{},
	)
	if err != nil {
		log.Fatalf("error migrating db schema: %v", err)
	}

	return db
}

func runApp() error {
	envFile := flag.String("env", "", "File to load env variables from. If not specified will just load them from the environment variables already defined.")
	port := flag.Int("port", 8000, "Port to run server on")

	flag.Parse()

	if *envFile != "" {
		slog.Info(fmt.Sprintf("loading env from file %v", *envFile))
		if err := godotenv.Load(*envFile); err != nil {
			return fmt.Errorf("error loading .env file '%v': %w", *envFile, err)
		}
	}

	env, err := loadEnv()
	if err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := os.MkdirAll(filepath.Join(env.DataDir, "logs"), 0777); err != nil {
		return fmt.Errorf("error creating log dir: %w", err)
	}

	logFile, err := os.OpenFile(filepath.Join(env.DataDir, "logs/proofing.log"), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
	if err != nil {
		return fmt.Errorf("error opening log file: %w", err)
	}
	defer logFile.Close()

	auditLog, err := os.OpenFile(filepath.Join(env.DataDir, "logs/audit.log"), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
	if err != nil {
		return fmt.Errorf("error opening audit log file: %w", err)
	}
	defer auditLog.Close()

	initLogging(logFile)

	db := initDb(env.DatabaseUri)

	var disk *storage.DiskGateway
	var store storage.Gateway
	if env.S3.Bucket != "" {
		store, err = storage.NewS3Gateway(context.Background(), storage.S3Config{
			Endpoint:  env.S3.Endpoint,
			Region:    env.S3.Region,
			AccessKey: env.S3.AccessKey,
			SecretKey: env.S3.SecretKey,
			Bucket:    env.S3.Bucket,
		})
		if err != nil {
			return fmt.Errorf("error creating s3 storage gateway: %w", err)
		}
	} else {
		disk = storage.NewDiskGateway(filepath.Join(env.DataDir, "objects"), env.PublicUrl, []byte(env.JwtSecret))
		store = disk
	}

	var identityProvider auth.IdentityProvider
	if env.IdentityProvider == "keycloak" {
		identityProvider, err = auth.NewKeycloakIdentityProvider(
			db,
			auth.NewAuditLogger(auditLog),
			auth.KeycloakArgs{
				KeycloakServerUrl:     env.Keycloak.ServerUrl,
				Realm:                 env.Keycloak.Realm,
				KeycloakAdminUsername: env.Keycloak.AdminUsername,
				KeycloakAdminPassword: env.Keycloak.AdminPassword,
				AdminIdentityKey:      env.AdminIdentityKey,
				AdminEmail:            env.AdminEmail,
				SkipTlsVerify:         env.Keycloak.SkipTlsVerify,
				Verbose:               env.Keycloak.Verbose,
			},
		)
		if err != nil {
			return fmt.Errorf("error creating keycloak identity provider: %w", err)
		}
	} else {
		identityProvider, err = auth.NewBasicIdentityProvider(
			db,
			auth.NewAuditLogger(auditLog),
			auth.BasicProviderArgs{
				Secret:        []byte(env.JwtSecret),
				AdminEmail:    env.AdminEmail,
				AdminPassword: env.AdminPassword,
			},
		)
		if err != nil {
			return fmt.Errorf("error creating basic identity provider: %w", err)
		}
	}

	pipeline := media.NewPipeline(store, media.DefaultConfig())

	platform := services.NewPlatform(db, store, pipeline, identityProvider)

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{env.PublicUrl},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Mount("/api/v1", platform.Routes())
	r.Handle("/metrics", promhttp.Handler())
	if disk != nil {
		r.Get("/files", disk.FileHandler())
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: r,
	}

	idleConnsClosed := make(chan struct{})
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutdown signal received")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("HTTP server Shutdown", "err", err)
		}
		close(idleConnsClosed)
	}()

	slog.Info("starting server", "port", *port)
	err = srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve returned error: %w", err)
	}

	<-idleConnsClosed
	return nil
}

func main() {
	if err := runApp(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}
