package main

import (
	"context"
	"log"
	"net/http"

	"github.com/cpp-cyber/ldapauth/internal/api/handlers"
	"github.com/cpp-cyber/ldapauth/internal/api/middleware"
	"github.com/cpp-cyber/ldapauth/internal/api/routes"
	"github.com/cpp-cyber/ldapauth/internal/auth"
	"github.com/cpp-cyber/ldapauth/internal/ldap"
	"github.com/cpp-cyber/ldapauth/internal/locking"
	"github.com/cpp-cyber/ldapauth/internal/metrics"
	"github.com/cpp-cyber/ldapauth/internal/store"
	"github.com/cpp-cyber/ldapauth/internal/tracing"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Config holds all application configuration
type Config struct {
	Port           string `envconfig:"PORT" default:":8080"`
	SessionSecret  string `envconfig:"SESSION_SECRET" default:"default-secret-key"`
	SessionMaxAge  int    `envconfig:"SESSION_MAX_AGE" default:"3600"`
	SecureCookies  bool   `envconfig:"SECURE_COOKIES" default:"true"`
	CORSOrigin     string `envconfig:"CORS_ORIGIN"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"false"`
}

// init the environment
func init() {
	_ = godotenv.Load()
}

func main() {
	gin.SetMode(gin.ReleaseMode)

	// Load and parse configuration from environment variables
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		log.Fatalf("Failed to process environment configuration: %v", err)
	}

	ldapConfig, err := ldap.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load LDAP configuration: %v", err)
	}

	dbConfig, err := store.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load database configuration: %v", err)
	}

	lockConfig, err := locking.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load lock configuration: %v", err)
	}

	tracingConfig, err := tracing.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load tracing configuration: %v", err)
	}

	shutdownTracing, err := tracing.Init(context.Background(), tracingConfig)
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer shutdownTracing(context.Background())

	// Refuse to start against a directory we cannot reach or bind to
	directory := ldap.NewClient(ldapConfig, nil)
	if err := directory.Ping(context.Background()); err != nil {
		log.Fatalf("LDAP pre-flight check failed: %v", err)
	}

	db, err := store.NewFromConfig(dbConfig)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	var reconcilerOpts []auth.ReconcilerOption
	if lockConfig.Enabled() {
		locker := locking.New(lockConfig)
		if err := locker.Ping(context.Background()); err != nil {
			log.Fatalf("Failed to connect to Redis at %s: %v", lockConfig.Addr, err)
		}
		defer locker.Close()
		reconcilerOpts = append(reconcilerOpts, auth.WithProvisionLock(locker))
		log.Printf("[INFO] API: Provisioning lock enabled via Redis at %s", lockConfig.Addr)
	}

	recorder := metrics.Init(config.MetricsEnabled)
	authService := auth.NewAuthService(directory, auth.NewReconciler(db, db, reconcilerOpts...), recorder)
	authHandler := handlers.NewAuthHandler(authService, db, recorder)

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(otelgin.Middleware(tracing.ServiceName))
	r.Use(metrics.HTTPMetricsMiddleware(recorder))
	if config.CORSOrigin != "" {
		r.Use(middleware.CORSMiddleware(config.CORSOrigin))
	}

	// Setup session middleware
	sessionStore := cookie.NewStore([]byte(config.SessionSecret))
	sessionStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   config.SessionMaxAge,
		HttpOnly: true,
		Secure:   config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions("session", sessionStore))

	routes.RegisterRoutes(r, authHandler, db, config.MetricsEnabled)

	log.Printf("[INFO] API: Listening on %s", config.Port)
	if err := r.Run(config.Port); err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
}
