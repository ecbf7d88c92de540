package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"medguard.org/internal/audit"
	"medguard.org/internal/httpapi"
	"medguard.org/internal/incident"
	"medguard.org/internal/obs"
	"medguard.org/internal/permission"
	"medguard.org/internal/rbac"
	"medguard.org/internal/security"
	"medguard.org/internal/store/pg"
	"medguard.org/internal/stream"
	"medguard.org/internal/threat"
)

var version = "0.3.0"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("MEDGUARD_COMMIT"))

	addr := os.Getenv("MEDGUARD_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	// Access records live in Postgres when a DSN is configured; threats and
	// incidents are in-process either way.
	var (
		accessStore rbac.Store
		db          *sql.DB
	)
	if dsn := os.Getenv("MEDGUARD_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		accessStore = pgStore
		db = pgStore.DB()
	} else {
		accessStore = rbac.NewMemoryStore()
	}

	registry := rbac.NewRegistry()
	if err := seedClinicalRoles(registry); err != nil {
		log.Fatalf("seed roles: %v", err)
	}

	access, err := rbac.NewService(registry, accessStore)
	if err != nil {
		log.Fatalf("access service: %v", err)
	}
	engine := threat.NewEngine()
	tracker, err := incident.NewTracker(engine)
	if err != nil {
		log.Fatalf("incident tracker: %v", err)
	}
	events := stream.New()

	svc, err := security.NewService(security.Config{
		Access:    access,
		Threats:   engine,
		Incidents: tracker,
		Auditor:   audit.NewLogEmitter(),
		Events:    events,
	})
	if err != nil {
		log.Fatalf("security service: %v", err)
	}

	api, err := httpapi.New(httpapi.Config{
		Security:           svc,
		Events:             events,
		Probe:              httpapi.ReadyProbe{DB: db},
		Version:            version,
		RateLimitBurst:     envInt("MEDGUARD_RATE_BURST", 0),
		RateLimitPerSecond: envInt("MEDGUARD_RATE_PER_SECOND", 0),
	})
	if err != nil {
		log.Fatalf("http api: %v", err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting medguard-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

func envInt(name string, def int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		log.Fatalf("invalid %s: %v", name, err)
	}
	return val
}

// seedClinicalRoles registers the platform's standing roles. Deployments
// add tenant-specific roles through the admin API on top of these.
func seedClinicalRoles(registry *rbac.Registry) error {
	ctx := context.Background()
	roles := []rbac.Role{
		{
			Name:        "security_administrator",
			Description: "Full administrative access to the security subsystem",
			Permissions: []permission.Permission{"*"},
		},
		{
			Name:        "physician",
			Description: "Treating physician with full chart access",
			Permissions: []permission.Permission{
				"patient:record:*",
				"imaging:study:read",
				"lab:result:read",
				"prescription:order:*",
			},
		},
		{
			Name:        "radiologist",
			Description: "Imaging specialist",
			Permissions: []permission.Permission{
				"imaging:study:*",
				"patient:record:read",
			},
		},
		{
			Name:        "nurse",
			Description: "Ward nurse",
			Permissions: []permission.Permission{
				"patient:record:read",
				"patient:vitals:*",
				"lab:result:read",
			},
		},
		{
			Name:        "lab_technician",
			Description: "Laboratory staff",
			Permissions: []permission.Permission{
				"lab:result:*",
				"lab:sample:*",
			},
		},
		{
			Name:        "compliance_officer",
			Description: "Read-only access for compliance review",
			Permissions: []permission.Permission{
				"patient:record:read",
				"security:report:read",
				"security:incident:read",
			},
		},
	}
	for _, role := range roles {
		if _, err := registry.Register(ctx, role); err != nil {
			return err
		}
	}
	return nil
}
