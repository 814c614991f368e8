package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/epi-checker/checker/internal/auditlog"
	"github.com/epi-checker/checker/internal/authguard"
	"github.com/epi-checker/checker/internal/httpapi"
	"github.com/epi-checker/checker/pkg/database"
	"github.com/epi-checker/checker/pkg/deliberation"
	"github.com/epi-checker/checker/pkg/policystore"
	"github.com/epi-checker/checker/pkg/reasoner"
	"github.com/epi-checker/checker/pkg/reasoner/backend"
	"github.com/epi-checker/checker/pkg/signing"
	"github.com/epi-checker/checker/pkg/stateresolver"
	"github.com/epi-checker/checker/pkg/telemetry"
	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: No .env file found")
	}

	telemetryConfig := telemetry.GetConfigFromEnv()
	shutdown := telemetry.Initialize(telemetryConfig)
	defer shutdown()

	dbConfig := database.GetConfigFromEnv()
	db, err := database.Initialize(dbConfig)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	if err := policystore.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to run policy store migrations: %v", err)
	}
	if err := auditlog.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to run audit log migrations: %v", err)
	}

	if err := signing.Init(); err != nil {
		log.Fatalf("Failed to initialize verdict signing: %v", err)
	}
	log.Println("Verdict signing subsystem initialized (HMAC-SHA256)")

	ctx, cancelGuards := context.WithCancel(context.Background())
	defer cancelGuards()

	deliberationGuard, err := authguard.NewGuard(
		ctx,
		mustEnv("DELIBERATION_JWKS_URL"),
		os.Getenv("DELIBERATION_JWT_ISSUER"),
		os.Getenv("DELIBERATION_JWT_AUDIENCE"),
		15*time.Minute,
	)
	if err != nil {
		log.Fatalf("Failed to initialize deliberation auth guard: %v", err)
	}

	managementGuard, err := authguard.NewGuard(
		ctx,
		mustEnv("MANAGEMENT_JWKS_URL"),
		os.Getenv("MANAGEMENT_JWT_ISSUER"),
		os.Getenv("MANAGEMENT_JWT_AUDIENCE"),
		15*time.Minute,
	)
	if err != nil {
		log.Fatalf("Failed to initialize management auth guard: %v", err)
	}

	store := policystore.New(db)
	if err := store.WarmCache(); err != nil {
		log.Fatalf("Failed to warm policy store cache: %v", err)
	}

	resolvers := buildResolverRegistry()

	activeBackend, backends := buildBackendRegistry()
	connector := reasoner.NewConnector(backends, activeBackend.Name(), activeBackend.Version())
	pool := reasoner.NewPool(connector, backends, reasoner.DefaultPoolConfig(), []backend.Name{activeBackend.Name()})

	auditor := auditlog.New(db)
	engine := deliberation.NewEngineWithPool(store, resolvers, pool, auditor)

	app := fiber.New(fiber.Config{
		AppName: "Policy Deliberation Service",
	})

	app.Use(otelfiber.Middleware())
	app.Use(cors.New())
	app.Use(logger.New())
	app.Use(recover.New())

	httpapi.Setup(app, engine, store, auditor, deliberationGuard, managementGuard)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		log.Println("Gracefully shutting down server...")
		app.Shutdown()
	}()

	log.Printf("Starting Policy Deliberation Service on port %s", port)
	log.Fatal(app.Listen(":" + port))
}

// buildResolverRegistry wires one state resolver per use case this
// deployment knows how to deliberate over. Use cases with no resolver
// registered here always deny with UnknownUseCase — adding a use case
// means adding its resolver, never defaulting to allow.
func buildResolverRegistry() *stateresolver.Registry {
	var resolvers []stateresolver.Resolver

	if url := os.Getenv("RELEASE_GATE_STATE_URL"); url != "" {
		resolvers = append(resolvers, stateresolver.NewHTTP("release-gate", url, os.Getenv("RELEASE_GATE_STATE_TOKEN")))
	}
	if url := os.Getenv("DATA_ACCESS_STATE_URL"); url != "" {
		resolvers = append(resolvers, stateresolver.NewHTTP("data-access", url, os.Getenv("DATA_ACCESS_STATE_TOKEN")))
	}

	return stateresolver.NewRegistry(resolvers...)
}

// buildBackendRegistry constructs every known backend implementation (so
// it can be resolved by name) and reports which one this deployment
// actually compiles policies against. Exactly one backend is active per
// deployment (spec.md §4.B's connector-declared (reasoner,
// reasoner_version) pair); REASONER_BACKEND picks it, defaulting to the
// backend that needs no external reasoner process to exercise in dev.
func buildBackendRegistry() (backend.Backend, *backend.Registry) {
	all := map[backend.Name]backend.Backend{
		backend.NoOp:    backend.NewNoOp(),
		backend.OPA:     backend.NewOPA("data.checker.allow"),
		backend.Eflint:  backend.NewEflint(envOrDefault("EFLINT_REASONER_URL", "http://localhost:9090"), http.DefaultClient),
		backend.PosixFs: backend.NewPosixFs(envOrDefault("POSIXFS_DECISIONS_DIR", "./decisions")),
	}

	registry := backend.NewRegistry(all[backend.NoOp], all[backend.OPA], all[backend.Eflint], all[backend.PosixFs])

	activeName := backend.Name(envOrDefault("REASONER_BACKEND", string(backend.NoOp)))
	active, ok := all[activeName]
	if !ok {
		log.Fatalf("REASONER_BACKEND %q is not a known backend", activeName)
	}
	return active, registry
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("required environment variable %s is not set", key)
	}
	return v
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
