// PO Resolve Engine
//
// Standalone binary for the purchase-order worklist dispatch engine:
// ingests supplier/PO spreadsheets, batches and dispatches them to the
// voice-agent provider, reconciles webhook callbacks, and serves the
// stats/query API.
//
//	@title			Purchase Order Resolve Engine API
//	@version		1.0
//	@description	Batch dispatch and lifecycle engine for purchase-order worklists.
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@securityDefinitions.apikey	WebhookSecret
//	@in							header
//	@name						x-api-key
//	@description				Shared secret configured as AGENT_WEBHOOK_SECRET
//
//go:generate swag init -g main.go -o ../../docs
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.mongodb.org/mongo-driver/mongo"

	_ "go.poresolve.tech/docs"
	"go.poresolve.tech/internal/agentprovider"
	"go.poresolve.tech/internal/batchbuilder"
	"go.poresolve.tech/internal/callbackscheduler"
	"go.poresolve.tech/internal/common/health"
	"go.poresolve.tech/internal/common/lifecycle"
	dbhelpers "go.poresolve.tech/internal/common/mongo"
	"go.poresolve.tech/internal/config"
	"go.poresolve.tech/internal/dispatcher"
	"go.poresolve.tech/internal/domain/activitylog"
	"go.poresolve.tech/internal/domain/agentrun"
	"go.poresolve.tech/internal/domain/batch"
	"go.poresolve.tech/internal/domain/batchlog"
	"go.poresolve.tech/internal/domain/conflict"
	"go.poresolve.tech/internal/domain/purchaseorder"
	"go.poresolve.tech/internal/domain/supplier"
	"go.poresolve.tech/internal/domain/uploadjob"
	"go.poresolve.tech/internal/eventbus"
	"go.poresolve.tech/internal/platform/api"
	"go.poresolve.tech/internal/queuestore"
	"go.poresolve.tech/internal/statsapi"
	"go.poresolve.tech/internal/upload"
	"go.poresolve.tech/internal/webhook"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	setupLogging()

	slog.Info("Starting PO Resolve engine",
		"version", version,
		"build_time", buildTime)

	ctx := context.Background()

	// ========================================
	// 1. INFRASTRUCTURE INITIALIZATION
	// ========================================
	app, cleanup, err := lifecycle.Initialize(ctx, lifecycle.AppOptions{
		NeedsMongoDB: true,
		NeedsRedis:   true,
	})
	if err != nil {
		slog.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	bus, busCleanup, err := setupEventBus(app.Config)
	if err != nil {
		slog.Error("Failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busCleanup()

	dbClient := dbhelpers.WrapClient(app.MongoClient, app.DB)
	if err := dbhelpers.NewIndexInitializer(dbClient).Initialize(ctx); err != nil {
		slog.Error("Failed to initialize MongoDB indexes", "error", err)
		os.Exit(1)
	}

	// ========================================
	// 2. COMPONENT WIRING
	// ========================================
	repos := newRepositories(app.DB)
	queue := queuestore.New(app.Redis)
	provider := agentprovider.New(agentProviderConfig(app.Config))

	builder := batchbuilder.New(repos.pos, repos.batches, queue, bus, app.Config.Dispatch.MaxPOsPerBatch)

	dispatcherRunning := new(atomic.Bool)
	dispatch := dispatcher.New(dispatcher.Deps{
		Queue:     queue,
		Batches:   repos.batches,
		POs:       repos.pos,
		Suppliers: repos.suppliers,
		AgentRuns: repos.agentRuns,
		Logs:      repos.logs,
		Bus:       bus,
		Provider:  provider,
	}, dispatchConfig(app.Config), app.DB)

	callbacks := callbackscheduler.New(callbackscheduler.Deps{
		Queue:   queue,
		Batches: repos.batches,
	}, callbackConfig(app.Config), app.DB)

	reconciler := webhook.NewReconciler(webhook.Deps{
		Batches:      repos.batches,
		POs:          repos.pos,
		AgentRuns:    repos.agentRuns,
		Logs:         repos.logs,
		Conflicts:    repos.conflicts,
		ActivityLogs: repos.activityLogs,
		Queue:        queue,
		Bus:          bus,
	})
	webhookHandler := webhook.NewHandler(reconciler)

	uploadCoordinator := upload.New(upload.Deps{
		Jobs:      repos.uploadJobs,
		Suppliers: repos.suppliers,
		POs:       repos.pos,
		Conflicts: repos.conflicts,
		Builder:   builder,
		Bus:       bus,
	}, app.Config.Dispatch.BatchProcessingChunkSize, 4)
	uploadHandler := upload.NewHandler(repos.uploadJobs, nil, uploadCoordinator, bus)

	statsHandler := statsapi.NewHandler(statsapi.Deps{
		Batches:    repos.batches,
		POs:        repos.pos,
		Suppliers:  repos.suppliers,
		Conflicts:  repos.conflicts,
		AgentRuns:  repos.agentRuns,
		Logs:       repos.logs,
		Queue:      queue,
		Dispatcher: dispatch,
		Bus:        bus,
	})

	healthChecker := health.NewChecker()
	healthChecker.AddReadinessCheck(health.MongoDBCheck(func() error {
		return app.MongoClient.Ping(ctx, nil)
	}))
	healthChecker.AddReadinessCheck(health.RedisCheck(func() error {
		return app.Redis.Ping(ctx).Err()
	}))
	healthChecker.AddLivenessCheck(health.DispatcherCheck(dispatcherRunning.Load, dispatch.IsPrimary))

	// ========================================
	// 3. HTTP ROUTER
	// ========================================
	httpRouter := setupHTTPRouter(app, healthChecker, webhookHandler, uploadHandler, statsHandler)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", app.Config.HTTP.Port),
		Handler:      httpRouter,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	httpService := lifecycle.NewHTTPService("po-resolve-http", httpServer)

	dispatcherService := lifecycle.NewServiceFunc("dispatcher",
		func(ctx context.Context) error {
			dispatch.Start()
			dispatcherRunning.Store(true)
			<-ctx.Done()
			return nil
		},
		func(ctx context.Context) error {
			dispatch.Stop()
			dispatcherRunning.Store(false)
			return nil
		},
	).WithHealth(func() error {
		if !dispatcherRunning.Load() {
			return fmt.Errorf("dispatcher not running")
		}
		return nil
	})

	callbackService := lifecycle.NewServiceFunc("callback-scheduler",
		func(ctx context.Context) error {
			callbacks.Start()
			<-ctx.Done()
			return nil
		},
		func(ctx context.Context) error {
			callbacks.Stop()
			return nil
		},
	)

	slog.Info("PO Resolve engine ready", "port", app.Config.HTTP.Port)

	// ========================================
	// 4. RUN UNTIL SHUTDOWN
	// ========================================
	if err := lifecycle.Run(ctx, dispatcherService, callbackService, httpService); err != nil {
		slog.Error("Service error", "error", err)
		os.Exit(1)
	}

	slog.Info("PO Resolve engine stopped")
}

// setupLogging configures the slog default logger.
func setupLogging() {
	logLevel := slog.LevelInfo
	if os.Getenv("PORESOLVE_DEV") == "true" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// setupEventBus starts an embedded event bus server or dials an external
// one, per NATSConfig.Embedded — a deployment decision lifecycle.Initialize
// deliberately leaves to the caller.
func setupEventBus(cfg *config.Config) (*eventbus.Bus, func(), error) {
	if cfg.NATS.Embedded {
		srv, err := eventbus.NewEmbeddedServer(&eventbus.EmbeddedConfig{Host: "127.0.0.1", Port: 4222})
		if err != nil {
			return nil, nil, err
		}
		return srv.Bus(), func() { srv.Close() }, nil
	}

	conn, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial event bus: %w", err)
	}
	return eventbus.New(conn), func() { conn.Close() }, nil
}

type repositories struct {
	batches      *batch.Repository
	pos          *purchaseorder.Repository
	suppliers    *supplier.Repository
	conflicts    *conflict.Repository
	agentRuns    *agentrun.Repository
	logs         *batchlog.Repository
	activityLogs *activitylog.Repository
	uploadJobs   *uploadjob.Repository
}

func newRepositories(db *mongo.Database) *repositories {
	return &repositories{
		batches:      batch.NewRepository(db),
		pos:          purchaseorder.NewRepository(db),
		suppliers:    supplier.NewRepository(db),
		conflicts:    conflict.NewRepository(db),
		agentRuns:    agentrun.NewRepository(db),
		logs:         batchlog.NewRepository(db),
		activityLogs: activitylog.NewRepository(db),
		uploadJobs:   uploadjob.NewRepository(db),
	}
}

func dispatchConfig(cfg *config.Config) *dispatcher.Config {
	return &dispatcher.Config{
		PollInterval:         cfg.Dispatch.QueuePollInterval,
		MaxConcurrentCalls:   cfg.Dispatch.MaxConcurrentCalls,
		MaxAttempts:          cfg.Dispatch.MaxAttempts,
		SupplierRequeueDelay: cfg.Dispatch.SupplierRequeueDelay,
		StaleThreshold:       cfg.Dispatch.StaleProcessingThreshold,
		StaleCheckInterval:   5 * time.Minute,
		AppURL:               cfg.HTTP.AppURL,
		LeaderElection: dispatcher.LeaderElectionConfig{
			Enabled:         cfg.Leader.Enabled,
			InstanceID:      cfg.Leader.InstanceID,
			TTL:             cfg.Leader.TTL,
			RefreshInterval: cfg.Leader.RefreshInterval,
		},
	}
}

func callbackConfig(cfg *config.Config) *callbackscheduler.Config {
	return &callbackscheduler.Config{
		PollInterval: cfg.Callback.PollInterval,
		BatchSize:    cfg.Callback.BatchSize,
		LeaderElection: callbackscheduler.LeaderElectionConfig{
			Enabled:         cfg.Leader.Enabled,
			InstanceID:      cfg.Leader.InstanceID,
			TTL:             cfg.Leader.TTL,
			RefreshInterval: cfg.Leader.RefreshInterval,
		},
	}
}

func agentProviderConfig(cfg *config.Config) *agentprovider.Config {
	c := agentprovider.DefaultConfig(cfg.Agent.ProviderURL)
	c.APIKey = cfg.Agent.ProviderAPIKey
	c.Timeout = cfg.Agent.RequestTimeout
	c.RateLimitPerSecond = cfg.Agent.RateLimitPerSecond
	c.RateLimitBurst = cfg.Agent.RateLimitBurst
	return c
}

// setupHTTPRouter creates the HTTP router with all routes and middleware,
// grounded on the teacher's setupHTTPRouter/mountXRoutes split.
func setupHTTPRouter(
	app *lifecycle.App,
	healthChecker *health.Checker,
	webhookHandler *webhook.Handler,
	uploadHandler *upload.Handler,
	statsHandler *statsapi.Handler,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   app.Config.HTTP.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/q/health", healthChecker.HandleHealth)
	r.Get("/q/health/live", healthChecker.HandleLive)
	r.Get("/q/health/ready", healthChecker.HandleReady)

	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/q/metrics", promhttp.Handler())

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	r.Mount("/webhooks/agent", webhookHandler.Routes(app.Config.Agent.WebhookSecret))
	r.Mount("/upload", uploadHandler.Routes())
	r.Mount("/", statsHandler.Routes())

	resetRoutes := statsHandler.ResetRoutes()
	r.With(api.RequireResetConfirmation(app.Config.Dispatch.ResetConfirmToken)).
		Post("/reset", func(w http.ResponseWriter, r *http.Request) {
			resetRoutes.ServeHTTP(w, r)
		})

	return r
}
