package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"go.uber.org/zap"

	"github.com/noema-dev/noema-engine/pkg/blob"
	"github.com/noema-dev/noema-engine/pkg/config"
	"github.com/noema-dev/noema-engine/pkg/database"
	"github.com/noema-dev/noema-engine/pkg/dispatch"
	"github.com/noema-dev/noema-engine/pkg/events"
	"github.com/noema-dev/noema-engine/pkg/executors"
	"github.com/noema-dev/noema-engine/pkg/handlers"
	"github.com/noema-dev/noema-engine/pkg/logging"
	"github.com/noema-dev/noema-engine/pkg/middleware"
	"github.com/noema-dev/noema-engine/pkg/models"
	"github.com/noema-dev/noema-engine/pkg/policy"
	"github.com/noema-dev/noema-engine/pkg/projections"
	"github.com/noema-dev/noema-engine/pkg/realtime"
	"github.com/noema-dev/noema-engine/pkg/registry"
	"github.com/noema-dev/noema-engine/pkg/repositories"
	"github.com/noema-dev/noema-engine/pkg/router"
	"github.com/noema-dev/noema-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if err := run(); err != nil {
		log.Fatalf("noema-engine failed: %v", err)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Database.Host = config.ResolveHostForDocker(cfg.Database.Host)
	cfg.Redis.Host = config.ResolveHostForDocker(cfg.Redis.Host)

	logger, err := newLogger(cfg.Env)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.String("redis_host", cfg.Redis.Host),
		zap.String("blob_root", cfg.Blob.Root))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database and migrations
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	if err := database.RunMigrations(sqlDB, cfg.Database.MigrationsPath, logger); err != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	_ = sqlDB.Close()

	provider := database.NewTenantScopeProvider(db)

	// Blob store
	blobs, err := blob.NewFSStore(cfg.Blob.Root)
	if err != nil {
		return fmt.Errorf("failed to create blob store: %w", err)
	}

	// Event store
	store := events.NewPostgresStore(db, logger)

	// Projection engine over the per-aggregate repositories
	entityRepo := repositories.NewEntityRepository()
	documentRepo := repositories.NewDocumentRepository()
	workspaceRepo := repositories.NewWorkspaceRepository()
	projectRepo := repositories.NewProjectRepository()
	relationRepo := repositories.NewRelationRepository()
	tagRepo := repositories.NewTagRepository()

	engine, err := projections.NewEngine(logger,
		projections.NewEntityProjector(entityRepo, documentRepo, relationRepo),
		projections.NewDocumentProjector(documentRepo, entityRepo),
		projections.NewWorkspaceProjector(workspaceRepo),
		projections.NewProjectProjector(projectRepo),
		projections.NewRelationProjector(relationRepo),
		projections.NewTagProjector(tagRepo),
	)
	if err != nil {
		return fmt.Errorf("failed to create projection engine: %w", err)
	}
	replayer := projections.NewReplayer(store, provider, engine, logger)

	// Extension registries with the core executors and validation rules
	executorReg := registry.NewExecutorRegistry()
	if err := executors.RegisterCore(executorReg, cfg.Version, store, provider, engine, blobs, logger); err != nil {
		return fmt.Errorf("failed to register core executors: %w", err)
	}

	ruleReg := registry.NewRuleRegistry()
	if err := registerCoreRules(ruleReg, cfg.Version); err != nil {
		return fmt.Errorf("failed to register core validation rules: %w", err)
	}

	// Validation policy over workspace settings
	settingsReader := repositories.NewScopedSettingsReader(provider, workspaceRepo)
	policySvc := policy.NewService(ruleReg, settingsReader, logger)

	// Real-time fan-out, with Redis bridging when configured
	hub := realtime.NewHub(logger)
	var bridge *realtime.Bridge
	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		bridge = realtime.NewBridge(redisClient, hub, logger)
		go func() {
			if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("Realtime bridge stopped", zap.Error(err))
			}
		}()
	}

	// Dispatcher: the at-least-once delivery substrate
	dispatcher := dispatch.New(store, logger,
		dispatch.WithRetryConfig(dispatch.RetryConfig{
			MaxAttempts:    cfg.Pipeline.MaxAttempts,
			InitialBackoff: cfg.Pipeline.InitialBackoff,
			MaxBackoff:     cfg.Pipeline.MaxBackoff,
			BackoffFactor:  2.0,
		}),
		dispatch.WithStepTimeout(cfg.Pipeline.StepTimeout),
		dispatch.WithMaxConcurrentPerAggregate(cfg.Pipeline.MaxConcurrentPerAggregate),
		dispatch.WithOnExhausted(executors.FailureRecorder(store, logger)),
	)
	dispatcher.Subscribe(models.PhaseRequested, "", router.New(store, policySvc, logger))
	dispatcher.Subscribe(models.PhaseValidated, "", executors.DispatchHandler(executorReg, logger))

	// Append hooks: dispatch first, then the real-time push
	store.AddHook(func(hookCtx context.Context, event *models.Event) {
		dispatcher.Enqueue(event)
	})
	store.AddHook(realtime.StoreHook(hub, bridge, logger))

	dispatcher.Start()
	defer dispatcher.Stop()

	// Application services
	commandSvc := services.NewCommandService(store, executorReg, logger)
	validationSvc := services.NewValidationService(store, policySvc, logger)
	insightSvc := services.NewInsightService(commandSvc, logger)
	querySvc := services.NewQueryService(store, entityRepo, blobs, logger)

	// HTTP surface
	mux := http.NewServeMux()
	requireUser := handlers.RequireUser(logger)
	tenant := handlers.TenantMiddleware(provider, logger)

	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewCommandHandler(commandSvc, querySvc, logger).RegisterRoutes(mux, requireUser, tenant)
	handlers.NewValidationHandler(validationSvc, logger).RegisterRoutes(mux, requireUser)
	handlers.NewInsightHandler(insightSvc, logger).RegisterRoutes(mux, requireUser)
	handlers.NewStreamHandler(hub, cfg.Pipeline.HeartbeatInterval, logger).RegisterRoutes(mux, requireUser)
	handlers.NewReplayHandler(replayer, logger).RegisterRoutes(mux, requireUser)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting noema-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// registerCoreRules installs the global-default validation rules. Creates and
// updates of the built-in aggregates run on the fast path; no delete rules
// are registered, so deletes stay behind the system-wide gate.
func registerCoreRules(reg *registry.RuleRegistry, version string) error {
	meta := registry.Metadata{Version: version, Source: registry.SourceCore}
	aggregates := []string{
		models.AggregateEntity,
		models.AggregateDocument,
		models.AggregateWorkspace,
		models.AggregateProject,
		models.AggregateRelation,
		models.AggregateTag,
	}
	for _, aggregate := range aggregates {
		for _, action := range []string{models.ActionCreate, models.ActionUpdate} {
			rule := registry.ValidationRule{
				RequiresValidation: false,
				Reason:             "core default: " + action + " runs on the fast path",
			}
			if err := reg.Register(aggregate, action, rule, meta); err != nil {
				return err
			}
		}
	}
	return nil
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" || env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
