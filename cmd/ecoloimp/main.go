package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/ecoloimp/ecoloimp/internal/app"
	"github.com/ecoloimp/ecoloimp/internal/assignments"
	"github.com/ecoloimp/ecoloimp/internal/audit"
	"github.com/ecoloimp/ecoloimp/internal/auth"
	"github.com/ecoloimp/ecoloimp/internal/authz"
	"github.com/ecoloimp/ecoloimp/internal/counters"
	"github.com/ecoloimp/ecoloimp/internal/inventory"
	"github.com/ecoloimp/ecoloimp/internal/observability"
	"github.com/ecoloimp/ecoloimp/internal/orders"
	"github.com/ecoloimp/ecoloimp/internal/platform/cache"
	"github.com/ecoloimp/ecoloimp/internal/platform/db"
	"github.com/ecoloimp/ecoloimp/internal/rbac"
	"github.com/ecoloimp/ecoloimp/internal/reports"
	"github.com/ecoloimp/ecoloimp/internal/roles"
	"github.com/ecoloimp/ecoloimp/internal/shared"
	"github.com/ecoloimp/ecoloimp/internal/users"
	"github.com/ecoloimp/ecoloimp/internal/view"
	"github.com/ecoloimp/ecoloimp/jobs"
	"github.com/ecoloimp/ecoloimp/report"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns, ApplicationName: "ecoloimp"})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	if cfg.MigrationsOnStart {
		if err := db.Migrate(ctx, dbpool, logger); err != nil {
			logger.Error("run migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "ecoloimp_session", cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	if err := metrics.ObservePool(dbpool); err != nil {
		logger.Warn("register pool metrics", slog.Any("error", err))
	}

	defaults, err := authz.NewCatalog(rbac.DefaultDefinition())
	if err != nil {
		logger.Error("build default catalog", slog.Any("error", err))
		os.Exit(1)
	}
	rbacService := rbac.NewService(rbac.NewRepository(dbpool))
	catalogs := rbac.NewCatalogStore(defaults, rbacService, redisClient, logger)
	if err := catalogs.Bootstrap(ctx); err != nil {
		logger.Error("load catalog", slog.Any("error", err))
		os.Exit(1)
	}
	if err := errors.Join(
		assignments.ValidateRules(catalogs.Current()),
		counters.ValidateRules(catalogs.Current()),
		orders.ValidateRules(catalogs.Current()),
	); err != nil {
		logger.Error("validate object rules", slog.Any("error", err))
		os.Exit(1)
	}

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL)
	authService := auth.NewService(auth.NewRepository(dbpool))
	authHandler := auth.NewHandler(logger, authService, tokens, templates, sessionManager, csrfManager)

	guard := rbac.Guard{
		Store:    catalogs,
		Identity: auth.NewIdentityProvider(authService, tokens, logger),
		Logger:   logger,
		Metrics:  metrics,
		Pages:    view.ErrorPages{Engine: templates, CSRF: csrfManager, Logger: logger},
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	jobClient := jobs.NewClient(redisOpts, logger)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)

	usersRepo := users.NewRepository(dbpool)
	usersService := users.NewService(usersRepo, catalogs, auditLogger)
	rolesService := roles.NewService(catalogs, usersRepo)

	assignmentsService := assignments.NewService(assignments.NewRepository(dbpool), auditLogger)
	countersService := counters.NewService(counters.NewRepository(dbpool), auditLogger)
	inventoryService := inventory.NewService(inventory.NewRepository(dbpool), auditLogger, jobClient)
	ordersService := orders.NewService(
		orders.NewRepository(dbpool),
		auditLogger,
		shared.NewLocker(redisClient, cfg.OrderLockTTL),
		jobClient,
	)

	var renderer reports.Renderer
	if cfg.GotenbergURL != "" {
		renderer = report.NewClient(cfg.GotenbergURL, cfg.GotenbergTimeout)
	}
	reportsService := reports.NewService(reports.NewRepository(dbpool), renderer)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Templates:          templates,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		Guard:              guard,
		Metrics:            metrics,
		AuthHandler:        authHandler,
		UsersHandler:       users.NewHandler(logger, usersService, templates, csrfManager, guard),
		RolesHandler:       roles.NewHandler(logger, rolesService, templates, csrfManager, guard),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, catalogs, templates, csrfManager, guard),
		AssignmentsHandler: assignments.NewHandler(logger, assignmentsService, usersService, templates, csrfManager, guard),
		CountersHandler:    counters.NewHandler(logger, countersService, templates, csrfManager, guard),
		InventoryHandler:   inventory.NewHandler(logger, inventoryService, templates, csrfManager, guard),
		OrdersHandler:      orders.NewHandler(logger, ordersService, inventoryService, templates, csrfManager, guard),
		ReportsHandler:     reports.NewHandler(logger, reportsService, templates, csrfManager, guard),
		AuditHandler:       audit.NewHandler(logger, audit.NewService(audit.NewRepository(dbpool)), templates, csrfManager, guard),
		JobHandler:         jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		if err := catalogs.Listen(gctx); err != nil {
			logger.Warn("catalog reload listener stopped", slog.Any("error", err))
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
