package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	_ "github.com/lib/pq"

	"inventoryhub/dashboard/internal/apiclient"
	"inventoryhub/dashboard/internal/audit"
	"inventoryhub/dashboard/internal/auth"
	"inventoryhub/dashboard/internal/config"
	"inventoryhub/dashboard/internal/guard"
	"inventoryhub/dashboard/internal/httpserver"
	"inventoryhub/dashboard/internal/inventory"
	"inventoryhub/dashboard/internal/migrations"
	"inventoryhub/dashboard/internal/observability"
)

type App struct {
	cfg     config.Config
	log     *slog.Logger
	closers []io.Closer
	manager *auth.Manager
	server  *httpserver.Server
}

func New(cfg config.Config) (*App, error) {
	return newApp(context.Background(), cfg, observability.NewLogger(cfg.Log.Level, cfg.Log.Format))
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, log: logger}

	kv, err := a.openTokenBackend(ctx)
	if err != nil {
		a.closeAll()
		return nil, err
	}
	store, err := auth.NewStore(kv)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("create token store: %w", err)
	}

	client, err := apiclient.New(apiclient.Config{
		BaseURL:         cfg.API.BaseURL,
		HTTPClient:      &http.Client{Timeout: cfg.API.Timeout},
		Store:           store,
		CoalesceRefresh: cfg.API.CoalesceRefresh,
		Logger:          logger,
	})
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("create api client: %w", err)
	}

	location := auth.NewLocation(auth.LoginPath)
	auditLogger := audit.NewLogger(cfg.AuditLogFile)
	manager, err := auth.NewManager(store, client, auth.ManagerConfig{
		Navigator: location,
		Logger:    logger,
		Audit:     auditLogger,
	})
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("create session manager: %w", err)
	}
	client.SetSessionExpiredHandler(manager.Expire)

	routes, err := guard.LoadRoutes(cfg.RoutesFile)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("load routes: %w", err)
	}
	inv, err := inventory.New(client, logger)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("create inventory service: %w", err)
	}

	a.manager = manager
	a.server = httpserver.New(cfg.HTTP, httpserver.Deps{
		Session:   manager,
		Tokens:    store,
		Location:  location,
		Routes:    routes,
		Inventory: inv,
		API:       client,
		Audit:     auditLogger,
		Logger:    logger,
	})
	logger.Info("dashboard configured",
		"api", client.BaseURL(),
		"token_store", cfg.TokenStore.Backend,
		"coalesce_refresh", cfg.API.CoalesceRefresh,
	)
	return a, nil
}

func (a *App) openTokenBackend(ctx context.Context) (auth.KV, error) {
	switch a.cfg.TokenStore.Backend {
	case config.BackendMemory:
		return auth.NewMemoryKV(), nil
	case config.BackendPostgres:
		db, err := sql.Open("postgres", a.cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		a.closers = append(a.closers, db)
		mig, err := migrations.NewService(ctx, db, nil, a.log)
		if err != nil {
			return nil, fmt.Errorf("prepare migrations: %w", err)
		}
		if _, err := mig.Apply(ctx); err != nil {
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		kv, err := auth.NewPostgresKV(db, a.cfg.TokenStore.Namespace)
		if err != nil {
			return nil, fmt.Errorf("create postgres token store: %w", err)
		}
		return kv, nil
	case config.BackendRedis:
		client, err := auth.OpenRedis(ctx, a.cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client)
		kv, err := auth.NewRedisKV(client, a.cfg.TokenStore.Namespace)
		if err != nil {
			return nil, fmt.Errorf("create redis token store: %w", err)
		}
		return kv, nil
	default:
		kv, err := auth.NewFileKV(a.cfg.TokenStore.File)
		if err != nil {
			return nil, fmt.Errorf("create file token store: %w", err)
		}
		return kv, nil
	}
}

// Session exposes the manager for embedding callers.
func (a *App) Session() *auth.Manager { return a.manager }

func (a *App) Run(ctx context.Context) error {
	defer a.closeAll()
	defer a.manager.Close()

	s := a.manager.Start(ctx)
	a.log.Info("session rehydrated", "status", s.Status().String())

	errCh := make(chan error, 1)

	go func() {
		a.log.Info("http server starting", "addr", a.cfg.HTTP.Addr)
		errCh <- a.server.Start()
	}()

	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server exited: %w", err)
	}
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.log.Warn("close backend connection", "error", err)
		}
	}
	a.closers = nil
}
