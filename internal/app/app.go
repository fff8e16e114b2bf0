package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"

	"todosrv/todos-web/internal/audit"
	"todosrv/todos-web/internal/auth"
	"todosrv/todos-web/internal/config"
	"todosrv/todos-web/internal/httpserver"
	"todosrv/todos-web/internal/migrations"
	"todosrv/todos-web/internal/observability"
	"todosrv/todos-web/internal/todo"
)

type App struct {
	cfg    config.Config
	log    *slog.Logger
	db     *sql.DB
	rdb    *redis.Client
	auth   *auth.Service
	server *httpserver.Server
}

func New(cfg config.Config) (*App, error) {
	logger := observability.NewLogger()

	db, backend, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("database opened", "backend", backend)

	// User stores go first: the todo list joins against the users table, so
	// its schema must exist before the todo store is touched.
	var userStore auth.UserStore
	var todoStore todo.Store
	if backend == "postgres" {
		userStore, err = auth.NewPostgresUserStore(db)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create postgres user store: %w", err)
		}
		todoStore, err = todo.NewPostgresStore(db)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create postgres todo store: %w", err)
		}
	} else {
		userStore, err = auth.NewSQLiteUserStore(db)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create sqlite user store: %w", err)
		}
		todoStore, err = todo.NewSQLiteStore(db)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create sqlite todo store: %w", err)
		}
	}

	var rdb *redis.Client
	var sessionStore auth.SessionStore
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		sessionStore, err = auth.NewRedisSessionStore(rdb)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create redis session store: %w", err)
		}
		logger.Info("session store", "backend", "redis")
	} else {
		sessionStore, err = auth.NewSQLSessionStore(db)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create sql session store: %w", err)
		}
	}

	authService, err := auth.NewService(userStore, sessionStore, auth.ServiceConfig{
		SessionTTL:  cfg.Auth.SessionTTL,
		RememberTTL: cfg.Auth.RememberTTL,
		BcryptCost:  cfg.Auth.BcryptCost,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create auth service: %w", err)
	}

	todoService, err := todo.NewService(todoStore)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create todo service: %w", err)
	}

	migrationService, err := migrations.NewService(cfg.MigrationsDir, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create migration service: %w", err)
	}
	auditLogger := audit.NewLogger(cfg.AuditLogFile)

	server := httpserver.New(cfg.HTTP, httpserver.Deps{
		Auth:            authService,
		Todos:           todoService,
		Migrations:      migrationService,
		Audit:           auditLogger,
		DB:              db,
		FrontendDistDir: cfg.FrontendDistDir,
	})

	return &App{
		cfg:    cfg,
		log:    logger,
		db:     db,
		rdb:    rdb,
		auth:   authService,
		server: server,
	}, nil
}

func openDatabase(cfg config.Config) (*sql.DB, string, error) {
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("open postgres: %w", err)
		}
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, "", fmt.Errorf("ping postgres: %w", err)
		}
		return db, "postgres", nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
		return nil, "", fmt.Errorf("mkdir sqlite dir: %w", err)
	}
	db, err := sql.Open("sqlite3", cfg.SQLitePath+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, "", fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("ping sqlite: %w", err)
	}
	return db, "sqlite", nil
}

func (a *App) Run(ctx context.Context) error {
	defer func() {
		if a.rdb != nil {
			_ = a.rdb.Close()
		}
		_ = a.db.Close()
	}()

	errCh := make(chan error, 1)

	go func() {
		a.log.Info("http server starting", "addr", a.cfg.HTTP.Addr)
		errCh <- a.server.Start()
	}()

	go a.sweepSessions(ctx)

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

func (a *App) sweepSessions(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Auth.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := a.auth.PruneExpired(ctx)
			if err != nil {
				a.log.Warn("session sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				a.log.Info("expired sessions pruned", "count", removed)
			}
		}
	}
}
