package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTP            HTTPConfig
	DatabaseURL     string
	SQLitePath      string
	RedisAddr       string
	Auth            AuthConfig
	FrontendDistDir string
	MigrationsDir   string
	AuditLogFile    string
}

type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CookieSecure    bool
}

type AuthConfig struct {
	SessionTTL    time.Duration
	RememberTTL   time.Duration
	SweepInterval time.Duration
	BcryptCost    int
}

func Load() (Config, error) {
	cfg := Config{
		HTTP: HTTPConfig{
			Addr:            getEnv("HTTP_ADDR", ":8080"),
			ReadTimeout:     time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SEC", 10)) * time.Second,
			WriteTimeout:    time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SEC", 15)) * time.Second,
			ShutdownTimeout: time.Duration(getEnvInt("HTTP_SHUTDOWN_TIMEOUT_SEC", 20)) * time.Second,
			CookieSecure:    getEnvBool("COOKIE_SECURE", false),
		},
		DatabaseURL: getEnv("DATABASE_URL", ""),
		SQLitePath:  getEnv("SQLITE_PATH", "./data/todos.db"),
		RedisAddr:   getEnv("REDIS_ADDR", ""),
		Auth: AuthConfig{
			SessionTTL:    time.Duration(getEnvInt("SESSION_TTL_SEC", 86400)) * time.Second,
			RememberTTL:   time.Duration(getEnvInt("REMEMBER_TTL_SEC", 30*86400)) * time.Second,
			SweepInterval: time.Duration(getEnvInt("SESSION_SWEEP_SEC", 600)) * time.Second,
			BcryptCost:    getEnvInt("BCRYPT_COST", 0),
		},
		FrontendDistDir: getEnv("FRONTEND_DIST_DIR", "./web/dist"),
		MigrationsDir:   getEnv("MIGRATIONS_DIR", "./migrations"),
		AuditLogFile:    getEnv("AUDIT_LOG_FILE", "./data/audit.log"),
	}

	if cfg.HTTP.Addr == "" {
		return Config{}, fmt.Errorf("HTTP_ADDR must not be empty")
	}
	if cfg.DatabaseURL == "" && cfg.SQLitePath == "" {
		return Config{}, fmt.Errorf("either DATABASE_URL or SQLITE_PATH must be set")
	}
	if cfg.Auth.SessionTTL <= 0 {
		return Config{}, fmt.Errorf("SESSION_TTL_SEC must be > 0")
	}
	if cfg.Auth.RememberTTL < cfg.Auth.SessionTTL {
		return Config{}, fmt.Errorf("REMEMBER_TTL_SEC must be >= SESSION_TTL_SEC")
	}
	if cfg.Auth.SweepInterval <= 0 {
		return Config{}, fmt.Errorf("SESSION_SWEEP_SEC must be > 0")
	}
	if cfg.FrontendDistDir == "" {
		return Config{}, fmt.Errorf("FRONTEND_DIST_DIR must not be empty")
	}
	if cfg.MigrationsDir == "" {
		return Config{}, fmt.Errorf("MIGRATIONS_DIR must not be empty")
	}
	if cfg.AuditLogFile == "" {
		return Config{}, fmt.Errorf("AUDIT_LOG_FILE must not be empty")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int) int {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return b
}
