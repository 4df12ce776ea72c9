package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"tickerdash/internal/admin"
	"tickerdash/internal/auth"
	"tickerdash/internal/db"
	"tickerdash/internal/maintenance"
	"tickerdash/internal/market"
	"tickerdash/internal/observability"
	"tickerdash/internal/user"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger(os.Stdout)

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	jwtSecret, err := mustEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(os.Getenv("SENTRY_DSN"), envOrDefault("APP_ENV", "development")); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}
	observability.InitMetrics()

	database, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(envIntOrDefault("DB_MAX_OPEN_CONNS", 10))
	database.SetMaxIdleConns(envIntOrDefault("DB_MAX_IDLE_CONNS", 5))
	database.SetConnMaxLifetime(envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30))
	database.SetConnMaxIdleTime(envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10))

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	userRepo := user.NewRepository(database)
	sessionStore := auth.NewSessionStore(database)

	tokens := auth.NewTokenService(
		jwtSecret,
		envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 15),
		envHoursOrDefault("REFRESH_TOKEN_TTL_HOURS", 168),
	)

	var redisClient *redis.Client
	var attemptStore auth.AttemptStore = auth.NewMemoryAttemptStore()
	if redisURL := strings.TrimSpace(os.Getenv("REDIS_URL")); redisURL != "" {
		redisOpts, err := redis.ParseURL(redisURL)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		redisClient = redis.NewClient(redisOpts)

		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err = redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = redisClient.Close()
			_ = database.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		attemptStore = auth.NewRedisAttemptStore(redisClient)
	}

	limiter := auth.NewLoginLimiter(
		attemptStore,
		envIntOrDefault("LOGIN_MAX_ATTEMPTS", 5),
		envMinutesOrDefault("LOGIN_LOCK_MINUTES", 15),
	)

	authService := auth.NewService(userRepo, sessionStore, tokens, limiter)
	authHandler := auth.NewHandler(authService)
	adminHandler := admin.NewHandler(userRepo)
	cleanupHandler := maintenance.NewCleanupHandler(
		sessionStore,
		logger,
		os.Getenv("CRON_SECRET"),
		envDaysOrDefault("SESSION_RETENTION_DAYS", 14),
		envIntOrDefault("SESSION_CLEANUP_BATCH_SIZE", 500),
	)

	if err := bootstrapAdmin(context.Background(), userRepo, os.Getenv("ADMIN_EMAIL"), os.Getenv("ADMIN_PASSWORD")); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", authHandler.Login)
	mux.HandleFunc("POST /auth/register", authHandler.Register)
	mux.HandleFunc("POST /auth/refresh", authHandler.Refresh)
	mux.Handle("POST /auth/logout", auth.RequireAuth(tokens, http.HandlerFunc(authHandler.Logout)))
	mux.Handle("GET /auth/me", auth.RequireAuth(tokens, http.HandlerFunc(authHandler.Me)))

	mux.Handle("GET /admin/users", auth.RequireAdmin(tokens, http.HandlerFunc(adminHandler.List)))
	mux.Handle("POST /admin/users", auth.RequireAdmin(tokens, http.HandlerFunc(adminHandler.Create)))
	mux.Handle("PATCH /admin/users/{id}", auth.RequireAdmin(tokens, http.HandlerFunc(adminHandler.Update)))

	if marketURL := strings.TrimSpace(os.Getenv("MARKET_DATA_URL")); marketURL != "" {
		marketClient, err := market.NewClient(marketURL, os.Getenv("MARKET_DATA_API_KEY"))
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("init market client: %w", err)
		}
		quoteCache := market.NewQuoteCache(envSecondsOrDefault("MARKET_CACHE_TTL_SECONDS", 30))
		marketHandler := market.NewHandler(marketClient, quoteCache)
		mux.Handle("GET /market/quote/{symbol}", auth.OptionalAuth(tokens, http.HandlerFunc(marketHandler.GetQuote)))
	} else {
		logger.Warn("market_data_disabled", map[string]any{"reason": "MARKET_DATA_URL not set"})
	}

	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.Handle("GET /metrics", observability.MetricsHandler())
	mux.HandleFunc("GET /health", healthHandler(database))

	handler := observability.RecoverMiddleware(logger,
		observability.RequestLoggingMiddleware(logger,
			observability.InstrumentMiddleware(mux)))

	return &Runtime{
		Handler: handler,
		Close: func() error {
			observability.FlushSentry()
			if redisClient != nil {
				_ = redisClient.Close()
			}
			return database.Close()
		},
	}, nil
}

// bootstrapAdmin ensures the administrator account from the environment
// exists. An existing account is left untouched.
func bootstrapAdmin(ctx context.Context, users *user.Repository, email, password string) error {
	email = user.NormalizeEmail(email)
	password = strings.TrimSpace(password)

	if email == "" && password == "" {
		return nil
	}
	if email == "" || password == "" {
		return fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD are required together")
	}
	if err := user.ValidatePassword(password); err != nil {
		return fmt.Errorf("admin password: %w", err)
	}

	_, err := users.FindByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, user.ErrNotFound) {
		return err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	_, err = users.Create(ctx, user.User{
		Email:        email,
		PasswordHash: hash,
		Role:         user.RoleAdmin,
		IsActive:     true,
		IsVerified:   true,
		DisplayName:  "Administrator",
	})
	return err
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
