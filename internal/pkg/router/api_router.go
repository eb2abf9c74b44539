package router

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	apiv1 "github.com/subkeeper/subkeeper/internal/api/v1"
	"github.com/subkeeper/subkeeper/internal/pkg/billing"
	"github.com/subkeeper/subkeeper/internal/pkg/cache"
	"github.com/subkeeper/subkeeper/internal/pkg/database"
	"github.com/subkeeper/subkeeper/internal/pkg/env"
	"github.com/subkeeper/subkeeper/internal/pkg/idempotency"
	"github.com/subkeeper/subkeeper/internal/pkg/lock"
	"github.com/subkeeper/subkeeper/internal/pkg/mail"
	"github.com/subkeeper/subkeeper/internal/pkg/retry"
)

// InstallRouter wires the billing engine and attaches all API routes.
// It returns the scheduler so main can stop it on shutdown.
func InstallRouter(app *fiber.App) *billing.Scheduler {
	repo := billing.NewRepository(database.GetDB())
	service := billing.NewService(repo, buildLockProvider(), buildServiceConfig())
	matcher := billing.NewMatcher(repo, billing.DefaultMatcherConfig())
	enforcer := billing.NewEnforcer(service, repo, mail.NewGraceWarningNotifier(), buildEnforcerConfig())

	server := apiv1.NewServer(
		service,
		matcher,
		enforcer,
		buildIdempotencyStore(),
		retry.DefaultConfig(),
		env.GetEnv("WEBHOOK_SECRET", ""),
	)

	api := app.Group("/api", limiter.New())
	v1 := api.Group("/v1")
	apiv1.RegisterHandlers(v1, server)

	interval := envDuration("GRACE_SWEEP_INTERVAL_MINUTES", 60) * time.Minute
	return billing.NewScheduler(enforcer, interval)
}

// buildLockProvider selects the lock backend by configuration. Multi-node
// deployments must run with the redis provider.
func buildLockProvider() lock.Provider {
	if env.GetEnv("LOCK_PROVIDER", "memory") == "redis" {
		return lock.NewRedisProvider(cache.GetClient())
	}
	return lock.NewMutexProvider()
}

// buildIdempotencyStore selects the idempotency backend. Redis is
// authoritative when shared across instances; the in-memory store is for
// single-node deployments only.
func buildIdempotencyStore() idempotency.Store {
	if env.GetEnv("IDEMPOTENCY_STORE", "memory") == "redis" {
		return idempotency.NewRedisStore(cache.GetClient())
	}
	return idempotency.NewMemoryStore()
}

func buildServiceConfig() billing.Config {
	cfg := billing.DefaultConfig()
	if v, err := strconv.Atoi(env.GetEnv("GRACE_PERIOD_DAYS", "")); err == nil && v > 0 {
		cfg.GracePeriodDays = v
	}
	if v, err := strconv.Atoi(env.GetEnv("LOCK_TIMEOUT_SECONDS", "")); err == nil && v > 0 {
		cfg.LockTimeout = time.Duration(v) * time.Second
	}
	return cfg
}

func buildEnforcerConfig() billing.EnforcerConfig {
	cfg := billing.DefaultEnforcerConfig()
	cfg.EnableAutoCancel = env.GetEnv("GRACE_AUTO_CANCEL", "true") == "true"
	if v, err := strconv.Atoi(env.GetEnv("GRACE_SWEEP_CONCURRENCY", "")); err == nil && v > 0 {
		cfg.Concurrency = v
	}
	return cfg
}

func envDuration(key string, def int) time.Duration {
	if v, err := strconv.Atoi(env.GetEnv(key, "")); err == nil && v > 0 {
		return time.Duration(v)
	}
	return time.Duration(def)
}
