package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/stp258/serp/internal/config"
	"github.com/stp258/serp/internal/ledger"
	"github.com/stp258/serp/internal/metrics"
	"github.com/stp258/serp/internal/middleware"
	"github.com/stp258/serp/internal/notification"
	"github.com/stp258/serp/internal/pricing"
	"github.com/stp258/serp/internal/registry"
	"github.com/stp258/serp/internal/serp"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg        config.Config
	Stabilizer config.Stabilizer
	DB         *pgxpool.Pool
	Cache      *redis.Client
	// Events receives supply and price events. Nil disables Kafka delivery.
	Events notification.MessageWriter
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	recorder := metrics.NewRecorder()

	// Health and metrics
	RegisterHealthRoutes(app, d)
	RegisterMetricsRoute(app, recorder)

	// Stabilizer
	ledgerBackend, prices, feed := backends(d)
	applied, err := serp.ApplyGenesis(context.Background(), ledgerBackend, d.Stabilizer.GenesisBalances())
	if err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}
	if applied {
		d.Logger.Info("genesis balances applied", "entries", len(d.Stabilizer.Genesis))
	}

	notifiers := notification.Multi{notification.NewLoggerNotifier(d.Logger)}
	if d.Events != nil {
		notifiers = append(notifiers, notification.NewKafkaNotifier(d.Events))
	}
	ctrl, err := serp.New(d.Stabilizer.Params(), serp.Deps{
		Ledger:   ledgerBackend,
		Prices:   prices,
		Feed:     feed,
		Notifier: notifiers,
		Metrics:  recorder,
		Logger:   d.Logger,
	})
	if err != nil {
		return err
	}
	serpHandler := serp.NewHandler(ctrl)
	pricingHandler := pricing.NewHandler(ctrl.Engine())

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public reads
	RegisterReadRoutes(api, serpHandler, pricingHandler)

	// Privileged operations
	privileged := []fiber.Handler{
		middleware.OperatorAuth(d.Cfg.OperatorKeyHash, d.Cfg.IsDev()),
		middleware.RateLimit(d.Cache, "operator", d.Cfg.OperatorRateLimit),
	}
	if d.Cache != nil {
		privileged = append(privileged, middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	protected := api.Group("", privileged...)
	RegisterSerpRoutes(protected, serpHandler)
	RegisterPricingRoutes(protected, pricingHandler)

	return nil
}

// backends picks the ledger and registry implementations. Postgres holds the
// ledger and the price registry when configured; observed prices prefer Redis.
func backends(d Deps) (ledger.Ledger, registry.Registry, registry.Registry) {
	var (
		l      ledger.Ledger
		prices registry.Registry
		feed   registry.Registry
	)
	switch {
	case d.DB != nil:
		l = ledger.NewPostgresLedger(d.DB)
		prices = registry.NewPostgres(d.DB, registry.NamespaceQuote)
	case d.Cache != nil:
		l = ledger.NewInMemory()
		prices = registry.NewRedis(d.Cache, registry.NamespaceQuote)
	default:
		l = ledger.NewInMemory()
		prices = registry.NewMemory()
	}
	switch {
	case d.Cache != nil:
		feed = registry.NewRedis(d.Cache, registry.NamespaceObserved)
	case d.DB != nil:
		feed = registry.NewPostgres(d.DB, registry.NamespaceObserved)
	default:
		feed = registry.NewMemory()
	}
	return l, prices, feed
}
