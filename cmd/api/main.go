package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/matheusvidal/solara-backend/api/routes"
	"github.com/matheusvidal/solara-backend/internal/catalog"
	"github.com/matheusvidal/solara-backend/internal/orders"
	"github.com/matheusvidal/solara-backend/internal/payments"
	"github.com/matheusvidal/solara-backend/internal/refunds"
	"github.com/matheusvidal/solara-backend/internal/sellers"
	mercadopagowebhook "github.com/matheusvidal/solara-backend/internal/webhooks/mercadopago"
	"github.com/matheusvidal/solara-backend/pkg/config"
	"github.com/matheusvidal/solara-backend/pkg/db"
	"github.com/matheusvidal/solara-backend/pkg/logger"
	"github.com/matheusvidal/solara-backend/pkg/mercadopago"
	"github.com/matheusvidal/solara-backend/pkg/migrate"
	"github.com/matheusvidal/solara-backend/pkg/outbox"
	"github.com/matheusvidal/solara-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gateway, err := mercadopago.NewClient(context.Background(), cfg.MercadoPago, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create mercadopago client", err)
		os.Exit(1)
	}

	gormDB := dbClient.DB()
	catalogRepo := catalog.NewRepository(gormDB)
	ordersRepo := orders.NewRepository(gormDB)
	paymentsRepo := payments.NewRepository(gormDB)
	refundsRepo := refunds.NewRepository(gormDB)
	sellersRepo := sellers.NewRepository(gormDB)
	publisher := outbox.NewService(outbox.NewRepository(gormDB), logg)

	ledger, err := catalog.NewLedger(catalogRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create stock ledger", err)
		os.Exit(1)
	}

	ordersSvc, err := orders.NewService(ordersRepo, catalogRepo, ledger, dbClient, publisher)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	recorder, err := payments.NewRecorder(paymentsRepo, dbClient, publisher)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment recorder", err)
		os.Exit(1)
	}

	aggregator, err := payments.NewAggregator(ordersRepo, paymentsRepo, dbClient, publisher)
	if err != nil {
		logg.Error(context.Background(), "failed to create completion aggregator", err)
		os.Exit(1)
	}

	paymentsSvc, err := payments.NewService(paymentsRepo, ordersRepo, ordersSvc, sellersRepo, gateway, aggregator, recorder, dbClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	refundsSvc, err := refunds.NewService(refundsRepo, paymentsRepo, ordersRepo, sellersRepo, gateway, dbClient, publisher, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create refunds service", err)
		os.Exit(1)
	}

	webhookSvc, err := mercadopagowebhook.NewService(mercadopagowebhook.ServiceParams{
		PaymentsRepo: paymentsRepo,
		Users:        sellersRepo,
		Gateway:      gateway,
		Recorder:     recorder,
		Aggregator:   aggregator,
		Logger:       logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			redisClient,
			ordersSvc,
			paymentsSvc,
			refundsSvc,
			webhookSvc,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
