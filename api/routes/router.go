package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/matheusvidal/solara-backend/api/controllers"
	webhookcontrollers "github.com/matheusvidal/solara-backend/api/controllers/webhooks"
	"github.com/matheusvidal/solara-backend/api/middleware"
	"github.com/matheusvidal/solara-backend/internal/orders"
	"github.com/matheusvidal/solara-backend/internal/payments"
	"github.com/matheusvidal/solara-backend/internal/refunds"
	"github.com/matheusvidal/solara-backend/pkg/config"
	"github.com/matheusvidal/solara-backend/pkg/db"
	"github.com/matheusvidal/solara-backend/pkg/enums"
	"github.com/matheusvidal/solara-backend/pkg/logger"
	"github.com/matheusvidal/solara-backend/pkg/mercadopago"
	"github.com/matheusvidal/solara-backend/pkg/redis"
)

type paymentEventHandler interface {
	HandleEvent(ctx context.Context, event *mercadopago.WebhookEvent) error
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	cacheP redis.Pinger,
	guard redis.IdempotencyStore,
	ordersSvc orders.Service,
	paymentsSvc payments.Service,
	refundsSvc refunds.Service,
	webhookSvc paymentEventHandler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, cacheP))
	})

	// The gateway posts here unauthenticated; the handler re-fetches
	// charge state before acting.
	r.Route("/api/webhooks", func(r chi.Router) {
		r.Post("/mercadopago", webhookcontrollers.MercadoPago(webhookSvc, guard, cfg.Eventing.WebhookIdempotencyTTL, logg))
	})

	sellerRole := string(enums.UserRoleSeller)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(guard, logg))

		r.Post("/orders", controllers.Checkout(ordersSvc, logg))
		r.Get("/orders", controllers.ListOrders(ordersSvc, logg))
		r.Get("/orders/{orderId}", controllers.OrderDetail(ordersSvc, logg))
		r.Post("/orders/{orderId}/cancel", controllers.CancelOrder(ordersSvc, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(sellerRole, logg))
			r.Post("/orders/{orderId}/accept", controllers.AcceptOrder(ordersSvc, logg))
			r.Post("/orders/{orderId}/reject", controllers.RejectOrder(ordersSvc, logg))
			r.Post("/orders/{orderId}/ship", controllers.ShipOrder(ordersSvc, logg))
		})

		r.Post("/payments", controllers.InitiateSettlement(paymentsSvc, logg))
		r.Get("/payments/orders/{orderId}", controllers.OrderSettlement(paymentsSvc, logg))
		r.Post("/payments/{paymentId}/retry", controllers.RetryPayment(paymentsSvc, logg))

		r.Post("/refunds", controllers.CreateRefund(refundsSvc, logg))
		r.Get("/refunds", controllers.ListBuyerRefunds(refundsSvc, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(sellerRole, logg))
			r.Get("/seller/refunds", controllers.ListSellerRefunds(refundsSvc, logg))
			r.Post("/seller/refunds/{refundId}/approve", controllers.ApproveRefund(refundsSvc, logg))
			r.Post("/seller/refunds/{refundId}/reject", controllers.RejectRefund(refundsSvc, logg))
		})
	})

	return r
}
