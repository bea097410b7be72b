package webhooks

import (
	"context"
	"net/http"
	"time"

	"github.com/matheusvidal/solara-backend/api/responses"
	pkgerrors "github.com/matheusvidal/solara-backend/pkg/errors"
	"github.com/matheusvidal/solara-backend/pkg/logger"
	"github.com/matheusvidal/solara-backend/pkg/mercadopago"
	pkgredis "github.com/matheusvidal/solara-backend/pkg/redis"
)

const dedupeScope = "webhook:mercadopago"

type paymentEventHandler interface {
	HandleEvent(ctx context.Context, event *mercadopago.WebhookEvent) error
}

// MercadoPago ingests gateway payment notifications. The endpoint is
// unauthenticated; the handler re-fetches the charge before acting, so a
// forged notification can at worst trigger a reconciliation.
func MercadoPago(handler paymentEventHandler, guard pkgredis.IdempotencyStore, ttl time.Duration, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		event, err := mercadopago.DecodeWebhook(r.Body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed webhook payload"))
			return
		}

		var dedupeKey string
		if guard != nil {
			dedupeKey = guard.IdempotencyKey(dedupeScope, event.DedupeKey())
			fresh, err := guard.SetNX(r.Context(), dedupeKey, "1", ttl)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "webhook dedupe check"))
				return
			}
			if !fresh {
				if logg != nil {
					logg.Info(r.Context(), "duplicate webhook delivery acknowledged")
				}
				responses.WriteSuccess(w, map[string]string{"status": "duplicate"})
				return
			}
		}

		if err := handler.HandleEvent(r.Context(), event); err != nil {
			// Release the dedupe slot so the gateway's retry is processed.
			if guard != nil && dedupeKey != "" {
				if delErr := guard.Del(r.Context(), dedupeKey); delErr != nil && logg != nil {
					logg.Error(r.Context(), "release webhook dedupe key", delErr)
				}
			}
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"status": "processed"})
	}
}
