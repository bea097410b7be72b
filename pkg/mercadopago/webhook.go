package mercadopago

import (
	"encoding/json"
	"io"
	"strings"

	pkgerrors "github.com/matheusvidal/solara-backend/pkg/errors"
)

// WebhookEventTypePayment is the only notification topic the platform
// consumes; everything else is acknowledged and dropped.
const WebhookEventTypePayment = "payment"

// WebhookEvent is the notification envelope posted by the gateway.
type WebhookEvent struct {
	ID       json.Number `json:"id"`
	Type     string      `json:"type"`
	Action   string      `json:"action"`
	LiveMode bool        `json:"live_mode"`
	Data     WebhookData `json:"data"`
}

// WebhookData references the gateway resource the notification is about.
type WebhookData struct {
	ID string `json:"id"`
}

// IsPayment reports whether the event concerns a payment resource.
func (e *WebhookEvent) IsPayment() bool {
	return e != nil && strings.EqualFold(e.Type, WebhookEventTypePayment)
}

// DedupeKey identifies the notification for idempotency guards. The
// gateway retries deliveries with the same id; fall back to the resource
// reference when the envelope id is absent.
func (e *WebhookEvent) DedupeKey() string {
	if e == nil {
		return ""
	}
	if id := e.ID.String(); id != "" && id != "0" {
		return id
	}
	return strings.TrimSpace(e.Type + ":" + e.Data.ID)
}

// DecodeWebhook parses a notification payload.
func DecodeWebhook(body io.Reader) (*WebhookEvent, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read webhook body")
	}
	var event WebhookEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode webhook payload")
	}
	return &event, nil
}
