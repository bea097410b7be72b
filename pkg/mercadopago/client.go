package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/matheusvidal/solara-backend/pkg/config"
	pkgerrors "github.com/matheusvidal/solara-backend/pkg/errors"
	"github.com/matheusvidal/solara-backend/pkg/logger"
)

// Charge statuses reported by the gateway. A rejected charge is a
// successful API call; only transport or HTTP-level failures surface as
// errors.
const (
	ChargeStatusApproved  = "approved"
	ChargeStatusPending   = "pending"
	ChargeStatusInProcess = "in_process"
	ChargeStatusRejected  = "rejected"
	ChargeStatusCancelled = "cancelled"
	ChargeStatusRefunded  = "refunded"
)

var (
	errBaseURLRequired = errors.New("mercadopago base url is required")
	errLoggerRequired  = errors.New("mercadopago logger is required")
)

// Client wraps the Mercado Pago REST API with centralized auth handling,
// logging, idempotency keys, and error mapping. Calls run under a
// per-request credential because destination charges execute with the
// seller's token, not the platform's.
type Client struct {
	httpClient          *http.Client
	baseURL             string
	platformToken       string
	webhookURL          string
	statementDescriptor string
	logger              *logger.Logger
}

// NewClient initializes the gateway wrapper.
func NewClient(ctx context.Context, cfg config.MercadoPagoConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}

	c := &Client{
		httpClient:          &http.Client{Timeout: cfg.HTTPTimeout},
		baseURL:             baseURL,
		platformToken:       strings.TrimSpace(cfg.AccessToken),
		webhookURL:          strings.TrimSpace(cfg.WebhookURL),
		statementDescriptor: strings.TrimSpace(cfg.StatementDescriptor),
		logger:              logg,
	}

	logg.Info(ctx, "mercadopago client initialized")
	return c, nil
}

// PlatformToken returns the platform-level credential used for lookups that
// are not scoped to one seller.
func (c *Client) PlatformToken() string {
	if c == nil {
		return ""
	}
	return c.platformToken
}

// NewIdempotencyKey returns a unique key for gateway operations.
func (c *Client) NewIdempotencyKey(prefix string) string {
	key := strings.TrimSpace(prefix)
	if key == "" {
		key = "solara"
	}
	return fmt.Sprintf("%s-%s", key, uuid.NewString())
}

// Charge is the gateway's representation of a payment.
type Charge struct {
	ID                 json.Number         `json:"id"`
	Status             string              `json:"status"`
	StatusDetail       string              `json:"status_detail"`
	ExternalReference  string              `json:"external_reference"`
	PaymentMethodID    string              `json:"payment_method_id"`
	TransactionAmount  float64             `json:"transaction_amount"`
	DateApproved       string              `json:"date_approved"`
	PointOfInteraction *PointOfInteraction `json:"point_of_interaction,omitempty"`

	// Raw carries the full gateway payload for auditing.
	Raw json.RawMessage `json:"-"`
}

// PointOfInteraction carries the pix QR code data returned on pix charges.
type PointOfInteraction struct {
	TransactionData *PixTransactionData `json:"transaction_data,omitempty"`
}

type PixTransactionData struct {
	QRCode       string `json:"qr_code"`
	QRCodeBase64 string `json:"qr_code_base64"`
	TicketURL    string `json:"ticket_url"`
}

// IsApproved reports whether the charge settled synchronously.
func (ch *Charge) IsApproved() bool {
	return ch != nil && ch.Status == ChargeStatusApproved
}

// Refund is the gateway's representation of a charge refund.
type Refund struct {
	ID     json.Number `json:"id"`
	Status string      `json:"status"`
	Amount float64     `json:"amount"`

	Raw json.RawMessage `json:"-"`
}

// CreateCardToken exchanges raw card data for a single-use token under the
// provided credential.
func (c *Client) CreateCardToken(ctx context.Context, credential string, params CardTokenParams) (*CardToken, error) {
	c.log(ctx, "request", "create_card_token", map[string]any{
		"card_number": params.CardNumber,
	})

	var token CardToken
	if _, err := c.do(ctx, credential, http.MethodPost, "/v1/card_tokens", "", params.toRequestBody(), &token); err != nil {
		c.log(ctx, "error", "create_card_token", map[string]any{"error": err.Error()})
		return nil, err
	}

	c.log(ctx, "response", "create_card_token", map[string]any{
		"last_four": token.LastFourDigits,
	})
	return &token, nil
}

// CreateCharge executes a destination charge with the seller's credential.
func (c *Client) CreateCharge(ctx context.Context, credential string, params ChargeParams) (*Charge, error) {
	idempotencyKey := c.ensureIdempotencyKey("charge.create", params.IdempotencyKey)
	c.log(ctx, "request", "create_charge", map[string]any{
		"external_reference": params.ExternalReference,
		"payment_method_id":  params.PaymentMethodID,
		"amount":             params.Amount.StringFixed(2),
		"application_fee":    params.ApplicationFee.StringFixed(2),
		"idempotency_key":    idempotencyKey,
	})

	body := params.toRequestBody(c.statementDescriptor, c.webhookURL)
	var charge Charge
	raw, err := c.do(ctx, credential, http.MethodPost, "/v1/payments", idempotencyKey, body, &charge)
	if err != nil {
		c.log(ctx, "error", "create_charge", map[string]any{"error": err.Error()})
		return nil, err
	}
	charge.Raw = raw

	c.log(ctx, "response", "create_charge", map[string]any{
		"charge_id":     charge.ID.String(),
		"status":        charge.Status,
		"status_detail": charge.StatusDetail,
	})
	return &charge, nil
}

// GetCharge fetches the authoritative charge state under the provided
// credential.
func (c *Client) GetCharge(ctx context.Context, credential, chargeID string) (*Charge, error) {
	c.log(ctx, "request", "get_charge", map[string]any{"charge_id": chargeID})

	var charge Charge
	raw, err := c.do(ctx, credential, http.MethodGet, "/v1/payments/"+chargeID, "", nil, &charge)
	if err != nil {
		c.log(ctx, "error", "get_charge", map[string]any{"error": err.Error()})
		return nil, err
	}
	charge.Raw = raw

	c.log(ctx, "response", "get_charge", map[string]any{
		"charge_id": charge.ID.String(),
		"status":    charge.Status,
	})
	return &charge, nil
}

// RefundCharge issues a (partial or full) refund with the seller's
// credential.
func (c *Client) RefundCharge(ctx context.Context, credential, chargeID string, params RefundParams) (*Refund, error) {
	c.log(ctx, "request", "refund_charge", map[string]any{
		"charge_id": chargeID,
		"amount":    params.Amount.StringFixed(2),
	})

	var refund Refund
	raw, err := c.do(ctx, credential, http.MethodPost, "/v1/payments/"+chargeID+"/refunds", "", params.toRequestBody(), &refund)
	if err != nil {
		c.log(ctx, "error", "refund_charge", map[string]any{"error": err.Error()})
		return nil, err
	}
	refund.Raw = raw

	c.log(ctx, "response", "refund_charge", map[string]any{
		"refund_id": refund.ID.String(),
		"status":    refund.Status,
	})
	return &refund, nil
}

func (c *Client) do(ctx context.Context, credential, method, path, idempotencyKey string, body any, out any) (json.RawMessage, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway credential missing")
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode gateway request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build gateway request")
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mercadopago request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read mercadopago response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.mapHTTPError(resp.StatusCode, raw)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode mercadopago response")
		}
	}
	return raw, nil
}

func (c *Client) ensureIdempotencyKey(prefix, provided string) string {
	if strings.TrimSpace(provided) != "" {
		return provided
	}
	return c.NewIdempotencyKey(prefix)
}

func (c *Client) mapHTTPError(status int, raw []byte) error {
	code := domainCodeForStatus(status)
	err := pkgerrors.New(code, fmt.Sprintf("mercadopago returned status %d", status))

	var details struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Status  int    `json:"status"`
	}
	if unmarshalErr := json.Unmarshal(raw, &details); unmarshalErr == nil {
		return err.WithDetails(map[string]any{
			"gateway_status":  status,
			"gateway_message": details.Message,
			"gateway_error":   details.Error,
		})
	}
	return err.WithDetails(map[string]any{"gateway_status": status})
}

func domainCodeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusConflict:
		return pkgerrors.CodeConflict
	case http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	case http.StatusBadRequest:
		return pkgerrors.CodeValidation
	case http.StatusUnprocessableEntity:
		return pkgerrors.CodeStateConflict
	default:
		if status >= 400 && status < 500 {
			return pkgerrors.CodeValidation
		}
		return pkgerrors.CodeDependency
	}
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = c.redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("mercadopago %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("mercadopago %s", phase))
	}
}

func (c *Client) redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"card", "cvv", "cvc", "token", "secret", "email", "phone", "document"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}
