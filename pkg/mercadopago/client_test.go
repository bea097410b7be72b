package mercadopago

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matheusvidal/solara-backend/pkg/config"
	pkgerrors "github.com/matheusvidal/solara-backend/pkg/errors"
	"github.com/matheusvidal/solara-backend/pkg/logger"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(context.Background(), config.MercadoPagoConfig{
		BaseURL:             server.URL,
		AccessToken:         "APP_USR-platform",
		StatementDescriptor: "SOLARA",
		HTTPTimeout:         5 * time.Second,
	}, logger.New(logger.Options{ServiceName: "test"}))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client, server
}

func TestCreateChargeSendsCredentialAndIdempotencyKey(t *testing.T) {
	t.Parallel()

	var gotAuth, gotIdempotency string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotIdempotency = r.Header.Get("X-Idempotency-Key")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":123456,"status":"approved","status_detail":"accredited","external_reference":"payment_abc"}`))
	}))

	charge, err := client.CreateCharge(context.Background(), "APP_USR-seller", ChargeParams{
		Amount:            decimal.RequireFromString("150.00"),
		Description:       "Order #SOL-20260829-00001",
		PaymentMethodID:   "pix",
		Payer:             Payer{Email: "buyer@example.com"},
		ExternalReference: "payment_abc",
		IdempotencyKey:    "pix_abc_def_1700000000",
	})
	if err != nil {
		t.Fatalf("CreateCharge returned error: %v", err)
	}
	if gotAuth != "Bearer APP_USR-seller" {
		t.Fatalf("expected seller credential, got %q", gotAuth)
	}
	if gotIdempotency != "pix_abc_def_1700000000" {
		t.Fatalf("expected caller idempotency key, got %q", gotIdempotency)
	}
	if !charge.IsApproved() {
		t.Fatalf("expected approved charge, got %q", charge.Status)
	}
	if charge.ID.String() != "123456" {
		t.Fatalf("unexpected charge id %q", charge.ID.String())
	}
}

func TestCreateChargeRejectedIsNotAnError(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":7,"status":"rejected","status_detail":"cc_rejected_insufficient_amount"}`))
	}))

	charge, err := client.CreateCharge(context.Background(), "APP_USR-seller", ChargeParams{
		Amount:          decimal.RequireFromString("10.00"),
		PaymentMethodID: "visa",
		CardTokenID:     "tok_123",
	})
	if err != nil {
		t.Fatalf("rejected charge should not surface as error, got %v", err)
	}
	if charge.Status != ChargeStatusRejected {
		t.Fatalf("expected rejected status, got %q", charge.Status)
	}
	if charge.StatusDetail != "cc_rejected_insufficient_amount" {
		t.Fatalf("unexpected status detail %q", charge.StatusDetail)
	}
}

func TestCreateChargeMapsHTTPErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		want   pkgerrors.Code
	}{
		{"bad request", http.StatusBadRequest, pkgerrors.CodeValidation},
		{"unauthorized", http.StatusUnauthorized, pkgerrors.CodeUnauthorized},
		{"not found", http.StatusNotFound, pkgerrors.CodeNotFound},
		{"server error", http.StatusInternalServerError, pkgerrors.CodeDependency},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"message":"nope","error":"bad_request"}`))
			}))

			_, err := client.CreateCharge(context.Background(), "APP_USR-seller", ChargeParams{
				Amount:          decimal.RequireFromString("10.00"),
				PaymentMethodID: "pix",
			})
			typed := pkgerrors.As(err)
			if typed == nil {
				t.Fatalf("expected coded error, got %v", err)
			}
			if typed.Code() != tc.want {
				t.Fatalf("expected code %s, got %s", tc.want, typed.Code())
			}
		})
	}
}

func TestDoRequiresCredential(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request should not reach the gateway")
	}))

	_, err := client.GetCharge(context.Background(), "  ", "123")
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency error for missing credential, got %v", err)
	}
}

func TestDetectCardBrand(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"4111 1111 1111 1111": "visa",
		"5500000000000004":    "master",
		"340000000000009":     "amex",
		"6011000000000004":    "discover",
		"3530111333300000":    "jcb",
		"30569309025904":      "diners",
		"6062825624254001":    "hipercard",
		"6363680000457013":    "elo",
		"9999999999999999":    "visa",
	}
	for pan, want := range cases {
		if got := DetectCardBrand(pan); got != want {
			t.Fatalf("DetectCardBrand(%q) = %q, want %q", pan, got, want)
		}
	}
}

func TestDecodeWebhook(t *testing.T) {
	t.Parallel()

	body := `{"id":112233,"type":"payment","action":"payment.updated","data":{"id":"987654"}}`
	event, err := DecodeWebhook(strings.NewReader(body))
	if err != nil {
		t.Fatalf("DecodeWebhook failed: %v", err)
	}
	if !event.IsPayment() {
		t.Fatalf("expected payment event, got type %q", event.Type)
	}
	if event.Data.ID != "987654" {
		t.Fatalf("unexpected data id %q", event.Data.ID)
	}
	if event.DedupeKey() != "112233" {
		t.Fatalf("unexpected dedupe key %q", event.DedupeKey())
	}

	if _, err := DecodeWebhook(strings.NewReader("not-json")); err == nil {
		t.Fatal("expected decode error for invalid payload")
	}
}

func TestDedupeKeyFallsBackToResource(t *testing.T) {
	t.Parallel()

	event := &WebhookEvent{Type: "payment", Data: WebhookData{ID: "42"}}
	if got := event.DedupeKey(); got != "payment:42" {
		t.Fatalf("unexpected fallback dedupe key %q", got)
	}
}
