package routes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/matheusvidal/solara-backend/internal/orders"
	"github.com/matheusvidal/solara-backend/internal/payments"
	"github.com/matheusvidal/solara-backend/internal/refunds"
	pkgAuth "github.com/matheusvidal/solara-backend/pkg/auth"
	"github.com/matheusvidal/solara-backend/pkg/config"
	"github.com/matheusvidal/solara-backend/pkg/db/models"
	"github.com/matheusvidal/solara-backend/pkg/enums"
	"github.com/matheusvidal/solara-backend/pkg/logger"
	"github.com/matheusvidal/solara-backend/pkg/mercadopago"
	"github.com/matheusvidal/solara-backend/pkg/pagination"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type stubOrdersService struct {
	checkout func(ctx context.Context, buyerID uuid.UUID, input orders.CheckoutInput) (*models.Order, error)
	accept   func(ctx context.Context, input orders.SellerDecisionInput) error
}

func (s stubOrdersService) Checkout(ctx context.Context, buyerID uuid.UUID, input orders.CheckoutInput) (*models.Order, error) {
	if s.checkout != nil {
		return s.checkout(ctx, buyerID, input)
	}
	return &models.Order{ID: uuid.New(), BuyerID: buyerID}, nil
}

func (s stubOrdersService) Get(ctx context.Context, actorID uuid.UUID, role enums.UserRole, orderID uuid.UUID) (*models.Order, error) {
	return &models.Order{ID: orderID}, nil
}

func (s stubOrdersService) ListForBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params, filters orders.Filters) (*orders.OrderList, error) {
	return &orders.OrderList{}, nil
}

func (s stubOrdersService) ListForSeller(ctx context.Context, sellerID uuid.UUID, params pagination.Params, filters orders.Filters) (*orders.OrderList, error) {
	return &orders.OrderList{}, nil
}

func (s stubOrdersService) Cancel(ctx context.Context, input orders.CancelInput) error {
	return nil
}

func (s stubOrdersService) Accept(ctx context.Context, input orders.SellerDecisionInput) error {
	if s.accept != nil {
		return s.accept(ctx, input)
	}
	return nil
}

func (s stubOrdersService) Reject(ctx context.Context, input orders.SellerDecisionInput) error {
	return nil
}

func (s stubOrdersService) Ship(ctx context.Context, input orders.ShipInput) error {
	return nil
}

func (s stubOrdersService) ExpireReservation(ctx context.Context, orderID uuid.UUID) error {
	return nil
}

type stubPaymentsService struct{}

func (stubPaymentsService) InitiateSettlement(ctx context.Context, input payments.SettlementInput) (*payments.SettlementResult, error) {
	return &payments.SettlementResult{OrderID: input.OrderID}, nil
}

func (stubPaymentsService) OrderSettlement(ctx context.Context, buyerID, orderID uuid.UUID) (*payments.SettlementResult, error) {
	return &payments.SettlementResult{OrderID: orderID}, nil
}

func (stubPaymentsService) Retry(ctx context.Context, buyerID, paymentID uuid.UUID) (*models.Payment, error) {
	return &models.Payment{ID: paymentID}, nil
}

type stubRefundsService struct{}

func (stubRefundsService) Create(ctx context.Context, input refunds.CreateInput) (*models.RefundRequest, error) {
	return &models.RefundRequest{ID: uuid.New()}, nil
}

func (stubRefundsService) Approve(ctx context.Context, input refunds.DecisionInput) (*models.RefundRequest, error) {
	return &models.RefundRequest{ID: input.RefundRequestID}, nil
}

func (stubRefundsService) Reject(ctx context.Context, input refunds.DecisionInput) (*models.RefundRequest, error) {
	return &models.RefundRequest{ID: input.RefundRequestID}, nil
}

func (stubRefundsService) ListForBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) (*refunds.RefundRequestList, error) {
	return &refunds.RefundRequestList{}, nil
}

func (stubRefundsService) ListForSeller(ctx context.Context, sellerID uuid.UUID, params pagination.Params) (*refunds.RefundRequestList, error) {
	return &refunds.RefundRequestList{}, nil
}

type stubWebhookHandler struct {
	calls int
}

func (s *stubWebhookHandler) HandleEvent(ctx context.Context, event *mercadopago.WebhookEvent) error {
	s.calls++
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test", Port: "0"},
		JWT: config.JWTConfig{
			Secret:            "secret",
			Issuer:            "issuer",
			ExpirationMinutes: 60,
		},
		Eventing: config.EventingConfig{WebhookIdempotencyTTL: time.Hour},
	}
}

func newTestRouter(cfg *config.Config, webhook *stubWebhookHandler) http.Handler {
	logg := logger.New(logger.Options{ServiceName: "test-routing", Level: logger.ParseLevel("debug"), Output: io.Discard})
	if webhook == nil {
		webhook = &stubWebhookHandler{}
	}
	return NewRouter(
		cfg,
		logg,
		stubPinger{}, // db
		stubPinger{}, // redis
		nil,          // idempotency guard disabled in tests
		stubOrdersService{},
		stubPaymentsService{},
		stubRefundsService{},
		webhook,
	)
}

func buildToken(t *testing.T, cfg *config.Config, role enums.UserRole) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{
		UserID: uuid.New(),
		Role:   role,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func TestHealthLiveIsPublic(t *testing.T) {
	router := newTestRouter(testConfig(), nil)
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestOrdersRequireJWT(t *testing.T) {
	router := newTestRouter(testConfig(), nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token got %d", resp.Code)
	}
}

func TestCheckoutAcceptsBuyerToken(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg, nil)

	body := `{
		"cart_item_ids": ["` + uuid.NewString() + `"],
		"shipping_address": {
			"street": "Rua das Flores",
			"city": "Sao Paulo",
			"state": "SP",
			"postal_code": "01310-000",
			"country": "BR"
		},
		"shipping_cost": "20.00"
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.UserRoleBuyer))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestSellerDecisionRoutesRequireSellerRole(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg, nil)
	orderPath := "/api/v1/orders/" + uuid.NewString() + "/accept"

	buyer := httptest.NewRequest(http.MethodPost, orderPath, nil)
	buyer.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.UserRoleBuyer))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, buyer)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for buyer got %d", resp.Code)
	}

	seller := httptest.NewRequest(http.MethodPost, orderPath, nil)
	seller.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.UserRoleSeller))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, seller)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for seller got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestSellerRefundReviewRequiresSellerRole(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg, nil)

	buyer := httptest.NewRequest(http.MethodGet, "/api/v1/seller/refunds", nil)
	buyer.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.UserRoleBuyer))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, buyer)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for buyer got %d", resp.Code)
	}

	seller := httptest.NewRequest(http.MethodGet, "/api/v1/seller/refunds", nil)
	seller.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.UserRoleSeller))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, seller)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for seller got %d", resp.Code)
	}
}

func TestWebhookEndpointIsPublic(t *testing.T) {
	webhook := &stubWebhookHandler{}
	router := newTestRouter(testConfig(), webhook)

	body := `{"id":77,"type":"payment","data":{"id":"555001"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/mercadopago", strings.NewReader(body))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if webhook.calls != 1 {
		t.Fatalf("expected handler invoked once, got %d", webhook.calls)
	}
}

func TestPaymentStatusRoute(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/orders/"+uuid.NewString(), nil)
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.UserRoleBuyer))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
}
