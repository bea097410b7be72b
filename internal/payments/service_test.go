package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/matheusvidal/solara-backend/internal/orders"
	"github.com/matheusvidal/solara-backend/internal/sellers"
	"github.com/matheusvidal/solara-backend/pkg/db/models"
	"github.com/matheusvidal/solara-backend/pkg/enums"
	pkgerrors "github.com/matheusvidal/solara-backend/pkg/errors"
	"github.com/matheusvidal/solara-backend/pkg/mercadopago"
	"github.com/matheusvidal/solara-backend/pkg/outbox"
	"github.com/matheusvidal/solara-backend/pkg/types"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(tx)
	})
}

type capturingOutbox struct {
	events []outbox.DomainEvent
}

func (c *capturingOutbox) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	c.events = append(c.events, event)
	return nil
}

// fakeGateway scripts charge outcomes per seller credential.
type fakeGateway struct {
	chargeStatus map[string]string
	chargeErr    map[string]error
	charges      []mercadopago.ChargeParams
	credentials  []string
	nextID       int
	pix          bool
}

func (g *fakeGateway) CreateCardToken(ctx context.Context, credential string, params mercadopago.CardTokenParams) (*mercadopago.CardToken, error) {
	return &mercadopago.CardToken{ID: "tok_" + credential}, nil
}

func (g *fakeGateway) CreateCharge(ctx context.Context, credential string, params mercadopago.ChargeParams) (*mercadopago.Charge, error) {
	g.credentials = append(g.credentials, credential)
	if err := g.chargeErr[credential]; err != nil {
		return nil, err
	}
	g.charges = append(g.charges, params)
	g.nextID++

	status := mercadopago.ChargeStatusApproved
	if s, ok := g.chargeStatus[credential]; ok {
		status = s
	}
	charge := &mercadopago.Charge{
		ID:                json.Number(fmt.Sprintf("90000%d", g.nextID)),
		Status:            status,
		ExternalReference: params.ExternalReference,
		Raw:               json.RawMessage(fmt.Sprintf(`{"status":%q}`, status)),
	}
	if g.pix {
		charge.PointOfInteraction = &mercadopago.PointOfInteraction{
			TransactionData: &mercadopago.PixTransactionData{
				QRCode:       "qr-payload",
				QRCodeBase64: "cXItcGF5bG9hZA==",
				TicketURL:    "https://mp.test/ticket",
			},
		}
	}
	return charge, nil
}

type noopExpirer struct {
	expired []uuid.UUID
}

func (e *noopExpirer) ExpireReservation(ctx context.Context, orderID uuid.UUID) error {
	e.expired = append(e.expired, orderID)
	return nil
}

type settlementFixture struct {
	db      *gorm.DB
	svc     *service
	repo    Repository
	orders  orders.Repository
	gateway *fakeGateway
	expirer *noopExpirer
	outbox  *capturingOutbox
}

func newSettlementFixture(t *testing.T) *settlementFixture {
	t.Helper()

	db := setupPaymentsTestDB(t)
	repo := NewRepository(db)
	ordersRepo := orders.NewRepository(db)
	usersRepo := sellers.NewRepository(db)
	gw := &fakeGateway{chargeStatus: map[string]string{}, chargeErr: map[string]error{}}
	expirer := &noopExpirer{}
	publisher := &capturingOutbox{}
	tx := gormTxRunner{db: db}

	recorder, err := NewRecorder(repo, tx, publisher)
	require.NoError(t, err)
	aggregator, err := NewAggregator(ordersRepo, repo, tx, publisher)
	require.NoError(t, err)

	svc, err := NewService(repo, ordersRepo, expirer, usersRepo, gw, aggregator, recorder, tx, nil)
	require.NoError(t, err)

	return &settlementFixture{
		db:      db,
		svc:     svc.(*service),
		repo:    repo,
		orders:  ordersRepo,
		gateway: gw,
		expirer: expirer,
		outbox:  publisher,
	}
}

func (f *settlementFixture) newUser(t *testing.T, role enums.UserRole, token string) *models.User {
	t.Helper()

	user := &models.User{
		ID:       uuid.New(),
		Email:    uuid.NewString()[:8] + "@solara.test",
		Name:     "Ana Clara Souza",
		Role:     role,
		IsActive: true,
	}
	if token != "" {
		user.MercadoPagoAccessToken = &token
	}
	require.NoError(t, f.db.Create(user).Error)
	return user
}

type sellerLine struct {
	seller *models.User
	amount float64
	qty    int
}

func (f *settlementFixture) newPendingOrder(t *testing.T, buyer *models.User, shipping float64, lines ...sellerLine) *models.Order {
	t.Helper()

	reservedUntil := time.Now().UTC().Add(time.Hour)
	total := decimal.NewFromFloat(shipping)
	items := make([]models.OrderItem, 0, len(lines))
	for _, line := range lines {
		price := decimal.NewFromFloat(line.amount)
		total = total.Add(price.Mul(decimal.NewFromInt(int64(line.qty))))
		items = append(items, models.OrderItem{
			ID:        uuid.New(),
			ProductID: uuid.New(),
			SellerID:  line.seller.ID,
			Name:      "Emerald Pendant",
			Quantity:  line.qty,
			UnitPrice: price,
		})
	}
	order := &models.Order{
		ID:          uuid.New(),
		OrderNumber: "SOL-20260310-" + uuid.NewString()[:5],
		BuyerID:     buyer.ID,
		Status:      enums.OrderStatusPending,
		TotalAmount: total,
		ShippingCost: decimal.NewFromFloat(shipping),
		ShippingAddress: types.ShippingAddress{
			Street: "Rua das Flores", City: "Sao Paulo", State: "SP", PostalCode: "01310-000", Country: "BR",
		},
		StockReserved: true,
		ReservedUntil: &reservedUntil,
		Items:         items,
	}
	require.NoError(t, f.db.Create(order).Error)
	return order
}

func TestInitiateSettlement_cardApprovedConfirmsOrder(t *testing.T) {
	f := newSettlementFixture(t)

	buyer := f.newUser(t, enums.UserRoleBuyer, "")
	sellerA := f.newUser(t, enums.UserRoleSeller, "token-a")
	sellerB := f.newUser(t, enums.UserRoleSeller, "token-b")
	order := f.newPendingOrder(t, buyer, 20.00,
		sellerLine{seller: sellerA, amount: 100.00, qty: 1},
		sellerLine{seller: sellerB, amount: 50.00, qty: 2},
	)

	result, err := f.svc.InitiateSettlement(context.Background(), SettlementInput{
		OrderID: order.ID,
		BuyerID: buyer.ID,
		Method:  enums.PaymentMethodCard,
		Card: &CardDetails{
			Number:          "4111111111111111",
			ExpirationMonth: 12,
			ExpirationYear:  2030,
			SecurityCode:    "123",
			HolderName:      "ANA C SOUZA",
			HolderDocument:  "12345678901",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.SettlementStatusCompleted, result.Status)
	require.Len(t, result.Settlements, 2)

	// Each seller slice: product amount + proportional shipping share.
	first := result.Settlements[0].Payment
	second := result.Settlements[1].Payment
	assert.Equal(t, sellerA.ID, first.SellerID)
	assert.True(t, first.Amount.Equal(decimal.NewFromFloat(110.00)), "amount %s", first.Amount)
	assert.True(t, first.ApplicationFee.Equal(decimal.NewFromFloat(20.00)), "fee %s", first.ApplicationFee)
	assert.Equal(t, sellerB.ID, second.SellerID)
	assert.True(t, second.Amount.Equal(decimal.NewFromFloat(110.00)), "amount %s", second.Amount)

	assert.Equal(t, []string{"token-a", "token-b"}, f.gateway.credentials)

	confirmed, err := f.orders.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusConfirmed, confirmed.Status)
	assert.False(t, confirmed.StockReserved)
	require.NotNil(t, confirmed.PaidAt)

	var eventTypes []enums.OutboxEventType
	for _, e := range f.outbox.events {
		eventTypes = append(eventTypes, e.EventType)
	}
	assert.Equal(t, []enums.OutboxEventType{
		enums.EventPaymentCompleted,
		enums.EventPaymentCompleted,
		enums.EventOrderPaid,
	}, eventTypes)
}

func TestInitiateSettlement_abortsOnFirstGatewayFailure(t *testing.T) {
	f := newSettlementFixture(t)

	buyer := f.newUser(t, enums.UserRoleBuyer, "")
	sellerA := f.newUser(t, enums.UserRoleSeller, "token-a")
	sellerB := f.newUser(t, enums.UserRoleSeller, "token-b")
	order := f.newPendingOrder(t, buyer, 0,
		sellerLine{seller: sellerA, amount: 100.00, qty: 1},
		sellerLine{seller: sellerB, amount: 50.00, qty: 1},
	)
	f.gateway.chargeErr["token-a"] = errors.New("gateway unavailable")

	_, err := f.svc.InitiateSettlement(context.Background(), SettlementInput{
		OrderID: order.ID,
		BuyerID: buyer.ID,
		Method:  enums.PaymentMethodPix,
	})
	require.Error(t, err)

	rows, err := f.repo.FindByOrderID(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, enums.PaymentStatusFailed, rows[0].Status)
	require.NotNil(t, rows[0].FailureReason)
	assert.Equal(t, enums.PaymentStatusPending, rows[1].Status, "second seller must not be charged after the first failure")
	assert.Equal(t, []string{"token-a"}, f.gateway.credentials)

	still, err := f.orders.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPending, still.Status)
}

func TestInitiateSettlement_missingCredentialAbortsBeforeAnyCharge(t *testing.T) {
	f := newSettlementFixture(t)

	buyer := f.newUser(t, enums.UserRoleBuyer, "")
	sellerA := f.newUser(t, enums.UserRoleSeller, "token-a")
	sellerB := f.newUser(t, enums.UserRoleSeller, "")
	order := f.newPendingOrder(t, buyer, 0,
		sellerLine{seller: sellerA, amount: 100.00, qty: 1},
		sellerLine{seller: sellerB, amount: 50.00, qty: 1},
	)

	_, err := f.svc.InitiateSettlement(context.Background(), SettlementInput{
		OrderID: order.ID,
		BuyerID: buyer.ID,
		Method:  enums.PaymentMethodPix,
	})
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeResourceUnavailable, appErr.Code())
	details, ok := appErr.Details().(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, sellerB.ID.String(), details["seller_id"])

	// The first seller must not be charged when a later one is not
	// chargeable, and no payment rows may be left behind.
	assert.Empty(t, f.gateway.credentials)
	rows, err := f.repo.FindByOrderID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestInitiateSettlement_pixStaysPendingWithInstructions(t *testing.T) {
	f := newSettlementFixture(t)

	buyer := f.newUser(t, enums.UserRoleBuyer, "")
	seller := f.newUser(t, enums.UserRoleSeller, "token-a")
	order := f.newPendingOrder(t, buyer, 0, sellerLine{seller: seller, amount: 80.00, qty: 1})
	f.gateway.pix = true
	f.gateway.chargeStatus["token-a"] = mercadopago.ChargeStatusPending

	result, err := f.svc.InitiateSettlement(context.Background(), SettlementInput{
		OrderID: order.ID,
		BuyerID: buyer.ID,
		Method:  enums.PaymentMethodPix,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.SettlementStatusPending, result.Status)
	require.Len(t, result.Settlements, 1)
	assert.Equal(t, enums.PaymentStatusPending, result.Settlements[0].Payment.Status)
	require.NotNil(t, result.Settlements[0].Pix)
	assert.Equal(t, "qr-payload", result.Settlements[0].Pix.QRCode)

	still, err := f.orders.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPending, still.Status)
	assert.Empty(t, f.outbox.events)
}

func TestInitiateSettlement_resumeSkipsSettledSellers(t *testing.T) {
	f := newSettlementFixture(t)

	buyer := f.newUser(t, enums.UserRoleBuyer, "")
	sellerA := f.newUser(t, enums.UserRoleSeller, "token-a")
	sellerB := f.newUser(t, enums.UserRoleSeller, "token-b")
	order := f.newPendingOrder(t, buyer, 0,
		sellerLine{seller: sellerA, amount: 100.00, qty: 1},
		sellerLine{seller: sellerB, amount: 50.00, qty: 1},
	)

	settled := createTestPayment(t, f.db, order.ID, sellerA.ID, enums.PaymentStatusCompleted)
	createTestPayment(t, f.db, order.ID, sellerB.ID, enums.PaymentStatusFailed)

	result, err := f.svc.InitiateSettlement(context.Background(), SettlementInput{
		OrderID: order.ID,
		BuyerID: buyer.ID,
		Method:  enums.PaymentMethodPix,
	})
	require.NoError(t, err)

	// Seller A keeps its settled payment; only seller B was re-charged.
	assert.Equal(t, []string{"token-b"}, f.gateway.credentials)
	require.Len(t, result.Settlements, 2)
	ids := []uuid.UUID{result.Settlements[0].Payment.ID, result.Settlements[1].Payment.ID}
	assert.Contains(t, ids, settled.ID)
}

func TestInitiateSettlement_expiredReservation(t *testing.T) {
	f := newSettlementFixture(t)

	buyer := f.newUser(t, enums.UserRoleBuyer, "")
	seller := f.newUser(t, enums.UserRoleSeller, "token-a")
	order := f.newPendingOrder(t, buyer, 0, sellerLine{seller: seller, amount: 80.00, qty: 1})
	past := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, f.db.Model(order).Update("reserved_until", past).Error)

	_, err := f.svc.InitiateSettlement(context.Background(), SettlementInput{
		OrderID: order.ID,
		BuyerID: buyer.ID,
		Method:  enums.PaymentMethodPix,
	})
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeResourceUnavailable, appErr.Code())
	assert.Equal(t, []uuid.UUID{order.ID}, f.expirer.expired)
	assert.Empty(t, f.gateway.credentials)
}

func TestInitiateSettlement_rejectsForeignBuyerAndBadState(t *testing.T) {
	f := newSettlementFixture(t)

	buyer := f.newUser(t, enums.UserRoleBuyer, "")
	seller := f.newUser(t, enums.UserRoleSeller, "token-a")
	order := f.newPendingOrder(t, buyer, 0, sellerLine{seller: seller, amount: 80.00, qty: 1})

	_, err := f.svc.InitiateSettlement(context.Background(), SettlementInput{
		OrderID: order.ID,
		BuyerID: uuid.New(),
		Method:  enums.PaymentMethodPix,
	})
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeForbidden, appErr.Code())

	require.NoError(t, f.db.Model(order).Update("status", enums.OrderStatusConfirmed).Error)
	_, err = f.svc.InitiateSettlement(context.Background(), SettlementInput{
		OrderID: order.ID,
		BuyerID: buyer.ID,
		Method:  enums.PaymentMethodPix,
	})
	appErr = pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeStateConflict, appErr.Code())
}

func TestRetry_resetsFailedPayment(t *testing.T) {
	f := newSettlementFixture(t)

	buyer := f.newUser(t, enums.UserRoleBuyer, "")
	seller := f.newUser(t, enums.UserRoleSeller, "token-a")
	order := f.newPendingOrder(t, buyer, 0, sellerLine{seller: seller, amount: 80.00, qty: 1})

	failed := createTestPayment(t, f.db, order.ID, seller.ID, enums.PaymentStatusFailed)
	reason := "card declined"
	gatewayID := "555666"
	require.NoError(t, f.repo.Update(context.Background(), failed.ID, map[string]any{
		"failure_reason":     reason,
		"gateway_payment_id": gatewayID,
	}))

	reset, err := f.svc.Retry(context.Background(), buyer.ID, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPending, reset.Status)
	assert.Nil(t, reset.FailureReason)
	assert.Nil(t, reset.GatewayPaymentID)
	assert.Nil(t, reset.IdempotencyKey)
}

func TestRetry_rejectsNonFailedPayment(t *testing.T) {
	f := newSettlementFixture(t)

	buyer := f.newUser(t, enums.UserRoleBuyer, "")
	seller := f.newUser(t, enums.UserRoleSeller, "token-a")
	order := f.newPendingOrder(t, buyer, 0, sellerLine{seller: seller, amount: 80.00, qty: 1})
	completed := createTestPayment(t, f.db, order.ID, seller.ID, enums.PaymentStatusCompleted)

	_, err := f.svc.Retry(context.Background(), buyer.ID, completed.ID)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeStateConflict, appErr.Code())
}

func TestSplitBySeller_allocatesShippingProportionally(t *testing.T) {
	sellerA := uuid.New()
	sellerB := uuid.New()
	order := &models.Order{
		ShippingCost: decimal.NewFromFloat(20.00),
		Items: []models.OrderItem{
			{SellerID: sellerA, Quantity: 1, UnitPrice: decimal.NewFromFloat(150.00)},
			{SellerID: sellerB, Quantity: 1, UnitPrice: decimal.NewFromFloat(50.00)},
			{SellerID: sellerA, Quantity: 2, UnitPrice: decimal.NewFromFloat(25.00)},
		},
	}

	slices := splitBySeller(order)
	require.Len(t, slices, 2)
	assert.Equal(t, sellerA, slices[0].SellerID)
	assert.True(t, slices[0].ProductAmount.Equal(decimal.NewFromFloat(200.00)))
	assert.True(t, slices[0].ShippingShare.Equal(decimal.NewFromFloat(16.00)), "share %s", slices[0].ShippingShare)
	assert.Equal(t, sellerB, slices[1].SellerID)
	assert.True(t, slices[1].ShippingShare.Equal(decimal.NewFromFloat(4.00)), "share %s", slices[1].ShippingShare)
}

func TestSplitBySeller_roundingDriftIsBounded(t *testing.T) {
	// Three equal sellers splitting 10.00 rounds each share to 3.33; the
	// missing cent stays with the platform rather than any seller.
	order := &models.Order{ShippingCost: decimal.NewFromFloat(10.00)}
	for i := 0; i < 3; i++ {
		order.Items = append(order.Items, models.OrderItem{
			SellerID: uuid.New(), Quantity: 1, UnitPrice: decimal.NewFromFloat(30.00),
		})
	}

	slices := splitBySeller(order)
	require.Len(t, slices, 3)
	sum := decimal.Zero
	for _, slice := range slices {
		assert.True(t, slice.ShippingShare.Equal(decimal.RequireFromString("3.33")), "share %s", slice.ShippingShare)
		sum = sum.Add(slice.ShippingShare)
	}
	assert.True(t, sum.Equal(decimal.RequireFromString("9.99")))
}

func TestApplicationFee_ratesByMethod(t *testing.T) {
	slice := sellerSlice{
		ProductAmount: decimal.NewFromFloat(100.00),
		ShippingShare: decimal.NewFromFloat(5.00),
	}
	assert.True(t, applicationFee(enums.PaymentMethodCard, slice).Equal(decimal.NewFromFloat(15.00)))
	assert.True(t, applicationFee(enums.PaymentMethodPix, slice).Equal(decimal.NewFromFloat(13.00)))
}

func TestSplitName(t *testing.T) {
	first, last := splitName("Ana Clara Souza")
	assert.Equal(t, "Ana Clara", first)
	assert.Equal(t, "Souza", last)

	first, last = splitName("Cher")
	assert.Equal(t, "Cher", first)
	assert.Empty(t, last)
}
