package orders

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/matheusvidal/solara-backend/internal/catalog"
	"github.com/matheusvidal/solara-backend/pkg/db/models"
	"github.com/matheusvidal/solara-backend/pkg/enums"
	pkgerrors "github.com/matheusvidal/solara-backend/pkg/errors"
	"github.com/matheusvidal/solara-backend/pkg/outbox"
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

func (c *capturingOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	c.events = append(c.events, event)
	return nil
}

func (c *capturingOutbox) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	c.events = append(c.events, event)
	return nil
}

func (c *capturingOutbox) types() []enums.OutboxEventType {
	out := make([]enums.OutboxEventType, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.EventType)
	}
	return out
}

type orderServiceFixture struct {
	db      *gorm.DB
	svc     *service
	repo    Repository
	catalog catalog.Repository
	outbox  *capturingOutbox
}

func newOrderServiceFixture(t *testing.T) *orderServiceFixture {
	t.Helper()

	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	catalogRepo := catalog.NewRepository(db)
	ledger, err := catalog.NewLedger(catalogRepo)
	require.NoError(t, err)
	publisher := &capturingOutbox{}

	svc, err := NewService(repo, catalogRepo, ledger, gormTxRunner{db: db}, publisher)
	require.NoError(t, err)

	return &orderServiceFixture{
		db:      db,
		svc:     svc.(*service),
		repo:    repo,
		catalog: catalogRepo,
		outbox:  publisher,
	}
}

func (f *orderServiceFixture) newProduct(t *testing.T, seller uuid.UUID, price float64, stock int) *models.Product {
	t.Helper()

	product := &models.Product{
		ID:            uuid.New(),
		SellerID:      seller,
		SKU:           "SKU-" + uuid.NewString()[:8],
		Name:          "Pearl Earrings",
		Price:         decimal.NewFromFloat(price),
		StockQuantity: stock,
		Status:        enums.ProductStatusApproved,
		IsActive:      true,
	}
	require.NoError(t, f.db.Create(product).Error)
	return product
}

func (f *orderServiceFixture) addToCart(t *testing.T, buyer uuid.UUID, product *models.Product, qty int) *models.CartItem {
	t.Helper()

	item := &models.CartItem{
		ID:         uuid.New(),
		BuyerID:    buyer,
		ProductID:  product.ID,
		Quantity:   qty,
		PriceAtAdd: product.Price,
	}
	require.NoError(t, f.db.Create(item).Error)
	return item
}

func (f *orderServiceFixture) stockOf(t *testing.T, productID uuid.UUID) int {
	t.Helper()

	product, err := f.catalog.FindProductByID(context.Background(), productID)
	require.NoError(t, err)
	return product.StockQuantity
}

func TestServiceCheckout_createsOrderAndReservesStock(t *testing.T) {
	f := newOrderServiceFixture(t)
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }

	buyer := uuid.New()
	sellerA := uuid.New()
	sellerB := uuid.New()
	ringProduct := f.newProduct(t, sellerA, 100.00, 5)
	chainProduct := f.newProduct(t, sellerB, 40.00, 3)
	first := f.addToCart(t, buyer, ringProduct, 2)
	second := f.addToCart(t, buyer, chainProduct, 1)

	order, err := f.svc.Checkout(context.Background(), buyer, CheckoutInput{
		CartItemIDs:     []uuid.UUID{first.ID, second.ID},
		ShippingAddress: testAddress(),
		ShippingCost:    decimal.NewFromFloat(20.00),
	})
	require.NoError(t, err)

	assert.Equal(t, "SOL-20260310-00001", order.OrderNumber)
	assert.Equal(t, enums.OrderStatusPending, order.Status)
	assert.True(t, order.StockReserved)
	require.NotNil(t, order.ReservedUntil)
	assert.Equal(t, now.Add(ReservationTTL), *order.ReservedUntil)
	assert.True(t, order.TotalAmount.Equal(decimal.NewFromFloat(260.00)), "total %s", order.TotalAmount)
	assert.True(t, order.TaxAmount.IsZero(), "tax %s", order.TaxAmount)
	itemsTotal := decimal.NewFromFloat(240.00)
	assert.True(t, order.TotalAmount.Equal(itemsTotal.Add(order.ShippingCost).Add(order.TaxAmount)))

	assert.Equal(t, 3, f.stockOf(t, ringProduct.ID))
	assert.Equal(t, 2, f.stockOf(t, chainProduct.ID))

	var cartLeft int64
	require.NoError(t, f.db.Model(&models.CartItem{}).Where("buyer_id = ?", buyer).Count(&cartLeft).Error)
	assert.Zero(t, cartLeft)

	require.Len(t, f.outbox.events, 1)
	assert.Equal(t, enums.EventOrderCreated, f.outbox.events[0].EventType)
	assert.Equal(t, order.ID, f.outbox.events[0].AggregateID)
}

func TestServiceCheckout_numbersOrdersPerDay(t *testing.T) {
	f := newOrderServiceFixture(t)
	// Rows get their created_at from the real clock, so the sequence
	// window has to use it too.
	now := time.Now().UTC()
	f.svc.now = func() time.Time { return now }

	buyer := uuid.New()
	product := f.newProduct(t, uuid.New(), 50.00, 10)

	for i := 1; i <= 2; i++ {
		item := f.addToCart(t, buyer, product, 1)
		order, err := f.svc.Checkout(context.Background(), buyer, CheckoutInput{
			CartItemIDs:     []uuid.UUID{item.ID},
			ShippingAddress: testAddress(),
		})
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("SOL-%s-%05d", now.Format("20060102"), i), order.OrderNumber)
	}
}

func TestServiceCheckout_insufficientStockRollsBackEverything(t *testing.T) {
	f := newOrderServiceFixture(t)

	buyer := uuid.New()
	plenty := f.newProduct(t, uuid.New(), 100.00, 10)
	scarce := f.newProduct(t, uuid.New(), 30.00, 1)
	first := f.addToCart(t, buyer, plenty, 2)
	second := f.addToCart(t, buyer, scarce, 5)

	_, err := f.svc.Checkout(context.Background(), buyer, CheckoutInput{
		CartItemIDs:     []uuid.UUID{first.ID, second.ID},
		ShippingAddress: testAddress(),
	})
	require.Error(t, err)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeInsufficientStock, appErr.Code())

	assert.Equal(t, 10, f.stockOf(t, plenty.ID))
	assert.Equal(t, 1, f.stockOf(t, scarce.ID))

	var orders int64
	require.NoError(t, f.db.Model(&models.Order{}).Count(&orders).Error)
	assert.Zero(t, orders)

	var cartLeft int64
	require.NoError(t, f.db.Model(&models.CartItem{}).Count(&cartLeft).Error)
	assert.Equal(t, int64(2), cartLeft)
	assert.Empty(t, f.outbox.events)
}

func TestServiceCheckout_unknownCartItem(t *testing.T) {
	f := newOrderServiceFixture(t)

	_, err := f.svc.Checkout(context.Background(), uuid.New(), CheckoutInput{
		CartItemIDs:     []uuid.UUID{uuid.New()},
		ShippingAddress: testAddress(),
	})
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeNotFound, appErr.Code())
}

func TestServiceCheckout_unpurchasableProduct(t *testing.T) {
	f := newOrderServiceFixture(t)

	buyer := uuid.New()
	product := f.newProduct(t, uuid.New(), 100.00, 10)
	require.NoError(t, f.db.Model(product).Update("is_active", false).Error)
	item := f.addToCart(t, buyer, product, 1)

	_, err := f.svc.Checkout(context.Background(), buyer, CheckoutInput{
		CartItemIDs:     []uuid.UUID{item.ID},
		ShippingAddress: testAddress(),
	})
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeResourceUnavailable, appErr.Code())
}

func TestServiceCancel_restoresStockAndEmits(t *testing.T) {
	f := newOrderServiceFixture(t)

	buyer := uuid.New()
	product := f.newProduct(t, uuid.New(), 100.00, 5)
	item := f.addToCart(t, buyer, product, 2)

	order, err := f.svc.Checkout(context.Background(), buyer, CheckoutInput{
		CartItemIDs:     []uuid.UUID{item.ID},
		ShippingAddress: testAddress(),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, f.stockOf(t, product.ID))

	require.NoError(t, f.svc.Cancel(context.Background(), CancelInput{
		OrderID: order.ID,
		BuyerID: buyer,
		Reason:  "changed my mind",
	}))

	reloaded, err := f.repo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, reloaded.Status)
	assert.False(t, reloaded.StockReserved)
	assert.Equal(t, 5, f.stockOf(t, product.ID))
	assert.Equal(t, []enums.OutboxEventType{enums.EventOrderCreated, enums.EventOrderCancelled}, f.outbox.types())
}

func TestServiceCancel_rejectsForeignBuyer(t *testing.T) {
	f := newOrderServiceFixture(t)

	buyer := uuid.New()
	product := f.newProduct(t, uuid.New(), 100.00, 5)
	item := f.addToCart(t, buyer, product, 1)
	order, err := f.svc.Checkout(context.Background(), buyer, CheckoutInput{
		CartItemIDs:     []uuid.UUID{item.ID},
		ShippingAddress: testAddress(),
	})
	require.NoError(t, err)

	err = f.svc.Cancel(context.Background(), CancelInput{OrderID: order.ID, BuyerID: uuid.New()})
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeForbidden, appErr.Code())
}

func TestServiceAccept_requiresConfirmedOrder(t *testing.T) {
	f := newOrderServiceFixture(t)

	seller := uuid.New()
	order := createTestOrder(t, f.db, uuid.New(), "SOL-20260310-00001", enums.OrderStatusPending, time.Now().UTC())
	addItem(t, f.db, order, seller, 1, 100)

	err := f.svc.Accept(context.Background(), SellerDecisionInput{OrderID: order.ID, SellerID: seller})
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeStateConflict, appErr.Code())
}

func TestServiceAcceptThenShip(t *testing.T) {
	f := newOrderServiceFixture(t)

	seller := uuid.New()
	order := createTestOrder(t, f.db, uuid.New(), "SOL-20260310-00001", enums.OrderStatusConfirmed, time.Now().UTC())
	addItem(t, f.db, order, seller, 1, 100)

	require.NoError(t, f.svc.Accept(context.Background(), SellerDecisionInput{OrderID: order.ID, SellerID: seller}))
	require.NoError(t, f.svc.Ship(context.Background(), ShipInput{
		OrderID:        order.ID,
		SellerID:       seller,
		TrackingNumber: "BR1234567890",
	}))

	reloaded, err := f.repo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusShipped, reloaded.Status)
	require.NotNil(t, reloaded.TrackingNumber)
	assert.Equal(t, "BR1234567890", *reloaded.TrackingNumber)
	assert.Equal(t, []enums.OutboxEventType{enums.EventOrderAccepted, enums.EventOrderShipped}, f.outbox.types())
}

func TestServiceReject_restoresStock(t *testing.T) {
	f := newOrderServiceFixture(t)

	seller := uuid.New()
	product := f.newProduct(t, seller, 100.00, 0)
	order := createTestOrder(t, f.db, uuid.New(), "SOL-20260310-00001", enums.OrderStatusConfirmed, time.Now().UTC())
	item := &models.OrderItem{
		ID:        uuid.New(),
		OrderID:   order.ID,
		ProductID: product.ID,
		SellerID:  seller,
		Name:      product.Name,
		Quantity:  2,
		UnitPrice: product.Price,
	}
	require.NoError(t, f.db.Create(item).Error)

	require.NoError(t, f.svc.Reject(context.Background(), SellerDecisionInput{OrderID: order.ID, SellerID: seller}))

	reloaded, err := f.repo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, reloaded.Status)
	require.NotNil(t, reloaded.CancellationReason)
	assert.Equal(t, "rejected by seller", *reloaded.CancellationReason)
	assert.Equal(t, 2, f.stockOf(t, product.ID))
}

func TestServiceExpireReservation(t *testing.T) {
	f := newOrderServiceFixture(t)
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }

	buyer := uuid.New()
	product := f.newProduct(t, uuid.New(), 100.00, 5)
	item := f.addToCart(t, buyer, product, 2)
	order, err := f.svc.Checkout(context.Background(), buyer, CheckoutInput{
		CartItemIDs:     []uuid.UUID{item.ID},
		ShippingAddress: testAddress(),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, f.stockOf(t, product.ID))

	// Not expired yet; nothing changes.
	require.NoError(t, f.svc.ExpireReservation(context.Background(), order.ID))
	mid, err := f.repo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPending, mid.Status)

	f.svc.now = func() time.Time { return now.Add(ReservationTTL + time.Minute) }
	require.NoError(t, f.svc.ExpireReservation(context.Background(), order.ID))

	reloaded, err := f.repo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, reloaded.Status)
	assert.False(t, reloaded.StockReserved)
	require.NotNil(t, reloaded.CancellationReason)
	assert.Equal(t, "stock reservation expired", *reloaded.CancellationReason)
	assert.Equal(t, 5, f.stockOf(t, product.ID))
	assert.Equal(t, []enums.OutboxEventType{enums.EventOrderCreated, enums.EventOrderExpired}, f.outbox.types())

	// Already cancelled; a second sweep is a no-op.
	require.NoError(t, f.svc.ExpireReservation(context.Background(), order.ID))
	assert.Equal(t, 5, f.stockOf(t, product.ID))
}

func TestServiceGet_appliesReactiveExpiry(t *testing.T) {
	f := newOrderServiceFixture(t)
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }

	buyer := uuid.New()
	product := f.newProduct(t, uuid.New(), 100.00, 5)
	item := f.addToCart(t, buyer, product, 1)
	order, err := f.svc.Checkout(context.Background(), buyer, CheckoutInput{
		CartItemIDs:     []uuid.UUID{item.ID},
		ShippingAddress: testAddress(),
	})
	require.NoError(t, err)

	f.svc.now = func() time.Time { return now.Add(ReservationTTL + time.Minute) }
	got, err := f.svc.Get(context.Background(), buyer, enums.UserRoleBuyer, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, got.Status)
	assert.Equal(t, 5, f.stockOf(t, product.ID))
}

func TestServiceGet_authorization(t *testing.T) {
	f := newOrderServiceFixture(t)

	seller := uuid.New()
	order := createTestOrder(t, f.db, uuid.New(), "SOL-20260310-00001", enums.OrderStatusConfirmed, time.Now().UTC())
	addItem(t, f.db, order, seller, 1, 100)

	_, err := f.svc.Get(context.Background(), seller, enums.UserRoleSeller, order.ID)
	require.NoError(t, err)

	_, err = f.svc.Get(context.Background(), uuid.New(), enums.UserRoleBuyer, order.ID)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeForbidden, appErr.Code())
}
