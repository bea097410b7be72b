package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/matheusvidal/solara-backend/internal/catalog"
	dbpkg "github.com/matheusvidal/solara-backend/pkg/db"
	"github.com/matheusvidal/solara-backend/pkg/db/models"
	"github.com/matheusvidal/solara-backend/pkg/enums"
	pkgerrors "github.com/matheusvidal/solara-backend/pkg/errors"
	"github.com/matheusvidal/solara-backend/pkg/outbox"
	"github.com/matheusvidal/solara-backend/pkg/outbox/payloads"
	"github.com/matheusvidal/solara-backend/pkg/pagination"
)

// ReservationTTL is how long checked-out stock stays reserved while the
// buyer completes payment.
const ReservationTTL = 24 * time.Hour

const orderNumberPrefix = "SOL"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type stockLedger interface {
	Reserve(ctx context.Context, tx *gorm.DB, lines []catalog.StockLine) error
	Release(ctx context.Context, tx *gorm.DB, lines []catalog.StockLine) error
}

// Service orchestrates the order lifecycle from checkout to delivery.
type Service interface {
	Checkout(ctx context.Context, buyerID uuid.UUID, input CheckoutInput) (*models.Order, error)
	Get(ctx context.Context, actorID uuid.UUID, role enums.UserRole, orderID uuid.UUID) (*models.Order, error)
	ListForBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params, filters Filters) (*OrderList, error)
	ListForSeller(ctx context.Context, sellerID uuid.UUID, params pagination.Params, filters Filters) (*OrderList, error)
	Cancel(ctx context.Context, input CancelInput) error
	Accept(ctx context.Context, input SellerDecisionInput) error
	Reject(ctx context.Context, input SellerDecisionInput) error
	Ship(ctx context.Context, input ShipInput) error
	ExpireReservation(ctx context.Context, orderID uuid.UUID) error
}

type service struct {
	repo    Repository
	catalog catalog.Repository
	ledger  stockLedger
	tx      txRunner
	outbox  outboxPublisher
	now     func() time.Time
}

// NewService builds the order service with its required collaborators.
func NewService(repo Repository, catalogRepo catalog.Repository, ledger stockLedger, tx txRunner, publisher outboxPublisher) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if catalogRepo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		repo:    repo,
		catalog: catalogRepo,
		ledger:  ledger,
		tx:      tx,
		outbox:  publisher,
		now:     time.Now,
	}, nil
}

func (s *service) Checkout(ctx context.Context, buyerID uuid.UUID, input CheckoutInput) (*models.Order, error) {
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if len(input.CartItemIDs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one cart item required")
	}
	if err := input.ShippingAddress.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid shipping address")
	}
	if input.ShippingCost.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping cost cannot be negative")
	}

	var created *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		catalogRepo := s.catalog.WithTx(tx)

		items, err := catalogRepo.FindCartItems(ctx, buyerID, input.CartItemIDs)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart items")
		}
		if len(items) != len(input.CartItemIDs) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "one or more cart items not found")
		}

		lines := make([]catalog.StockLine, 0, len(items))
		orderItems := make([]models.OrderItem, 0, len(items))
		total := decimal.Zero
		for _, item := range items {
			if item.Product == nil {
				return pkgerrors.New(pkgerrors.CodeResourceUnavailable, "product no longer exists")
			}
			if !item.Product.IsPurchasable() {
				return pkgerrors.New(pkgerrors.CodeResourceUnavailable, "product is not available for purchase").
					WithDetails(map[string]interface{}{"product_id": item.ProductID.String()})
			}
			lines = append(lines, catalog.StockLine{ProductID: item.ProductID, Qty: item.Quantity})
			subtotal := item.PriceAtAdd.Mul(decimal.NewFromInt(int64(item.Quantity)))
			total = total.Add(subtotal)
			orderItems = append(orderItems, models.OrderItem{
				ProductID: item.ProductID,
				SellerID:  item.Product.SellerID,
				Name:      item.Product.Name,
				Quantity:  item.Quantity,
				UnitPrice: item.PriceAtAdd,
			})
		}

		if err := s.ledger.Reserve(ctx, tx, lines); err != nil {
			return err
		}

		number, err := s.nextOrderNumber(ctx, repo)
		if err != nil {
			return err
		}

		// Tax is not assessed yet; the column stays at zero so the order
		// total is always items + shipping + tax.
		tax := decimal.Zero

		reservedUntil := s.now().Add(ReservationTTL)
		order := &models.Order{
			OrderNumber:     number,
			BuyerID:         buyerID,
			Status:          enums.OrderStatusPending,
			TotalAmount:     total.Add(input.ShippingCost).Add(tax),
			ShippingCost:    input.ShippingCost,
			TaxAmount:       tax,
			ShippingAddress: input.ShippingAddress,
			StockReserved:   true,
			ReservedUntil:   &reservedUntil,
			Items:           orderItems,
		}
		if _, err := repo.Create(ctx, order); err != nil {
			if dbpkg.IsUniqueViolation(err, "idx_orders_order_number") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "order number collision, retry checkout")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}

		if err := catalogRepo.DeleteCartItems(ctx, buyerID, input.CartItemIDs); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart items")
		}

		created = order
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         actor(buyerID, enums.UserRoleBuyer),
			Data: payloads.OrderCreatedEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				BuyerID:     buyerID,
				SellerIDs:   distinctSellers(orderItems),
				ItemCount:   len(orderItems),
				TotalAmount: order.TotalAmount,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Get loads an order for its buyer or for a seller with items in it. An
// expired reservation is lazily released before the order is returned.
func (s *service) Get(ctx context.Context, actorID uuid.UUID, role enums.UserRole, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(order, actorID, role); err != nil {
		return nil, err
	}

	if order.IsReservationExpired(s.now()) {
		if err := s.ExpireReservation(ctx, order.ID); err != nil {
			return nil, err
		}
		return s.load(ctx, orderID)
	}
	return order, nil
}

func (s *service) ListForBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params, filters Filters) (*OrderList, error) {
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	list, err := s.repo.ListForBuyer(ctx, buyerID, params, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list buyer orders")
	}
	return list, nil
}

func (s *service) ListForSeller(ctx context.Context, sellerID uuid.UUID, params pagination.Params, filters Filters) (*OrderList, error) {
	if sellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	list, err := s.repo.ListForSeller(ctx, sellerID, params, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list seller orders")
	}
	return list, nil
}

// Cancel lets the buyer abandon a pending order before payment. Reserved
// stock goes back to the shelves.
func (s *service) Cancel(ctx context.Context, input CancelInput) error {
	if input.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.BuyerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.loadTx(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}
		if order.BuyerID != input.BuyerID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to buyer")
		}
		if order.Status != enums.OrderStatusPending {
			return invalidTransition(order.Status, enums.OrderStatusPending)
		}

		now := s.now()
		updates := map[string]any{
			"status":         enums.OrderStatusCancelled,
			"cancelled_at":   now,
			"stock_reserved": false,
		}
		if input.Reason != "" {
			updates["cancellation_reason"] = input.Reason
		}
		ok, err := repo.TransitionStatus(ctx, order.ID, enums.OrderStatusPending, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order state changed, retry")
		}

		if order.StockReserved {
			if err := s.ledger.Release(ctx, tx, stockLines(order.Items)); err != nil {
				return err
			}
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         actor(input.BuyerID, enums.UserRoleBuyer),
			Data: payloads.OrderCancelledEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				BuyerID:     order.BuyerID,
				CancelledAt: now,
				Reason:      input.Reason,
			},
		})
	})
}

// Accept moves a confirmed (paid) order into fulfillment.
func (s *service) Accept(ctx context.Context, input SellerDecisionInput) error {
	return s.sellerTransition(ctx, input.SellerID, input.OrderID, func(tx *gorm.DB, repo Repository, order *models.Order) error {
		if order.Status != enums.OrderStatusConfirmed {
			return invalidTransition(order.Status, enums.OrderStatusConfirmed)
		}
		now := s.now()
		ok, err := repo.TransitionStatus(ctx, order.ID, enums.OrderStatusConfirmed, map[string]any{
			"status":      enums.OrderStatusAccepted,
			"accepted_at": now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "accept order")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order state changed, retry")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderAccepted,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         actor(input.SellerID, enums.UserRoleSeller),
			Data: payloads.OrderAcceptedEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				SellerID:    input.SellerID,
				AcceptedAt:  now,
			},
		})
	})
}

// Reject cancels a confirmed order before fulfillment and restores stock.
// Refunding the captured payments is handled through the refund workflow.
func (s *service) Reject(ctx context.Context, input SellerDecisionInput) error {
	return s.sellerTransition(ctx, input.SellerID, input.OrderID, func(tx *gorm.DB, repo Repository, order *models.Order) error {
		if order.Status != enums.OrderStatusConfirmed {
			return invalidTransition(order.Status, enums.OrderStatusConfirmed)
		}
		now := s.now()
		reason := input.Reason
		if reason == "" {
			reason = "rejected by seller"
		}
		ok, err := repo.TransitionStatus(ctx, order.ID, enums.OrderStatusConfirmed, map[string]any{
			"status":              enums.OrderStatusCancelled,
			"cancelled_at":        now,
			"cancellation_reason": reason,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reject order")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order state changed, retry")
		}
		if err := s.ledger.Release(ctx, tx, stockLines(order.Items)); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         actor(input.SellerID, enums.UserRoleSeller),
			Data: payloads.OrderCancelledEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				BuyerID:     order.BuyerID,
				CancelledAt: now,
				Reason:      reason,
			},
		})
	})
}

// Ship records the tracking number and notifies the buyer.
func (s *service) Ship(ctx context.Context, input ShipInput) error {
	if input.TrackingNumber == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "tracking number required")
	}
	return s.sellerTransition(ctx, input.SellerID, input.OrderID, func(tx *gorm.DB, repo Repository, order *models.Order) error {
		if order.Status != enums.OrderStatusAccepted {
			return invalidTransition(order.Status, enums.OrderStatusAccepted)
		}
		now := s.now()
		ok, err := repo.TransitionStatus(ctx, order.ID, enums.OrderStatusAccepted, map[string]any{
			"status":          enums.OrderStatusShipped,
			"shipped_at":      now,
			"tracking_number": input.TrackingNumber,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ship order")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order state changed, retry")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderShipped,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         actor(input.SellerID, enums.UserRoleSeller),
			Data: payloads.OrderShippedEvent{
				OrderID:        order.ID,
				OrderNumber:    order.OrderNumber,
				SellerID:       input.SellerID,
				TrackingNumber: input.TrackingNumber,
				ShippedAt:      now,
			},
		})
	})
}

// ExpireReservation releases the stock of a pending order whose payment
// window lapsed and cancels it. Safe to call concurrently; only one caller
// wins the guarded transition.
func (s *service) ExpireReservation(ctx context.Context, orderID uuid.UUID) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.loadTx(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if !order.IsReservationExpired(s.now()) {
			return nil
		}

		now := s.now()
		ok, err := repo.TransitionStatus(ctx, order.ID, enums.OrderStatusPending, map[string]any{
			"status":              enums.OrderStatusCancelled,
			"cancelled_at":        now,
			"cancellation_reason": "stock reservation expired",
			"stock_reserved":      false,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire order")
		}
		if !ok {
			return nil
		}

		if err := s.ledger.Release(ctx, tx, stockLines(order.Items)); err != nil {
			return err
		}

		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderExpired,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Data: payloads.OrderExpiredEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				BuyerID:     order.BuyerID,
				ExpiredAt:   now,
			},
		})
	})
}

func (s *service) sellerTransition(ctx context.Context, sellerID, orderID uuid.UUID, fn func(tx *gorm.DB, repo Repository, order *models.Order) error) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if sellerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.loadTx(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if !orderHasSeller(order, sellerID) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order has no items from seller")
		}
		return fn(tx, repo, order)
	})
}

func (s *service) authorize(order *models.Order, actorID uuid.UUID, role enums.UserRole) error {
	if actorID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if order.BuyerID == actorID {
		return nil
	}
	if role == enums.UserRoleSeller && orderHasSeller(order, actorID) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "order is not visible to user")
}

func (s *service) load(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.loadTx(ctx, s.repo, orderID)
}

func (s *service) loadTx(ctx context.Context, repo Repository, orderID uuid.UUID) (*models.Order, error) {
	order, err := repo.FindByID(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) nextOrderNumber(ctx context.Context, repo Repository) (string, error) {
	now := s.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	count, err := repo.CountCreatedBetween(ctx, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count orders for sequence")
	}
	return fmt.Sprintf("%s-%s-%05d", orderNumberPrefix, now.Format("20060102"), count+1), nil
}

func invalidTransition(current, expected enums.OrderStatus) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "invalid order state transition").
		WithDetails(map[string]interface{}{
			"current_status":  current.String(),
			"expected_status": expected.String(),
		})
}

func orderHasSeller(order *models.Order, sellerID uuid.UUID) bool {
	for _, item := range order.Items {
		if item.SellerID == sellerID {
			return true
		}
	}
	return false
}

func stockLines(items []models.OrderItem) []catalog.StockLine {
	lines := make([]catalog.StockLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, catalog.StockLine{ProductID: item.ProductID, Qty: item.Quantity})
	}
	return lines
}

func distinctSellers(items []models.OrderItem) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(items))
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.SellerID]; ok {
			continue
		}
		seen[item.SellerID] = struct{}{}
		ids = append(ids, item.SellerID)
	}
	return ids
}

func actor(userID uuid.UUID, role enums.UserRole) *outbox.ActorRef {
	return &outbox.ActorRef{UserID: userID, Role: role.String()}
}
