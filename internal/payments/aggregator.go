package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/matheusvidal/solara-backend/internal/orders"
	"github.com/matheusvidal/solara-backend/pkg/enums"
	pkgerrors "github.com/matheusvidal/solara-backend/pkg/errors"
	"github.com/matheusvidal/solara-backend/pkg/outbox"
	"github.com/matheusvidal/solara-backend/pkg/outbox/payloads"
)

type outboxPublisher interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Aggregator derives the order-level payment state from the per-seller
// payments. It marks an order paid exactly once, when every payment has
// completed, and never resurrects a cancelled order.
type Aggregator struct {
	orders   orders.Repository
	payments Repository
	tx       txRunner
	outbox   outboxPublisher
	now      func() time.Time
}

// NewAggregator builds the completion aggregator.
func NewAggregator(ordersRepo orders.Repository, paymentsRepo Repository, tx txRunner, publisher outboxPublisher) (*Aggregator, error) {
	if ordersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if paymentsRepo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &Aggregator{
		orders:   ordersRepo,
		payments: paymentsRepo,
		tx:       tx,
		outbox:   publisher,
		now:      time.Now,
	}, nil
}

// Recompute re-evaluates an order's settlement and confirms the order when
// every seller payment completed. Idempotent: repeated calls after the
// order confirmed (or was cancelled) are no-ops.
func (a *Aggregator) Recompute(ctx context.Context, orderID uuid.UUID) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	return a.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ordersRepo := a.orders.WithTx(tx)
		paymentsRepo := a.payments.WithTx(tx)

		order, err := ordersRepo.FindByID(ctx, orderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order.Status != enums.OrderStatusPending {
			// Already confirmed, or cancelled/expired. A late payment
			// completion must not bring a dead order back.
			return nil
		}

		rows, err := paymentsRepo.FindByOrderID(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payments")
		}
		if len(rows) == 0 {
			return nil
		}
		for _, payment := range rows {
			if payment.Status != enums.PaymentStatusCompleted {
				return nil
			}
		}

		now := a.now()
		ok, err := ordersRepo.TransitionStatus(ctx, order.ID, enums.OrderStatusPending, map[string]any{
			"status":         enums.OrderStatusConfirmed,
			"paid_at":        now,
			"stock_reserved": false,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "confirm order")
		}
		if !ok {
			return nil
		}

		return a.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Data: payloads.OrderPaidEvent{
				OrderID:      order.ID,
				OrderNumber:  order.OrderNumber,
				BuyerID:      order.BuyerID,
				TotalAmount:  order.TotalAmount,
				PaymentCount: len(rows),
				PaidAt:       now,
			},
		})
	})
}
