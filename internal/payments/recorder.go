package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/matheusvidal/solara-backend/pkg/db/models"
	"github.com/matheusvidal/solara-backend/pkg/enums"
	pkgerrors "github.com/matheusvidal/solara-backend/pkg/errors"
	"github.com/matheusvidal/solara-backend/pkg/outbox"
	"github.com/matheusvidal/solara-backend/pkg/outbox/payloads"
)

// Recorder applies terminal payment transitions together with their
// outbox events in one transaction. Both the settlement splitter and the
// webhook reconciler write through it, so the monotonic guards live in a
// single place.
type Recorder struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
	now    func() time.Time
}

// NewRecorder builds a payment transition recorder.
func NewRecorder(repo Repository, tx txRunner, publisher outboxPublisher) (*Recorder, error) {
	if repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &Recorder{repo: repo, tx: tx, outbox: publisher, now: time.Now}, nil
}

// RecordCompleted moves the payment to completed and queues the
// payment_completed event. Returns false when the payment had already left
// pending, which callers treat as a duplicate notification.
func (r *Recorder) RecordCompleted(ctx context.Context, paymentID uuid.UUID, gatewayID string, raw json.RawMessage) (bool, error) {
	var changed bool
	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.repo.WithTx(tx)
		ok, err := repo.MarkCompleted(ctx, paymentID, gatewayID, raw, r.now())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete payment")
		}
		if !ok {
			return nil
		}
		changed = true
		payment, err := repo.FindByID(ctx, paymentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload payment")
		}
		return r.outbox.EmitIfNotExists(ctx, tx, statusEvent(enums.EventPaymentCompleted, payment))
	})
	return changed, err
}

// RecordFailed moves the payment to failed and queues the payment_failed
// event. Completed payments are never failed retroactively.
func (r *Recorder) RecordFailed(ctx context.Context, paymentID uuid.UUID, reason string) (bool, error) {
	var changed bool
	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.repo.WithTx(tx)
		ok, err := repo.MarkFailed(ctx, paymentID, reason)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail payment")
		}
		if !ok {
			return nil
		}
		changed = true
		payment, err := repo.FindByID(ctx, paymentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload payment")
		}
		return r.outbox.EmitIfNotExists(ctx, tx, statusEvent(enums.EventPaymentFailed, payment))
	})
	return changed, err
}

func statusEvent(eventType enums.OutboxEventType, payment *models.Payment) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Version:       1,
		Data: payloads.PaymentStatusEvent{
			PaymentID: payment.ID,
			OrderID:   payment.OrderID,
			SellerID:  payment.SellerID,
			Method:    payment.Method,
			Status:    payment.Status,
			Amount:    payment.Amount,
		},
	}
}
