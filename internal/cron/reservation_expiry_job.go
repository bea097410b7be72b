package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/matheusvidal/solara-backend/pkg/db/models"
	"github.com/matheusvidal/solara-backend/pkg/logger"
)

const reservationSweepBatch = 200

type expiredOrderReader interface {
	FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Order, error)
}

type reservationExpirer interface {
	ExpireReservation(ctx context.Context, orderID uuid.UUID) error
}

// ReservationExpiryJobParams configure the stock reservation sweeper.
type ReservationExpiryJobParams struct {
	Logger    *logger.Logger
	Orders    expiredOrderReader
	Expirer   reservationExpirer
	BatchSize int
}

// NewReservationExpiryJob builds the cron job that cancels pending orders
// whose stock reservation ran out. Reads already expire reservations on
// access; this sweep catches orders nobody looked at again.
func NewReservationExpiryJob(params ReservationExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders reader required")
	}
	if params.Expirer == nil {
		return nil, fmt.Errorf("reservation expirer required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = reservationSweepBatch
	}
	return &reservationExpiryJob{
		logg:    params.Logger,
		orders:  params.Orders,
		expirer: params.Expirer,
		batch:   batch,
		now:     time.Now,
	}, nil
}

type reservationExpiryJob struct {
	logg    *logger.Logger
	orders  expiredOrderReader
	expirer reservationExpirer
	batch   int
	now     func() time.Time
}

func (j *reservationExpiryJob) Name() string { return "reservation-expiry" }

func (j *reservationExpiryJob) Run(ctx context.Context) error {
	expired, err := j.orders.FindExpiredPending(ctx, j.now().UTC(), j.batch)
	if err != nil {
		return fmt.Errorf("query expired reservations: %w", err)
	}

	var errs []error
	count := 0
	for _, order := range expired {
		// Each expiry runs in its own transaction with a guarded status
		// update, so a concurrent checkout read expiring the same order
		// makes this a no-op rather than a conflict.
		if err := j.expirer.ExpireReservation(ctx, order.ID); err != nil {
			errs = append(errs, fmt.Errorf("expire order %s: %w", order.ID, err))
			continue
		}
		count++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{"count": count, "candidates": len(expired)})
	j.logg.Info(logCtx, "reservation expiry sweep complete")
	return multierr.Combine(errs...)
}
