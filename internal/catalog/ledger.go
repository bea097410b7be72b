package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgerrors "github.com/matheusvidal/solara-backend/pkg/errors"
)

// StockLine is one product/quantity pair in a reservation or release.
type StockLine struct {
	ProductID uuid.UUID
	Qty       int
}

// Ledger applies stock movements inside the caller's transaction. Every
// mutation goes through the guarded UPDATE so concurrent checkouts can
// never oversell.
type Ledger struct {
	repo Repository
}

// NewLedger builds a stock ledger over the catalog repository.
func NewLedger(repo Repository) (*Ledger, error) {
	if repo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	return &Ledger{repo: repo}, nil
}

// Reserve decrements stock for every line, failing the whole batch on the
// first product with insufficient stock. The surrounding transaction makes
// the batch atomic.
func (l *Ledger) Reserve(ctx context.Context, tx *gorm.DB, lines []StockLine) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for stock reservation")
	}
	repo := l.repo.WithTx(tx)
	for _, line := range lines {
		if line.Qty <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
		}
		ok, err := repo.DecrementStock(ctx, line.ProductID, line.Qty)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decrement stock")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
				WithDetails(map[string]interface{}{"product_id": line.ProductID.String()})
		}
	}
	return nil
}

// Release returns previously reserved stock, e.g. on cancellation or
// reservation expiry.
func (l *Ledger) Release(ctx context.Context, tx *gorm.DB, lines []StockLine) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for stock release")
	}
	repo := l.repo.WithTx(tx)
	for _, line := range lines {
		if err := repo.RestoreStock(ctx, line.ProductID, line.Qty); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "restore stock")
		}
	}
	return nil
}
