package catalog

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	pkgerrors "github.com/matheusvidal/solara-backend/pkg/errors"
)

func TestLedgerReserve_failsBatchOnFirstInsufficientLine(t *testing.T) {
	db := setupCatalogTestDB(t)
	repo := NewRepository(db)
	ledger, err := NewLedger(repo)
	require.NoError(t, err)

	seller := uuid.New()
	plenty := newProduct(t, db, seller, 10)
	scarce := newProduct(t, db, seller, 1)

	ctx := context.Background()
	err = db.Transaction(func(tx *gorm.DB) error {
		return ledger.Reserve(ctx, tx, []StockLine{
			{ProductID: plenty.ID, Qty: 2},
			{ProductID: scarce.ID, Qty: 3},
		})
	})
	require.Error(t, err)

	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeInsufficientStock, appErr.Code())
	details, ok := appErr.Details().(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, scarce.ID.String(), details["product_id"])

	// The failed transaction rolled back the first line too.
	reloaded, err := repo.FindProductByID(ctx, plenty.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, reloaded.StockQuantity)
}

func TestLedgerReserveThenRelease_roundTripsStock(t *testing.T) {
	db := setupCatalogTestDB(t)
	repo := NewRepository(db)
	ledger, err := NewLedger(repo)
	require.NoError(t, err)

	product := newProduct(t, db, uuid.New(), 6)
	lines := []StockLine{{ProductID: product.ID, Qty: 4}}

	ctx := context.Background()
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return ledger.Reserve(ctx, tx, lines)
	}))
	mid, err := repo.FindProductByID(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, mid.StockQuantity)

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return ledger.Release(ctx, tx, lines)
	}))
	final, err := repo.FindProductByID(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, final.StockQuantity)
}

func TestLedgerReserve_rejectsNonPositiveQuantity(t *testing.T) {
	db := setupCatalogTestDB(t)
	repo := NewRepository(db)
	ledger, err := NewLedger(repo)
	require.NoError(t, err)

	product := newProduct(t, db, uuid.New(), 6)

	err = db.Transaction(func(tx *gorm.DB) error {
		return ledger.Reserve(context.Background(), tx, []StockLine{{ProductID: product.ID, Qty: 0}})
	})
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeValidation, appErr.Code())
}
