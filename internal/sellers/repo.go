package sellers

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/matheusvidal/solara-backend/pkg/db/models"
	pkgerrors "github.com/matheusvidal/solara-backend/pkg/errors"
)

// Repository exposes seller account lookups.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a sellers repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Credential returns the Mercado Pago access token the platform charges
// with on the seller's behalf. Settlement cannot proceed for sellers that
// never finished gateway onboarding.
func Credential(seller *models.User) (string, error) {
	if seller == nil || !seller.IsSeller() {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "account is not a seller")
	}
	if !seller.HasGatewayCredential() {
		return "", pkgerrors.New(pkgerrors.CodeResourceUnavailable, "seller has no payment gateway credential").
			WithDetails(map[string]interface{}{"seller_id": seller.ID.String()})
	}
	return *seller.MercadoPagoAccessToken, nil
}
