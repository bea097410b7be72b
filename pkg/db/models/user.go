package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/matheusvidal/solara-backend/pkg/enums"
)

// User represents a marketplace account. Sellers additionally carry the
// Mercado Pago credential used to charge on their behalf.
type User struct {
	ID          uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Email       string         `gorm:"type:text;not null;uniqueIndex"`
	Name        string         `gorm:"column:name;not null"`
	Phone       *string        `gorm:"column:phone"`
	Role        enums.UserRole `gorm:"column:role;type:text;not null;default:'buyer'"`
	IsActive    bool           `gorm:"column:is_active;not null;default:true"`
	LastLoginAt *time.Time     `gorm:"column:last_login_at"`

	MercadoPagoUserID      *string `gorm:"column:mercadopago_user_id"`
	MercadoPagoAccessToken *string `gorm:"column:mercadopago_access_token"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// IsSeller reports whether the account can own products and review refunds.
func (u User) IsSeller() bool {
	return u.Role == enums.UserRoleSeller
}

// HasGatewayCredential reports whether the seller is onboarded with the
// payment gateway and can be charged on behalf of.
func (u User) HasGatewayCredential() bool {
	return u.MercadoPagoAccessToken != nil && *u.MercadoPagoAccessToken != ""
}
