package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/matheusvidal/solara-backend/pkg/enums"
)

// Payment is one seller's slice of an order settlement. Amount is the
// gross charge against the buyer; ApplicationFee is the platform's cut,
// collected by the gateway before paying the seller out.
type Payment struct {
	ID               uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID          uuid.UUID           `gorm:"column:order_id;type:uuid;not null;index"`
	SellerID         uuid.UUID           `gorm:"column:seller_id;type:uuid;not null;index"`
	Method           enums.PaymentMethod `gorm:"column:method;type:text;not null"`
	Status           enums.PaymentStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	Amount           decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	ApplicationFee   decimal.Decimal     `gorm:"column:application_fee;type:numeric(12,2);not null;default:0"`
	ShippingShare    decimal.Decimal     `gorm:"column:shipping_share;type:numeric(12,2);not null;default:0"`
	GatewayPaymentID *string             `gorm:"column:gateway_payment_id;index"`
	IdempotencyKey   *string             `gorm:"column:idempotency_key"`
	FailureReason    *string             `gorm:"column:failure_reason"`
	GatewayResponse  json.RawMessage     `gorm:"column:gateway_response;type:jsonb"`
	PaidAt           *time.Time          `gorm:"column:paid_at"`
	RefundedAt       *time.Time          `gorm:"column:refunded_at"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
