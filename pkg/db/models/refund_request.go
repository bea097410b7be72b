package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/matheusvidal/solara-backend/pkg/enums"
)

// RefundRequest tracks a buyer's claim against a completed payment through
// seller review and the eventual gateway refund.
type RefundRequest struct {
	ID                uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PaymentID         uuid.UUID                 `gorm:"column:payment_id;type:uuid;not null;index"`
	OrderID           uuid.UUID                 `gorm:"column:order_id;type:uuid;not null;index"`
	BuyerID           uuid.UUID                 `gorm:"column:buyer_id;type:uuid;not null;index"`
	SellerID          uuid.UUID                 `gorm:"column:seller_id;type:uuid;not null;index"`
	Status            enums.RefundRequestStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	Reason            enums.RefundReason        `gorm:"column:reason;type:text;not null"`
	Description       string                    `gorm:"column:description;not null"`
	Amount            decimal.Decimal           `gorm:"column:amount;type:numeric(12,2);not null"`
	ReturnPlatformFee bool                      `gorm:"column:return_platform_fee;not null;default:false"`
	SellerResponse    *string                   `gorm:"column:seller_response"`
	GatewayRefundID   *string                   `gorm:"column:gateway_refund_id"`
	RespondedAt       *time.Time                `gorm:"column:responded_at"`
	RefundedAt        *time.Time                `gorm:"column:refunded_at"`
	CreatedAt         time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}

// IsOpen reports whether the request still blocks a new one for the same
// payment.
func (r RefundRequest) IsOpen() bool {
	return r.Status == enums.RefundRequestStatusPending || r.Status == enums.RefundRequestStatusApproved
}
