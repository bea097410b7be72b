package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/matheusvidal/solara-backend/pkg/enums"
	"github.com/matheusvidal/solara-backend/pkg/types"
)

// Order is the buyer-facing aggregate produced by checkout. A single order
// may span products from several sellers; settlement splits it into one
// payment per seller.
type Order struct {
	ID                 uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber        string                `gorm:"column:order_number;not null;uniqueIndex"`
	BuyerID            uuid.UUID             `gorm:"column:buyer_id;type:uuid;not null;index"`
	Status             enums.OrderStatus     `gorm:"column:status;type:text;not null;default:'pending'"`
	TotalAmount        decimal.Decimal       `gorm:"column:total_amount;type:numeric(12,2);not null"`
	ShippingCost       decimal.Decimal       `gorm:"column:shipping_cost;type:numeric(12,2);not null;default:0"`
	TaxAmount          decimal.Decimal       `gorm:"column:tax_amount;type:numeric(12,2);not null;default:0"`
	ShippingAddress    types.ShippingAddress `gorm:"column:shipping_address;type:jsonb"`
	StockReserved      bool                  `gorm:"column:stock_reserved;not null;default:false"`
	ReservedUntil      *time.Time            `gorm:"column:reserved_until"`
	PaidAt             *time.Time            `gorm:"column:paid_at"`
	AcceptedAt         *time.Time            `gorm:"column:accepted_at"`
	ShippedAt          *time.Time            `gorm:"column:shipped_at"`
	DeliveredAt        *time.Time            `gorm:"column:delivered_at"`
	CancelledAt        *time.Time            `gorm:"column:cancelled_at"`
	CancellationReason *string               `gorm:"column:cancellation_reason"`
	TrackingNumber     *string               `gorm:"column:tracking_number"`
	Items              []OrderItem           `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Payments           []Payment             `gorm:"foreignKey:OrderID"`
	CreatedAt          time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

// IsReservationExpired reports whether the stock reservation window has
// lapsed without payment.
func (o Order) IsReservationExpired(now time.Time) bool {
	if !o.StockReserved || o.ReservedUntil == nil {
		return false
	}
	return now.After(*o.ReservedUntil)
}
