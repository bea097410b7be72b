package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/matheusvidal/solara-backend/pkg/enums"
)

// OrderCreatedEvent signals a successful checkout with reserved stock.
type OrderCreatedEvent struct {
	OrderID     uuid.UUID       `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	BuyerID     uuid.UUID       `json:"buyer_id"`
	SellerIDs   []uuid.UUID     `json:"seller_ids"`
	ItemCount   int             `json:"item_count"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// OrderCancelledEvent is emitted when a buyer cancels or a seller rejects
// a pre-payment order.
type OrderCancelledEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	BuyerID     uuid.UUID `json:"buyer_id"`
	CancelledAt time.Time `json:"cancelled_at"`
	Reason      string    `json:"reason,omitempty"`
}

// OrderExpiredEvent describes an order whose stock reservation lapsed.
type OrderExpiredEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	BuyerID     uuid.UUID `json:"buyer_id"`
	ExpiredAt   time.Time `json:"expired_at"`
}

// OrderPaidEvent is emitted once every per-seller payment completed and
// the order moved to confirmed.
type OrderPaidEvent struct {
	OrderID      uuid.UUID       `json:"order_id"`
	OrderNumber  string          `json:"order_number"`
	BuyerID      uuid.UUID       `json:"buyer_id"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	PaymentCount int             `json:"payment_count"`
	PaidAt       time.Time       `json:"paid_at"`
}

// OrderAcceptedEvent is emitted when a seller accepts a confirmed order.
type OrderAcceptedEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	SellerID    uuid.UUID `json:"seller_id"`
	AcceptedAt  time.Time `json:"accepted_at"`
}

// OrderShippedEvent carries tracking data for buyer notification.
type OrderShippedEvent struct {
	OrderID        uuid.UUID `json:"order_id"`
	OrderNumber    string    `json:"order_number"`
	SellerID       uuid.UUID `json:"seller_id"`
	TrackingNumber string    `json:"tracking_number"`
	ShippedAt      time.Time `json:"shipped_at"`
}

// PaymentStatusEvent reports a terminal per-seller payment transition.
type PaymentStatusEvent struct {
	PaymentID uuid.UUID           `json:"payment_id"`
	OrderID   uuid.UUID           `json:"order_id"`
	SellerID  uuid.UUID           `json:"seller_id"`
	Method    enums.PaymentMethod `json:"method"`
	Status    enums.PaymentStatus `json:"status"`
	Amount    decimal.Decimal     `json:"amount"`
}

// RefundRequestOpenedEvent notifies the seller that a claim needs review.
type RefundRequestOpenedEvent struct {
	RefundRequestID uuid.UUID          `json:"refund_request_id"`
	PaymentID       uuid.UUID          `json:"payment_id"`
	OrderID         uuid.UUID          `json:"order_id"`
	SellerID        uuid.UUID          `json:"seller_id"`
	Reason          enums.RefundReason `json:"reason"`
	Amount          decimal.Decimal    `json:"amount"`
}

// RefundCompletedEvent is emitted after the gateway confirmed the refund.
type RefundCompletedEvent struct {
	RefundRequestID   uuid.UUID       `json:"refund_request_id"`
	PaymentID         uuid.UUID       `json:"payment_id"`
	OrderID           uuid.UUID       `json:"order_id"`
	BuyerID           uuid.UUID       `json:"buyer_id"`
	Amount            decimal.Decimal `json:"amount"`
	ReturnPlatformFee bool            `json:"return_platform_fee"`
	RefundedAt        time.Time       `json:"refunded_at"`
}
