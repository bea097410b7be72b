package orders

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/matheusvidal/solara-backend/pkg/types"
)

// CheckoutInput is the validated payload for creating an order from cart
// rows.
type CheckoutInput struct {
	CartItemIDs     []uuid.UUID
	ShippingAddress types.ShippingAddress
	ShippingCost    decimal.Decimal
}

// CancelInput carries the buyer's cancellation request.
type CancelInput struct {
	OrderID uuid.UUID
	BuyerID uuid.UUID
	Reason  string
}

// SellerDecisionInput covers accept and reject, which share shape.
type SellerDecisionInput struct {
	OrderID  uuid.UUID
	SellerID uuid.UUID
	Reason   string
}

// ShipInput carries the seller's shipment confirmation.
type ShipInput struct {
	OrderID        uuid.UUID
	SellerID       uuid.UUID
	TrackingNumber string
}
