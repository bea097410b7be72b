package payments

import (
	"github.com/google/uuid"

	"github.com/matheusvidal/solara-backend/pkg/db/models"
	"github.com/matheusvidal/solara-backend/pkg/enums"
)

// CardDetails is the raw card data forwarded to the gateway tokenizer. It
// is never persisted.
type CardDetails struct {
	Number          string
	HolderName      string
	HolderDocument  string
	SecurityCode    string
	ExpirationMonth int
	ExpirationYear  int
}

// SettlementInput starts (or resumes) the per-seller settlement of an
// order.
type SettlementInput struct {
	OrderID uuid.UUID
	BuyerID uuid.UUID
	Method  enums.PaymentMethod
	Card    *CardDetails
}

// PixInstructions carries the QR code the buyer scans to pay one seller's
// slice.
type PixInstructions struct {
	QRCode       string `json:"qr_code"`
	QRCodeBase64 string `json:"qr_code_base64"`
	TicketURL    string `json:"ticket_url"`
}

// SellerSettlement pairs one payment with its pix instructions when the
// method is pix.
type SellerSettlement struct {
	Payment models.Payment   `json:"payment"`
	Pix     *PixInstructions `json:"pix,omitempty"`
}

// SettlementResult summarizes the state of an order's settlement.
type SettlementResult struct {
	OrderID     uuid.UUID              `json:"order_id"`
	Status      enums.SettlementStatus `json:"status"`
	Settlements []SellerSettlement     `json:"settlements"`
}

// SettlementStatusOf folds per-seller payment statuses into the order-level
// settlement view.
func SettlementStatusOf(rows []models.Payment) enums.SettlementStatus {
	if len(rows) == 0 {
		return enums.SettlementStatusPending
	}
	completed := 0
	failed := 0
	for _, p := range rows {
		switch p.Status {
		case enums.PaymentStatusCompleted, enums.PaymentStatusRefunded:
			completed++
		case enums.PaymentStatusFailed:
			failed++
		}
	}
	switch {
	case completed == len(rows):
		return enums.SettlementStatusCompleted
	case failed > 0:
		return enums.SettlementStatusPartialFailure
	default:
		return enums.SettlementStatusPending
	}
}
