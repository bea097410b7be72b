package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/matheusvidal/solara-backend/api/responses"
	"github.com/matheusvidal/solara-backend/api/validators"
	"github.com/matheusvidal/solara-backend/internal/payments"
	"github.com/matheusvidal/solara-backend/pkg/enums"
	pkgerrors "github.com/matheusvidal/solara-backend/pkg/errors"
	"github.com/matheusvidal/solara-backend/pkg/logger"
)

type cardBody struct {
	Number          string `json:"number" validate:"required,min=13,max=19"`
	HolderName      string `json:"holder_name" validate:"required,max=100"`
	HolderDocument  string `json:"holder_document" validate:"required,max=20"`
	SecurityCode    string `json:"security_code" validate:"required,min=3,max=4"`
	ExpirationMonth int    `json:"expiration_month" validate:"required,min=1,max=12"`
	ExpirationYear  int    `json:"expiration_year" validate:"required,min=2024"`
}

type settlementBody struct {
	OrderID uuid.UUID `json:"order_id" validate:"required"`
	Method  string    `json:"method" validate:"required"`
	Card    *cardBody `json:"card"`
}

// InitiateSettlement starts (or resumes) the per-seller settlement of an
// order.
func InitiateSettlement(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		buyerID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body settlementBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		method, err := enums.ParsePaymentMethod(body.Method)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method"))
			return
		}
		if method == enums.PaymentMethodCard && body.Card == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "card details required for card payments"))
			return
		}

		input := payments.SettlementInput{
			OrderID: body.OrderID,
			BuyerID: buyerID,
			Method:  method,
		}
		if body.Card != nil {
			input.Card = &payments.CardDetails{
				Number:          body.Card.Number,
				HolderName:      body.Card.HolderName,
				HolderDocument:  body.Card.HolderDocument,
				SecurityCode:    body.Card.SecurityCode,
				ExpirationMonth: body.Card.ExpirationMonth,
				ExpirationYear:  body.Card.ExpirationYear,
			}
		}

		result, err := svc.InitiateSettlement(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// OrderSettlement reports the per-seller payment state of one order.
func OrderSettlement(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		buyerID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := pathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.OrderSettlement(r.Context(), buyerID, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// RetryPayment resets one failed seller slice so settlement can run again.
func RetryPayment(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		buyerID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		paymentID, err := pathUUID(r, "paymentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.Retry(r.Context(), buyerID, paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payment)
	}
}
