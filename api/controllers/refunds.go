package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/matheusvidal/solara-backend/api/responses"
	"github.com/matheusvidal/solara-backend/api/validators"
	"github.com/matheusvidal/solara-backend/internal/refunds"
	"github.com/matheusvidal/solara-backend/pkg/db/models"
	"github.com/matheusvidal/solara-backend/pkg/enums"
	pkgerrors "github.com/matheusvidal/solara-backend/pkg/errors"
	"github.com/matheusvidal/solara-backend/pkg/logger"
)

type refundCreateBody struct {
	PaymentID   uuid.UUID `json:"payment_id" validate:"required"`
	Reason      string    `json:"reason" validate:"required"`
	Description string    `json:"description" validate:"required,min=10,max=1000"`
}

// CreateRefund opens a buyer's refund claim against one completed payment.
func CreateRefund(svc refunds.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		buyerID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body refundCreateBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		reason, err := enums.ParseRefundReason(body.Reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid refund reason"))
			return
		}

		request, err := svc.Create(r.Context(), refunds.CreateInput{
			PaymentID:   body.PaymentID,
			BuyerID:     buyerID,
			Reason:      reason,
			Description: validators.SanitizeString(body.Description, 1000),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, request)
	}
}

// ListBuyerRefunds pages through the buyer's own refund requests.
func ListBuyerRefunds(svc refunds.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		buyerID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := pageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListForBuyer(r.Context(), buyerID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// ListSellerRefunds pages through claims awaiting the seller's review.
func ListSellerRefunds(svc refunds.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sellerID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := pageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListForSeller(r.Context(), sellerID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

type refundDecisionBody struct {
	Response string `json:"response" validate:"max=1000"`
}

// ApproveRefund executes the gateway refund and closes the request.
func ApproveRefund(svc refunds.Service, logg *logger.Logger) http.HandlerFunc {
	return refundDecision(svc.Approve, logg)
}

// RejectRefund closes the request with the seller's response and no refund.
func RejectRefund(svc refunds.Service, logg *logger.Logger) http.HandlerFunc {
	return refundDecision(svc.Reject, logg)
}

func refundDecision(
	decide func(ctx context.Context, input refunds.DecisionInput) (*models.RefundRequest, error),
	logg *logger.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sellerID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		refundID, err := pathUUID(r, "refundId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body refundDecisionBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		request, err := decide(r.Context(), refunds.DecisionInput{
			RefundRequestID: refundID,
			SellerID:        sellerID,
			Response:        validators.SanitizeString(body.Response, 1000),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, request)
	}
}
