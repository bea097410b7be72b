package refunds

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/matheusvidal/solara-backend/internal/payments"
	"github.com/matheusvidal/solara-backend/internal/sellers"
	"github.com/matheusvidal/solara-backend/pkg/db/models"
	"github.com/matheusvidal/solara-backend/pkg/enums"
	pkgerrors "github.com/matheusvidal/solara-backend/pkg/errors"
	"github.com/matheusvidal/solara-backend/pkg/logger"
	"github.com/matheusvidal/solara-backend/pkg/mercadopago"
	"github.com/matheusvidal/solara-backend/pkg/outbox"
	"github.com/matheusvidal/solara-backend/pkg/outbox/payloads"
	"github.com/matheusvidal/solara-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type gatewayClient interface {
	RefundCharge(ctx context.Context, credential, chargeID string, params mercadopago.RefundParams) (*mercadopago.Refund, error)
}

type orderStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
}

type userStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// CreateInput is a buyer's refund claim against one completed payment.
type CreateInput struct {
	PaymentID   uuid.UUID
	BuyerID     uuid.UUID
	Reason      enums.RefundReason
	Description string
}

// DecisionInput covers seller approval and rejection.
type DecisionInput struct {
	RefundRequestID uuid.UUID
	SellerID        uuid.UUID
	Response        string
}

// Service runs the refund workflow: buyer claim, seller review, gateway
// refund.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.RefundRequest, error)
	Approve(ctx context.Context, input DecisionInput) (*models.RefundRequest, error)
	Reject(ctx context.Context, input DecisionInput) (*models.RefundRequest, error)
	ListForBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) (*RefundRequestList, error)
	ListForSeller(ctx context.Context, sellerID uuid.UUID, params pagination.Params) (*RefundRequestList, error)
}

type service struct {
	repo     Repository
	payments payments.Repository
	orders   orderStore
	users    userStore
	gateway  gatewayClient
	tx       txRunner
	outbox   outboxPublisher
	logg     *logger.Logger
	now      func() time.Time
}

// NewService builds the refund workflow service.
func NewService(
	repo Repository,
	paymentsRepo payments.Repository,
	ordersRepo orderStore,
	users userStore,
	gw gatewayClient,
	tx txRunner,
	publisher outboxPublisher,
	logg *logger.Logger,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("refunds repository required")
	}
	if paymentsRepo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if ordersRepo == nil {
		return nil, fmt.Errorf("order store required")
	}
	if users == nil {
		return nil, fmt.Errorf("user store required")
	}
	if gw == nil {
		return nil, fmt.Errorf("gateway required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		repo:     repo,
		payments: paymentsRepo,
		orders:   ordersRepo,
		users:    users,
		gateway:  gw,
		tx:       tx,
		outbox:   publisher,
		logg:     logg,
		now:      time.Now,
	}, nil
}

// Create opens a refund request for a completed payment. The platform fee
// is returned to the seller only for reasons that fault the seller.
func (s *service) Create(ctx context.Context, input CreateInput) (*models.RefundRequest, error) {
	if input.PaymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	if input.BuyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !input.Reason.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid refund reason")
	}
	if input.Description == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "description required")
	}

	var created *models.RefundRequest
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		paymentsRepo := s.payments.WithTx(tx)

		payment, err := paymentsRepo.FindByID(ctx, input.PaymentID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
		}

		order, err := s.orders.FindByID(ctx, payment.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order.BuyerID != input.BuyerID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "payment does not belong to buyer")
		}
		if payment.Status != enums.PaymentStatusCompleted {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only completed payments can be refunded").
				WithDetails(map[string]interface{}{"current_status": payment.Status.String()})
		}

		open, err := repo.HasOpenForPayment(ctx, payment.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check open requests")
		}
		if open {
			return pkgerrors.New(pkgerrors.CodeConflict, "payment already has an open refund request")
		}

		request := &models.RefundRequest{
			PaymentID:         payment.ID,
			OrderID:           payment.OrderID,
			BuyerID:           input.BuyerID,
			SellerID:          payment.SellerID,
			Status:            enums.RefundRequestStatusPending,
			Reason:            input.Reason,
			Description:       input.Description,
			Amount:            payment.Amount,
			ReturnPlatformFee: input.Reason.ReturnsPlatformFee(),
		}
		if _, err := repo.Create(ctx, request); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create refund request")
		}
		created = request

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRefundRequestOpened,
			AggregateType: enums.AggregateRefundRequest,
			AggregateID:   request.ID,
			Version:       1,
			Actor:         &outbox.ActorRef{UserID: input.BuyerID, Role: enums.UserRoleBuyer.String()},
			Data: payloads.RefundRequestOpenedEvent{
				RefundRequestID: request.ID,
				PaymentID:       payment.ID,
				OrderID:         payment.OrderID,
				SellerID:        payment.SellerID,
				Reason:          input.Reason,
				Amount:          request.Amount,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Approve accepts the claim and executes the gateway refund. A gateway
// failure rolls the request back to pending so the seller can retry.
func (s *service) Approve(ctx context.Context, input DecisionInput) (*models.RefundRequest, error) {
	request, payment, err := s.loadForDecision(ctx, input)
	if err != nil {
		return nil, err
	}

	now := s.now()
	updates := map[string]any{
		"status":       enums.RefundRequestStatusApproved,
		"responded_at": now,
	}
	if input.Response != "" {
		updates["seller_response"] = input.Response
	}
	ok, err := s.repo.TransitionStatus(ctx, request.ID, enums.RefundRequestStatusPending, updates)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "approve refund request")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "refund request is not pending")
	}

	refund, err := s.executeGatewayRefund(ctx, request, payment)
	if err != nil {
		// Roll the approval back so the request can be re-approved once
		// the gateway recovers.
		rollback := map[string]any{
			"status":          enums.RefundRequestStatusPending,
			"responded_at":    nil,
			"seller_response": nil,
		}
		if _, rbErr := s.repo.TransitionStatus(ctx, request.ID, enums.RefundRequestStatusApproved, rollback); rbErr != nil && s.logg != nil {
			s.logg.Error(ctx, "rollback refund approval", rbErr)
		}
		return nil, err
	}

	refundedAt := s.now()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		paymentsRepo := s.payments.WithTx(tx)

		ok, err := repo.TransitionStatus(ctx, request.ID, enums.RefundRequestStatusApproved, map[string]any{
			"status":            enums.RefundRequestStatusRefunded,
			"refunded_at":       refundedAt,
			"gateway_refund_id": refund.ID.String(),
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "finalize refund request")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "refund request state changed, retry")
		}
		if _, err := paymentsRepo.MarkRefunded(ctx, payment.ID, refundedAt); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment refunded")
		}

		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRefundCompleted,
			AggregateType: enums.AggregateRefundRequest,
			AggregateID:   request.ID,
			Version:       1,
			Actor:         &outbox.ActorRef{UserID: input.SellerID, Role: enums.UserRoleSeller.String()},
			Data: payloads.RefundCompletedEvent{
				RefundRequestID:   request.ID,
				PaymentID:         payment.ID,
				OrderID:           request.OrderID,
				BuyerID:           request.BuyerID,
				Amount:            request.Amount,
				ReturnPlatformFee: request.ReturnPlatformFee,
				RefundedAt:        refundedAt,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, request.ID)
}

// Reject closes the claim with a mandatory seller response.
func (s *service) Reject(ctx context.Context, input DecisionInput) (*models.RefundRequest, error) {
	if input.Response == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller response required when rejecting")
	}
	request, _, err := s.loadForDecision(ctx, input)
	if err != nil {
		return nil, err
	}

	ok, err := s.repo.TransitionStatus(ctx, request.ID, enums.RefundRequestStatusPending, map[string]any{
		"status":          enums.RefundRequestStatusRejected,
		"responded_at":    s.now(),
		"seller_response": input.Response,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reject refund request")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "refund request is not pending")
	}
	return s.repo.FindByID(ctx, request.ID)
}

func (s *service) ListForBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) (*RefundRequestList, error) {
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	list, err := s.repo.ListForBuyer(ctx, buyerID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list buyer refund requests")
	}
	return list, nil
}

func (s *service) ListForSeller(ctx context.Context, sellerID uuid.UUID, params pagination.Params) (*RefundRequestList, error) {
	if sellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	list, err := s.repo.ListForSeller(ctx, sellerID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list seller refund requests")
	}
	return list, nil
}

func (s *service) loadForDecision(ctx context.Context, input DecisionInput) (*models.RefundRequest, *models.Payment, error) {
	if input.RefundRequestID == uuid.Nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "refund request id required")
	}
	if input.SellerID == uuid.Nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	request, err := s.repo.FindByID(ctx, input.RefundRequestID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "refund request not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load refund request")
	}
	if request.SellerID != input.SellerID {
		return nil, nil, pkgerrors.New(pkgerrors.CodeForbidden, "refund request does not belong to seller")
	}
	if request.Status != enums.RefundRequestStatusPending {
		return nil, nil, pkgerrors.New(pkgerrors.CodeStateConflict, "refund request already resolved").
			WithDetails(map[string]interface{}{"current_status": request.Status.String()})
	}

	payment, err := s.payments.FindByID(ctx, request.PaymentID)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	return request, payment, nil
}

func (s *service) executeGatewayRefund(ctx context.Context, request *models.RefundRequest, payment *models.Payment) (*mercadopago.Refund, error) {
	if payment.GatewayPaymentID == nil || *payment.GatewayPaymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment has no gateway charge to refund")
	}
	seller, err := s.users.FindByID(ctx, payment.SellerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load seller")
	}
	credential, err := sellers.Credential(seller)
	if err != nil {
		return nil, err
	}
	refund, err := s.gateway.RefundCharge(ctx, credential, *payment.GatewayPaymentID, mercadopago.RefundParams{
		Amount: request.Amount,
	})
	if err != nil {
		return nil, err
	}
	return refund, nil
}
