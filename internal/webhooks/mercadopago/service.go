package mercadopagowebhook

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/matheusvidal/solara-backend/internal/payments"
	"github.com/matheusvidal/solara-backend/internal/sellers"
	"github.com/matheusvidal/solara-backend/pkg/db/models"
	pkgerrors "github.com/matheusvidal/solara-backend/pkg/errors"
	"github.com/matheusvidal/solara-backend/pkg/logger"
	"github.com/matheusvidal/solara-backend/pkg/mercadopago"
)

const externalReferencePrefix = "payment_"

type gatewayClient interface {
	GetCharge(ctx context.Context, credential, chargeID string) (*mercadopago.Charge, error)
	PlatformToken() string
}

type userStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type transitionRecorder interface {
	RecordCompleted(ctx context.Context, paymentID uuid.UUID, gatewayID string, raw json.RawMessage) (bool, error)
	RecordFailed(ctx context.Context, paymentID uuid.UUID, reason string) (bool, error)
}

type completionAggregator interface {
	Recompute(ctx context.Context, orderID uuid.UUID) error
}

// ServiceParams wires the reconciler's collaborators.
type ServiceParams struct {
	PaymentsRepo payments.Repository
	Users        userStore
	Gateway      gatewayClient
	Recorder     *payments.Recorder
	Aggregator   *payments.Aggregator
	Logger       *logger.Logger
}

// Service reconciles gateway payment notifications against the payment
// ledger. Notifications carry only the charge id; the charge itself is
// always re-fetched with the seller's credential before any transition.
type Service struct {
	paymentsRepo payments.Repository
	users        userStore
	gateway      gatewayClient
	recorder     transitionRecorder
	aggregator   completionAggregator
	logg         *logger.Logger
}

// NewService builds the webhook reconciler.
func NewService(params ServiceParams) (*Service, error) {
	if params.PaymentsRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payments repo required")
	}
	if params.Users == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "user store required")
	}
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "gateway client required")
	}
	if params.Recorder == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transition recorder required")
	}
	if params.Aggregator == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "completion aggregator required")
	}
	return &Service{
		paymentsRepo: params.PaymentsRepo,
		users:        params.Users,
		gateway:      params.Gateway,
		recorder:     params.Recorder,
		aggregator:   params.Aggregator,
		logg:         params.Logger,
	}, nil
}

// HandleEvent processes one payment notification. Unknown charges and
// non-payment events are acknowledged without side effects so the gateway
// stops redelivering them.
func (s *Service) HandleEvent(ctx context.Context, event *mercadopago.WebhookEvent) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "webhook event required")
	}
	if !event.IsPayment() {
		return nil
	}
	gatewayPaymentID := strings.TrimSpace(event.Data.ID)
	if gatewayPaymentID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment id missing from notification")
	}

	payment, err := s.resolvePayment(ctx, gatewayPaymentID)
	if err != nil {
		return err
	}
	if payment == nil {
		s.info(ctx, "webhook for unknown charge ignored")
		return nil
	}

	seller, err := s.users.FindByID(ctx, payment.SellerID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load seller")
	}
	credential, err := sellers.Credential(seller)
	if err != nil {
		return err
	}

	// The notification body is untrusted; the seller-credential fetch is
	// the authoritative state.
	charge, err := s.gateway.GetCharge(ctx, credential, gatewayPaymentID)
	if err != nil {
		return err
	}

	switch charge.Status {
	case mercadopago.ChargeStatusApproved:
		changed, err := s.recorder.RecordCompleted(ctx, payment.ID, charge.ID.String(), charge.Raw)
		if err != nil {
			return err
		}
		if changed {
			return s.aggregator.Recompute(ctx, payment.OrderID)
		}
		return nil
	case mercadopago.ChargeStatusRejected, mercadopago.ChargeStatusCancelled:
		reason := charge.StatusDetail
		if reason == "" {
			reason = charge.Status
		}
		_, err := s.recorder.RecordFailed(ctx, payment.ID, reason)
		return err
	case mercadopago.ChargeStatusPending, mercadopago.ChargeStatusInProcess:
		// Not terminal yet; keep the gateway linkage fresh and wait for
		// the next notification.
		return s.linkGatewayPayment(ctx, payment, charge)
	default:
		s.info(ctx, "webhook with unhandled charge status ignored")
		return nil
	}
}

// resolvePayment finds the ledger row for a gateway charge. When the
// charge id was never stored (e.g. the process died between charge and
// update) it falls back to the charge's external reference, fetched with
// the platform credential.
func (s *Service) resolvePayment(ctx context.Context, gatewayPaymentID string) (*models.Payment, error) {
	payment, err := s.paymentsRepo.FindByGatewayPaymentID(ctx, gatewayPaymentID)
	if err == nil {
		return payment, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve payment by gateway id")
	}

	charge, err := s.gateway.GetCharge(ctx, s.gateway.PlatformToken(), gatewayPaymentID)
	if err != nil {
		return nil, err
	}
	reference := strings.TrimSpace(charge.ExternalReference)
	if !strings.HasPrefix(reference, externalReferencePrefix) {
		return nil, nil
	}
	paymentID, parseErr := uuid.Parse(strings.TrimPrefix(reference, externalReferencePrefix))
	if parseErr != nil {
		return nil, nil
	}

	payment, err = s.paymentsRepo.FindByID(ctx, paymentID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve payment by reference")
	}
	return payment, nil
}

func (s *Service) linkGatewayPayment(ctx context.Context, payment *models.Payment, charge *mercadopago.Charge) error {
	updates := map[string]any{"gateway_response": charge.Raw}
	if payment.GatewayPaymentID == nil || *payment.GatewayPaymentID == "" {
		updates["gateway_payment_id"] = charge.ID.String()
	}
	if err := s.paymentsRepo.Update(ctx, payment.ID, updates); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "link gateway payment")
	}
	return nil
}

func (s *Service) info(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Info(ctx, msg)
	}
}
