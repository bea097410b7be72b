package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/matheusvidal/solara-backend/internal/sellers"
	"github.com/matheusvidal/solara-backend/pkg/db/models"
	"github.com/matheusvidal/solara-backend/pkg/enums"
	pkgerrors "github.com/matheusvidal/solara-backend/pkg/errors"
	"github.com/matheusvidal/solara-backend/pkg/logger"
	"github.com/matheusvidal/solara-backend/pkg/mercadopago"
)

var (
	feeRateCard = decimal.RequireFromString("0.10")
	feeRatePix  = decimal.RequireFromString("0.08")
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type gateway interface {
	CreateCardToken(ctx context.Context, credential string, params mercadopago.CardTokenParams) (*mercadopago.CardToken, error)
	CreateCharge(ctx context.Context, credential string, params mercadopago.ChargeParams) (*mercadopago.Charge, error)
}

type orderStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
}

type orderExpirer interface {
	ExpireReservation(ctx context.Context, orderID uuid.UUID) error
}

type userStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type completionAggregator interface {
	Recompute(ctx context.Context, orderID uuid.UUID) error
}

type transitionRecorder interface {
	RecordCompleted(ctx context.Context, paymentID uuid.UUID, gatewayID string, raw json.RawMessage) (bool, error)
	RecordFailed(ctx context.Context, paymentID uuid.UUID, reason string) (bool, error)
}

// Service splits an order into per-seller destination charges.
type Service interface {
	InitiateSettlement(ctx context.Context, input SettlementInput) (*SettlementResult, error)
	OrderSettlement(ctx context.Context, buyerID, orderID uuid.UUID) (*SettlementResult, error)
	Retry(ctx context.Context, buyerID, paymentID uuid.UUID) (*models.Payment, error)
}

type service struct {
	repo       Repository
	orders     orderStore
	expirer    orderExpirer
	users      userStore
	gateway    gateway
	aggregator completionAggregator
	recorder   transitionRecorder
	tx         txRunner
	logg       *logger.Logger
	now        func() time.Time
}

// NewService builds the settlement service.
func NewService(
	repo Repository,
	orders orderStore,
	expirer orderExpirer,
	users userStore,
	gw gateway,
	aggregator completionAggregator,
	recorder transitionRecorder,
	tx txRunner,
	logg *logger.Logger,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if orders == nil {
		return nil, fmt.Errorf("order store required")
	}
	if expirer == nil {
		return nil, fmt.Errorf("order expirer required")
	}
	if users == nil {
		return nil, fmt.Errorf("user store required")
	}
	if gw == nil {
		return nil, fmt.Errorf("gateway required")
	}
	if aggregator == nil {
		return nil, fmt.Errorf("completion aggregator required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("transition recorder required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{
		repo:       repo,
		orders:     orders,
		expirer:    expirer,
		users:      users,
		gateway:    gw,
		aggregator: aggregator,
		recorder:   recorder,
		tx:         tx,
		logg:       logg,
		now:        time.Now,
	}, nil
}

// sellerSlice is one seller's share of an order, in first-seen item order.
type sellerSlice struct {
	SellerID      uuid.UUID
	ProductAmount decimal.Decimal
	ShippingShare decimal.Decimal
}

func (s *service) InitiateSettlement(ctx context.Context, input SettlementInput) (*SettlementResult, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.BuyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !input.Method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment method must be card or pix")
	}
	if input.Method == enums.PaymentMethodCard && input.Card == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "card details required for card payments")
	}

	order, err := s.loadOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != input.BuyerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to buyer")
	}
	if order.Status != enums.OrderStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not awaiting payment").
			WithDetails(map[string]interface{}{"current_status": order.Status.String()})
	}
	if order.IsReservationExpired(s.now()) {
		if err := s.expirer.ExpireReservation(ctx, order.ID); err != nil {
			return nil, err
		}
		return nil, pkgerrors.New(pkgerrors.CodeResourceUnavailable, "stock reservation expired")
	}

	buyer, err := s.users.FindByID(ctx, input.BuyerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load buyer")
	}

	slices := splitBySeller(order)
	if len(slices) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no items to settle")
	}

	// Every seller must be chargeable before any one of them is charged;
	// a missing credential aborts the whole settlement up front.
	credentials := make(map[uuid.UUID]string, len(slices))
	for _, slice := range slices {
		seller, err := s.users.FindByID(ctx, slice.SellerID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load seller")
		}
		credential, err := sellers.Credential(seller)
		if err != nil {
			return nil, err
		}
		credentials[slice.SellerID] = credential
	}

	// Reset any stale attempts and create a pending payment per seller
	// slice that is not already settled.
	var pending []models.Payment
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.DeleteStaleByOrder(ctx, order.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete stale payments")
		}
		existing, err := repo.FindByOrderID(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load existing payments")
		}
		settled := make(map[uuid.UUID]bool, len(existing))
		for _, p := range existing {
			settled[p.SellerID] = true
		}

		for _, slice := range slices {
			if settled[slice.SellerID] {
				continue
			}
			fee := applicationFee(input.Method, slice)
			payment := models.Payment{
				OrderID:        order.ID,
				SellerID:       slice.SellerID,
				Method:         input.Method,
				Status:         enums.PaymentStatusPending,
				Amount:         slice.ProductAmount.Add(slice.ShippingShare),
				ApplicationFee: fee,
				ShippingShare:  slice.ShippingShare,
			}
			if _, err := repo.Create(ctx, &payment); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
			}
			pending = append(pending, payment)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Charge sellers one by one, stopping at the first gateway failure so
	// a broken card or credential does not burn through every seller.
	var pixBySeller = map[uuid.UUID]*PixInstructions{}
	var chargeErr error
	for _, payment := range pending {
		pix, err := s.chargeSeller(ctx, order, buyer, payment, credentials[payment.SellerID], input)
		if err != nil {
			chargeErr = err
			break
		}
		if pix != nil {
			pixBySeller[payment.SellerID] = pix
		}
	}

	if err := s.aggregator.Recompute(ctx, order.ID); err != nil {
		return nil, err
	}
	if chargeErr != nil {
		return nil, chargeErr
	}

	return s.settlementResult(ctx, order.ID, pixBySeller)
}

// OrderSettlement returns the per-seller payment status of an order.
func (s *service) OrderSettlement(ctx context.Context, buyerID, orderID uuid.UUID) (*SettlementResult, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != buyerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to buyer")
	}
	return s.settlementResult(ctx, orderID, nil)
}

// Retry resets a failed payment so settlement can be re-initiated for its
// seller slice.
func (s *service) Retry(ctx context.Context, buyerID, paymentID uuid.UUID) (*models.Payment, error) {
	if paymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	payment, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	order, err := s.loadOrder(ctx, payment.OrderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != buyerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "payment does not belong to buyer")
	}
	if payment.Status != enums.PaymentStatusFailed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only failed payments can be retried").
			WithDetails(map[string]interface{}{"current_status": payment.Status.String()})
	}

	err = s.repo.Update(ctx, payment.ID, map[string]any{
		"status":             enums.PaymentStatusPending,
		"failure_reason":     nil,
		"gateway_payment_id": nil,
		"gateway_response":   nil,
		"idempotency_key":    nil,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reset payment")
	}
	return s.repo.FindByID(ctx, payment.ID)
}

func (s *service) chargeSeller(ctx context.Context, order *models.Order, buyer *models.User, payment models.Payment, credential string, input SettlementInput) (*PixInstructions, error) {
	idempotencyKey := fmt.Sprintf("%s_%s_%s_%d", payment.Method, payment.ID, order.ID, s.now().Unix())
	if err := s.repo.Update(ctx, payment.ID, map[string]any{"idempotency_key": idempotencyKey}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store idempotency key")
	}

	paymentMethodID := "pix"
	cardTokenID := ""
	if payment.Method == enums.PaymentMethodCard {
		token, err := s.gateway.CreateCardToken(ctx, credential, mercadopago.CardTokenParams{
			CardNumber:      input.Card.Number,
			ExpirationMonth: input.Card.ExpirationMonth,
			ExpirationYear:  input.Card.ExpirationYear,
			SecurityCode:    input.Card.SecurityCode,
			HolderName:      input.Card.HolderName,
			HolderDocument:  input.Card.HolderDocument,
		})
		if err != nil {
			return nil, s.failPayment(ctx, payment.ID, "card tokenization failed", err)
		}
		paymentMethodID = mercadopago.DetectCardBrand(input.Card.Number)
		cardTokenID = token.ID
	}

	firstName, lastName := splitName(buyer.Name)
	charge, err := s.gateway.CreateCharge(ctx, credential, mercadopago.ChargeParams{
		Amount:            payment.Amount,
		Description:       fmt.Sprintf("Order #%s", order.OrderNumber),
		PaymentMethodID:   paymentMethodID,
		CardTokenID:       cardTokenID,
		Payer:             mercadopago.Payer{Email: buyer.Email, FirstName: firstName, LastName: lastName},
		ExternalReference: fmt.Sprintf("payment_%s", payment.ID),
		ApplicationFee:    payment.ApplicationFee,
		IdempotencyKey:    idempotencyKey,
		Metadata: map[string]any{
			"payment_id":      payment.ID.String(),
			"order_id":        order.ID.String(),
			"seller_id":       payment.SellerID.String(),
			"application_fee": payment.ApplicationFee.StringFixed(2),
		},
	})
	if err != nil {
		return nil, s.failPayment(ctx, payment.ID, "gateway charge failed", err)
	}

	updates := map[string]any{
		"gateway_payment_id": charge.ID.String(),
		"gateway_response":   charge.Raw,
	}
	if err := s.repo.Update(ctx, payment.ID, updates); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store gateway response")
	}

	if charge.IsApproved() {
		if _, err := s.recorder.RecordCompleted(ctx, payment.ID, charge.ID.String(), charge.Raw); err != nil {
			return nil, err
		}
	}

	// Anything short of approved stays pending until the webhook settles
	// it, declines included.
	if payment.Method == enums.PaymentMethodPix && charge.PointOfInteraction != nil && charge.PointOfInteraction.TransactionData != nil {
		data := charge.PointOfInteraction.TransactionData
		return &PixInstructions{
			QRCode:       data.QRCode,
			QRCodeBase64: data.QRCodeBase64,
			TicketURL:    data.TicketURL,
		}, nil
	}
	return nil, nil
}

func (s *service) failPayment(ctx context.Context, paymentID uuid.UUID, reason string, cause error) error {
	if _, markErr := s.recorder.RecordFailed(ctx, paymentID, reason); markErr != nil && s.logg != nil {
		s.logg.Error(ctx, "mark payment failed", markErr)
	}
	return cause
}

func (s *service) settlementResult(ctx context.Context, orderID uuid.UUID, pixBySeller map[uuid.UUID]*PixInstructions) (*SettlementResult, error) {
	rows, err := s.repo.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payments")
	}
	result := &SettlementResult{
		OrderID:     orderID,
		Status:      SettlementStatusOf(rows),
		Settlements: make([]SellerSettlement, 0, len(rows)),
	}
	for _, row := range rows {
		result.Settlements = append(result.Settlements, SellerSettlement{
			Payment: row,
			Pix:     pixBySeller[row.SellerID],
		})
	}
	return result, nil
}

func (s *service) loadOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

// splitBySeller groups order items per seller, preserving the first-seen
// seller order, and allocates shipping proportionally to each seller's
// product amount.
func splitBySeller(order *models.Order) []sellerSlice {
	var ordered []uuid.UUID
	amounts := make(map[uuid.UUID]decimal.Decimal)
	total := decimal.Zero
	for _, item := range order.Items {
		subtotal := item.Subtotal()
		if _, ok := amounts[item.SellerID]; !ok {
			ordered = append(ordered, item.SellerID)
			amounts[item.SellerID] = decimal.Zero
		}
		amounts[item.SellerID] = amounts[item.SellerID].Add(subtotal)
		total = total.Add(subtotal)
	}

	slices := make([]sellerSlice, 0, len(ordered))
	for _, sellerID := range ordered {
		share := decimal.Zero
		if total.IsPositive() && order.ShippingCost.IsPositive() {
			share = order.ShippingCost.Mul(amounts[sellerID]).Div(total).Round(2)
		}
		slices = append(slices, sellerSlice{
			SellerID:      sellerID,
			ProductAmount: amounts[sellerID],
			ShippingShare: share,
		})
	}
	return slices
}

// applicationFee is the platform's cut: a rate on the product amount plus
// the whole shipping share.
func applicationFee(method enums.PaymentMethod, slice sellerSlice) decimal.Decimal {
	rate := feeRateCard
	if method == enums.PaymentMethodPix {
		rate = feeRatePix
	}
	return slice.ProductAmount.Mul(rate).Round(2).Add(slice.ShippingShare)
}

func splitName(full string) (string, string) {
	full = strings.TrimSpace(full)
	if full == "" {
		return "", ""
	}
	idx := strings.LastIndex(full, " ")
	if idx < 0 {
		return full, ""
	}
	return full[:idx], full[idx+1:]
}
