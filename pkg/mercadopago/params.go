package mercadopago

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// CardTokenParams carries the raw card data exchanged for a single-use token.
// The PAN and CVV never touch the database; they live only for this call.
type CardTokenParams struct {
	CardNumber      string
	ExpirationMonth int
	ExpirationYear  int
	SecurityCode    string
	HolderName      string
	HolderDocument  string
}

func (p CardTokenParams) toRequestBody() map[string]any {
	return map[string]any{
		"card_number":      strings.ReplaceAll(p.CardNumber, " ", ""),
		"expiration_month": p.ExpirationMonth,
		"expiration_year":  p.ExpirationYear,
		"security_code":    p.SecurityCode,
		"cardholder": map[string]any{
			"name": p.HolderName,
			"identification": map[string]any{
				"type":   "CPF",
				"number": p.HolderDocument,
			},
		},
	}
}

// CardToken is the gateway's single-use token for a tokenized card.
type CardToken struct {
	ID              string `json:"id"`
	FirstSixDigits  string `json:"first_six_digits"`
	LastFourDigits  string `json:"last_four_digits"`
	ExpirationMonth int    `json:"expiration_month"`
	ExpirationYear  int    `json:"expiration_year"`
}

// Payer identifies the buyer on a charge.
type Payer struct {
	Email     string
	FirstName string
	LastName  string
}

func (p Payer) toRequestBody() map[string]any {
	return map[string]any{
		"email":      p.Email,
		"first_name": p.FirstName,
		"last_name":  p.LastName,
	}
}

// ChargeParams builds a destination charge executed with the seller's
// credential. ApplicationFee is the platform's cut withheld by the gateway.
type ChargeParams struct {
	Amount            decimal.Decimal
	Description       string
	PaymentMethodID   string
	CardTokenID       string
	Installments      int
	Payer             Payer
	ExternalReference string
	ApplicationFee    decimal.Decimal
	IdempotencyKey    string
	Metadata          map[string]any
}

func (p ChargeParams) toRequestBody(statementDescriptor, notificationURL string) map[string]any {
	body := map[string]any{
		"transaction_amount": p.Amount.InexactFloat64(),
		"description":        p.Description,
		"payment_method_id":  p.PaymentMethodID,
		"payer":              p.Payer.toRequestBody(),
		"external_reference": p.ExternalReference,
	}
	if p.CardTokenID != "" {
		body["token"] = p.CardTokenID
		installments := p.Installments
		if installments <= 0 {
			installments = 1
		}
		body["installments"] = installments
	}
	if statementDescriptor != "" {
		body["statement_descriptor"] = statementDescriptor
	}
	if notificationURL != "" {
		body["notification_url"] = notificationURL
	}
	if p.ApplicationFee.IsPositive() {
		body["application_fee"] = p.ApplicationFee.InexactFloat64()
	}
	if len(p.Metadata) > 0 {
		body["metadata"] = p.Metadata
	}
	return body
}

// RefundParams optionally limits the refund to a partial amount. A zero
// amount refunds the full charge.
type RefundParams struct {
	Amount decimal.Decimal
}

func (p RefundParams) toRequestBody() map[string]any {
	body := map[string]any{}
	if p.Amount.IsPositive() {
		body["amount"] = p.Amount.InexactFloat64()
	}
	return body
}

var nonDigits = regexp.MustCompile(`\D`)

// DetectCardBrand maps a PAN prefix to the gateway's payment_method_id.
// Unknown prefixes fall back to visa, which the gateway re-validates anyway.
func DetectCardBrand(cardNumber string) string {
	number := nonDigits.ReplaceAllString(cardNumber, "")

	switch {
	case matchPrefix(number, `^4`):
		return "visa"
	case matchPrefix(number, `^5[1-5]`):
		return "master"
	case matchPrefix(number, `^3[47]`):
		return "amex"
	case matchPrefix(number, `^6(?:011|5)`):
		return "discover"
	case matchPrefix(number, `^(?:2131|1800|35)`):
		return "jcb"
	case matchPrefix(number, `^3(?:0[0-5]|[68])`):
		return "diners"
	case matchPrefix(number, `^606282|^3841[046]0`):
		return "hipercard"
	case matchPrefix(number, `^(636368|438935|504175|451416|636297)`):
		return "elo"
	default:
		return "visa"
	}
}

func matchPrefix(number, pattern string) bool {
	matched, err := regexp.MatchString(pattern, number)
	return err == nil && matched
}
