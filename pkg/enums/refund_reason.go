package enums

import "fmt"

// RefundReason records why the buyer asked for a refund.
type RefundReason string

const (
	RefundReasonDefectiveProduct RefundReason = "defective_product"
	RefundReasonWrongItem        RefundReason = "wrong_item"
	RefundReasonNotAsDescribed   RefundReason = "not_as_described"
	RefundReasonChangedMind      RefundReason = "changed_mind"
	RefundReasonLateDelivery     RefundReason = "late_delivery"
	RefundReasonOther            RefundReason = "other"
)

var validRefundReasons = []RefundReason{
	RefundReasonDefectiveProduct,
	RefundReasonWrongItem,
	RefundReasonNotAsDescribed,
	RefundReasonChangedMind,
	RefundReasonLateDelivery,
	RefundReasonOther,
}

// String implements fmt.Stringer.
func (r RefundReason) String() string {
	return string(r)
}

// IsValid reports whether the value is a known RefundReason.
func (r RefundReason) IsValid() bool {
	for _, candidate := range validRefundReasons {
		if candidate == r {
			return true
		}
	}
	return false
}

// ReturnsPlatformFee reports whether refunds for this reason return the
// platform's application fee to the buyer. Seller-fault reasons do.
func (r RefundReason) ReturnsPlatformFee() bool {
	switch r {
	case RefundReasonDefectiveProduct, RefundReasonWrongItem, RefundReasonNotAsDescribed:
		return true
	default:
		return false
	}
}

// ParseRefundReason converts raw input into a RefundReason.
func ParseRefundReason(value string) (RefundReason, error) {
	for _, candidate := range validRefundReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid refund reason %q", value)
}
