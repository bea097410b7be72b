package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// ShippingAddress is the structured delivery address snapshot stored on an
// order. It is serialized as JSON so the snapshot survives later edits to
// the buyer's profile.
type ShippingAddress struct {
	Street     string `json:"street"`
	Number     string `json:"number,omitempty"`
	Complement string `json:"complement,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Validate reports whether the address carries the minimum fields needed to
// ship an order.
func (s ShippingAddress) Validate() error {
	if strings.TrimSpace(s.Street) == "" {
		return fmt.Errorf("shipping address: missing street")
	}
	if strings.TrimSpace(s.City) == "" {
		return fmt.Errorf("shipping address: missing city")
	}
	if strings.TrimSpace(s.State) == "" {
		return fmt.Errorf("shipping address: missing state")
	}
	if strings.TrimSpace(s.PostalCode) == "" {
		return fmt.Errorf("shipping address: missing postal_code")
	}
	return nil
}

// Value marshals the address into its JSON column representation.
func (s ShippingAddress) Value() (driver.Value, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(s.Country) == "" {
		s.Country = "BR"
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("shipping address: marshal: %w", err)
	}
	return string(raw), nil
}

// Scan decodes the JSON column representation.
func (s *ShippingAddress) Scan(value interface{}) error {
	if value == nil {
		*s = ShippingAddress{}
		return nil
	}
	raw, ok := toString(value)
	if !ok {
		return fmt.Errorf("shipping address: unsupported scan type %T", value)
	}
	if strings.TrimSpace(raw) == "" {
		*s = ShippingAddress{}
		return nil
	}
	if err := json.Unmarshal([]byte(raw), s); err != nil {
		return fmt.Errorf("shipping address: unmarshal: %w", err)
	}
	return nil
}

func toString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case fmt.Stringer:
		return v.String(), true
	default:
		return "", false
	}
}
