package surcharge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// CanonicalLabel is the exact title fragment used by surcharge lines.
	CanonicalLabel = "Recargo de Equivalencia"
	// DefaultTitle is the title written on surcharge lines created by the service.
	DefaultTitle = "Recargo de Equivalencia (5.2%)"
	// MarkerKey is the custom attribute written on surcharge lines created by the service.
	MarkerKey = "_recargo_equivalencia"
	// MarkerValue is the value paired with MarkerKey.
	MarkerValue = "true"
)

// Money is an exact decimal amount tagged with an ISO currency code.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// NewMoney builds a Money value.
func NewMoney(amount decimal.Decimal, currency string) Money {
	return Money{Amount: amount, Currency: strings.ToUpper(strings.TrimSpace(currency))}
}

// ParseMoney parses a decimal string such as "19.90".
func ParseMoney(amount, currency string) (Money, error) {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return NewMoney(decimal.Zero, currency), nil
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return Money{}, fmt.Errorf("surcharge: parse amount %q: %w", amount, err)
	}
	return NewMoney(d, currency), nil
}

// Round returns the amount rounded to cents.
func (m Money) Round() Money {
	return Money{Amount: m.Amount.Round(2), Currency: m.Currency}
}

// IsPositive reports whether the amount is strictly greater than zero.
func (m Money) IsPositive() bool { return m.Amount.IsPositive() }

// String renders the amount with two decimals, the form sent to Shopify.
func (m Money) String() string { return m.Amount.StringFixed(2) }

type moneyJSON struct {
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currencyCode,omitempty"`
}

// MarshalJSON encodes Money using the MoneyV2 shape.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.String(), CurrencyCode: m.Currency})
}

// UnmarshalJSON decodes the MoneyV2 shape.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseMoney(raw.Amount, raw.CurrencyCode)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Attribute is a key/value custom attribute attached to a line item.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// AppliedDiscount mirrors a draft order line discount so it can be resubmitted.
type AppliedDiscount struct {
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	Value       decimal.Decimal `json:"value"`
	ValueType   string          `json:"valueType"`
}

// LineItem is one product or custom line of an order snapshot.
type LineItem struct {
	ID                  string           `json:"id"`
	Title               string           `json:"title"`
	Quantity            int              `json:"quantity"`
	UnitPrice           Money            `json:"unitPrice"`
	DiscountedUnitPrice *Money           `json:"discountedUnitPrice,omitempty"`
	VariantID           string           `json:"variantId,omitempty"`
	SKU                 string           `json:"sku,omitempty"`
	Custom              bool             `json:"custom"`
	Taxable             bool             `json:"taxable"`
	RequiresShipping    bool             `json:"requiresShipping"`
	CustomAttributes    []Attribute      `json:"customAttributes,omitempty"`
	AppliedDiscount     *AppliedDiscount `json:"appliedDiscount,omitempty"`
}

// EffectiveUnitPrice returns the discounted unit price when present and
// positive, otherwise the original unit price.
func (li LineItem) EffectiveUnitPrice() decimal.Decimal {
	if li.DiscountedUnitPrice != nil && li.DiscountedUnitPrice.Amount.IsPositive() {
		return li.DiscountedUnitPrice.Amount
	}
	return li.UnitPrice.Amount
}

// Total is the effective unit price times quantity, unrounded.
func (li LineItem) Total() decimal.Decimal {
	return li.EffectiveUnitPrice().Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Removed reports whether the line has been zeroed out.
func (li LineItem) Removed() bool { return li.Quantity <= 0 }

// Attribute looks up a custom attribute by key.
func (li LineItem) Attribute(key string) (string, bool) {
	for _, attr := range li.CustomAttributes {
		if attr.Key == key {
			return attr.Value, true
		}
	}
	return "", false
}

// OrderKind distinguishes editable drafts from placed orders.
type OrderKind string

const (
	OrderDraft  OrderKind = "draft"
	OrderPlaced OrderKind = "placed"
)

// Valid reports whether the kind is known.
func (k OrderKind) Valid() bool { return k == OrderDraft || k == OrderPlaced }

// OrderSnapshot is the point-in-time view of a remote order used for one
// reconciliation. It is never cached.
type OrderSnapshot struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Kind         OrderKind  `json:"kind"`
	Status       string     `json:"status,omitempty"`
	Mutable      bool       `json:"mutable"`
	Currency     string     `json:"currency"`
	CustomerTags []string   `json:"customerTags,omitempty"`
	LineItems    []LineItem `json:"lineItems"`
	Subtotal     *Money     `json:"subtotal,omitempty"`
	Total        *Money     `json:"total,omitempty"`
}
