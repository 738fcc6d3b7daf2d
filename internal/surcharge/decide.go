package surcharge

import "github.com/shopspring/decimal"

// Reasons reported on rejected decisions.
const (
	ReasonNoTaxableGoods = "no taxable goods"
	ReasonImmutable      = "order immutable"
)

var (
	// DefaultRate is the Recargo de Equivalencia rate for the general VAT band.
	DefaultRate = decimal.RequireFromString("0.052")
	// DefaultTolerance is the largest difference treated as "already correct".
	DefaultTolerance = decimal.RequireFromString("0.01")
)

// Kind enumerates reconciliation outcomes.
type Kind string

const (
	KindSkip    Kind = "skip"
	KindInsert  Kind = "insert"
	KindReplace Kind = "replace"
	KindReject  Kind = "reject"
)

// Decision is the action required to bring an order to exactly one correct
// surcharge line.
type Decision struct {
	Kind     Kind  `json:"kind"`
	Subtotal Money `json:"subtotal"`
	Amount   Money `json:"amount"`
	Existing Money `json:"existing"`
	// ReplaceID is set when exactly one stale surcharge line exists.
	ReplaceID string   `json:"replaceId,omitempty"`
	StaleIDs  []string `json:"staleIds,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// Mutates reports whether applying the decision changes the remote order.
func (d Decision) Mutates() bool {
	return d.Kind == KindInsert || d.Kind == KindReplace
}

// Engine computes decisions for a given rate and tolerance.
type Engine struct {
	Rate      decimal.Decimal
	Tolerance decimal.Decimal
}

// DefaultEngine uses the 5.2% rate and a one cent tolerance.
var DefaultEngine = Engine{Rate: DefaultRate, Tolerance: DefaultTolerance}

// Target returns round(subtotal * rate, 2).
func (e Engine) Target(subtotal Money) Money {
	return Money{Amount: subtotal.Amount.Mul(e.rate()).Round(2), Currency: subtotal.Currency}
}

// Decide evaluates goods and active surcharge lines for an order.
func (e Engine) Decide(goods, surcharges []LineItem, orderMutable bool) Decision {
	currency := currencyOf(goods, surcharges)
	subtotal := Subtotal(goods, currency)
	target := e.Target(subtotal)
	existing := Subtotal(surcharges, currency)

	d := Decision{Subtotal: subtotal, Amount: target, Existing: existing}
	if !target.Amount.IsPositive() {
		d.Kind = KindReject
		d.Reason = ReasonNoTaxableGoods
		return d
	}
	if !orderMutable {
		d.Kind = KindReject
		d.Reason = ReasonImmutable
		return d
	}
	switch len(surcharges) {
	case 0:
		d.Kind = KindInsert
		return d
	case 1:
		if surcharges[0].Total().Sub(target.Amount).Abs().LessThanOrEqual(e.tolerance()) {
			d.Kind = KindSkip
			return d
		}
		d.ReplaceID = surcharges[0].ID
	}
	d.Kind = KindReplace
	for _, s := range surcharges {
		d.StaleIDs = append(d.StaleIDs, s.ID)
	}
	return d
}

// Decide runs the default engine.
func Decide(goods, surcharges []LineItem, orderMutable bool) Decision {
	return DefaultEngine.Decide(goods, surcharges, orderMutable)
}

func (e Engine) rate() decimal.Decimal {
	if e.Rate.IsZero() {
		return DefaultRate
	}
	return e.Rate
}

func (e Engine) tolerance() decimal.Decimal {
	if e.Tolerance.IsNegative() || e.Tolerance.IsZero() {
		return DefaultTolerance
	}
	return e.Tolerance
}

// RateLabel renders the rate as a percentage, e.g. "5.2%".
func (e Engine) RateLabel() string {
	return e.rate().Mul(decimal.NewFromInt(100)).String() + "%"
}

func currencyOf(groups ...[]LineItem) string {
	for _, items := range groups {
		for _, item := range items {
			if item.UnitPrice.Currency != "" {
				return item.UnitPrice.Currency
			}
		}
	}
	return ""
}
