package surcharge

import "strings"

// Match describes how a line was recognised as a surcharge.
type Match int

const (
	MatchNone Match = iota
	// MatchMarker means the line carries the service marker attribute.
	MatchMarker
	// MatchCanonical means the title contains CanonicalLabel exactly.
	MatchCanonical
	// MatchLenient means the title contains "recargo" in any case.
	MatchLenient
)

func (m Match) String() string {
	switch m {
	case MatchMarker:
		return "marker"
	case MatchCanonical:
		return "canonical"
	case MatchLenient:
		return "lenient"
	default:
		return "none"
	}
}

// Classification partitions the line items of a snapshot.
type Classification struct {
	Goods      []LineItem
	Surcharges []LineItem
	// Removed holds zero-quantity lines. They count neither as goods nor
	// as existing surcharges.
	Removed []LineItem
}

// SurchargeIDs returns the ids of the active surcharge lines.
func (c Classification) SurchargeIDs() []string {
	ids := make([]string, 0, len(c.Surcharges))
	for _, item := range c.Surcharges {
		ids = append(ids, item.ID)
	}
	return ids
}

// MatchSurcharge reports how the item matches the surcharge rules.
func MatchSurcharge(item LineItem) Match {
	if v, ok := item.Attribute(MarkerKey); ok && strings.EqualFold(strings.TrimSpace(v), MarkerValue) {
		return MatchMarker
	}
	if strings.Contains(item.Title, CanonicalLabel) {
		return MatchCanonical
	}
	if strings.Contains(strings.ToLower(item.Title), "recargo") {
		return MatchLenient
	}
	return MatchNone
}

// IsSurcharge reports whether the item is a surcharge line regardless of quantity.
func IsSurcharge(item LineItem) bool { return MatchSurcharge(item) != MatchNone }

// Classify splits items into goods, active surcharges and removed lines.
func Classify(items []LineItem) Classification {
	var out Classification
	for _, item := range items {
		if item.Removed() {
			out.Removed = append(out.Removed, item)
			continue
		}
		if IsSurcharge(item) {
			out.Surcharges = append(out.Surcharges, item)
			continue
		}
		out.Goods = append(out.Goods, item)
	}
	return out
}
