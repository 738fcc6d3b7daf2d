package shopify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-recargo/internal/surcharge"
)

const moneySet = `{ shopMoney { amount currencyCode } }`

const draftOrderFields = `
    id
    name
    status
    currencyCode
    customer { tags }
    subtotalPriceSet ` + moneySet + `
    totalPriceSet ` + moneySet + `
    lineItems(first: 250) {
      nodes {
        id
        title
        quantity
        sku
        custom
        taxable
        requiresShipping
        variant { id }
        customAttributes { key value }
        originalUnitPriceSet ` + moneySet + `
        approximateDiscountedUnitPriceSet ` + moneySet + `
        appliedDiscount { title description value valueType }
      }
    }`

const fetchDraftOrderQuery = `query FetchDraftOrder($id: ID!) {
  draftOrder(id: $id) {` + draftOrderFields + `
  }
}`

const fetchOrderQuery = `query FetchOrder($id: ID!) {
  order(id: $id) {
    id
    name
    closed
    cancelledAt
    displayFinancialStatus
    currencyCode
    customer { tags }
    subtotalPriceSet ` + moneySet + `
    totalPriceSet ` + moneySet + `
    lineItems(first: 250) {
      nodes {
        id
        title
        quantity
        currentQuantity
        sku
        taxable
        requiresShipping
        variant { id }
        customAttributes { key value }
        originalUnitPriceSet ` + moneySet + `
        discountedUnitPriceAfterAllDiscountsSet ` + moneySet + `
      }
    }
  }
}`

const listDraftOrdersQuery = `query ListDraftOrders($first: Int!, $query: String) {
  draftOrders(first: $first, query: $query, sortKey: UPDATED_AT, reverse: true) {
    nodes {
      id
      name
      status
      createdAt
      updatedAt
      currencyCode
      subtotalPriceSet ` + moneySet + `
      totalPriceSet ` + moneySet + `
      customer { displayName email }
      lineItems(first: 1) { nodes { id } }
    }
  }
}`

type moneyBag struct {
	ShopMoney struct {
		Amount       string `json:"amount"`
		CurrencyCode string `json:"currencyCode"`
	} `json:"shopMoney"`
}

func (m *moneyBag) money() (*surcharge.Money, error) {
	if m == nil {
		return nil, nil
	}
	v, err := surcharge.ParseMoney(m.ShopMoney.Amount, m.ShopMoney.CurrencyCode)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

type idRef struct {
	ID string `json:"id"`
}

type customerNode struct {
	Tags        []string `json:"tags"`
	DisplayName string   `json:"displayName"`
	Email       string   `json:"email"`
}

type appliedDiscountNode struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Value       float64 `json:"value"`
	ValueType   string  `json:"valueType"`
}

type lineItemNode struct {
	ID                     string                `json:"id"`
	Title                  string                `json:"title"`
	Quantity               int                   `json:"quantity"`
	CurrentQuantity        *int                  `json:"currentQuantity"`
	SKU                    string                `json:"sku"`
	Custom                 bool                  `json:"custom"`
	Taxable                bool                  `json:"taxable"`
	RequiresShipping       bool                  `json:"requiresShipping"`
	Variant                *idRef                `json:"variant"`
	CustomAttributes       []surcharge.Attribute `json:"customAttributes"`
	OriginalUnitPriceSet   *moneyBag             `json:"originalUnitPriceSet"`
	DiscountedDraftUnitSet *moneyBag             `json:"approximateDiscountedUnitPriceSet"`
	DiscountedOrderUnitSet *moneyBag             `json:"discountedUnitPriceAfterAllDiscountsSet"`
	AppliedDiscount        *appliedDiscountNode  `json:"appliedDiscount"`
}

func (n lineItemNode) toLineItem() (surcharge.LineItem, error) {
	item := surcharge.LineItem{
		ID:               n.ID,
		Title:            n.Title,
		Quantity:         n.Quantity,
		SKU:              n.SKU,
		Custom:           n.Custom,
		Taxable:          n.Taxable,
		RequiresShipping: n.RequiresShipping,
		CustomAttributes: n.CustomAttributes,
	}
	if n.CurrentQuantity != nil {
		item.Quantity = *n.CurrentQuantity
	}
	if n.Variant != nil {
		item.VariantID = n.Variant.ID
	} else {
		item.Custom = true
	}
	unit, err := n.OriginalUnitPriceSet.money()
	if err != nil {
		return item, err
	}
	if unit != nil {
		item.UnitPrice = *unit
	}
	discounted := n.DiscountedOrderUnitSet
	if discounted == nil {
		discounted = n.DiscountedDraftUnitSet
	}
	if item.DiscountedUnitPrice, err = discounted.money(); err != nil {
		return item, err
	}
	if d := n.AppliedDiscount; d != nil {
		item.AppliedDiscount = &surcharge.AppliedDiscount{
			Title:       d.Title,
			Description: d.Description,
			Value:       decimal.NewFromFloat(d.Value),
			ValueType:   d.ValueType,
		}
	}
	return item, nil
}

type orderNode struct {
	ID                     string        `json:"id"`
	Name                   string        `json:"name"`
	Status                 string        `json:"status"`
	Closed                 bool          `json:"closed"`
	CancelledAt            *time.Time    `json:"cancelledAt"`
	DisplayFinancialStatus string        `json:"displayFinancialStatus"`
	CurrencyCode           string        `json:"currencyCode"`
	Customer               *customerNode `json:"customer"`
	SubtotalPriceSet       *moneyBag     `json:"subtotalPriceSet"`
	TotalPriceSet          *moneyBag     `json:"totalPriceSet"`
	LineItems              struct {
		Nodes []lineItemNode `json:"nodes"`
	} `json:"lineItems"`
}

func (n orderNode) snapshot(kind surcharge.OrderKind) (surcharge.OrderSnapshot, error) {
	snap := surcharge.OrderSnapshot{
		ID:       n.ID,
		Name:     n.Name,
		Kind:     kind,
		Currency: n.CurrencyCode,
	}
	switch kind {
	case surcharge.OrderDraft:
		snap.Status = n.Status
		// OPEN and INVOICE_SENT drafts still accept draftOrderUpdate.
		snap.Mutable = !strings.EqualFold(n.Status, "COMPLETED")
	default:
		snap.Status = n.DisplayFinancialStatus
		snap.Mutable = !n.Closed && n.CancelledAt == nil
	}
	if n.Customer != nil {
		snap.CustomerTags = n.Customer.Tags
	}
	var err error
	if snap.Subtotal, err = n.SubtotalPriceSet.money(); err != nil {
		return snap, err
	}
	if snap.Total, err = n.TotalPriceSet.money(); err != nil {
		return snap, err
	}
	snap.LineItems = make([]surcharge.LineItem, 0, len(n.LineItems.Nodes))
	for _, node := range n.LineItems.Nodes {
		item, err := node.toLineItem()
		if err != nil {
			return snap, fmt.Errorf("line %s: %w", node.ID, err)
		}
		snap.LineItems = append(snap.LineItems, item)
	}
	return snap, nil
}

// FetchDraftOrder loads a draft order snapshot.
func (c *Client) FetchDraftOrder(ctx context.Context, id string) (surcharge.OrderSnapshot, error) {
	var out struct {
		DraftOrder *orderNode `json:"draftOrder"`
	}
	if err := c.do(ctx, "draftOrder", fetchDraftOrderQuery, map[string]any{"id": GID(ResourceDraftOrder, id)}, &out); err != nil {
		return surcharge.OrderSnapshot{}, err
	}
	if out.DraftOrder == nil {
		return surcharge.OrderSnapshot{}, ErrNotFound
	}
	snap, err := out.DraftOrder.snapshot(surcharge.OrderDraft)
	if err != nil {
		return surcharge.OrderSnapshot{}, fmt.Errorf("shopify draftOrder: %w", err)
	}
	return snap, nil
}

// FetchOrder loads a placed order snapshot. Quantities reflect removals
// made by earlier edits.
func (c *Client) FetchOrder(ctx context.Context, id string) (surcharge.OrderSnapshot, error) {
	var out struct {
		Order *orderNode `json:"order"`
	}
	if err := c.do(ctx, "order", fetchOrderQuery, map[string]any{"id": GID(ResourceOrder, id)}, &out); err != nil {
		return surcharge.OrderSnapshot{}, err
	}
	if out.Order == nil {
		return surcharge.OrderSnapshot{}, ErrNotFound
	}
	snap, err := out.Order.snapshot(surcharge.OrderPlaced)
	if err != nil {
		return surcharge.OrderSnapshot{}, fmt.Errorf("shopify order: %w", err)
	}
	return snap, nil
}

// DraftOrderSummary is one row of the open draft order listing.
type DraftOrderSummary struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Status        string           `json:"status"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
	Subtotal      *surcharge.Money `json:"subtotal,omitempty"`
	Total         *surcharge.Money `json:"total,omitempty"`
	CustomerName  string           `json:"customerName,omitempty"`
	CustomerEmail string           `json:"customerEmail,omitempty"`
	HasLineItems  bool             `json:"hasLineItems"`
}

// ListDraftOrders returns up to first draft orders matching query, most
// recently updated first.
func (c *Client) ListDraftOrders(ctx context.Context, first int, query string) ([]DraftOrderSummary, error) {
	if first <= 0 || first > 250 {
		first = 50
	}
	vars := map[string]any{"first": first}
	if q := strings.TrimSpace(query); q != "" {
		vars["query"] = q
	}
	var out struct {
		DraftOrders struct {
			Nodes []struct {
				ID               string        `json:"id"`
				Name             string        `json:"name"`
				Status           string        `json:"status"`
				CreatedAt        time.Time     `json:"createdAt"`
				UpdatedAt        time.Time     `json:"updatedAt"`
				SubtotalPriceSet *moneyBag     `json:"subtotalPriceSet"`
				TotalPriceSet    *moneyBag     `json:"totalPriceSet"`
				Customer         *customerNode `json:"customer"`
				LineItems        struct {
					Nodes []idRef `json:"nodes"`
				} `json:"lineItems"`
			} `json:"nodes"`
		} `json:"draftOrders"`
	}
	if err := c.do(ctx, "draftOrders", listDraftOrdersQuery, vars, &out); err != nil {
		return nil, err
	}
	rows := make([]DraftOrderSummary, 0, len(out.DraftOrders.Nodes))
	for _, n := range out.DraftOrders.Nodes {
		row := DraftOrderSummary{
			ID:           n.ID,
			Name:         n.Name,
			Status:       n.Status,
			CreatedAt:    n.CreatedAt,
			UpdatedAt:    n.UpdatedAt,
			HasLineItems: len(n.LineItems.Nodes) > 0,
		}
		var err error
		if row.Subtotal, err = n.SubtotalPriceSet.money(); err != nil {
			return nil, fmt.Errorf("shopify draftOrders: %w", err)
		}
		if row.Total, err = n.TotalPriceSet.money(); err != nil {
			return nil, fmt.Errorf("shopify draftOrders: %w", err)
		}
		if n.Customer != nil {
			row.CustomerName = n.Customer.DisplayName
			row.CustomerEmail = n.Customer.Email
		}
		rows = append(rows, row)
	}
	return rows, nil
}
