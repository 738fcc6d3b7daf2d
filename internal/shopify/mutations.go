package shopify

import (
	"context"
	"fmt"
	"time"

	"github.com/noah-isme/backend-recargo/internal/surcharge"
)

const replaceDraftLineItemsMutation = `mutation ReplaceDraftLineItems($id: ID!, $input: DraftOrderInput!) {
  draftOrderUpdate(id: $id, input: $input) {
    draftOrder {` + draftOrderFields + `
    }
    userErrors { field message }
  }
}`

const orderEditBeginMutation = `mutation BeginEdit($id: ID!) {
  orderEditBegin(id: $id) {
    calculatedOrder {
      id
      lineItems(first: 250) {
        nodes { id title quantity }
      }
    }
    userErrors { field message }
  }
}`

const orderEditSetQuantityMutation = `mutation SetEditQuantity($id: ID!, $lineItemId: ID!, $quantity: Int!) {
  orderEditSetQuantity(id: $id, lineItemId: $lineItemId, quantity: $quantity, restock: false) {
    calculatedOrder { id }
    userErrors { field message }
  }
}`

const orderEditAddCustomItemMutation = `mutation AddCustomItem($id: ID!, $title: String!, $price: MoneyInput!, $quantity: Int!) {
  orderEditAddCustomItem(id: $id, title: $title, price: $price, quantity: $quantity, taxable: false, requiresShipping: false) {
    calculatedLineItem { id }
    calculatedOrder { id }
    userErrors { field message }
  }
}`

const orderEditCommitMutation = `mutation CommitEdit($id: ID!, $staffNote: String) {
  orderEditCommit(id: $id, notifyCustomer: false, staffNote: $staffNote) {
    order {
      id
      totalPriceSet ` + moneySet + `
    }
    userErrors { field message }
  }
}`

const paymentTermsTemplatesQuery = `query PaymentTermsTemplates {
  paymentTermsTemplates { id name paymentTermsType dueInDays }
}`

const setPaymentTermsMutation = `mutation SetPaymentTerms($id: ID!, $input: DraftOrderInput!) {
  draftOrderUpdate(id: $id, input: $input) {
    draftOrder {
      id
      paymentTerms { paymentTermsName paymentTermsType dueInDays }
    }
    userErrors { field message }
  }
}`

const draftOrderCompleteMutation = `mutation CompleteDraftOrder($id: ID!) {
  draftOrderComplete(id: $id) {
    draftOrder {
      id
      name
      status
      order { id name displayFinancialStatus }
    }
    userErrors { field message }
  }
}`

// MoneyInput is the GraphQL MoneyInput shape.
type MoneyInput struct {
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currencyCode"`
}

// MoneyInputFrom converts a surcharge amount into a MoneyInput.
func MoneyInputFrom(m surcharge.Money) MoneyInput {
	return MoneyInput{Amount: m.String(), CurrencyCode: m.Currency}
}

// AppliedDiscountInput is the DraftOrderAppliedDiscountInput shape.
type AppliedDiscountInput struct {
	Title       string  `json:"title,omitempty"`
	Description string  `json:"description,omitempty"`
	Value       float64 `json:"value"`
	ValueType   string  `json:"valueType"`
}

// DraftLineItemInput is the DraftOrderLineItemInput shape.
type DraftLineItemInput struct {
	VariantID                     string                `json:"variantId,omitempty"`
	Title                         string                `json:"title,omitempty"`
	Quantity                      int                   `json:"quantity"`
	OriginalUnitPriceWithCurrency *MoneyInput           `json:"originalUnitPriceWithCurrency,omitempty"`
	SKU                           string                `json:"sku,omitempty"`
	Taxable                       *bool                 `json:"taxable,omitempty"`
	RequiresShipping              *bool                 `json:"requiresShipping,omitempty"`
	CustomAttributes              []surcharge.Attribute `json:"customAttributes,omitempty"`
	AppliedDiscount               *AppliedDiscountInput `json:"appliedDiscount,omitempty"`
}

// ReplaceLineItems overwrites the full line item set of a draft order in a
// single atomic update and returns the resulting snapshot.
func (c *Client) ReplaceLineItems(ctx context.Context, draftID string, items []DraftLineItemInput) (surcharge.OrderSnapshot, error) {
	const op = "draftOrderUpdate"
	var out struct {
		DraftOrderUpdate struct {
			DraftOrder *orderNode  `json:"draftOrder"`
			UserErrors []UserError `json:"userErrors"`
		} `json:"draftOrderUpdate"`
	}
	vars := map[string]any{
		"id":    GID(ResourceDraftOrder, draftID),
		"input": map[string]any{"lineItems": items},
	}
	if err := c.do(ctx, op, replaceDraftLineItemsMutation, vars, &out); err != nil {
		return surcharge.OrderSnapshot{}, err
	}
	if err := userErrors(op, out.DraftOrderUpdate.UserErrors); err != nil {
		return surcharge.OrderSnapshot{}, err
	}
	if out.DraftOrderUpdate.DraftOrder == nil {
		return surcharge.OrderSnapshot{}, ErrNotFound
	}
	snap, err := out.DraftOrderUpdate.DraftOrder.snapshot(surcharge.OrderDraft)
	if err != nil {
		return surcharge.OrderSnapshot{}, fmt.Errorf("shopify %s: %w", op, err)
	}
	return snap, nil
}

// CalculatedLineItem is a line of an open edit session.
type CalculatedLineItem struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Quantity int    `json:"quantity"`
}

// EditSession is an open, uncommitted order edit.
type EditSession struct {
	ID        string               `json:"id"`
	LineItems []CalculatedLineItem `json:"lineItems"`
}

// Find returns the calculated line for an order line id.
func (s EditSession) Find(lineItemID string) (CalculatedLineItem, bool) {
	for _, li := range s.LineItems {
		if SameLine(lineItemID, li.ID) {
			return li, true
		}
	}
	return CalculatedLineItem{}, false
}

// BeginEdit opens an edit session on a placed order. The session is
// invisible to the order until committed.
func (c *Client) BeginEdit(ctx context.Context, orderID string) (EditSession, error) {
	const op = "orderEditBegin"
	var out struct {
		OrderEditBegin struct {
			CalculatedOrder *struct {
				ID        string `json:"id"`
				LineItems struct {
					Nodes []CalculatedLineItem `json:"nodes"`
				} `json:"lineItems"`
			} `json:"calculatedOrder"`
			UserErrors []UserError `json:"userErrors"`
		} `json:"orderEditBegin"`
	}
	if err := c.do(ctx, op, orderEditBeginMutation, map[string]any{"id": GID(ResourceOrder, orderID)}, &out); err != nil {
		return EditSession{}, err
	}
	if err := userErrors(op, out.OrderEditBegin.UserErrors); err != nil {
		return EditSession{}, err
	}
	calc := out.OrderEditBegin.CalculatedOrder
	if calc == nil || calc.ID == "" {
		return EditSession{}, fmt.Errorf("shopify %s: no calculated order returned", op)
	}
	return EditSession{ID: calc.ID, LineItems: calc.LineItems.Nodes}, nil
}

// SetEditQuantity stages a quantity change on a calculated line.
func (c *Client) SetEditQuantity(ctx context.Context, editID, calculatedLineID string, quantity int) error {
	const op = "orderEditSetQuantity"
	var out struct {
		OrderEditSetQuantity struct {
			UserErrors []UserError `json:"userErrors"`
		} `json:"orderEditSetQuantity"`
	}
	vars := map[string]any{"id": editID, "lineItemId": calculatedLineID, "quantity": quantity}
	if err := c.do(ctx, op, orderEditSetQuantityMutation, vars, &out); err != nil {
		return err
	}
	return userErrors(op, out.OrderEditSetQuantity.UserErrors)
}

// AddCustomItem stages a non-taxable, non-shipping custom line.
func (c *Client) AddCustomItem(ctx context.Context, editID, title string, price surcharge.Money, quantity int) (string, error) {
	const op = "orderEditAddCustomItem"
	var out struct {
		OrderEditAddCustomItem struct {
			CalculatedLineItem *idRef      `json:"calculatedLineItem"`
			UserErrors         []UserError `json:"userErrors"`
		} `json:"orderEditAddCustomItem"`
	}
	vars := map[string]any{
		"id":       editID,
		"title":    title,
		"price":    MoneyInputFrom(price),
		"quantity": quantity,
	}
	if err := c.do(ctx, op, orderEditAddCustomItemMutation, vars, &out); err != nil {
		return "", err
	}
	if err := userErrors(op, out.OrderEditAddCustomItem.UserErrors); err != nil {
		return "", err
	}
	if out.OrderEditAddCustomItem.CalculatedLineItem == nil {
		return "", nil
	}
	return out.OrderEditAddCustomItem.CalculatedLineItem.ID, nil
}

// CommitResult describes the order after a committed edit.
type CommitResult struct {
	OrderID string
	Total   *surcharge.Money
}

// CommitEdit applies the staged changes of an edit session to the order.
func (c *Client) CommitEdit(ctx context.Context, editID, staffNote string) (CommitResult, error) {
	const op = "orderEditCommit"
	var out struct {
		OrderEditCommit struct {
			Order *struct {
				ID            string    `json:"id"`
				TotalPriceSet *moneyBag `json:"totalPriceSet"`
			} `json:"order"`
			UserErrors []UserError `json:"userErrors"`
		} `json:"orderEditCommit"`
	}
	vars := map[string]any{"id": editID}
	if staffNote != "" {
		vars["staffNote"] = staffNote
	}
	if err := c.do(ctx, op, orderEditCommitMutation, vars, &out); err != nil {
		return CommitResult{}, err
	}
	if err := userErrors(op, out.OrderEditCommit.UserErrors); err != nil {
		return CommitResult{}, err
	}
	var res CommitResult
	if o := out.OrderEditCommit.Order; o != nil {
		res.OrderID = o.ID
		total, err := o.TotalPriceSet.money()
		if err != nil {
			return res, fmt.Errorf("shopify %s: %w", op, err)
		}
		res.Total = total
	}
	return res, nil
}

// PaymentTermsTemplate is a shop payment terms template.
type PaymentTermsTemplate struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	PaymentTermsType string `json:"paymentTermsType"`
	DueInDays        *int   `json:"dueInDays"`
}

// PaymentTermsTemplates lists the shop's payment terms templates.
func (c *Client) PaymentTermsTemplates(ctx context.Context) ([]PaymentTermsTemplate, error) {
	var out struct {
		PaymentTermsTemplates []PaymentTermsTemplate `json:"paymentTermsTemplates"`
	}
	if err := c.do(ctx, "paymentTermsTemplates", paymentTermsTemplatesQuery, nil, &out); err != nil {
		return nil, err
	}
	return out.PaymentTermsTemplates, nil
}

// SetPaymentTerms applies a payment terms template to a draft order with a
// schedule issued at issuedAt.
func (c *Client) SetPaymentTerms(ctx context.Context, draftID, templateID string, issuedAt time.Time) error {
	const op = "draftOrderUpdate.paymentTerms"
	var out struct {
		DraftOrderUpdate struct {
			UserErrors []UserError `json:"userErrors"`
		} `json:"draftOrderUpdate"`
	}
	vars := map[string]any{
		"id": GID(ResourceDraftOrder, draftID),
		"input": map[string]any{
			"paymentTerms": map[string]any{
				"paymentTermsTemplateId": templateID,
				"paymentSchedules":       []map[string]any{{"issuedAt": issuedAt.UTC().Format(time.RFC3339)}},
			},
		},
	}
	if err := c.do(ctx, op, setPaymentTermsMutation, vars, &out); err != nil {
		return err
	}
	return userErrors(op, out.DraftOrderUpdate.UserErrors)
}

// CompletedDraftOrder is the outcome of completing a draft order.
type CompletedDraftOrder struct {
	DraftOrderID    string `json:"draftOrderId"`
	Name            string `json:"name"`
	Status          string `json:"status"`
	OrderID         string `json:"orderId,omitempty"`
	OrderName       string `json:"orderName,omitempty"`
	FinancialStatus string `json:"financialStatus,omitempty"`
}

// CompleteDraftOrder converts a draft order into a placed order.
func (c *Client) CompleteDraftOrder(ctx context.Context, draftID string) (CompletedDraftOrder, error) {
	const op = "draftOrderComplete"
	var out struct {
		DraftOrderComplete struct {
			DraftOrder *struct {
				ID     string `json:"id"`
				Name   string `json:"name"`
				Status string `json:"status"`
				Order  *struct {
					ID                     string `json:"id"`
					Name                   string `json:"name"`
					DisplayFinancialStatus string `json:"displayFinancialStatus"`
				} `json:"order"`
			} `json:"draftOrder"`
			UserErrors []UserError `json:"userErrors"`
		} `json:"draftOrderComplete"`
	}
	if err := c.do(ctx, op, draftOrderCompleteMutation, map[string]any{"id": GID(ResourceDraftOrder, draftID)}, &out); err != nil {
		return CompletedDraftOrder{}, err
	}
	if err := userErrors(op, out.DraftOrderComplete.UserErrors); err != nil {
		return CompletedDraftOrder{}, err
	}
	d := out.DraftOrderComplete.DraftOrder
	if d == nil {
		return CompletedDraftOrder{}, ErrNotFound
	}
	res := CompletedDraftOrder{DraftOrderID: d.ID, Name: d.Name, Status: d.Status}
	if d.Order != nil {
		res.OrderID = d.Order.ID
		res.OrderName = d.Order.Name
		res.FinancialStatus = d.Order.DisplayFinancialStatus
	}
	return res, nil
}
