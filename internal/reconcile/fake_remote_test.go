package reconcile_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-recargo/internal/shopify"
	"github.com/noah-isme/backend-recargo/internal/surcharge"
)

// fakeShopify keeps orders in memory and applies mutations the way the
// Admin API does: draft updates replace every line, order edits only take
// effect on commit.
type fakeShopify struct {
	mu      sync.Mutex
	orders  map[string]surcharge.OrderSnapshot
	edits   map[string]*fakeEdit
	nextID  int
	calls   []string
	failOn  map[string]error
	readErr []error
	// delay slows a mutation down before it takes effect.
	delay   map[string]time.Duration
	// hidden lines are left out of edit sessions.
	hidden  map[string]bool
}

type fakeEdit struct {
	orderID  string
	zeroed   map[string]bool
	addTitle string
	addPrice *surcharge.Money
}

func newFakeShopify() *fakeShopify {
	return &fakeShopify{
		orders: map[string]surcharge.OrderSnapshot{},
		edits:  map[string]*fakeEdit{},
		failOn: map[string]error{},
		delay:  map[string]time.Duration{},
		hidden: map[string]bool{},
		nextID: 100,
	}
}

func (f *fakeShopify) put(snap surcharge.OrderSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[snap.ID] = snap
}

func (f *fakeShopify) get(id string) surcharge.OrderSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders[id]
}

func (f *fakeShopify) mutations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if !strings.HasPrefix(c, "fetch") {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeShopify) record(op string) error {
	f.calls = append(f.calls, op)
	if err, ok := f.failOn[op]; ok {
		return err
	}
	return nil
}

func (f *fakeShopify) wait(op string) {
	f.mu.Lock()
	d := f.delay[op]
	f.mu.Unlock()
	time.Sleep(d)
}

func (f *fakeShopify) fetch(op, id string) (surcharge.OrderSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	if len(f.readErr) > 0 {
		err := f.readErr[0]
		f.readErr = f.readErr[1:]
		return surcharge.OrderSnapshot{}, err
	}
	snap, ok := f.orders[id]
	if !ok {
		return surcharge.OrderSnapshot{}, shopify.ErrNotFound
	}
	snap.LineItems = append([]surcharge.LineItem(nil), snap.LineItems...)
	return snap, nil
}

func (f *fakeShopify) FetchOrder(_ context.Context, id string) (surcharge.OrderSnapshot, error) {
	return f.fetch("fetchOrder", id)
}

func (f *fakeShopify) FetchDraftOrder(_ context.Context, id string) (surcharge.OrderSnapshot, error) {
	return f.fetch("fetchDraftOrder", id)
}

func (f *fakeShopify) ReplaceLineItems(_ context.Context, draftID string, items []shopify.DraftLineItemInput) (surcharge.OrderSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("draftOrderUpdate"); err != nil {
		return surcharge.OrderSnapshot{}, err
	}
	snap := f.orders[draftID]
	prices := map[string]surcharge.LineItem{}
	for _, li := range snap.LineItems {
		if li.VariantID != "" {
			prices[li.VariantID] = li
		}
	}
	lines := make([]surcharge.LineItem, 0, len(items))
	for _, in := range items {
		f.nextID++
		li := surcharge.LineItem{
			ID:               fmt.Sprintf("gid://shopify/DraftOrderLineItem/%d", f.nextID),
			Quantity:         in.Quantity,
			VariantID:        in.VariantID,
			CustomAttributes: in.CustomAttributes,
		}
		if in.VariantID != "" {
			prev := prices[in.VariantID]
			li.Title = prev.Title
			li.UnitPrice = prev.UnitPrice
			li.DiscountedUnitPrice = prev.DiscountedUnitPrice
		} else {
			li.Title = in.Title
			li.Custom = true
			price, _ := surcharge.ParseMoney(in.OriginalUnitPriceWithCurrency.Amount, in.OriginalUnitPriceWithCurrency.CurrencyCode)
			li.UnitPrice = price
		}
		lines = append(lines, li)
	}
	snap.LineItems = lines
	total := totalOf(lines, snap.Currency)
	snap.Total = &total
	f.orders[draftID] = snap
	return snap, nil
}

func (f *fakeShopify) BeginEdit(_ context.Context, orderID string) (shopify.EditSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("orderEditBegin"); err != nil {
		return shopify.EditSession{}, err
	}
	f.nextID++
	editID := fmt.Sprintf("gid://shopify/CalculatedOrder/%d", f.nextID)
	f.edits[editID] = &fakeEdit{orderID: orderID, zeroed: map[string]bool{}}
	session := shopify.EditSession{ID: editID}
	for _, li := range f.orders[orderID].LineItems {
		if f.hidden[li.ID] {
			continue
		}
		session.LineItems = append(session.LineItems, shopify.CalculatedLineItem{
			ID:       strings.Replace(li.ID, "/LineItem/", "/CalculatedLineItem/", 1),
			Title:    li.Title,
			Quantity: li.Quantity,
		})
	}
	return session, nil
}

func (f *fakeShopify) SetEditQuantity(_ context.Context, editID, calculatedLineID string, quantity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("orderEditSetQuantity"); err != nil {
		return err
	}
	if quantity == 0 {
		f.edits[editID].zeroed[calculatedLineID] = true
	}
	return nil
}

func (f *fakeShopify) AddCustomItem(_ context.Context, editID, title string, price surcharge.Money, _ int) (string, error) {
	f.wait("orderEditAddCustomItem")
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("orderEditAddCustomItem"); err != nil {
		return "", err
	}
	edit := f.edits[editID]
	edit.addTitle = title
	edit.addPrice = &price
	return "gid://shopify/CalculatedLineItem/added", nil
}

func (f *fakeShopify) CommitEdit(_ context.Context, editID, _ string) (shopify.CommitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("orderEditCommit"); err != nil {
		return shopify.CommitResult{}, err
	}
	edit := f.edits[editID]
	snap := f.orders[edit.orderID]
	lines := make([]surcharge.LineItem, 0, len(snap.LineItems)+1)
	for _, li := range snap.LineItems {
		for calcID := range edit.zeroed {
			if shopify.SameLine(li.ID, calcID) {
				li.Quantity = 0
			}
		}
		lines = append(lines, li)
	}
	if edit.addPrice != nil {
		f.nextID++
		lines = append(lines, surcharge.LineItem{
			ID:        fmt.Sprintf("gid://shopify/LineItem/%d", f.nextID),
			Title:     edit.addTitle,
			Quantity:  1,
			UnitPrice: *edit.addPrice,
			Custom:    true,
		})
	}
	snap.LineItems = lines
	total := totalOf(lines, snap.Currency)
	snap.Total = &total
	f.orders[edit.orderID] = snap
	delete(f.edits, editID)
	return shopify.CommitResult{OrderID: edit.orderID, Total: &total}, nil
}

func totalOf(lines []surcharge.LineItem, currency string) surcharge.Money {
	sum := decimal.Zero
	for _, li := range lines {
		if !li.Removed() {
			sum = sum.Add(li.Total())
		}
	}
	return surcharge.NewMoney(sum, currency)
}
