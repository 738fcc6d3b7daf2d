package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-recargo/internal/shopify"
	"github.com/noah-isme/backend-recargo/internal/surcharge"
)

// Remote is the Shopify surface used by reconciliation.
type Remote interface {
	FetchOrder(ctx context.Context, id string) (surcharge.OrderSnapshot, error)
	FetchDraftOrder(ctx context.Context, id string) (surcharge.OrderSnapshot, error)
	ReplaceLineItems(ctx context.Context, draftID string, items []shopify.DraftLineItemInput) (surcharge.OrderSnapshot, error)
	BeginEdit(ctx context.Context, orderID string) (shopify.EditSession, error)
	SetEditQuantity(ctx context.Context, editID, calculatedLineID string, quantity int) error
	AddCustomItem(ctx context.Context, editID, title string, price surcharge.Money, quantity int) (string, error)
	CommitEdit(ctx context.Context, editID, staffNote string) (shopify.CommitResult, error)
}

// ErrInterrupted is reported when the caller deadline expired between two
// mutation steps.
var ErrInterrupted = errors.New("reconcile: interrupted before completion")

// Outcome is the raw result of applying a decision.
type Outcome struct {
	Applied  bool
	Phases   *Phases
	NewTotal *surcharge.Money
	Err      error
}

// Coordinator applies decisions to Shopify using the strategy that matches
// the order kind.
type Coordinator struct {
	Remote    Remote
	Title     string
	StaffNote string
	Logger    zerolog.Logger
}

// Apply realises d on the remote order. Decisions that do not mutate are
// returned as not applied with no remote calls.
func (c Coordinator) Apply(ctx context.Context, snap surcharge.OrderSnapshot, cls surcharge.Classification, d surcharge.Decision) Outcome {
	if !d.Mutates() {
		return Outcome{}
	}
	if snap.Kind == surcharge.OrderDraft {
		return c.applyDraft(ctx, snap, cls, d)
	}
	return c.applyPlaced(ctx, snap, cls, d)
}

func (c Coordinator) title() string {
	if c.Title == "" {
		return surcharge.DefaultTitle
	}
	return c.Title
}

// applyDraft resubmits the goods verbatim plus one fresh surcharge line in a
// single draftOrderUpdate.
func (c Coordinator) applyDraft(ctx context.Context, snap surcharge.OrderSnapshot, cls surcharge.Classification, d surcharge.Decision) Outcome {
	items := make([]shopify.DraftLineItemInput, 0, len(cls.Goods)+1)
	for _, item := range cls.Goods {
		items = append(items, draftInput(item))
	}
	items = append(items, c.surchargeInput(d.Amount))

	updated, err := c.Remote.ReplaceLineItems(context.WithoutCancel(ctx), snap.ID, items)
	if err != nil {
		return Outcome{Err: err}
	}
	return Outcome{Applied: true, NewTotal: updated.Total}
}

func (c Coordinator) surchargeInput(amount surcharge.Money) shopify.DraftLineItemInput {
	price := shopify.MoneyInputFrom(amount)
	return shopify.DraftLineItemInput{
		Title:                         c.title(),
		Quantity:                      1,
		OriginalUnitPriceWithCurrency: &price,
		Taxable:                       boolPtr(false),
		RequiresShipping:              boolPtr(false),
		CustomAttributes:              []surcharge.Attribute{{Key: surcharge.MarkerKey, Value: surcharge.MarkerValue}},
	}
}

func draftInput(item surcharge.LineItem) shopify.DraftLineItemInput {
	in := shopify.DraftLineItemInput{
		Quantity:         item.Quantity,
		CustomAttributes: item.CustomAttributes,
	}
	if item.VariantID != "" && !item.Custom {
		in.VariantID = item.VariantID
	} else {
		price := shopify.MoneyInputFrom(item.UnitPrice)
		in.Title = item.Title
		in.OriginalUnitPriceWithCurrency = &price
		in.SKU = item.SKU
		in.Taxable = boolPtr(item.Taxable)
		in.RequiresShipping = boolPtr(item.RequiresShipping)
	}
	if ad := item.AppliedDiscount; ad != nil {
		in.AppliedDiscount = &shopify.AppliedDiscountInput{
			Title:       ad.Title,
			Description: ad.Description,
			Value:       ad.Value.InexactFloat64(),
			ValueType:   ad.ValueType,
		}
	}
	return in
}

// applyPlaced runs begin, optional stale removal, add and commit. Each call
// is issued on a context detached from caller cancellation so no request is
// abandoned mid-flight; the caller deadline is checked between steps. An
// uncommitted edit is left for Shopify to expire and is reported in Phases.
func (c Coordinator) applyPlaced(ctx context.Context, snap surcharge.OrderSnapshot, _ surcharge.Classification, d surcharge.Decision) Outcome {
	machine := newEditMachine()
	call := context.WithoutCancel(ctx)
	logger := c.Logger.With().Str("order_id", snap.ID).Logger()

	fail := func(err error) Outcome {
		return Outcome{Phases: machine.snapshot(), Err: err}
	}

	session, err := c.Remote.BeginEdit(call, snap.ID)
	if err != nil {
		return fail(err)
	}
	machine.phases.EditID = session.ID
	if err := machine.advance(PhaseEditCreated); err != nil {
		return fail(err)
	}

	if d.Kind == surcharge.KindReplace {
		removed := 0
		for _, staleID := range d.StaleIDs {
			if ctx.Err() != nil {
				return fail(fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err()))
			}
			line, ok := session.Find(staleID)
			if !ok || line.Quantity == 0 {
				machine.phases.StaleMissing++
				logger.Warn().Str("line_item_id", staleID).Msg("stale surcharge line missing from edit session")
				continue
			}
			if err := c.Remote.SetEditQuantity(call, session.ID, line.ID, 0); err != nil {
				return fail(err)
			}
			removed++
		}
		if removed > 0 {
			if err := machine.advance(PhaseStaleRemoved); err != nil {
				return fail(err)
			}
		}
	}

	if ctx.Err() != nil {
		return fail(fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err()))
	}
	if _, err := c.Remote.AddCustomItem(call, session.ID, c.title(), d.Amount, 1); err != nil {
		return fail(err)
	}
	if err := machine.advance(PhaseItemAdded); err != nil {
		return fail(err)
	}

	if ctx.Err() != nil {
		return fail(fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err()))
	}
	committed, err := c.Remote.CommitEdit(call, session.ID, c.StaffNote)
	if err != nil {
		return fail(err)
	}
	if err := machine.advance(PhaseCommitted); err != nil {
		return fail(err)
	}
	return Outcome{Applied: true, Phases: machine.snapshot(), NewTotal: committed.Total}
}

func boolPtr(v bool) *bool { return &v }
