package draftorder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/noah-isme/backend-recargo/internal/common"
	"github.com/noah-isme/backend-recargo/internal/shopify"
	"github.com/noah-isme/backend-recargo/internal/surcharge"
)

// DefaultDueInDays selects the NET 30 payment terms template.
const DefaultDueInDays = 30

const openDraftQuery = "status:open"

// Client is the subset of the Shopify Admin API used by the draft order tools.
type Client interface {
	ListDraftOrders(ctx context.Context, first int, query string) ([]shopify.DraftOrderSummary, error)
	FetchDraftOrder(ctx context.Context, id string) (surcharge.OrderSnapshot, error)
	PaymentTermsTemplates(ctx context.Context) ([]shopify.PaymentTermsTemplate, error)
	SetPaymentTerms(ctx context.Context, draftID, templateID string, issuedAt time.Time) error
	CompleteDraftOrder(ctx context.Context, draftID string) (shopify.CompletedDraftOrder, error)
}

// Service lists, inspects and completes draft orders.
type Service struct {
	Client    Client
	DueInDays int
	PageSize  int
	Now       func() time.Time
	Logger    zerolog.Logger
}

// Verification summarises a draft order for the POS extension.
type Verification struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Status         string `json:"status,omitempty"`
	Subtotal       string `json:"subtotal"`
	Currency       string `json:"currency"`
	LineItemsCount int    `json:"lineItemsCount"`
}

// Completion is the outcome of completing a draft order.
type Completion struct {
	shopify.CompletedDraftOrder
	PaymentTerms string `json:"paymentTerms,omitempty"`
}

// List returns open draft orders, most recently updated first.
func (s *Service) List(ctx context.Context) ([]shopify.DraftOrderSummary, error) {
	rows, err := s.Client.ListDraftOrders(ctx, s.PageSize, openDraftQuery)
	if err != nil {
		return nil, wrapRemote("list draft orders", err)
	}
	return rows, nil
}

// Get returns one draft order with its line items.
func (s *Service) Get(ctx context.Context, id string) (surcharge.OrderSnapshot, error) {
	id, err := normaliseID(id)
	if err != nil {
		return surcharge.OrderSnapshot{}, err
	}
	snap, err := s.Client.FetchDraftOrder(ctx, id)
	if err != nil {
		return surcharge.OrderSnapshot{}, wrapRemote("fetch draft order", err)
	}
	return snap, nil
}

// Verify confirms a draft order exists and reports its goods subtotal.
func (s *Service) Verify(ctx context.Context, id string) (Verification, error) {
	snap, err := s.Get(ctx, id)
	if err != nil {
		return Verification{}, err
	}
	subtotal := surcharge.Subtotal(snap.LineItems, snap.Currency)
	if snap.Subtotal != nil {
		subtotal = *snap.Subtotal
	}
	return Verification{
		ID:             snap.ID,
		Name:           snap.Name,
		Status:         snap.Status,
		Subtotal:       subtotal.String(),
		Currency:       snap.Currency,
		LineItemsCount: len(snap.LineItems),
	}, nil
}

// Complete applies NET payment terms when a matching template exists, then
// completes the draft order. Failing to set terms does not block completion.
func (s *Service) Complete(ctx context.Context, id string) (Completion, error) {
	ctx, span := otel.Tracer("draftorder").Start(ctx, "draftorder.complete")
	defer span.End()

	id, err := normaliseID(id)
	if err != nil {
		return Completion{}, err
	}
	logger := s.Logger.With().Str("draft_order_id", id).Logger()

	var out Completion
	if tpl, ok := s.findTemplate(ctx, logger); ok {
		if err := s.Client.SetPaymentTerms(ctx, id, tpl.ID, s.now()); err != nil {
			logger.Warn().Err(err).Str("template", tpl.Name).Msg("set payment terms failed, completing without terms")
		} else {
			out.PaymentTerms = tpl.Name
		}
	}

	done, err := s.Client.CompleteDraftOrder(ctx, id)
	if err != nil {
		return Completion{}, wrapRemote("complete draft order", err)
	}
	out.CompletedDraftOrder = done
	logger.Info().Str("order_id", done.OrderID).Str("payment_terms", out.PaymentTerms).Msg("draft order completed")
	return out, nil
}

func (s *Service) findTemplate(ctx context.Context, logger zerolog.Logger) (shopify.PaymentTermsTemplate, bool) {
	templates, err := s.Client.PaymentTermsTemplates(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("payment terms templates unavailable")
		return shopify.PaymentTermsTemplate{}, false
	}
	due := s.DueInDays
	if due <= 0 {
		due = DefaultDueInDays
	}
	for _, tpl := range templates {
		if tpl.PaymentTermsType == "NET" && tpl.DueInDays != nil && *tpl.DueInDays == due {
			return tpl, true
		}
	}
	logger.Info().Int("due_in_days", due).Msg("no matching payment terms template")
	return shopify.PaymentTermsTemplate{}, false
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// normaliseID accepts a numeric id or a DraftOrder global id.
func normaliseID(id string) (string, error) {
	gid := shopify.GID(shopify.ResourceDraftOrder, strings.TrimSpace(id))
	if !shopify.ValidGID(shopify.ResourceDraftOrder, gid) {
		return "", common.NewAppError("BAD_REQUEST", "invalid draft order id", http.StatusBadRequest, nil)
	}
	return gid, nil
}

func wrapRemote(action string, err error) error {
	switch {
	case errors.Is(err, shopify.ErrNotFound):
		return common.NewAppError("NOT_FOUND", "draft order not found", http.StatusNotFound, err)
	case shopify.IsTransient(err):
		return common.NewAppError("UPSTREAM_UNAVAILABLE", "shopify unavailable", http.StatusBadGateway, fmt.Errorf("%s: %w", action, err))
	}
	if ues, ok := shopify.AsUserErrors(err); ok && len(ues) > 0 {
		appErr := common.NewAppError("SHOPIFY_USER_ERROR", ues[0].Message, http.StatusUnprocessableEntity, err)
		appErr.Details = ues
		return appErr
	}
	return common.NewAppError("UPSTREAM_ERROR", fmt.Sprintf("%s: %v", action, err), http.StatusBadGateway, err)
}
