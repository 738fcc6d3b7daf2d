package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-recargo/internal/reconcile"
)

// Service records reconciliation results that changed, or tried to change,
// an order. Skips are not stored.
type Service struct {
	Store   Store
	Enabled bool
	Now     func() time.Time
	Logger  zerolog.Logger
}

// Record persists res when auditing is enabled.
func (s Service) Record(ctx context.Context, res reconcile.Result) error {
	if !s.Enabled || res.Status == reconcile.StatusSkipped {
		return nil
	}
	if s.Store == nil {
		return errors.New("audit: store not configured")
	}
	entry, err := s.entryFor(res)
	if err != nil {
		return err
	}
	return s.Store.InsertReconciliation(ctx, entry)
}

func (s Service) entryFor(res reconcile.Result) (Entry, error) {
	entry := Entry{
		ID:            uuid.New(),
		OrderID:       res.OrderID,
		OrderName:     res.OrderName,
		OrderKind:     string(res.OrderKind),
		Status:        string(res.Status),
		Decision:      string(res.Decision),
		Currency:      res.Currency,
		Subtotal:      parseAmount(res.Subtotal),
		RecargoAmount: parseAmount(res.RecargoAmount),
		ErrorClass:    string(res.ErrorClass),
		Reason:        res.Reason,
		CreatedAt:     s.now(),
	}
	if res.NewTotal != nil {
		total := parseAmount(*res.NewTotal)
		entry.NewTotal = &total
	}
	if res.Phases != nil {
		data, err := json.Marshal(res.Phases)
		if err != nil {
			return Entry{}, err
		}
		entry.Phases = data
	}
	if len(res.UserErrors) > 0 {
		data, err := json.Marshal(res.UserErrors)
		if err != nil {
			return Entry{}, err
		}
		entry.UserErrors = data
	}
	return entry, nil
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func parseAmount(v string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero
	}
	return d
}
