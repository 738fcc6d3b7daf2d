package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Entry is one persisted reconciliation result.
type Entry struct {
	ID            uuid.UUID        `json:"id"`
	OrderID       string           `json:"orderId"`
	OrderName     string           `json:"orderName,omitempty"`
	OrderKind     string           `json:"orderKind"`
	Status        string           `json:"status"`
	Decision      string           `json:"decision,omitempty"`
	Currency      string           `json:"currency,omitempty"`
	Subtotal      decimal.Decimal  `json:"subtotal"`
	RecargoAmount decimal.Decimal  `json:"recargoAmount"`
	NewTotal      *decimal.Decimal `json:"newTotal,omitempty"`
	Phases        json.RawMessage  `json:"phases,omitempty"`
	UserErrors    json.RawMessage  `json:"userErrors,omitempty"`
	ErrorClass    string           `json:"errorClass,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// Filter narrows a listing.
type Filter struct {
	Status  string
	OrderID string
	Limit   int
	Offset  int
}

// Store persists and lists reconciliation entries.
type Store interface {
	InsertReconciliation(ctx context.Context, e Entry) error
	ListReconciliations(ctx context.Context, f Filter) ([]Entry, error)
}

// PGStore is the Postgres implementation of Store.
type PGStore struct {
	Pool *pgxpool.Pool
}

const insertReconciliationSQL = `INSERT INTO recargo_reconciliations
  (id, order_id, order_name, order_kind, status, decision, currency, subtotal, recargo_amount, new_total, phases, user_errors, error_class, reason, created_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10, $11, $12, NULLIF($13, ''), NULLIF($14, ''), $15)`

const listReconciliationsSQL = `SELECT id, order_id, COALESCE(order_name, ''), order_kind, status, COALESCE(decision, ''),
  COALESCE(currency, ''), subtotal, recargo_amount, new_total, phases, user_errors, COALESCE(error_class, ''), COALESCE(reason, ''), created_at
FROM recargo_reconciliations
WHERE ($1 = '' OR status = $1) AND ($2 = '' OR order_id = $2)
ORDER BY created_at DESC
LIMIT $3 OFFSET $4`

// InsertReconciliation stores e.
func (s PGStore) InsertReconciliation(ctx context.Context, e Entry) error {
	_, err := s.Pool.Exec(ctx, insertReconciliationSQL,
		e.ID, e.OrderID, e.OrderName, e.OrderKind, e.Status, e.Decision, e.Currency,
		e.Subtotal, e.RecargoAmount, e.NewTotal, nullJSON(e.Phases), nullJSON(e.UserErrors),
		e.ErrorClass, e.Reason, e.CreatedAt)
	return err
}

// ListReconciliations returns entries newest first.
func (s PGStore) ListReconciliations(ctx context.Context, f Filter) ([]Entry, error) {
	rows, err := s.Pool.Query(ctx, listReconciliationsSQL, f.Status, f.OrderID, f.Limit, f.Offset)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var e Entry
		var phases, userErrors []byte
		err := row.Scan(&e.ID, &e.OrderID, &e.OrderName, &e.OrderKind, &e.Status, &e.Decision,
			&e.Currency, &e.Subtotal, &e.RecargoAmount, &e.NewTotal, &phases, &userErrors,
			&e.ErrorClass, &e.Reason, &e.CreatedAt)
		e.Phases = phases
		e.UserErrors = userErrors
		return e, err
	})
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
