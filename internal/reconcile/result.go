package reconcile

import (
	"context"
	"errors"
	"net/http"

	"github.com/noah-isme/backend-recargo/internal/resilience"
	"github.com/noah-isme/backend-recargo/internal/shopify"
	"github.com/noah-isme/backend-recargo/internal/surcharge"
)

// Status is the terminal state of one reconciliation run.
type Status string

const (
	StatusApplied  Status = "applied"
	StatusSkipped  Status = "skipped"
	StatusRejected Status = "rejected"
	StatusFailed   Status = "failed"
	StatusPartial  Status = "partial"
	// StatusPlanned is only reported by previews.
	StatusPlanned Status = "planned"
)

// ErrorClass groups failures by how a caller should react to them.
type ErrorClass string

const (
	ClassNone            ErrorClass = ""
	ClassTransient       ErrorClass = "transient"
	ClassRemoteUserError ErrorClass = "remote_user_error"
	ClassIneligible      ErrorClass = "ineligible_state"
	ClassPartialMutation ErrorClass = "partial_mutation_failure"
	ClassNotFound        ErrorClass = "not_found"
	ClassInternal        ErrorClass = "internal"
)

// Result is returned to callers and recorded in the audit log. Money fields
// are rendered with two decimals.
type Result struct {
	Success       bool                `json:"success"`
	Status        Status              `json:"status"`
	OrderID       string              `json:"orderId"`
	OrderName     string              `json:"orderName,omitempty"`
	OrderKind     surcharge.OrderKind `json:"orderKind"`
	Decision      surcharge.Kind      `json:"decision,omitempty"`
	Currency      string              `json:"currency,omitempty"`
	Subtotal      string              `json:"subtotal"`
	RecargoAmount string              `json:"recargoAmount"`
	NewTotal      *string             `json:"newTotal,omitempty"`
	Phases        *Phases             `json:"phases,omitempty"`
	Reason        string              `json:"reason,omitempty"`
	ErrorClass    ErrorClass          `json:"errorClass,omitempty"`
	UserErrors    []shopify.UserError `json:"userErrors,omitempty"`
	Changed       bool                `json:"changed"`
	Err           error               `json:"-"`
}

// HTTPStatus maps the result to a response code.
func (r Result) HTTPStatus() int {
	switch r.Status {
	case StatusApplied, StatusSkipped:
		return http.StatusOK
	case StatusRejected:
		return http.StatusUnprocessableEntity
	case StatusPartial:
		return http.StatusConflict
	}
	switch r.ErrorClass {
	case ClassNotFound:
		return http.StatusNotFound
	case ClassRemoteUserError:
		return http.StatusUnprocessableEntity
	case ClassInternal:
		return http.StatusInternalServerError
	}
	return http.StatusBadGateway
}

// Retryable reports whether rerunning the same request may succeed.
func (r Result) Retryable() bool {
	return r.Status == StatusFailed && r.ErrorClass == ClassTransient
}

func newResult(snap surcharge.OrderSnapshot, d surcharge.Decision) Result {
	return Result{
		OrderID:       snap.ID,
		OrderName:     snap.Name,
		OrderKind:     snap.Kind,
		Decision:      d.Kind,
		Currency:      d.Subtotal.Currency,
		Subtotal:      d.Subtotal.String(),
		RecargoAmount: d.Amount.String(),
	}
}

func (r *Result) fail(err error) {
	r.Success = false
	r.Status = StatusFailed
	r.Err = err
	r.ErrorClass = classify(err)
	r.Reason = err.Error()
	if ue, ok := shopify.AsUserErrors(err); ok {
		r.UserErrors = ue
		if len(ue) > 0 {
			r.Reason = ue[0].Message
		}
	}
}

func classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, shopify.ErrNotFound):
		return ClassNotFound
	case errors.Is(err, ErrInterrupted), errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	case errors.Is(err, resilience.ErrOpenCircuit):
		return ClassTransient
	case shopify.IsTransient(err), resilience.IsTransient(err):
		return ClassTransient
	}
	if _, ok := shopify.AsUserErrors(err); ok {
		return ClassRemoteUserError
	}
	var ae *shopify.APIError
	var ge *shopify.GraphQLErrors
	if errors.As(err, &ae) || errors.As(err, &ge) {
		return ClassRemoteUserError
	}
	return ClassInternal
}
