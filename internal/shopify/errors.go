package shopify

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when the requested order or draft order does not exist.
var ErrNotFound = errors.New("shopify: resource not found")

// TransportError is a network failure, timeout, 5xx or 429 response. It is
// the only error class the read retry wrapper repeats.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("shopify %s: transport status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("shopify %s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Transient marks the error as retryable.
func (e *TransportError) Transient() bool { return true }

// APIError is a non-retryable HTTP response such as 401 or 403.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("shopify %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// GraphQLError is one entry of the top-level "errors" array.
type GraphQLError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// GraphQLErrors is a response that carried top-level GraphQL errors.
type GraphQLErrors struct {
	Op     string
	Errors []GraphQLError
}

func (e *GraphQLErrors) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, ge := range e.Errors {
		msgs = append(msgs, ge.Message)
	}
	return fmt.Sprintf("shopify %s: graphql: %s", e.Op, strings.Join(msgs, "; "))
}

// UserError is a validation error returned in a mutation payload.
type UserError struct {
	Field   []string `json:"field,omitempty"`
	Message string   `json:"message"`
}

// UserErrors is a mutation rejected by Shopify. The messages are surfaced
// to the caller verbatim and never retried.
type UserErrors struct {
	Op     string
	Errors []UserError
}

func (e *UserErrors) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, ue := range e.Errors {
		if len(ue.Field) > 0 {
			msgs = append(msgs, strings.Join(ue.Field, ".")+": "+ue.Message)
			continue
		}
		msgs = append(msgs, ue.Message)
	}
	return fmt.Sprintf("shopify %s: %s", e.Op, strings.Join(msgs, "; "))
}

// AsUserErrors extracts user errors from err.
func AsUserErrors(err error) ([]UserError, bool) {
	var ue *UserErrors
	if errors.As(err, &ue) {
		return ue.Errors, true
	}
	return nil, false
}

// IsTransient reports whether err is a transport failure.
func IsTransient(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func resultLabel(err error) string {
	var (
		te *TransportError
		ge *GraphQLErrors
		ue *UserErrors
		ae *APIError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.As(err, &te):
		return "transport_error"
	case errors.As(err, &ge):
		return "graphql_error"
	case errors.As(err, &ue):
		return "user_error"
	case errors.As(err, &ae):
		return "api_error"
	default:
		return "error"
	}
}
