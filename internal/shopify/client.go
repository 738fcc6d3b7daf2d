package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/backend-recargo/internal/obs"
	"github.com/noah-isme/backend-recargo/internal/resilience"
)

// DefaultAPIVersion is the Admin API version requested when none is configured.
const DefaultAPIVersion = "2025-07"

const maxErrorBody = 2048

// Config configures the Admin GraphQL client.
type Config struct {
	StoreURL    string
	AccessToken string
	APIVersion  string
	// Endpoint overrides the URL derived from StoreURL and APIVersion.
	Endpoint string
	Timeout  time.Duration
	Breaker  *resilience.Breaker
	HTTP     *http.Client
	Logger   zerolog.Logger
}

// Client talks to the Shopify Admin GraphQL API.
type Client struct {
	endpoint string
	token    string
	http     resilience.HTTPClient
	logger   zerolog.Logger
}

// New validates cfg and builds a Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, errors.New("shopify: access token is required")
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		store := normaliseStore(cfg.StoreURL)
		if store == "" {
			return nil, errors.New("shopify: store url is required")
		}
		version := strings.TrimSpace(cfg.APIVersion)
		if version == "" {
			version = DefaultAPIVersion
		}
		endpoint = fmt.Sprintf("https://%s/admin/api/%s/graphql.json", store, version)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := cfg.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &Client{
		endpoint: endpoint,
		token:    cfg.AccessToken,
		http:     resilience.HTTPClient{Client: httpClient, Breaker: cfg.Breaker, Timeout: timeout},
		logger:   cfg.Logger.With().Str("component", "shopify").Logger(),
	}, nil
}

// Endpoint returns the GraphQL endpoint in use.
func (c *Client) Endpoint() string { return c.endpoint }

// Ping issues a trivial query, used by readiness checks.
func (c *Client) Ping(ctx context.Context) error {
	var out struct {
		Shop struct {
			Name string `json:"name"`
		} `json:"shop"`
	}
	return c.do(ctx, "shop", `query Ping { shop { name } }`, nil, &out)
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors"`
}

// do executes one GraphQL operation and decodes "data" into out.
func (c *Client) do(ctx context.Context, op, query string, vars map[string]any, out any) (err error) {
	ctx, span := otel.Tracer("shopify").Start(ctx, "shopify."+op)
	start := time.Now()
	defer func() {
		result := resultLabel(err)
		obs.ObserveRemoteCall(op, result, time.Since(start))
		span.SetAttributes(attribute.String("shopify.operation", op), attribute.String("shopify.result", result))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, result)
		}
		span.End()
		c.logger.Debug().Str("operation", op).Str("result", result).Dur("elapsed", time.Since(start)).Msg("shopify_call")
	}()

	body, err := json.Marshal(gqlRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("shopify %s: encode request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("shopify %s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.token)

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		if errors.Is(err, resilience.ErrOpenCircuit) {
			return fmt.Errorf("shopify %s: %w", op, err)
		}
		return &TransportError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &TransportError{Op: op, StatusCode: resp.StatusCode}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	var envelope gqlResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("shopify %s: decode response: %w", op, err)
	}
	if len(envelope.Errors) > 0 {
		return &GraphQLErrors{Op: op, Errors: envelope.Errors}
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("shopify %s: decode data: %w", op, err)
	}
	return nil
}

func userErrors(op string, errs []UserError) error {
	if len(errs) == 0 {
		return nil
	}
	return &UserErrors{Op: op, Errors: errs}
}

func normaliseStore(raw string) string {
	store := strings.TrimSpace(raw)
	store = strings.TrimPrefix(store, "https://")
	store = strings.TrimPrefix(store, "http://")
	return strings.TrimSuffix(store, "/")
}
