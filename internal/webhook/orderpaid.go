package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-recargo/internal/common"
	"github.com/noah-isme/backend-recargo/internal/obs"
	"github.com/noah-isme/backend-recargo/internal/shopify"
)

// TopicOrdersPaid is the only webhook topic acted upon.
const TopicOrdersPaid = "orders/paid"

// Reasons returned when a webhook is acknowledged without processing.
const (
	ReasonNotEligible    = "customer not eligible"
	ReasonMalformed      = "malformed payload"
	ReasonDuplicate      = "duplicate delivery"
	ReasonUnsupported    = "unsupported topic"
	ReasonMissingOrderID = "missing order id"
)

// Verifier validates a webhook signature over the raw body.
type Verifier interface {
	Verify(payload []byte, signature string) bool
}

// Trigger starts reconciliation for an eligible placed order and returns a
// short status. An error means the delivery should be retried by Shopify.
type Trigger interface {
	TriggerOrder(ctx context.Context, orderID string) (string, error)
}

// ReplayStore remembers delivered webhook ids.
type ReplayStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// OrderPaid handles the orders/paid webhook.
type OrderPaid struct {
	Verifier    Verifier
	Trigger     Trigger
	Replay      ReplayStore
	ReplayTTL   time.Duration
	EligibleTag string
	MaxBody     int64
	Logger      zerolog.Logger
}

type orderPayload struct {
	ID                json.Number `json:"id"`
	AdminGraphQLAPIID string      `json:"admin_graphql_api_id"`
	Name              string      `json:"name"`
	Customer          *struct {
		ID   json.Number `json:"id"`
		Tags string      `json:"tags"`
	} `json:"customer"`
}

// Response is the body returned to Shopify.
type Response struct {
	Processed bool   `json:"processed"`
	OrderID   string `json:"orderId,omitempty"`
	Status    string `json:"status,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func (h OrderPaid) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	topic := strings.TrimSpace(r.Header.Get(shopify.HeaderTopic))
	if topic == "" {
		topic = TopicOrdersPaid
	}
	logger := h.Logger.With().
		Str("topic", topic).
		Str("shop", r.Header.Get(shopify.HeaderShop)).
		Str("webhook_id", r.Header.Get(shopify.HeaderWebhookID)).
		Logger()

	if h.Verifier == nil || h.Trigger == nil {
		common.JSONError(w, http.StatusInternalServerError, "WEBHOOK_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	body, err := h.readBody(r)
	if err != nil {
		obs.IncCounter(obs.WebhookTotal, topic, "invalid_body")
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	if !h.Verifier.Verify(body, r.Header.Get(shopify.HeaderHMAC)) {
		obs.IncCounter(obs.WebhookTotal, topic, "invalid_signature")
		logger.Warn().Msg("webhook signature rejected")
		common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
		return
	}
	if topic != TopicOrdersPaid {
		h.ack(w, topic, Response{Reason: ReasonUnsupported})
		return
	}

	var payload orderPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		logger.Warn().Err(err).Msg("webhook payload malformed")
		h.ack(w, topic, Response{Reason: ReasonMalformed})
		return
	}
	orderID := payload.orderGID()
	if orderID == "" {
		h.ack(w, topic, Response{Reason: ReasonMissingOrderID})
		return
	}
	logger = logger.With().Str("order_id", orderID).Logger()

	tags := ""
	if payload.Customer != nil {
		tags = payload.Customer.Tags
	}
	if !HasTag(tags, h.eligibleTag()) {
		logger.Debug().Str("tags", tags).Msg("order skipped, customer not eligible")
		h.ack(w, topic, Response{OrderID: orderID, Reason: ReasonNotEligible})
		return
	}

	replayKey := ""
	if h.Replay != nil && h.ReplayTTL > 0 {
		replayKey = "wh:shopify:" + replayID(r, body)
		fresh, err := h.Replay.SetNX(r.Context(), replayKey, "1", h.ReplayTTL).Result()
		if err != nil {
			common.JSONError(w, http.StatusInternalServerError, "REPLAY_STORE_ERROR", err.Error(), nil)
			return
		}
		if !fresh {
			h.ack(w, topic, Response{OrderID: orderID, Reason: ReasonDuplicate})
			return
		}
	}

	status, err := h.Trigger.TriggerOrder(r.Context(), orderID)
	if err != nil {
		logger.Error().Err(err).Msg("webhook reconciliation failed, asking for redelivery")
		obs.IncCounter(obs.WebhookTotal, topic, "retry")
		if replayKey != "" {
			_ = h.Replay.Del(context.WithoutCancel(r.Context()), replayKey).Err()
		}
		common.JSONError(w, http.StatusServiceUnavailable, "RECONCILE_UNAVAILABLE", "reconciliation temporarily unavailable", nil)
		return
	}
	logger.Info().Str("status", status).Msg("webhook processed")
	obs.IncCounter(obs.WebhookTotal, topic, "processed")
	common.JSON(w, http.StatusOK, Response{Processed: true, OrderID: orderID, Status: status})
}

func (h OrderPaid) ack(w http.ResponseWriter, topic string, resp Response) {
	obs.IncCounter(obs.WebhookTotal, topic, "ignored")
	common.JSON(w, http.StatusOK, resp)
}

func (h OrderPaid) readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, errors.New("webhook: empty body")
	}
	reader := io.Reader(r.Body)
	if h.MaxBody > 0 {
		reader = io.LimitReader(r.Body, h.MaxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if h.MaxBody > 0 && int64(len(body)) > h.MaxBody {
		return nil, errors.New("webhook: body too large")
	}
	return body, nil
}

func (h OrderPaid) eligibleTag() string {
	if tag := strings.TrimSpace(h.EligibleTag); tag != "" {
		return tag
	}
	return "RE"
}

func (p orderPayload) orderGID() string {
	if shopify.ValidGID(shopify.ResourceOrder, p.AdminGraphQLAPIID) {
		return p.AdminGraphQLAPIID
	}
	id := p.ID.String()
	if id == "" {
		return ""
	}
	gid := shopify.GID(shopify.ResourceOrder, id)
	if !shopify.ValidGID(shopify.ResourceOrder, gid) {
		return ""
	}
	return gid
}

// HasTag reports whether the comma separated tag list contains tag,
// ignoring case and surrounding spaces.
func HasTag(tags, tag string) bool {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return false
	}
	for _, t := range strings.Split(tags, ",") {
		if strings.EqualFold(strings.TrimSpace(t), tag) {
			return true
		}
	}
	return false
}

func replayID(r *http.Request, body []byte) string {
	if id := strings.TrimSpace(r.Header.Get(shopify.HeaderWebhookID)); id != "" {
		return id
	}
	return common.Sha256Hex(string(body))
}
