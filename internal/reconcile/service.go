package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/backend-recargo/internal/obs"
	"github.com/noah-isme/backend-recargo/internal/resilience"
	"github.com/noah-isme/backend-recargo/internal/shopify"
	"github.com/noah-isme/backend-recargo/internal/surcharge"
)

// Locker grants exclusive access to a key for the duration of fn.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Recorder persists reconciliation results.
type Recorder interface {
	Record(ctx context.Context, res Result) error
}

// Publisher announces reconciliation results to other systems.
type Publisher interface {
	Publish(ctx context.Context, res Result) error
}

// ErrInvalidKind is returned for order kinds other than draft and placed.
var ErrInvalidKind = errors.New("reconcile: unknown order kind")

// Service runs the fetch, decide and apply pipeline for one order at a time.
type Service struct {
	Remote      Remote
	Engine      surcharge.Engine
	Coordinator Coordinator
	ReadPolicy  resilience.RetryPolicy
	Locker      Locker
	LockTTL     time.Duration
	Timeout     time.Duration
	Recorder    Recorder
	Publisher   Publisher
	Logger      zerolog.Logger
}

// Preview is a decision together with the calls that would realise it.
type Preview struct {
	Result Result `json:"result"`
	Plan   Plan   `json:"plan"`
}

// Reconcile brings the order to exactly one correct surcharge line. It never
// panics on remote failures; every outcome is reported in the Result.
func (s *Service) Reconcile(ctx context.Context, kind surcharge.OrderKind, id string) Result {
	ctx, span := otel.Tracer("reconcile").Start(ctx, "reconcile.order")
	defer span.End()

	if !kind.Valid() {
		res := emptyResult(kind, id)
		res.fail(fmt.Errorf("%w: %q", ErrInvalidKind, kind))
		return res
	}
	gid := orderGID(kind, id)
	span.SetAttributes(attribute.String("order.id", gid), attribute.String("order.kind", string(kind)))

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	var res Result
	run := func(ctx context.Context) error {
		res = s.run(ctx, kind, gid)
		return nil
	}
	if s.Locker != nil {
		if err := s.Locker.WithLock(ctx, lockKey(gid), s.lockTTL(), run); err != nil {
			res = emptyResult(kind, gid)
			res.fail(fmt.Errorf("reconcile: acquire lock: %w", err))
		}
	} else {
		_ = run(ctx)
	}

	if !res.Success {
		span.SetStatus(codes.Error, res.Reason)
	}
	span.SetAttributes(attribute.String("reconcile.status", string(res.Status)))
	s.finish(ctx, res)
	return res
}

// Preview computes the decision and plan without mutating the order.
func (s *Service) Preview(ctx context.Context, kind surcharge.OrderKind, id string) (Preview, error) {
	if !kind.Valid() {
		return Preview{}, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	snap, err := s.fetch(ctx, kind, orderGID(kind, id))
	if err != nil {
		return Preview{}, err
	}
	cls := surcharge.Classify(snap.LineItems)
	d := s.Engine.Decide(cls.Goods, cls.Surcharges, snap.Mutable)
	res := newResult(snap, d)
	res.Status = statusForDecision(d)
	res.Success = d.Kind != surcharge.KindReject
	res.Reason = d.Reason
	if d.Kind == surcharge.KindReject {
		res.ErrorClass = ClassIneligible
	}
	return Preview{Result: res, Plan: BuildPlan(snap, cls, d, s.Coordinator.title())}, nil
}

// TriggerOrder reconciles a placed order synchronously and reports the
// resulting status. Only transient failures are returned as errors.
func (s *Service) TriggerOrder(ctx context.Context, orderID string) (string, error) {
	res := s.Reconcile(ctx, surcharge.OrderPlaced, orderID)
	if res.Retryable() {
		return string(res.Status), res.Err
	}
	return string(res.Status), nil
}

func (s *Service) run(ctx context.Context, kind surcharge.OrderKind, gid string) Result {
	snap, err := s.fetch(ctx, kind, gid)
	if err != nil {
		res := emptyResult(kind, gid)
		res.fail(err)
		return res
	}

	cls := surcharge.Classify(snap.LineItems)
	d := s.Engine.Decide(cls.Goods, cls.Surcharges, snap.Mutable)
	res := newResult(snap, d)

	switch d.Kind {
	case surcharge.KindReject:
		res.Status = StatusRejected
		res.Reason = d.Reason
		res.ErrorClass = ClassIneligible
		return res
	case surcharge.KindSkip:
		res.Success = true
		res.Status = StatusSkipped
		res.NewTotal = moneyString(snap.Total)
		return res
	}

	outcome := s.Coordinator.Apply(ctx, snap, cls, d)
	res.Phases = outcome.Phases
	if outcome.Err != nil {
		res.fail(outcome.Err)
		if outcome.Phases != nil && outcome.Phases.Partial() {
			res.Status = StatusPartial
			res.ErrorClass = ClassPartialMutation
			res.Changed = true
		}
		return res
	}
	res.Success = true
	res.Status = StatusApplied
	res.Changed = true
	res.NewTotal = moneyString(outcome.NewTotal)
	return res
}

func (s *Service) fetch(ctx context.Context, kind surcharge.OrderKind, gid string) (surcharge.OrderSnapshot, error) {
	policy := s.ReadPolicy
	if policy.MaxAttempts == 0 {
		policy = resilience.DefaultReadPolicy()
	}
	if policy.OnRetry == nil {
		policy.OnRetry = func(attempt int, err error) {
			s.Logger.Warn().Err(err).Str("order_id", gid).Int("attempt", attempt).Msg("order read failed, retrying")
		}
	}
	return resilience.Retry(ctx, policy, func(ctx context.Context) (surcharge.OrderSnapshot, error) {
		if kind == surcharge.OrderDraft {
			return s.Remote.FetchDraftOrder(ctx, gid)
		}
		return s.Remote.FetchOrder(ctx, gid)
	})
}

func (s *Service) finish(ctx context.Context, res Result) {
	obs.IncCounter(obs.ReconciliationsTotal, string(res.OrderKind), string(res.Status))
	if res.Status == StatusPartial && res.Phases != nil {
		obs.IncCounter(obs.PartialMutationsTotal, string(res.Phases.Last()))
	}

	evt := s.Logger.Info()
	switch res.Status {
	case StatusFailed:
		evt = s.Logger.Error().Err(res.Err)
	case StatusPartial:
		evt = s.Logger.Error().Err(res.Err).Interface("phases", res.Phases)
	case StatusRejected:
		evt = s.Logger.Warn()
	}
	if res.Phases != nil && res.Phases.StaleMissing > 0 {
		evt = evt.Int("stale_missing", res.Phases.StaleMissing)
	}
	evt.Str("order_id", res.OrderID).
		Str("order_kind", string(res.OrderKind)).
		Str("status", string(res.Status)).
		Str("decision", string(res.Decision)).
		Str("subtotal", res.Subtotal).
		Str("recargo_amount", res.RecargoAmount).
		Str("reason", res.Reason).
		Msg("recargo_reconciled")

	// Bookkeeping outlives the caller deadline.
	bg := context.WithoutCancel(ctx)
	if s.Recorder != nil {
		if err := s.Recorder.Record(bg, res); err != nil {
			s.Logger.Warn().Err(err).Str("order_id", res.OrderID).Msg("record reconciliation failed")
		}
	}
	if s.Publisher != nil {
		if err := s.Publisher.Publish(bg, res); err != nil {
			s.Logger.Warn().Err(err).Str("order_id", res.OrderID).Msg("publish reconciliation failed")
		}
	}
}

func (s *Service) lockTTL() time.Duration {
	if s.LockTTL <= 0 {
		return time.Minute
	}
	return s.LockTTL
}

func lockKey(gid string) string { return "lock:recargo:" + gid }

func orderGID(kind surcharge.OrderKind, id string) string {
	id = strings.TrimSpace(id)
	if kind == surcharge.OrderDraft {
		return shopify.GID(shopify.ResourceDraftOrder, id)
	}
	return shopify.GID(shopify.ResourceOrder, id)
}

func emptyResult(kind surcharge.OrderKind, id string) Result {
	return Result{OrderID: id, OrderKind: kind, Subtotal: "0.00", RecargoAmount: "0.00"}
}

func statusForDecision(d surcharge.Decision) Status {
	switch d.Kind {
	case surcharge.KindSkip:
		return StatusSkipped
	case surcharge.KindReject:
		return StatusRejected
	}
	return StatusPlanned
}

func moneyString(m *surcharge.Money) *string {
	if m == nil {
		return nil
	}
	s := m.String()
	return &s
}
