package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ErrOpenCircuit is returned when the circuit breaker refuses a request.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State represents the current breaker state.
type State int

const (
	// Closed accepts all requests and tracks failures.
	Closed State = iota
	// Open rejects requests until the cool-off period expires.
	Open
	// HalfOpen lets a single probe through to test recovery.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// gauge is the value exported on the breaker_state metric.
func (s State) gauge() float64 {
	switch s {
	case Closed:
		return 0
	case Open:
		return 1
	case HalfOpen:
		return 2
	default:
		return -1
	}
}

// Counts is a snapshot of the outcomes seen since the last transition.
type Counts struct {
	Successes int
	Failures  int
}

func (c Counts) total() int { return c.Successes + c.Failures }

func (c Counts) failureRatio() float64 {
	if c.total() == 0 {
		return 0
	}
	return float64(c.Failures) / float64(c.total())
}

// halve keeps the ratio while bounding the counters.
func (c Counts) halve() Counts {
	return Counts{Successes: (c.Successes + 1) / 2, Failures: (c.Failures + 1) / 2}
}

// Breaker is a failure-ratio circuit breaker guarding one remote dependency.
// While half-open only one probe is in flight; other callers are refused
// until the probe is reported.
type Breaker struct {
	mu           sync.Mutex
	state        State
	counts       Counts
	minRequests  int
	failureRatio float64
	openFor      time.Duration
	openedAt     time.Time
	probing      bool
	target       string
	logger       *zerolog.Logger
	now          func() time.Time
}

// NewBreaker opens once minRequests outcomes have been seen and the share of
// failures reaches failureRatio. It stays open for openFor.
func NewBreaker(minRequests int, failureRatio float64, openFor time.Duration) *Breaker {
	if minRequests <= 0 {
		minRequests = 1
	}
	if failureRatio <= 0 {
		failureRatio = 0.5
	}
	if failureRatio > 1 {
		failureRatio = 1
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &Breaker{
		state:        Closed,
		minRequests:  minRequests,
		failureRatio: failureRatio,
		openFor:      openFor,
		now:          time.Now,
	}
}

// Allow reports whether a request may proceed.
func (b *Breaker) Allow(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if !b.cooledLocked() {
			return false
		}
		b.changeStateLocked(ctx, HalfOpen)
		b.probing = true
		return true
	case HalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

// Report records the outcome of a request allowed by Allow.
func (b *Breaker) Report(ctx context.Context, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		return
	case HalfOpen:
		b.probing = false
		if success {
			b.changeStateLocked(ctx, Closed)
		} else {
			b.changeStateLocked(ctx, Open)
		}
		return
	}

	if success {
		b.counts.Successes++
	} else {
		b.counts.Failures++
	}
	if b.counts.total() < b.minRequests {
		return
	}
	if b.counts.failureRatio() >= b.failureRatio {
		b.changeStateLocked(ctx, Open)
		return
	}
	if b.counts.total() > b.minRequests*2 {
		b.counts = b.counts.halve()
	}
}

// State returns the current breaker state. An open breaker whose cool-off
// has elapsed reports HalfOpen.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.cooledLocked() {
		return HalfOpen
	}
	return b.state
}

// Counts returns the outcomes recorded in the current closed period.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// WithTarget sets the dependency name used for metric labels and logs.
func (b *Breaker) WithTarget(target string) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.target = strings.TrimSpace(target)
	b.exportStateLocked()
	return b
}

// WithLogger configures the logger used for transition events.
func (b *Breaker) WithLogger(logger zerolog.Logger) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = &logger
	return b
}

// WithClock replaces the time source.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if now != nil {
		b.now = now
	}
	return b
}

func (b *Breaker) cooledLocked() bool {
	return b.now().Sub(b.openedAt) >= b.openFor
}

func (b *Breaker) changeStateLocked(ctx context.Context, next State) {
	prev := b.state
	if prev == next {
		b.exportStateLocked()
		return
	}
	b.state = next
	switch next {
	case Open:
		b.openedAt = b.now()
	case Closed:
		b.openedAt = time.Time{}
	}
	b.counts = Counts{}
	b.exportStateLocked()
	b.announce(ctx, prev, next)
}

func (b *Breaker) exportStateLocked() {
	if BreakerState == nil {
		return
	}
	BreakerState.WithLabelValues(b.label()).Set(b.state.gauge())
}

func (b *Breaker) announce(ctx context.Context, from, to State) {
	label := b.label()
	if BreakerTransitions != nil {
		BreakerTransitions.WithLabelValues(label, from.String(), to.String()).Inc()
	}
	if to == Open && BreakerOpenedTotal != nil {
		BreakerOpenedTotal.WithLabelValues(label).Inc()
	}

	logger := zerolog.Nop()
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		logger = *l
	} else if b.logger != nil {
		logger = *b.logger
	}
	evt := logger.Info()
	if to == Open {
		evt = logger.Warn()
	}
	evt = evt.Str("target", label).Str("from_state", from.String()).Str("to_state", to.String())
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		evt = evt.Str("trace_id", sc.TraceID().String())
	}
	evt.Msg("breaker_transition")
}

func (b *Breaker) label() string {
	if b.target == "" {
		return "default"
	}
	return b.target
}
