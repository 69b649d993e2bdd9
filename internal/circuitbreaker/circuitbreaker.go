// Package circuitbreaker stops dispatching to a push provider that keeps failing.
//
// The breaker learns from dispatch outcomes rather than raw errors: a rejected
// device token means the provider answered, so only provider-side reasons
// (unavailable, throttled, auth, invalid_request, unknown) extend the failure streak.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/zenpush/internal/metrics"
	"github.com/lalithlochan/zenpush/internal/worker"
)

// State is closed (sends pass), open (sends fail fast) or half-open (one probe in flight).
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// ErrCircuitOpen is returned when a send is rejected without reaching the provider.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type Config struct {
	Name            string        // transport name ("sns", "fcm")
	MaxFailures     int           // consecutive provider faults before opening
	RecoveryTimeout time.Duration // open duration before a probe is let through
}

// Breaker tracks the health of one push provider.
type Breaker struct {
	mu     sync.Mutex
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	state      State
	streak     int
	openedAt   time.Time
	lastReason worker.Reason

	delivered int64
	rejected  int64
	faults    map[worker.Reason]int64
}

func New(cfg Config, logger *zap.Logger) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	metrics.SetBreakerOpen(cfg.Name, false)

	return &Breaker{
		cfg:    cfg,
		logger: logger.With(zap.String("breaker", cfg.Name)),
		now:    time.Now,
		state:  StateClosed,
		faults: make(map[worker.Reason]int64),
	}
}

// Allow reports whether a send may go to the provider now. Once the recovery
// timeout has passed an open breaker admits exactly one probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.RecoveryTimeout {
			b.setState(StateHalfOpen)
			return true
		}
	}
	b.rejected++
	return false
}

// Observe records the outcome of a send that Allow admitted.
func (b *Breaker) Observe(err error) {
	reason, fault := providerFault(err)

	b.mu.Lock()
	defer b.mu.Unlock()

	if !fault {
		if err == nil {
			b.delivered++
		}
		b.streak = 0
		if b.state == StateHalfOpen {
			b.setState(StateClosed)
		}
		return
	}

	b.faults[reason]++
	b.streak++
	b.lastReason = reason

	if b.state == StateHalfOpen || b.streak >= b.cfg.MaxFailures {
		b.setState(StateOpen)
	}
}

// providerFault classifies a send outcome. A bad device token is the
// recipient's problem, not the provider's.
func providerFault(err error) (worker.Reason, bool) {
	if err == nil {
		return "", false
	}
	reason := worker.ReasonOf(err)
	return reason, reason != worker.ReasonInvalidToken
}

// setState must be called with b.mu held.
func (b *Breaker) setState(s State) {
	if b.state == s {
		return
	}
	from := b.state
	b.state = s
	metrics.SetBreakerOpen(b.cfg.Name, s == StateOpen)

	switch s {
	case StateOpen:
		b.openedAt = b.now()
		b.logger.Warn("push provider circuit opened",
			zap.String("from", string(from)),
			zap.Int("consecutive_failures", b.streak),
			zap.String("last_reason", string(b.lastReason)),
			zap.Duration("retry_in", b.cfg.RecoveryTimeout),
		)
	case StateHalfOpen:
		b.logger.Info("push provider circuit probing")
	case StateClosed:
		b.logger.Info("push provider circuit closed, provider recovered")
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Name() string {
	return b.cfg.Name
}

// Stats is served on /health.
type Stats struct {
	Name                string                  `json:"name"`
	State               State                   `json:"state"`
	ConsecutiveFailures int                     `json:"consecutive_failures"`
	Threshold           int                     `json:"threshold"`
	Delivered           int64                   `json:"delivered"`
	Rejected            int64                   `json:"rejected"`
	Faults              map[worker.Reason]int64 `json:"faults,omitempty"`
	LastFaultReason     worker.Reason           `json:"last_fault_reason,omitempty"`
	OpenedAt            *time.Time              `json:"opened_at,omitempty"`
}

func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{
		Name:                b.cfg.Name,
		State:               b.state,
		ConsecutiveFailures: b.streak,
		Threshold:           b.cfg.MaxFailures,
		Delivered:           b.delivered,
		Rejected:            b.rejected,
		LastFaultReason:     b.lastReason,
	}
	if len(b.faults) > 0 {
		s.Faults = make(map[worker.Reason]int64, len(b.faults))
		for r, n := range b.faults {
			s.Faults[r] = n
		}
	}
	if b.state != StateClosed {
		t := b.openedAt
		s.OpenedAt = &t
	}
	return s
}
