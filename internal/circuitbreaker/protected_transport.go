package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/zenpush/internal/worker"
)

// ProtectedTransport wraps a push transport with a Breaker so a dead
// provider fails each send fast instead of holding it for the full timeout.
// Rejected sends surface as circuit_open and the job is marked failed.
type ProtectedTransport struct {
	transport worker.Transport
	breaker   *Breaker
	logger    *zap.Logger
}

func NewProtectedTransport(transport worker.Transport, breaker *Breaker, logger *zap.Logger) *ProtectedTransport {
	return &ProtectedTransport{
		transport: transport,
		breaker:   breaker,
		logger:    logger,
	}
}

func (p *ProtectedTransport) Send(ctx context.Context, msg worker.PushMessage) (string, error) {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit open, failing send fast",
			zap.String("breaker", p.breaker.Name()),
			zap.String("type", msg.Data["type"]),
		)
		return "", &worker.TransportError{
			Reason: worker.ReasonCircuitOpen,
			Err:    fmt.Errorf("%w: %s transport unavailable", ErrCircuitOpen, p.breaker.Name()),
		}
	}

	id, err := p.transport.Send(ctx, msg)
	p.breaker.Observe(err)
	return id, err
}

func (p *ProtectedTransport) Name() string {
	return p.transport.Name()
}

// Breaker returns the underlying breaker for /health.
func (p *ProtectedTransport) Breaker() *Breaker {
	return p.breaker
}
