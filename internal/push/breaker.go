package push

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/pushgate/pushgate/internal/provider/resilience"
)

// BreakerConfig configures a circuit-broken sender.
type BreakerConfig struct {
	// Name identifies the provider in logs and the health registry.
	Name string

	// CircuitBreaker overrides resilience.DefaultCircuitBreakerConfig.
	CircuitBreaker *resilience.CircuitBreakerConfig

	// Health, if set, tracks the breaker and call outcomes.
	Health *resilience.Registry

	Logger zerolog.Logger
}

// breakingSender fails fast while a provider keeps failing whole batches.
// Per-token rejections do not count against the provider.
type breakingSender struct {
	name   string
	next   Sender
	cb     *gobreaker.CircuitBreaker[[]Outcome]
	health *resilience.Registry
}

// WithBreaker wraps a sender in a circuit breaker.
func WithBreaker(next Sender, cfg BreakerConfig) Sender {
	cbCfg := resilience.DefaultCircuitBreakerConfig(cfg.Name)
	if cfg.CircuitBreaker != nil {
		cbCfg = *cfg.CircuitBreaker
	}
	if cbCfg.OnStateChange == nil {
		logger := cfg.Logger
		cbCfg.OnStateChange = func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("provider", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("push provider circuit state changed")
		}
	}

	cb := resilience.NewCircuitBreaker[[]Outcome](cbCfg)
	if cfg.Health != nil {
		cfg.Health.Register(cfg.Name, cb)
	}

	return &breakingSender{
		name:   cfg.Name,
		next:   next,
		cb:     cb,
		health: cfg.Health,
	}
}

func (s *breakingSender) SendBatch(ctx context.Context, tokens []string, msg Message) ([]Outcome, error) {
	outcomes, err := s.cb.Execute(func() ([]Outcome, error) {
		return s.next.SendBatch(ctx, tokens, msg)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %s", resilience.ErrCircuitOpen, s.name)
		}
		if s.health != nil {
			s.health.RecordFailure(s.name, err)
		}
		return nil, err
	}

	if s.health != nil {
		s.health.RecordSuccess(s.name)
	}
	return outcomes, nil
}
